package pyth

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	httpclient "github.com/wijnaldum-eth/price-dashboard-ml/pkg/http"
	applogger "github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"
)

// Client streams live quotes from the Pyth Hermes WebSocket and serves
// point lookups over its REST API. Implements both QuoteStream and
// PriceFeed.
type Client struct {
	streamURL      string
	hermesURL      string
	feedIDs        map[string]string // asset id -> feed id
	assetByFeed    map[string]string // feed id -> asset id
	reconnectDelay time.Duration
	pingInterval   time.Duration

	http *httpclient.Client
	l    *applogger.Logger

	conn      *websocket.Conn
	connected bool
}

// New creates a Pyth client for the configured assets.
func New(streamURL, hermesURL string, feedIDs map[string]string, reconnectDelay, pingInterval time.Duration, l *applogger.Logger) *Client {
	if l == nil {
		l = applogger.Nop()
	}
	assetByFeed := make(map[string]string, len(feedIDs))
	for asset, feed := range feedIDs {
		assetByFeed[normalizeFeedID(feed)] = asset
	}
	return &Client{
		streamURL:      streamURL,
		hermesURL:      strings.TrimRight(hermesURL, "/"),
		feedIDs:        feedIDs,
		assetByFeed:    assetByFeed,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		http:           httpclient.NewClient(httpclient.WithTimeout(15 * time.Second)),
		l:              l,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.streamURL, nil)
	if err != nil {
		return fmt.Errorf("pyth connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	c.l.Info("pyth stream connected", applogger.String("url", c.streamURL))
	return nil
}

// Subscribe subscribes to all configured price feeds.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("pyth not connected")
	}
	ids := make([]string, 0, len(c.feedIDs))
	for _, feed := range c.feedIDs {
		ids = append(ids, feed)
	}
	msg := map[string]any{"type": "subscribe", "ids": ids}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("pyth subscribe: %w", err)
	}
	c.l.Info("pyth feeds subscribed", applogger.Int("feeds", len(ids)))
	return nil
}

// pythPrice carries a fixed-point integer price with a decimal exponent.
type pythPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int    `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

func (p pythPrice) Float() float64 {
	v, err := strconv.ParseFloat(p.Price, 64)
	if err != nil {
		return 0
	}
	return v * math.Pow10(p.Expo)
}

type pythFeed struct {
	ID       string    `json:"id"`
	Price    pythPrice `json:"price"`
	EMAPrice pythPrice `json:"ema_price"`
}

type pythStreamMessage struct {
	Type      string   `json:"type"`
	PriceFeed pythFeed `json:"price_feed"`
}

// Read streams quotes and errors until the context is cancelled.
func (c *Client) Read(ctx context.Context) (<-chan *models.Quote, <-chan error) {
	quotes := make(chan *models.Quote, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(quotes)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errs <- fmt.Errorf("pyth conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("pyth read: %w", err)
					return
				}
				var m pythStreamMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-update frames
					continue
				}
				if m.Type != "price_update" {
					continue
				}
				q := c.toQuote(m.PriceFeed)
				if q == nil {
					continue
				}
				select {
				case quotes <- q:
				default:
					// drop on backpressure
				}
			}
		}
	}()

	return quotes, errs
}

// Reconnect closes and reconnects after the configured delay.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) IsConnected() bool { return c.connected }

type hermesLatestResponse struct {
	Parsed []pythFeed `json:"parsed"`
}

// CurrentPrice fetches the latest published price over REST.
func (c *Client) CurrentPrice(ctx context.Context, assetID string) (*models.Quote, error) {
	feedID, ok := c.feedIDs[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: no price feed for %s", models.ErrNotFound, assetID)
	}

	var resp hermesLatestResponse
	err := c.http.SendAndParse(ctx, &httpclient.RequestOptions{
		Method: httpclient.MethodGet,
		URL:    c.hermesURL + "/v2/updates/price/latest",
		QueryParams: map[string][]string{
			"ids[]":  {feedID},
			"parsed": {"true"},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("pyth latest price: %w", err)
	}
	if len(resp.Parsed) == 0 {
		return nil, fmt.Errorf("%w: empty hermes response for %s", models.ErrNotFound, assetID)
	}

	q := c.toQuote(resp.Parsed[0])
	if q == nil || q.Price <= 0 {
		return nil, fmt.Errorf("pyth latest price: unusable update for %s", assetID)
	}
	return q, nil
}

func (c *Client) toQuote(feed pythFeed) *models.Quote {
	asset, ok := c.assetByFeed[normalizeFeedID(feed.ID)]
	if !ok {
		return nil
	}
	asOf := time.Unix(feed.Price.PublishTime, 0).UTC()
	if feed.Price.PublishTime == 0 {
		asOf = time.Now().UTC()
	}
	return &models.Quote{
		AssetID:  asset,
		Price:    feed.Price.Float(),
		EMAPrice: feed.EMAPrice.Float(),
		AsOf:     asOf,
	}
}

// normalizeFeedID strips the optional 0x prefix; Hermes echoes ids
// without it.
func normalizeFeedID(id string) string {
	return strings.TrimPrefix(strings.ToLower(id), "0x")
}
