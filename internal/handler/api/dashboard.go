package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	domrepo "github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/repository"
	"github.com/wijnaldum-eth/price-dashboard-ml/internal/usecase"
	xhttp "github.com/wijnaldum-eth/price-dashboard-ml/pkg/http"
	xlogger "github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/queue"
)

// DashboardHandler exposes the model lifecycle over Echo.
type DashboardHandler struct {
	logger     *xlogger.Logger
	orch       *usecase.Orchestrator
	monitor    *usecase.ModelMonitor
	exporter   *usecase.Exporter
	backfiller *usecase.Backfiller
	prices     domrepo.PriceStore
	registry   domrepo.ModelRegistry
	jobs       queue.QueueService
}

func NewDashboardHandler(
	logger *xlogger.Logger,
	orch *usecase.Orchestrator,
	monitor *usecase.ModelMonitor,
	exporter *usecase.Exporter,
	backfiller *usecase.Backfiller,
	prices domrepo.PriceStore,
	registry domrepo.ModelRegistry,
) *DashboardHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &DashboardHandler{
		logger:     logger,
		orch:       orch,
		monitor:    monitor,
		exporter:   exporter,
		backfiller: backfiller,
		prices:     prices,
		registry:   registry,
	}
}

// SetJobQueue enables asynchronous retraining through the job queue.
func (h *DashboardHandler) SetJobQueue(q queue.QueueService) { h.jobs = q }

func (h *DashboardHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/forecast", h.Forecast)
	g.GET("/history", h.History)
	g.GET("/stats", h.Stats)
	g.GET("/models", h.Models)
	g.POST("/models/:version/rollback", h.Rollback)
	g.POST("/models/retrain", h.Retrain)
	g.GET("/health-report", h.HealthReport)
	g.GET("/export/registry", h.ExportRegistry)
	g.GET("/export/performance", h.ExportPerformance)
	g.POST("/backfill", h.Backfill)
}

func (h *DashboardHandler) Forecast(c echo.Context) error {
	req := &models.ForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	fc, err := h.orch.Forecast(c.Request().Context(), req.Asset, req.Days)
	if err != nil {
		h.logger.Error("forecast error", xlogger.String("asset", req.Asset), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainError(err))
	}
	return xhttp.SuccessResponse(c, fc)
}

func (h *DashboardHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	history, err := h.prices.History(c.Request().Context(), req.Asset, req.Days)
	if err != nil {
		h.logger.Error("history error", xlogger.String("asset", req.Asset), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainError(err))
	}
	return xhttp.ListResponse(c, history, int64(len(history)))
}

func (h *DashboardHandler) Stats(c echo.Context) error {
	stats, err := h.prices.Stats(c.Request().Context())
	if err != nil {
		h.logger.Error("stats error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainError(err))
	}
	return xhttp.SuccessResponse(c, stats)
}

func (h *DashboardHandler) Models(c echo.Context) error {
	req := &models.ModelsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	versions, err := h.registry.Versions(c.Request().Context(), req.Asset)
	if err != nil {
		h.logger.Error("models listing error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainError(err))
	}
	return xhttp.ListResponse(c, versions, int64(len(versions)))
}

func (h *DashboardHandler) Rollback(c echo.Context) error {
	req := &models.RollbackRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.orch.Rollback(c.Request().Context(), req.Version)
	if err != nil {
		h.logger.Error("rollback error", xlogger.String("version", req.Version), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainError(err))
	}
	if !res.Success {
		return xhttp.NotFoundResponse(c, res)
	}
	return xhttp.SuccessResponse(c, res)
}

type retrainRequest struct {
	Asset string `query:"asset" json:"asset" validate:"required"`
}

// Retrain kicks off a training run. With a job queue attached the run
// is asynchronous and the handler returns immediately.
func (h *DashboardHandler) Retrain(c echo.Context) error {
	req := &retrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if h.jobs != nil {
		if err := h.jobs.PublishMessage(c.Request().Context(), usecase.TrainMessageType,
			usecase.TrainPayload{AssetID: req.Asset, Force: true}); err != nil {
			h.logger.Error("retrain enqueue error", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.InternalError("failed to enqueue training"))
		}
		return xhttp.DataResponse(c, http.StatusAccepted, map[string]string{
			"asset":  req.Asset,
			"status": "queued",
		})
	}

	version, err := h.orch.Retrain(c.Request().Context(), req.Asset)
	if err != nil {
		h.logger.Error("retrain error", xlogger.String("asset", req.Asset), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainError(err))
	}
	return xhttp.SuccessResponse(c, map[string]string{
		"asset":   req.Asset,
		"version": version,
	})
}

func (h *DashboardHandler) HealthReport(c echo.Context) error {
	req := &models.HealthReportRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	reports, err := h.monitor.HealthReports(c.Request().Context(), req.Asset)
	if err != nil {
		h.logger.Error("health report error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainError(err))
	}
	return xhttp.ListResponse(c, reports, int64(len(reports)))
}

func (h *DashboardHandler) ExportRegistry(c echo.Context) error {
	req := &models.ExportRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	setExportHeaders(c, "registry", req.Format)
	if err := h.exporter.Registry(c.Request().Context(), c.Response(), req.Asset, req.Format); err != nil {
		h.logger.Error("registry export error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainError(err))
	}
	return nil
}

func (h *DashboardHandler) ExportPerformance(c echo.Context) error {
	req := &models.ExportRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.Version == "" || req.Asset == "" {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("version and asset are required"))
	}

	setExportHeaders(c, "performance", req.Format)
	if err := h.exporter.Performance(c.Request().Context(), c.Response(), req.Version, req.Asset, req.Days, req.Format); err != nil {
		h.logger.Error("performance export error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainError(err))
	}
	return nil
}

func (h *DashboardHandler) Backfill(c echo.Context) error {
	req := &models.BackfillRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	results, err := h.backfiller.BackfillAll(c.Request().Context(), req.Assets, req.Days)
	if err != nil {
		h.logger.Error("backfill error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapDomainError(err))
	}
	return xhttp.SuccessResponse(c, results)
}

func setExportHeaders(c echo.Context, name, format string) {
	if format == usecase.FormatCSV {
		c.Response().Header().Set(echo.HeaderContentType, "text/csv")
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`.csv"`)
		return
	}
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
}

// mapDomainError translates domain sentinels into transport errors.
func mapDomainError(err error) error {
	var verr *models.ValidationError
	switch {
	case errors.Is(err, models.ErrNotFound):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrTrainingInProgress):
		return xhttp.NewAppError("ERR_TRAINING_IN_PROGRESS", "", err.Error(), http.StatusConflict).WithError(err)
	case errors.Is(err, models.ErrInsufficientData):
		return xhttp.NewAppError("ERR_INSUFFICIENT_DATA", "", err.Error(), http.StatusUnprocessableEntity).WithError(err)
	case errors.Is(err, models.ErrNotTrained):
		return xhttp.NewAppError("ERR_NOT_TRAINED", "", err.Error(), http.StatusConflict).WithError(err)
	case errors.As(err, &verr):
		return xhttp.BadRequestError(verr.Error()).WithError(err)
	default:
		return err
	}
}
