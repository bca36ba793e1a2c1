package forecast

import (
	"fmt"
	"math"
	"math/rand"
)

// NetworkConfig sizes the sequence model.
type NetworkConfig struct {
	HiddenUnits  int     `json:"hidden_units"`
	DenseUnits   int     `json:"dense_units"`
	DropoutRate  float64 `json:"dropout_rate"`
	LearningRate float64 `json:"learning_rate"`
	Seed         int64   `json:"seed"`
}

// Network is a two-layer gated recurrent sequence model with a dense
// projection and a scalar linear head. All math is plain float64
// slices; there is no external numeric dependency.
type Network struct {
	cfg NetworkConfig

	l1, l2 *gruLayer
	w1     [][]float64 // dense projection: DenseUnits x HiddenUnits
	b1     []float64
	w2     []float64 // head: 1 x DenseUnits
	b2     float64

	adam *adamState
	rng  *rand.Rand
}

// TrainResult summarizes one fitting run.
type TrainResult struct {
	EpochsRun    int     `json:"epochs_trained"`
	FinalLoss    float64 `json:"final_loss"`
	FinalValLoss float64 `json:"final_val_loss"`
	BestValLoss  float64 `json:"best_val_loss"`
}

// NewNetwork builds an initialized network.
func NewNetwork(cfg NetworkConfig) *Network {
	rng := rand.New(rand.NewSource(cfg.Seed))
	n := &Network{
		cfg: cfg,
		l1:  newGRULayer(1, cfg.HiddenUnits, rng),
		l2:  newGRULayer(cfg.HiddenUnits, cfg.HiddenUnits, rng),
		w1:  glorotMat(cfg.DenseUnits, cfg.HiddenUnits, rng),
		b1:  make([]float64, cfg.DenseUnits),
		w2:  glorotVec(cfg.DenseUnits, rng),
		rng: rng,
	}
	n.adam = newAdamState(n)
	return n
}

// Predict runs one sequence through the network without dropout.
func (n *Network) Predict(seq []float64) float64 {
	h1, _ := n.l1.forward(scalarSeq(seq))
	h2, _ := n.l2.forward(h1)
	last := h2[len(h2)-1]
	dense := make([]float64, len(n.w1))
	for i := range n.w1 {
		dense[i] = n.b1[i] + dot(n.w1[i], last)
	}
	return n.b2 + dot(n.w2, dense)
}

// Fit trains with mini-batch Adam, early stopping on validation loss,
// and restores the best-validation weight snapshot.
func (n *Network) Fit(trainX [][]float64, trainY []float64, valX [][]float64, valY []float64, epochs, patience, batchSize int) (*TrainResult, error) {
	if len(trainX) == 0 {
		return nil, fmt.Errorf("fit: no training sequences")
	}
	if batchSize <= 0 {
		batchSize = 32
	}

	bestVal := math.Inf(1)
	var best *snapshot
	sinceBest := 0
	res := &TrainResult{}

	order := make([]int, len(trainX))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < epochs; epoch++ {
		n.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		epochLoss := 0.0
		for start := 0; start < len(order); start += batchSize {
			end := start + batchSize
			if end > len(order) {
				end = len(order)
			}
			loss := n.trainBatch(trainX, trainY, order[start:end])
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return nil, fmt.Errorf("fit: loss diverged at epoch %d", epoch)
			}
			epochLoss += loss * float64(end-start)
		}
		epochLoss /= float64(len(order))

		valLoss := n.evaluate(valX, valY)
		if math.IsNaN(valLoss) {
			return nil, fmt.Errorf("fit: validation loss is NaN at epoch %d", epoch)
		}

		res.EpochsRun = epoch + 1
		res.FinalLoss = epochLoss
		res.FinalValLoss = valLoss

		if valLoss < bestVal {
			bestVal = valLoss
			best = n.snapshot()
			sinceBest = 0
		} else {
			sinceBest++
			if sinceBest >= patience {
				break
			}
		}
	}

	if best != nil {
		n.restore(best)
	}
	res.BestValLoss = bestVal
	return res, nil
}

// evaluate returns MSE over a set; 0 when the set is empty.
func (n *Network) evaluate(x [][]float64, y []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sum := 0.0
	for i, seq := range x {
		d := n.Predict(seq) - y[i]
		sum += d * d
	}
	return sum / float64(len(x))
}

// trainBatch accumulates gradients over one mini-batch and applies a
// single Adam step. Returns the mean loss over the batch.
func (n *Network) trainBatch(x [][]float64, y []float64, idx []int) float64 {
	g := newGradients(n)
	loss := 0.0

	for _, i := range idx {
		loss += n.backprop(x[i], y[i], g)
	}
	loss /= float64(len(idx))
	g.scale(1.0 / float64(len(idx)))

	n.adam.step(n, g, n.cfg.LearningRate)
	return loss
}

// backprop runs one forward/backward pass, adding gradients into g and
// returning the squared error for the sample.
func (n *Network) backprop(seq []float64, target float64, g *gradients) float64 {
	T := len(seq)
	x1 := scalarSeq(seq)

	h1, c1 := n.l1.forward(x1)

	// Inverted dropout between the recurrent layers, training only.
	keep := 1.0 - n.cfg.DropoutRate
	masks := make([][]float64, T)
	dropped := make([][]float64, T)
	for t := 0; t < T; t++ {
		masks[t] = make([]float64, len(h1[t]))
		dropped[t] = make([]float64, len(h1[t]))
		for j := range h1[t] {
			if n.rng.Float64() < keep {
				masks[t][j] = 1.0 / keep
			}
			dropped[t][j] = h1[t][j] * masks[t][j]
		}
	}

	h2, c2 := n.l2.forward(dropped)
	last := h2[T-1]

	dense := make([]float64, len(n.w1))
	for i := range n.w1 {
		dense[i] = n.b1[i] + dot(n.w1[i], last)
	}
	out := n.b2 + dot(n.w2, dense)

	diff := out - target
	loss := diff * diff

	// Head gradients. dLoss/dOut = 2*diff.
	dOut := 2 * diff
	dDense := make([]float64, len(dense))
	for i := range dense {
		g.w2[i] += dOut * dense[i]
		dDense[i] = dOut * n.w2[i]
	}
	g.b2 += dOut

	dLast := make([]float64, len(last))
	for i := range n.w1 {
		for j := range last {
			g.w1[i][j] += dDense[i] * last[j]
			dLast[j] += dDense[i] * n.w1[i][j]
		}
		g.b1[i] += dDense[i]
	}

	// Only the last timestep of layer 2 feeds the head.
	dh2 := make([][]float64, T)
	dh2[T-1] = dLast
	dDropped := n.l2.backward(dropped, c2, dh2, g.l2)

	dh1 := make([][]float64, T)
	for t := 0; t < T; t++ {
		dh1[t] = make([]float64, len(dDropped[t]))
		for j := range dDropped[t] {
			dh1[t][j] = dDropped[t][j] * masks[t][j]
		}
	}
	n.l1.backward(x1, c1, dh1, g.l1)
	return loss
}

// --- GRU layer ---

type gruLayer struct {
	InSize int
	Hidden int

	Wz, Wr, Wh [][]float64 // Hidden x InSize
	Uz, Ur, Uh [][]float64 // Hidden x Hidden
	Bz, Br, Bh []float64
}

// gruCache keeps per-timestep activations for backprop.
type gruCache struct {
	z, r, hcand [][]float64
	h           [][]float64 // h[t] is the state after step t; hPrev for t is h[t-1] or zeros
}

func newGRULayer(in, hidden int, rng *rand.Rand) *gruLayer {
	return &gruLayer{
		InSize: in,
		Hidden: hidden,
		Wz:     glorotMat(hidden, in, rng),
		Wr:     glorotMat(hidden, in, rng),
		Wh:     glorotMat(hidden, in, rng),
		Uz:     glorotMat(hidden, hidden, rng),
		Ur:     glorotMat(hidden, hidden, rng),
		Uh:     glorotMat(hidden, hidden, rng),
		Bz:     make([]float64, hidden),
		Br:     make([]float64, hidden),
		Bh:     make([]float64, hidden),
	}
}

// forward runs the layer over a sequence of input vectors. The cache is
// only needed for backprop and can be ignored for inference.
func (l *gruLayer) forward(xs [][]float64) ([][]float64, *gruCache) {
	T := len(xs)
	c := &gruCache{
		z:     make([][]float64, T),
		r:     make([][]float64, T),
		hcand: make([][]float64, T),
		h:     make([][]float64, T),
	}
	hPrev := make([]float64, l.Hidden)
	for t := 0; t < T; t++ {
		z := make([]float64, l.Hidden)
		r := make([]float64, l.Hidden)
		hc := make([]float64, l.Hidden)
		h := make([]float64, l.Hidden)
		for j := 0; j < l.Hidden; j++ {
			z[j] = sigmoid(l.Bz[j] + dot(l.Wz[j], xs[t]) + dot(l.Uz[j], hPrev))
			r[j] = sigmoid(l.Br[j] + dot(l.Wr[j], xs[t]) + dot(l.Ur[j], hPrev))
		}
		rh := make([]float64, l.Hidden)
		for j := range rh {
			rh[j] = r[j] * hPrev[j]
		}
		for j := 0; j < l.Hidden; j++ {
			hc[j] = math.Tanh(l.Bh[j] + dot(l.Wh[j], xs[t]) + dot(l.Uh[j], rh))
			h[j] = (1-z[j])*hPrev[j] + z[j]*hc[j]
		}
		c.z[t], c.r[t], c.hcand[t], c.h[t] = z, r, hc, h
		hPrev = h
	}
	return c.h, c
}

// backward runs truncated BPTT over the full sequence, accumulating
// parameter gradients into g and returning per-timestep input gradients.
func (l *gruLayer) backward(xs [][]float64, c *gruCache, dhOut [][]float64, g *gruGradients) [][]float64 {
	T := len(xs)
	dxs := make([][]float64, T)
	dhNext := make([]float64, l.Hidden)

	for t := T - 1; t >= 0; t-- {
		dh := make([]float64, l.Hidden)
		copy(dh, dhNext)
		if dhOut[t] != nil {
			for j := range dh {
				dh[j] += dhOut[t][j]
			}
		}

		var hPrev []float64
		if t > 0 {
			hPrev = c.h[t-1]
		} else {
			hPrev = make([]float64, l.Hidden)
		}
		z, r, hc := c.z[t], c.r[t], c.hcand[t]

		dhPrev := make([]float64, l.Hidden)
		daH := make([]float64, l.Hidden)
		daZ := make([]float64, l.Hidden)

		for j := 0; j < l.Hidden; j++ {
			dhc := dh[j] * z[j]
			dz := dh[j] * (hc[j] - hPrev[j])
			dhPrev[j] += dh[j] * (1 - z[j])
			daH[j] = dhc * (1 - hc[j]*hc[j])
			daZ[j] = dz * z[j] * (1 - z[j])
		}

		// Through the candidate: rh = r ⊙ hPrev.
		drh := make([]float64, l.Hidden)
		for k := 0; k < l.Hidden; k++ {
			for j := 0; j < l.Hidden; j++ {
				drh[k] += l.Uh[j][k] * daH[j]
			}
		}
		daR := make([]float64, l.Hidden)
		for j := 0; j < l.Hidden; j++ {
			dr := drh[j] * hPrev[j]
			dhPrev[j] += drh[j] * r[j]
			daR[j] = dr * r[j] * (1 - r[j])
		}

		rh := make([]float64, l.Hidden)
		for j := range rh {
			rh[j] = r[j] * hPrev[j]
		}

		dx := make([]float64, l.InSize)
		for j := 0; j < l.Hidden; j++ {
			for k := 0; k < l.InSize; k++ {
				g.Wz[j][k] += daZ[j] * xs[t][k]
				g.Wr[j][k] += daR[j] * xs[t][k]
				g.Wh[j][k] += daH[j] * xs[t][k]
				dx[k] += l.Wz[j][k]*daZ[j] + l.Wr[j][k]*daR[j] + l.Wh[j][k]*daH[j]
			}
			for k := 0; k < l.Hidden; k++ {
				g.Uz[j][k] += daZ[j] * hPrev[k]
				g.Ur[j][k] += daR[j] * hPrev[k]
				g.Uh[j][k] += daH[j] * rh[k]
				dhPrev[k] += l.Uz[j][k]*daZ[j] + l.Ur[j][k]*daR[j]
			}
			g.Bz[j] += daZ[j]
			g.Br[j] += daR[j]
			g.Bh[j] += daH[j]
		}

		dxs[t] = dx
		dhNext = dhPrev
	}
	return dxs
}

// --- gradients ---

type gruGradients struct {
	Wz, Wr, Wh [][]float64
	Uz, Ur, Uh [][]float64
	Bz, Br, Bh []float64
}

func newGRUGradients(l *gruLayer) *gruGradients {
	return &gruGradients{
		Wz: zeroMat(l.Hidden, l.InSize), Wr: zeroMat(l.Hidden, l.InSize), Wh: zeroMat(l.Hidden, l.InSize),
		Uz: zeroMat(l.Hidden, l.Hidden), Ur: zeroMat(l.Hidden, l.Hidden), Uh: zeroMat(l.Hidden, l.Hidden),
		Bz: make([]float64, l.Hidden), Br: make([]float64, l.Hidden), Bh: make([]float64, l.Hidden),
	}
}

type gradients struct {
	l1, l2 *gruGradients
	w1     [][]float64
	b1     []float64
	w2     []float64
	b2     float64
}

func newGradients(n *Network) *gradients {
	return &gradients{
		l1: newGRUGradients(n.l1),
		l2: newGRUGradients(n.l2),
		w1: zeroMat(len(n.w1), len(n.w1[0])),
		b1: make([]float64, len(n.b1)),
		w2: make([]float64, len(n.w2)),
	}
}

func (g *gradients) scale(f float64) {
	for _, gg := range []*gruGradients{g.l1, g.l2} {
		for _, m := range [][][]float64{gg.Wz, gg.Wr, gg.Wh, gg.Uz, gg.Ur, gg.Uh} {
			scaleMat(m, f)
		}
		for _, v := range [][]float64{gg.Bz, gg.Br, gg.Bh} {
			scaleVec(v, f)
		}
	}
	scaleMat(g.w1, f)
	scaleVec(g.b1, f)
	scaleVec(g.w2, f)
	g.b2 *= f
}

// --- Adam optimizer ---

type adamState struct {
	t    int
	m, v []float64 // flat moment buffers over all parameters
}

func newAdamState(n *Network) *adamState {
	size := len(paramRefs(n))
	return &adamState{m: make([]float64, size), v: make([]float64, size)}
}

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

func (a *adamState) step(n *Network, g *gradients, lr float64) {
	a.t++
	params := paramRefs(n)
	grads := gradRefs(g)

	bc1 := 1 - math.Pow(adamBeta1, float64(a.t))
	bc2 := 1 - math.Pow(adamBeta2, float64(a.t))

	for i := range params {
		*params[i] -= adamUpdate(a, i, *grads[i], lr, bc1, bc2)
	}
}

func adamUpdate(a *adamState, i int, g, lr, bc1, bc2 float64) float64 {
	a.m[i] = adamBeta1*a.m[i] + (1-adamBeta1)*g
	a.v[i] = adamBeta2*a.v[i] + (1-adamBeta2)*g*g
	mHat := a.m[i] / bc1
	vHat := a.v[i] / bc2
	return lr * mHat / (math.Sqrt(vHat) + adamEps)
}

// paramRefs returns pointers to every trainable scalar, in a stable order.
func paramRefs(n *Network) []*float64 {
	var refs []*float64
	for _, l := range []*gruLayer{n.l1, n.l2} {
		refs = appendMatRefs(refs, l.Wz, l.Wr, l.Wh, l.Uz, l.Ur, l.Uh)
		refs = appendVecRefs(refs, l.Bz, l.Br, l.Bh)
	}
	refs = appendMatRefs(refs, n.w1)
	refs = appendVecRefs(refs, n.b1, n.w2)
	refs = append(refs, &n.b2)
	return refs
}

func gradRefs(g *gradients) []*float64 {
	var refs []*float64
	for _, l := range []*gruGradients{g.l1, g.l2} {
		refs = appendMatRefs(refs, l.Wz, l.Wr, l.Wh, l.Uz, l.Ur, l.Uh)
		refs = appendVecRefs(refs, l.Bz, l.Br, l.Bh)
	}
	refs = appendMatRefs(refs, g.w1)
	refs = appendVecRefs(refs, g.b1, g.w2)
	refs = append(refs, &g.b2)
	return refs
}

func appendMatRefs(refs []*float64, mats ...[][]float64) []*float64 {
	for _, m := range mats {
		for i := range m {
			for j := range m[i] {
				refs = append(refs, &m[i][j])
			}
		}
	}
	return refs
}

func appendVecRefs(refs []*float64, vecs ...[]float64) []*float64 {
	for _, v := range vecs {
		for i := range v {
			refs = append(refs, &v[i])
		}
	}
	return refs
}

// --- weight snapshots for early stopping ---

type snapshot struct {
	values []float64
}

func (n *Network) snapshot() *snapshot {
	refs := paramRefs(n)
	s := &snapshot{values: make([]float64, len(refs))}
	for i, r := range refs {
		s.values[i] = *r
	}
	return s
}

func (n *Network) restore(s *snapshot) {
	refs := paramRefs(n)
	for i, r := range refs {
		*r = s.values[i]
	}
}

// --- serialization ---

// GRUState is the persisted weight set of one recurrent layer.
type GRUState struct {
	InSize int         `json:"in_size"`
	Hidden int         `json:"hidden"`
	Wz     [][]float64 `json:"wz"`
	Wr     [][]float64 `json:"wr"`
	Wh     [][]float64 `json:"wh"`
	Uz     [][]float64 `json:"uz"`
	Ur     [][]float64 `json:"ur"`
	Uh     [][]float64 `json:"uh"`
	Bz     []float64   `json:"bz"`
	Br     []float64   `json:"br"`
	Bh     []float64   `json:"bh"`
}

// NetworkState is the full persisted weight set.
type NetworkState struct {
	Config NetworkConfig `json:"config"`
	L1     GRUState      `json:"l1"`
	L2     GRUState      `json:"l2"`
	W1     [][]float64   `json:"w1"`
	B1     []float64     `json:"b1"`
	W2     []float64     `json:"w2"`
	B2     float64       `json:"b2"`
}

// State exports the current weights.
func (n *Network) State() NetworkState {
	return NetworkState{
		Config: n.cfg,
		L1:     n.l1.state(),
		L2:     n.l2.state(),
		W1:     n.w1,
		B1:     n.b1,
		W2:     n.w2,
		B2:     n.b2,
	}
}

// RestoreNetwork rebuilds a network from persisted weights.
func RestoreNetwork(s NetworkState) (*Network, error) {
	if s.L1.Hidden == 0 || s.L2.Hidden == 0 || len(s.W1) == 0 {
		return nil, fmt.Errorf("restore network: incomplete state")
	}
	n := &Network{
		cfg: s.Config,
		l1:  s.L1.layer(),
		l2:  s.L2.layer(),
		w1:  s.W1,
		b1:  s.B1,
		w2:  s.W2,
		b2:  s.B2,
		rng: rand.New(rand.NewSource(s.Config.Seed)),
	}
	n.adam = newAdamState(n)
	return n, nil
}

func (l *gruLayer) state() GRUState {
	return GRUState{
		InSize: l.InSize, Hidden: l.Hidden,
		Wz: l.Wz, Wr: l.Wr, Wh: l.Wh,
		Uz: l.Uz, Ur: l.Ur, Uh: l.Uh,
		Bz: l.Bz, Br: l.Br, Bh: l.Bh,
	}
}

func (s GRUState) layer() *gruLayer {
	return &gruLayer{
		InSize: s.InSize, Hidden: s.Hidden,
		Wz: s.Wz, Wr: s.Wr, Wh: s.Wh,
		Uz: s.Uz, Ur: s.Ur, Uh: s.Uh,
		Bz: s.Bz, Br: s.Br, Bh: s.Bh,
	}
}

// --- small helpers ---

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func scalarSeq(seq []float64) [][]float64 {
	xs := make([][]float64, len(seq))
	for i, v := range seq {
		xs[i] = []float64{v}
	}
	return xs
}

func glorotMat(rows, cols int, rng *rand.Rand) [][]float64 {
	limit := math.Sqrt(6.0 / float64(rows+cols))
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
		for j := range m[i] {
			m[i][j] = (rng.Float64()*2 - 1) * limit
		}
	}
	return m
}

func glorotVec(n int, rng *rand.Rand) []float64 {
	limit := math.Sqrt(6.0 / float64(n+1))
	v := make([]float64, n)
	for i := range v {
		v[i] = (rng.Float64()*2 - 1) * limit
	}
	return v
}

func zeroMat(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

func scaleMat(m [][]float64, f float64) {
	for i := range m {
		for j := range m[i] {
			m[i][j] *= f
		}
	}
}

func scaleVec(v []float64, f float64) {
	for i := range v {
		v[i] *= f
	}
}
