// Package filter implements the per-track Estimation Filter: a linear
// Gaussian (Kalman-style) recursive estimator over the 4-dimensional
// state vector [lon, lat, lonVel, latVel].
package filter

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrDegenerate is returned instead of a NaN-poisoned result when the
// filter's covariance becomes non-positive-semidefinite or singular.
var ErrDegenerate = errors.New("filter: degenerate covariance")

// StateDim is the fixed dimensionality of the state vector this filter
// operates on: longitude, latitude, longitude velocity, latitude
// velocity. Altitude is tracked elsewhere (track.Track) but is not
// part of the filter's state model, per spec.
const StateDim = 4

// ObsDim is the dimensionality of an observation: longitude, latitude.
const ObsDim = 2

// Config carries the matrices that parameterize a Kalman filter
// instance: transition A, optional control B, process noise Q,
// measurement noise R, and observation matrix H.
type Config struct {
	A *mat.Dense // StateDim x StateDim
	B *mat.Dense // StateDim x controlDim, optional (nil if unused)
	Q *mat.Dense // StateDim x StateDim
	R *mat.Dense // ObsDim x ObsDim
	H *mat.Dense // ObsDim x StateDim
}

// Validate checks the declared matrix shapes match the fixed state and
// observation dimensions, per spec.md §6's shape contract.
func (c Config) Validate() error {
	if c.A == nil || c.Q == nil || c.R == nil || c.H == nil {
		return fmt.Errorf("filter: config missing required matrix")
	}
	if r, cl := c.A.Dims(); r != StateDim || cl != StateDim {
		return fmt.Errorf("filter: A must be %dx%d, got %dx%d", StateDim, StateDim, r, cl)
	}
	if r, cl := c.Q.Dims(); r != StateDim || cl != StateDim {
		return fmt.Errorf("filter: Q must be %dx%d, got %dx%d", StateDim, StateDim, r, cl)
	}
	if r, cl := c.R.Dims(); r != ObsDim || cl != ObsDim {
		return fmt.Errorf("filter: R must be %dx%d, got %dx%d", ObsDim, ObsDim, r, cl)
	}
	if r, cl := c.H.Dims(); r != ObsDim || cl != StateDim {
		return fmt.Errorf("filter: H must be %dx%d, got %dx%d", ObsDim, StateDim, r, cl)
	}
	if c.B != nil {
		if r, _ := c.B.Dims(); r != StateDim {
			return fmt.Errorf("filter: B must have %d rows, got %d", StateDim, r)
		}
	}
	return nil
}

// Kalman is a linear Gaussian recursive estimator, cloneable so each
// new track can own an independent instance seeded from the same
// Config.
type Kalman struct {
	cfg   Config
	state *mat.VecDense // x, length StateDim
	cov   *mat.SymDense // P, StateDim x StateDim
}

// New returns a filter parameterized by cfg. The filter has no state
// until Initialize is called.
func New(cfg Config) (*Kalman, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Kalman{cfg: cfg}, nil
}

// Initialize seeds the filter's state and covariance and returns the
// first prediction, per spec.md §4.3.
//
// covarianceDiag holds the initial per-axis variance in the same
// [lon, lat, lonVel, latVel] order as state.
func (k *Kalman) Initialize(state [StateDim]float64, covarianceDiag [StateDim]float64) (predState [StateDim]float64, predVar [StateDim]float64, err error) {
	k.state = mat.NewVecDense(StateDim, state[:])
	diag := make([]float64, StateDim)
	copy(diag, covarianceDiag[:])
	k.cov = mat.NewSymDense(StateDim, nil)
	for i := 0; i < StateDim; i++ {
		k.cov.SetSym(i, i, diag[i])
	}
	return k.Predict(nil)
}

// Predict advances the filter one step, optionally applying a control
// input u (may be nil), and returns the predicted state and the
// diagonal of its covariance.
func (k *Kalman) Predict(u []float64) (predState [StateDim]float64, predVar [StateDim]float64, err error) {
	if k.state == nil {
		return predState, predVar, fmt.Errorf("filter: Predict called before Initialize")
	}
	// x = A*x (+ B*u)
	nextState := mat.NewVecDense(StateDim, nil)
	nextState.MulVec(k.cfg.A, k.state)
	if u != nil && k.cfg.B != nil {
		control := mat.NewVecDense(len(u), u)
		bu := mat.NewVecDense(StateDim, nil)
		bu.MulVec(k.cfg.B, control)
		nextState.AddVec(nextState, bu)
	}
	k.state = nextState

	// P = A*P*A' + Q
	var ap mat.Dense
	ap.Mul(k.cfg.A, k.cov)
	var apat mat.Dense
	apat.Mul(&ap, k.cfg.A.T())
	var next mat.Dense
	next.Add(&apat, k.cfg.Q)
	sym, err := toSym(&next)
	if err != nil {
		return predState, predVar, fmt.Errorf("%w: predict covariance: %v", ErrDegenerate, err)
	}
	k.cov = sym

	return k.snapshot()
}

// Correct folds observation z (length ObsDim: [lon, lat]) into the
// filter's estimate and returns the corrected state and covariance.
func (k *Kalman) Correct(z [ObsDim]float64) (corrState [StateDim]float64, corrVar [StateDim]float64, err error) {
	if k.state == nil {
		return corrState, corrVar, fmt.Errorf("filter: Correct called before Initialize")
	}
	obs := mat.NewVecDense(ObsDim, z[:])

	// y = z - H*x
	hx := mat.NewVecDense(ObsDim, nil)
	hx.MulVec(k.cfg.H, k.state)
	y := mat.NewVecDense(ObsDim, nil)
	y.SubVec(obs, hx)

	// S = H*P*H' + R
	var hp mat.Dense
	hp.Mul(k.cfg.H, k.cov)
	var hpht mat.Dense
	hpht.Mul(&hp, k.cfg.H.T())
	var s mat.Dense
	s.Add(&hpht, k.cfg.R)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return corrState, corrVar, fmt.Errorf("%w: innovation covariance not invertible: %v", ErrDegenerate, err)
	}

	// K = P*H'*S^-1
	var pht mat.Dense
	pht.Mul(k.cov, k.cfg.H.T())
	var gain mat.Dense
	gain.Mul(&pht, &sInv)

	// x = x + K*y
	ky := mat.NewVecDense(StateDim, nil)
	ky.MulVec(&gain, y)
	newState := mat.NewVecDense(StateDim, nil)
	newState.AddVec(k.state, ky)
	k.state = newState

	// P = (I - K*H) * P
	var kh mat.Dense
	kh.Mul(&gain, k.cfg.H)
	ident := mat.NewDense(StateDim, StateDim, nil)
	for i := 0; i < StateDim; i++ {
		ident.Set(i, i, 1)
	}
	var imkh mat.Dense
	imkh.Sub(ident, &kh)
	var newCov mat.Dense
	newCov.Mul(&imkh, k.cov)
	sym, err := toSym(&newCov)
	if err != nil {
		return corrState, corrVar, fmt.Errorf("%w: corrected covariance: %v", ErrDegenerate, err)
	}
	k.cov = sym

	return k.snapshot()
}

// Clone deep-copies the filter, including its state and covariance, so
// a newly born track can seed its own filter from a shared prototype.
func (k *Kalman) Clone() *Kalman {
	cp := &Kalman{cfg: k.cfg}
	if k.state != nil {
		cp.state = mat.VecDenseCopyOf(k.state)
	}
	if k.cov != nil {
		n := k.cov.SymmetricDim()
		cp.cov = mat.NewSymDense(n, nil)
		cp.cov.CopySym(k.cov)
	}
	return cp
}

func (k *Kalman) snapshot() (state [StateDim]float64, variance [StateDim]float64, err error) {
	for i := 0; i < StateDim; i++ {
		state[i] = k.state.AtVec(i)
		variance[i] = k.cov.At(i, i)
	}
	return state, variance, nil
}

// toSym symmetrizes a nearly-symmetric covariance matrix (accumulated
// float error) and fails with ErrDegenerate if the result is not
// positive definite (a singular covariance is rejected too), rather
// than propagating NaNs.
func toSym(m *mat.Dense) (*mat.SymDense, error) {
	r, c := m.Dims()
	if r != c {
		return nil, fmt.Errorf("matrix not square: %dx%d", r, c)
	}
	sym := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			v := (m.At(i, j) + m.At(j, i)) / 2
			sym.SetSym(i, j, v)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, fmt.Errorf("covariance is not positive definite")
	}
	return sym, nil
}
