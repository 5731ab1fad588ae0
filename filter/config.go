package filter

import "gonum.org/v1/gonum/mat"

// ConstantVelocityConfig builds the classic constant-velocity linear
// Gaussian model: position advances by velocity * dt, velocity is
// unchanged by the transition, and process/measurement noise are
// isotropic with the given variances. It is the default filter.Config
// used by config.DefaultFilterConfig.
func ConstantVelocityConfig(dt float64, processVar, measurementVar float64) Config {
	a := mat.NewDense(StateDim, StateDim, []float64{
		1, 0, dt, 0,
		0, 1, 0, dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	q := mat.NewDense(StateDim, StateDim, nil)
	for i := 0; i < StateDim; i++ {
		q.Set(i, i, processVar)
	}
	r := mat.NewDense(ObsDim, ObsDim, nil)
	for i := 0; i < ObsDim; i++ {
		r.Set(i, i, measurementVar)
	}
	h := mat.NewDense(ObsDim, StateDim, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})
	return Config{A: a, Q: q, R: r, H: h}
}
