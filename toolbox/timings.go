package toolbox

import "time"

// Timings accumulates wall time per phase of training.  Reset it once per
// epoch to get per-epoch figures.
type Timings struct {
	Overall         time.Duration
	Forward         time.Duration
	Loss            time.Duration
	Backpropagation time.Duration
	WeightUpdate    time.Duration
}

func (t *Timings) Reset() {
	*t = Timings{}
}
