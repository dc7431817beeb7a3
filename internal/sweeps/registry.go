package sweeps

import "context"

// Sweep is a periodic reconciliation task run by the worker.
type Sweep interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds the sweeps a worker executes each cycle, in registration
// order.
type Registry struct {
	sweeps []Sweep
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(sweep Sweep) {
	if r == nil || sweep == nil {
		return
	}
	r.sweeps = append(r.sweeps, sweep)
}

func (r *Registry) Sweeps() []Sweep {
	if r == nil {
		return nil
	}
	out := make([]Sweep, len(r.sweeps))
	copy(out, r.sweeps)
	return out
}
