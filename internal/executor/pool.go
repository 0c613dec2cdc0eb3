package executor

import (
	"fmt"

	"github.com/sourcegraph/conc/pool"
)

// Pool fans jobs out to goroutines. MaxGoroutines <= 0 leaves the pool
// unbounded. All jobs run even if some fail; the errors are joined.
type Pool struct {
	MaxGoroutines int
}

func (p *Pool) Run(n int, job func(i int) error) error {
	base := pool.New()
	if p.MaxGoroutines > 0 {
		base = base.WithMaxGoroutines(p.MaxGoroutines)
	}
	workers := base.WithErrors()

	for i := 0; i < n; i++ {
		i := i
		workers.Go(func() error {
			return job(i)
		})
	}

	return workers.Wait()
}

func (p *Pool) String() string {
	if p.MaxGoroutines <= 0 {
		return "pool(unbounded)"
	}
	return fmt.Sprintf("pool(%d)", p.MaxGoroutines)
}
