// Package executor decides how the per-client jobs of one round are run.
//
// Every implementation is a barrier: Run returns only after each job it
// started has returned, so callers may read all per-client results as soon
// as Run does.
package executor

import "fmt"

type Executor interface {
	// Run calls job(i) for i in [0, n) and reports the failures.
	Run(n int, job func(i int) error) error
}

// Sequential runs jobs one after another in index order and stops at the
// first failure.
type Sequential struct{}

func (Sequential) Run(n int, job func(i int) error) error {
	for i := 0; i < n; i++ {
		if err := job(i); err != nil {
			return err
		}
	}
	return nil
}

func (Sequential) String() string {
	return "sequential"
}

// New picks an executor for the configured parallelism: 1 is the sequential
// reference behaviour, 0 means one goroutine per client.
func New(parallelism int) (Executor, error) {
	switch {
	case parallelism < 0:
		return nil, fmt.Errorf("invalid parallelism %d", parallelism)
	case parallelism == 1:
		return Sequential{}, nil
	default:
		return &Pool{MaxGoroutines: parallelism}, nil
	}
}
