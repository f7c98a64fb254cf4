package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// RunParallel runs independent pipelines on a pool of workers goroutines and
// returns the joined errors of all of them. Pipelines must not share
// processors.
func RunParallel(ctx context.Context, workers int, pipelines ...*Pipeline) error {
	if workers <= 0 {
		workers = len(pipelines)
	}
	if workers <= 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(v any) {
		record(fmt.Errorf("pipeline panic: %v", v))
	}))
	if err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, p := range pipelines {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if err := p.Run(ctx); err != nil {
				record(fmt.Errorf("pipeline %s: %w", p.Name(), err))
			}
		}); err != nil {
			wg.Done()
			record(fmt.Errorf("submit pipeline %s: %w", p.Name(), err))
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}
