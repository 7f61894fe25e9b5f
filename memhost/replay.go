package memhost

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/pyroscope-io/jitrec/recorder"
)

// Replay delivers the fixture's events to whatever subscribed to its
// source. Runs of jit and enter events are spread over up to workers
// goroutines; enable and disable events wait for the run before them to
// finish. It returns the number of delivered events.
func (f *Fixture) Replay(ctx context.Context, workers int) (int, error) {
	if workers < 1 {
		workers = 1
	}
	var delivered atomic.Int64
	run := make([]Event, 0, len(f.Events))

	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, e := range run {
			e := e
			for i := 0; i < e.times(); i++ {
				g.Go(func() error {
					if err := gctx.Err(); err != nil {
						return err
					}
					if err := f.deliver(e); err != nil {
						return err
					}
					delivered.Add(1)
					return nil
				})
			}
		}
		run = run[:0]
		return g.Wait()
	}

	for _, e := range f.Events {
		switch e.Kind {
		case KindEnable, KindDisable:
			if err := flush(); err != nil {
				return int(delivered.Load()), err
			}
			f.Gate.Set(e.Kind == KindEnable)
		default:
			run = append(run, e)
		}
	}
	err := flush()
	return int(delivered.Load()), err
}

func (f *Fixture) deliver(e Event) error {
	id := recorder.FunctionID(e.Function)
	if e.Kind == KindJIT {
		return f.Source.CompilationStarted(id)
	}
	return f.Source.Enter(id)
}
