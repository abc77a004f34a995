// Package trigger runs enrichment stages in the background. Dispatch is
// fire-and-forget: the caller's request cycle never waits on a stage run.
// Failed runs are retried on transient errors and land in a dead-letter log
// once attempts are exhausted, where they can be redriven.
package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/byebiz/layerone/internal/resilience"
	"github.com/byebiz/layerone/internal/stage"
)

// DeadLetter records a stage run that exhausted its retries.
type DeadLetter struct {
	Stage    string        `json:"stage"`
	Request  stage.Request `json:"request"`
	Error    string        `json:"error"`
	Attempts int           `json:"attempts"`
	FailedAt time.Time     `json:"failed_at"`
	Redriven bool          `json:"redriven"`
}

// Dispatcher owns the worker pool that executes stage runs.
type Dispatcher struct {
	stages map[string]stage.Stage
	retry  resilience.RetryConfig
	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	dead   []DeadLetter
	closed bool
}

// NewDispatcher builds a Dispatcher running at most workers concurrent stage
// runs. workers <= 0 defaults to 4.
func NewDispatcher(workers int, retry resilience.RetryConfig, stages ...stage.Stage) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		stages: make(map[string]stage.Stage, len(stages)),
		retry:  retry,
		sem:    make(chan struct{}, workers),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, st := range stages {
		d.stages[st.Name()] = st
	}
	return d
}

// Dispatch schedules a stage run and returns immediately. The only errors it
// reports are an unknown stage name or a closed dispatcher; run failures
// surface through logs and the dead-letter log instead.
func (d *Dispatcher) Dispatch(name string, req stage.Request) error {
	st, ok := d.stages[name]
	if !ok {
		return eris.Errorf("trigger: unknown stage %q", name)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return eris.New("trigger: dispatcher closed")
	}
	d.wg.Add(1)
	d.mu.Unlock()

	zap.L().Info("stage dispatched",
		zap.String("stage", name),
		zap.String("record_id", req.RecordID),
	)

	go func() {
		defer d.wg.Done()
		select {
		case d.sem <- struct{}{}:
		case <-d.ctx.Done():
			return
		}
		defer func() { <-d.sem }()
		d.run(st, req)
	}()
	return nil
}

func (d *Dispatcher) run(st stage.Stage, req stage.Request) {
	cfg := d.retry
	cfg.OnRetry = resilience.RetryLogger(st.Name(), req.RecordID)

	start := time.Now()
	err := resilience.Do(d.ctx, cfg, func(ctx context.Context) error {
		return st.Run(ctx, req)
	})
	if err == nil {
		zap.L().Info("stage run finished",
			zap.String("stage", st.Name()),
			zap.String("record_id", req.RecordID),
			zap.Duration("elapsed", time.Since(start)),
		)
		return
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = resilience.DefaultRetryConfig().MaxAttempts
	}
	if !resilience.IsTransient(err) {
		attempts = 1
	}
	zap.L().Error("stage run failed, dead-lettering",
		zap.String("stage", st.Name()),
		zap.String("record_id", req.RecordID),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)

	d.mu.Lock()
	d.dead = append(d.dead, DeadLetter{
		Stage:    st.Name(),
		Request:  req,
		Error:    err.Error(),
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	})
	d.mu.Unlock()
}

// DeadLetters returns a copy of the dead-letter log.
func (d *Dispatcher) DeadLetters() []DeadLetter {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeadLetter, len(d.dead))
	copy(out, d.dead)
	return out
}

// Redrive re-dispatches every dead letter not already redriven and returns
// how many were scheduled. Entries stay in the log, marked redriven, so the
// failure history survives.
func (d *Dispatcher) Redrive() int {
	d.mu.Lock()
	var pending []int
	for i, dl := range d.dead {
		if !dl.Redriven {
			pending = append(pending, i)
		}
	}
	requeue := make([]DeadLetter, 0, len(pending))
	for _, i := range pending {
		d.dead[i].Redriven = true
		requeue = append(requeue, d.dead[i])
	}
	d.mu.Unlock()

	n := 0
	for _, dl := range requeue {
		if err := d.Dispatch(dl.Stage, dl.Request); err == nil {
			n++
		}
	}
	return n
}

// Close stops accepting new dispatches and waits for in-flight runs to
// finish. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
}

// Wait blocks until all currently scheduled runs have finished. Test helper
// for the fire-and-forget path.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
