package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/beatframe/internal/metrics"
	"github.com/bobarin/beatframe/internal/models"
)

var (
	ErrQueueStopped = errors.New("render queue stopped")
	ErrNilRecipe    = errors.New("recipe is required")
)

// Renderer renders one job. A fresh Renderer is built per job.
type Renderer interface {
	Render(ctx context.Context, recipe *models.Recipe, jobID string, onProgress func(models.Progress)) (string, error)
}

// RendererFactory builds the Renderer for a job about to start.
type RendererFactory func(jobID string) Renderer

// Observer is notified after every job status or progress change. Calls
// come from a single delivery goroutine, in the order the changes were made,
// outside the queue lock. A slow observer delays later notifications but
// never a render.
type Observer interface {
	Observe(job models.JobView)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(job models.JobView)

func (f ObserverFunc) Observe(job models.JobView) { f(job) }

type Config struct {
	MaxConcurrent int
	JobTimeout    time.Duration // 0 = no limit
}

type entry struct {
	job    models.Job
	recipe *models.Recipe
	cancel context.CancelCauseFunc
}

func (e *entry) view() models.JobView {
	return models.JobView{Job: e.job}
}

// ---------------------------------------------------------------------------
// Queue: in-process FIFO with bounded concurrent renders
// ---------------------------------------------------------------------------

type Queue struct {
	cfg         Config
	newRenderer RendererFactory
	logger      zerolog.Logger
	now         func() time.Time

	mu        sync.Mutex
	pending   []*entry
	active    map[string]*entry
	finished  map[string]*entry
	observers []Observer
	started   bool
	stopped   bool

	// Undelivered snapshots, appended under mu in mutation order.
	events     []models.JobView
	wake       chan struct{}
	delivering bool
	closing    bool
	delivered  chan struct{}

	baseCtx context.Context
	stopAll context.CancelCauseFunc
	wg      sync.WaitGroup
}

func New(cfg Config, newRenderer RendererFactory, logger zerolog.Logger) *Queue {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Queue{
		cfg:         cfg,
		newRenderer: newRenderer,
		logger:      logger,
		now:         time.Now,
		active:      make(map[string]*entry),
		finished:    make(map[string]*entry),
		wake:        make(chan struct{}, 1),
		delivered:   make(chan struct{}),
		baseCtx:     ctx,
		stopAll:     cancel,
	}
}

// AddObserver registers o for all subsequent job changes.
func (q *Queue) AddObserver(o Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observers = append(q.observers, o)
}

// Start begins admitting jobs. Jobs enqueued before Start wait in the FIFO.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.delivering = true
	views, launches := q.dispatchLocked()
	q.publishLocked(views...)
	q.mu.Unlock()

	go q.deliver()

	q.logger.Info().
		Int("max_concurrent", q.cfg.MaxConcurrent).
		Dur("job_timeout", q.cfg.JobTimeout).
		Msg("render queue started")
	q.launchAll(launches)
}

// Stop rejects new jobs, fails pending ones, cancels active renders and
// waits for them to wind down or for ctx to expire.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true

	for _, e := range q.pending {
		q.terminateLocked(e, models.JobStatusFailed, ErrQueueStopped.Error())
		q.publishLocked(e.view())
	}
	q.pending = nil
	q.gaugesLocked()
	q.mu.Unlock()

	q.stopAll(ErrQueueStopped)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for active renders: %w", ctx.Err())
	}

	if err := q.drainObservers(ctx); err != nil {
		return err
	}
	q.logger.Info().Msg("render queue stopped")
	return nil
}

// Enqueue appends a pending job and admits it if a slot is free.
func (q *Queue) Enqueue(recipe *models.Recipe) (string, error) {
	if recipe == nil {
		return "", ErrNilRecipe
	}

	e := &entry{
		job: models.Job{
			ID:          uuid.NewString(),
			Status:      models.JobStatusPending,
			CreatedAt:   q.now(),
			TotalFrames: recipe.Meta.TotalFrames,
		},
		recipe: recipe,
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return "", ErrQueueStopped
	}
	q.pending = append(q.pending, e)
	views := []models.JobView{q.viewLocked(e)}
	var launches []launch
	if q.started {
		admitted, ls := q.dispatchLocked()
		views = append(views, admitted...)
		launches = ls
	}
	q.publishLocked(views...)
	q.gaugesLocked()
	q.mu.Unlock()

	metrics.JobsEnqueued.Inc()
	q.logger.Info().Str("job_id", e.job.ID).Int("frames", e.job.TotalFrames).Msg("job enqueued")
	q.launchAll(launches)
	return e.job.ID, nil
}

// GetJob returns a snapshot of the job. Pending jobs carry a 1-based
// FIFO position.
func (q *Queue) GetJob(id string) (models.JobView, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.active[id]; ok {
		return e.view(), true
	}
	if e, ok := q.finished[id]; ok {
		return e.view(), true
	}
	for _, e := range q.pending {
		if e.job.ID == id {
			return q.viewLocked(e), true
		}
	}
	return models.JobView{}, false
}

// Cancel cancels a pending or rendering job. It returns false for unknown
// or already terminal jobs. A rendering job turns cancelled once its
// renderer has torn down.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()

	if e, ok := q.active[id]; ok {
		cancel := e.cancel
		q.mu.Unlock()

		q.logger.Info().Str("job_id", id).Msg("cancelling active job")
		cancel(models.ErrCancelled)
		return true
	}

	for i, e := range q.pending {
		if e.job.ID != id {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.terminateLocked(e, models.JobStatusCancelled, models.ErrCancelled.Error())
		q.gaugesLocked()
		q.publishLocked(e.view())
		q.mu.Unlock()

		q.logger.Info().Str("job_id", id).Msg("pending job cancelled")
		return true
	}

	q.mu.Unlock()
	return false
}

// Stats counts jobs by lifecycle stage. Completed includes every terminal
// job still retained.
func (q *Queue) Stats() models.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return models.QueueStats{
		Pending:   len(q.pending),
		Active:    len(q.active),
		Completed: len(q.finished),
	}
}

// Cleanup evicts terminal jobs that finished more than maxAge ago and
// returns how many were removed. Output files are left alone.
func (q *Queue) Cleanup(maxAge time.Duration) int {
	cutoff := q.now().Add(-maxAge)

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, e := range q.finished {
		if e.job.CompletedAt != nil && e.job.CompletedAt.Before(cutoff) {
			delete(q.finished, id)
			removed++
		}
	}
	if removed > 0 {
		q.logger.Debug().Int("removed", removed).Int("retained", len(q.finished)).Msg("evicted finished jobs")
	}
	return removed
}

// launch is a job admitted under the lock whose goroutine starts once the
// lock is released.
type launch struct {
	ctx     context.Context
	e       *entry
	release func()
}

// dispatchLocked admits FIFO heads while slots are free.
func (q *Queue) dispatchLocked() ([]models.JobView, []launch) {
	var (
		views    []models.JobView
		launches []launch
	)

	for !q.stopped && len(q.active) < q.cfg.MaxConcurrent && len(q.pending) > 0 {
		e := q.pending[0]
		q.pending = q.pending[1:]

		ctx, cancel := context.WithCancelCause(q.baseCtx)
		runCtx, stopTimer := ctx, context.CancelFunc(func() {})
		if q.cfg.JobTimeout > 0 {
			runCtx, stopTimer = context.WithTimeoutCause(ctx, q.cfg.JobTimeout, models.ErrJobTimeout)
		}
		e.cancel = cancel

		e.job.Status = models.JobStatusRendering
		e.job.StartedAt = models.TimePtr(q.now())
		q.active[e.job.ID] = e
		views = append(views, e.view())

		q.wg.Add(1)
		launches = append(launches, launch{ctx: runCtx, e: e, release: func() {
			stopTimer()
			cancel(nil)
		}})
	}

	q.gaugesLocked()
	return views, launches
}

func (q *Queue) launchAll(launches []launch) {
	for _, l := range launches {
		go q.run(l.ctx, l.e, l.release)
	}
}

func (q *Queue) run(ctx context.Context, e *entry, release func()) {
	defer q.wg.Done()
	defer release()

	id := e.job.ID
	q.logger.Info().Str("job_id", id).Msg("job started")

	start := time.Now()
	path, err := q.newRenderer(id).Render(ctx, e.recipe, id, func(p models.Progress) {
		q.onProgress(e, p)
	})
	elapsed := time.Since(start)

	q.mu.Lock()
	delete(q.active, id)
	switch {
	case err == nil:
		e.job.Progress = 100
		e.job.OutputPath = models.StrPtr(path)
		e.job.ETASeconds = nil
		q.terminateLocked(e, models.JobStatusCompleted, "")
	case errors.Is(err, models.ErrCancelled):
		q.terminateLocked(e, models.JobStatusCancelled, models.ErrCancelled.Error())
	default:
		q.terminateLocked(e, models.JobStatusFailed, err.Error())
	}
	views := []models.JobView{e.view()}
	admitted, launches := q.dispatchLocked()
	q.publishLocked(append(views, admitted...)...)
	q.mu.Unlock()

	metrics.JobDuration.WithLabelValues(string(e.job.Status)).Observe(elapsed.Seconds())

	event := q.logger.Info()
	if e.job.Status == models.JobStatusFailed {
		event = q.logger.Error().Err(err)
	}
	event.Str("job_id", id).
		Str("status", string(e.job.Status)).
		Dur("elapsed", elapsed).
		Msg("job finished")

	q.launchAll(launches)
}

func (q *Queue) onProgress(e *entry, p models.Progress) {
	q.mu.Lock()
	if e.job.Status != models.JobStatusRendering {
		q.mu.Unlock()
		return
	}
	// 100 is reserved for a finished encode.
	e.job.Progress = min(p.Percent, 99)
	e.job.RenderFPS = p.FPS
	e.job.EncodedFrames = p.EncodedFrames
	eta := p.ETA.Seconds()
	e.job.ETASeconds = &eta
	q.publishLocked(e.view())
	q.mu.Unlock()
}

// terminateLocked moves e to the finished set in a terminal status.
func (q *Queue) terminateLocked(e *entry, status models.JobStatus, errMsg string) {
	e.job.Status = status
	e.job.CompletedAt = models.TimePtr(q.now())
	if errMsg != "" {
		e.job.Error = models.StrPtr(errMsg)
	}
	e.recipe = nil
	q.finished[e.job.ID] = e
	metrics.JobsTotal.WithLabelValues(string(status)).Inc()
}

func (q *Queue) viewLocked(e *entry) models.JobView {
	v := e.view()
	if e.job.Status != models.JobStatusPending {
		return v
	}
	for i, p := range q.pending {
		if p == e {
			pos := i + 1
			v.Position = &pos
			break
		}
	}
	return v
}

func (q *Queue) gaugesLocked() {
	metrics.JobsPending.Set(float64(len(q.pending)))
	metrics.JobsActive.Set(float64(len(q.active)))
}

// publishLocked queues snapshots for the delivery goroutine. Holding mu
// while appending keeps observers in step with the order of mutations.
func (q *Queue) publishLocked(views ...models.JobView) {
	if len(views) == 0 {
		return
	}
	q.events = append(q.events, views...)
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// deliver hands queued snapshots to observers until the queue is stopped
// and nothing is left to send.
func (q *Queue) deliver() {
	defer close(q.delivered)

	for {
		q.mu.Lock()
		batch := q.events
		q.events = nil
		closing := q.closing
		observers := append([]Observer(nil), q.observers...)
		q.mu.Unlock()

		notifyAll(observers, batch)

		if len(batch) == 0 {
			if closing {
				return
			}
			<-q.wake
		}
	}
}

// drainObservers flushes the remaining snapshots and ends delivery.
func (q *Queue) drainObservers(ctx context.Context) error {
	q.mu.Lock()
	q.closing = true
	if !q.delivering {
		// Never started: nothing consumed the backlog, send it here.
		batch := q.events
		q.events = nil
		observers := append([]Observer(nil), q.observers...)
		q.mu.Unlock()

		notifyAll(observers, batch)
		return nil
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.mu.Unlock()

	select {
	case <-q.delivered:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("delivering job updates: %w", ctx.Err())
	}
}

func notifyAll(observers []Observer, views []models.JobView) {
	for _, v := range views {
		for _, o := range observers {
			o.Observe(v)
		}
	}
}
