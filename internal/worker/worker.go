// Package worker runs the single background consumer that claims jobs from the
// store, admits them through the rate limiter, dispatches them by type and
// writes back a terminal or retry state.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kiranshivaraju/inboxpilot/internal/metrics"
	"github.com/kiranshivaraju/inboxpilot/internal/ratelimit"
	"github.com/kiranshivaraju/inboxpilot/internal/store"
	"github.com/kiranshivaraju/inboxpilot/pkg/models"
)

const (
	aliveWindow       = 30 * time.Second
	claimErrorBackoff = 2 * time.Second
	minDeferSeconds   = 2
	statsRefresh      = 15 * time.Second
)

// HandlerFunc executes one job and returns its JSON-encodable result.
type HandlerFunc func(ctx context.Context, job *models.Job) (any, error)

// Config holds worker configuration.
type Config struct {
	PollInterval       time.Duration
	RetryBase          time.Duration
	MaxRetries         int
	RateLimitPerMinute int
	MinCallInterval    time.Duration
	StaleAfter         time.Duration
}

// Status is the liveness snapshot served by the debug endpoint.
type Status struct {
	Running       bool  `json:"running"`
	LastHeartbeat int64 `json:"last_heartbeat"`
	Alive         bool  `json:"alive"`
}

// Worker owns the background loop. The zero value is not usable; call New.
type Worker struct {
	jobs     store.JobStore
	limiter  ratelimit.Limiter
	handlers map[models.JobType]HandlerFunc
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	running   bool
	heartbeat time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	lastStats time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithClock overrides the time source used for scheduling and heartbeats.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

func New(jobs store.JobStore, limiter ratelimit.Limiter, handlers map[models.JobType]HandlerFunc, cfg Config, opts ...Option) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 20
	}
	w := &Worker{
		jobs:     jobs,
		limiter:  limiter,
		handlers: handlers,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the loop. Calling Start on a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	if w.cfg.StaleAfter > 0 {
		n, err := w.jobs.RequeueStale(ctx, w.now().Add(-w.cfg.StaleAfter))
		if err != nil {
			w.logger.Error("requeueing stale jobs", "error", err)
		} else if n > 0 {
			w.logger.Warn("requeued stale processing jobs", "count", n)
		}
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	w.heartbeat = w.now()

	w.logger.Info("worker started",
		"poll_interval", w.cfg.PollInterval,
		"max_retries", w.cfg.MaxRetries,
		"rate_limit_per_minute", w.cfg.RateLimitPerMinute,
	)
	go w.loop(loopCtx, w.done)
}

// Stop clears the running flag and waits for the current cycle to finish.
// An in-flight job is not interrupted.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	done := w.done
	w.mu.Unlock()

	<-done
	w.cancel()
	w.logger.Info("worker stopped")
}

func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Status{Running: w.running}
	if !w.heartbeat.IsZero() {
		st.LastHeartbeat = w.heartbeat.Unix()
	}
	st.Alive = w.running && w.now().Sub(w.heartbeat) < aliveWindow
	return st
}

func (w *Worker) isRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) beat() {
	w.mu.Lock()
	w.heartbeat = w.now()
	w.mu.Unlock()
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for w.isRunning() {
		start := time.Now()
		job, err := w.jobs.ClaimNext(ctx, w.now().Unix())
		metrics.ObserveClaim(time.Since(start))

		switch {
		case errors.Is(err, store.ErrEmpty):
			w.beat()
			w.refreshStats(ctx)
			w.sleep(w.cfg.PollInterval)
		case err != nil:
			w.logger.Error("claiming next job", "error", err)
			w.sleep(claimErrorBackoff)
		default:
			w.Process(ctx, job)
			w.beat()
		}
	}
}

// sleep waits for d or until Stop is called, whichever comes first.
func (w *Worker) sleep(d time.Duration) {
	const tick = 50 * time.Millisecond
	deadline := time.Now().Add(d)
	for w.isRunning() {
		left := time.Until(deadline)
		if left <= 0 {
			return
		}
		time.Sleep(min(left, tick))
	}
}

func (w *Worker) refreshStats(ctx context.Context) {
	if time.Since(w.lastStats) < statsRefresh {
		return
	}
	w.lastStats = time.Now()
	st, err := w.jobs.Stats(ctx)
	if err != nil {
		w.logger.Warn("refreshing queue stats", "error", err)
		return
	}
	metrics.SetQueueDepth(st.Queued, st.Processing, st.Done, st.Error)
}

// NewJobID returns "job_" followed by a lowercase ULID. ULIDs made in the same
// process are strictly increasing, so ids sort in creation order.
func NewJobID() string {
	return "job_" + strings.ToLower(ulid.Make().String())
}
