// Package scheduler drives background auto-sync for the active profile: on
// every tick it fetches and, when local changes are waiting, pushes. It never
// pulls; bringing remote changes into the working copy is left to saves.
package scheduler

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/repo"
)

// TracerName is the instrumentation scope of the tick spans.
const TracerName = "github.com/notesync/notesync/scheduler"

// ErrTickInFlight is returned by Tick when another tick is still running.
var ErrTickInFlight = stderrors.New("scheduler: tick already in flight")

// Details is a snapshot of the scheduler's bookkeeping. Background push
// failures are otherwise invisible, so they are kept here for display.
type Details struct {
	Running       bool            `json:"running"`
	Interval      time.Duration   `json:"interval"`
	LastRun       time.Time       `json:"lastRun"`
	LastError     string          `json:"lastError,omitempty"`
	LastErrorCode errors.ErrorCode `json:"lastErrorCode,omitempty"`
	Ticks         uint64          `json:"ticks"`
	Skipped       uint64          `json:"skipped"`
	Pushes        uint64          `json:"pushes"`
}

// Scheduler runs ticks on a fixed interval. A tick that is still running when
// the next one is due causes that one to be skipped, never queued.
type Scheduler struct {
	provider repo.Provider
	guard    *repo.Guard
	logger   *slog.Logger
	tracer   trace.Tracer
	publish  func(repo.Status)
	now      func() time.Time

	inflight atomic.Bool
	ticks    sync.WaitGroup

	// lifecycle serializes Start, StartEvery and Stop
	lifecycle sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	details Details
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Scheduler) {
		s.tracer = tracer
	}
}

// WithPublisher receives the status computed by every successful tick.
func WithPublisher(publish func(repo.Status)) Option {
	return func(s *Scheduler) {
		s.publish = publish
	}
}

// WithClock overrides the time source used for Details.LastRun.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New returns a stopped scheduler for provider. Ticks take guard's write lock.
func New(provider repo.Provider, guard *repo.Guard, opts ...Option) *Scheduler {
	s := &Scheduler{
		provider: provider,
		guard:    guard,
		logger:   slog.Default(),
		publish:  func(repo.Status) {},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(TracerName)
	}
	return s
}

// Start begins ticking with the given settings. A running scheduler is
// stopped first, so Start also refreshes it. A disabled interval leaves the
// scheduler stopped.
func (s *Scheduler) Start(ctx context.Context, cfg repo.Interval) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stopLocked()
	if !cfg.Enabled {
		s.logger.Debug("auto-sync disabled")
		return nil
	}
	return s.startLocked(ctx, cfg.Duration())
}

// StartEvery begins ticking every interval, stopping a running scheduler
// first.
func (s *Scheduler) StartEvery(ctx context.Context, interval time.Duration) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stopLocked()
	return s.startLocked(ctx, interval)
}

// startLocked requires the lifecycle lock and a stopped scheduler.
func (s *Scheduler) startLocked(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.Newf(errors.CodeValidation, "scheduler.start", "interval must be positive, got %s", interval)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.details.Running = true
	s.details.Interval = interval
	s.mu.Unlock()

	// ticks outlive cancellation of the loop; Stop waits for them instead
	tickCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
			}

			if !s.inflight.CompareAndSwap(false, true) {
				s.mu.Lock()
				s.details.Skipped++
				s.mu.Unlock()
				s.logger.Debug("previous tick still running, skipping")
				continue
			}

			s.ticks.Add(1)
			go func() {
				defer s.ticks.Done()
				defer s.inflight.Store(false)
				_, _ = s.tick(tickCtx)
			}()
		}
	}()

	s.logger.Info("auto-sync started", "interval", interval)
	return nil
}

// Stop stops the ticker and waits for an in-flight tick to finish. Once Stop
// returns the scheduler issues no further provider calls. It is safe to call
// on a stopped scheduler.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stopLocked()
}

// stopLocked requires the lifecycle lock. The loop has exited before the
// in-flight ticks are awaited, so no tick can be added during the wait.
func (s *Scheduler) stopLocked() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.details.Running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		s.logger.Info("auto-sync stopped")
	}
	s.ticks.Wait()
}

// Running reports whether the ticker is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.details.Running
}

// Details returns a snapshot of the bookkeeping.
func (s *Scheduler) Details() Details {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.details
}

// Tick runs one tick now, outside the timer. It fails with ErrTickInFlight
// instead of waiting when a tick is already running.
func (s *Scheduler) Tick(ctx context.Context) (repo.Status, error) {
	if !s.inflight.CompareAndSwap(false, true) {
		return repo.Status{}, ErrTickInFlight
	}
	defer s.inflight.Store(false)
	return s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) (repo.Status, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.tick", trace.WithAttributes(
		attribute.String("notesync.provider", string(s.provider.Kind())),
	))
	defer span.End()

	var (
		st     repo.Status
		pushed bool
	)
	err := s.guard.Write(func() error {
		var err error
		if st, err = s.provider.Fetch(ctx); err != nil {
			return err
		}
		if st.PendingPushCount == 0 {
			return nil
		}
		if err := s.provider.Push(ctx); err != nil {
			return err
		}
		pushed = true
		st, err = s.provider.Status(ctx)
		return err
	})

	s.mu.Lock()
	s.details.Ticks++
	s.details.LastRun = s.now()
	s.details.LastError, s.details.LastErrorCode = "", ""
	if pushed {
		s.details.Pushes++
	}
	if err != nil {
		s.details.LastError = err.Error()
		s.details.LastErrorCode = errors.CodeOf(err)
	}
	s.mu.Unlock()

	span.SetAttributes(attribute.Bool("notesync.pushed", pushed))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errors.CodeOf(err)))
		s.logger.Warn("auto-sync tick failed", "code", errors.CodeOf(err), "error", err)
		return repo.Status{}, err
	}

	s.logger.Debug("auto-sync tick", "ahead", st.Ahead, "behind", st.Behind, "pushed", pushed)
	s.publish(st)
	return st, nil
}
