// Package scheduler runs the two periodic jobs the store's write path
// depends on but never drives itself: flushing the sampling middleware's
// pending entries and draining deferred saves. It is a fixed two-job
// specialization of the teacher's task_manager goroutine-lifecycle
// pattern (context-based cancellation, a WaitGroup per loop, panic
// recovery around the work function) rather than an open-ended task
// registry, since this scheduler only ever needs these two jobs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"actiontrace/internal/atmetrics"
	"actiontrace/internal/store"

	"github.com/sirupsen/logrus"
)

// Flusher is satisfied by the sampling middleware. Kept as a narrow
// interface so the scheduler can be tested without a real Middleware.
type Flusher interface {
	Flush()
}

// Saver is satisfied by the persistence manager.
type Saver interface {
	Save(s *store.Store) error
}

// Notifier is satisfied by the Event Store's DrainNotifications method.
// Draining rides the same 200ms tick as the sampling flush: both stand
// in for the single "main-thread update" callback §5 describes, so a
// host never needs more than this one clock to keep notifications and
// pending samples from growing unbounded.
type Notifier interface {
	DrainNotifications()
}

const (
	// flushInterval matches the sampling middleware's own tick cadence;
	// the scheduler owns the ticking instead of the middleware starting
	// its own goroutine, so a host only ever has one clock driving both
	// jobs.
	flushInterval = 200 * time.Millisecond

	// minSaveInterval throttles how often a dirty store is actually
	// written to disk, regardless of how often a save is requested.
	minSaveInterval = 1 * time.Second

	// retryCap bounds how long the scheduler waits before retrying a
	// save request that arrived before minSaveInterval had elapsed
	// since the last save.
	retryCap = 500 * time.Millisecond
)

// Scheduler owns the sampling-flush tick and the deferred-save drain
// loop. Construct with New, wire a store and persistence manager via
// WithSave, then Start/Stop it alongside the rest of the process.
type Scheduler struct {
	flusher  Flusher
	notifier Notifier
	saver    Saver
	dirty    *store.Store
	logger   *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	requestSave chan struct{}

	mu         sync.Mutex
	lastSaveAt time.Time
}

// New returns a Scheduler driving flusher's periodic flush. Call
// WithSave before Start to also enable the deferred-save job; a
// Scheduler with no Saver configured only runs the flush job.
func New(flusher Flusher, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		flusher:     flusher,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		requestSave: make(chan struct{}, 1),
	}
}

// WithSave attaches the store and persistence manager backing the
// deferred-save job. Must be called before Start.
func (s *Scheduler) WithSave(dirty *store.Store, saver Saver) *Scheduler {
	s.dirty = dirty
	s.saver = saver
	return s
}

// WithNotifications attaches the store whose EventRecorded queue should
// be drained on every flush tick. Must be called before Start; optional —
// a Scheduler with no Notifier configured simply never drains (the
// store's own max_pending_notifications=256 force-drain still applies).
func (s *Scheduler) WithNotifications(n Notifier) *Scheduler {
	s.notifier = n
	return s
}

// Start launches the flush loop and, if WithSave was called, the save
// drain loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.flushLoop()

	if s.saver != nil && s.dirty != nil {
		s.wg.Add(1)
		go s.saveLoop()
	}
}

// Stop cancels both loops and waits for them to exit. If a save is
// still pending when Stop is called, it is flushed synchronously
// before returning so shutdown never silently drops it.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()

	if s.saver != nil && s.dirty != nil && s.dirty.IsDirty() {
		s.runSave()
	}
}

// RequestSave signals the save loop that the store has new dirty
// state. Non-blocking: if a request is already queued, this is a
// no-op, since the drain loop will pick up the latest dirty state on
// its next pass regardless of how many times RequestSave was called.
func (s *Scheduler) RequestSave() {
	select {
	case s.requestSave <- struct{}{}:
	default:
	}
}

func (s *Scheduler) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runFlush()
		}
	}
}

func (s *Scheduler) runFlush() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("sampling flush job panicked, recovering")
		}
	}()
	start := time.Now()
	s.flusher.Flush()
	if s.notifier != nil {
		s.notifier.DrainNotifications()
	}
	atmetrics.RecordSchedulerJob("sampling_flush", time.Since(start))
}

// saveLoop drains deferred-save requests, coalescing any that arrive
// within minSaveInterval of the last save into a single retry timer
// instead of dropping them.
func (s *Scheduler) saveLoop() {
	defer s.wg.Done()

	var retry *time.Timer
	var retryC <-chan time.Time

	for {
		select {
		case <-s.ctx.Done():
			if retry != nil {
				retry.Stop()
			}
			return
		case <-s.requestSave:
			if wait, ok := s.throttleRemaining(); ok {
				if retry != nil {
					retry.Stop()
				}
				d := wait
				if d > retryCap {
					d = retryCap
				}
				retry = time.NewTimer(d)
				retryC = retry.C
				continue
			}
			s.runSave()
			if s.dirty.IsDirty() {
				s.RequestSave()
			}
		case <-retryC:
			retryC = nil
			s.RequestSave()
		}
	}
}

// throttleRemaining reports whether a save is still within the
// minimum interval and, if so, how much longer to wait.
func (s *Scheduler) throttleRemaining() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := time.Since(s.lastSaveAt)
	if s.lastSaveAt.IsZero() || elapsed >= minSaveInterval {
		return 0, false
	}
	return minSaveInterval - elapsed, true
}

func (s *Scheduler) runSave() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("deferred save job panicked, recovering")
		}
	}()
	if !s.dirty.IsDirty() {
		return
	}
	start := time.Now()
	if err := s.saver.Save(s.dirty); err != nil {
		s.logger.WithError(err).Error("deferred save failed")
	}
	atmetrics.RecordSchedulerJob("deferred_save", time.Since(start))

	s.mu.Lock()
	s.lastSaveAt = time.Now()
	s.mu.Unlock()
}
