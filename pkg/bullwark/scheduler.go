package bullwark

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RefreshScheduler periodically checks the token expiry and starts a
// refresh once it is within the buffer. At most one refresh runs at a
// time; a tick that finds one in flight does nothing.
//
// Idle -> Armed on Arm, Armed -> Idle on Disarm. A failed refresh is
// reported to the error sink and the scheduler stays armed.
type RefreshScheduler struct {
	refresh  func(ctx context.Context) error
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	onError  func(error)

	mu     sync.Mutex
	expiry func() (time.Time, bool)
	buffer time.Duration
	stopCh chan struct{}
	doneCh chan struct{}

	inFlight atomic.Bool
	attempts sync.WaitGroup
}

// NewRefreshScheduler returns an idle scheduler that calls refresh. A
// non-positive interval defaults to 30s.
func NewRefreshScheduler(refresh func(ctx context.Context) error, interval time.Duration, logger *slog.Logger) *RefreshScheduler {
	if interval <= 0 {
		interval = DefaultConfig().RefreshCheckInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshScheduler{
		refresh:  refresh,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		onError:  func(error) {},
	}
}

// SetErrorSink sets where failed refresh attempts are reported.
func (s *RefreshScheduler) SetErrorSink(fn func(error)) {
	if fn == nil {
		fn = func(error) {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Arm starts the periodic check against expiry. It does nothing if the
// scheduler is already armed.
func (s *RefreshScheduler) Arm(expiry func() (time.Time, bool), buffer time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh != nil {
		return
	}
	s.expiry = expiry
	s.buffer = buffer
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(s.stopCh, s.doneCh)
	s.logger.Debug("refresh scheduler armed", "interval", s.interval, "buffer", buffer)
}

// Disarm stops the periodic check and waits for the loop to exit. A refresh
// already in flight is left to finish. Safe to call when idle.
func (s *RefreshScheduler) Disarm() {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	done := s.doneCh
	s.stopCh, s.doneCh = nil, nil
	s.expiry = nil
	s.mu.Unlock()

	<-done
	s.logger.Debug("refresh scheduler disarmed")
}

func (s *RefreshScheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil
}

func (s *RefreshScheduler) InFlight() bool {
	return s.inFlight.Load()
}

// Wait blocks until no refresh attempt is running.
func (s *RefreshScheduler) Wait() {
	s.attempts.Wait()
}

// CheckNow runs one tick immediately and reports whether it started a
// refresh attempt.
func (s *RefreshScheduler) CheckNow() bool {
	return s.evaluate()
}

func (s *RefreshScheduler) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evaluate()
		case <-stop:
			return
		}
	}
}

func (s *RefreshScheduler) evaluate() bool {
	s.mu.Lock()
	expiry, buffer, onError := s.expiry, s.buffer, s.onError
	s.mu.Unlock()

	if expiry == nil {
		return false
	}
	exp, ok := expiry()
	if !ok {
		return false
	}
	if s.now().Add(buffer).Before(exp) {
		return false
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("refresh already in flight, skipping tick")
		return false
	}

	s.attempts.Add(1)
	go func() {
		defer s.attempts.Done()
		defer s.inFlight.Store(false)

		// Not tied to the scheduler lifetime, a disarm doesn't cancel it.
		if err := s.refresh(context.Background()); err != nil {
			s.logger.Warn("background token refresh failed", "error", err)
			onError(err)
		}
	}()
	return true
}
