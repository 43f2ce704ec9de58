package devserver

import (
	"log/slog"
	"time"

	"github.com/aussiebroadwan/bullwark/pkg/bullwarktest"
)

// HousekeepingService periodically forgets expired access tokens and, when
// enabled, rotates the signing key so clients exercise JWKS refetching.
type HousekeepingService struct {
	Fake     *bullwarktest.Fake
	Logger   *slog.Logger
	Interval time.Duration

	// RotateEvery is how often the signing key rotates. Zero disables it.
	RotateEvery time.Duration
	KeepKeys    int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. If interval is 0 or
// negative, defaults to 1 hour.
func NewHousekeepingService(fake *bullwarktest.Fake, logger *slog.Logger, interval, rotateEvery time.Duration, keepKeys int) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Fake:        fake,
		Logger:      logger,
		Interval:    interval,
		RotateEvery: rotateEvery,
		KeepKeys:    keepKeys,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start runs the worker in the background. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval, "rotate_every", s.RotateEvery)
}

// Stop blocks until the worker has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	var rotate <-chan time.Time
	if s.RotateEvery > 0 {
		rt := time.NewTicker(s.RotateEvery)
		defer rt.Stop()
		rotate = rt.C
	}

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-rotate:
			s.rotate()
		case <-s.stopCh:
			return
		}
	}
}

func (s *HousekeepingService) cleanup() {
	n := s.Fake.PurgeExpired()
	s.Logger.Debug("housekeeping cleanup completed", "expired_tokens", n)
}

func (s *HousekeepingService) rotate() {
	kid, err := s.Fake.RotateKey(true)
	if err != nil {
		s.Logger.Error("failed to rotate signing key", "error", err)
		return
	}
	retired := s.Fake.RetireKeys(s.KeepKeys)
	s.Logger.Info("signing key rotated", "kid", kid, "retired", retired)
}
