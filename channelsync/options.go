package channelsync

import (
	"log/slog"
	"time"

	"github.com/commercekit/channelsync/breaker"
	"github.com/commercekit/channelsync/logging"
)

// Option configures a Service at construction time. All collaborators are
// dependency-injected; the engine holds no process-wide singletons.
type Option func(*Service)

// WithPublisher injects the event publisher. Defaults to NoOpPublisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithBreaker injects a pre-built circuit breaker. By default the service
// constructs one with breaker.DefaultConfig.
func WithBreaker(b *breaker.Breaker) Option {
	return func(s *Service) { s.breaker = b }
}

// WithMetrics injects a metrics collector. Defaults to NoOpMetricsCollector.
func WithMetrics(m MetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger injects a structured logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = &logging.Logger{Logger: l} }
}

// WithContentionPolicy sets the policy for contended conflict fields.
// Defaults to LastWriterWins.
func WithContentionPolicy(p ContentionPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithBatchSize sets the bulk synchronization batch size. Defaults to 100.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithBatchPause sets the pause inserted between bulk batches to bound load
// on the persistence layer. Defaults to 100ms.
func WithBatchPause(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.batchPause = d
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}
