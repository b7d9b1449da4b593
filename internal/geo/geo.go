package geo

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/diagnosis/chapterhub/internal/domain"
	"github.com/diagnosis/chapterhub/pkg/logger"
)

const DefaultTimeout = 15 * time.Second

// Options mirror the platform geolocation request. MaximumAge of zero forbids
// reusing a cached fix.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

type Provider interface {
	Locate(ctx context.Context, opts Options) (domain.LocationReading, error)
}

type ProviderFunc func(ctx context.Context, opts Options) (domain.LocationReading, error)

func (f ProviderFunc) Locate(ctx context.Context, opts Options) (domain.LocationReading, error) {
	return f(ctx, opts)
}

type Service struct {
	provider Provider
	opts     Options
}

// NewService wraps provider. A nil provider means the capability is absent.
func NewService(provider Provider, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		provider: provider,
		opts: Options{
			HighAccuracy: true,
			Timeout:      timeout,
			MaximumAge:   0,
		},
	}
}

func (s *Service) Options() Options {
	return s.opts
}

// RequestLocation performs one high-accuracy request. Every error it returns
// is a *Failure.
func (s *Service) RequestLocation(ctx context.Context) (domain.LocationReading, error) {
	if s == nil || s.provider == nil {
		return domain.LocationReading{}, &Failure{Kind: Unsupported}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	type result struct {
		reading domain.LocationReading
		err     error
	}
	done := make(chan result, 1)
	go func() {
		reading, err := s.provider.Locate(ctx, s.opts)
		done <- result{reading, err}
	}()

	select {
	case <-ctx.Done():
		logger.WarnContext(ctx, "Location request timed out", "timeout", s.opts.Timeout.String())
		return domain.LocationReading{}, &Failure{Kind: Timeout, Err: ctx.Err()}
	case res := <-done:
		if res.err != nil {
			return domain.LocationReading{}, classify(res.err)
		}
		if !valid(res.reading) {
			return domain.LocationReading{}, &Failure{Kind: PositionUnavailable, Err: errors.New("provider returned an invalid reading")}
		}
		return res.reading, nil
	}
}

func classify(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: Timeout, Err: err}
	}
	return &Failure{Kind: PositionUnavailable, Err: err}
}

func valid(r domain.LocationReading) bool {
	if math.IsNaN(r.Latitude) || math.IsNaN(r.Longitude) || math.IsNaN(r.AccuracyMeters) {
		return false
	}
	if r.Latitude < -90 || r.Latitude > 90 || r.Longitude < -180 || r.Longitude > 180 {
		return false
	}
	return r.AccuracyMeters >= 0
}
