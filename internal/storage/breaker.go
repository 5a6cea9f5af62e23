package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kubo-market/sensorwatch/internal/domain"
)

// Sink is an external store that receives committed state changes.
type Sink interface {
	Name() string
	SensorRegistered(ctx context.Context, cfg domain.SensorConfig) error
	AnomalyAdmitted(ctx context.Context, rec domain.AnomalyRecord) error
}

// ErrSinkUnavailable is returned while a sink's breaker is open.
var ErrSinkUnavailable = errors.New("sink unavailable")

// BreakerSettings configures the circuit breaker around a sink.
type BreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
	// CallTimeout bounds each delivery. Zero leaves the caller's context as is.
	CallTimeout time.Duration
}

// DefaultBreakerSettings returns the settings used when none are configured.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:  1,
		Interval:     30 * time.Second,
		Timeout:      10 * time.Second,
		MinRequests:  3,
		FailureRatio: 0.6,
		CallTimeout:  2 * time.Second,
	}
}

// BreakerSink stops calling a failing sink until it has had time to recover.
type BreakerSink struct {
	next        Sink
	cb          *gobreaker.CircuitBreaker
	callTimeout time.Duration
}

// NewBreakerSink wraps next. onChange, when non-nil, is told about every
// breaker state transition.
func NewBreakerSink(next Sink, s BreakerSettings, onChange func(name string, from, to gobreaker.State)) *BreakerSink {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests || counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= s.FailureRatio
		},
		OnStateChange: onChange,
		IsSuccessful: func(err error) bool {
			// A cancelled caller says nothing about the sink's health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerSink{next: next, cb: cb, callTimeout: s.CallTimeout}
}

func (b *BreakerSink) Name() string { return b.next.Name() }

// State reports the breaker's current state.
func (b *BreakerSink) State() gobreaker.State { return b.cb.State() }

func (b *BreakerSink) SensorRegistered(ctx context.Context, cfg domain.SensorConfig) error {
	return b.call(ctx, func(ctx context.Context) error {
		return b.next.SensorRegistered(ctx, cfg)
	})
}

func (b *BreakerSink) AnomalyAdmitted(ctx context.Context, rec domain.AnomalyRecord) error {
	return b.call(ctx, func(ctx context.Context) error {
		return b.next.AnomalyAdmitted(ctx, rec)
	})
}

func (b *BreakerSink) call(ctx context.Context, fn func(context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		if b.callTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.callTimeout)
			defer cancel()
		}
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrSinkUnavailable, err)
	}
	return err
}
