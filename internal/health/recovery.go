package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/tempo-air-quality/internal/traffic"
)

// ValidateFunc re-checks upstream availability. nil means recovered.
type ValidateFunc func(ctx context.Context) error

// Recovery re-validates upstreams on a Fibonacci schedule after the service
// turns degraded, and clears the error window once validation passes.
type Recovery struct {
	validate    ValidateFunc
	delays      []time.Duration
	onExhausted func()
	logger      *zap.Logger
	attemptTime time.Duration

	trigger chan struct{}
	running atomic.Bool
	once    sync.Once
	after   func(time.Duration) <-chan time.Time
}

// NewRecovery builds a Recovery. Delays run initial, 2·initial, 3·initial, 5·initial... up to max.
// onExhausted is called when the last attempt fails.
func NewRecovery(validate ValidateFunc, initial, max time.Duration, onExhausted func(), logger *zap.Logger) *Recovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	if onExhausted == nil {
		onExhausted = func() {}
	}
	return &Recovery{
		validate:    validate,
		delays:      FibonacciDelays(initial, max),
		onExhausted: onExhausted,
		logger:      logger,
		attemptTime: 10 * time.Second,
		trigger:     make(chan struct{}, 1),
		after:       time.After,
	}
}

// Start listens for Notify until ctx is done. Only one recovery runs at a time.
func (r *Recovery) Start(ctx context.Context) {
	r.once.Do(func() {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-r.trigger:
					if r.running.Swap(true) {
						continue
					}
					go func() {
						defer r.running.Store(false)
						r.Run(ctx)
					}()
				}
			}
		}()
	})
}

// Notify requests a recovery run. Non-blocking.
func (r *Recovery) Notify() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run walks the delay schedule, validating after each delay. Returns true when recovered.
func (r *Recovery) Run(ctx context.Context) bool {
	if len(r.delays) == 0 {
		return false
	}
	for i, d := range r.delays {
		select {
		case <-ctx.Done():
			return false
		case <-r.after(d):
		}
		attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTime)
		err := r.validate(attemptCtx)
		cancel()
		if err == nil {
			traffic.Reset()
			r.logger.Info("recovered from degraded state", zap.Int("attempt", i+1))
			return true
		}
		r.logger.Warn("recovery attempt failed", zap.Int("attempt", i+1), zap.Error(err))
	}
	r.logger.Error("recovery attempts exhausted")
	r.onExhausted()
	return false
}

// FibonacciDelays returns initial·(1, 2, 3, 5, 8, ...) capped at max. Empty when initial <= 0 or max < initial.
func FibonacciDelays(initial, max time.Duration) []time.Duration {
	if initial <= 0 || max < initial {
		return nil
	}
	var out []time.Duration
	for a, b := int64(1), int64(2); ; a, b = b, a+b {
		d := time.Duration(a) * initial
		if d > max {
			break
		}
		out = append(out, d)
	}
	return out
}
