package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned to callers while the breaker refuses traffic.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker's position in its closed/open/half-open cycle.
type State int

const (
	// Closed lets every request through while counting outcomes.
	Closed State = iota
	// Open refuses requests until the cool-off window has passed.
	Open
	// HalfOpen lets a single probe through to test the dependency.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func (s State) gaugeValue() float64 {
	switch s {
	case Closed:
		return 0
	case Open:
		return 1
	case HalfOpen:
		return 2
	default:
		return -1
	}
}

// window accumulates request outcomes while the breaker is closed.
type window struct {
	failures  int
	successes int
}

func (w *window) total() int { return w.failures + w.successes }

func (w *window) ratio() float64 {
	t := w.total()
	if t == 0 {
		return 0
	}
	return float64(w.failures) / float64(t)
}

// decay halves both counters so one bad minute against Stripe does not
// dominate the ratio forever.
func (w *window) decay() {
	w.successes = int(math.Ceil(float64(w.successes) * 0.5))
	w.failures = int(math.Ceil(float64(w.failures) * 0.5))
}

// Breaker trips open once the failure ratio over a minimum sample size
// crosses the configured threshold. One breaker guards one downstream
// target, named via WithTarget for the telemetry labels.
type Breaker struct {
	mu       sync.Mutex
	state    State
	win      window
	openedAt time.Time

	minRequests  int
	failureRatio float64
	openFor      time.Duration

	target string
	logger *zerolog.Logger
}

// NewBreaker builds a closed breaker. Zero or out-of-range arguments fall
// back to sane values rather than producing a breaker that can never trip.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 1
	}
	if failureRatio <= 0 {
		failureRatio = 0.5
	}
	if failureRatio > 1 {
		failureRatio = 1
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		state:        Closed,
		minRequests:  minRequests,
		failureRatio: failureRatio,
		openFor:      openFor,
	}
}

// WithTarget names the dependency this breaker guards; the name becomes the
// label on the breaker gauges and counters.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	b.publishStateLocked()
	return b
}

// WithLogger sets the fallback logger for transition events. A request-scoped
// logger on the context still wins when present.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = &logger
	return b
}

// Allow reports whether the caller may issue a request right now. An open
// breaker whose cool-off has elapsed flips to half-open and admits the
// caller as the probe.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return true
	}
	if time.Since(b.openedAt) < b.openFor {
		return false
	}
	b.transitionLocked(ctx, HalfOpen)
	return true
}

// Report feeds a request outcome back into the state machine. The half-open
// probe decides alone: one success closes the breaker, one failure re-opens
// it for another cool-off.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		// Late reports from requests admitted before the trip.
		return
	case HalfOpen:
		if success {
			b.transitionLocked(ctx, Closed)
		} else {
			b.transitionLocked(ctx, Open)
		}
		return
	}

	if success {
		b.win.successes++
	} else {
		b.win.failures++
	}
	if b.win.total() < b.minRequests {
		return
	}
	if b.win.ratio() >= b.failureRatio {
		b.transitionLocked(ctx, Open)
		return
	}
	if b.win.total() > b.minRequests*2 {
		b.win.decay()
	}
}

func (b *Breaker) transitionLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		b.publishStateLocked()
		return
	}
	b.state = next
	b.win = window{}
	switch next {
	case Open:
		b.openedAt = time.Now()
	case Closed:
		b.openedAt = time.Time{}
	}
	b.publishStateLocked()

	label := b.targetLabel()
	if BreakerTransitions != nil {
		BreakerTransitions.WithLabelValues(label, prev.String(), next.String()).Inc()
	}
	if next == Open && BreakerOpenedTotal != nil {
		BreakerOpenedTotal.WithLabelValues(label).Inc()
	}
	b.logTransition(ctx, prev, next)
}

func (b *Breaker) publishStateLocked() {
	if BreakerState == nil {
		return
	}
	BreakerState.WithLabelValues(b.targetLabel()).Set(b.state.gaugeValue())
}

func (b *Breaker) logTransition(ctx context.Context, from, to State) {
	logger := b.logger
	if ctxLogger := zerolog.Ctx(ctx); ctxLogger != nil {
		scoped := ctxLogger.With().Logger()
		logger = &scoped
	}
	if logger == nil {
		return
	}
	evt := logger.Info().
		Str("target", b.targetLabel()).
		Str("from_state", from.String()).
		Str("to_state", to.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) targetLabel() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}

// Backoff computes the delay before retry number attempt: base doubled per
// attempt, spread by +/- jitterPct so a burst of webhook retries does not
// hammer the dependency in lockstep.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if jitterPct <= 0 {
		return d
	}
	spread := float64(d) * jitterPct
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
