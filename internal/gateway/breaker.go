package gateway

import (
	"context"
	"sync"
	"time"

	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

// BreakerState is the lifecycle state of one circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig carries the thresholds shared by all endpoint groups.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	ResetTimeout     time.Duration // how long to stay open before trialling
	SuccessThreshold int           // consecutive half-open successes to close
}

// Breaker is a circuit breaker for one logical endpoint group. It does
// not retry: it only sheds load, rejecting calls with
// xerrors.ErrGatewayUnavailable while open. Retrying is the caller's
// job (scheduler tick or reconciliation).
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu            sync.Mutex
	state         BreakerState
	failures      int
	successes     int
	openedAt      time.Time
	halfOpenInUse int
}

func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: BreakerClosed,
	}
}

// Name identifies the endpoint group this breaker protects.
func (b *Breaker) Name() string { return b.name }

// State reports the current state, advancing OPEN to HALF_OPEN if the
// reset timeout already elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Do runs fn if the breaker admits the call and records the outcome.
// A context deadline error counts as a failure for breaker purposes,
// but the caller must still treat it as "unknown outcome", never as a
// confirmed failure of the remote operation.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err == nil)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		// Admit only up to SuccessThreshold trial calls at a time.
		if b.halfOpenInUse >= b.cfg.SuccessThreshold {
			return xerrors.ErrGatewayUnavailable
		}
		b.halfOpenInUse++
		return nil
	default:
		return xerrors.ErrGatewayUnavailable
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case BreakerHalfOpen:
		b.halfOpenInUse--
		if !success {
			b.trip()
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

// trip moves to OPEN and stamps the cooldown start.
func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.failures = 0
	b.successes = 0
	b.halfOpenInUse = 0
}

// maybeHalfOpen transitions OPEN -> HALF_OPEN once the timeout elapsed.
// Callers must hold b.mu.
func (b *Breaker) maybeHalfOpen() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.state = BreakerHalfOpen
		b.successes = 0
		b.halfOpenInUse = 0
	}
}

// BreakerSet owns one breaker per logical endpoint group.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
}

func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for an endpoint group, creating it on first use.
func (s *BreakerSet) For(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		b = NewBreaker(name, s.cfg)
		s.breakers[name] = b
	}
	return b
}
