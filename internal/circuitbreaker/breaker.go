package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpenState reports that the breaker is refusing requests.
var ErrOpenState = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker guards one collection source. Dead onion mirrors stay dead for
// hours; the breaker keeps a failing source from consuming the fetch budget
// of every cycle until its cooldown passes.
type Breaker struct {
	mu           sync.RWMutex
	state        State
	failures     uint32
	requests     uint32
	nextAttempt  time.Time
	threshold    uint32
	failureRatio float64
	cooldown     time.Duration
	interval     time.Duration
	lastReset    time.Time
}

func New(threshold uint32, failureRatio float64, cooldown time.Duration) *Breaker {
	return &Breaker{
		state:        StateClosed,
		threshold:    threshold,
		failureRatio: failureRatio,
		cooldown:     cooldown,
		interval:     10 * time.Minute,
		lastReset:    time.Now(),
	}
}

// Execute runs fn if the breaker admits the request.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrOpenState
	}
	err := fn()
	b.recordResult(err == nil)
	return err
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Sub(b.lastReset) > b.interval && b.state == StateClosed {
		b.failures = 0
		b.requests = 0
		b.lastReset = now
		return true
	}

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.After(b.nextAttempt) {
			b.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		return true
	}
	return false
}

func (b *Breaker) recordResult(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests++
	if !success {
		b.failures++
	}
	now := time.Now()

	switch b.state {
	case StateClosed:
		if b.requests >= b.threshold {
			if float64(b.failures)/float64(b.requests) >= b.failureRatio {
				b.state = StateOpen
				b.nextAttempt = now.Add(b.cooldown)
			}
		}
	case StateHalfOpen:
		if success {
			b.state = StateClosed
			b.failures = 0
			b.requests = 0
			b.lastReset = now
		} else {
			b.state = StateOpen
			b.nextAttempt = now.Add(b.cooldown)
		}
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// PerSource keys breakers by collection source name.
type PerSource struct {
	mu           sync.Mutex
	m            map[string]*Breaker
	threshold    uint32
	failureRatio float64
	cooldown     time.Duration
}

func NewPerSource(threshold uint32, failureRatio float64, cooldown time.Duration) *PerSource {
	return &PerSource{
		m:            make(map[string]*Breaker),
		threshold:    threshold,
		failureRatio: failureRatio,
		cooldown:     cooldown,
	}
}

func (p *PerSource) get(name string) *Breaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.m[name]
	if !ok {
		b = New(p.threshold, p.failureRatio, p.cooldown)
		p.m[name] = b
	}
	return b
}

// Execute runs fn under the named source's breaker.
func (p *PerSource) Execute(name string, fn func() error) error {
	return p.get(name).Execute(fn)
}

// State reports the named source's breaker state.
func (p *PerSource) State(name string) State {
	return p.get(name).State()
}
