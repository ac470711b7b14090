package broker

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/agentbroker/runtime/internal/toolerrors"
)

// adaptiveRateLimiter applies an AIMD-style adaptive token bucket in front of
// Broker.Invoke. It estimates the call's cost in tokens, blocks callers until
// capacity is available, and halves its effective tokens-per-period budget on
// a burst of failures, recovering linearly on success. Process-local: it does
// not coordinate budget across multiple Broker instances.
type adaptiveRateLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentBudget float64
	minBudget     float64
	maxBudget     float64
	recoveryRate  float64
}

// newAdaptiveRateLimiter constructs a limiter with an initial per-period
// token budget and an upper bound. When maxBudget is zero or below
// initialBudget, it is clamped to initialBudget.
func newAdaptiveRateLimiter(initialBudget, maxBudget float64) *adaptiveRateLimiter {
	if initialBudget <= 0 {
		initialBudget = 1000
	}
	if maxBudget <= 0 || maxBudget < initialBudget {
		maxBudget = initialBudget
	}
	minBudget := initialBudget * 0.1
	if minBudget < 1 {
		minBudget = 1
	}
	recoveryRate := initialBudget * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &adaptiveRateLimiter{
		limiter:       rate.NewLimiter(rate.Limit(initialBudget/60.0), int(initialBudget)),
		currentBudget: initialBudget,
		minBudget:     minBudget,
		maxBudget:     maxBudget,
		recoveryRate:  recoveryRate,
	}
}

// wait blocks until enough budget is available to cover cost, or ctx is done.
func (l *adaptiveRateLimiter) wait(ctx context.Context, cost int) error {
	if cost <= 0 {
		cost = 1
	}
	return l.limiter.WaitN(ctx, cost)
}

// observe adjusts the budget in response to the call's outcome.
func (l *adaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if toolerrors.Is(err, toolerrors.ServerUnavailable) || toolerrors.Is(err, toolerrors.ToolInvocationFailed) {
		l.backoff()
	}
}

func (l *adaptiveRateLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()

	newBudget := l.currentBudget * 0.5
	if newBudget < l.minBudget {
		newBudget = l.minBudget
	}
	if newBudget == l.currentBudget {
		return
	}
	l.currentBudget = newBudget
	l.limiter.SetLimit(rate.Limit(newBudget / 60.0))
	l.limiter.SetBurst(int(newBudget))
}

func (l *adaptiveRateLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()

	newBudget := l.currentBudget + l.recoveryRate
	if newBudget > l.maxBudget {
		newBudget = l.maxBudget
	}
	if newBudget == l.currentBudget {
		return
	}
	l.currentBudget = newBudget
	l.limiter.SetLimit(rate.Limit(newBudget / 60.0))
	l.limiter.SetBurst(int(newBudget))
}

// estimateCost is a cheap heuristic for a call's budget cost: a fixed
// baseline per invocation plus a term proportional to the argument payload
// size, so large tool calls draw down the budget faster than trivial ones.
func estimateCost(arguments []byte) int {
	cost := len(arguments)/4 + 10
	if cost < 1 {
		cost = 1
	}
	return cost
}
