package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	oerrors "github.com/porthorian/sessionguard/pkg/errors"
)

const (
	DefaultBudget          = 4
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
	DefaultRandomization   = 0.5
	DefaultMultiplier      = 2.0
)

// Policy bounds one episode: Budget is the total number of attempts across
// every category, and the interval fields shape the randomized back-off slept
// before retrying a transient failure.
type Policy struct {
	Budget              int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	RandomizationFactor float64
	Multiplier          float64
}

func DefaultPolicy() Policy {
	return Policy{
		Budget:              DefaultBudget,
		InitialInterval:     DefaultInitialInterval,
		MaxInterval:         DefaultMaxInterval,
		RandomizationFactor: DefaultRandomization,
		Multiplier:          DefaultMultiplier,
	}
}

// WithDefaults fills a zero Budget or Multiplier, both of which are invalid
// when zero. The back-off schedule is taken from DefaultPolicy only when none
// of its fields is set, so an explicit zero interval or zero randomization is
// kept. A zero MaxInterval below a positive InitialInterval is raised to the
// larger of InitialInterval and the default cap.
func (p Policy) WithDefaults() Policy {
	defaults := DefaultPolicy()

	if p.Budget == 0 {
		p.Budget = defaults.Budget
	}
	if p.Multiplier == 0 {
		p.Multiplier = defaults.Multiplier
	}
	if p.InitialInterval == 0 && p.MaxInterval == 0 && p.RandomizationFactor == 0 {
		p.InitialInterval = defaults.InitialInterval
		p.MaxInterval = defaults.MaxInterval
		p.RandomizationFactor = defaults.RandomizationFactor
		return p
	}
	if p.MaxInterval == 0 && p.InitialInterval > 0 {
		p.MaxInterval = max(p.InitialInterval, defaults.MaxInterval)
	}
	return p
}

func (p Policy) Validate() error {
	if p.Budget < 1 {
		return oerrors.InvalidArgument("retry: budget must be at least 1")
	}
	if p.InitialInterval < 0 || p.MaxInterval < 0 {
		return oerrors.InvalidArgument("retry: back-off intervals must not be negative")
	}
	if p.MaxInterval < p.InitialInterval {
		return oerrors.InvalidArgument("retry: max interval must not be below initial interval")
	}
	if p.RandomizationFactor < 0 || p.RandomizationFactor > 1 {
		return oerrors.InvalidArgument("retry: randomization factor must be within [0, 1]")
	}
	if p.Multiplier < 1 {
		return oerrors.InvalidArgument("retry: multiplier must be at least 1")
	}
	return nil
}

// NewBackOff returns a fresh back-off sequence for one episode. It never
// stops on its own; the attempt budget ends the episode.
func (p Policy) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = p.RandomizationFactor
	b.Multiplier = p.Multiplier
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
