package retry

import (
	"math/rand/v2"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/config"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode        config.RetryBackoffMode // fixed|linear|exponential
	Initial     time.Duration           // base delay
	Max         time.Duration           // cap for growth
	MaxAttempts int                     // total attempts including the first
	Jitter      float64                 // fraction of the delay randomized in both directions, 0..1
}

// DefaultPolicy returns the default policy (exponential, 500ms initial, 10s cap, 4 attempts, 20% jitter).
func DefaultPolicy() Policy {
	return Policy{
		Mode:        config.RetryBackoffExponential,
		Initial:     500 * time.Millisecond,
		Max:         10 * time.Second,
		MaxAttempts: 4,
		Jitter:      0.2,
	}
}

// NewPolicy builds a policy from raw fields; zero/invalid values fall back to defaults.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDuration time.Duration, maxAttempts int, jitter float64) Policy {
	p := DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	switch mode {
	case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
		p.Mode = mode
	default:
		// unknown -> keep default
	}
	if jitter >= 0 && jitter <= 1 {
		p.Jitter = jitter
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// FromConfig builds a policy from the retry section of the configuration.
func FromConfig(cfg config.RetryConfig) Policy {
	return NewPolicy(cfg.Backoff, cfg.InitialDelayDuration(), cfg.MaxDelayDuration(), cfg.MaxAttempts, cfg.Jitter)
}

// Delay returns the backoff delay for the given retry number (1-based: first retry => 1),
// before jitter is applied.
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case config.RetryBackoffFixed:
		return p.Initial
	case config.RetryBackoffExponential:
		if retryCount > 30 {
			return p.Max
		}
		d := p.Initial * (1 << (retryCount - 1))
		if d > p.Max || d <= 0 {
			return p.Max
		}
		return d
	default: // linear
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	}
}

// JitteredDelay applies the policy jitter to Delay. The result never exceeds Max.
func (p Policy) JitteredDelay(retryCount int) time.Duration {
	d := p.Delay(retryCount)
	if d <= 0 || p.Jitter <= 0 {
		return d
	}
	spread := float64(d) * p.Jitter
	jittered := time.Duration(float64(d) - spread + rand.Float64()*2*spread) //nolint:gosec // backoff jitter
	if jittered > p.Max {
		return p.Max
	}
	if jittered < 0 {
		return 0
	}
	return jittered
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	switch {
	case p.Initial <= 0:
		return errors.ConfigError("retry initial delay must be >0").Build()
	case p.Max <= 0:
		return errors.ConfigError("retry max delay must be >0").Build()
	case p.MaxAttempts < 1:
		return errors.ConfigError("retry max attempts must be >=1").Build()
	case p.Jitter < 0 || p.Jitter > 1:
		return errors.ConfigError("retry jitter must be within 0..1").Build()
	}
	return nil
}
