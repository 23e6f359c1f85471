package backoff

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

type Policy string

const (
	Fixed          Policy = "fixed"
	Linear         Policy = "linear"
	Exponential    Policy = "exponential"
	ExpEqualJitter Policy = "exp_equal_jitter"
	ExpFullJitter  Policy = "exp_full_jitter"
)

// ParsePolicy maps a config value to a Policy. Empty selects ExpFullJitter.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ExpFullJitter, nil
	case Fixed, Linear, Exponential, ExpEqualJitter, ExpFullJitter:
		return p, nil
	default:
		return "", fmt.Errorf("unknown backoff policy %q", s)
	}
}

// Compute returns the delay before the next attempt. retries is the number of
// retries already scheduled (0 before the first retry).
func Compute(policy Policy, base, max time.Duration, retries int, rng *rand.Rand) time.Duration {
	if retries < 0 {
		retries = 0
	}
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch policy {
	case Fixed:
		return minDur(base, max)
	case Linear:
		return minDur(base*time.Duration(maxInt(1, retries)), max)
	case Exponential:
		return exp(base, max, retries)
	case ExpEqualJitter:
		ceiling := exp(base, max, retries)
		half := ceiling / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	default:
		ceiling := exp(base, max, retries)
		if ceiling <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(ceiling) + 1))
	}
}

func exp(base, max time.Duration, retries int) time.Duration {
	f := float64(base) * math.Pow(2, float64(retries))
	if f >= float64(max) || math.IsInf(f, 0) {
		return max
	}
	return time.Duration(f)
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
