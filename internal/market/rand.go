package market

import (
	"math"
	mathrand "math/rand"
	"sync"
	"time"
)

// RandomSource supplies the randomness for price noise and event transitions.
type RandomSource interface {
	// Int63n returns a uniform value in [0, n). n is always > 0.
	Int63n(n int64) int64
}

// LockedRand is a RandomSource safe for concurrent use.
type LockedRand struct {
	mu   sync.Mutex
	rand *mathrand.Rand
}

// NewRandomSource seeds a LockedRand. A zero seed uses the current time.
func NewRandomSource(seed int64) *LockedRand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &LockedRand{rand: mathrand.New(mathrand.NewSource(seed))}
}

func (r *LockedRand) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Int63n(n)
}

// symmetricNoise draws uniformly from [-magnitude, +magnitude].
func symmetricNoise(r RandomSource, magnitude uint64) int64 {
	if magnitude == 0 {
		return 0
	}
	m := toSigned(min(magnitude, uint64(math.MaxInt64/2-1)))
	return r.Int63n(2*m+1) - m
}

func chancePerMille(r RandomSource, perMille int64) bool {
	if perMille <= 0 {
		return false
	}
	return r.Int63n(1000) < perMille
}
