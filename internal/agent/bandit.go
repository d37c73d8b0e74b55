package agent

import (
	"math"
	"math/rand/v2"
)

// Bandit picks one of a fixed set of arms and learns from rewards.
type Bandit interface {
	Select(rng *rand.Rand) int
	Update(arm int, reward float64)
	Arms() int
}

// EGreedy explores uniformly with probability Epsilon and otherwise plays
// the arm with the best sample-average reward. Estimates start at
// OptimisticStart so untried arms look attractive.
type EGreedy struct {
	Epsilon float64

	q []float64
	n []uint64
}

// NewEGreedy creates an epsilon-greedy bandit.
func NewEGreedy(arms int, epsilon, optimisticStart float64) *EGreedy {
	q := make([]float64, arms)
	for i := range q {
		q[i] = optimisticStart
	}
	return &EGreedy{Epsilon: epsilon, q: q, n: make([]uint64, arms)}
}

func (b *EGreedy) Arms() int { return len(b.q) }

func (b *EGreedy) Select(rng *rand.Rand) int {
	if rng.Float64() < b.Epsilon {
		return rng.IntN(len(b.q))
	}
	return argmax(b.q, rng)
}

func (b *EGreedy) Update(arm int, reward float64) {
	if arm < 0 || arm >= len(b.q) {
		return
	}
	b.n[arm]++
	b.q[arm] += (reward - b.q[arm]) / float64(b.n[arm])
}

// Estimate returns the current value estimate of arm.
func (b *EGreedy) Estimate(arm int) float64 { return b.q[arm] }

// UCB plays every arm once, then the arm maximising
// q + C*sqrt(ln t / n).
type UCB struct {
	C float64

	q []float64
	n []uint64
	t uint64
}

// NewUCB creates an upper-confidence-bound bandit.
func NewUCB(arms int, c float64) *UCB {
	return &UCB{C: c, q: make([]float64, arms), n: make([]uint64, arms)}
}

func (b *UCB) Arms() int { return len(b.q) }

func (b *UCB) Select(rng *rand.Rand) int {
	for i, n := range b.n {
		if n == 0 {
			return i
		}
	}
	scores := make([]float64, len(b.q))
	logT := math.Log(float64(b.t))
	for i := range b.q {
		scores[i] = b.q[i] + b.C*math.Sqrt(logT/float64(b.n[i]))
	}
	return argmax(scores, rng)
}

func (b *UCB) Update(arm int, reward float64) {
	if arm < 0 || arm >= len(b.q) {
		return
	}
	b.t++
	b.n[arm]++
	b.q[arm] += (reward - b.q[arm]) / float64(b.n[arm])
}

// Estimate returns the current value estimate of arm.
func (b *UCB) Estimate(arm int) float64 { return b.q[arm] }

// argmax breaks ties uniformly at random.
func argmax(v []float64, rng *rand.Rand) int {
	best := math.Inf(-1)
	var ties []int
	for i, x := range v {
		switch {
		case x > best:
			best = x
			ties = ties[:0]
			ties = append(ties, i)
		case x == best:
			ties = append(ties, i)
		}
	}
	if len(ties) == 1 {
		return ties[0]
	}
	return ties[rng.IntN(len(ties))]
}
