// Package selector implements the queue-key selection policies (uniform
// and priority-weighted softmax) used to pick which per-domain queue a
// pop or pop_multi call draws from next.
package selector

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoCandidates is returned when Select is called with an empty
// candidate set.
var ErrNoCandidates = errors.New("selector: no candidates")

// Candidate is one queue key eligible for selection, together with the
// registered domain it belongs to and its current top-of-queue score
// (the stored zset score, i.e. -priority).
type Candidate struct {
	Key    string
	Domain string
	Score  float64
}

// SlotChecker reports whether a domain currently has a free in-flight
// transfer slot. The frontier has no notion of in-flight requests itself
// (that lives in the crawl engine); SlotChecker lets the engine plug that
// information in. NoopSlotChecker is the default: every domain is always
// available.
type SlotChecker interface {
	HasFreeSlot(domain string) bool
}

// NoopSlotChecker treats every domain as having a free slot.
type NoopSlotChecker struct{}

// HasFreeSlot always returns true.
func (NoopSlotChecker) HasFreeSlot(string) bool { return true }

// FilterAvailable narrows candidates to those whose domain has a free
// slot per checker. If that narrows the set to nothing, the full
// candidate set is returned unchanged, per spec.md §4.6 step 3.
func FilterAvailable(candidates []Candidate, checker SlotChecker) []Candidate {
	if checker == nil {
		return candidates
	}
	available := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if checker.HasFreeSlot(c.Domain) {
			available = append(available, c)
		}
	}
	if len(available) == 0 {
		return candidates
	}
	return available
}

// Temperature combines the two configured knobs into the softmax
// temperature.
func Temperature(balancingTemperature, priorityMultiplier float64) float64 {
	return balancingTemperature * priorityMultiplier
}

// Policy picks a single queue key from a candidate set.
type Policy interface {
	Select(rng *rand.Rand, candidates []Candidate, temperature float64) (string, error)
}

// Uniform samples one queue key uniformly at random.
type Uniform struct{}

// Select implements Policy.
func (Uniform) Select(rng *rand.Rand, candidates []Candidate, _ float64) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}
	return candidates[rng.Intn(len(candidates))].Key, nil
}

// Softmax samples one queue key with probability proportional to
// exp(priority / temperature), i.e. exp(-score / temperature).
type Softmax struct{}

// Select implements Policy.
func (Softmax) Select(rng *rand.Rand, candidates []Candidate, temperature float64) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}
	weights := softmaxWeights(candidates, temperature)
	return weightedSample(rng, candidates, weights), nil
}

func softmaxWeights(candidates []Candidate, temperature float64) []float64 {
	logits := make([]float64, len(candidates))
	max := math.Inf(-1)
	for i, c := range candidates {
		logits[i] = -c.Score / temperature
		if logits[i] > max {
			max = logits[i]
		}
	}
	weights := make([]float64, len(candidates))
	var sum float64
	for i, logit := range logits {
		w := math.Exp(logit - max)
		weights[i] = w
		sum += w
	}
	if sum > 0 {
		for i := range weights {
			weights[i] /= sum
		}
	}
	return weights
}

func weightedSample(rng *rand.Rand, candidates []Candidate, weights []float64) string {
	r := rng.Float64()
	var cum float64
	for i, w := range weights {
		cum += w
		if r <= cum {
			return candidates[i].Key
		}
	}
	return candidates[len(candidates)-1].Key
}

// BatchPolicy samples a multiset of queue keys for a batched pop,
// returning how many times each key should be drawn from.
type BatchPolicy interface {
	SelectBatch(rng *rand.Rand, candidates []Candidate, batchSize, maxPerQueue int, temperature float64) (map[string]int, error)
}

// UniformBatch draws batchSize samples with replacement, uniformly, each
// capped at maxPerQueue occurrences (0 = uncapped).
type UniformBatch struct{}

// SelectBatch implements BatchPolicy.
func (UniformBatch) SelectBatch(rng *rand.Rand, candidates []Candidate, batchSize, maxPerQueue int, _ float64) (map[string]int, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	counts := make(map[string]int)
	total, attempts, maxAttempts := 0, 0, batchSize*10+len(candidates)
	for total < batchSize && attempts < maxAttempts {
		attempts++
		key := candidates[rng.Intn(len(candidates))].Key
		if maxPerQueue > 0 && counts[key] >= maxPerQueue {
			continue
		}
		counts[key]++
		total++
	}
	return counts, nil
}

// SoftmaxBatch draws batchSize samples with replacement according to the
// softmax distribution, capped per queue at maxPerQueue. When the number
// of non-zero-probability queues is too small to ever fill the batch
// under that cap (the "degenerate probability" case), it falls back to a
// round-robin fill: every non-zero-probability queue first, in random
// order, then the zero-probability queues in random order, cycling until
// the batch is full or every queue has reached the cap, so a single
// overwhelmingly high-priority queue cannot starve the rest of the batch.
type SoftmaxBatch struct{}

// SelectBatch implements BatchPolicy.
func (SoftmaxBatch) SelectBatch(rng *rand.Rand, candidates []Candidate, batchSize, maxPerQueue int, temperature float64) (map[string]int, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	weights := softmaxWeights(candidates, temperature)

	support := make([]string, 0, len(candidates))
	var rest []string
	for i, c := range candidates {
		if weights[i] > 0 {
			support = append(support, c.Key)
		} else {
			rest = append(rest, c.Key)
		}
	}
	if len(support) == 0 {
		support, rest = rest, nil
	}

	requiredUnique := 1
	if maxPerQueue > 0 {
		requiredUnique = (batchSize + maxPerQueue - 1) / maxPerQueue
	}

	if len(support) < requiredUnique {
		return roundRobinFill(rng, support, rest, batchSize, maxPerQueue), nil
	}

	counts := make(map[string]int)
	total, attempts, maxAttempts := 0, 0, batchSize*10+len(candidates)
	for total < batchSize && attempts < maxAttempts {
		attempts++
		key := weightedSample(rng, candidates, weights)
		if maxPerQueue > 0 && counts[key] >= maxPerQueue {
			continue
		}
		counts[key]++
		total++
	}
	return counts, nil
}

func roundRobinFill(rng *rand.Rand, support, rest []string, batchSize, maxPerQueue int) map[string]int {
	order := make([]string, len(support), len(support)+len(rest))
	copy(order, support)
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	tail := append([]string(nil), rest...)
	rng.Shuffle(len(tail), func(i, j int) { tail[i], tail[j] = tail[j], tail[i] })
	order = append(order, tail...)

	counts := make(map[string]int)
	total := 0
	maxRounds := len(order)*2 + batchSize
	if maxPerQueue > 0 {
		maxRounds = len(order)*maxPerQueue + len(order)
	}
	for round := 0; total < batchSize && round < maxRounds; round++ {
		key := order[round%len(order)]
		if maxPerQueue > 0 && counts[key] >= maxPerQueue {
			continue
		}
		counts[key]++
		total++
	}
	return counts
}

// WarnIfSlower runs fn and logs a warning if it took longer than
// threshold, mirroring the reference implementation's instrumentation of
// its queue-key selection step.
func WarnIfSlower(threshold time.Duration, logger zerolog.Logger, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	if elapsed := time.Since(start); elapsed > threshold {
		logger.Warn().Dur("elapsed", elapsed).Str("op", name).Msg("selection slower than expected")
	}
	return err
}
