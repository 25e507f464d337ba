// Package sample turns final-position logits into token ids using
// temperature scaling and top-k filtering.
package sample

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	pq "github.com/emirpasic/gods/v2/queues/priorityqueue"
	"gonum.org/v1/gonum/floats"

	"shardd/internal/tensor"
)

const (
	DefaultTemperature = 0.6
	DefaultTopK        = 25
)

// ErrInvalid is wrapped by every parameter and logits validation error.
var ErrInvalid = errors.New("invalid sampling input")

// Sampler draws tokens from a seeded source. It is safe for concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a sampler. A negative seed selects a randomly seeded source.
func New(seed int64) *Sampler {
	var src *rand.PCG
	if seed < 0 {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	} else {
		sequence := uint64(seed)
		src = rand.NewPCG(sequence, sequence^0x9E3779B9)
	}
	return &Sampler{rng: rand.New(src)}
}

// Validate checks temperature and topK against a vocabulary size.
func Validate(temperature float64, topK, vocab int) error {
	if math.IsNaN(temperature) || math.IsInf(temperature, 0) || temperature <= 0 {
		return fmt.Errorf("%w: temperature %v must be positive and finite", ErrInvalid, temperature)
	}
	if topK < 1 {
		return fmt.Errorf("%w: top_k %d must be at least 1", ErrInvalid, topK)
	}
	if vocab > 0 && topK > vocab {
		return fmt.Errorf("%w: top_k %d exceeds vocabulary size %d", ErrInvalid, topK, vocab)
	}
	return nil
}

func checkLogits(logits []float32) error {
	if len(logits) == 0 {
		return fmt.Errorf("%w: empty logits", ErrInvalid)
	}
	finite := false
	for i, v := range logits {
		switch {
		case math.IsNaN(float64(v)):
			return fmt.Errorf("%w: logit %d is NaN", ErrInvalid, i)
		case math.IsInf(float64(v), 1):
			return fmt.Errorf("%w: logit %d is +Inf", ErrInvalid, i)
		case !math.IsInf(float64(v), -1):
			finite = true
		}
	}
	if !finite {
		return fmt.Errorf("%w: every logit is -Inf", ErrInvalid)
	}
	return nil
}

type candidate struct {
	id    int
	logit float64
}

// byLogitDesc orders candidates by logit, highest first, breaking ties on
// the lower id.
func byLogitDesc(a, b candidate) int {
	if c := -cmp.Compare(a.logit, b.logit); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

func topK(logits []float32, k int) []candidate {
	q := pq.NewWith(byLogitDesc)
	for i, v := range logits {
		q.Enqueue(candidate{id: i, logit: float64(v)})
	}
	out := make([]candidate, 0, k)
	for range k {
		c, ok := q.Dequeue()
		if !ok {
			break
		}
		out = append(out, c)
	}
	return out
}

// Token samples one id from a single row of logits.
func (s *Sampler) Token(logits []float32, temperature float64, k int) (int, error) {
	if err := Validate(temperature, k, len(logits)); err != nil {
		return -1, err
	}
	if err := checkLogits(logits); err != nil {
		return -1, err
	}
	cands := topK(logits, k)
	if len(cands) == 1 {
		return cands[0].id, nil
	}

	// candidates are sorted, so the first holds the max logit
	maxLogit := cands[0].logit
	probs := make([]float64, len(cands))
	for i, c := range cands {
		probs[i] = math.Exp((c.logit - maxLogit) / temperature)
	}
	floats.Scale(1/floats.Sum(probs), probs)
	floats.CumSum(probs, probs)

	s.mu.Lock()
	r := s.rng.Float64()
	s.mu.Unlock()

	r *= probs[len(probs)-1]
	for i, p := range probs {
		if r < p {
			return cands[i].id, nil
		}
	}
	return cands[floats.MaxIdx(probs)].id, nil
}

// Batch samples the final position of every batch row of a [batch, vocab]
// or [batch, seq, vocab] logits tensor.
func (s *Sampler) Batch(logits *tensor.Tensor, temperature float64, k int) ([]int, error) {
	if logits == nil {
		return nil, fmt.Errorf("%w: no logits", ErrInvalid)
	}
	rows, err := logits.LastPositions()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	out := make([]int, len(rows))
	for i, row := range rows {
		id, err := s.Token(row, temperature, k)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = id
	}
	return out, nil
}
