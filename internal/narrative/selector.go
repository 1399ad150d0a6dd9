package narrative

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
)

// Selector chooses one of n equivalent phrasings for a section.
// Implementations must return a value in [0, n) for n > 0.
type Selector interface {
	Select(address, section string, n int) int
}

// FirstSelector always picks the first phrasing.
type FirstSelector struct{}

func (FirstSelector) Select(_, _ string, _ int) int { return 0 }

// IndexSelector always picks phrasing N, wrapping around short sections.
type IndexSelector struct{ N int }

func (s IndexSelector) Select(_, _ string, n int) int {
	if n <= 0 {
		return 0
	}
	i := s.N % n
	if i < 0 {
		i += n
	}
	return i
}

// HashSelector varies phrasing between addresses but is stable for any
// one address, so repeated reports read the same.
type HashSelector struct{}

func (HashSelector) Select(address, section string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(address))
	h.Write([]byte{0})
	h.Write([]byte(section))
	return int(h.Sum32() % uint32(n))
}

// SeededSelector draws from a seeded generator. The sequence is
// reproducible for a given seed and call order.
type SeededSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededSelector returns a selector seeded with seed.
func NewSeededSelector(seed int64) *SeededSelector {
	return &SeededSelector{rng: rand.New(rand.NewSource(seed))}
}

func (s *SeededSelector) Select(_, _ string, n int) int {
	if n <= 1 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// SelectorByName maps a configuration value onto a Selector.
func SelectorByName(name string, seed int64) (Selector, error) {
	switch name {
	case "", "hash":
		return HashSelector{}, nil
	case "first":
		return FirstSelector{}, nil
	case "seeded":
		return NewSeededSelector(seed), nil
	}
	return nil, fmt.Errorf("unknown narrative selector %q", name)
}
