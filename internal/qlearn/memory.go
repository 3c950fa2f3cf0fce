package qlearn

import (
	"math/rand/v2"
	"sync"

	"github.com/fractal-lba/adaptive/internal/state"
)

// Experience is one observed transition. It is never mutated after Add.
type Experience struct {
	State     state.State `json:"state"`
	Action    string      `json:"action"`
	Reward    float64     `json:"reward"`
	NextState state.State `json:"next_state"`
	Terminal  bool        `json:"terminal"`
}

// DefaultMemoryCapacity is the replay buffer size used when none is given.
const DefaultMemoryCapacity = 1000

// Memory is a fixed-capacity FIFO ring of experiences.
type Memory struct {
	mu    sync.Mutex
	buf   []Experience
	head  int // index of the oldest entry
	size  int
	total int64
}

// NewMemory creates a replay memory; capacity <= 0 uses DefaultMemoryCapacity.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{buf: make([]Experience, capacity)}
}

// Add appends exp, evicting the oldest entry when full.
func (m *Memory) Add(exp Experience) {
	m.mu.Lock()
	defer m.mu.Unlock()

	capacity := len(m.buf)
	if m.size < capacity {
		m.buf[(m.head+m.size)%capacity] = exp
		m.size++
	} else {
		m.buf[m.head] = exp
		m.head = (m.head + 1) % capacity
	}
	m.total++
}

// Len returns the number of stored experiences.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Cap returns the buffer capacity.
func (m *Memory) Cap() int {
	return len(m.buf)
}

// Total returns how many experiences were ever added.
func (m *Memory) Total() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Sample draws up to n distinct experiences uniformly without replacement.
func (m *Memory) Sample(n int, rng *rand.Rand) []Experience {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n > m.size {
		n = m.size
	}
	if n <= 0 {
		return nil
	}

	// Partial Fisher-Yates over logical indices.
	idx := make([]int, m.size)
	for i := range idx {
		idx[i] = i
	}
	out := make([]Experience, n)
	for i := 0; i < n; i++ {
		j := i + rng.IntN(m.size-i)
		idx[i], idx[j] = idx[j], idx[i]
		out[i] = m.buf[(m.head+idx[i])%len(m.buf)]
	}
	return out
}

// Snapshot returns the stored experiences from oldest to newest.
func (m *Memory) Snapshot() []Experience {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Experience, m.size)
	for i := 0; i < m.size; i++ {
		out[i] = m.buf[(m.head+i)%len(m.buf)]
	}
	return out
}

// Reset empties the memory and refills it with exps (oldest first). Entries
// beyond capacity keep only the most recent.
func (m *Memory) Reset(exps []Experience) {
	m.mu.Lock()
	m.head, m.size = 0, 0
	for i := range m.buf {
		m.buf[i] = Experience{}
	}
	m.mu.Unlock()

	for _, e := range exps {
		m.Add(e)
	}
}
