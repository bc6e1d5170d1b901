package audio

import "sync"

// Mixer sums PCM from several sources sample by sample. The sum is kept in
// int32 and clipped to int16 on Drain, so loud overlaps saturate instead of
// wrapping around. Safe for concurrent use.
type Mixer struct {
	mu      sync.Mutex
	acc     []int32
	sources int
}

// NewMixer creates an empty mixer.
func NewMixer() *Mixer {
	return &Mixer{}
}

// Add mixes samples into the accumulator starting at offset zero.
func (m *Mixer) Add(pcm []int16) {
	if len(pcm) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.grow(len(pcm))
	for i, s := range pcm {
		m.acc[i] += int32(s)
	}
	m.sources++
}

// AddBytes mixes little-endian PCM bytes.
func (m *Mixer) AddBytes(pcm []byte) {
	m.Add(LEToPCMInt16(pcm))
}

// Sources returns how many chunks were added since the last Drain.
func (m *Mixer) Sources() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sources
}

// Len returns the number of mixed samples currently held.
func (m *Mixer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.acc)
}

// Drain returns the clipped mix and resets the mixer.
func (m *Mixer) Drain() []int16 {
	m.mu.Lock()
	defer m.mu.Unlock()

	mixed := make([]int16, len(m.acc))
	for i, v := range m.acc {
		mixed[i] = saturateInt16(v)
	}
	m.acc = m.acc[:0]
	m.sources = 0

	return mixed
}

// Clear discards the mix without returning it.
func (m *Mixer) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.acc = m.acc[:0]
	m.sources = 0
}

func (m *Mixer) grow(n int) {
	if n <= len(m.acc) {
		return
	}
	if n <= cap(m.acc) {
		old := len(m.acc)
		m.acc = m.acc[:n]
		clear(m.acc[old:])

		return
	}
	m.acc = append(m.acc, make([]int32, n-len(m.acc))...)
}
