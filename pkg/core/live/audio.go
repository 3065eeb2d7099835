package live

import (
	"math"
	"sync"
)

// CalculateRMSEnergy computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value between 0.0 and 1.0.
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// CalculatePeakAmplitude returns the maximum absolute amplitude in the PCM data.
// Returns a value between 0.0 and 1.0.
func CalculatePeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var maxAbs float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// float64 to avoid overflow when negating -32768
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	return maxAbs / 32768.0
}

// UtteranceBuffer accumulates PCM for the utterance currently being captured.
// It is bounded; when full, older audio is discarded so a stuck speaker cannot
// grow memory without limit.
type UtteranceBuffer struct {
	mu       sync.Mutex
	data     []byte
	maxBytes int
	config   AudioConfig
}

// NewUtteranceBuffer creates a buffer that holds up to maxDurationMs of audio.
func NewUtteranceBuffer(config AudioConfig, maxDurationMs int) *UtteranceBuffer {
	maxBytes := config.BytesForDurationMs(maxDurationMs)
	return &UtteranceBuffer{
		data:     make([]byte, 0, maxBytes),
		maxBytes: maxBytes,
		config:   config,
	}
}

// Write appends audio data, trimming from the front past maxBytes.
func (b *UtteranceBuffer) Write(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, data...)
	if len(b.data) > b.maxBytes {
		excess := len(b.data) - b.maxBytes
		b.data = b.data[excess:]
	}
}

// Bytes returns a copy of all buffered audio data.
func (b *UtteranceBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the current buffer size in bytes.
func (b *UtteranceBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// DurationMs returns the current buffer duration in milliseconds.
func (b *UtteranceBuffer) DurationMs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.DurationMs(len(b.data))
}

// Clear empties the buffer.
func (b *UtteranceBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// PrefixRing is a fixed-size circular buffer holding the most recent audio.
// The detector drains it into a new utterance so speech onset is not clipped.
type PrefixRing struct {
	mu       sync.Mutex
	data     []byte
	size     int
	writePos int
	filled   int
}

// NewPrefixRing creates a ring that holds exactly durationMs of audio.
func NewPrefixRing(config AudioConfig, durationMs int) *PrefixRing {
	size := config.BytesForDurationMs(durationMs)
	if size < 2 {
		size = 2
	}
	return &PrefixRing{
		data: make([]byte, size),
		size: size,
	}
}

// Write adds data, overwriting the oldest bytes when full.
func (r *PrefixRing) Write(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range data {
		r.data[r.writePos] = b
		r.writePos = (r.writePos + 1) % r.size
		if r.filled < r.size {
			r.filled++
		}
	}
}

// Bytes returns the ring contents in chronological order.
func (r *PrefixRing) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled < r.size {
		out := make([]byte, r.filled)
		copy(out, r.data[:r.filled])
		return out
	}

	out := make([]byte, r.size)
	firstPart := r.size - r.writePos
	copy(out[:firstPart], r.data[r.writePos:])
	copy(out[firstPart:], r.data[:r.writePos])
	return out
}

// Clear resets the ring.
func (r *PrefixRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writePos = 0
	r.filled = 0
}
