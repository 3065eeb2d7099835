package live

import "time"

// AudioConfig specifies the inbound PCM shape.
type AudioConfig struct {
	// SampleRate in Hz. Client audio arrives at 16000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono.
	Channels int `json:"channels"`

	// BitsPerSample: 16 for PCM s16le.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultAudioConfig returns the standard inbound audio configuration.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c AudioConfig) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c AudioConfig) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}

// DetectorConfig tunes the energy-based utterance gate.
type DetectorConfig struct {
	// Confidence is the fraction of recent frames that must read as speech
	// before the detector trusts a transition. Range 0..1.
	Confidence float64 `json:"confidence"`

	// StartDuration is how much sustained speech opens an utterance.
	StartDuration time.Duration `json:"start_duration"`

	// StopDuration is how much trailing silence commits an utterance.
	StopDuration time.Duration `json:"stop_duration"`

	// MinVolume is the normalized RMS floor below which a frame is silence.
	// Range 0..1.
	MinVolume float64 `json:"min_volume"`

	// PrefixPadding is audio retained from before speech onset so the
	// first syllable is not clipped.
	PrefixPadding time.Duration `json:"prefix_padding"`

	// MaxUtterance caps a single utterance; longer speech commits early.
	MaxUtterance time.Duration `json:"max_utterance"`
}

// DefaultDetectorConfig returns the production gate tuning.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Confidence:    0.8,
		StartDuration: 100 * time.Millisecond,
		StopDuration:  200 * time.Millisecond,
		MinVolume:     0.5,
		PrefixPadding: 300 * time.Millisecond,
		MaxUtterance:  30 * time.Second,
	}
}

// Validate checks the tuning for impossible values.
func (c DetectorConfig) Validate() error {
	if c.Confidence <= 0 || c.Confidence > 1 {
		return errConfidenceRange
	}
	if c.MinVolume < 0 || c.MinVolume > 1 {
		return errVolumeRange
	}
	if c.StartDuration <= 0 || c.StopDuration <= 0 {
		return errDurationRange
	}
	return nil
}
