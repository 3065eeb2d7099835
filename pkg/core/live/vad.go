package live

import (
	"errors"
	"sync"
	"time"
)

var (
	errConfidenceRange = errors.New("confidence must be in (0, 1]")
	errVolumeRange     = errors.New("min volume must be in [0, 1]")
	errDurationRange   = errors.New("start and stop durations must be > 0")
)

// DetectorResult indicates the outcome of processing one audio frame.
type DetectorResult int

const (
	// DetectorContinue means keep feeding audio.
	DetectorContinue DetectorResult = iota
	// DetectorStart means an utterance just opened.
	DetectorStart
	// DetectorCommit means the utterance is complete.
	DetectorCommit
)

// String returns a human-readable result name.
func (r DetectorResult) String() string {
	switch r {
	case DetectorContinue:
		return "CONTINUE"
	case DetectorStart:
		return "START"
	case DetectorCommit:
		return "COMMIT"
	default:
		return "UNKNOWN"
	}
}

// frameMark records one processed frame's verdict and length.
type frameMark struct {
	speech bool
	dur    time.Duration
}

// frameWindow is a sliding window of recent frame verdicts bounded by a
// target duration.
type frameWindow struct {
	marks  []frameMark
	total  time.Duration
	target time.Duration
}

func (w *frameWindow) push(m frameMark) {
	w.marks = append(w.marks, m)
	w.total += m.dur
	for len(w.marks) > 0 && w.total-w.marks[0].dur >= w.target {
		w.total -= w.marks[0].dur
		w.marks = w.marks[1:]
	}
}

func (w *frameWindow) full() bool {
	return w.total >= w.target
}

// speechFraction returns the time-weighted share of speech frames.
func (w *frameWindow) speechFraction() float64 {
	if w.total <= 0 {
		return 0
	}
	var speech time.Duration
	for _, m := range w.marks {
		if m.speech {
			speech += m.dur
		}
	}
	return float64(speech) / float64(w.total)
}

func (w *frameWindow) reset() {
	w.marks = w.marks[:0]
	w.total = 0
}

// UtteranceDetector gates raw PCM into discrete utterances using frame
// energy. An utterance opens after sustained speech and commits after
// sustained silence; committed audio includes a prefix of pre-speech
// padding so onsets are not clipped.
type UtteranceDetector struct {
	cfg   DetectorConfig
	audio AudioConfig

	mu        sync.Mutex
	speaking  bool
	startWin  frameWindow
	stopWin   frameWindow
	prefix    *PrefixRing
	utterance *UtteranceBuffer

	onStart  func()
	onCommit func(pcm []byte, duration time.Duration)
}

// NewUtteranceDetector creates a detector with the given tuning.
func NewUtteranceDetector(cfg DetectorConfig, audio AudioConfig) (*UtteranceDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	maxMs := int(cfg.MaxUtterance / time.Millisecond)
	if maxMs <= 0 {
		maxMs = 30_000
	}
	return &UtteranceDetector{
		cfg:       cfg,
		audio:     audio,
		startWin:  frameWindow{target: cfg.StartDuration},
		stopWin:   frameWindow{target: cfg.StopDuration},
		prefix:    NewPrefixRing(audio, int(cfg.PrefixPadding/time.Millisecond)),
		utterance: NewUtteranceBuffer(audio, maxMs),
	}, nil
}

// SetCallbacks registers utterance lifecycle callbacks. Callbacks run on the
// caller's goroutine, inside ProcessFrame.
func (d *UtteranceDetector) SetCallbacks(onStart func(), onCommit func(pcm []byte, duration time.Duration)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStart = onStart
	d.onCommit = onCommit
}

// ProcessFrame classifies one PCM frame and advances the gate.
func (d *UtteranceDetector) ProcessFrame(pcm []byte) DetectorResult {
	if len(pcm) < 2 {
		return DetectorContinue
	}

	d.mu.Lock()

	frameDur := time.Duration(d.audio.DurationMs(len(pcm))) * time.Millisecond
	if frameDur <= 0 {
		frameDur = time.Millisecond
	}
	mark := frameMark{
		speech: CalculateRMSEnergy(pcm) >= d.cfg.MinVolume,
		dur:    frameDur,
	}

	if !d.speaking {
		d.prefix.Write(pcm)
		d.startWin.push(mark)
		if !d.startWin.full() || d.startWin.speechFraction() < d.cfg.Confidence {
			d.mu.Unlock()
			return DetectorContinue
		}

		// Speech confirmed: open the utterance with the padded prefix.
		d.speaking = true
		d.utterance.Clear()
		d.utterance.Write(d.prefix.Bytes())
		d.prefix.Clear()
		d.startWin.reset()
		d.stopWin.reset()
		onStart := d.onStart
		d.mu.Unlock()

		if onStart != nil {
			onStart()
		}
		return DetectorStart
	}

	d.utterance.Write(pcm)
	d.stopWin.push(mark)

	maxed := d.cfg.MaxUtterance > 0 &&
		time.Duration(d.utterance.DurationMs())*time.Millisecond >= d.cfg.MaxUtterance
	silent := d.stopWin.full() && (1-d.stopWin.speechFraction()) >= d.cfg.Confidence
	if !silent && !maxed {
		d.mu.Unlock()
		return DetectorContinue
	}

	pcmOut := d.utterance.Bytes()
	duration := time.Duration(d.utterance.DurationMs()) * time.Millisecond
	d.resetLocked()
	onCommit := d.onCommit
	d.mu.Unlock()

	if onCommit != nil {
		onCommit(pcmOut, duration)
	}
	return DetectorCommit
}

// Speaking reports whether an utterance is currently open.
func (d *UtteranceDetector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Flush commits any open utterance immediately, e.g. when the stream ends.
// Returns nil when nothing was open.
func (d *UtteranceDetector) Flush() []byte {
	d.mu.Lock()
	if !d.speaking {
		d.mu.Unlock()
		return nil
	}
	pcm := d.utterance.Bytes()
	duration := time.Duration(d.utterance.DurationMs()) * time.Millisecond
	d.resetLocked()
	onCommit := d.onCommit
	d.mu.Unlock()

	if onCommit != nil {
		onCommit(pcm, duration)
	}
	return pcm
}

// Reset clears all detector state.
func (d *UtteranceDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

func (d *UtteranceDetector) resetLocked() {
	d.speaking = false
	d.startWin.reset()
	d.stopWin.reset()
	d.prefix.Clear()
	d.utterance.Clear()
}
