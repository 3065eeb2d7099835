// Package session runs one live ordering conversation over a websocket.
// The audio channel feeds binary PCM through the utterance detector; the
// text channel takes complete messages. Both drive the same engine, and
// tool results ride the priority queue so they never sit behind reply
// frames.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sunrisecafe/cafe-agent/pkg/core"
	"github.com/sunrisecafe/cafe-agent/pkg/core/live"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/live/protocol"
)

const outboundPriorityQueueSize = 8

// Config bounds one session's transport behavior.
type Config struct {
	MaxAudioFrameBytes         int
	MaxJSONMessageBytes        int64
	LiveMaxAudioFPS            int
	LiveMaxAudioBytesPerSecond int64
	LiveInboundBurstSeconds    int
	PingInterval               time.Duration
	WriteTimeout               time.Duration
	ReadTimeout                time.Duration
	MaxSessionDuration         time.Duration
	TurnTimeout                time.Duration
	OutboundQueueSize          int
}

// TurnEngine runs one conversation turn. Implemented by convo.Engine.
type TurnEngine interface {
	RunTurn(ctx context.Context, userText string) (string, error)
}

// Transcriber turns one committed utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, format live.AudioConfig) (string, error)
}

// Synthesizer renders a reply as PCM matching the session's audio format.
// Optional; without one the audio channel replies with text frames only.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, format live.AudioConfig) ([]byte, error)
}

// Dependencies wires one LiveSession. Detector and Transcriber are set on
// the audio channel and nil on the text channel.
type Dependencies struct {
	Conn        *websocket.Conn
	Logger      *slog.Logger
	Engine      TurnEngine
	Detector    *live.UtteranceDetector
	Transcriber Transcriber
	Synthesizer Synthesizer
	AudioIn     live.AudioConfig
	SessionID   string
	RequestID   string
	Config      Config
	Now         func() time.Time
}

// LiveSession owns one websocket connection for its whole lifetime.
type LiveSession struct {
	conn        *websocket.Conn
	logger      *slog.Logger
	engine      TurnEngine
	detector    *live.UtteranceDetector
	transcriber Transcriber
	synthesizer Synthesizer
	audioIn     live.AudioConfig
	sessionID   string
	requestID   string
	cfg         Config
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame
	utterances       chan committedUtterance
}

type outboundFrame struct {
	textPayload   []byte
	binaryPayload []byte
	binaryPair    *binaryPair
}

type binaryPair struct {
	header []byte
	data   []byte
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

type committedUtterance struct {
	pcm      []byte
	duration time.Duration
}

// New validates dependencies and builds a session. The audio channel
// requires a detector and a transcriber.
func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if deps.Detector != nil && deps.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required on the audio channel")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.MaxAudioFrameBytes <= 0 {
		deps.Config.MaxAudioFrameBytes = 64 * 1024
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.AudioIn.SampleRate <= 0 {
		deps.AudioIn = live.DefaultAudioConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LiveSession{
		conn:             deps.Conn,
		logger:           deps.Logger,
		engine:           deps.Engine,
		detector:         deps.Detector,
		transcriber:      deps.Transcriber,
		synthesizer:      deps.Synthesizer,
		audioIn:          deps.AudioIn,
		sessionID:        deps.SessionID,
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		utterances:       make(chan committedUtterance, 4),
	}, nil
}

// Context is canceled when the session ends. The shutdown drain waits on it.
func (s *LiveSession) Context() context.Context { return s.ctx }

// Cancel tears the session down from outside, e.g. server shutdown.
func (s *LiveSession) Cancel() { s.cancel() }

// Close announces a close reason to the client and then cancels. The
// writer flushes the priority queue before the connection drops.
func (s *LiveSession) Close(reason string) {
	s.closeSession(reason)
	s.cancel()
}

// PushToolResult implements the dispatcher's result sink. Results go on
// the priority queue so the client sees order mutations immediately, even
// mid-turn. A full queue drops the push rather than stalling the turn.
func (s *LiveSession) PushToolResult(toolName string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("tool result encoding failed", "tool", toolName, "error", err)
		return
	}
	frame, err := json.Marshal(protocol.NewToolResult(toolName, data))
	if err != nil {
		return
	}
	select {
	case s.outboundPriority <- outboundFrame{textPayload: frame}:
	default:
		s.logger.Warn("tool result dropped, priority queue full", "tool", toolName)
	}
}

// Run drives the session until the client disconnects, the session hits
// its deadline, or a fatal error closes it.
func (s *LiveSession) Run() error {
	defer s.cancel()

	if s.cfg.MaxJSONMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxJSONMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(s.now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(s.now().Add(s.cfg.ReadTimeout))
		})
	}

	if s.detector != nil {
		s.detector.SetCallbacks(
			func() {
				s.enqueueNormalJSON(protocol.NewUtteranceStarted())
			},
			func(pcm []byte, duration time.Duration) {
				s.enqueueNormalJSON(protocol.NewUtteranceCommitted(duration.Milliseconds()))
				select {
				case s.utterances <- committedUtterance{pcm: pcm, duration: duration}:
				default:
					s.logger.Warn("utterance dropped, turn backlog full", "session_id", s.sessionID)
				}
			},
		)
	}

	readCh := make(chan inboundFrame, 256)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			priority: s.outboundPriority,
			normal:   s.outboundNormal,
		}
		writerErrCh <- w.Run()
	}()

	limiter := newInboundAudioLimiter(s.now, s.cfg.LiveMaxAudioFPS, s.cfg.LiveMaxAudioBytesPerSecond, s.cfg.LiveInboundBurstSeconds)

	var sessionDeadline <-chan time.Time
	if s.cfg.MaxSessionDuration > 0 {
		timer := time.NewTimer(s.cfg.MaxSessionDuration)
		defer timer.Stop()
		sessionDeadline = timer.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-writerErrCh:
			s.cancel()
			return err
		case <-sessionDeadline:
			s.closeSession("max_session_duration")
			return nil
		case u := <-s.utterances:
			if err := s.handleUtterance(u); err != nil {
				return err
			}
		case frame := <-readCh:
			if frame.err != nil {
				if isExpectedClose(frame.err) {
					return nil
				}
				return transportError(frame.err)
			}
			if err := s.handleFrame(frame, limiter); err != nil {
				return err
			}
		}
	}
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		frame := inboundFrame{messageType: messageType, data: data, err: err}
		select {
		case out <- frame:
		case <-s.ctx.Done():
			return
		}
		if err != nil {
			return
		}
		if s.cfg.ReadTimeout > 0 {
			_ = s.conn.SetReadDeadline(s.now().Add(s.cfg.ReadTimeout))
		}
	}
}

func (s *LiveSession) handleFrame(frame inboundFrame, limiter *inboundAudioLimiter) error {
	switch frame.messageType {
	case websocket.BinaryMessage:
		if s.detector == nil {
			s.enqueuePriorityJSON(protocol.NewServerError("bad_request", "binary frames are not accepted on this channel", "", false))
			return nil
		}
		if len(frame.data) > s.cfg.MaxAudioFrameBytes {
			s.enqueuePriorityJSON(protocol.NewServerError("frame_too_large", "audio frame exceeds limit", "", false))
			return nil
		}
		if !limiter.Allow(len(frame.data)) {
			// Silently dropping keeps the detector's silence tracking
			// honest; the client is already over its budget.
			return nil
		}
		s.detector.ProcessFrame(frame.data)
		return nil
	case websocket.TextMessage:
		msg, err := protocol.DecodeClientMessage(frame.data)
		if err != nil {
			s.enqueuePriorityJSON(protocol.ErrorFromDecode(err))
			return nil
		}
		return s.handleClientMessage(msg)
	default:
		return nil
	}
}

func (s *LiveSession) handleClientMessage(msg any) error {
	switch m := msg.(type) {
	case protocol.ClientText:
		if s.detector != nil {
			s.enqueuePriorityJSON(protocol.NewServerError("bad_request", "text turns are not accepted on the audio channel", "type", false))
			return nil
		}
		return s.runTurn(strings.TrimSpace(m.Text))
	case protocol.ClientControl:
		switch m.Op {
		case protocol.ControlFlush:
			if s.detector != nil {
				s.detector.Flush()
			}
			return nil
		case protocol.ControlEndSession:
			s.closeSession("client_request")
			s.cancel()
			return nil
		}
		return nil
	case protocol.ClientHello:
		s.enqueuePriorityJSON(protocol.NewServerError("bad_request", "session is already established", "type", false))
		return nil
	default:
		return nil
	}
}

func (s *LiveSession) handleUtterance(u committedUtterance) error {
	ctx := s.ctx
	if s.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TurnTimeout)
		defer cancel()
	}

	text, err := s.transcriber.Transcribe(ctx, u.pcm, s.audioIn)
	if err != nil {
		if s.ctx.Err() != nil {
			return nil
		}
		s.logger.Error("transcription failed", "session_id", s.sessionID, "error", err)
		return s.failSession("transcription_failed", "could not transcribe the utterance")
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	s.logger.Debug("utterance transcribed",
		"session_id", s.sessionID,
		"duration_ms", u.duration.Milliseconds(),
		"peak_amplitude", live.CalculatePeakAmplitude(u.pcm))
	return s.runTurn(text)
}

// runTurn feeds one user turn through the engine. Session-fatal failures
// get a fatal error frame and then session_closed; recoverable ones are
// reported as non-fatal errors and the session keeps going.
func (s *LiveSession) runTurn(text string) error {
	if text == "" {
		return nil
	}

	ctx := s.ctx
	if s.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TurnTimeout)
		defer cancel()
	}

	reply, err := s.engine.RunTurn(ctx, text)
	if err != nil {
		if s.ctx.Err() != nil {
			return nil
		}
		var ce *core.Error
		if errors.As(err, &ce) && ce != nil && !ce.IsSessionFatal() {
			s.logger.Warn("turn failed", "session_id", s.sessionID, "error", err)
			s.enqueuePriorityJSON(protocol.NewServerError(string(ce.Type), "the assistant could not complete that request", "", false))
			return nil
		}
		s.logger.Error("turn failed", "session_id", s.sessionID, "error", err)
		return s.failSession(errorCodeFor(err), "the assistant is unavailable right now")
	}
	if reply == "" {
		return nil
	}

	s.enqueueNormalJSON(protocol.NewAssistantText(reply))
	s.maybeSpeak(ctx, reply)
	return nil
}

// maybeSpeak renders the reply as PCM when a synthesizer is attached.
// Synthesis failures degrade to text only.
func (s *LiveSession) maybeSpeak(ctx context.Context, reply string) {
	if s.synthesizer == nil || s.detector == nil {
		return
	}
	pcm, err := s.synthesizer.Synthesize(ctx, reply, s.audioIn)
	if err != nil {
		s.logger.Warn("synthesis failed", "session_id", s.sessionID, "error", err)
		return
	}
	if len(pcm) == 0 {
		return
	}
	header, err := json.Marshal(protocol.NewAudioChunkHeader(s.audioIn.SampleRate, len(pcm)))
	if err != nil {
		return
	}
	s.enqueueNormal(outboundFrame{binaryPair: &binaryPair{header: header, data: pcm}})
}

func (s *LiveSession) failSession(code, message string) error {
	s.enqueuePriorityJSON(protocol.NewServerError(code, message, "", true))
	s.closeSession("error")
	s.cancel()
	return fmt.Errorf("session %s closed: %s", s.sessionID, code)
}

func (s *LiveSession) closeSession(reason string) {
	s.enqueuePriorityJSON(protocol.NewSessionClosed(reason))
}

func (s *LiveSession) enqueueNormalJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.enqueueNormal(outboundFrame{textPayload: data})
}

func (s *LiveSession) enqueueNormal(frame outboundFrame) {
	select {
	case s.outboundNormal <- frame:
	case <-s.ctx.Done():
	}
}

func (s *LiveSession) enqueuePriorityJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case s.outboundPriority <- outboundFrame{textPayload: data}:
	default:
		s.logger.Warn("priority frame dropped", "session_id", s.sessionID)
	}
}

func errorCodeFor(err error) string {
	var ce *core.Error
	if errors.As(err, &ce) && ce != nil {
		return string(ce.Type)
	}
	return "turn_failed"
}

// transportError marks an abnormal connection loss with the canonical
// session-fatal taxonomy type.
func transportError(err error) error {
	e := core.NewTransportClosedError("connection read failed")
	e.Cause = err
	return e
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, context.Canceled)
}
