package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sunrisecafe/cafe-agent/pkg/core"
	"github.com/sunrisecafe/cafe-agent/pkg/core/convo"
	"github.com/sunrisecafe/cafe-agent/pkg/core/live"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/config"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/live/protocol"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/live/session"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/live/sessions"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/mw"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/tools/cafetools"
	"github.com/sunrisecafe/cafe-agent/pkg/order"
)

// EngineFactory builds the turn engine for one session. Tests swap it for
// a scripted engine.
type EngineFactory func(dispatcher convo.Dispatcher) (session.TurnEngine, error)

// LiveHandler upgrades /ws/audio and /ws/text connections and runs one
// ordering session per connection. Audio selects the utterance-gated
// pipeline; text skips straight to turns.
type LiveHandler struct {
	Config       config.Config
	Logger       *slog.Logger
	Store        order.Store
	Provider     core.Provider
	Transcriber  session.Transcriber
	Synthesizer  session.Synthesizer
	LiveSessions *sessions.Tracker

	// Audio marks the audio channel; the hello must then carry audio_in.
	Audio bool

	// NewEngine overrides the default convo engine construction.
	NewEngine EngineFactory
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		reqID, _ := mw.RequestIDFrom(r.Context())
		methodNotAllowed(w, reqID)
		return
	}
	if !h.originAllowed(r) {
		reqID, _ := mw.RequestIDFrom(r.Context())
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "origin is not allowed", Param: "Origin", RequestID: reqID}, http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	handshakeTimeout := h.Config.LiveHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello", "")
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello", "")
		return
	}

	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		frame := protocol.ErrorFromDecode(err)
		h.writeWSError(conn, frame.Code, frame.Message, frame.Param)
		return
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello", "")
		return
	}
	if h.Audio {
		if hello.AudioIn == nil {
			h.writeWSError(conn, "bad_request", "hello.audio_in is required on the audio channel", "audio_in")
			return
		}
		if hello.AudioIn.SampleRateHz != 16000 || hello.AudioIn.Channels != 1 {
			h.writeWSError(conn, "unsupported", "audio_in must be pcm_s16le @16000Hz mono", "audio_in")
			return
		}
	} else if hello.AudioIn != nil {
		h.writeWSError(conn, "bad_request", "hello.audio_in is not accepted on the text channel", "audio_in")
		return
	}

	sessionID := "s_" + randHex(8)
	if err := conn.WriteJSON(protocol.NewHelloAck(sessionID, hello.AudioIn)); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	audioIn := live.DefaultAudioConfig()
	var detector *live.UtteranceDetector
	var transcriber session.Transcriber
	var synthesizer session.Synthesizer
	if h.Audio {
		audioIn = live.AudioConfig{
			SampleRate:    hello.AudioIn.SampleRateHz,
			Channels:      hello.AudioIn.Channels,
			BitsPerSample: 16,
		}
		detector, err = live.NewUtteranceDetector(h.detectorConfig(), audioIn)
		if err != nil {
			h.writeWSError(conn, "internal", "failed to initialize utterance detector", "")
			return
		}
		transcriber = h.Transcriber
		synthesizer = h.Synthesizer
	}

	// The session is both the websocket owner and the tool result sink,
	// so the sink is bound after construction. Drafts are keyed by the
	// channel name, not the session, so concurrent sessions on the same
	// channel share one draft.
	sink := &lateSink{}
	dispatcher := cafetools.NewDispatcher(h.Store, h.channelName(), sink)

	engine, err := h.newEngine(dispatcher)
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize conversation engine", "")
		return
	}

	s, err := session.New(session.Dependencies{
		Conn:        conn,
		Logger:      h.Logger,
		Engine:      engine,
		Detector:    detector,
		Transcriber: transcriber,
		Synthesizer: synthesizer,
		AudioIn:     audioIn,
		SessionID:   sessionID,
		RequestID:   requestIDFromContext(r),
		Config: session.Config{
			MaxAudioFrameBytes:         h.Config.LiveMaxAudioFrameBytes,
			MaxJSONMessageBytes:        h.Config.LiveMaxJSONMessageBytes,
			LiveMaxAudioFPS:            h.Config.LiveMaxAudioFPS,
			LiveMaxAudioBytesPerSecond: h.Config.LiveMaxAudioBytesPerSecond,
			LiveInboundBurstSeconds:    h.Config.LiveInboundBurstSeconds,
			PingInterval:               h.Config.LiveWSPingInterval,
			WriteTimeout:               h.Config.LiveWSWriteTimeout,
			ReadTimeout:                h.Config.LiveWSReadTimeout,
			MaxSessionDuration:         h.Config.LiveMaxSessionDuration,
			TurnTimeout:                h.Config.LiveTurnTimeout,
			OutboundQueueSize:          h.Config.LiveOutboundQueueSize,
		},
	})
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize live session", "")
		return
	}
	sink.bind(s)

	unregister := func() {}
	if h.LiveSessions != nil {
		unregister = h.LiveSessions.Register(sessionID, sessions.Handle{
			Cancel: s.Cancel,
			Close:  s.Close,
		})
	}
	defer unregister()

	if err := s.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live session ended with error",
				"session_id", sessionID,
				"request_id", requestIDFromContext(r),
				"error", err)
		}
	}
}

func (h LiveHandler) newEngine(dispatcher convo.Dispatcher) (session.TurnEngine, error) {
	if h.NewEngine != nil {
		return h.NewEngine(dispatcher)
	}
	if h.Provider == nil {
		return nil, fmt.Errorf("model provider is not configured")
	}
	return convo.NewEngine(convo.Options{
		Provider:   h.Provider,
		Dispatcher: dispatcher,
		Tools:      cafetools.Definitions(),
		Model:      h.Config.Model,
		MaxTokens:  1024,
		Logger:     h.Logger,
	})
}

func (h LiveHandler) channelName() string {
	if h.Audio {
		return "audio"
	}
	return "text"
}

func (h LiveHandler) detectorConfig() live.DetectorConfig {
	cfg := live.DefaultDetectorConfig()
	if h.Config.VADConfidence > 0 {
		cfg.Confidence = h.Config.VADConfidence
	}
	if h.Config.VADStartDuration > 0 {
		cfg.StartDuration = h.Config.VADStartDuration
	}
	if h.Config.VADStopDuration > 0 {
		cfg.StopDuration = h.Config.VADStopDuration
	}
	if h.Config.VADMinVolume > 0 {
		cfg.MinVolume = h.Config.VADMinVolume
	}
	if h.Config.VADPrefixPadding > 0 {
		cfg.PrefixPadding = h.Config.VADPrefixPadding
	}
	if h.Config.VADMaxUtterance > 0 {
		cfg.MaxUtterance = h.Config.VADMaxUtterance
	}
	return cfg
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message, param string) {
	_ = conn.WriteJSON(protocol.NewServerError(code, message, param, true))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}

// lateSink forwards tool results to a session bound after the dispatcher
// is built. Nothing dispatches before Run, so a plain field is enough.
type lateSink struct {
	s cafetools.ResultSink
}

func (l *lateSink) bind(s cafetools.ResultSink) { l.s = s }

func (l *lateSink) PushToolResult(toolName string, payload map[string]any) {
	if l.s != nil {
		l.s.PushToolResult(toolName, payload)
	}
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func requestIDFromContext(r *http.Request) string {
	if id, ok := mw.RequestIDFrom(r.Context()); ok {
		return id
	}
	return ""
}
