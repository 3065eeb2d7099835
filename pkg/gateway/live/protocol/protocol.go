// Package protocol defines the websocket wire format shared by the audio
// and text ordering channels. Client JSON frames are decoded through an
// envelope type switch; raw PCM travels as binary frames and never appears
// here.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ProtocolVersion1 = "1"

	// Audio the server accepts on /ws/audio binary frames.
	AudioEncodingPCMS16LE = "pcm_s16le"
)

// DecodeError reports a malformed or unsupported client frame.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// AudioFormat describes the PCM the client will send.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// ClientHello opens a session. It must be the first frame on either
// channel; AudioIn is required only on the audio channel.
type ClientHello struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	AudioIn         *AudioFormat `json:"audio_in,omitempty"`
}

// ClientText carries one complete customer message on the text channel.
type ClientText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ClientControl carries session control operations.
type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

// Control operations.
const (
	ControlFlush      = "flush"
	ControlEndSession = "end_session"
)

// DecodeClientMessage parses one client JSON frame. The returned value is
// ClientHello, ClientText, or ClientControl.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "text":
		var msg ClientText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text frame", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("text.text is required", "text")
		}
		return msg, nil
	case "control":
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control frame", "")
		}
		op := strings.TrimSpace(msg.Op)
		if op == "" {
			return nil, badRequest("control.op is required", "op")
		}
		switch op {
		case ControlFlush, ControlEndSession:
		default:
			return nil, unsupported("unsupported control operation", "op")
		}
		msg.Op = op
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ValidateHello checks the handshake frame. A missing audio_in is allowed;
// the text channel never sends one.
func ValidateHello(msg ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if msg.ProtocolVersion != ProtocolVersion1 {
		return unsupported("unsupported protocol version", "protocol_version")
	}
	if msg.AudioIn == nil {
		return nil
	}
	if msg.AudioIn.Encoding != AudioEncodingPCMS16LE {
		return unsupported("unsupported audio encoding", "audio_in.encoding")
	}
	if msg.AudioIn.SampleRateHz <= 0 {
		return badRequest("hello.audio_in.sample_rate_hz must be > 0", "audio_in.sample_rate_hz")
	}
	if msg.AudioIn.Channels <= 0 {
		return badRequest("hello.audio_in.channels must be > 0", "audio_in.channels")
	}
	return nil
}

// Server frames.

// HelloAck confirms the handshake and echoes the negotiated limits.
type HelloAck struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	SessionID       string       `json:"session_id"`
	AudioIn         *AudioFormat `json:"audio_in,omitempty"`
}

// UtteranceStarted tells the client speech was detected.
type UtteranceStarted struct {
	Type string `json:"type"`
}

// UtteranceCommitted tells the client an utterance closed and is being
// transcribed.
type UtteranceCommitted struct {
	Type       string `json:"type"`
	DurationMS int64  `json:"duration_ms"`
}

// AssistantText carries the model's reply for one turn.
type AssistantText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult streams one executed tool's payload to the client while the
// turn is still running.
type ToolResult struct {
	Type    string          `json:"type"`
	Tool    string          `json:"tool"`
	Payload json.RawMessage `json:"payload"`
}

// AudioChunkHeader precedes one binary frame of synthesized reply audio.
type AudioChunkHeader struct {
	Type         string `json:"type"`
	Format       string `json:"format"`
	SampleRateHz int    `json:"sample_rate_hz"`
	SizeBytes    int    `json:"size_bytes"`
}

// ServerError reports a frame-level or session-level failure.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// SessionClosed is the final frame before the server closes the socket.
type SessionClosed struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func NewHelloAck(sessionID string, audioIn *AudioFormat) HelloAck {
	return HelloAck{Type: "hello_ack", ProtocolVersion: ProtocolVersion1, SessionID: sessionID, AudioIn: audioIn}
}

func NewUtteranceStarted() UtteranceStarted {
	return UtteranceStarted{Type: "utterance_started"}
}

func NewUtteranceCommitted(durationMS int64) UtteranceCommitted {
	return UtteranceCommitted{Type: "utterance_committed", DurationMS: durationMS}
}

func NewAssistantText(text string) AssistantText {
	return AssistantText{Type: "assistant_text", Text: text}
}

func NewAudioChunkHeader(sampleRateHz, sizeBytes int) AudioChunkHeader {
	return AudioChunkHeader{Type: "audio_chunk", Format: AudioEncodingPCMS16LE, SampleRateHz: sampleRateHz, SizeBytes: sizeBytes}
}

func NewToolResult(tool string, payload []byte) ToolResult {
	return ToolResult{Type: "tool_result", Tool: tool, Payload: json.RawMessage(payload)}
}

func NewServerError(code, message, param string, fatal bool) ServerError {
	return ServerError{Type: "error", Code: code, Message: message, Param: param, Fatal: fatal}
}

func NewSessionClosed(reason string) SessionClosed {
	return SessionClosed{Type: "session_closed", Reason: reason}
}

// ErrorFromDecode maps a decode failure onto the wire error frame.
func ErrorFromDecode(err error) ServerError {
	if de, ok := err.(*DecodeError); ok && de != nil {
		return NewServerError(de.Code, de.Message, de.Param, false)
	}
	return NewServerError("bad_request", err.Error(), "", false)
}
