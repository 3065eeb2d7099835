package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeClientMessageHello(t *testing.T) {
	raw := `{"type":"hello","protocol_version":"1","audio_in":{"encoding":"pcm_s16le","sample_rate_hz":16000,"channels":1}}`
	msg, err := DecodeClientMessage([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hello, ok := msg.(ClientHello)
	if !ok {
		t.Fatalf("got %T", msg)
	}
	if hello.AudioIn == nil || hello.AudioIn.SampleRateHz != 16000 {
		t.Fatalf("audio_in = %+v", hello.AudioIn)
	}
}

func TestDecodeClientMessageHelloWithoutAudio(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"hello","protocol_version":"1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := msg.(ClientHello); !ok {
		t.Fatalf("got %T", msg)
	}
}

func TestDecodeClientMessageText(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"text","text":"a latte please"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	text, ok := msg.(ClientText)
	if !ok || text.Text != "a latte please" {
		t.Fatalf("got %#v", msg)
	}
}

func TestDecodeClientMessageControl(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"control","op":" flush "}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ctl, ok := msg.(ClientControl)
	if !ok || ctl.Op != ControlFlush {
		t.Fatalf("got %#v", msg)
	}
}

func TestDecodeClientMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"not json", `pcm?`, "bad_request"},
		{"missing type", `{}`, "bad_request"},
		{"unknown type", `{"type":"playback_mark"}`, "bad_request"},
		{"empty text", `{"type":"text","text":"  "}`, "bad_request"},
		{"bad control op", `{"type":"control","op":"interrupt"}`, "unsupported"},
		{"wrong protocol version", `{"type":"hello","protocol_version":"2"}`, "unsupported"},
		{"bad encoding", `{"type":"hello","protocol_version":"1","audio_in":{"encoding":"opus","sample_rate_hz":16000,"channels":1}}`, "unsupported"},
		{"bad sample rate", `{"type":"hello","protocol_version":"1","audio_in":{"encoding":"pcm_s16le","sample_rate_hz":0,"channels":1}}`, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(tt.raw))
			if err == nil {
				t.Fatal("expected error")
			}
			de, ok := err.(*DecodeError)
			if !ok {
				t.Fatalf("got %T: %v", err, err)
			}
			if de.Code != tt.code {
				t.Fatalf("code = %q, want %q (%v)", de.Code, tt.code, de)
			}
		})
	}
}

func TestServerFrameShapes(t *testing.T) {
	ack := NewHelloAck("sess_1", &AudioFormat{Encoding: AudioEncodingPCMS16LE, SampleRateHz: 16000, Channels: 1})
	data, err := json.Marshal(ack)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "hello_ack" || m["session_id"] != "sess_1" {
		t.Fatalf("ack = %v", m)
	}

	tr := NewToolResult("add_item", []byte(`{"status":"added"}`))
	data, err = json.Marshal(tr)
	if err != nil {
		t.Fatalf("marshal tool_result: %v", err)
	}
	if string(data) != `{"type":"tool_result","tool":"add_item","payload":{"status":"added"}}` {
		t.Fatalf("tool_result wire = %s", data)
	}
}

func TestErrorFromDecode(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"nope"}`))
	frame := ErrorFromDecode(err)
	if frame.Type != "error" || frame.Code != "bad_request" || frame.Fatal {
		t.Fatalf("frame = %+v", frame)
	}
}
