package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordedWrite struct {
	messageType int
	data        string
}

type fakeWSWriter struct {
	mu     sync.Mutex
	writes []recordedWrite
}

func (f *fakeWSWriter) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWSWriter) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, recordedWrite{messageType: messageType, data: string(data)})
	return nil
}

func (f *fakeWSWriter) WriteControl(messageType int, data []byte, deadline time.Time) error {
	_ = deadline
	return f.WriteMessage(messageType, data)
}

func (f *fakeWSWriter) Close() error { return nil }

func (f *fakeWSWriter) snapshot() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

func TestOutboundWriter_PriorityBeatsNormal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 1)

	normal <- outboundFrame{
		textPayload: []byte(`{"type":"assistant_text","text":"One latte."}`),
	}
	priority <- outboundFrame{
		textPayload: []byte(`{"type":"tool_result","tool":"add_item","payload":{"status":"added"}}`),
	}
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      Config{PingInterval: time.Hour, WriteTimeout: time.Second},
		priority: priority,
		normal:   normal,
	}

	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) == 0 {
		t.Fatalf("expected at least one write")
	}
	if !strings.Contains(writes[0].data, `"type":"tool_result"`) {
		t.Fatalf("first write was not the tool result: %q", writes[0].data)
	}
}

func TestOutboundWriter_BinaryPairWrittenInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 1)

	normal <- outboundFrame{
		binaryPair: &binaryPair{
			header: []byte(`{"type":"audio_chunk","format":"pcm_s16le","sample_rate_hz":16000,"size_bytes":2}`),
			data:   []byte{0x01, 0x02},
		},
	}

	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      Config{PingInterval: time.Hour, WriteTimeout: time.Second},
		priority: priority,
		normal:   normal,
	}

	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	writes := ws.snapshot()
	if len(writes) != 2 {
		t.Fatalf("expected 2 writes, got %d: %+v", len(writes), writes)
	}
	if writes[0].messageType != websocket.TextMessage {
		t.Fatalf("first write type=%d, want TextMessage", writes[0].messageType)
	}
	if writes[1].messageType != websocket.BinaryMessage {
		t.Fatalf("second write type=%d, want BinaryMessage", writes[1].messageType)
	}
}

func TestOutboundWriter_FlushesPriorityOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 1)

	priority <- outboundFrame{textPayload: []byte(`{"type":"session_closed","reason":"error"}`)}
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:       ws,
		ctx:      ctx,
		cfg:      Config{PingInterval: time.Hour, WriteTimeout: time.Second},
		priority: priority,
		normal:   normal,
	}

	cancel()
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) == 0 || !strings.Contains(writes[0].data, `"type":"session_closed"`) {
		t.Fatalf("expected session_closed to flush on shutdown, writes=%+v", writes)
	}
}
