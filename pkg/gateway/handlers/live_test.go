package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sunrisecafe/cafe-agent/pkg/core"
	"github.com/sunrisecafe/cafe-agent/pkg/core/convo"
	"github.com/sunrisecafe/cafe-agent/pkg/core/types"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/config"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/live/session"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/live/sessions"
	"github.com/sunrisecafe/cafe-agent/pkg/order"
)

type scriptedTurnEngine struct {
	run func(ctx context.Context, userText string) (string, error)
}

func (e *scriptedTurnEngine) RunTurn(ctx context.Context, userText string) (string, error) {
	return e.run(ctx, userText)
}

type liveTestOptions struct {
	audio   bool
	store   order.Store
	tracker *sessions.Tracker
	engine  EngineFactory
}

func newLiveTestServer(t *testing.T, opts liveTestOptions) (*httptest.Server, string) {
	t.Helper()
	if opts.store == nil {
		opts.store = seededMenuStore(t)
	}
	if opts.engine == nil {
		opts.engine = func(convo.Dispatcher) (session.TurnEngine, error) {
			return &scriptedTurnEngine{run: func(ctx context.Context, userText string) (string, error) {
				return "Anything else?", nil
			}}, nil
		}
	}

	h := LiveHandler{
		Config: config.Config{
			LiveMaxAudioFrameBytes:  8192,
			LiveMaxJSONMessageBytes: 64 * 1024,
			LiveWSPingInterval:      5 * time.Second,
			LiveWSWriteTimeout:      2 * time.Second,
			LiveHandshakeTimeout:    2 * time.Second,
			LiveTurnTimeout:         5 * time.Second,
			LiveMaxSessionDuration:  30 * time.Second,
			LiveOutboundQueueSize:   64,
		},
		Logger:       slog.New(slog.DiscardHandler),
		Store:        opts.store,
		LiveSessions: opts.tracker,
		Audio:        opts.audio,
		NewEngine:    opts.engine,
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func mustDialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	return conn
}

func mustWriteJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

func mustReadJSON(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return out
}

func textHello() map[string]any {
	return map[string]any{"type": "hello", "protocol_version": "1"}
}

func audioHello() map[string]any {
	return map[string]any{
		"type":             "hello",
		"protocol_version": "1",
		"audio_in":         map[string]any{"encoding": "pcm_s16le", "sample_rate_hz": 16000, "channels": 1},
	}
}

func TestLiveHandler_HelloAck_TextChannel(t *testing.T) {
	_, wsURL := newLiveTestServer(t, liveTestOptions{})
	conn := mustDialWS(t, wsURL)
	defer conn.Close()

	mustWriteJSON(t, conn, textHello())

	ack := mustReadJSON(t, conn, 2*time.Second)
	if ack["type"] != "hello_ack" {
		t.Fatalf("type=%v", ack["type"])
	}
	if ack["protocol_version"] != "1" {
		t.Fatalf("protocol_version=%v", ack["protocol_version"])
	}
	sessionID, _ := ack["session_id"].(string)
	if !strings.HasPrefix(sessionID, "s_") {
		t.Fatalf("session_id=%q", sessionID)
	}
	if _, ok := ack["audio_in"]; ok {
		t.Fatalf("text channel ack should not echo audio_in: %v", ack)
	}
}

func TestLiveHandler_HandshakeUnsupportedVersion(t *testing.T) {
	_, wsURL := newLiveTestServer(t, liveTestOptions{})
	conn := mustDialWS(t, wsURL)
	defer conn.Close()

	mustWriteJSON(t, conn, map[string]any{"type": "hello", "protocol_version": "2"})

	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "error" {
		t.Fatalf("type=%v", msg["type"])
	}
	if msg["code"] != "unsupported" {
		t.Fatalf("code=%v", msg["code"])
	}
}

func TestLiveHandler_AudioChannelRequiresAudioIn(t *testing.T) {
	_, wsURL := newLiveTestServer(t, liveTestOptions{audio: true})
	conn := mustDialWS(t, wsURL)
	defer conn.Close()

	mustWriteJSON(t, conn, textHello())

	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "error" || msg["code"] != "bad_request" {
		t.Fatalf("frame=%v", msg)
	}
}

func TestLiveHandler_AudioChannelRejectsWrongRate(t *testing.T) {
	_, wsURL := newLiveTestServer(t, liveTestOptions{audio: true})
	conn := mustDialWS(t, wsURL)
	defer conn.Close()

	hello := audioHello()
	hello["audio_in"].(map[string]any)["sample_rate_hz"] = 44100
	mustWriteJSON(t, conn, hello)

	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "error" || msg["code"] != "unsupported" {
		t.Fatalf("frame=%v", msg)
	}
}

func TestLiveHandler_TextChannelRejectsAudioIn(t *testing.T) {
	_, wsURL := newLiveTestServer(t, liveTestOptions{})
	conn := mustDialWS(t, wsURL)
	defer conn.Close()

	mustWriteJSON(t, conn, audioHello())

	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "error" || msg["code"] != "bad_request" {
		t.Fatalf("frame=%v", msg)
	}
}

func TestLiveHandler_TextTurnProducesAssistantText(t *testing.T) {
	var gotText string
	factory := func(convo.Dispatcher) (session.TurnEngine, error) {
		return &scriptedTurnEngine{run: func(ctx context.Context, userText string) (string, error) {
			gotText = userText
			return "Sure! One latte coming up.", nil
		}}, nil
	}
	_, wsURL := newLiveTestServer(t, liveTestOptions{engine: factory})
	conn := mustDialWS(t, wsURL)
	defer conn.Close()

	mustWriteJSON(t, conn, textHello())
	_ = mustReadJSON(t, conn, 2*time.Second)

	mustWriteJSON(t, conn, map[string]any{"type": "text", "text": "a latte please"})

	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "assistant_text" {
		t.Fatalf("type=%v", msg["type"])
	}
	if msg["text"] != "Sure! One latte coming up." {
		t.Fatalf("text=%v", msg["text"])
	}
	if gotText != "a latte please" {
		t.Fatalf("engine saw %q", gotText)
	}
}

func TestLiveHandler_ToolResultsStreamDuringTurn(t *testing.T) {
	store := seededMenuStore(t)
	factory := func(d convo.Dispatcher) (session.TurnEngine, error) {
		return &scriptedTurnEngine{run: func(ctx context.Context, userText string) (string, error) {
			if _, err := d.Dispatch(ctx, types.AddItemCall{Item: "latte", Qty: 1}); err != nil {
				return "", err
			}
			return "Added a latte.", nil
		}}, nil
	}
	_, wsURL := newLiveTestServer(t, liveTestOptions{store: store, engine: factory})
	conn := mustDialWS(t, wsURL)
	defer conn.Close()

	mustWriteJSON(t, conn, textHello())
	_ = mustReadJSON(t, conn, 2*time.Second)

	mustWriteJSON(t, conn, map[string]any{"type": "text", "text": "a latte please"})

	first := mustReadJSON(t, conn, 2*time.Second)
	if first["type"] != "tool_result" {
		t.Fatalf("first frame type=%v", first["type"])
	}
	if first["tool"] != "add_item" {
		t.Fatalf("tool=%v", first["tool"])
	}
	payload, _ := first["payload"].(map[string]any)
	if payload["status"] != "added" || payload["item"] != "Latte" {
		t.Fatalf("payload=%v", payload)
	}

	second := mustReadJSON(t, conn, 2*time.Second)
	if second["type"] != "assistant_text" {
		t.Fatalf("second frame type=%v", second["type"])
	}

	draft, err := store.GetOrCreateDraft(context.Background(), "text")
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if len(draft.Lines) != 1 || draft.Lines[0].Name != "Latte" {
		t.Fatalf("draft lines=%+v", draft.Lines)
	}
}

func TestLiveHandler_SessionsOnSameChannelShareDraft(t *testing.T) {
	store := seededMenuStore(t)
	factory := func(d convo.Dispatcher) (session.TurnEngine, error) {
		return &scriptedTurnEngine{run: func(ctx context.Context, userText string) (string, error) {
			if _, err := d.Dispatch(ctx, types.AddItemCall{Item: "latte", Qty: 1}); err != nil {
				return "", err
			}
			return "Added a latte.", nil
		}}, nil
	}
	_, wsURL := newLiveTestServer(t, liveTestOptions{store: store, engine: factory})

	for i := 0; i < 2; i++ {
		conn := mustDialWS(t, wsURL)
		mustWriteJSON(t, conn, textHello())
		_ = mustReadJSON(t, conn, 2*time.Second)
		mustWriteJSON(t, conn, map[string]any{"type": "text", "text": "a latte please"})
		_ = mustReadJSON(t, conn, 2*time.Second)
		_ = mustReadJSON(t, conn, 2*time.Second)
		conn.Close()
	}

	orders, err := store.ListOrders(context.Background())
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected one shared draft, got %d orders", len(orders))
	}
	if orders[0].Channel != "text" {
		t.Fatalf("channel=%q", orders[0].Channel)
	}
	draft, err := store.GetOrCreateDraft(context.Background(), "text")
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if len(draft.Lines) != 2 {
		t.Fatalf("expected both sessions to append to one draft, lines=%+v", draft.Lines)
	}
}

func TestLiveHandler_EngineErrorClosesSession(t *testing.T) {
	factory := func(convo.Dispatcher) (session.TurnEngine, error) {
		return &scriptedTurnEngine{run: func(ctx context.Context, userText string) (string, error) {
			return "", core.NewUpstreamModelError("gemini", errors.New("503"))
		}}, nil
	}
	_, wsURL := newLiveTestServer(t, liveTestOptions{engine: factory})
	conn := mustDialWS(t, wsURL)
	defer conn.Close()

	mustWriteJSON(t, conn, textHello())
	_ = mustReadJSON(t, conn, 2*time.Second)

	mustWriteJSON(t, conn, map[string]any{"type": "text", "text": "hello"})

	errFrame := mustReadJSON(t, conn, 2*time.Second)
	if errFrame["type"] != "error" {
		t.Fatalf("type=%v", errFrame["type"])
	}
	if errFrame["fatal"] != true {
		t.Fatalf("fatal=%v", errFrame["fatal"])
	}
	if errFrame["code"] != string(core.ErrUpstreamModel) {
		t.Fatalf("code=%v", errFrame["code"])
	}

	closed := mustReadJSON(t, conn, 2*time.Second)
	if closed["type"] != "session_closed" {
		t.Fatalf("type=%v", closed["type"])
	}
}

func TestLiveHandler_TrackerCancelAllClosesConn(t *testing.T) {
	tracker := sessions.NewTracker()
	_, wsURL := newLiveTestServer(t, liveTestOptions{tracker: tracker})
	conn := mustDialWS(t, wsURL)
	defer conn.Close()

	mustWriteJSON(t, conn, textHello())
	_ = mustReadJSON(t, conn, 2*time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for tracker.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	tracker.CancelAll()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !tracker.Wait(ctx) {
		t.Fatalf("tracker did not drain")
	}
}
