package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sunrisecafe/cafe-agent/pkg/gateway/config"
)

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr.Body.String() != "ok\n" {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func readyTestConfig() config.Config {
	return config.Config{
		GeminiAPIKey:           "test-key",
		VADConfidence:          0.8,
		VADMinVolume:           0.5,
		VADStartDuration:       100 * time.Millisecond,
		VADStopDuration:        200 * time.Millisecond,
		LiveMaxAudioFrameBytes: 8192,
		LiveMaxSessionDuration: 30 * time.Minute,
		ReadHeaderTimeout:      10 * time.Second,
		ReadTimeout:            30 * time.Second,
		HandlerTimeout:         2 * time.Minute,
	}
}

func TestReadyHandler_OK(t *testing.T) {
	rr := httptest.NewRecorder()
	ReadyHandler{Config: readyTestConfig()}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp struct {
		OK             bool     `json:"ok"`
		PersistEnabled bool     `json:"persist_enabled"`
		Issues         []string `json:"issues"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.OK || len(resp.Issues) != 0 {
		t.Fatalf("ok=%v issues=%v", resp.OK, resp.Issues)
	}
	if resp.PersistEnabled {
		t.Fatalf("expected persist_enabled=false without database url")
	}
}

func TestReadyHandler_ReportsIssues(t *testing.T) {
	cfg := readyTestConfig()
	cfg.GeminiAPIKey = ""
	cfg.VADConfidence = 1.5

	rr := httptest.NewRecorder()
	ReadyHandler{Config: cfg}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
	var resp struct {
		OK     bool     `json:"ok"`
		Issues []string `json:"issues"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.OK || len(resp.Issues) != 2 {
		t.Fatalf("ok=%v issues=%v", resp.OK, resp.Issues)
	}
}
