package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sunrisecafe/cafe-agent/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		PersistEnabled bool     `json:"persist_enabled"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if strings.TrimSpace(h.Config.GeminiAPIKey) == "" {
		issues = append(issues, "gemini api key is not configured")
	}
	if h.Config.VADConfidence <= 0 || h.Config.VADConfidence > 1 {
		issues = append(issues, "vad confidence must be in (0, 1]")
	}
	if h.Config.VADMinVolume < 0 || h.Config.VADMinVolume > 1 {
		issues = append(issues, "vad min volume must be in [0, 1]")
	}
	if h.Config.VADStartDuration <= 0 || h.Config.VADStopDuration <= 0 {
		issues = append(issues, "vad durations must be > 0")
	}
	if h.Config.LiveMaxAudioFrameBytes <= 0 {
		issues = append(issues, "live max audio frame bytes must be > 0")
	}
	if h.Config.LiveMaxSessionDuration <= 0 {
		issues = append(issues, "live max session duration must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             ok,
		PersistEnabled: strings.TrimSpace(h.Config.DatabaseURL) != "",
		Issues:         issues,
	})
}
