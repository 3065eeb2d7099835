// Package config loads the gateway configuration from CAFE_-prefixed
// environment variables. Malformed values fall back to defaults; values
// that would break the server fail validation instead.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Postgres connection string. Empty selects the in-memory store.
	DatabaseURL string

	GeminiAPIKey string
	Model        string

	// CORS; empty means disabled.
	CORSAllowedOrigins map[string]struct{}

	// Utterance detection tunables.
	VADConfidence    float64
	VADStartDuration time.Duration
	VADStopDuration  time.Duration
	VADMinVolume     float64
	VADPrefixPadding time.Duration
	VADMaxUtterance  time.Duration

	// Live WebSocket limits.
	LiveMaxAudioFrameBytes     int
	LiveMaxJSONMessageBytes    int64
	LiveMaxAudioFPS            int
	LiveMaxAudioBytesPerSecond int64
	LiveInboundBurstSeconds    int
	LiveWSPingInterval         time.Duration
	LiveWSWriteTimeout         time.Duration
	LiveWSReadTimeout          time.Duration
	LiveHandshakeTimeout       time.Duration
	LiveTurnTimeout            time.Duration
	LiveMaxSessionDuration     time.Duration
	LiveOutboundQueueSize      int

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                       envOr("CAFE_ADDR", ":8080"),
		DatabaseURL:                envOr("CAFE_DATABASE_URL", ""),
		GeminiAPIKey:               envOr("CAFE_GEMINI_API_KEY", ""),
		Model:                      envOr("CAFE_MODEL", "gemini-2.0-flash"),
		CORSAllowedOrigins:         make(map[string]struct{}),
		VADConfidence:              envFloat64Or("CAFE_VAD_CONFIDENCE", 0.8),
		VADStartDuration:           envDurationOr("CAFE_VAD_START_DURATION", 100*time.Millisecond),
		VADStopDuration:            envDurationOr("CAFE_VAD_STOP_DURATION", 200*time.Millisecond),
		VADMinVolume:               envFloat64Or("CAFE_VAD_MIN_VOLUME", 0.5),
		VADPrefixPadding:           envDurationOr("CAFE_VAD_PREFIX_PADDING", 300*time.Millisecond),
		VADMaxUtterance:            envDurationOr("CAFE_VAD_MAX_UTTERANCE", 30*time.Second),
		LiveMaxAudioFrameBytes:     envIntOr("CAFE_LIVE_MAX_AUDIO_FRAME_BYTES", 8192),
		LiveMaxJSONMessageBytes:    envInt64Or("CAFE_LIVE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		LiveMaxAudioFPS:            envIntOr("CAFE_LIVE_MAX_AUDIO_FPS", 120),
		LiveMaxAudioBytesPerSecond: envInt64Or("CAFE_LIVE_MAX_AUDIO_BPS", 128*1024),
		LiveInboundBurstSeconds:    envIntOr("CAFE_LIVE_INBOUND_BURST_SECONDS", 2),
		LiveWSPingInterval:         envDurationOr("CAFE_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:         envDurationOr("CAFE_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSReadTimeout:          envDurationOr("CAFE_LIVE_WS_READ_TIMEOUT", 0),
		LiveHandshakeTimeout:       envDurationOr("CAFE_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		LiveTurnTimeout:            envDurationOr("CAFE_LIVE_TURN_TIMEOUT", 30*time.Second),
		LiveMaxSessionDuration:     envDurationOr("CAFE_LIVE_MAX_SESSION_DURATION", 30*time.Minute),
		LiveOutboundQueueSize:      envIntOr("CAFE_LIVE_OUTBOUND_QUEUE_SIZE", 128),
		ReadHeaderTimeout:          envDurationOr("CAFE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                envDurationOr("CAFE_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:             envDurationOr("CAFE_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod:        envDurationOr("CAFE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("CAFE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return Config{}, fmt.Errorf("CAFE_GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return Config{}, fmt.Errorf("CAFE_MODEL must not be empty")
	}
	if cfg.VADConfidence <= 0 || cfg.VADConfidence > 1 {
		return Config{}, fmt.Errorf("CAFE_VAD_CONFIDENCE must be in (0, 1]")
	}
	if cfg.VADMinVolume < 0 || cfg.VADMinVolume > 1 {
		return Config{}, fmt.Errorf("CAFE_VAD_MIN_VOLUME must be in [0, 1]")
	}
	if cfg.VADStartDuration <= 0 {
		return Config{}, fmt.Errorf("CAFE_VAD_START_DURATION must be > 0")
	}
	if cfg.VADStopDuration <= 0 {
		return Config{}, fmt.Errorf("CAFE_VAD_STOP_DURATION must be > 0")
	}
	if cfg.VADPrefixPadding < 0 {
		return Config{}, fmt.Errorf("CAFE_VAD_PREFIX_PADDING must be >= 0")
	}
	if cfg.VADMaxUtterance <= 0 {
		return Config{}, fmt.Errorf("CAFE_VAD_MAX_UTTERANCE must be > 0")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("CAFE_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("CAFE_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveMaxAudioFPS < 0 {
		return Config{}, fmt.Errorf("CAFE_LIVE_MAX_AUDIO_FPS must be >= 0")
	}
	if cfg.LiveMaxAudioBytesPerSecond < 0 {
		return Config{}, fmt.Errorf("CAFE_LIVE_MAX_AUDIO_BPS must be >= 0")
	}
	if cfg.LiveInboundBurstSeconds < 0 {
		return Config{}, fmt.Errorf("CAFE_LIVE_INBOUND_BURST_SECONDS must be >= 0")
	}
	if (cfg.LiveMaxAudioFPS > 0 || cfg.LiveMaxAudioBytesPerSecond > 0) && cfg.LiveInboundBurstSeconds < 1 {
		return Config{}, fmt.Errorf("CAFE_LIVE_INBOUND_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("CAFE_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("CAFE_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSReadTimeout < 0 {
		return Config{}, fmt.Errorf("CAFE_LIVE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("CAFE_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.LiveTurnTimeout < 0 {
		return Config{}, fmt.Errorf("CAFE_LIVE_TURN_TIMEOUT must be >= 0")
	}
	if cfg.LiveMaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("CAFE_LIVE_MAX_SESSION_DURATION must be > 0")
	}
	if cfg.LiveOutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("CAFE_LIVE_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("CAFE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("CAFE_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("CAFE_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("CAFE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
