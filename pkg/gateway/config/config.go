package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-rooms/pkg/gateway/bots/launcher"
)

// BotVariant selects which worker program runs in a room.
type BotVariant string

const (
	BotVariantOpenAI BotVariant = "openai"
	BotVariantGemini BotVariant = "gemini"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	Addr      string
	LogFormat LogFormat

	// Worker processes.
	BotImplementation BotVariant
	BotCommands       map[BotVariant]launcher.Command
	BotWorkDir        string
	BotMaxPerRoom     int
	BotKillTimeout    time.Duration
	BotReapInterval   time.Duration
	BotReapGrace      time.Duration

	// Daily room service.
	DailyAPIURL        string
	DailyAPIKey        string
	DailySampleRoomURL string
	DailyRoomExpiry    time.Duration

	// Interview LLM (optional).
	GeminiAPIKey string
	GeminiModel  string

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the service is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	// CORS; "*" allows every origin.
	CORSAllowedOrigins map[string]struct{}

	MaxBodyBytes int64

	// In-memory limits (per client).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int
	// Session starts and interview completions, per client per minute.
	LimitCostlyPerMinute float64
	LimitCostlyBurst     int

	StatusWatchPingInterval time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	// Upstream HTTP client defaults
	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration
}

const (
	defaultOpenAICommand = "python3 bot-openai.py -u {room_url} -t {token}"
	defaultGeminiCommand = "python3 bot-gemini.py -u {room_url} -t {token}"
)

// Command returns the argv template for the configured bot variant.
func (c Config) Command() launcher.Command {
	return c.BotCommands[c.BotImplementation]
}

func (c Config) CORSAllowAll() bool {
	_, ok := c.CORSAllowedOrigins["*"]
	return ok
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("ROOMS_ADDR", ":7860"),
		LogFormat:                     LogFormat(strings.ToLower(envOr("LOG_FORMAT", string(LogFormatText)))),
		BotImplementation:             BotVariant(strings.ToLower(envOr("BOT_IMPLEMENTATION", string(BotVariantOpenAI)))),
		BotCommands:                   make(map[BotVariant]launcher.Command),
		BotWorkDir:                    envOr("BOT_WORKDIR", ""),
		BotMaxPerRoom:                 envIntOr("BOT_MAX_PER_ROOM", 1),
		BotKillTimeout:                envDurationOr("BOT_KILL_TIMEOUT", 5*time.Second),
		BotReapInterval:               envDurationOr("BOT_REAP_INTERVAL", time.Minute),
		BotReapGrace:                  envDurationOr("BOT_REAP_GRACE", 10*time.Minute),
		DailyAPIURL:                   envOr("DAILY_API_URL", "https://api.daily.co/v1"),
		DailyAPIKey:                   envOr("DAILY_API_KEY", ""),
		DailySampleRoomURL:            envOr("DAILY_SAMPLE_ROOM_URL", ""),
		DailyRoomExpiry:               envDurationOr("DAILY_ROOM_EXPIRY", time.Hour),
		GeminiAPIKey:                  envOr("GEMINI_API_KEY", ""),
		GeminiModel:                   envOr("GEMINI_MODEL", "gemini-2.5-flash"),
		TrustProxyHeaders:             envBoolOr("TRUST_PROXY_HEADERS", false),
		CORSAllowedOrigins:            make(map[string]struct{}),
		MaxBodyBytes:                  envInt64Or("MAX_BODY_BYTES", 1<<20), // 1 MiB
		LimitRPS:                      envFloat64Or("RATE_LIMIT_RPS", 2.0),
		LimitBurst:                    envIntOr("RATE_LIMIT_BURST", 4),
		LimitMaxConcurrentRequests:    envIntOr("MAX_CONCURRENT_REQUESTS", 20),
		LimitCostlyPerMinute:          envFloat64Or("RATE_LIMIT_COSTLY_PER_MINUTE", 6),
		LimitCostlyBurst:              envIntOr("RATE_LIMIT_COSTLY_BURST", 2),
		StatusWatchPingInterval:       envDurationOr("STATUS_WATCH_PING_INTERVAL", 20*time.Second),
		ReadHeaderTimeout:             envDurationOr("READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:                envDurationOr("TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod:           envDurationOr("SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		UpstreamConnectTimeout:        envDurationOr("UPSTREAM_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("UPSTREAM_RESPONSE_HEADER_TIMEOUT", 30*time.Second),
	}

	switch cfg.BotImplementation {
	case BotVariantOpenAI, BotVariantGemini:
	default:
		return Config{}, fmt.Errorf("BOT_IMPLEMENTATION must be one of openai|gemini, got %q", cfg.BotImplementation)
	}

	switch cfg.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be one of text|json")
	}

	for variant, spec := range map[BotVariant]struct{ key, def string }{
		BotVariantOpenAI: {"BOT_OPENAI_COMMAND", defaultOpenAICommand},
		BotVariantGemini: {"BOT_GEMINI_COMMAND", defaultGeminiCommand},
	} {
		cmd, err := launcher.ParseCommand(envOr(spec.key, spec.def))
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", spec.key, err)
		}
		cfg.BotCommands[variant] = cmd
	}

	for _, origin := range splitCSV(envOr("CORS_ORIGINS", "*")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.DailyAPIKey == "" {
		return Config{}, fmt.Errorf("DAILY_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.DailyAPIURL) == "" {
		return Config{}, fmt.Errorf("DAILY_API_URL must not be empty")
	}
	if cfg.DailyRoomExpiry <= 0 {
		return Config{}, fmt.Errorf("DAILY_ROOM_EXPIRY must be > 0")
	}
	if cfg.BotMaxPerRoom < 1 {
		return Config{}, fmt.Errorf("BOT_MAX_PER_ROOM must be >= 1")
	}
	if cfg.BotKillTimeout <= 0 {
		return Config{}, fmt.Errorf("BOT_KILL_TIMEOUT must be > 0")
	}
	if cfg.BotReapInterval < 0 {
		return Config{}, fmt.Errorf("BOT_REAP_INTERVAL must be >= 0")
	}
	if cfg.BotReapGrace < 0 {
		return Config{}, fmt.Errorf("BOT_REAP_GRACE must be >= 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("MAX_BODY_BYTES must be > 0")
	}
	if cfg.StatusWatchPingInterval <= 0 {
		return Config{}, fmt.Errorf("STATUS_WATCH_PING_INTERVAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_RESPONSE_HEADER_TIMEOUT must be > 0")
	}

	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.LimitCostlyPerMinute < 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_COSTLY_PER_MINUTE must be >= 0")
	}
	if cfg.LimitCostlyBurst < 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_COSTLY_BURST must be >= 0")
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

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
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
