package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the server process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	Twilio TwilioConfig
	Engine EngineConfig
	Redis  RedisConfig
	DB     DBConfig
	Auth   AuthConfig
	Call   CallConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicDomain is the externally reachable host Twilio calls back into
	// (webhooks and the media-stream WebSocket). No scheme, no trailing slash.
	PublicDomain string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

type EngineConfig struct {
	OpenAIAPIKey  string
	RealtimeModel string
	Voice         string

	// AnalysisModel is the chat model used for transcript outcome analysis.
	AnalysisModel string

	// AudioFormat is the audio format negotiated with the realtime engine.
	// "g711_ulaw" keeps the telephony encoding end to end (no conversion);
	// "pcm16" makes the bridge transcode 8kHz mulaw <-> 24kHz PCM16.
	AudioFormat string
}

// RedisConfig is optional; an empty Host disables redis-backed rate limiting.
type RedisConfig struct {
	Host string
	Port int
}

// DBConfig is optional; an empty Host disables the Postgres call archive.
// The in-memory registry is always the source of truth for live calls.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type AuthConfig struct {
	// APISecret signs the service-to-service bearer tokens protecting /v1.
	APISecret string
	TokenTTL  time.Duration
}

type CallConfig struct {
	// HandshakeTimeout bounds how long a media-stream session waits for the
	// transport's start event before failing the call.
	HandshakeTimeout time.Duration

	// CompletionTimeout is the default bound on waiting for a terminal result.
	CompletionTimeout time.Duration

	// PollInterval is the gateway's registry polling cadence.
	PollInterval time.Duration

	// RecordTTL controls how long terminal call records stay in the registry
	// before the sweeper evicts them.
	RecordTTL time.Duration

	// Rate limits per caller session (0 disables the check).
	HourlyLimit int
	DailyLimit  int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicDomain = strings.TrimSpace(os.Getenv("PUBLIC_DOMAIN"))

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER"))

	c.Engine.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	c.Engine.RealtimeModel = strings.TrimSpace(os.Getenv("REALTIME_MODEL"))
	c.Engine.Voice = strings.TrimSpace(os.Getenv("REALTIME_VOICE"))
	c.Engine.AnalysisModel = strings.TrimSpace(os.Getenv("ANALYSIS_MODEL"))
	c.Engine.AudioFormat = strings.TrimSpace(os.Getenv("REALTIME_AUDIO_FORMAT"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	if c.DB.Host != "" {
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Auth.APISecret = os.Getenv("API_SECRET")
	c.Auth.TokenTTL = optDuration("API_TOKEN_TTL")

	c.Call.HandshakeTimeout = optDuration("CALL_HANDSHAKE_TIMEOUT")
	c.Call.CompletionTimeout = optDuration("CALL_COMPLETION_TIMEOUT")
	c.Call.PollInterval = optDuration("CALL_POLL_INTERVAL")
	c.Call.RecordTTL = optDuration("CALL_RECORD_TTL")
	c.Call.HourlyLimit = optInt("CALL_HOURLY_LIMIT")
	c.Call.DailyLimit = optInt("CALL_DAILY_LIMIT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicDomain == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("PUBLIC_DOMAIN is required in production"))
		}
	} else if strings.Contains(c.App.PublicDomain, "://") {
		errs = append(errs, fmt.Errorf("PUBLIC_DOMAIN must be a bare host, got %q", c.App.PublicDomain))
	}

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Twilio.FromNumber == "" {
		errs = append(errs, errors.New("TWILIO_FROM_NUMBER is required"))
	}

	if c.Engine.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.Engine.RealtimeModel == "" {
		c.Engine.RealtimeModel = "gpt-4o-realtime-preview"
	}
	if c.Engine.Voice == "" {
		c.Engine.Voice = "alloy"
	}
	if c.Engine.AnalysisModel == "" {
		c.Engine.AnalysisModel = "gpt-4o-mini"
	}
	switch c.Engine.AudioFormat {
	case "":
		c.Engine.AudioFormat = "g711_ulaw"
	case "g711_ulaw", "pcm16":
	default:
		errs = append(errs, fmt.Errorf("REALTIME_AUDIO_FORMAT must be g711_ulaw or pcm16, got %q", c.Engine.AudioFormat))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.DB.Host != "" {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when DB_HOST is set"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when DB_HOST is set"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.Auth.APISecret == "" {
		errs = append(errs, errors.New("API_SECRET is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}

	if c.Call.HandshakeTimeout <= 0 {
		c.Call.HandshakeTimeout = 15 * time.Second
	}
	if c.Call.CompletionTimeout <= 0 {
		c.Call.CompletionTimeout = 3 * time.Minute
	}
	if c.Call.PollInterval <= 0 {
		c.Call.PollInterval = 2 * time.Second
	}
	if c.Call.RecordTTL <= 0 {
		c.Call.RecordTTL = time.Hour
	}
	if c.Call.HourlyLimit < 0 || c.Call.DailyLimit < 0 {
		errs = append(errs, errors.New("CALL_HOURLY_LIMIT and CALL_DAILY_LIMIT must be >= 0"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// RateLimitEnabled reports whether redis-backed call rate limiting is on.
func (c Config) RateLimitEnabled() bool {
	return c.Redis.Host != "" && (c.Call.HourlyLimit > 0 || c.Call.DailyLimit > 0)
}

// ArchiveEnabled reports whether terminal call records are copied to Postgres.
func (c Config) ArchiveEnabled() bool {
	return c.DB.Host != ""
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// StreamURL is the WebSocket endpoint Twilio connects its media stream to.
func (c Config) StreamURL() string {
	return fmt.Sprintf("wss://%s/media-stream", c.App.PublicDomain)
}

// TwiMLURL is the webhook Twilio fetches call instructions from.
func (c Config) TwiMLURL(callID string) string {
	return fmt.Sprintf("https://%s/twiml?call_id=%s", c.App.PublicDomain, callID)
}

// StatusCallbackURL receives provider call-status updates.
func (c Config) StatusCallbackURL() string {
	return fmt.Sprintf("https://%s/webhooks/twilio/status", c.App.PublicDomain)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:")
	for _, e := range errs {
		b.WriteString("\n  - ")
		b.WriteString(e.Error())
	}
	return errors.New(b.String())
}
