package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Twilio   TwilioConfig
	Model    ModelConfig
	Stream   StreamConfig
	Pipeline PipelineConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicHost is the externally reachable host for webhook and stream URLs,
	// e.g. "calls.example.com". No scheme, no trailing slash.
	PublicHost string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	CallerNumber string
}

// ModelConfig configures the realtime AI session.
//
// The turn-detection tunables are operator knobs; defaults are applied in
// Validate() and the accepted ranges are enforced there.
type ModelConfig struct {
	APIKey string
	Model  string
	Voice  string

	// Voice-activity detection tunables.
	VADThreshold    float64       // 0..1, default 0.5
	PrefixPadding   time.Duration // audio kept before detected speech, default 300ms
	SilenceDuration time.Duration // silence ending a caller turn, default 500ms

	// Sampling parameters; penalties damp repetitive phrasing on long calls.
	Temperature      float64
	FrequencyPenalty float64
	PresencePenalty  float64

	// MaxCallDuration bounds a single call; on expiry the session is closed
	// gracefully after the current utterance.
	MaxCallDuration time.Duration
}

// StreamConfig configures the telephony media-stream leg.
type StreamConfig struct {
	// TokenSecret signs the short-lived stream-URL tokens that bind a
	// websocket connect to a call id.
	TokenSecret string
	TokenTTL    time.Duration

	// CorrelationGrace is how long a stream connect may wait for its call
	// record to appear before the connection is dropped.
	CorrelationGrace time.Duration

	// BargeInGrace suppresses interruption detection for a window after AI
	// speech begins. Zero means interrupt immediately.
	BargeInGrace time.Duration

	// ResponseDelay is an extra pause before the AI is asked to respond
	// after the caller stops speaking. Zero means no extra delay.
	ResponseDelay time.Duration

	// MaxConcurrentCalls caps live calls per deployment (enforced in Redis).
	MaxConcurrentCalls int
}

// PipelineConfig selects and configures the conversation path.
// Mode "realtime" uses the integrated streaming model; "legacy" uses the
// sequential STT -> reasoning -> TTS pipeline.
type PipelineConfig struct {
	Mode string

	STTEndpoint string
	TTSEndpoint string
	TTSVoice    string
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
	c.App.PublicHost = strings.TrimSpace(os.Getenv("APP_PUBLIC_HOST"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.CallerNumber = strings.TrimSpace(os.Getenv("TWILIO_CALLER_NUMBER"))

	c.Model.APIKey = os.Getenv("MODEL_API_KEY")
	c.Model.Model = strings.TrimSpace(os.Getenv("MODEL_NAME"))
	c.Model.Voice = strings.TrimSpace(os.Getenv("MODEL_VOICE"))
	c.Model.VADThreshold = optFloat("MODEL_VAD_THRESHOLD")
	c.Model.PrefixPadding = optDuration("MODEL_VAD_PREFIX_PADDING")
	c.Model.SilenceDuration = optDuration("MODEL_VAD_SILENCE")
	c.Model.Temperature = optFloat("MODEL_TEMPERATURE")
	c.Model.FrequencyPenalty = optFloat("MODEL_FREQUENCY_PENALTY")
	c.Model.PresencePenalty = optFloat("MODEL_PRESENCE_PENALTY")
	c.Model.MaxCallDuration = optDuration("MODEL_MAX_CALL_DURATION")

	c.Stream.TokenSecret = os.Getenv("STREAM_TOKEN_SECRET")
	c.Stream.TokenTTL = optDuration("STREAM_TOKEN_TTL")
	c.Stream.CorrelationGrace = optDuration("STREAM_CORRELATION_GRACE")
	c.Stream.BargeInGrace = optDuration("STREAM_BARGE_IN_GRACE")
	c.Stream.ResponseDelay = optDuration("STREAM_RESPONSE_DELAY")
	c.Stream.MaxConcurrentCalls = optInt("STREAM_MAX_CONCURRENT_CALLS")

	c.Pipeline.Mode = strings.TrimSpace(os.Getenv("PIPELINE_MODE"))
	c.Pipeline.STTEndpoint = strings.TrimSpace(os.Getenv("PIPELINE_STT_ENDPOINT"))
	c.Pipeline.TTSEndpoint = strings.TrimSpace(os.Getenv("PIPELINE_TTS_ENDPOINT"))
	c.Pipeline.TTSVoice = strings.TrimSpace(os.Getenv("PIPELINE_TTS_VOICE"))

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
	if c.App.PublicHost == "" {
		errs = append(errs, errors.New("APP_PUBLIC_HOST is required (webhook and stream URLs are built from it)"))
	} else if strings.Contains(c.App.PublicHost, "://") || strings.HasSuffix(c.App.PublicHost, "/") {
		errs = append(errs, fmt.Errorf("APP_PUBLIC_HOST must be a bare host, got %q", c.App.PublicHost))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Twilio.CallerNumber == "" {
		errs = append(errs, errors.New("TWILIO_CALLER_NUMBER is required"))
	}

	if c.Pipeline.Mode == "" {
		c.Pipeline.Mode = "realtime"
	}
	switch c.Pipeline.Mode {
	case "realtime":
		if c.Model.APIKey == "" {
			errs = append(errs, errors.New("MODEL_API_KEY is required in realtime mode"))
		}
	case "legacy":
		if c.Pipeline.STTEndpoint == "" || c.Pipeline.TTSEndpoint == "" {
			errs = append(errs, errors.New("PIPELINE_STT_ENDPOINT and PIPELINE_TTS_ENDPOINT are required in legacy mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("PIPELINE_MODE must be realtime or legacy, got %q", c.Pipeline.Mode))
	}

	if c.Model.Model == "" {
		c.Model.Model = "gpt-4o-realtime-preview"
	}
	if c.Model.Voice == "" {
		c.Model.Voice = "alloy"
	}
	if c.Model.VADThreshold == 0 {
		c.Model.VADThreshold = 0.5
	}
	if c.Model.VADThreshold < 0 || c.Model.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("MODEL_VAD_THRESHOLD must be in [0,1], got %v", c.Model.VADThreshold))
	}
	if c.Model.PrefixPadding <= 0 {
		c.Model.PrefixPadding = 300 * time.Millisecond
	}
	if c.Model.SilenceDuration <= 0 {
		c.Model.SilenceDuration = 500 * time.Millisecond
	}
	if c.Model.Temperature == 0 {
		c.Model.Temperature = 0.8
	}
	if c.Model.MaxCallDuration <= 0 {
		c.Model.MaxCallDuration = 10 * time.Minute
	}

	if c.Stream.TokenSecret == "" {
		errs = append(errs, errors.New("STREAM_TOKEN_SECRET is required"))
	}
	if c.Stream.TokenTTL <= 0 {
		// Long enough to survive provider dial + ring time.
		c.Stream.TokenTTL = 5 * time.Minute
	}
	if c.Stream.CorrelationGrace <= 0 {
		c.Stream.CorrelationGrace = 3 * time.Second
	}
	if c.Stream.BargeInGrace < 0 {
		errs = append(errs, errors.New("STREAM_BARGE_IN_GRACE must be >= 0"))
	}
	if c.Stream.ResponseDelay < 0 {
		errs = append(errs, errors.New("STREAM_RESPONSE_DELAY must be >= 0"))
	}
	if c.Stream.MaxConcurrentCalls <= 0 {
		c.Stream.MaxConcurrentCalls = 20
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// PublicURL builds an https URL on the public host.
func (c Config) PublicURL(path string) string {
	return "https://" + c.App.PublicHost + path
}

// StreamURL builds the wss URL the provider connects its media stream to.
func (c Config) StreamURL(path string) string {
	return "wss://" + c.App.PublicHost + path
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

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
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

func optFloat(key string) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
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
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
