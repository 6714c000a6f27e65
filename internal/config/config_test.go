package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	c := Config{}
	c.App.Env = "local"
	c.App.Port = 8080
	c.App.PublicHost = "calls.example.com"
	c.DB.Host = "localhost"
	c.DB.Port = 5432
	c.DB.User = "app"
	c.DB.Name = "callbridge"
	c.Redis.Host = "localhost"
	c.Redis.Port = 6379
	c.Twilio.AccountSID = "AC123"
	c.Twilio.AuthToken = "tok"
	c.Twilio.CallerNumber = "+15550001111"
	c.Model.APIKey = "sk-test"
	c.Stream.TokenSecret = "secret"
	return c
}

func TestValidate_AppliesDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if c.Pipeline.Mode != "realtime" {
		t.Fatalf("expected realtime default, got %q", c.Pipeline.Mode)
	}
	if c.Model.VADThreshold != 0.5 {
		t.Fatalf("expected default threshold 0.5, got %v", c.Model.VADThreshold)
	}
	if c.Model.PrefixPadding != 300*time.Millisecond {
		t.Fatalf("expected 300ms prefix padding, got %v", c.Model.PrefixPadding)
	}
	if c.Model.SilenceDuration != 500*time.Millisecond {
		t.Fatalf("expected 500ms silence, got %v", c.Model.SilenceDuration)
	}
	if c.Stream.BargeInGrace != 0 {
		t.Fatalf("expected zero barge-in grace by default, got %v", c.Stream.BargeInGrace)
	}
	if c.Stream.CorrelationGrace <= 0 {
		t.Fatalf("expected a correlation grace default")
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected local sslmode default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_RejectsBadPublicHost(t *testing.T) {
	c := validConfig()
	c.App.PublicHost = "https://calls.example.com"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for host with scheme")
	}
}

func TestValidate_LegacyModeRequiresEndpoints(t *testing.T) {
	c := validConfig()
	c.Pipeline.Mode = "legacy"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error: legacy mode without endpoints")
	}
	c.Pipeline.STTEndpoint = "https://stt.example.com"
	c.Pipeline.TTSEndpoint = "https://tts.example.com"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid legacy config, got %v", err)
	}
}

func TestValidate_RejectsUnknownPipelineMode(t *testing.T) {
	c := validConfig()
	c.Pipeline.Mode = "hybrid"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown pipeline mode")
	}
}

func TestValidate_RejectsOutOfRangeThreshold(t *testing.T) {
	c := validConfig()
	c.Model.VADThreshold = 1.5
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for threshold > 1")
	}
}

func TestURLHelpers(t *testing.T) {
	c := validConfig()
	if got := c.PublicURL("/webhooks/voice"); got != "https://calls.example.com/webhooks/voice" {
		t.Fatalf("unexpected public url %q", got)
	}
	if got := c.StreamURL("/stream"); got != "wss://calls.example.com/stream" {
		t.Fatalf("unexpected stream url %q", got)
	}
}
