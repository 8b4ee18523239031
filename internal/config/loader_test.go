package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Strob0t/elicitor/internal/domain/abstention"
	"github.com/Strob0t/elicitor/internal/domain/voi"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "elicitor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("expected max_conns 15, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.VOI.MaxQuestionsPerWorkflow != 2 {
		t.Errorf("expected two-question cap, got %d", cfg.VOI.MaxQuestionsPerWorkflow)
	}
	if cfg.Batching.WindowSeconds != 30 {
		t.Errorf("expected 30s batch window, got %d", cfg.Batching.WindowSeconds)
	}
	if cfg.Abstention.ConfidenceThreshold != 0.7 || cfg.Abstention.SelfConsistencySamples != 5 {
		t.Errorf("unexpected abstention defaults: %+v", cfg.Abstention.Config)
	}
	if cfg.Abstention.LinearProbe {
		t.Error("linear probe should be opt-in")
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	path := writeYAML(t, `
server:
  port: "9090"
postgres:
  max_conns: 20
voi:
  threshold: 0.25
  urgency_multipliers:
    blocking: 0.1
abstention:
  confidence_threshold: 0.9
  on_abstention_action: ask_user
  probe_url: "http://probe:9000"
batching:
  window_seconds: 45
  correlation_keys: [workflow_id, ticket_id]
  expire_after: 2h
`)

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.MaxConns != 20 {
		t.Errorf("expected max_conns 20, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.VOI.Threshold != 0.25 {
		t.Errorf("expected threshold 0.25, got %f", cfg.VOI.Threshold)
	}
	if cfg.VOI.UrgencyMultipliers[voi.UrgencyBlocking] != 0.1 {
		t.Errorf("expected blocking multiplier 0.1, got %f", cfg.VOI.UrgencyMultipliers[voi.UrgencyBlocking])
	}
	// Keys not in YAML keep their defaults.
	if cfg.VOI.UrgencyMultipliers[voi.UrgencyOptional] != 2.0 {
		t.Errorf("expected optional multiplier 2.0, got %f", cfg.VOI.UrgencyMultipliers[voi.UrgencyOptional])
	}
	if cfg.Abstention.ConfidenceThreshold != 0.9 || cfg.Abstention.OnAbstentionAction != abstention.ActionAskUser {
		t.Errorf("abstention override not applied: %+v", cfg.Abstention)
	}
	if cfg.Abstention.ProbeURL != "http://probe:9000" {
		t.Errorf("expected probe url, got %q", cfg.Abstention.ProbeURL)
	}
	if !cfg.Abstention.RefusalDetection {
		t.Error("unset abstention flags should keep defaults")
	}
	if cfg.Batching.WindowSeconds != 45 || len(cfg.Batching.CorrelationKeys) != 2 {
		t.Errorf("batching override not applied: %+v", cfg.Batching)
	}
	if cfg.Batching.ExpireAfter != 2*time.Hour {
		t.Errorf("expected expire_after 2h, got %v", cfg.Batching.ExpireAfter)
	}
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLMalformed(t *testing.T) {
	path := writeYAML(t, "server: [unclosed")
	cfg := Defaults()
	if err := loadYAML(&cfg, path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("ELICITOR_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("ELICITOR_PG_MAX_CONNS", "25")
	t.Setenv("ELICITOR_LOG_LEVEL", "warn")
	t.Setenv("ELICITOR_BREAKER_TIMEOUT", "1m")
	t.Setenv("ELICITOR_VOI_MAX_QUESTIONS", "3")
	t.Setenv("ELICITOR_ABSTAIN_PROBE", "true")
	t.Setenv("ELICITOR_ABSTAIN_ACTION", "use_default")
	t.Setenv("ELICITOR_BATCH_CORRELATION_KEYS", "workflow_id, , order_id")
	t.Setenv("ELICITOR_PG_MIN_CONNS", "not-a-number")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("expected max_conns 25, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Postgres.MinConns != 2 {
		t.Errorf("invalid env value should be ignored, got min_conns %d", cfg.Postgres.MinConns)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if cfg.VOI.MaxQuestionsPerWorkflow != 3 {
		t.Errorf("expected max questions 3, got %d", cfg.VOI.MaxQuestionsPerWorkflow)
	}
	if !cfg.Abstention.LinearProbe || cfg.Abstention.OnAbstentionAction != abstention.ActionUseDefault {
		t.Errorf("abstention env not applied: %+v", cfg.Abstention.Config)
	}
	if got := cfg.Batching.CorrelationKeys; len(got) != 2 || got[0] != "workflow_id" || got[1] != "order_id" {
		t.Errorf("unexpected correlation keys %v", got)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }, "server.port is required"},
		{"empty DSN", func(c *Config) { c.Postgres.DSN = "" }, "postgres.dsn is required"},
		{"empty NATS URL", func(c *Config) { c.NATS.URL = "" }, "nats.url is required"},
		{"zero max_conns", func(c *Config) { c.Postgres.MaxConns = 0 }, "postgres.max_conns must be >= 1"},
		{"zero breaker failures", func(c *Config) { c.Breaker.MaxFailures = 0 }, "breaker.max_failures must be >= 1"},
		{"zero rate burst", func(c *Config) { c.Rate.Burst = 0 }, "rate.burst must be >= 1"},
		{"negative question cap", func(c *Config) { c.VOI.MaxQuestionsPerWorkflow = -1 }, "voi.max_questions_per_workflow must be >= 0"},
		{"zero learning rate", func(c *Config) { c.VOI.LearningRate = 0 }, "voi.learning_rate must be in (0, 1]"},
		{"missing normal multiplier", func(c *Config) { c.VOI.UrgencyMultipliers = map[voi.Urgency]float64{} }, "voi.urgency_multipliers must define normal"},
		{"bad abstention action", func(c *Config) { c.Abstention.OnAbstentionAction = "panic" }, `abstention.on_abstention_action "panic" is not supported`},
		{"zero batch size", func(c *Config) { c.Batching.MaxBatchSize = 0 }, "batching.max_batch_size must be >= 1"},
		{"no correlation keys", func(c *Config) { c.Batching.CorrelationKeys = nil }, "batching.correlation_keys must not be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateCronSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{"garbage", "every now and then", true},
		{"disabled", "", false},
		{"five fields", "*/5 * * * *", false},
		{"with seconds", "*/30 * * * * *", false},
		{"descriptor", "@every 30s", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Sweep.BatchClose = tt.spec
			cfg.Sweep.RequestExpiry = tt.spec
			err := validate(&cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--port", "9090", "--log-level", "debug"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "9090" {
		t.Errorf("expected port 9090, got %v", flags.Port)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Errorf("expected log-level debug, got %v", flags.LogLevel)
	}
	if flags.DSN != nil || flags.NatsURL != nil || flags.ConfigPath != nil {
		t.Errorf("unset flags should be nil: %+v", flags)
	}
}

func TestParseFlagsShorthand(t *testing.T) {
	flags, err := ParseFlags([]string{"-p", "7070", "-c", "custom.yaml"})
	if err != nil {
		t.Fatal(err)
	}
	if flags.Port == nil || *flags.Port != "7070" {
		t.Errorf("expected port 7070, got %v", flags.Port)
	}
	if flags.ConfigPath == nil || *flags.ConfigPath != "custom.yaml" {
		t.Errorf("expected config custom.yaml, got %v", flags.ConfigPath)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	if _, err := ParseFlags([]string{"--unknown-flag"}); err == nil {
		t.Error("expected error for unknown flag, got nil")
	}
}

func TestApplyCLINilFlags(t *testing.T) {
	cfg := Defaults()
	applyCLI(&cfg, CLIFlags{})
	if cfg.Server.Port != "8080" || cfg.Logging.Level != "info" {
		t.Errorf("nil flags changed config: port=%s level=%s", cfg.Server.Port, cfg.Logging.Level)
	}
}

func TestLoadWithCLI_Precedence(t *testing.T) {
	path := writeYAML(t, `
server:
  port: "5555"
logging:
  level: "debug"
nats:
  url: "nats://yaml:4222"
`)
	t.Setenv("ELICITOR_PORT", "7070")
	t.Setenv("ELICITOR_LOG_LEVEL", "warn")

	flags, err := ParseFlags([]string{"--config", path, "--port", "3333"})
	if err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != path {
		t.Errorf("expected resolved path %s, got %s", path, resolved)
	}
	if cfg.Server.Port != "3333" {
		t.Errorf("CLI should beat ENV and YAML, got port %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("ENV should beat YAML, got level %s", cfg.Logging.Level)
	}
	if cfg.NATS.URL != "nats://yaml:4222" {
		t.Errorf("YAML should beat defaults, got %s", cfg.NATS.URL)
	}
}

func TestLoadFrom_InvalidFails(t *testing.T) {
	path := writeYAML(t, `
batching:
  max_batch_size: 0
`)
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected validation error")
	}
}
