package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/Strob0t/elicitor/internal/domain/abstention"
	"github.com/Strob0t/elicitor/internal/domain/voi"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "elicitor.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// CLIFlags holds command-line overrides. Nil fields were not given.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
}

// RegisterFlags declares the override flags on fs and returns a function that
// collects the ones the user actually set.
func RegisterFlags(fs *pflag.FlagSet) func() CLIFlags {
	configPath := fs.StringP("config", "c", DefaultConfigFile, "path to YAML config file")
	port := fs.StringP("port", "p", "", "HTTP listen port")
	logLevel := fs.String("log-level", "", "log level (debug|info|warn|error)")
	dsn := fs.String("dsn", "", "PostgreSQL connection string")
	natsURL := fs.String("nats-url", "", "NATS server URL")

	return func() CLIFlags {
		var f CLIFlags
		pick := func(name string, v *string) *string {
			if fs.Changed(name) {
				return v
			}
			return nil
		}
		f.ConfigPath = pick("config", configPath)
		f.Port = pick("port", port)
		f.LogLevel = pick("log-level", logLevel)
		f.DSN = pick("dsn", dsn)
		f.NatsURL = pick("nats-url", natsURL)
		return f
	}
}

// ParseFlags parses args into CLIFlags.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := pflag.NewFlagSet("elicitor", pflag.ContinueOnError)
	fs.SetOutput(new(strings.Builder))
	collect := RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, err
	}
	return collect(), nil
}

// LoadWithCLI loads configuration with CLI flags applied last. It returns the
// YAML path that was used.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, f CLIFlags) {
	if f.Port != nil {
		cfg.Server.Port = *f.Port
	}
	if f.LogLevel != nil {
		cfg.Logging.Level = *f.LogLevel
	}
	if f.DSN != nil {
		cfg.Postgres.DSN = *f.DSN
	}
	if f.NatsURL != nil {
		cfg.NATS.URL = *f.NatsURL
	}
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ELICITOR_PORT")
	setString(&cfg.Server.CORSOrigin, "ELICITOR_CORS_ORIGIN")
	setString(&cfg.Server.PublicURL, "ELICITOR_PUBLIC_URL")
	setDuration(&cfg.Server.ShutdownTimeout, "ELICITOR_SHUTDOWN_TIMEOUT")

	setBool(&cfg.MCP.Enabled, "ELICITOR_MCP_ENABLED")
	setString(&cfg.MCP.APIKey, "ELICITOR_MCP_API_KEY")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ELICITOR_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ELICITOR_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ELICITOR_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ELICITOR_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ELICITOR_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "ELICITOR_NATS_STREAM")
	setString(&cfg.Logging.Level, "ELICITOR_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ELICITOR_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "ELICITOR_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "ELICITOR_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "ELICITOR_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "ELICITOR_RATE_RPS")
	setInt(&cfg.Rate.Burst, "ELICITOR_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "ELICITOR_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "ELICITOR_RATE_MAX_IDLE_TIME")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "ELICITOR_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "ELICITOR_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "ELICITOR_CACHE_L2_TTL")
	setDuration(&cfg.Cache.DedupTTL, "ELICITOR_DEDUP_TTL")

	// Question limits
	setInt(&cfg.Questions.TenantPerMinute, "ELICITOR_QUESTIONS_TENANT_PER_MINUTE")
	setInt(&cfg.Questions.UserPerHour, "ELICITOR_QUESTIONS_USER_PER_HOUR")
	setInt(&cfg.Questions.WorkflowOutstanding, "ELICITOR_QUESTIONS_WORKFLOW_OUTSTANDING")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "ELICITOR_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "ELICITOR_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "ELICITOR_OTEL_SAMPLE_RATE")

	// VOI
	setInt(&cfg.VOI.MaxQuestionsPerWorkflow, "ELICITOR_VOI_MAX_QUESTIONS")
	setFloat64(&cfg.VOI.Threshold, "ELICITOR_VOI_THRESHOLD")
	setFloat64(&cfg.VOI.AskCostBase, "ELICITOR_VOI_ASK_COST_BASE")
	setFloat64(&cfg.VOI.InferConfidence, "ELICITOR_VOI_INFER_CONFIDENCE")
	setFloat64(&cfg.VOI.LearningRate, "ELICITOR_VOI_LEARNING_RATE")

	// Abstention
	setBool(&cfg.Abstention.RefusalDetection, "ELICITOR_ABSTAIN_REFUSAL")
	setBool(&cfg.Abstention.ConfidencePrompting, "ELICITOR_ABSTAIN_CONFIDENCE")
	setBool(&cfg.Abstention.SelfConsistency, "ELICITOR_ABSTAIN_SELF_CONSISTENCY")
	setBool(&cfg.Abstention.SemanticEntropy, "ELICITOR_ABSTAIN_SEMANTIC_ENTROPY")
	setBool(&cfg.Abstention.LinearProbe, "ELICITOR_ABSTAIN_PROBE")
	setFloat64(&cfg.Abstention.ConfidenceThreshold, "ELICITOR_ABSTAIN_CONFIDENCE_THRESHOLD")
	setInt(&cfg.Abstention.SelfConsistencySamples, "ELICITOR_ABSTAIN_SAMPLES")
	setFloat64(&cfg.Abstention.SelfConsistencyThreshold, "ELICITOR_ABSTAIN_SELF_CONSISTENCY_THRESHOLD")
	setFloat64(&cfg.Abstention.SemanticEntropyThreshold, "ELICITOR_ABSTAIN_SEMANTIC_ENTROPY_THRESHOLD")
	setString(&cfg.Abstention.ProbeURL, "ELICITOR_PROBE_URL")
	if v := os.Getenv("ELICITOR_ABSTAIN_ACTION"); v != "" {
		cfg.Abstention.OnAbstentionAction = abstention.Action(v)
	}

	// Batching
	setInt(&cfg.Batching.WindowSeconds, "ELICITOR_BATCH_WINDOW_SECONDS")
	setInt(&cfg.Batching.MaxBatchSize, "ELICITOR_BATCH_MAX_SIZE")
	setFloat64(&cfg.Batching.SemanticSimilarityThreshold, "ELICITOR_BATCH_SEMANTIC_THRESHOLD")
	setFloat64(&cfg.Batching.KeywordOverlapThreshold, "ELICITOR_BATCH_KEYWORD_THRESHOLD")
	setBool(&cfg.Batching.SeedSemanticBatches, "ELICITOR_BATCH_SEED_SEMANTIC")
	setDuration(&cfg.Batching.ExpireAfter, "ELICITOR_BATCH_EXPIRE_AFTER")
	if v := os.Getenv("ELICITOR_BATCH_CORRELATION_KEYS"); v != "" {
		cfg.Batching.CorrelationKeys = splitList(v)
	}

	// Escalation
	setInt(&cfg.Escalation.DefaultTimeoutMinutes, "ELICITOR_ESCALATION_TIMEOUT_MINUTES")
	setString(&cfg.Escalation.OnCallURL, "ELICITOR_ONCALL_URL")
	setString(&cfg.Escalation.OnCallToken, "ELICITOR_ONCALL_TOKEN")
	setInt(&cfg.Escalation.SweepLimit, "ELICITOR_ESCALATION_SWEEP_LIMIT")

	// Sweeps
	setString(&cfg.Sweep.BatchClose, "ELICITOR_SWEEP_BATCH_CLOSE")
	setString(&cfg.Sweep.BatchExpiry, "ELICITOR_SWEEP_BATCH_EXPIRY")
	setString(&cfg.Sweep.EscalationTimeouts, "ELICITOR_SWEEP_ESCALATION")
	setString(&cfg.Sweep.RequestExpiry, "ELICITOR_SWEEP_REQUEST_EXPIRY")

	// Embedding
	setString(&cfg.Embedding.URL, "LITELLM_URL")
	setString(&cfg.Embedding.APIKey, "LITELLM_MASTER_KEY")
	setString(&cfg.Embedding.Model, "ELICITOR_EMBEDDING_MODEL")

	// Notify
	setString(&cfg.Notify.SlackWebhookURL, "ELICITOR_SLACK_WEBHOOK_URL")
	setString(&cfg.Notify.DiscordWebhookURL, "ELICITOR_DISCORD_WEBHOOK_URL")
	if v := os.Getenv("ELICITOR_NOTIFY_EVENTS"); v != "" {
		cfg.Notify.EnabledEvents = splitList(v)
	}
	setString(&cfg.Notify.SMTPHost, "ELICITOR_SMTP_HOST")
	setString(&cfg.Notify.SMTPPort, "ELICITOR_SMTP_PORT")
	setString(&cfg.Notify.SMTPFrom, "ELICITOR_SMTP_FROM")
	setString(&cfg.Notify.SMTPUser, "ELICITOR_SMTP_USER")
	setString(&cfg.Notify.SMTPPassword, "ELICITOR_SMTP_PASSWORD")
	setString(&cfg.Notify.EmailDomain, "ELICITOR_EMAIL_DOMAIN")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.VOI.MaxQuestionsPerWorkflow < 0 {
		return errors.New("voi.max_questions_per_workflow must be >= 0")
	}
	if cfg.VOI.LearningRate <= 0 || cfg.VOI.LearningRate > 1 {
		return errors.New("voi.learning_rate must be in (0, 1]")
	}
	if _, ok := cfg.VOI.UrgencyMultipliers[voi.UrgencyNormal]; !ok {
		return errors.New("voi.urgency_multipliers must define normal")
	}
	switch cfg.Abstention.OnAbstentionAction {
	case abstention.ActionEscalate, abstention.ActionAskUser, abstention.ActionUseDefault, abstention.ActionProceed:
	default:
		return fmt.Errorf("abstention.on_abstention_action %q is not supported", cfg.Abstention.OnAbstentionAction)
	}
	if cfg.Batching.MaxBatchSize < 1 {
		return errors.New("batching.max_batch_size must be >= 1")
	}
	if len(cfg.Batching.CorrelationKeys) == 0 {
		return errors.New("batching.correlation_keys must not be empty")
	}
	for name, spec := range map[string]string{
		"sweep.batch_close":         cfg.Sweep.BatchClose,
		"sweep.batch_expiry":        cfg.Sweep.BatchExpiry,
		"sweep.escalation_timeouts": cfg.Sweep.EscalationTimeouts,
		"sweep.request_expiry":      cfg.Sweep.RequestExpiry,
	} {
		if spec == "" {
			continue
		}
		if _, err := SweepParser.Parse(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
