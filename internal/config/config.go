package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Gate     GateConfig
	Notify   NotifyConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	// RegisterRequestsPerMinute is the coarse per-IP ceiling applied before the gate runs.
	RegisterRequestsPerMinute int
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	DeviceTokenExpiry time.Duration
	DeviceSecretCost  int
}

// GateConfig holds every tunable of the registration security gate.
type GateConfig struct {
	MaxAttemptsPerHour int
	MaxAttemptsPerDay  int

	AutoBlockThreshold int
	BlockDuration      time.Duration

	BurstWindow    time.Duration
	BurstThreshold int

	FingerprintDedupeWindow time.Duration
	SourceIdleTTL           time.Duration
	CleanupInterval         time.Duration
	RepositoryTimeout       time.Duration
	EventRetention          time.Duration

	OffHoursStart int
	OffHoursEnd   int
	Timezone      string

	Weights    RiskWeights
	Thresholds RiskThresholds

	ElevatedBlockedSources int
	CriticalBlockedSources int
	ElevatedHourlyFailures int
	CriticalHourlyFailures int

	PolicyFile string
	Policy     Policy
}

// RiskWeights are the points contributed by each scoring factor.
type RiskWeights struct {
	PriorFailure         float64
	PriorFailureCap      float64
	OffHours             float64
	MissingFingerprint   float64
	MissingUserAgent     float64
	SuspiciousName       float64
	Burst                float64
	DuplicateFingerprint float64
}

// RiskThresholds are the lower bounds of the medium, high and critical levels.
type RiskThresholds struct {
	Medium   float64
	High     float64
	Critical float64
}

type NotifyConfig struct {
	AWSRegion        string
	AlertFromAddress string
	AlertRecipients  []string
	AlertsPerMinute  int

	KafkaBrokers     []string
	KafkaReviewTopic string

	QueueSize int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "fleetgate"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", false),
		},
		Server: ServerConfig{
			Port:                      getEnv("PORT", "8080"),
			Env:                       env,
			LogLevel:                  getEnv("LOG_LEVEL", "info"),
			AllowedOrigins:            parseAllowedOrigins(env),
			TrustedProxies:            getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:               getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:              getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:               getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RegisterRequestsPerMinute: getEnvAsInt("REGISTER_REQUESTS_PER_MINUTE", 30),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			DeviceTokenExpiry: getEnvAsDuration("DEVICE_TOKEN_EXPIRY", 30*24*time.Hour),
			DeviceSecretCost:  getEnvAsInt("DEVICE_SECRET_COST", 12),
		},
		Gate: loadGateConfig(),
		Notify: NotifyConfig{
			AWSRegion:        getEnv("AWS_REGION", "us-east-1"),
			AlertFromAddress: getEnv("ALERT_FROM_ADDRESS", ""),
			AlertRecipients:  getEnvAsList("ALERT_RECIPIENTS"),
			AlertsPerMinute:  getEnvAsInt("ALERTS_PER_MINUTE", 6),
			KafkaBrokers:     getEnvAsList("KAFKA_BROKERS"),
			KafkaReviewTopic: getEnv("KAFKA_REVIEW_TOPIC", "device-registration-review"),
			QueueSize:        getEnvAsInt("NOTIFY_QUEUE_SIZE", 1024),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	policy := DefaultPolicy()
	if cfg.Gate.PolicyFile != "" {
		loaded, err := LoadPolicy(cfg.Gate.PolicyFile)
		if err != nil {
			return nil, err
		}
		policy = loaded
	}
	cfg.Gate.Policy = policy

	if err := cfg.Gate.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultGateConfig returns the gate defaults without reading the environment.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MaxAttemptsPerHour:      5,
		MaxAttemptsPerDay:       20,
		AutoBlockThreshold:      10,
		BlockDuration:           30 * time.Minute,
		BurstWindow:             5 * time.Minute,
		BurstThreshold:          3,
		FingerprintDedupeWindow: 5 * time.Minute,
		SourceIdleTTL:           24 * time.Hour,
		CleanupInterval:         5 * time.Minute,
		RepositoryTimeout:       5 * time.Second,
		EventRetention:          90 * 24 * time.Hour,
		OffHoursStart:           18,
		OffHoursEnd:             6,
		Timezone:                "Local",
		Weights: RiskWeights{
			PriorFailure:         0.5,
			PriorFailureCap:      3.0,
			OffHours:             1.0,
			MissingFingerprint:   2.0,
			MissingUserAgent:     1.5,
			SuspiciousName:       1.5,
			Burst:                2.0,
			DuplicateFingerprint: 1.0,
		},
		Thresholds: RiskThresholds{
			Medium:   3,
			High:     5,
			Critical: 7,
		},
		ElevatedBlockedSources: 1,
		CriticalBlockedSources: 10,
		ElevatedHourlyFailures: 20,
		CriticalHourlyFailures: 100,
		Policy:                 DefaultPolicy(),
	}
}

func loadGateConfig() GateConfig {
	d := DefaultGateConfig()
	return GateConfig{
		MaxAttemptsPerHour:      getEnvAsInt("GATE_MAX_ATTEMPTS_PER_HOUR", d.MaxAttemptsPerHour),
		MaxAttemptsPerDay:       getEnvAsInt("GATE_MAX_ATTEMPTS_PER_DAY", d.MaxAttemptsPerDay),
		AutoBlockThreshold:      getEnvAsInt("GATE_AUTO_BLOCK_THRESHOLD", d.AutoBlockThreshold),
		BlockDuration:           getEnvAsDuration("GATE_BLOCK_DURATION", d.BlockDuration),
		BurstWindow:             getEnvAsDuration("GATE_BURST_WINDOW", d.BurstWindow),
		BurstThreshold:          getEnvAsInt("GATE_BURST_THRESHOLD", d.BurstThreshold),
		FingerprintDedupeWindow: getEnvAsDuration("GATE_FINGERPRINT_DEDUPE_WINDOW", d.FingerprintDedupeWindow),
		SourceIdleTTL:           getEnvAsDuration("GATE_SOURCE_IDLE_TTL", d.SourceIdleTTL),
		CleanupInterval:         getEnvAsDuration("GATE_CLEANUP_INTERVAL", d.CleanupInterval),
		RepositoryTimeout:       getEnvAsDuration("GATE_REPOSITORY_TIMEOUT", d.RepositoryTimeout),
		EventRetention:          getEnvAsDuration("GATE_EVENT_RETENTION", d.EventRetention),
		OffHoursStart:           getEnvAsInt("GATE_OFF_HOURS_START", d.OffHoursStart),
		OffHoursEnd:             getEnvAsInt("GATE_OFF_HOURS_END", d.OffHoursEnd),
		Timezone:                getEnv("GATE_TIMEZONE", d.Timezone),
		Weights: RiskWeights{
			PriorFailure:         getEnvAsFloat("GATE_WEIGHT_PRIOR_FAILURE", d.Weights.PriorFailure),
			PriorFailureCap:      getEnvAsFloat("GATE_WEIGHT_PRIOR_FAILURE_CAP", d.Weights.PriorFailureCap),
			OffHours:             getEnvAsFloat("GATE_WEIGHT_OFF_HOURS", d.Weights.OffHours),
			MissingFingerprint:   getEnvAsFloat("GATE_WEIGHT_MISSING_FINGERPRINT", d.Weights.MissingFingerprint),
			MissingUserAgent:     getEnvAsFloat("GATE_WEIGHT_MISSING_USER_AGENT", d.Weights.MissingUserAgent),
			SuspiciousName:       getEnvAsFloat("GATE_WEIGHT_SUSPICIOUS_NAME", d.Weights.SuspiciousName),
			Burst:                getEnvAsFloat("GATE_WEIGHT_BURST", d.Weights.Burst),
			DuplicateFingerprint: getEnvAsFloat("GATE_WEIGHT_DUPLICATE_FINGERPRINT", d.Weights.DuplicateFingerprint),
		},
		Thresholds: RiskThresholds{
			Medium:   getEnvAsFloat("GATE_RISK_MEDIUM", d.Thresholds.Medium),
			High:     getEnvAsFloat("GATE_RISK_HIGH", d.Thresholds.High),
			Critical: getEnvAsFloat("GATE_RISK_CRITICAL", d.Thresholds.Critical),
		},
		ElevatedBlockedSources: getEnvAsInt("GATE_STATUS_ELEVATED_BLOCKED", d.ElevatedBlockedSources),
		CriticalBlockedSources: getEnvAsInt("GATE_STATUS_CRITICAL_BLOCKED", d.CriticalBlockedSources),
		ElevatedHourlyFailures: getEnvAsInt("GATE_STATUS_ELEVATED_FAILURES", d.ElevatedHourlyFailures),
		CriticalHourlyFailures: getEnvAsInt("GATE_STATUS_CRITICAL_FAILURES", d.CriticalHourlyFailures),
		PolicyFile:             getEnv("GATE_POLICY_FILE", ""),
	}
}

// Validate rejects thresholds that would make the gate inconsistent.
func (g *GateConfig) Validate() error {
	if g.MaxAttemptsPerHour <= 0 || g.MaxAttemptsPerDay <= 0 {
		return fmt.Errorf("gate attempt limits must be positive")
	}
	if g.MaxAttemptsPerDay < g.MaxAttemptsPerHour {
		return fmt.Errorf("GATE_MAX_ATTEMPTS_PER_DAY must be >= GATE_MAX_ATTEMPTS_PER_HOUR")
	}
	if g.AutoBlockThreshold <= 0 {
		return fmt.Errorf("GATE_AUTO_BLOCK_THRESHOLD must be positive")
	}
	if g.BlockDuration <= 0 {
		return fmt.Errorf("GATE_BLOCK_DURATION must be positive")
	}
	if g.OffHoursStart < 0 || g.OffHoursStart > 23 || g.OffHoursEnd < 0 || g.OffHoursEnd > 23 {
		return fmt.Errorf("off-hours bounds must be between 0 and 23")
	}
	t := g.Thresholds
	if !(0 < t.Medium && t.Medium < t.High && t.High < t.Critical) {
		return fmt.Errorf("risk thresholds must satisfy 0 < medium < high < critical")
	}
	if _, err := g.Location(); err != nil {
		return fmt.Errorf("invalid GATE_TIMEZONE: %w", err)
	}
	return nil
}

// Location resolves the timezone used for off-hours scoring.
func (g *GateConfig) Location() (*time.Location, error) {
	if g.Timezone == "" || g.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(g.Timezone)
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return getEnvAsList("ALLOWED_ORIGINS")
	}

	// Development: allow localhost variants for the dashboard
	return []string{
		"http://localhost:3000",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
