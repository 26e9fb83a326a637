package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env      string
	Port     string
	LogLevel string

	DatabaseURL    string // postgres DSN, or sqlite:<path> for local runs
	MigrateOnStart bool
	RedisURL       string
	SessionSecret  string // signs the session cookie
	JWTSecret      string
	JWTTTLMinutes  int

	CertIDPrefix  string
	IssuerName    string
	PublicBaseURL string // verification links embedded in certificates

	AMQPURL           string // empty disables lifecycle event publishing
	IssuanceSweepSpec string // cron spec; empty disables the sweeper

	VerifyRateCapacity int
	VerifyRateRefill   int
	VerifyRateInterval time.Duration

	StorageURL       string
	StorageSecretKey string // service key, never the public one
	ProofBucket      string

	HealthAdminKey      string
	FrontendURLEndsWith string
	DevPassword         string
	AllowCrossSiteDev   bool
}

// IsProduction reports whether the service runs with production safeguards.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func setDefaults() {
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MIGRATE_ON_START", true)
	viper.SetDefault("JWT_TTL_MINUTES", 60)
	viper.SetDefault("CERT_ID_PREFIX", "AMITY")
	viper.SetDefault("ISSUER_NAME", "Amity University")
	viper.SetDefault("ISSUANCE_SWEEP_SPEC", "@every 5m")
	viper.SetDefault("VERIFY_RATE_CAPACITY", 30)
	viper.SetDefault("VERIFY_RATE_REFILL", 1)
	viper.SetDefault("VERIFY_RATE_INTERVAL", "2s")
	viper.SetDefault("PROOF_BUCKET", "certificate-proofs")
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults()

	cfg := &Config{
		Env:                 strings.ToLower(viper.GetString("APP_ENV")),
		Port:                viper.GetString("PORT"),
		LogLevel:            viper.GetString("LOG_LEVEL"),
		DatabaseURL:         viper.GetString("DATABASE_URL"),
		MigrateOnStart:      viper.GetBool("MIGRATE_ON_START"),
		RedisURL:            viper.GetString("REDIS_URL"),
		SessionSecret:       viper.GetString("SESSION_SECRET"),
		JWTSecret:           viper.GetString("JWT_SECRET"),
		JWTTTLMinutes:       viper.GetInt("JWT_TTL_MINUTES"),
		CertIDPrefix:        strings.ToUpper(strings.TrimSpace(viper.GetString("CERT_ID_PREFIX"))),
		IssuerName:          strings.TrimSpace(viper.GetString("ISSUER_NAME")),
		PublicBaseURL:       strings.TrimRight(viper.GetString("PUBLIC_BASE_URL"), "/"),
		AMQPURL:             viper.GetString("AMQP_URL"),
		IssuanceSweepSpec:   strings.TrimSpace(viper.GetString("ISSUANCE_SWEEP_SPEC")),
		VerifyRateCapacity:  viper.GetInt("VERIFY_RATE_CAPACITY"),
		VerifyRateRefill:    viper.GetInt("VERIFY_RATE_REFILL"),
		VerifyRateInterval:  viper.GetDuration("VERIFY_RATE_INTERVAL"),
		StorageURL:          viper.GetString("STORAGE_URL"),
		StorageSecretKey:    viper.GetString("STORAGE_SECRET_KEY"),
		ProofBucket:         viper.GetString("PROOF_BUCKET"),
		HealthAdminKey:      viper.GetString("HEALTH_ADMIN_KEY"),
		FrontendURLEndsWith: viper.GetString("FRONTEND_URL_ENDS_WITH"),
		DevPassword:         viper.GetString("DEV_PASSWORD"),
		AllowCrossSiteDev:   strings.EqualFold(viper.GetString("ALLOW_CROSS_SITE_DEV"), "true"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.JWTTTLMinutes <= 0 {
		return fmt.Errorf("config: JWT_TTL_MINUTES must be positive, got %d", c.JWTTTLMinutes)
	}
	if c.CertIDPrefix == "" {
		return fmt.Errorf("config: CERT_ID_PREFIX must not be empty")
	}
	if !c.IsProduction() {
		if c.DatabaseURL == "" {
			c.DatabaseURL = "sqlite:certify.db"
		}
		return nil
	}
	var missing []string
	for name, v := range map[string]string{
		"DATABASE_URL":   c.DatabaseURL,
		"REDIS_URL":      c.RedisURL,
		"SESSION_SECRET": c.SessionSecret,
		"JWT_SECRET":     c.JWTSecret,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("config: missing required settings in production: %s", strings.Join(missing, ", "))
	}
	return nil
}
