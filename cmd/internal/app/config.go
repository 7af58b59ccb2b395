package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every configuration variable name.
const EnvPrefix = "HUMANIQ_"

// Config holds runtime configuration loaded from HUMANIQ_* environment variables.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR"  envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT"        envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT"       envDefault:"15s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT"        envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT"    envDefault:"10s"`
	MaxBodyBytes      int64         `env:"MAX_BODY_BYTES"           envDefault:"1048576"`

	// Storage. DatabaseURL wins over SQLitePath; with neither, in-memory stores are used.
	DatabaseURL   string `env:"DATABASE_URL"`
	DBSchema      string `env:"DB_SCHEMA"       envDefault:"humaniq"`
	DBMaxConns    int32  `env:"DB_MAX_CONNS"    envDefault:"10"`
	DBMinConns    int32  `env:"DB_MIN_CONNS"    envDefault:"0"`
	DBAutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"false"`
	SQLitePath    string `env:"SQLITE_PATH"`

	ReadinessRequireDB bool `env:"READINESS_REQUIRE_DB" envDefault:"false"`

	// Completion events. The consumer runs only when brokers are set.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC"   envDefault:"testes.conclusoes"`
	KafkaGroup   string   `env:"KAFKA_GROUP"   envDefault:"humaniq-disponibilidade"`

	InviteTTL           time.Duration `env:"INVITE_TTL"            envDefault:"168h"`
	InviteMaxTTL        time.Duration `env:"INVITE_MAX_TTL"        envDefault:"720h"`
	InviteSweepInterval time.Duration `env:"INVITE_SWEEP_INTERVAL" envDefault:"1m"`
	InviteSweepLimit    int           `env:"INVITE_SWEEP_LIMIT"    envDefault:"500"`

	// Failed validate or consume calls per client IP before 429.
	InviteIPMax    int           `env:"INVITE_IP_MAX"    envDefault:"20"`
	InviteIPWindow time.Duration `env:"INVITE_IP_WINDOW" envDefault:"15m"`
	TrustProxy     bool          `env:"TRUST_PROXY"      envDefault:"false"`

	RequireTokenHMAC bool   `env:"REQUIRE_TOKEN_HMAC" envDefault:"false"`
	AdminToken       string `env:"ADMIN_TOKEN"`

	// Seeds for the directory of a fresh or in-memory backend.
	DevColaboradores []string `env:"DEV_COLABORADORES" envSeparator:","`
	DevTestes        []string `env:"DEV_TESTES"        envSeparator:","`
}

// LoadConfig reads Config from the process environment.
func LoadConfig() (Config, error) {
	return loadConfig(nil)
}

// loadConfig reads Config from environ when non-nil, else from the process environment.
func loadConfig(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = trimList(cfg.KafkaBrokers)
	cfg.DevColaboradores = trimList(cfg.DevColaboradores)
	cfg.DevTestes = trimList(cfg.DevTestes)
	return cfg, nil
}

// Validate rejects combinations the runtime cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: HUMANIQ_HTTP_ADDR is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "pretty":
	default:
		return fmt.Errorf("config: HUMANIQ_LOG_FORMAT must be json or pretty, got %q", c.LogFormat)
	}
	if c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		return errors.New("config: HUMANIQ_DB_MIN_CONNS must be between 0 and HUMANIQ_DB_MAX_CONNS")
	}
	if c.InviteTTL <= 0 || c.InviteMaxTTL <= 0 || c.InviteTTL > c.InviteMaxTTL {
		return errors.New("config: HUMANIQ_INVITE_TTL must be positive and not exceed HUMANIQ_INVITE_MAX_TTL")
	}
	if len(c.KafkaBrokers) > 0 && (strings.TrimSpace(c.KafkaTopic) == "" || strings.TrimSpace(c.KafkaGroup) == "") {
		return errors.New("config: HUMANIQ_KAFKA_TOPIC and HUMANIQ_KAFKA_GROUP are required with brokers")
	}
	return nil
}

func (c Config) dbEnabled() bool {
	return strings.TrimSpace(c.DatabaseURL) != "" || strings.TrimSpace(c.SQLitePath) != ""
}

func trimList(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
