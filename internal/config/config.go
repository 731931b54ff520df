package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env         string
	ListenAddr  string
	MaxConns    int
	DatabaseURL string
	LogLevel    string
	FHEKeyFile  string

	SystemOwner     string
	Authority       string
	SystemPrincipal string

	ScoreFactor            uint64
	DisclosureTTL          time.Duration
	DisclosureReusePending bool
	SweepInterval          time.Duration

	OracleMode         string
	OracleWorkers      int
	OraclePollInterval time.Duration
	SignerKeys         []string
	SignerAddresses    []string
	SignerThreshold    int

	KafkaBrokers      []string
	KafkaRequestTopic string
	KafkaResultTopic  string
	KafkaGroupID      string
}

const (
	OracleLocal = "local"
	OracleKafka = "kafka"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func Load() (Config, error) {
	cfg := Config{
		Env:         getenv("APP_ENV", "development"),
		ListenAddr:  getenv("LISTEN_ADDR", ":8080"),
		MaxConns:    getenvInt("MAX_CONNS", 0),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		FHEKeyFile:  os.Getenv("FHE_KEY_FILE"),

		SystemOwner:     os.Getenv("SYSTEM_OWNER"),
		Authority:       os.Getenv("AUTHORITY"),
		SystemPrincipal: getenv("SYSTEM_PRINCIPAL", "ecocert-system"),

		ScoreFactor:            getenvUint("SCORE_FACTOR", 10),
		DisclosureTTL:          getenvDuration("DISCLOSURE_TTL", 15*time.Minute),
		DisclosureReusePending: getenvBool("DISCLOSURE_REUSE_PENDING", false),
		SweepInterval:          getenvDuration("SWEEP_INTERVAL", 30*time.Second),

		OracleMode:         getenv("ORACLE_MODE", OracleLocal),
		OracleWorkers:      getenvInt("ORACLE_WORKERS", 2),
		OraclePollInterval: getenvDuration("ORACLE_POLL_INTERVAL", 500*time.Millisecond),
		SignerKeys:         getenvList("SIGNER_KEYS"),
		SignerAddresses:    getenvList("SIGNER_ADDRESSES"),
		SignerThreshold:    getenvInt("SIGNER_THRESHOLD", 2),

		KafkaBrokers:      getenvList("KAFKA_BROKERS"),
		KafkaRequestTopic: getenv("KAFKA_REQUEST_TOPIC", "ecocert.disclosure.requests"),
		KafkaResultTopic:  getenv("KAFKA_RESULT_TOPIC", "ecocert.disclosure.results"),
		KafkaGroupID:      getenv("KAFKA_GROUP_ID", "ecocert"),
	}
	return cfg, cfg.Validate()
}

// Validate reports the first setting that cannot be used to start the server.
func (c Config) Validate() error {
	if c.SystemOwner == "" {
		return fmt.Errorf("SYSTEM_OWNER not set")
	}
	if c.Authority == "" {
		return fmt.Errorf("AUTHORITY not set")
	}
	if c.SystemPrincipal == c.SystemOwner || c.SystemPrincipal == c.Authority {
		return fmt.Errorf("SYSTEM_PRINCIPAL must differ from SYSTEM_OWNER and AUTHORITY")
	}
	if c.ScoreFactor == 0 {
		return fmt.Errorf("SCORE_FACTOR must be a positive integer")
	}
	if c.DisclosureTTL > 0 && c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive when DISCLOSURE_TTL is set")
	}
	// Stored handles are only readable with the key pair that made them.
	if c.DatabaseURL != "" && c.FHEKeyFile == "" {
		return fmt.Errorf("DATABASE_URL requires FHE_KEY_FILE")
	}
	if c.SignerThreshold < 1 {
		return fmt.Errorf("SIGNER_THRESHOLD must be positive")
	}
	if n := len(c.SignerKeys); n > 0 && c.SignerThreshold > n {
		return fmt.Errorf("SIGNER_THRESHOLD %d exceeds %d SIGNER_KEYS", c.SignerThreshold, n)
	}
	if n := len(c.SignerAddresses); n > 0 && c.SignerThreshold > n {
		return fmt.Errorf("SIGNER_THRESHOLD %d exceeds %d SIGNER_ADDRESSES", c.SignerThreshold, n)
	}
	switch c.OracleMode {
	case OracleLocal:
		if c.OraclePollInterval <= 0 {
			return fmt.Errorf("ORACLE_POLL_INTERVAL must be positive")
		}
	case OracleKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("ORACLE_MODE=kafka requires KAFKA_BROKERS")
		}
		// The external oracle signs; only its addresses are known here.
		if len(c.SignerAddresses) == 0 {
			return fmt.Errorf("ORACLE_MODE=kafka requires SIGNER_ADDRESSES")
		}
		// The external oracle decrypts with the same key file.
		if c.FHEKeyFile == "" {
			return fmt.Errorf("ORACLE_MODE=kafka requires FHE_KEY_FILE")
		}
	default:
		return fmt.Errorf("unknown ORACLE_MODE %q", c.OracleMode)
	}
	return nil
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		_, err := fmt.Sscanf(v, "%d", &out)
		if err == nil {
			return out
		}
	}
	return def
}

// getenvUint returns 0 for a set value that is not an unsigned integer, so
// Validate rejects it instead of falling back to def.
func getenvUint(key string, def uint64) uint64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
