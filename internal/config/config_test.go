package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRoles(t *testing.T) {
	t.Setenv("SYSTEM_OWNER", "owner")
	t.Setenv("AUTHORITY", "auditor")
}

func TestLoadDefaults(t *testing.T) {
	setRoles(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, uint64(10), cfg.ScoreFactor)
	assert.Equal(t, 15*time.Minute, cfg.DisclosureTTL)
	assert.False(t, cfg.DisclosureReusePending)
	assert.Equal(t, OracleLocal, cfg.OracleMode)
	assert.Equal(t, 2, cfg.SignerThreshold)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadOverrides(t *testing.T) {
	setRoles(t)
	t.Setenv("DISCLOSURE_TTL", "0s")
	t.Setenv("DISCLOSURE_REUSE_PENDING", "true")
	t.Setenv("SIGNER_KEYS", "0xaa, 0xbb ,,0xcc")
	t.Setenv("SIGNER_THRESHOLD", "3")
	t.Setenv("ORACLE_MODE", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SIGNER_ADDRESSES", "0x01,0x02,0x03")
	t.Setenv("FHE_KEY_FILE", "/var/lib/ecocert/fhe.json")
	t.Setenv("ORACLE_POLL_INTERVAL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.DisclosureTTL)
	assert.True(t, cfg.DisclosureReusePending)
	assert.Equal(t, []string{"0xaa", "0xbb", "0xcc"}, cfg.SignerKeys)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 500*time.Millisecond, cfg.OraclePollInterval)
	assert.Equal(t, "/var/lib/ecocert/fhe.json", cfg.FHEKeyFile)
}

func TestLoadRejectsNegativeScoreFactor(t *testing.T) {
	setRoles(t)
	t.Setenv("SCORE_FACTOR", "-5")
	cfg, err := Load()
	assert.Error(t, err)
	assert.Zero(t, cfg.ScoreFactor)
}

func TestValidate(t *testing.T) {
	base := Config{
		SystemOwner:        "o",
		Authority:          "a",
		SystemPrincipal:    "s",
		ScoreFactor:        10,
		DisclosureTTL:      time.Minute,
		SweepInterval:      time.Second,
		SignerThreshold:    2,
		OracleMode:         OracleLocal,
		OraclePollInterval: time.Second,
	}
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"no owner":            func(c *Config) { c.SystemOwner = "" },
		"no authority":        func(c *Config) { c.Authority = "" },
		"system is owner":     func(c *Config) { c.SystemPrincipal = "o" },
		"zero factor":         func(c *Config) { c.ScoreFactor = 0 },
		"threshold over keys": func(c *Config) { c.SignerKeys = []string{"k"} },
		"kafka no brokers":    func(c *Config) { c.OracleMode = OracleKafka },
		"kafka no signers":    func(c *Config) { c.OracleMode, c.KafkaBrokers = OracleKafka, []string{"k:9092"} },
		"kafka no key file":   func(c *Config) { c.OracleMode, c.KafkaBrokers, c.SignerAddresses = OracleKafka, []string{"k:9092"}, []string{"0x01", "0x02"} },
		"unknown mode":        func(c *Config) { c.OracleMode = "carrier-pigeon" },
		"zero poll interval":  func(c *Config) { c.OraclePollInterval = 0 },
		"negative poll":       func(c *Config) { c.OraclePollInterval = -time.Second },
		"zero sweep interval": func(c *Config) { c.SweepInterval = 0 },
		"db without key file": func(c *Config) { c.DatabaseURL = "postgres://localhost/ecocert" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
