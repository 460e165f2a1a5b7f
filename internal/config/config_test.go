package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/TruthMesh/internal/database"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DB_DRIVER", "DATABASE_URL", "BATCH_SIZE", "POLL_INTERVAL_SECONDS", "RETRY_DELAY", "TELEGRAM_CHAT_IDS", "ORACLE_SIGNATURE_FRAMING", "TX_DROP_AFTER_POLLS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, database.DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay)
	assert.Equal(t, 2*time.Second, cfg.IdleInterval)
	assert.Equal(t, 3*time.Second, cfg.ErrorBackoff)
	assert.Equal(t, "personal", cfg.SignatureFraming)
	assert.Equal(t, -1.0, cfg.MinRelevance)
	assert.Equal(t, 15, cfg.DropAfterPolls)
	assert.Empty(t, cfg.TelegramChatIDs)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/mesh.db")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("POLL_INTERVAL_SECONDS", "60")
	t.Setenv("RETRY_DELAY", "1500ms")
	t.Setenv("CLAIM_TTL", "90")
	t.Setenv("COINGECKO_IDS", "bitcoin, solana ,")
	t.Setenv("TELEGRAM_CHAT_IDS", "123,-456")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("TX_DROP_AFTER_POLLS", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, 90*time.Second, cfg.ClaimTTL)
	assert.Equal(t, []string{"bitcoin", "solana"}, cfg.CoinIDs)
	assert.Equal(t, []int64{123, -456}, cfg.TelegramChatIDs)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, 4, cfg.DropAfterPolls)
	assert.Equal(t, "/tmp/mesh.db", cfg.DatabaseDSN())
}

func TestLoadRejectsBadChatID(t *testing.T) {
	t.Setenv("TELEGRAM_CHAT_IDS", "123,abc")
	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{DBDriver: database.DriverPostgres, DB: database.ConnectionParams{
		Host: "db", Port: "5432", User: "mesh", Password: "pw", DBName: "truthmesh",
	}}
	assert.Equal(t, "host=db port=5432 user=mesh password=pw dbname=truthmesh sslmode=disable", cfg.DatabaseDSN())

	cfg.DatabaseURL = "postgres://mesh@db/truthmesh"
	assert.Equal(t, "postgres://mesh@db/truthmesh", cfg.DatabaseDSN())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DBDriver:          database.DriverSQLite,
			SQLitePath:        "mesh.db",
			OpenAIAPIKey:      "sk-test",
			EmbeddingProvider: EmbeddingOpenAI,
			OraclePrivateKey:  "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
			SignatureFraming:  "personal",
			RPCURL:            "http://127.0.0.1:8545",
			ChainID:           31337,
			OracleAddress:     "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			MarketAddress:     "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
		}
	}

	cfg := valid()
	assert.NoError(t, cfg.ValidateDatabase())
	assert.NoError(t, cfg.ValidateReasoning())
	assert.NoError(t, cfg.ValidateEmbedding())
	assert.NoError(t, cfg.ValidateSigner())
	assert.NoError(t, cfg.ValidateChain())
	assert.True(t, cfg.ChainConfigured())

	tests := []struct {
		name     string
		mutate   func(*Config)
		validate func(*Config) error
	}{
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, (*Config).ValidateDatabase},
		{"postgres without credentials", func(c *Config) { c.DBDriver = database.DriverPostgres }, (*Config).ValidateDatabase},
		{"missing openai key", func(c *Config) { c.OpenAIAPIKey = "" }, (*Config).ValidateReasoning},
		{"gemini without key", func(c *Config) { c.EmbeddingProvider = EmbeddingGemini }, (*Config).ValidateEmbedding},
		{"unknown provider", func(c *Config) { c.EmbeddingProvider = "cohere" }, (*Config).ValidateEmbedding},
		{"missing signing key", func(c *Config) { c.OraclePrivateKey = "" }, (*Config).ValidateSigner},
		{"unknown framing", func(c *Config) { c.SignatureFraming = "eip712" }, (*Config).ValidateSigner},
		{"bad oracle address", func(c *Config) { c.OracleAddress = "0x123" }, (*Config).ValidateChain},
		{"missing market address", func(c *Config) { c.MarketAddress = "" }, (*Config).ValidateChain},
		{"zero chain id", func(c *Config) { c.ChainID = 0 }, (*Config).ValidateChain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, tt.validate(cfg))
		})
	}
}
