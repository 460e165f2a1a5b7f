package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/TruthMesh/internal/database"
	"github.com/Alias1177/TruthMesh/internal/oracle"
)

// Embedding providers
const (
	EmbeddingOpenAI = "openai"
	EmbeddingOllama = "ollama"
	EmbeddingGemini = "gemini"
)

// Config holds all application configuration
type Config struct {
	// Database
	DBDriver    string
	DatabaseURL string
	DB          database.ConnectionParams
	SQLitePath  string

	// Logging
	LogLevel  string
	LogPretty bool

	// Models
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	ChatModel         string
	EmbeddingModel    string
	EmbeddingProvider string
	OllamaURL         string
	OllamaModel       string
	GeminiAPIKey      string
	GeminiModel       string
	MinRelevance      float64

	// Oracle and chain
	OraclePrivateKey string
	SignatureFraming string
	RPCURL           string
	OracleAddress    string
	MarketAddress    string
	ChainID          int64
	ConfirmTimeout   time.Duration
	DropAfterPolls   int

	// Ingest
	NewsAPIKey   string
	NewsQuery    string
	FeedsFile    string
	PollInterval time.Duration
	PollTimeout  time.Duration
	PollWorkers  int
	CoinIDs      []string

	// Notifications
	TelegramBotToken string
	TelegramChatIDs  []int64

	// Drain loop and workers
	BatchSize          int
	ClaimTTL           time.Duration
	LockTTL            time.Duration
	RetryDelay         time.Duration
	IdleInterval       time.Duration
	ErrorBackoff       time.Duration
	EntryTimeout       time.Duration
	MalformedThreshold int
	PredictInterval    time.Duration
	SubmitInterval     time.Duration
	MarketSyncInterval time.Duration

	// API
	Port string
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	var cfg Config

	cfg.DBDriver = getEnvWithDefault("DB_DRIVER", database.DriverPostgres)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.DB = database.ConnectionParams{
		Host:     getEnvWithDefault("DB_HOST", "localhost"),
		Port:     getEnvWithDefault("DB_PORT", "5432"),
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   os.Getenv("DB_NAME"),
		SSLMode:  os.Getenv("DB_SSLMODE"),
	}
	cfg.SQLitePath = getEnvWithDefault("SQLITE_PATH", "truthmesh.db")

	cfg.LogLevel = getEnvWithDefault("LOG_LEVEL", "info")
	cfg.LogPretty = getEnvBoolWithDefault("LOG_PRETTY", false)

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.ChatModel = getEnvWithDefault("OPENAI_CHAT_MODEL", "gpt-4o-mini")
	cfg.EmbeddingModel = getEnvWithDefault("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small")
	cfg.EmbeddingProvider = strings.ToLower(getEnvWithDefault("EMBEDDING_PROVIDER", EmbeddingOpenAI))
	cfg.OllamaURL = getEnvWithDefault("OLLAMA_URL", "http://localhost:11434")
	cfg.OllamaModel = getEnvWithDefault("OLLAMA_MODEL", "nomic-embed-text")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = getEnvWithDefault("GEMINI_EMBEDDING_MODEL", "gemini-embedding-001")
	cfg.MinRelevance = getEnvFloatWithDefault("MIN_RELEVANCE", -1)

	cfg.OraclePrivateKey = os.Getenv("ORACLE_PRIVATE_KEY")
	cfg.SignatureFraming = getEnvWithDefault("ORACLE_SIGNATURE_FRAMING", string(oracle.FramingPersonal))
	cfg.RPCURL = getEnvWithDefault("RPC_URL", "http://127.0.0.1:8545")
	cfg.OracleAddress = os.Getenv("PREDICTION_ORACLE_ADDRESS")
	cfg.MarketAddress = os.Getenv("PREDICTION_MARKET_ADDRESS")
	cfg.ChainID = int64(getEnvIntWithDefault("CHAIN_ID", 31337))
	cfg.ConfirmTimeout = getEnvDurationWithDefault("CONFIRM_TIMEOUT", 2*time.Minute)
	cfg.DropAfterPolls = getEnvIntWithDefault("TX_DROP_AFTER_POLLS", 15)

	cfg.NewsAPIKey = os.Getenv("NEWSAPI_KEY")
	cfg.NewsQuery = getEnvWithDefault("NEWSAPI_QUERY", "crypto OR ethereum OR bitcoin")
	cfg.FeedsFile = os.Getenv("FEEDS_FILE")
	cfg.PollInterval = time.Duration(getEnvIntWithDefault("POLL_INTERVAL_SECONDS", 15)) * time.Second
	cfg.PollTimeout = getEnvDurationWithDefault("POLL_TIMEOUT", 30*time.Second)
	cfg.PollWorkers = getEnvIntWithDefault("POLL_WORKERS", 5)
	cfg.CoinIDs = getEnvListWithDefault("COINGECKO_IDS", []string{"bitcoin", "ethereum"})

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	chatIDs, err := parseChatIDs(os.Getenv("TELEGRAM_CHAT_IDS"))
	if err != nil {
		return nil, err
	}
	cfg.TelegramChatIDs = chatIDs

	cfg.BatchSize = getEnvIntWithDefault("BATCH_SIZE", 10)
	cfg.ClaimTTL = getEnvDurationWithDefault("CLAIM_TTL", 5*time.Minute)
	cfg.LockTTL = getEnvDurationWithDefault("LOCK_TTL", 30*time.Second)
	cfg.RetryDelay = getEnvDurationWithDefault("RETRY_DELAY", 5*time.Second)
	cfg.IdleInterval = getEnvDurationWithDefault("IDLE_INTERVAL", 2*time.Second)
	cfg.ErrorBackoff = getEnvDurationWithDefault("ERROR_BACKOFF", 3*time.Second)
	cfg.EntryTimeout = getEnvDurationWithDefault("ENTRY_TIMEOUT", 2*time.Minute)
	cfg.MalformedThreshold = getEnvIntWithDefault("MALFORMED_ALERT_THRESHOLD", 5)
	cfg.PredictInterval = getEnvDurationWithDefault("PREDICT_INTERVAL", 10*time.Second)
	cfg.SubmitInterval = getEnvDurationWithDefault("SUBMIT_INTERVAL", 30*time.Second)
	cfg.MarketSyncInterval = getEnvDurationWithDefault("MARKET_SYNC_INTERVAL", 5*time.Minute)

	cfg.Port = getEnvWithDefault("PORT", "3000")

	return &cfg, nil
}

// DatabaseDSN returns the connection string for the configured driver
func (c *Config) DatabaseDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DBDriver == database.DriverSQLite {
		return c.SQLitePath
	}
	return c.DB.DSN()
}

// ValidateDatabase checks that a database can be opened
func (c *Config) ValidateDatabase() error {
	switch c.DBDriver {
	case database.DriverPostgres:
		if c.DatabaseURL == "" && (c.DB.User == "" || c.DB.DBName == "") {
			return errors.New("DATABASE_URL or DB_USER and DB_NAME must be set")
		}
	case database.DriverSQLite:
		if c.DatabaseURL == "" && c.SQLitePath == "" {
			return errors.New("SQLITE_PATH must be set for the sqlite driver")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", database.DriverPostgres, database.DriverSQLite, c.DBDriver)
	}
	return nil
}

// ValidateReasoning checks the reasoning model credentials
func (c *Config) ValidateReasoning() error {
	if c.OpenAIAPIKey == "" {
		return errors.New("OPENAI_API_KEY must be set")
	}
	return nil
}

// ValidateEmbedding checks the selected embedding provider
func (c *Config) ValidateEmbedding() error {
	switch c.EmbeddingProvider {
	case EmbeddingOpenAI:
		return c.ValidateReasoning()
	case EmbeddingOllama:
		if c.OllamaURL == "" {
			return errors.New("OLLAMA_URL must be set")
		}
	case EmbeddingGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY must be set")
		}
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider)
	}
	return nil
}

// ValidateSigner checks the oracle signing key and framing
func (c *Config) ValidateSigner() error {
	if c.OraclePrivateKey == "" {
		return errors.New("ORACLE_PRIVATE_KEY must be set")
	}
	if _, err := oracle.ParseFraming(c.SignatureFraming); err != nil {
		return err
	}
	return nil
}

// ValidateChain checks the RPC endpoint and contract addresses
func (c *Config) ValidateChain() error {
	if c.RPCURL == "" {
		return errors.New("RPC_URL must be set")
	}
	if c.ChainID <= 0 {
		return errors.New("CHAIN_ID must be positive")
	}
	for name, addr := range map[string]string{
		"PREDICTION_ORACLE_ADDRESS": c.OracleAddress,
		"PREDICTION_MARKET_ADDRESS": c.MarketAddress,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s must be a contract address, got %q", name, addr)
		}
	}
	return nil
}

// ChainConfigured reports whether on-chain submission can be enabled
func (c *Config) ChainConfigured() bool {
	return c.OraclePrivateKey != "" && c.OracleAddress != "" && c.MarketAddress != ""
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getEnvDurationWithDefault accepts Go durations ("5s") or plain seconds ("5")
func getEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvListWithDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseChatIDs(value string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_IDS entry %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
