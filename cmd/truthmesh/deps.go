package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Alias1177/TruthMesh/internal/api/gemini"
	"github.com/Alias1177/TruthMesh/internal/api/ollama"
	"github.com/Alias1177/TruthMesh/internal/api/openai"
	"github.com/Alias1177/TruthMesh/internal/chain"
	"github.com/Alias1177/TruthMesh/internal/classify"
	"github.com/Alias1177/TruthMesh/internal/config"
	"github.com/Alias1177/TruthMesh/internal/dispatcher"
	"github.com/Alias1177/TruthMesh/internal/ingest"
	"github.com/Alias1177/TruthMesh/internal/market"
	"github.com/Alias1177/TruthMesh/internal/notify"
	"github.com/Alias1177/TruthMesh/internal/oracle"
	"github.com/Alias1177/TruthMesh/internal/prediction"
	"github.com/Alias1177/TruthMesh/internal/reason"
	"github.com/Alias1177/TruthMesh/models"
)

func newOpenAIClient(cfg *config.Config) *openai.Client {
	return openai.NewClient(openai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
	})
}

// newEmbedder returns the configured embedding provider and its model name
func newEmbedder(ctx context.Context, cfg *config.Config, oc *openai.Client) (models.Embedder, string, error) {
	if err := cfg.ValidateEmbedding(); err != nil {
		return nil, "", err
	}
	switch cfg.EmbeddingProvider {
	case config.EmbeddingOllama:
		e := ollama.NewEmbedder(cfg.OllamaURL, cfg.OllamaModel)
		if !e.Available(ctx) {
			log.Warn().Str("model", e.Model()).Str("endpoint", cfg.OllamaURL).
				Msg("Ollama model not available yet, embedding calls will fail until it is pulled")
		}
		return e, "ollama:" + e.Model(), nil
	case config.EmbeddingGemini:
		e, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, "", err
		}
		return e, "gemini:" + e.Model(), nil
	default:
		return oc, oc.EmbeddingModel(), nil
	}
}

// newDispatcher wires classifier, reasoner and notifier around the database
func newDispatcher(ctx context.Context, cfg *config.Config) (*dispatcher.Dispatcher, error) {
	if err := cfg.ValidateReasoning(); err != nil {
		return nil, err
	}
	oc := newOpenAIClient(cfg)
	embedder, embeddingModel, err := newEmbedder(ctx, cfg, oc)
	if err != nil {
		return nil, err
	}

	classifier := classify.New(embedder, classify.WithMinRelevance(cfg.MinRelevance))
	return dispatcher.New(db, db, classifier, reason.New(oc), dispatcher.Config{
		BatchSize:          cfg.BatchSize,
		ClaimTTL:           cfg.ClaimTTL,
		LeaseTTL:           cfg.LockTTL,
		RetryDelay:         cfg.RetryDelay,
		IdleInterval:       cfg.IdleInterval,
		ErrorBackoff:       cfg.ErrorBackoff,
		EntryTimeout:       cfg.EntryTimeout,
		MalformedThreshold: cfg.MalformedThreshold,
		ReasoningModel:     oc.ChatModel(),
		EmbeddingModel:     embeddingModel,
		Notifier:           newNotifier(cfg),
	}), nil
}

var (
	notifierOnce sync.Once
	notifier     models.Notifier
)

// newNotifier uses Telegram when a bot is configured and falls back to logs.
// The notifier is built once per process.
func newNotifier(cfg *config.Config) models.Notifier {
	notifierOnce.Do(func() { notifier = buildNotifier(cfg) })
	return notifier
}

func buildNotifier(cfg *config.Config) models.Notifier {
	if cfg.TelegramBotToken == "" || len(cfg.TelegramChatIDs) == 0 {
		return notify.NewLogNotifier()
	}
	tg, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatIDs)
	if err != nil {
		log.Warn().Err(err).Msg("Telegram notifier unavailable, alerts go to the log")
		return notify.NewLogNotifier()
	}
	return tg
}

func newPredictor() *prediction.Predictor {
	return prediction.NewPredictor(db, prediction.DefaultBatchSize)
}

func newSigner(cfg *config.Config) (*oracle.Signer, error) {
	if err := cfg.ValidateSigner(); err != nil {
		return nil, err
	}
	framing, err := oracle.ParseFraming(cfg.SignatureFraming)
	if err != nil {
		return nil, err
	}
	return oracle.NewSigner(cfg.OraclePrivateKey, framing)
}

// dialChain connects to the contracts and checks the oracle key and hash
// framing against the contract before anything is sent
func dialChain(ctx context.Context, cfg *config.Config, signer *oracle.Signer) (*chain.Client, error) {
	if err := cfg.ValidateChain(); err != nil {
		return nil, err
	}
	client, err := chain.Dial(ctx, chain.Config{
		RPCURL:         cfg.RPCURL,
		OracleAddress:  cfg.OracleAddress,
		MarketAddress:  cfg.MarketAddress,
		ChainID:        cfg.ChainID,
		PrivateKey:     cfg.OraclePrivateKey,
		DropAfterPolls: cfg.DropAfterPolls,
	})
	if err != nil {
		return nil, err
	}
	if err := signer.CheckVerifier(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("oracle contract check: %w", err)
	}
	log.Info().Str("signer", signer.Address().Hex()).Str("framing", string(signer.Framing())).
		Msg("Oracle signer matches contract")
	return client, nil
}

// chainStack is everything the market stages need from the chain
type chainStack struct {
	client *chain.Client
	linker *market.Linker
	syncer *market.Syncer
}

func (s *chainStack) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// newChainStack builds the linker and syncer. When the chain is not
// configured and required is false, the linker only records links.
func newChainStack(ctx context.Context, cfg *config.Config, required bool) (*chainStack, error) {
	opts := market.Options{ConfirmTimeout: cfg.ConfirmTimeout, Notifier: newNotifier(cfg)}

	if !cfg.ChainConfigured() {
		if required {
			return nil, errors.Join(errors.New("chain is not configured"), cfg.ValidateChain())
		}
		log.Warn().Msg("Chain not configured, predictions are linked but not submitted")
		return &chainStack{linker: market.NewLinker(db, nil, nil, opts)}, nil
	}

	signer, err := newSigner(cfg)
	if err != nil {
		return nil, err
	}
	client, err := dialChain(ctx, cfg, signer)
	if err != nil {
		return nil, err
	}
	return &chainStack{
		client: client,
		linker: market.NewLinker(db, signer, client, opts),
		syncer: market.NewSyncer(client, db),
	}, nil
}

// newPollRunner builds every configured ingest source
func newPollRunner(cfg *config.Config) (*ingest.Runner, error) {
	feeds := ingest.DefaultFeeds
	query := cfg.NewsQuery
	coins := cfg.CoinIDs

	if cfg.FeedsFile != "" {
		f, err := ingest.LoadFeeds(cfg.FeedsFile)
		if err != nil {
			return nil, err
		}
		if len(f.Feeds) > 0 {
			feeds = f.Feeds
		}
		if f.NewsQuery != "" {
			query = f.NewsQuery
		}
		if len(f.Coins) > 0 {
			coins = f.Coins
		}
	}

	sources := ingest.RSSSources(feeds)
	if cfg.NewsAPIKey != "" {
		sources = append(sources, ingest.NewNewsAPISource(ingest.DefaultNewsAPIURL, cfg.NewsAPIKey, query))
	} else {
		log.Info().Msg("NEWSAPI_KEY not set, skipping NewsAPI source")
	}
	if len(coins) > 0 {
		sources = append(sources, ingest.NewCoinGeckoSource(ingest.DefaultCoinGeckoURL, coins))
	}

	return ingest.NewRunner(ingest.NewIngestor(db), sources, cfg.PollWorkers, cfg.PollTimeout), nil
}
