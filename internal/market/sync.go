package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/TruthMesh/internal/chain"
	"github.com/Alias1177/TruthMesh/models"
)

// Reader reads markets from the market contract
type Reader interface {
	NextMarketID(ctx context.Context) (*big.Int, error)
	Market(ctx context.Context, id *big.Int) (*chain.MarketInfo, error)
}

// MarketStore persists synced markets
type MarketStore interface {
	UpsertMarket(ctx context.Context, m *models.Market) (*models.Market, error)
}

// Syncer mirrors on-chain markets into the local store
type Syncer struct {
	reader Reader
	store  MarketStore
	logger zerolog.Logger
}

// NewSyncer creates a syncer
func NewSyncer(reader Reader, store MarketStore) *Syncer {
	return &Syncer{
		reader: reader,
		store:  store,
		logger: log.With().Str("component", "market_sync").Logger(),
	}
}

// Sync upserts every market with an id below nextMarketId. A market that
// fails to read is skipped and retried on the next sync.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	next, err := s.reader.NextMarketID(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading next market id: %w", err)
	}

	synced := 0
	one := big.NewInt(1)
	for id := big.NewInt(1); id.Cmp(next) < 0; id = new(big.Int).Add(id, one) {
		if err := ctx.Err(); err != nil {
			return synced, err
		}

		info, err := s.reader.Market(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("market", id.String()).Msg("Failed to read market")
			continue
		}
		if info.ID == nil || info.ID.Sign() == 0 {
			continue
		}

		state, err := models.MarketStateFromOrdinal(info.State)
		if err != nil {
			s.logger.Warn().Err(err).Str("market", id.String()).Msg("Skipping market")
			continue
		}

		if _, err := s.store.UpsertMarket(ctx, &models.Market{
			ContractMarketID: info.ID.String(),
			Question:         info.Question,
			LockTimestamp:    info.LockTimestamp,
			ResolveTimestamp: info.ResolveTimestamp,
			State:            state,
		}); err != nil {
			return synced, err
		}
		synced++
	}

	s.logger.Info().Int("markets", synced).Str("next_market_id", next.String()).Msg("Markets synced")
	return synced, nil
}
