package market

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/TruthMesh/internal/chain"
	"github.com/Alias1177/TruthMesh/internal/content"
	"github.com/Alias1177/TruthMesh/internal/database"
	"github.com/Alias1177/TruthMesh/internal/oracle"
	"github.com/Alias1177/TruthMesh/internal/testutil"
	"github.com/Alias1177/TruthMesh/models"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestKeywords(t *testing.T) {
	got := Keywords("Will BTC close above $100k this week? Over-the-top rally!")
	want := []string{"close", "above", "100k", "week", "rally"}

	assert.Len(t, got, len(want))
	for _, w := range want {
		assert.Contains(t, got, w)
	}
	assert.NotContains(t, got, "will")
	assert.NotContains(t, got, "over")
	assert.NotContains(t, got, "btc")
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name     string
		question string
		texts    []string
		expected bool
	}{
		{name: "shared word", question: "Will Bitcoin reach 100k?", texts: []string{"bitcoin ETF inflows"}, expected: true},
		{name: "case and punctuation", question: "Ethereum upgrade live?", texts: []string{"The ETHEREUM, upgrade"}, expected: true},
		{name: "second text", question: "Will Solana flip Ethereum?", texts: []string{"nothing here", "solana outage"}, expected: true},
		{name: "stopwords only", question: "Will this happen with that?", texts: []string{"will this that with"}, expected: false},
		{name: "short words ignored", question: "Is BTC up?", texts: []string{"BTC up big"}, expected: false},
		{name: "no substring match", question: "Will Bitcoin rally?", texts: []string{"bitcoins rallying"}, expected: false},
		{name: "no texts", question: "Will Bitcoin rally?", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Matches(tt.question, tt.texts...))
		})
	}
}

func TestOutcomeFor(t *testing.T) {
	assert.Equal(t, models.OutcomeYes, OutcomeFor(0.77))
	assert.Equal(t, models.OutcomeYes, OutcomeFor(0.51))
	assert.Equal(t, models.OutcomeNo, OutcomeFor(0.5))
	assert.Equal(t, models.OutcomeNo, OutcomeFor(0.1))
}

// fakeSubmitter builds signed transactions and answers broadcasts and
// confirmations from a script
type fakeSubmitter struct {
	mu            sync.Mutex
	key           *ecdsa.PrivateKey
	builds        []*oracle.SignedPrediction
	buildErrs     []error
	broadcasts    []common.Hash
	broadcastErrs []error
	// broadcastErr fails every broadcast once the script is used up
	broadcastErr    error
	beforeBroadcast func(tx *types.Transaction)
	confirmErr      map[common.Hash]error
	waited          []common.Hash
}

func newFakeSubmitter(t *testing.T) *fakeSubmitter {
	t.Helper()
	key, err := crypto.HexToECDSA(testKey)
	require.NoError(t, err)
	return &fakeSubmitter{key: key, confirmErr: map[common.Hash]error{}}
}

func (f *fakeSubmitter) BuildPrediction(_ context.Context, sp *oracle.SignedPrediction) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.buildErrs) > 0 {
		err := f.buildErrs[0]
		f.buildErrs = f.buildErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.builds = append(f.builds, sp)
	return types.SignNewTx(f.key, types.LatestSignerForChainID(big.NewInt(31337)), &types.LegacyTx{
		Nonce:    uint64(len(f.builds)),
		Gas:      120_000,
		GasPrice: big.NewInt(1_000_000_000),
		Data:     sp.Signature,
	})
}

func (f *fakeSubmitter) Broadcast(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	hook := f.beforeBroadcast
	f.mu.Unlock()
	if hook != nil {
		hook(tx)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, tx.Hash())
	if len(f.broadcastErrs) > 0 {
		err := f.broadcastErrs[0]
		f.broadcastErrs = f.broadcastErrs[1:]
		return err
	}
	return f.broadcastErr
}

func (f *fakeSubmitter) WaitConfirmed(_ context.Context, h common.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waited = append(f.waited, h)
	return f.confirmErr[h]
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, msg string) error {
	n.messages = append(n.messages, msg)
	return nil
}

func newSigner(t *testing.T) *oracle.Signer {
	t.Helper()
	s, err := oracle.NewSigner(testKey, oracle.FramingPersonal)
	require.NoError(t, err)
	return s
}

// seedPrediction stores the full chain event -> signal -> prediction
func seedPrediction(t *testing.T, db *database.DB, text, summary string, value, confidence float64) models.PredictionContext {
	t.Helper()
	ctx := context.Background()

	ev, err := db.Ingest(ctx, &models.IncomingEvent{Source: "test", Text: text}, content.Fingerprint(text))
	require.NoError(t, err)
	require.NotNil(t, ev)

	sig, err := db.InsertSignal(ctx, &models.Signal{
		RawEventID: ev.ID,
		Category:   models.CategoryBTCPrice,
		Relevance:  0.8,
		Confidence: confidence,
		Summary:    summary,
	})
	require.NoError(t, err)
	require.NotNil(t, sig)

	p, err := db.InsertPrediction(ctx, &models.Prediction{
		SignalID:        sig.ID,
		Category:        sig.Category,
		Summary:         summary,
		PredictionValue: value,
	})
	require.NoError(t, err)
	require.NotNil(t, p)

	pc, err := db.GetPredictionContext(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, pc)
	return *pc
}

func seedMarket(t *testing.T, db *database.DB, contractID, question string, state models.MarketState) models.Market {
	t.Helper()
	m, err := db.UpsertMarket(context.Background(), &models.Market{
		ContractMarketID: contractID,
		Question:         question,
		LockTimestamp:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		State:            state,
	})
	require.NoError(t, err)
	return *m
}

func TestLinkAndSubmit(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	pc := seedPrediction(t, db, "Bitcoin ETF inflows hit a record", "Bitcoin demand is rising", 0.77, 0.6)
	btc := seedMarket(t, db, "1", "Will Bitcoin close above 100k?", models.MarketOpen)
	eth := seedMarket(t, db, "2", "Will Ethereum flip?", models.MarketOpen)

	sub := newFakeSubmitter(t)
	linker := NewLinker(db, newSigner(t), sub, Options{})

	links, err := linker.LinkAndSubmit(ctx, pc, []models.Market{btc, eth})
	require.NoError(t, err)
	require.Len(t, links, 1)

	link := links[0]
	assert.Equal(t, btc.ID, link.MarketID)
	assert.Equal(t, models.OutcomeYes, link.MarketOutcome)
	assert.Equal(t, 0.6, link.Confidence)
	assert.True(t, link.SubmittedToChain)
	require.NotNil(t, link.ChainTxHash)

	require.Len(t, sub.builds, 1)
	sp := sub.builds[0]
	assert.Equal(t, pc.ID, sp.ID.Int64(), "submission is keyed by prediction id")
	assert.Equal(t, int64(770_000), sp.Prediction.Int64())
	assert.Equal(t, int64(600_000), sp.Confidence.Int64())
	assert.True(t, oracle.Verify(sp, newSigner(t).Address()))

	again, err := linker.LinkAndSubmit(ctx, pc, []models.Market{btc, eth})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, link.ID, again[0].ID)
	assert.Len(t, sub.builds, 1, "submitted links are not resent")
}

func TestLinkWithoutChain(t *testing.T) {
	db := testutil.OpenTestDB(t)
	pc := seedPrediction(t, db, "Bitcoin slides", "Bitcoin weakness", 0.3, 0.4)
	m := seedMarket(t, db, "1", "Will Bitcoin recover?", models.MarketOpen)

	linker := NewLinker(db, nil, nil, Options{})
	links, err := linker.LinkAndSubmit(context.Background(), pc, []models.Market{m})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, models.OutcomeNo, links[0].MarketOutcome)
	assert.False(t, links[0].SubmittedToChain)
}

func TestSubmitRetriesTransientSend(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	pc := seedPrediction(t, db, "Bitcoin miners sell", "Bitcoin supply shock", 0.6, 0.7)
	m := seedMarket(t, db, "1", "Will Bitcoin drop?", models.MarketOpen)

	sub := newFakeSubmitter(t)
	sub.broadcastErrs = []error{errors.New("connection reset"), nil}
	linker := NewLinker(db, newSigner(t), sub, Options{SendRetryMax: 5 * time.Second})

	links, err := linker.LinkAndSubmit(ctx, pc, []models.Market{m})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.True(t, links[0].SubmittedToChain)

	require.Len(t, sub.builds, 1, "a retry does not build a second transaction")
	require.Len(t, sub.broadcasts, 2)
	assert.Equal(t, sub.broadcasts[0], sub.broadcasts[1], "the same signed transaction is sent again")
	assert.Equal(t, sub.broadcasts[0].Hex(), *links[0].ChainTxHash)
}

func TestSubmitRetriesTransientBuild(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	pc := seedPrediction(t, db, "Bitcoin hashrate record", "Bitcoin security", 0.7, 0.6)
	m := seedMarket(t, db, "1", "Will Bitcoin hashrate grow?", models.MarketOpen)

	sub := newFakeSubmitter(t)
	sub.buildErrs = []error{errors.New("estimating gas: connection refused"), nil}
	linker := NewLinker(db, newSigner(t), sub, Options{SendRetryMax: 5 * time.Second})

	links, err := linker.LinkAndSubmit(ctx, pc, []models.Market{m})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.True(t, links[0].SubmittedToChain)
	assert.Len(t, sub.broadcasts, 1)
}

func TestSubmitStoresTxBeforeBroadcast(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	pc := seedPrediction(t, db, "Bitcoin whale moves coins", "Bitcoin whale activity", 0.75, 0.65)
	m := seedMarket(t, db, "1", "Will Bitcoin whales sell?", models.MarketOpen)

	sub := newFakeSubmitter(t)
	var stored []*models.PendingSubmission
	sub.beforeBroadcast = func(*types.Transaction) {
		pending, err := db.PendingSubmissions(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		stored = append(stored, &pending[0])
	}
	linker := NewLinker(db, newSigner(t), sub, Options{})

	_, err := linker.LinkAndSubmit(ctx, pc, []models.Market{m})
	require.NoError(t, err)

	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].ChainTxHash)
	require.NotNil(t, stored[0].ChainTxRaw)
	assert.Equal(t, sub.broadcasts[0].Hex(), *stored[0].ChainTxHash)

	tx, err := chain.DecodeTx(*stored[0].ChainTxRaw)
	require.NoError(t, err)
	assert.Equal(t, sub.broadcasts[0], tx.Hash())
}

func TestSubmitRebroadcastsStoredTxAfterFailedSend(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	_ = seedPrediction(t, db, "Bitcoin exchange outflows", "Bitcoin leaves exchanges", 0.7, 0.8)
	_ = seedMarket(t, db, "1", "Will Bitcoin exchange reserves fall?", models.MarketOpen)

	sub := newFakeSubmitter(t)
	sub.broadcastErr = errors.New("node unreachable")
	linker := NewLinker(db, newSigner(t), sub, Options{SendRetryMax: 10 * time.Millisecond})

	report, err := linker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, sub.builds, 1)
	sent := sub.broadcasts[0]

	pending, err := db.PendingSubmissions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].ChainTxHash)
	assert.Equal(t, sent.Hex(), *pending[0].ChainTxHash)

	sub.broadcastErr = nil
	report, err = linker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Submitted)
	assert.Len(t, sub.builds, 1, "the stored transaction is reused")
	assert.Equal(t, sent, sub.broadcasts[len(sub.broadcasts)-1])
	assert.Equal(t, []common.Hash{sent}, sub.waited)

	link, err := db.GetMarketPrediction(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.True(t, link.SubmittedToChain)
	assert.Equal(t, sent.Hex(), *link.ChainTxHash)
}

func TestSubmitRejectionIsRecordedAndNotified(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	pc := seedPrediction(t, db, "Bitcoin halving soon", "Bitcoin halving", 0.9, 0.8)
	m := seedMarket(t, db, "7", "Will Bitcoin halving pump?", models.MarketOpen)

	sub := newFakeSubmitter(t)
	sub.buildErrs = []error{fmt.Errorf("%w: execution reverted", chain.ErrSubmissionRejected)}
	notifier := &recordingNotifier{}
	linker := NewLinker(db, newSigner(t), sub, Options{Notifier: notifier})

	links, err := linker.LinkAndSubmit(ctx, pc, []models.Market{m})
	assert.ErrorIs(t, err, chain.ErrSubmissionRejected)
	require.Len(t, links, 1)
	assert.False(t, links[0].SubmittedToChain)
	require.NotNil(t, links[0].SubmissionError)
	assert.Len(t, notifier.messages, 1)

	pending, err := db.PendingSubmissions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "rejected links are not retried")
}

func TestSubmitConfirmsPendingTxInsteadOfResending(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	pc := seedPrediction(t, db, "Bitcoin treasury buys", "Bitcoin corporate demand", 0.8, 0.9)
	m := seedMarket(t, db, "1", "Will Bitcoin treasury grow?", models.MarketOpen)

	link, _, err := db.LinkMarketPrediction(ctx, &models.MarketPrediction{
		MarketID: m.ID, PredictionID: pc.ID, MarketOutcome: models.OutcomeYes, Confidence: 0.9,
	})
	require.NoError(t, err)
	pendingHash := common.HexToHash("0xabc")
	require.NoError(t, db.SetPendingTx(ctx, link.ID, pendingHash.Hex(), ""))

	sub := newFakeSubmitter(t)
	linker := NewLinker(db, newSigner(t), sub, Options{})
	report, err := linker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Submitted)
	assert.Empty(t, sub.builds)
	assert.Equal(t, []common.Hash{pendingHash}, sub.waited)

	stored, err := db.GetMarketPrediction(ctx, link.ID)
	require.NoError(t, err)
	assert.True(t, stored.SubmittedToChain)
	assert.Equal(t, pendingHash.Hex(), *stored.ChainTxHash)
}

func TestSubmitResendsDroppedTx(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	pc := seedPrediction(t, db, "Bitcoin fees spike", "Bitcoin congestion", 0.7, 0.5)
	m := seedMarket(t, db, "1", "Will Bitcoin fees double?", models.MarketOpen)

	link, _, err := db.LinkMarketPrediction(ctx, &models.MarketPrediction{
		MarketID: m.ID, PredictionID: pc.ID, MarketOutcome: models.OutcomeYes, Confidence: 0.5,
	})
	require.NoError(t, err)
	dropped := common.HexToHash("0xdead")
	require.NoError(t, db.SetPendingTx(ctx, link.ID, dropped.Hex(), ""))

	sub := newFakeSubmitter(t)
	sub.confirmErr[dropped] = chain.ErrTxDropped
	linker := NewLinker(db, newSigner(t), sub, Options{})

	report, err := linker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Submitted)
	require.Len(t, sub.builds, 1)

	stored, err := db.GetMarketPrediction(ctx, link.ID)
	require.NoError(t, err)
	assert.True(t, stored.SubmittedToChain)
	assert.NotEqual(t, dropped.Hex(), *stored.ChainTxHash)
}

func TestSubmitReusesConfirmedTx(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	pc := seedPrediction(t, db, "Bitcoin options expiry", "Bitcoin volatility", 0.65, 0.55)
	m1 := seedMarket(t, db, "1", "Will Bitcoin options expire calm?", models.MarketOpen)
	m2 := seedMarket(t, db, "2", "Will Bitcoin volatility rise?", models.MarketOpen)

	sub := newFakeSubmitter(t)
	linker := NewLinker(db, newSigner(t), sub, Options{})

	links, err := linker.LinkAndSubmit(ctx, pc, []models.Market{m1, m2})
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Len(t, sub.builds, 1, "one prediction is sent once")
	for _, l := range links {
		assert.True(t, l.SubmittedToChain)
		assert.Equal(t, *links[0].ChainTxHash, *l.ChainTxHash)
	}
}

func TestRunOnceLinksActiveMarketsOnly(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	seedPrediction(t, db, "Bitcoin breaks resistance", "Bitcoin breakout", 0.8, 0.7)
	seedMarket(t, db, "1", "Will Bitcoin breakout hold?", models.MarketOpen)
	seedMarket(t, db, "2", "Will Bitcoin breakout fail?", models.MarketFinalized)

	linker := NewLinker(db, nil, nil, Options{})
	report, err := linker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Linked)

	report, err = linker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Checked, "checked predictions are not rescanned")
}

// fakeReader serves markets by id
type fakeReader struct {
	next    int64
	markets map[int64]*chain.MarketInfo
}

func (f *fakeReader) NextMarketID(context.Context) (*big.Int, error) {
	return big.NewInt(f.next), nil
}

func (f *fakeReader) Market(_ context.Context, id *big.Int) (*chain.MarketInfo, error) {
	m, ok := f.markets[id.Int64()]
	if !ok {
		return nil, errors.New("rpc failure")
	}
	return m, nil
}

func TestSync(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	lock := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	resolve := lock.Add(24 * time.Hour)

	reader := &fakeReader{
		next: 5,
		markets: map[int64]*chain.MarketInfo{
			1: {ID: big.NewInt(1), Question: "Will Bitcoin hit 150k?", LockTimestamp: lock, State: 0},
			2: {ID: big.NewInt(2), Question: "Will Ethereum hit 10k?", LockTimestamp: lock, ResolveTimestamp: &resolve, State: 4},
			3: {ID: big.NewInt(0)},
			// 4 fails to read
		},
	}

	synced, err := NewSyncer(reader, db).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, synced)

	active, err := db.ActiveMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "1", active[0].ContractMarketID)
	assert.Equal(t, models.MarketOpen, active[0].State)

	reader.markets[1].State = 1
	reader.markets[1].Question = "Will Bitcoin hit 150k in 2030?"
	_, err = NewSyncer(reader, db).Sync(ctx)
	require.NoError(t, err)

	active, err = db.ActiveMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.MarketClosed, active[0].State)
	assert.Equal(t, "Will Bitcoin hit 150k in 2030?", active[0].Question)
}
