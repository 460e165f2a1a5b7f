// Package chain talks to the PredictionOracle and PredictionMarket contracts.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/TruthMesh/internal/oracle"
)

var (
	// ErrSubmissionRejected marks a submission the contract refused or reverted
	ErrSubmissionRejected = errors.New("prediction submission rejected")
	// ErrTxDropped means a sent transaction stayed unknown to the node and has no receipt
	ErrTxDropped = errors.New("transaction not found")
	// ErrNoTransactor is returned when sending without a private key
	ErrNoTransactor = errors.New("chain client has no signing key")
)

// Backend is the node API the client needs; *ethclient.Client satisfies it
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

// Config configures the contract client
type Config struct {
	RPCURL        string
	OracleAddress string
	MarketAddress string
	ChainID       int64
	// PrivateKey signs transactions; calls work without it
	PrivateKey          string
	ReceiptPollInterval time.Duration
	// DropAfterPolls is how many consecutive polls a transaction may be
	// unknown to the node before it counts as dropped
	DropAfterPolls int
}

// Client wraps bound oracle and market contracts
type Client struct {
	backend      Backend
	closer       func()
	oracle       *bind.BoundContract
	market       *bind.BoundContract
	transactor   *bind.TransactOpts
	pollInterval time.Duration
	dropAfter    int
	logger       zerolog.Logger
}

// Dial connects to the RPC endpoint and binds the configured contracts
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.RPCURL, err)
	}
	c, err := NewClient(eth, cfg)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closer = eth.Close
	return c, nil
}

// NewClient binds the contracts on an existing backend
func NewClient(backend Backend, cfg Config) (*Client, error) {
	c := &Client{
		backend:      backend,
		pollInterval: cfg.ReceiptPollInterval,
		dropAfter:    cfg.DropAfterPolls,
		logger:       log.With().Str("component", "chain").Logger(),
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 2 * time.Second
	}
	if c.dropAfter <= 0 {
		c.dropAfter = 15
	}

	if cfg.OracleAddress != "" {
		bound, err := bindContract(backend, cfg.OracleAddress, oracleABI)
		if err != nil {
			return nil, fmt.Errorf("binding oracle: %w", err)
		}
		c.oracle = bound
	}
	if cfg.MarketAddress != "" {
		bound, err := bindContract(backend, cfg.MarketAddress, marketABI)
		if err != nil {
			return nil, fmt.Errorf("binding market: %w", err)
		}
		c.market = bound
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		opts, err := newTransactor(key, cfg.ChainID)
		if err != nil {
			return nil, err
		}
		c.transactor = opts
	}
	return c, nil
}

func bindContract(backend Backend, address, abiJSON string) (*bind.BoundContract, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid contract address %q", address)
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, err
	}
	return bind.NewBoundContract(common.HexToAddress(address), parsed, backend, backend, backend), nil
}

func newTransactor(key *ecdsa.PrivateKey, chainID int64) (*bind.TransactOpts, error) {
	if chainID <= 0 {
		return nil, errors.New("chain id is required to sign transactions")
	}
	return bind.NewKeyedTransactorWithChainID(key, big.NewInt(chainID))
}

// Close releases the RPC connection
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *Client) call(ctx context.Context, contract *bind.BoundContract, method string, args ...any) ([]any, error) {
	if contract == nil {
		return nil, fmt.Errorf("%s: contract address not configured", method)
	}
	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	return out, nil
}

// OracleSigner returns the address the oracle contract accepts signatures from
func (c *Client) OracleSigner(ctx context.Context) (common.Address, error) {
	out, err := c.call(ctx, c.oracle, "oracleSigner")
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// GetMessageHash asks the contract to hash a prediction
func (c *Client) GetMessageHash(ctx context.Context, id, prediction, confidence *big.Int) (common.Hash, error) {
	out, err := c.call(ctx, c.oracle, "getMessageHash", id, prediction, confidence)
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(*abi.ConvertType(out[0], new([32]byte)).(*[32]byte)), nil
}

// GetEthSignedMessageHash asks the contract to apply its signing prefix
func (c *Client) GetEthSignedMessageHash(ctx context.Context, messageHash common.Hash) (common.Hash, error) {
	out, err := c.call(ctx, c.oracle, "getEthSignedMessageHash", [32]byte(messageHash))
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(*abi.ConvertType(out[0], new([32]byte)).(*[32]byte)), nil
}

// BuildPrediction signs a submitPrediction transaction without sending it.
// The nonce and gas are fixed here, so broadcasting the result again can never
// produce a second submission.
func (c *Client) BuildPrediction(ctx context.Context, sp *oracle.SignedPrediction) (*types.Transaction, error) {
	if c.oracle == nil {
		return nil, errors.New("submitPrediction: oracle address not configured")
	}
	if c.transactor == nil {
		return nil, ErrNoTransactor
	}

	opts := *c.transactor
	opts.Context = ctx
	opts.NoSend = true
	tx, err := c.oracle.Transact(&opts, "submitPrediction", sp.ID, sp.Prediction, sp.Confidence, sp.Signature)
	if err != nil {
		return nil, classifySendError(err)
	}
	return tx, nil
}

// Broadcast sends a signed transaction. A node that already has it, or has
// already used its nonce, is not an error; WaitConfirmed settles the outcome.
func (c *Client) Broadcast(ctx context.Context, tx *types.Transaction) error {
	err := c.backend.SendTransaction(ctx, tx)
	if err != nil && !alreadySent(err) {
		return classifySendError(err)
	}
	c.logger.Info().Str("tx", tx.Hash().Hex()).Uint64("nonce", tx.Nonce()).Msg("Prediction broadcast")
	return nil
}

func alreadySent(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"already known", "known transaction", "already imported", "nonce too low"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// EncodeTx returns the hex encoding of a signed transaction
func EncodeTx(tx *types.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encoding transaction: %w", err)
	}
	return hexutil.Encode(raw), nil
}

// DecodeTx parses a transaction written by EncodeTx
func DecodeTx(encoded string) (*types.Transaction, error) {
	raw, err := hexutil.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding transaction: %w", err)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decoding transaction: %w", err)
	}
	return tx, nil
}

// WaitConfirmed polls until the transaction has a receipt. A failed receipt
// is ErrSubmissionRejected. The transaction is ErrTxDropped only after the node
// has not known it for DropAfterPolls polls in a row.
func (c *Client) WaitConfirmed(ctx context.Context, txHash common.Hash) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	missing := 0
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: transaction %s reverted", ErrSubmissionRejected, txHash.Hex())
			}
			return nil
		case errors.Is(err, ethereum.NotFound):
			_, _, txErr := c.backend.TransactionByHash(ctx, txHash)
			switch {
			case errors.Is(txErr, ethereum.NotFound):
				missing++
				if missing >= c.dropAfter {
					return fmt.Errorf("%w: %s unknown for %d polls", ErrTxDropped, txHash.Hex(), missing)
				}
			case txErr == nil:
				missing = 0
			}
		default:
			c.logger.Warn().Err(err).Str("tx", txHash.Hex()).Msg("Failed to fetch receipt")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// MarketInfo is the on-chain view of one market
type MarketInfo struct {
	ID               *big.Int
	Question         string
	LockTimestamp    time.Time
	ResolveTimestamp *time.Time
	State            uint8
}

// NextMarketID returns the id the next created market will get
func (c *Client) NextMarketID(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, c.market, "nextMarketId")
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// Market reads one market; a zero id in the result means it does not exist
func (c *Client) Market(ctx context.Context, id *big.Int) (*MarketInfo, error) {
	out, err := c.call(ctx, c.market, "markets", id)
	if err != nil {
		return nil, err
	}
	return decodeMarket(out)
}

func decodeMarket(out []any) (*MarketInfo, error) {
	if len(out) != 12 {
		return nil, fmt.Errorf("markets: expected 12 values, got %d", len(out))
	}
	id, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("markets: unexpected id type %T", out[0])
	}
	question, ok := out[1].(string)
	if !ok {
		return nil, fmt.Errorf("markets: unexpected question type %T", out[1])
	}
	lock, ok := out[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("markets: unexpected lock timestamp type %T", out[2])
	}
	resolve, ok := out[3].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("markets: unexpected resolve timestamp type %T", out[3])
	}
	state, ok := out[4].(uint8)
	if !ok {
		return nil, fmt.Errorf("markets: unexpected state type %T", out[4])
	}

	info := &MarketInfo{
		ID:            id,
		Question:      question,
		LockTimestamp: time.Unix(lock.Int64(), 0).UTC(),
		State:         state,
	}
	if resolve.Sign() > 0 {
		t := time.Unix(resolve.Int64(), 0).UTC()
		info.ResolveTimestamp = &t
	}
	return info, nil
}

// classifySendError separates contract rejections from transport failures
func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"revert", "invalid signature"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrSubmissionRejected, err)
		}
	}
	return fmt.Errorf("sending prediction: %w", err)
}
