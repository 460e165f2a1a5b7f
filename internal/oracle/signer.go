// Package oracle produces the signatures the PredictionOracle contract verifies.
//
// A prediction is identified by (id, prediction, confidence), each encoded as a
// 32-byte big-endian uint256. The message hash is keccak256 of the three words.
// The signed hash applies the Ethereum personal-message prefix to it once
// (FramingPersonal) or twice (FramingDouble).
package oracle

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// Scale converts [0,1] values to the contract's fixed-point integers
const Scale = 1_000_000

var (
	// ErrOutOfRange is returned when a value to scale is outside [0,1]
	ErrOutOfRange = errors.New("value outside [0,1]")
	// ErrFramingMismatch is returned when the contract hashes differently than the signer
	ErrFramingMismatch = errors.New("signer framing does not match the verifier contract")
	// ErrWrongSigner is returned when the contract expects another oracle address
	ErrWrongSigner = errors.New("oracle key does not match the contract's signer")
)

// Framing selects how the message hash is prefixed before signing
type Framing string

const (
	FramingPersonal Framing = "personal"
	FramingDouble   Framing = "double"
)

// ParseFraming validates a framing name; empty selects FramingPersonal
func ParseFraming(s string) (Framing, error) {
	switch Framing(strings.ToLower(strings.TrimSpace(s))) {
	case "", FramingPersonal:
		return FramingPersonal, nil
	case FramingDouble:
		return FramingDouble, nil
	default:
		return "", fmt.Errorf("unknown signature framing %q", s)
	}
}

// ScaleValue converts a [0,1] value to its on-chain integer, rounding half away from zero
func ScaleValue(v float64) (*big.Int, error) {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return nil, fmt.Errorf("%w: %v", ErrOutOfRange, v)
	}
	return big.NewInt(int64(math.Round(v * Scale))), nil
}

// MessageHash is keccak256(uint256(id) ‖ uint256(prediction) ‖ uint256(confidence))
func MessageHash(id, prediction, confidence *big.Int) common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, v := range []*big.Int{id, prediction, confidence} {
		h.Write(common.LeftPadBytes(v.Bytes(), 32))
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// PersonalHash applies the "\x19Ethereum Signed Message:\n32" prefix to a 32-byte hash
func PersonalHash(hash common.Hash) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("\x19Ethereum Signed Message:\n32"))
	h.Write(hash[:])
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// SignedPrediction is a prediction ready for submitPrediction
type SignedPrediction struct {
	ID          *big.Int
	Prediction  *big.Int
	Confidence  *big.Int
	Signature   []byte
	Signer      common.Address
	MessageHash common.Hash
	SignedHash  common.Hash
}

// Signer signs predictions with the oracle key
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	framing Framing
}

// NewSigner loads a hex private key, with or without 0x prefix
func NewSigner(hexKey string, framing Framing) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing oracle private key: %w", err)
	}
	if framing == "" {
		framing = FramingPersonal
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		framing: framing,
	}, nil
}

// Address returns the signer's Ethereum address
func (s *Signer) Address() common.Address { return s.address }

// Framing returns the configured framing
func (s *Signer) Framing() Framing { return s.framing }

// SignedHash returns the digest that is actually signed for a message hash
func (s *Signer) SignedHash(messageHash common.Hash) common.Hash {
	signed := PersonalHash(messageHash)
	if s.framing == FramingDouble {
		signed = PersonalHash(signed)
	}
	return signed
}

// Sign signs already scaled integers
func (s *Signer) Sign(id, prediction, confidence *big.Int) (*SignedPrediction, error) {
	msg := MessageHash(id, prediction, confidence)
	digest := s.SignedHash(msg)

	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, fmt.Errorf("signing prediction %s: %w", id, err)
	}
	// contracts expect v in {27, 28}
	sig[crypto.RecoveryIDOffset] += 27

	return &SignedPrediction{
		ID:          new(big.Int).Set(id),
		Prediction:  new(big.Int).Set(prediction),
		Confidence:  new(big.Int).Set(confidence),
		Signature:   sig,
		Signer:      s.address,
		MessageHash: msg,
		SignedHash:  digest,
	}, nil
}

// SignValues scales [0,1] values and signs them
func (s *Signer) SignValues(id int64, prediction, confidence float64) (*SignedPrediction, error) {
	if id < 0 {
		return nil, fmt.Errorf("negative prediction id %d", id)
	}
	p, err := ScaleValue(prediction)
	if err != nil {
		return nil, fmt.Errorf("prediction: %w", err)
	}
	c, err := ScaleValue(confidence)
	if err != nil {
		return nil, fmt.Errorf("confidence: %w", err)
	}
	return s.Sign(big.NewInt(id), p, c)
}

// Recover returns the address that produced sig over signedHash
func Recover(signedHash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(signedHash[:], normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that sp was signed by expected
func Verify(sp *SignedPrediction, expected common.Address) bool {
	got, err := Recover(sp.SignedHash, sp.Signature)
	return err == nil && got == expected
}

// Verifier is the contract's view of hashing and the expected signer
type Verifier interface {
	GetMessageHash(ctx context.Context, id, prediction, confidence *big.Int) (common.Hash, error)
	GetEthSignedMessageHash(ctx context.Context, messageHash common.Hash) (common.Hash, error)
	OracleSigner(ctx context.Context) (common.Address, error)
}

// CheckVerifier compares the local hashing, framing and address with the
// contract's using a fixed test prediction. The digest this signer signs must
// equal the contract's getEthSignedMessageHash, otherwise every submission
// would revert.
func (s *Signer) CheckVerifier(ctx context.Context, v Verifier) error {
	expected, err := v.OracleSigner(ctx)
	if err != nil {
		return fmt.Errorf("reading oracle signer: %w", err)
	}
	if expected != s.address {
		return fmt.Errorf("%w: contract expects %s, key is %s", ErrWrongSigner, expected.Hex(), s.address.Hex())
	}

	id, pred, conf := big.NewInt(999), big.NewInt(750_000), big.NewInt(820_000)
	local := MessageHash(id, pred, conf)
	remote, err := v.GetMessageHash(ctx, id, pred, conf)
	if err != nil {
		return fmt.Errorf("reading contract message hash: %w", err)
	}
	if remote != local {
		return fmt.Errorf("%w: message hash %s != %s", ErrFramingMismatch, remote.Hex(), local.Hex())
	}

	remoteSigned, err := v.GetEthSignedMessageHash(ctx, remote)
	if err != nil {
		return fmt.Errorf("reading contract signed hash: %w", err)
	}
	if want := s.SignedHash(local); remoteSigned != want {
		return fmt.Errorf("%w: contract signs %s, %s framing signs %s",
			ErrFramingMismatch, remoteSigned.Hex(), s.framing, want.Hex())
	}
	return nil
}
