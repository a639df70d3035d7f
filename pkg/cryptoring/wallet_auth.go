package cryptoring

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator used for the wallet-facing side of
// deposit/withdrawal requests. Deposits and withdrawals move value across
// the chain boundary (spec §4.3.1/§4.3.2), so -- unlike the purely
// off-chain note/tab/position signatures in schnorr.go -- they carry an
// outer signature an L1 wallet can produce directly, in addition to the
// core's own aggregated note-owner check.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain is the domain used when no contract deployment is configured.
func DefaultDomain() Domain {
	return Domain{
		Name:              "zex-core",
		Version:           "1",
		ChainID:           big.NewInt(1),
		VerifyingContract: common.Address{},
	}
}

// BridgeRequest is the typed data a depositing/withdrawing wallet signs.
type BridgeRequest struct {
	Kind     string // "deposit" or "withdrawal"
	Token    uint32
	Amount   *big.Int
	Nonce    *big.Int
	Deadline *big.Int
	Owner    common.Address
}

func hashBridgeRequest(d Domain, r *BridgeRequest) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"BridgeRequest": []apitypes.Type{
				{Name: "kind", Type: "string"},
				{Name: "token", Type: "uint256"},
				{Name: "amount", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "owner", Type: "address"},
			},
		},
		PrimaryType: "BridgeRequest",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"kind":     r.Kind,
			"token":    fmt.Sprintf("%d", r.Token),
			"amount":   r.Amount.String(),
			"nonce":    r.Nonce.String(),
			"deadline": r.Deadline.String(),
			"owner":    r.Owner.Hex(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("cryptoring: hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("cryptoring: hash message: %w", err)
	}
	raw := append([]byte("\x19\x01"), append(domainSeparator, messageHash...)...)
	digest := ethcrypto.Keccak256Hash(raw)
	return digest.Bytes(), nil
}

// VerifyBridgeRequest recovers the ECDSA signer of a bridge request and
// checks it matches the claimed owner.
func VerifyBridgeRequest(d Domain, r *BridgeRequest, signature []byte) (bool, error) {
	hash, err := hashBridgeRequest(d, r)
	if err != nil {
		return false, err
	}
	if len(signature) != 65 {
		return false, fmt.Errorf("cryptoring: signature must be 65 bytes, got %d", len(signature))
	}
	pubBytes, err := ethcrypto.Ecrecover(hash, signature)
	if err != nil {
		return false, fmt.Errorf("cryptoring: recover: %w", err)
	}
	pub, err := ethcrypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("cryptoring: unmarshal pubkey: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub) == r.Owner, nil
}
