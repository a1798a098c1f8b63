package signer

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/peerwallet-project/walletbridge/bridge"
	"github.com/peerwallet-project/walletbridge/logger"
	"github.com/peerwallet-project/walletbridge/types"
)

// FeeSource supplies gas price, gas limit and nonce for transactions that
// arrive without them. Backed by an Ethereum node in production, static
// in tests.
type FeeSource interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, from, to common.Address, value *big.Int, data []byte) (uint64, error)
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
}

// BalanceSource answers balance checks during preparation.
type BalanceSource interface {
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Broadcaster pushes a signed transaction to the network. Optional; when
// absent execute only signs.
type Broadcaster interface {
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

// StaticFeeSource is a FeeSource with fixed answers. The zero gas limit
// falls back to a plain-transfer default.
type StaticFeeSource struct {
	GasPrice *big.Int
	GasLimit uint64
	Nonce    uint64
}

func (s *StaticFeeSource) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if s.GasPrice == nil {
		return big.NewInt(1_000_000_000), nil // 1 gwei
	}
	return new(big.Int).Set(s.GasPrice), nil
}

func (s *StaticFeeSource) EstimateGas(ctx context.Context, from, to common.Address, value *big.Int, data []byte) (uint64, error) {
	if s.GasLimit == 0 {
		return 21000, nil
	}
	return s.GasLimit, nil
}

func (s *StaticFeeSource) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return s.Nonce, nil
}

// Service is the concrete two-phase signing service.
type Service struct {
	keystore    *Keystore
	fees        FeeSource
	balances    BalanceSource
	broadcaster Broadcaster
	log         *logger.Logger
}

// NewService wires a signing service. balances and broadcaster may be nil;
// a nil balances skips the funds check, a nil broadcaster makes execute
// sign-only for every request.
func NewService(ks *Keystore, fees FeeSource, balances BalanceSource, broadcaster Broadcaster, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Global().WithComponent("signer")
	}
	return &Service{
		keystore:    ks,
		fees:        fees,
		balances:    balances,
		broadcaster: broadcaster,
		log:         log,
	}
}

// PrepareTransaction is phase one: fill in fee fields, check funds and
// produce the reviewable payload. No key material is touched here.
func (s *Service) PrepareTransaction(ctx context.Context, binding types.WalletBinding, requestID int64, req bridge.TxRequestParams, signOnly bool) (*types.PendingTransaction, error) {
	from, err := parseAddress(req.From)
	if err != nil {
		return nil, types.NewBridgeError(types.ErrCodePrepareFailed, "bad from address", err)
	}

	var to common.Address
	hasTo := strings.TrimSpace(req.To) != ""
	if hasTo {
		to, err = parseAddress(req.To)
		if err != nil {
			return nil, types.NewBridgeError(types.ErrCodePrepareFailed, "bad to address", err)
		}
	}

	value := big.NewInt(0)
	if req.Value != "" {
		value, err = parseHexBig(req.Value)
		if err != nil {
			return nil, types.NewBridgeError(types.ErrCodePrepareFailed, "bad value", err)
		}
	}

	data, err := parseHexBytes(req.Data)
	if err != nil {
		return nil, types.NewBridgeError(types.ErrCodePrepareFailed, "bad data", err)
	}

	gasPrice, err := s.resolveGasPrice(ctx, req)
	if err != nil {
		return nil, types.NewBridgeError(types.ErrCodePrepareFailed, "gas price estimation failed", err)
	}

	gasLimit, err := s.resolveGasLimit(ctx, req, from, to, value, data)
	if err != nil {
		return nil, types.NewBridgeError(types.ErrCodePrepareFailed, "gas estimation failed", err)
	}

	nonce, err := s.resolveNonce(ctx, req, from)
	if err != nil {
		return nil, types.NewBridgeError(types.ErrCodePrepareFailed, "nonce lookup failed", err)
	}

	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	total := new(big.Int).Add(fee, value)

	if s.balances != nil {
		balance, err := s.balances.Balance(ctx, from)
		if err != nil {
			return nil, types.NewBridgeError(types.ErrCodePrepareFailed, "balance lookup failed", err)
		}
		if balance.Cmp(total) < 0 {
			return nil, types.NewBridgeError(types.ErrCodePrepareFailed,
				fmt.Sprintf("insufficient balance: have %s, need %s", balance, total), nil)
		}
	}

	pending := &types.PendingTransaction{
		RequestID: requestID,
		From:      from.Hex(),
		Value:     value,
		GasLimit:  gasLimit,
		GasPrice:  gasPrice,
		Nonce:     nonce,
		Data:      data,
		Fee:       fee,
		Total:     total,
		SignOnly:  signOnly,
	}
	if hasTo {
		pending.To = to.Hex()
	}
	return pending, nil
}

// ExecuteTransaction is phase two: sign the prepared payload with the
// bound account's key and, unless the request was sign-only, broadcast.
// Returns the transaction hash.
func (s *Service) ExecuteTransaction(ctx context.Context, binding types.WalletBinding, chainID int64, p *types.PendingTransaction) (string, error) {
	key, err := s.keystore.PrivateKey(p.From)
	if err != nil {
		return "", err
	}

	var tx *ethtypes.Transaction
	if p.To != "" {
		to := common.HexToAddress(p.To)
		tx = ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    p.Nonce,
			To:       &to,
			Value:    p.Value,
			Gas:      p.GasLimit,
			GasPrice: p.GasPrice,
			Data:     p.Data,
		})
	} else {
		// Contract creation
		tx = ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    p.Nonce,
			Value:    p.Value,
			Gas:      p.GasLimit,
			GasPrice: p.GasPrice,
			Data:     p.Data,
		})
	}

	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(big.NewInt(chainID)), key)
	if err != nil {
		return "", types.NewBridgeError(types.ErrCodeSignFailed, "transaction signing failed", err)
	}

	if !p.SignOnly && s.broadcaster != nil {
		if err := s.broadcaster.SendTransaction(ctx, signed); err != nil {
			return "", types.NewBridgeError(types.ErrCodeSignFailed, "broadcast failed", err)
		}
	}

	hash := signed.Hash().Hex()
	s.log.WithField("hash", hash).Info("transaction signed")
	return hash, nil
}

// SignHash signs a 32-byte digest with the bound account's key.
func (s *Service) SignHash(binding types.WalletBinding, hash []byte) ([]byte, error) {
	addr, err := DeriveAddress(binding)
	if err != nil {
		return nil, err
	}
	key, err := s.keystore.PrivateKey(addr)
	if err != nil {
		return nil, err
	}
	sig, err := signDigest(hash, key)
	if err != nil {
		return nil, types.NewBridgeError(types.ErrCodeSignFailed, "message signing failed", err)
	}
	return sig, nil
}

// DeriveAddress resolves the binding's on-chain address.
func (s *Service) DeriveAddress(binding types.WalletBinding) (string, error) {
	return DeriveAddress(binding)
}

// Helpers

func parseAddress(a string) (common.Address, error) {
	if !common.IsHexAddress(a) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", a)
	}
	return common.HexToAddress(a), nil
}

func parseHexBig(h string) (*big.Int, error) {
	h = strings.TrimPrefix(h, "0x")
	v, ok := new(big.Int).SetString(h, 16)
	if !ok {
		return nil, fmt.Errorf("%q is not a hex quantity", h)
	}
	return v, nil
}

func parseHexBytes(h string) ([]byte, error) {
	h = strings.TrimPrefix(strings.TrimSpace(h), "0x")
	if h == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("bad hex data: %w", err)
	}
	return b, nil
}

func (s *Service) resolveGasPrice(ctx context.Context, req bridge.TxRequestParams) (*big.Int, error) {
	if req.GasPrice != "" {
		return parseHexBig(req.GasPrice)
	}
	return s.fees.SuggestGasPrice(ctx)
}

func (s *Service) resolveGasLimit(ctx context.Context, req bridge.TxRequestParams, from, to common.Address, value *big.Int, data []byte) (uint64, error) {
	raw := req.Gas
	if raw == "" {
		raw = req.GasLimit
	}
	if raw != "" {
		v, err := parseHexBig(raw)
		if err != nil {
			return 0, err
		}
		return v.Uint64(), nil
	}
	return s.fees.EstimateGas(ctx, from, to, value, data)
}

func (s *Service) resolveNonce(ctx context.Context, req bridge.TxRequestParams, from common.Address) (uint64, error) {
	if req.Nonce != "" {
		v, err := parseHexBig(req.Nonce)
		if err != nil {
			return 0, err
		}
		return v.Uint64(), nil
	}
	return s.fees.PendingNonce(ctx, from)
}
