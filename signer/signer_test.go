package signer

import (
	"context"
	"crypto/ecdsa"
	"io"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/peerwallet-project/walletbridge/bridge"
	"github.com/peerwallet-project/walletbridge/logger"
	"github.com/peerwallet-project/walletbridge/types"
)

func testKeystore(t *testing.T) (*Keystore, string, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	addr := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	return NewKeystore(map[string]*ecdsa.PrivateKey{addr: key}), addr, key
}

func quietLogger() *logger.Logger {
	l := logger.New("test")
	l.SetOutput(io.Discard)
	return l
}

// fixedBalance is a BalanceSource with one canned answer.
type fixedBalance struct{ amount *big.Int }

func (f fixedBalance) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.amount), nil
}

func TestPrepareTransactionFillsFees(t *testing.T) {
	ks, addr, _ := testKeystore(t)
	svc := NewService(ks, &StaticFeeSource{Nonce: 7}, nil, nil, quietLogger())

	req := bridge.TxRequestParams{
		From:  addr,
		To:    "0x2222222222222222222222222222222222222222",
		Value: "0xde0b6b3a7640000", // 1 ether
	}
	p, err := svc.PrepareTransaction(context.Background(), types.WalletBinding{Address: addr}, 42, req, false)
	if err != nil {
		t.Fatalf("PrepareTransaction failed: %v", err)
	}

	if p.RequestID != 42 {
		t.Fatalf("Expected request id 42, got %d", p.RequestID)
	}
	if p.GasLimit != 21000 {
		t.Fatalf("Expected default gas limit 21000, got %d", p.GasLimit)
	}
	if p.GasPrice.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("Expected default gas price 1 gwei, got %s", p.GasPrice)
	}
	if p.Nonce != 7 {
		t.Fatalf("Expected nonce 7, got %d", p.Nonce)
	}

	wantFee := new(big.Int).Mul(p.GasPrice, big.NewInt(21000))
	if p.Fee.Cmp(wantFee) != 0 {
		t.Fatalf("Expected fee %s, got %s", wantFee, p.Fee)
	}
	wantTotal := new(big.Int).Add(wantFee, p.Value)
	if p.Total.Cmp(wantTotal) != 0 {
		t.Fatalf("Expected total %s, got %s", wantTotal, p.Total)
	}
}

func TestPrepareTransactionHonorsExplicitFields(t *testing.T) {
	ks, addr, _ := testKeystore(t)
	svc := NewService(ks, &StaticFeeSource{}, nil, nil, quietLogger())

	req := bridge.TxRequestParams{
		From:     addr,
		To:       "0x2222222222222222222222222222222222222222",
		Gas:      "0x7530",     // 30000
		GasPrice: "0x3b9aca00", // 1 gwei
		Nonce:    "0xa",
	}
	p, err := svc.PrepareTransaction(context.Background(), types.WalletBinding{Address: addr}, 1, req, true)
	if err != nil {
		t.Fatalf("PrepareTransaction failed: %v", err)
	}
	if p.GasLimit != 30000 {
		t.Fatalf("Expected gas limit 30000, got %d", p.GasLimit)
	}
	if p.Nonce != 10 {
		t.Fatalf("Expected nonce 10, got %d", p.Nonce)
	}
	if !p.SignOnly {
		t.Fatal("Expected sign-only payload")
	}
}

func TestPrepareTransactionBadAddress(t *testing.T) {
	ks, _, _ := testKeystore(t)
	svc := NewService(ks, &StaticFeeSource{}, nil, nil, quietLogger())

	_, err := svc.PrepareTransaction(context.Background(), types.WalletBinding{}, 1,
		bridge.TxRequestParams{From: "not-an-address"}, false)
	if !types.IsCode(err, types.ErrCodePrepareFailed) {
		t.Fatalf("Expected PREPARE_FAILED, got %v", err)
	}
}

func TestPrepareTransactionInsufficientBalance(t *testing.T) {
	ks, addr, _ := testKeystore(t)
	svc := NewService(ks, &StaticFeeSource{}, fixedBalance{big.NewInt(100)}, nil, quietLogger())

	req := bridge.TxRequestParams{
		From:  addr,
		To:    "0x2222222222222222222222222222222222222222",
		Value: "0xde0b6b3a7640000",
	}
	_, err := svc.PrepareTransaction(context.Background(), types.WalletBinding{Address: addr}, 1, req, false)
	if !types.IsCode(err, types.ErrCodePrepareFailed) {
		t.Fatalf("Expected PREPARE_FAILED for insufficient balance, got %v", err)
	}
}

func TestExecuteTransactionSigns(t *testing.T) {
	ks, addr, _ := testKeystore(t)
	svc := NewService(ks, &StaticFeeSource{}, nil, nil, quietLogger())

	p := &types.PendingTransaction{
		RequestID: 1,
		From:      addr,
		To:        "0x2222222222222222222222222222222222222222",
		Value:     big.NewInt(1),
		GasLimit:  21000,
		GasPrice:  big.NewInt(1_000_000_000),
		Nonce:     0,
	}
	hash, err := svc.ExecuteTransaction(context.Background(), types.WalletBinding{Address: addr}, 1, p)
	if err != nil {
		t.Fatalf("ExecuteTransaction failed: %v", err)
	}
	if len(hash) != 66 || hash[:2] != "0x" {
		t.Fatalf("Expected a 0x-prefixed 32-byte hash, got %q", hash)
	}
}

func TestExecuteTransactionUnknownAccount(t *testing.T) {
	ks, _, _ := testKeystore(t)
	svc := NewService(ks, &StaticFeeSource{}, nil, nil, quietLogger())

	p := &types.PendingTransaction{
		From:     "0x9999999999999999999999999999999999999999",
		Value:    big.NewInt(0),
		GasLimit: 21000,
		GasPrice: big.NewInt(1),
	}
	_, err := svc.ExecuteTransaction(context.Background(), types.WalletBinding{}, 1, p)
	if !types.IsCode(err, types.ErrCodeNoKeyMaterial) {
		t.Fatalf("Expected NO_KEY_MATERIAL, got %v", err)
	}
}

func TestSignHashRecoverable(t *testing.T) {
	ks, addr, key := testKeystore(t)
	svc := NewService(ks, &StaticFeeSource{}, nil, nil, quietLogger())

	digest := HashPersonalMessage([]byte("hello world"))
	sig, err := svc.SignHash(types.WalletBinding{Address: addr}, digest)
	if err != nil {
		t.Fatalf("SignHash failed: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("Expected 65-byte signature, got %d", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("Expected recovery id 27 or 28, got %d", sig[64])
	}

	// Undo the 27 shift and recover the signer.
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, raw)
	if err != nil {
		t.Fatalf("SigToPub failed: %v", err)
	}
	if got := ethcrypto.PubkeyToAddress(*pub); got != ethcrypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("Expected recovered address %s, got %s", ethcrypto.PubkeyToAddress(key.PublicKey), got)
	}
}

func TestHashPersonalMessage(t *testing.T) {
	// Known vector: keccak256("\x19Ethereum Signed Message:\n5hello")
	got := HashPersonalMessage([]byte("hello"))
	want := ethcrypto.Keccak256([]byte("\x19Ethereum Signed Message:\n5hello"))
	if string(got) != string(want) {
		t.Fatalf("Expected %x, got %x", want, got)
	}
}

func TestDeriveAddressFromPublicKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	want := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	uncompressed := ethcrypto.FromECDSAPub(&key.PublicKey)

	cases := []struct {
		name string
		pub  []byte
	}{
		{"uncompressed 65B", uncompressed},
		{"bare 64B", uncompressed[1:]},
		{"compressed 33B", ethcrypto.CompressPubkey(&key.PublicKey)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := types.WalletBinding{PublicKey: "0x" + common.Bytes2Hex(tc.pub)}
			got, err := DeriveAddress(b)
			if err != nil {
				t.Fatalf("DeriveAddress failed: %v", err)
			}
			if got != want {
				t.Fatalf("Expected %s, got %s", want, got)
			}
		})
	}
}

func TestDeriveAddressPrefersBoundAddress(t *testing.T) {
	b := types.WalletBinding{
		Address:   "0x1111111111111111111111111111111111111111",
		PublicKey: "0xdeadbeef",
	}
	got, err := DeriveAddress(b)
	if err != nil {
		t.Fatalf("DeriveAddress failed: %v", err)
	}
	if got != common.HexToAddress(b.Address).Hex() {
		t.Fatalf("Expected bound address, got %s", got)
	}
}

func TestDeriveAddressEmptyBinding(t *testing.T) {
	_, err := DeriveAddress(types.WalletBinding{})
	if !types.IsCode(err, types.ErrCodeNoKeyMaterial) {
		t.Fatalf("Expected NO_KEY_MATERIAL, got %v", err)
	}
}
