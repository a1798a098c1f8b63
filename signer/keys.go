// Package signer implements the wallet's two-phase signing service:
// prepare produces a reviewable payload without touching key material,
// execute produces the signature. Key material lives in a JSON key file
// loaded once at startup.
package signer

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/peerwallet-project/walletbridge/types"
)

// fileKey is one entry of the wallet key file.
type fileKey struct {
	Name           string `json:"name,omitempty"`
	Address        string `json:"address"`
	PublicKey      string `json:"publicKey"`            // uncompressed hex (0x04... 65B)
	PrivateKey     string `json:"privateKey,omitempty"` // 32B hex
	DerivationPath string `json:"derivationPath,omitempty"`
	Type           string `json:"type,omitempty"` // "secp256k1" expected
}

// Some tools save []fileKey at top-level; some save {"accounts":[...]}.
type fileEnvelope struct {
	Accounts []fileKey `json:"accounts"`
}

// Keystore holds the wallet's signing keys indexed by lowercase address.
type Keystore struct {
	byAddress map[string]*ecdsa.PrivateKey
}

// LoadKeystore reads the key file and indexes every usable key.
func LoadKeystore(path string) (*Keystore, error) {
	keys, err := readKeysFile(path)
	if err != nil {
		return nil, err
	}

	idx := make(map[string]*ecdsa.PrivateKey)
	for _, k := range keys {
		if strings.TrimSpace(k.PrivateKey) == "" {
			continue
		}
		priv, err := parsePrivateKey(k.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k.Name, err)
		}
		addr := k.Address
		if strings.TrimSpace(addr) == "" {
			addr = ethcrypto.PubkeyToAddress(priv.PublicKey).Hex()
		}
		idx[strings.ToLower(addr)] = priv
	}

	return &Keystore{byAddress: idx}, nil
}

// NewKeystore wraps pre-parsed keys; used by tests and key generation.
func NewKeystore(keys map[string]*ecdsa.PrivateKey) *Keystore {
	idx := make(map[string]*ecdsa.PrivateKey, len(keys))
	for addr, k := range keys {
		idx[strings.ToLower(addr)] = k
	}
	return &Keystore{byAddress: idx}
}

// PrivateKey returns the signing key for an address.
func (ks *Keystore) PrivateKey(address string) (*ecdsa.PrivateKey, error) {
	key, ok := ks.byAddress[strings.ToLower(address)]
	if !ok {
		return nil, types.NewBridgeError(types.ErrCodeNoKeyMaterial,
			fmt.Sprintf("no signing key for %s", address), nil)
	}
	return key, nil
}

// GenerateKey produces a fresh secp256k1 key pair.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return priv.ToECDSA(), nil
}

// parsePrivateKey decodes a 32-byte hex private key.
func parsePrivateKey(h string) (*ecdsa.PrivateKey, error) {
	h = strings.TrimPrefix(strings.TrimSpace(h), "0x")
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("private key hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("unexpected private key length: %d", len(b))
	}
	priv := secp256k1.PrivKeyFromBytes(b)
	return priv.ToECDSA(), nil
}

func readKeysFile(path string) ([]fileKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}
	var env fileEnvelope
	if err := json.Unmarshal(b, &env); err == nil && len(env.Accounts) > 0 {
		return env.Accounts, nil
	}
	var arr []fileKey
	if err := json.Unmarshal(b, &arr); err != nil {
		return nil, fmt.Errorf("parse keys: %w", err)
	}
	return arr, nil
}

// DeriveAddress resolves the on-chain address for a wallet binding, from
// the bound address when present, otherwise from its public key material.
func DeriveAddress(binding types.WalletBinding) (string, error) {
	if strings.TrimSpace(binding.Address) != "" {
		if !common.IsHexAddress(binding.Address) {
			return "", types.NewBridgeError(types.ErrCodeNoKeyMaterial,
				fmt.Sprintf("bound address %q is not a hex address", binding.Address), nil)
		}
		return common.HexToAddress(binding.Address).Hex(), nil
	}

	if strings.TrimSpace(binding.PublicKey) == "" {
		return "", types.NewBridgeError(types.ErrCodeNoKeyMaterial,
			"binding has neither address nor public key", nil)
	}

	raw, err := hexToUncompressed(binding.PublicKey)
	if err != nil {
		return "", types.NewBridgeError(types.ErrCodeNoKeyMaterial, "bad public key", err)
	}
	pub, err := ethcrypto.UnmarshalPubkey(raw)
	if err != nil {
		return "", types.NewBridgeError(types.ErrCodeNoKeyMaterial, "unmarshal pubkey", err)
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}

// hexToUncompressed normalizes a hex pubkey into 65B uncompressed (0x04||X||Y).
func hexToUncompressed(h string) ([]byte, error) {
	h = strings.TrimSpace(h)
	h = strings.TrimPrefix(h, "0x")
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("pubkey hex: %w", err)
	}
	switch len(b) {
	case 65: // 0x04||X||Y
		if b[0] != 0x04 {
			return nil, fmt.Errorf("unexpected 65B pubkey without 0x04 prefix")
		}
		return b, nil
	case 64: // X||Y
		return append([]byte{0x04}, b...), nil
	case 33: // compressed
		pub, err := ethcrypto.DecompressPubkey(b)
		if err != nil {
			return nil, err
		}
		return ethcrypto.FromECDSAPub(pub), nil
	default:
		return nil, fmt.Errorf("unexpected pubkey length: %d", len(b))
	}
}
