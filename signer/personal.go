package signer

import (
	"crypto/ecdsa"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// HashPersonalMessage applies the personal_sign envelope before hashing:
// keccak256("\x19Ethereum Signed Message:\n" + len(data) + data).
func HashPersonalMessage(data []byte) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)
	return ethcrypto.Keccak256([]byte(prefixed))
}

// signDigest signs a 32-byte digest and shifts the recovery id into the
// 27/28 form wallets expose over the protocol.
func signDigest(digest []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := ethcrypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}
