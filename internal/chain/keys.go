// Package chain implements the RPC client, signing keys, and transaction
// assembly for the on-chain order-book venue.
package chain

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known program addresses.
const (
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

// Keypair is an ed25519 signing key with its base58 public key cached.
type Keypair struct {
	priv   ed25519.PrivateKey
	pubkey string
}

// KeypairFromBytes builds a keypair from a 64-byte expanded secret
// (seed || public key) or a 32-byte seed.
func KeypairFromBytes(b []byte) (*Keypair, error) {
	var priv ed25519.PrivateKey
	switch len(b) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(b)
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(b)
	default:
		return nil, fmt.Errorf("keypair bytes: want %d or %d bytes, got %d",
			ed25519.PrivateKeySize, ed25519.SeedSize, len(b))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Keypair{priv: priv, pubkey: base58.Encode(pub)}, nil
}

// KeypairFromBase58 decodes a base58-encoded secret.
func KeypairFromBase58(secret string) (*Keypair, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("decode base58 secret: %w", err)
	}
	return KeypairFromBytes(raw)
}

// KeypairFromFile reads an on-disk keystore: a JSON array of bytes.
func KeypairFromFile(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore %s: %w", path, err)
	}
	var bytes []byte
	if err := json.Unmarshal(raw, &bytes); err != nil {
		return nil, fmt.Errorf("parse keystore %s: %w", path, err)
	}
	return KeypairFromBytes(bytes)
}

// Pubkey returns the base58 public key.
func (k *Keypair) Pubkey() string { return k.pubkey }

// Secret returns the base58-encoded expanded secret, used for persistence.
func (k *Keypair) Secret() string { return base58.Encode(k.priv) }

// Sign signs a compiled message.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.priv, message)
}

// Verify checks a signature against this keypair's public key.
func (k *Keypair) Verify(message, sig []byte) bool {
	return ed25519.Verify(k.priv.Public().(ed25519.PublicKey), message, sig)
}

// AssociatedTokenAccount derives the canonical token account for
// (owner, mint): the first off-curve address of
// hash(owner, token program, mint, bump, ATA program, "ProgramDerivedAddress")
// walking bump down from 255.
func AssociatedTokenAccount(owner, mint string) (string, error) {
	ownerRaw, err := base58.Decode(owner)
	if err != nil {
		return "", fmt.Errorf("decode owner: %w", err)
	}
	mintRaw, err := base58.Decode(mint)
	if err != nil {
		return "", fmt.Errorf("decode mint: %w", err)
	}
	tokenRaw, err := base58.Decode(TokenProgramID)
	if err != nil {
		return "", err
	}
	ataRaw, err := base58.Decode(AssociatedTokenProgramID)
	if err != nil {
		return "", err
	}

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		h.Write(ownerRaw)
		h.Write(tokenRaw)
		h.Write(mintRaw)
		h.Write([]byte{byte(bump)})
		h.Write(ataRaw)
		h.Write([]byte("ProgramDerivedAddress"))
		candidate := h.Sum(nil)

		if !isOnCurve(candidate) {
			return base58.Encode(candidate), nil
		}
	}
	return "", fmt.Errorf("no off-curve associated account for %s/%s", owner, mint)
}

// isOnCurve reports whether 32 bytes decode to a valid curve point. Derived
// program addresses must NOT be valid points, so they can never sign.
func isOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
