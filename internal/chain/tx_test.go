package chain

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/mr-tron/base58"

	"openbook-mm/internal/codec"
)

func testKeypair(t *testing.T) *Keypair {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	kp, err := KeypairFromBytes(priv)
	if err != nil {
		t.Fatalf("KeypairFromBytes: %v", err)
	}
	return kp
}

func testBlockhash() string {
	return base58.Encode(make([]byte, 32))
}

func TestKeypairRoundTrip(t *testing.T) {
	t.Parallel()

	kp := testKeypair(t)
	restored, err := KeypairFromBase58(kp.Secret())
	if err != nil {
		t.Fatalf("KeypairFromBase58: %v", err)
	}
	if restored.Pubkey() != kp.Pubkey() {
		t.Errorf("pubkey mismatch after round trip: %s != %s", restored.Pubkey(), kp.Pubkey())
	}

	msg := []byte("tick")
	if !kp.Verify(msg, restored.Sign(msg)) {
		t.Error("signature from restored keypair does not verify")
	}
}

func TestKeypairFromBytesRejectsBadLength(t *testing.T) {
	t.Parallel()

	if _, err := KeypairFromBytes(make([]byte, 31)); err == nil {
		t.Error("expected error for 31-byte secret")
	}
}

func TestBuildTransactionStructure(t *testing.T) {
	t.Parallel()

	payer := testKeypair(t)
	tip := codec.NewTipInstruction(payer.Pubkey(), base58.Encode(bytes.Repeat([]byte{7}, 32)), 1000)

	tx, err := BuildTransaction([]codec.Instruction{tip}, testBlockhash(), payer)
	if err != nil {
		t.Fatalf("BuildTransaction: %v", err)
	}

	// One signature: shortvec(1) + 64 bytes, then the message.
	if tx[0] != 1 {
		t.Fatalf("signature count = %d, want 1", tx[0])
	}
	sig := tx[1:65]
	msg := tx[65:]
	if !payer.Verify(msg, sig) {
		t.Error("payer signature does not verify against the compiled message")
	}

	// Header: 1 signer, 0 readonly-signed, N readonly-unsigned.
	if msg[0] != 1 {
		t.Errorf("numRequiredSignatures = %d, want 1", msg[0])
	}
	if msg[1] != 0 {
		t.Errorf("numReadonlySigned = %d, want 0", msg[1])
	}
	// Accounts: payer, tip account (writable), system program (readonly).
	if msg[3] != 3 {
		t.Errorf("account count = %d, want 3", msg[3])
	}
	if msg[2] != 1 {
		t.Errorf("numReadonlyUnsigned = %d, want 1 (system program)", msg[2])
	}

	// Payer leads the account list.
	payerRaw, _ := base58.Decode(payer.Pubkey())
	if !bytes.Equal(msg[4:36], payerRaw) {
		t.Error("payer is not the first account key")
	}
}

func TestBuildTransactionTwoSigners(t *testing.T) {
	t.Parallel()

	payer := testKeypair(t)
	second := testKeypair(t)
	tipAcct := base58.Encode(bytes.Repeat([]byte{9}, 32))

	ixs := []codec.Instruction{
		codec.NewTipInstruction(payer.Pubkey(), tipAcct, 500),
		codec.NewTipInstruction(second.Pubkey(), tipAcct, 500),
	}

	tx, err := BuildTransaction(ixs, testBlockhash(), payer, second)
	if err != nil {
		t.Fatalf("BuildTransaction: %v", err)
	}
	if tx[0] != 2 {
		t.Errorf("signature count = %d, want 2", tx[0])
	}

	msg := tx[1+2*64:]
	sigA := tx[1:65]
	sigB := tx[65:129]
	// First signature belongs to the payer, second to the other signer.
	if !payer.Verify(msg, sigA) {
		t.Error("payer signature invalid")
	}
	if !second.Verify(msg, sigB) {
		t.Error("second signer signature invalid")
	}
}

func TestBuildTransactionMissingSigner(t *testing.T) {
	t.Parallel()

	payer := testKeypair(t)
	stranger := testKeypair(t)
	ix := codec.NewTipInstruction(stranger.Pubkey(), base58.Encode(make([]byte, 32)), 1)

	if _, err := BuildTransaction([]codec.Instruction{ix}, testBlockhash(), payer); err == nil {
		t.Error("expected error for signer without a keypair")
	}
}

func TestAppendShortvec(t *testing.T) {
	t.Parallel()

	cases := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0}},
		{1, []byte{1}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xAC, 0x02}},
	}
	for _, tc := range cases {
		got := appendShortvec(nil, tc.n)
		if !bytes.Equal(got, tc.want) {
			t.Errorf("appendShortvec(%d) = %v, want %v", tc.n, got, tc.want)
		}
	}
}

func TestAssociatedTokenAccountDeterministic(t *testing.T) {
	t.Parallel()

	owner := testKeypair(t).Pubkey()
	mint := base58.Encode(bytes.Repeat([]byte{3}, 32))

	a, err := AssociatedTokenAccount(owner, mint)
	if err != nil {
		t.Fatalf("AssociatedTokenAccount: %v", err)
	}
	b, err := AssociatedTokenAccount(owner, mint)
	if err != nil {
		t.Fatalf("AssociatedTokenAccount: %v", err)
	}
	if a != b {
		t.Errorf("derivation not deterministic: %s != %s", a, b)
	}

	// Derived addresses are off-curve by construction.
	raw, _ := base58.Decode(a)
	if isOnCurve(raw) {
		t.Error("derived associated account lies on the curve")
	}
}
