package chain

import (
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/mr-tron/base58"

	"openbook-mm/internal/codec"
)

// Transaction assembly for the legacy wire format: a compact-length array of
// signatures followed by the compiled message (header, account keys, recent
// blockhash, instructions). Account keys are ordered signers-first, writable
// before read-only within each group.

type accountEntry struct {
	pubkey   string
	signer   bool
	writable bool
	order    int // first-seen position, stabilizes the sort
}

// BuildTransaction compiles and signs a single-payer transaction. The fee
// payer must be the first signer; extraSigners covers multi-wallet bundles.
func BuildTransaction(instructions []codec.Instruction, recentBlockhash string, payer *Keypair, extraSigners ...*Keypair) ([]byte, error) {
	if len(instructions) == 0 {
		return nil, fmt.Errorf("build transaction: no instructions")
	}

	signerSet := map[string]*Keypair{payer.Pubkey(): payer}
	for _, kp := range extraSigners {
		signerSet[kp.Pubkey()] = kp
	}

	// Collect unique accounts. The payer always leads.
	entries := map[string]*accountEntry{
		payer.Pubkey(): {pubkey: payer.Pubkey(), signer: true, writable: true, order: -1},
	}
	next := 0
	touch := func(pubkey string, signer, writable bool) {
		e, ok := entries[pubkey]
		if !ok {
			e = &accountEntry{pubkey: pubkey, order: next}
			next++
			entries[pubkey] = e
		}
		e.signer = e.signer || signer
		e.writable = e.writable || writable
	}
	for _, ix := range instructions {
		for _, meta := range ix.Accounts {
			touch(meta.Pubkey, meta.Signer, meta.Writable)
		}
		touch(ix.ProgramID, false, false)
	}

	ordered := make([]*accountEntry, 0, len(entries))
	for _, e := range entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(a, b int) bool {
		ea, eb := ordered[a], ordered[b]
		if ea.signer != eb.signer {
			return ea.signer
		}
		if ea.writable != eb.writable {
			return ea.writable
		}
		return ea.order < eb.order
	})

	index := make(map[string]int, len(ordered))
	for i, e := range ordered {
		index[e.pubkey] = i
	}

	var numSigners, numReadonlySigned, numReadonlyUnsigned int
	for _, e := range ordered {
		if e.signer {
			numSigners++
			if !e.writable {
				numReadonlySigned++
			}
		} else if !e.writable {
			numReadonlyUnsigned++
		}
	}

	for _, e := range ordered {
		if e.signer {
			if _, ok := signerSet[e.pubkey]; !ok {
				return nil, fmt.Errorf("build transaction: no keypair for signer %s", e.pubkey)
			}
		}
	}

	blockhash, err := base58.Decode(recentBlockhash)
	if err != nil {
		return nil, fmt.Errorf("decode blockhash: %w", err)
	}
	if len(blockhash) != 32 {
		return nil, fmt.Errorf("blockhash must be 32 bytes, got %d", len(blockhash))
	}

	// Compile the message.
	msg := []byte{byte(numSigners), byte(numReadonlySigned), byte(numReadonlyUnsigned)}
	msg = appendShortvec(msg, len(ordered))
	for _, e := range ordered {
		raw, err := base58.Decode(e.pubkey)
		if err != nil {
			return nil, fmt.Errorf("decode account %s: %w", e.pubkey, err)
		}
		if len(raw) != 32 {
			return nil, fmt.Errorf("account %s: want 32 bytes, got %d", e.pubkey, len(raw))
		}
		msg = append(msg, raw...)
	}
	msg = append(msg, blockhash...)
	msg = appendShortvec(msg, len(instructions))
	for _, ix := range instructions {
		msg = append(msg, byte(index[ix.ProgramID]))
		msg = appendShortvec(msg, len(ix.Accounts))
		for _, meta := range ix.Accounts {
			msg = append(msg, byte(index[meta.Pubkey]))
		}
		msg = appendShortvec(msg, len(ix.Data))
		msg = append(msg, ix.Data...)
	}

	// Sign in account order.
	tx := appendShortvec(nil, numSigners)
	for _, e := range ordered[:numSigners] {
		tx = append(tx, signerSet[e.pubkey].Sign(msg)...)
	}
	tx = append(tx, msg...)
	return tx, nil
}

// EncodeBase64 renders a serialized transaction for the bundle relay.
func EncodeBase64(tx []byte) string {
	return base64.StdEncoding.EncodeToString(tx)
}

// appendShortvec writes a compact-u16 length prefix.
func appendShortvec(b []byte, n int) []byte {
	for {
		if n < 0x80 {
			return append(b, byte(n))
		}
		b = append(b, byte(n&0x7F)|0x80)
		n >>= 7
	}
}
