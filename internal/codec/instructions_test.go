package codec

import (
	"bytes"
	"encoding/binary"
	"testing"
)

const testProgram = "opnb2LAfJYbRMAHHvqjCwQxanZn7ReEHp1k81EohpZb"

func TestPlaceOrderInstructionEncoding(t *testing.T) {
	t.Parallel()

	ix := NewPlaceOrderInstruction(testProgram, PlaceOrderAccounts{
		Market: "m", OpenOrders: "oo", Bids: "b", Asks: "a",
		EventQueue: "eq", BaseVault: "bv", QuoteVault: "qv",
		Owner: "owner", UserTokenAccount: "uta",
	}, PlaceOrderArgs{
		Side:          1,
		PriceLots:     150_000,
		MaxBaseLots:   2000,
		MaxQuoteLots:  300_000_000,
		ClientOrderID: 42,
	})

	if !bytes.Equal(ix.Data[0:8], placeOrderDiscriminator[:]) {
		t.Error("missing place-order discriminator")
	}
	if ix.Data[8] != 1 {
		t.Errorf("side byte = %d, want 1", ix.Data[8])
	}
	if got := binary.LittleEndian.Uint64(ix.Data[9:17]); got != 150_000 {
		t.Errorf("price lots = %d, want 150000", got)
	}
	if got := binary.LittleEndian.Uint64(ix.Data[33:41]); got != 42 {
		t.Errorf("client order id = %d, want 42", got)
	}
	if ix.Data[41] != 0 {
		t.Errorf("order-type tag = %d, want 0 (limit)", ix.Data[41])
	}
	if len(ix.Data) != 42 {
		t.Errorf("data length = %d, want 42", len(ix.Data))
	}

	// Owner signs, the program accounts do not.
	if !ix.Accounts[0].Signer || ix.Accounts[0].Pubkey != "owner" {
		t.Error("owner must be the first, signing account")
	}
	for _, meta := range ix.Accounts[1:] {
		if meta.Signer {
			t.Errorf("unexpected signer: %s", meta.Pubkey)
		}
	}
}

func TestCancelAllInstructionEncoding(t *testing.T) {
	t.Parallel()

	ix := NewCancelAllInstruction(testProgram, CancelOrderAccounts{
		Market: "m", Bids: "b", Asks: "a", OpenOrders: "oo", Owner: "owner", EventQueue: "eq",
	}, 0, 255)

	if got := binary.LittleEndian.Uint32(ix.Data[0:4]); got != legacyCancelAllTag {
		t.Errorf("tag = %d, want %d", got, legacyCancelAllTag)
	}
	if ix.Data[4] != 0 {
		t.Errorf("side = %d, want 0", ix.Data[4])
	}
	if got := binary.LittleEndian.Uint16(ix.Data[5:7]); got != 255 {
		t.Errorf("limit = %d, want 255", got)
	}
}

func TestCancelOrderInstructionEncoding(t *testing.T) {
	t.Parallel()

	id := NewOrderID(7, 150_000)
	ix := NewCancelOrderInstruction(testProgram, CancelOrderAccounts{Owner: "owner"}, 1, id)

	if got := binary.LittleEndian.Uint32(ix.Data[0:4]); got != legacyCancelOrderTag {
		t.Errorf("tag = %d, want %d", got, legacyCancelOrderTag)
	}
	if got := binary.LittleEndian.Uint64(ix.Data[5:13]); got != 7 {
		t.Errorf("order id low = %d, want 7", got)
	}
	if got := binary.LittleEndian.Uint64(ix.Data[13:21]); got != 150_000 {
		t.Errorf("order id high = %d, want 150000", got)
	}
}

func TestTipInstruction(t *testing.T) {
	t.Parallel()

	ix := NewTipInstruction("payer", "tipAcct", 5_000_000)
	if ix.ProgramID != SystemProgramID {
		t.Errorf("program = %s, want system program", ix.ProgramID)
	}
	if got := binary.LittleEndian.Uint32(ix.Data[0:4]); got != 2 {
		t.Errorf("system instruction tag = %d, want 2 (transfer)", got)
	}
	if got := binary.LittleEndian.Uint64(ix.Data[4:12]); got != 5_000_000 {
		t.Errorf("lamports = %d, want 5000000", got)
	}
	if !ix.Accounts[0].Signer || !ix.Accounts[0].Writable {
		t.Error("payer must sign and be writable")
	}
}

func TestCloseOpenOrdersInstruction(t *testing.T) {
	t.Parallel()

	ix := NewCloseOpenOrdersInstruction(testProgram, "oo", "owner", "dest", "mkt")
	if got := binary.LittleEndian.Uint32(ix.Data[0:4]); got != legacyCloseOpenOrdersTag {
		t.Errorf("tag = %d, want %d", got, legacyCloseOpenOrdersTag)
	}
	if len(ix.Accounts) != 4 {
		t.Fatalf("accounts = %d, want 4", len(ix.Accounts))
	}
	if !ix.Accounts[1].Signer {
		t.Error("owner must sign the close")
	}
}
