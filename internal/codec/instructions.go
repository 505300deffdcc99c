package codec

import (
	"encoding/binary"
)

// SystemProgramID is the native transfer program.
const SystemProgramID = "11111111111111111111111111111111"

// RentSysvarID is the rent sysvar account referenced by place instructions.
const RentSysvarID = "SysvarRent111111111111111111111111111111111"

// placeOrderDiscriminator is the Anchor discriminator for the current-dialect
// place-order instruction.
var placeOrderDiscriminator = [8]byte{142, 60, 48, 126, 114, 252, 19, 137}

// Legacy instruction tags (4-byte little-endian).
const (
	legacyCancelAllTag       = 7
	legacyCancelOrderTag     = 11
	legacyCloseOpenOrdersTag = 14
)

// AccountMeta names one account an instruction touches.
type AccountMeta struct {
	Pubkey   string
	Signer   bool
	Writable bool
}

// Instruction is a single program invocation before transaction compilation.
type Instruction struct {
	ProgramID string
	Accounts  []AccountMeta
	Data      []byte
}

// PlaceOrderArgs are the lot-denominated arguments for a resting order.
type PlaceOrderArgs struct {
	Side          uint8
	PriceLots     int64
	MaxBaseLots   int64
	MaxQuoteLots  int64
	ClientOrderID uint64
}

// PlaceOrderAccounts collects the accounts a place instruction touches.
type PlaceOrderAccounts struct {
	Market           string
	OpenOrders       string
	Bids             string
	Asks             string
	EventQueue       string
	BaseVault        string
	QuoteVault       string
	Owner            string
	UserTokenAccount string
}

// NewPlaceOrderInstruction encodes a current-dialect place-order instruction:
// 8-byte discriminator, side, price/base/quote lots, client order id, and the
// order-type tag (0 = limit).
func NewPlaceOrderInstruction(programID string, accts PlaceOrderAccounts, args PlaceOrderArgs) Instruction {
	data := make([]byte, 0, 8+1+8+8+8+8+1)
	data = append(data, placeOrderDiscriminator[:]...)
	data = append(data, args.Side)
	data = binary.LittleEndian.AppendUint64(data, uint64(args.PriceLots))
	data = binary.LittleEndian.AppendUint64(data, uint64(args.MaxBaseLots))
	data = binary.LittleEndian.AppendUint64(data, uint64(args.MaxQuoteLots))
	data = binary.LittleEndian.AppendUint64(data, args.ClientOrderID)
	data = append(data, 0)

	return Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			{Pubkey: accts.Owner, Signer: true, Writable: true},
			{Pubkey: accts.OpenOrders, Writable: true},
			{Pubkey: accts.Market, Writable: true},
			{Pubkey: accts.Bids, Writable: true},
			{Pubkey: accts.Asks, Writable: true},
			{Pubkey: accts.EventQueue, Writable: true},
			{Pubkey: accts.BaseVault, Writable: true},
			{Pubkey: accts.QuoteVault, Writable: true},
			{Pubkey: accts.UserTokenAccount, Writable: true},
			{Pubkey: SystemProgramID},
			{Pubkey: RentSysvarID},
		},
		Data: data,
	}
}

// CancelOrderAccounts collects the accounts cancel instructions touch.
type CancelOrderAccounts struct {
	Market     string
	Bids       string
	Asks       string
	OpenOrders string
	Owner      string
	EventQueue string
}

// NewCancelOrderInstruction encodes a cancel for one resting order by id.
func NewCancelOrderInstruction(programID string, accts CancelOrderAccounts, side uint8, orderID U128) Instruction {
	data := make([]byte, 0, 4+1+16)
	data = binary.LittleEndian.AppendUint32(data, legacyCancelOrderTag)
	data = append(data, side)
	data = binary.LittleEndian.AppendUint64(data, orderID.Lo)
	data = binary.LittleEndian.AppendUint64(data, orderID.Hi)

	return Instruction{
		ProgramID: programID,
		Accounts:  cancelAccounts(accts),
		Data:      data,
	}
}

// NewOrderID builds a 128-bit order id from its low and high words.
func NewOrderID(lo, hi uint64) U128 { return U128{Lo: lo, Hi: hi} }

// NewCancelAllInstruction encodes a cancel of up to limit resting orders on
// one side.
func NewCancelAllInstruction(programID string, accts CancelOrderAccounts, side uint8, limit uint16) Instruction {
	data := make([]byte, 0, 4+1+2)
	data = binary.LittleEndian.AppendUint32(data, legacyCancelAllTag)
	data = append(data, side)
	data = binary.LittleEndian.AppendUint16(data, limit)

	return Instruction{
		ProgramID: programID,
		Accounts:  cancelAccounts(accts),
		Data:      data,
	}
}

func cancelAccounts(accts CancelOrderAccounts) []AccountMeta {
	return []AccountMeta{
		{Pubkey: accts.Market, Writable: true},
		{Pubkey: accts.Bids, Writable: true},
		{Pubkey: accts.Asks, Writable: true},
		{Pubkey: accts.OpenOrders, Writable: true},
		{Pubkey: accts.Owner, Signer: true},
		{Pubkey: accts.EventQueue, Writable: true},
	}
}

// NewCloseOpenOrdersInstruction closes an empty order-state account; the rent
// deposit is credited to destination.
func NewCloseOpenOrdersInstruction(programID, openOrders, owner, destination, market string) Instruction {
	data := make([]byte, 0, 4)
	data = binary.LittleEndian.AppendUint32(data, legacyCloseOpenOrdersTag)

	return Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			{Pubkey: openOrders, Writable: true},
			{Pubkey: owner, Signer: true},
			{Pubkey: destination, Writable: true},
			{Pubkey: market},
		},
		Data: data,
	}
}

// NewTipInstruction builds the native transfer that pays the builder tip.
func NewTipInstruction(from, tipAccount string, lamports uint64) Instruction {
	data := make([]byte, 0, 4+8)
	data = binary.LittleEndian.AppendUint32(data, 2) // system transfer
	data = binary.LittleEndian.AppendUint64(data, lamports)

	return Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{Pubkey: from, Signer: true, Writable: true},
			{Pubkey: tipAccount, Writable: true},
		},
		Data: data,
	}
}
