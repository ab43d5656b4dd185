// Package geyser provides a client for consuming Solana Geyser data via gRPC.
//
// This package implements a Yellowstone/Dragon's Mouth compatible gRPC client
// that subscribes to account, transaction and slot updates, keeps the duplex
// stream alive with periodic pings, and hands every inbound update to a
// Handler.
//
// A Session drives the whole lifecycle:
//   - Dial opens the authenticated Subscribe stream
//   - the subscription request is sent exactly once
//   - a Heartbeat pings the server on a fixed period
//   - a Dispatcher routes every inbound frame until the stream ends
package geyser

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// CommitmentLevel represents the confirmation status for subscriptions.
// This mirrors the Solana/Yellowstone gRPC commitment levels.
type CommitmentLevel int32

const (
	// CommitmentProcessed indicates data is processed by the node but may rollback.
	// This is the fastest but least reliable commitment level.
	CommitmentProcessed CommitmentLevel = 0

	// CommitmentConfirmed indicates data has received 2/3+ stake votes.
	CommitmentConfirmed CommitmentLevel = 1

	// CommitmentFinalized indicates data is permanent and irreversible.
	// Has additional latency compared to confirmed.
	CommitmentFinalized CommitmentLevel = 2
)

// String returns the string representation of the commitment level.
func (c CommitmentLevel) String() string {
	switch c {
	case CommitmentProcessed:
		return "processed"
	case CommitmentConfirmed:
		return "confirmed"
	case CommitmentFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// ParseCommitment parses a commitment level name (case-insensitive).
func ParseCommitment(s string) (CommitmentLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "processed":
		return CommitmentProcessed, nil
	case "confirmed":
		return CommitmentConfirmed, nil
	case "finalized":
		return CommitmentFinalized, nil
	default:
		return 0, fmt.Errorf("%w: unknown commitment level %q", ErrInvalidConfig, s)
	}
}

// SlotStatus represents the status of a slot in the cluster.
type SlotStatus int32

const (
	SlotStatusProcessed          SlotStatus = 0
	SlotStatusConfirmed          SlotStatus = 1
	SlotStatusFinalized          SlotStatus = 2
	SlotStatusFirstShredReceived SlotStatus = 3
	SlotStatusCompleted          SlotStatus = 4
	SlotStatusCreatedBank        SlotStatus = 5
	SlotStatusDead               SlotStatus = 6
)

// String returns the string representation of the slot status.
func (s SlotStatus) String() string {
	switch s {
	case SlotStatusProcessed:
		return "processed"
	case SlotStatusConfirmed:
		return "confirmed"
	case SlotStatusFinalized:
		return "finalized"
	case SlotStatusFirstShredReceived:
		return "first_shred_received"
	case SlotStatusCompleted:
		return "completed"
	case SlotStatusCreatedBank:
		return "created_bank"
	case SlotStatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// AccountFilter selects account updates. Empty Account and Owner lists
// leave the filter unconstrained, so it matches every account.
type AccountFilter struct {
	// Account filters to specific account addresses (base58).
	Account []string

	// Owner filters to accounts owned by these programs (base58).
	Owner []string
}

// TransactionFilter selects transaction updates. A nil field leaves that
// axis unconstrained.
type TransactionFilter struct {
	// Vote set to false excludes vote transactions.
	Vote *bool

	// Failed set to false excludes failed transactions.
	Failed *bool
}

// SlotFilter enables slot updates. It carries no parameters; its presence
// in a request is the whole signal.
type SlotFilter struct{}

// Ping is a client keepalive ping.
type Ping struct {
	// ID is the Unix time in seconds when the ping was built. It is only
	// echoed back for display, never used for correlation.
	ID uint64
}

// SubscribeRequest is the outbound control message for the Subscribe stream.
//
// The subscription sections are independent: a nil section is absent from
// the wire, which the server reads as "no filter of this kind". A ping is a
// SubscribeRequest carrying only Ping.
type SubscribeRequest struct {
	Accounts     []AccountFilter
	Transactions []TransactionFilter
	Slots        *SlotFilter
	Commitment   *CommitmentLevel

	Ping *Ping
}

// IsPing reports whether the request is a bare keepalive ping.
func (r *SubscribeRequest) IsPing() bool {
	return r.Ping != nil && r.Accounts == nil && r.Transactions == nil &&
		r.Slots == nil && r.Commitment == nil
}

// AccountUpdate represents an account write observed by the server.
type AccountUpdate struct {
	// Pubkey is the account address.
	Pubkey string

	// Owner is the program that owns the account.
	Owner string

	// Slot is the slot where this update occurred.
	Slot uint64

	// Lamports is the account balance.
	Lamports uint64

	// Executable indicates if the account contains executable code.
	Executable bool

	// RentEpoch is the epoch at which rent is due.
	RentEpoch uint64

	// Data is the raw account data.
	Data []byte

	// WriteVersion is a monotonic version for ordering updates.
	WriteVersion uint64

	// TxnSignature is the transaction that caused this update, if known.
	TxnSignature string

	// IsStartup marks updates replayed from the validator's startup snapshot.
	IsStartup bool
}

// DataDigest returns a short hex fingerprint of the account data so
// consecutive log lines show whether the contents actually changed.
func (a AccountUpdate) DataDigest() string {
	sum := blake3.Sum256(a.Data)
	return hex.EncodeToString(sum[:8])
}

// TransactionUpdate represents a transaction observed by the server.
type TransactionUpdate struct {
	// Signature is the primary signature (transaction ID).
	Signature string

	// Slot is the slot containing the transaction.
	Slot uint64

	// Success is false when the transaction status carries an error.
	Success bool

	// Fee is the transaction fee in lamports.
	Fee uint64

	// IsVote indicates if this is a vote transaction.
	IsVote bool

	// Index is the position of this transaction in the block.
	Index uint64

	// Err is the serialized transaction error, nil on success.
	Err []byte
}

// SlotUpdate represents a slot status update.
type SlotUpdate struct {
	Slot uint64

	// ParentSlot is nil when the server did not report a parent.
	ParentSlot *uint64

	Status SlotStatus

	// DeadError explains a dead slot.
	DeadError string
}

// Pong is the server's reply to a Ping.
type Pong struct {
	ID uint64
}

// Frame is one inbound message from the Subscribe stream.
//
// Its groups are independent optional fields rather than a tagged union:
// a frame may populate any number of them, and every group may batch
// several updates. Consumers must look at each group.
type Frame struct {
	// Filters contains the filter names that matched this update.
	Filters []string

	// CreatedAt is when the server created the update, zero if unset.
	CreatedAt time.Time

	Accounts     []AccountUpdate
	Transactions []TransactionUpdate
	Slots        []SlotUpdate
	Pong         *Pong

	// ServerPing is set when the server sent its own keepalive ping.
	ServerPing bool
}

// IsEmpty reports whether the frame carries no observable group.
func (f *Frame) IsEmpty() bool {
	return len(f.Accounts) == 0 && len(f.Transactions) == 0 &&
		len(f.Slots) == 0 && f.Pong == nil
}

// BoolPtr returns a pointer to a bool value, for TransactionFilter fields.
func BoolPtr(b bool) *bool {
	return &b
}

// CommitmentPtr returns a pointer to a commitment level.
func CommitmentPtr(c CommitmentLevel) *CommitmentLevel {
	return &c
}
