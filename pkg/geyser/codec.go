package geyser

import (
	"errors"
	"fmt"
	"time"

	"github.com/fortiblox/geyserwatch/internal/types"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedFrame is returned when a stream message cannot be decoded.
var ErrMalformedFrame = errors.New("malformed geyser message")

// Field numbers from the Yellowstone geyser.proto and solana-storage.proto.
const (
	// SubscribeRequest
	reqAccounts     protowire.Number = 1
	reqSlots        protowire.Number = 2
	reqTransactions protowire.Number = 3
	reqCommitment   protowire.Number = 6
	reqPing         protowire.Number = 9

	// map<string, V> entries
	mapKey   protowire.Number = 1
	mapValue protowire.Number = 2

	// SubscribeRequestFilterAccounts
	accFilterAccount protowire.Number = 2
	accFilterOwner   protowire.Number = 3

	// SubscribeRequestFilterTransactions
	txFilterVote   protowire.Number = 1
	txFilterFailed protowire.Number = 2

	// SubscribeRequestPing / SubscribeUpdatePong
	pingID protowire.Number = 1

	// SubscribeUpdate
	updFilters     protowire.Number = 1
	updAccount     protowire.Number = 2
	updSlot        protowire.Number = 3
	updTransaction protowire.Number = 4
	updPing        protowire.Number = 6
	updPong        protowire.Number = 9
	updCreatedAt   protowire.Number = 11

	// SubscribeUpdateAccount
	accUpdInfo      protowire.Number = 1
	accUpdSlot      protowire.Number = 2
	accUpdIsStartup protowire.Number = 3

	// SubscribeUpdateAccountInfo
	accInfoPubkey       protowire.Number = 1
	accInfoLamports     protowire.Number = 2
	accInfoOwner        protowire.Number = 3
	accInfoExecutable   protowire.Number = 4
	accInfoRentEpoch    protowire.Number = 5
	accInfoData         protowire.Number = 6
	accInfoWriteVersion protowire.Number = 7
	accInfoTxnSignature protowire.Number = 8

	// SubscribeUpdateSlot
	slotUpdSlot      protowire.Number = 1
	slotUpdParent    protowire.Number = 2
	slotUpdStatus    protowire.Number = 3
	slotUpdDeadError protowire.Number = 4

	// SubscribeUpdateTransaction
	txUpdInfo protowire.Number = 1
	txUpdSlot protowire.Number = 2

	// SubscribeUpdateTransactionInfo
	txInfoSignature protowire.Number = 1
	txInfoIsVote    protowire.Number = 2
	txInfoMeta      protowire.Number = 4
	txInfoIndex     protowire.Number = 5

	// TransactionStatusMeta / TransactionError
	metaErr     protowire.Number = 1
	metaFee     protowire.Number = 2
	txErrorData protowire.Number = 1

	// google.protobuf.Timestamp
	tsSeconds protowire.Number = 1
	tsNanos   protowire.Number = 2
)

// Codec is the gRPC codec for the Subscribe stream.
//
// It speaks the protobuf wire format directly for the subset of the Geyser
// schema this client uses, so no generated code is required. Name reports
// "proto" so the stream keeps the application/grpc+proto content type.
type Codec struct{}

// Name implements encoding.Codec.
func (Codec) Name() string {
	return "proto"
}

// Marshal implements encoding.Codec. Only the client-to-server direction,
// *SubscribeRequest, is supported.
func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(*SubscribeRequest)
	if !ok {
		return nil, fmt.Errorf("geyser codec: cannot marshal %T", v)
	}
	return marshalSubscribeRequest(m), nil
}

// Unmarshal implements encoding.Codec for *Frame.
func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("geyser codec: cannot unmarshal into %T", v)
	}
	return unmarshalFrame(data, m)
}

// filterName is the map key used for the i-th filter of a section.
func filterName(section string, i int) string {
	return fmt.Sprintf("%s_%d", section, i)
}

func marshalSubscribeRequest(r *SubscribeRequest) []byte {
	var b []byte

	for i, f := range r.Accounts {
		var v []byte
		for _, a := range f.Account {
			v = appendString(v, accFilterAccount, a)
		}
		for _, o := range f.Owner {
			v = appendString(v, accFilterOwner, o)
		}
		b = appendMapEntry(b, reqAccounts, filterName("accounts", i), v)
	}

	if r.Slots != nil {
		b = appendMapEntry(b, reqSlots, "slots", nil)
	}

	for i, f := range r.Transactions {
		var v []byte
		if f.Vote != nil {
			v = appendBool(v, txFilterVote, *f.Vote)
		}
		if f.Failed != nil {
			v = appendBool(v, txFilterFailed, *f.Failed)
		}
		b = appendMapEntry(b, reqTransactions, filterName("transactions", i), v)
	}

	if r.Commitment != nil {
		b = appendVarint(b, reqCommitment, uint64(*r.Commitment))
	}

	if r.Ping != nil {
		b = appendMessage(b, reqPing, appendVarint(nil, pingID, r.Ping.ID))
	}

	return b
}

func unmarshalFrame(data []byte, fr *Frame) error {
	*fr = Frame{}
	return decodeFields(data, func(f field) error {
		switch f.num {
		case updFilters:
			if f.isBytes() {
				fr.Filters = append(fr.Filters, string(f.bytes))
			}
		case updAccount:
			if !f.isBytes() {
				return nil
			}
			a, err := decodeAccountUpdate(f.bytes)
			if err != nil {
				return err
			}
			fr.Accounts = append(fr.Accounts, a)
		case updSlot:
			if !f.isBytes() {
				return nil
			}
			s, err := decodeSlotUpdate(f.bytes)
			if err != nil {
				return err
			}
			fr.Slots = append(fr.Slots, s)
		case updTransaction:
			if !f.isBytes() {
				return nil
			}
			tx, err := decodeTransactionUpdate(f.bytes)
			if err != nil {
				return err
			}
			fr.Transactions = append(fr.Transactions, tx)
		case updPing:
			fr.ServerPing = true
		case updPong:
			if !f.isBytes() {
				return nil
			}
			p := &Pong{}
			err := decodeFields(f.bytes, func(g field) error {
				if g.num == pingID && g.isVarint() {
					// int32 on the wire; negative values arrive sign-extended
					p.ID = uint64(uint32(g.varint))
				}
				return nil
			})
			if err != nil {
				return err
			}
			fr.Pong = p
		case updCreatedAt:
			if !f.isBytes() {
				return nil
			}
			var secs, nanos uint64
			err := decodeFields(f.bytes, func(g field) error {
				switch {
				case g.num == tsSeconds && g.isVarint():
					secs = g.varint
				case g.num == tsNanos && g.isVarint():
					nanos = g.varint
				}
				return nil
			})
			if err != nil {
				return err
			}
			fr.CreatedAt = time.Unix(int64(secs), int64(nanos)).UTC()
		}
		return nil
	})
}

func decodeAccountUpdate(data []byte) (AccountUpdate, error) {
	var a AccountUpdate
	err := decodeFields(data, func(f field) error {
		switch f.num {
		case accUpdSlot:
			a.Slot = f.varint
		case accUpdIsStartup:
			a.IsStartup = protowire.DecodeBool(f.varint)
		case accUpdInfo:
			if !f.isBytes() {
				return nil
			}
			return decodeFields(f.bytes, func(g field) error {
				switch g.num {
				case accInfoPubkey:
					a.Pubkey = types.EncodePubkey(g.bytes)
				case accInfoLamports:
					a.Lamports = g.varint
				case accInfoOwner:
					a.Owner = types.EncodePubkey(g.bytes)
				case accInfoExecutable:
					a.Executable = protowire.DecodeBool(g.varint)
				case accInfoRentEpoch:
					a.RentEpoch = g.varint
				case accInfoData:
					a.Data = append([]byte(nil), g.bytes...)
				case accInfoWriteVersion:
					a.WriteVersion = g.varint
				case accInfoTxnSignature:
					a.TxnSignature = types.EncodeSignature(g.bytes)
				}
				return nil
			})
		}
		return nil
	})
	return a, err
}

func decodeSlotUpdate(data []byte) (SlotUpdate, error) {
	var s SlotUpdate
	err := decodeFields(data, func(f field) error {
		switch f.num {
		case slotUpdSlot:
			s.Slot = f.varint
		case slotUpdParent:
			if f.isVarint() {
				parent := f.varint
				s.ParentSlot = &parent
			}
		case slotUpdStatus:
			s.Status = SlotStatus(f.varint)
		case slotUpdDeadError:
			s.DeadError = string(f.bytes)
		}
		return nil
	})
	return s, err
}

func decodeTransactionUpdate(data []byte) (TransactionUpdate, error) {
	tx := TransactionUpdate{Success: true}
	err := decodeFields(data, func(f field) error {
		switch f.num {
		case txUpdSlot:
			tx.Slot = f.varint
		case txUpdInfo:
			if !f.isBytes() {
				return nil
			}
			return decodeFields(f.bytes, func(g field) error {
				switch g.num {
				case txInfoSignature:
					tx.Signature = types.EncodeSignature(g.bytes)
				case txInfoIsVote:
					tx.IsVote = protowire.DecodeBool(g.varint)
				case txInfoIndex:
					tx.Index = g.varint
				case txInfoMeta:
					if !g.isBytes() {
						return nil
					}
					return decodeFields(g.bytes, func(m field) error {
						switch m.num {
						case metaFee:
							tx.Fee = m.varint
						case metaErr:
							tx.Success = false
							return decodeFields(m.bytes, func(e field) error {
								if e.num == txErrorData && e.isBytes() {
									tx.Err = append([]byte{}, e.bytes...)
								}
								return nil
							})
						}
						return nil
					})
				}
				return nil
			})
		}
		return nil
	})
	return tx, err
}

// field is one decoded protobuf field. Only the member matching typ is set.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

func (f field) isVarint() bool { return f.typ == protowire.VarintType }
func (f field) isBytes() bool  { return f.typ == protowire.BytesType }

// decodeFields walks the top-level fields of a message in wire order.
func decodeFields(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func appendMapEntry(b []byte, num protowire.Number, key string, value []byte) []byte {
	entry := appendString(nil, mapKey, key)
	entry = appendMessage(entry, mapValue, value)
	return appendMessage(b, num, entry)
}

func appendMessage(b []byte, num protowire.Number, v []byte) []byte {
	return appendBytes(b, num, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}
