package geyser

import (
	"fmt"

	"github.com/mr-tron/base58"
	"google.golang.org/protobuf/encoding/protowire"
)

// serverCodec is the server side of Codec, used by the in-process Subscribe
// server and the round-trip tests. It decodes requests and encodes frames.
type serverCodec struct{}

func (serverCodec) Name() string {
	return "proto"
}

func (serverCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("server codec: cannot marshal %T", v)
	}
	return marshalFrame(m)
}

func (serverCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(*SubscribeRequest)
	if !ok {
		return fmt.Errorf("server codec: cannot unmarshal into %T", v)
	}
	return unmarshalSubscribeRequest(data, m)
}

// decodeAddress is the inverse of types.EncodePubkey and
// types.EncodeSignature. The empty string decodes to nil.
func decodeAddress(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base58.Decode(s)
}

func unmarshalSubscribeRequest(data []byte, r *SubscribeRequest) error {
	*r = SubscribeRequest{}
	return decodeFields(data, func(f field) error {
		switch f.num {
		case reqAccounts:
			value, err := mapEntryValue(f)
			if err != nil {
				return err
			}
			var af AccountFilter
			err = decodeFields(value, func(g field) error {
				switch {
				case g.num == accFilterAccount && g.isBytes():
					af.Account = append(af.Account, string(g.bytes))
				case g.num == accFilterOwner && g.isBytes():
					af.Owner = append(af.Owner, string(g.bytes))
				}
				return nil
			})
			if err != nil {
				return err
			}
			r.Accounts = append(r.Accounts, af)
		case reqSlots:
			r.Slots = &SlotFilter{}
		case reqTransactions:
			value, err := mapEntryValue(f)
			if err != nil {
				return err
			}
			var tf TransactionFilter
			err = decodeFields(value, func(g field) error {
				switch {
				case g.num == txFilterVote && g.isVarint():
					tf.Vote = BoolPtr(protowire.DecodeBool(g.varint))
				case g.num == txFilterFailed && g.isVarint():
					tf.Failed = BoolPtr(protowire.DecodeBool(g.varint))
				}
				return nil
			})
			if err != nil {
				return err
			}
			r.Transactions = append(r.Transactions, tf)
		case reqCommitment:
			if f.isVarint() {
				r.Commitment = CommitmentPtr(CommitmentLevel(f.varint))
			}
		case reqPing:
			if !f.isBytes() {
				return nil
			}
			p := &Ping{}
			err := decodeFields(f.bytes, func(g field) error {
				if g.num == pingID && g.isVarint() {
					p.ID = g.varint
				}
				return nil
			})
			if err != nil {
				return err
			}
			r.Ping = p
		}
		return nil
	})
}

func marshalFrame(fr *Frame) ([]byte, error) {
	var b []byte

	for _, name := range fr.Filters {
		b = appendString(b, updFilters, name)
	}

	for _, a := range fr.Accounts {
		info, err := marshalAccountInfo(a)
		if err != nil {
			return nil, err
		}
		v := appendMessage(nil, accUpdInfo, info)
		v = appendVarint(v, accUpdSlot, a.Slot)
		if a.IsStartup {
			v = appendBool(v, accUpdIsStartup, true)
		}
		b = appendMessage(b, updAccount, v)
	}

	for _, s := range fr.Slots {
		v := appendVarint(nil, slotUpdSlot, s.Slot)
		if s.ParentSlot != nil {
			v = appendVarint(v, slotUpdParent, *s.ParentSlot)
		}
		v = appendVarint(v, slotUpdStatus, uint64(s.Status))
		if s.DeadError != "" {
			v = appendString(v, slotUpdDeadError, s.DeadError)
		}
		b = appendMessage(b, updSlot, v)
	}

	for _, tx := range fr.Transactions {
		sig, err := decodeAddress(tx.Signature)
		if err != nil {
			return nil, fmt.Errorf("transaction signature: %w", err)
		}
		var meta []byte
		if !tx.Success {
			meta = appendMessage(meta, metaErr, appendBytes(nil, txErrorData, tx.Err))
		}
		meta = appendVarint(meta, metaFee, tx.Fee)

		info := appendBytes(nil, txInfoSignature, sig)
		if tx.IsVote {
			info = appendBool(info, txInfoIsVote, true)
		}
		info = appendMessage(info, txInfoMeta, meta)
		info = appendVarint(info, txInfoIndex, tx.Index)

		v := appendMessage(nil, txUpdInfo, info)
		v = appendVarint(v, txUpdSlot, tx.Slot)
		b = appendMessage(b, updTransaction, v)
	}

	if fr.ServerPing {
		b = appendMessage(b, updPing, nil)
	}

	if fr.Pong != nil {
		b = appendMessage(b, updPong, appendVarint(nil, pingID, fr.Pong.ID))
	}

	if !fr.CreatedAt.IsZero() {
		ts := appendVarint(nil, tsSeconds, uint64(fr.CreatedAt.Unix()))
		ts = appendVarint(ts, tsNanos, uint64(fr.CreatedAt.Nanosecond()))
		b = appendMessage(b, updCreatedAt, ts)
	}

	return b, nil
}

func marshalAccountInfo(a AccountUpdate) ([]byte, error) {
	pubkey, err := decodeAddress(a.Pubkey)
	if err != nil {
		return nil, fmt.Errorf("account pubkey: %w", err)
	}
	owner, err := decodeAddress(a.Owner)
	if err != nil {
		return nil, fmt.Errorf("account owner: %w", err)
	}

	v := appendBytes(nil, accInfoPubkey, pubkey)
	v = appendVarint(v, accInfoLamports, a.Lamports)
	v = appendBytes(v, accInfoOwner, owner)
	if a.Executable {
		v = appendBool(v, accInfoExecutable, true)
	}
	v = appendVarint(v, accInfoRentEpoch, a.RentEpoch)
	v = appendBytes(v, accInfoData, a.Data)
	v = appendVarint(v, accInfoWriteVersion, a.WriteVersion)
	if a.TxnSignature != "" {
		sig, err := decodeAddress(a.TxnSignature)
		if err != nil {
			return nil, fmt.Errorf("account txn signature: %w", err)
		}
		v = appendBytes(v, accInfoTxnSignature, sig)
	}
	return v, nil
}

// mapEntryValue returns the value bytes of a map<string, message> entry.
func mapEntryValue(f field) ([]byte, error) {
	if !f.isBytes() {
		return nil, fmt.Errorf("%w: field %d is not a map entry", ErrMalformedFrame, f.num)
	}
	var value []byte
	err := decodeFields(f.bytes, func(g field) error {
		if g.num == mapValue && g.isBytes() {
			value = g.bytes
		}
		return nil
	})
	return value, err
}
