package geyser

import (
	"github.com/rs/zerolog"
)

// Handler receives one call per observation, in delivery order.
// Calls are made from the dispatcher goroutine only.
type Handler interface {
	HandleAccount(update AccountUpdate)
	HandleTransaction(update TransactionUpdate)
	HandleSlot(update SlotUpdate)
	HandlePong(pong Pong)
}

// LogHandler writes one log line per observation.
type LogHandler struct {
	log zerolog.Logger
}

// NewLogHandler creates a LogHandler writing to logger.
func NewLogHandler(logger zerolog.Logger) *LogHandler {
	return &LogHandler{log: logger}
}

func (h *LogHandler) HandleAccount(a AccountUpdate) {
	ev := h.log.Info().
		Str("pubkey", a.Pubkey).
		Str("owner", a.Owner).
		Uint64("slot", a.Slot).
		Uint64("lamports", a.Lamports).
		Int("data_len", len(a.Data)).
		Str("data_digest", a.DataDigest()).
		Uint64("write_version", a.WriteVersion)
	if a.TxnSignature != "" {
		ev = ev.Str("txn_signature", a.TxnSignature)
	}
	if a.IsStartup {
		ev = ev.Bool("startup", true)
	}
	ev.Msg("Account update")
}

func (h *LogHandler) HandleTransaction(t TransactionUpdate) {
	ev := h.log.Info().
		Str("signature", t.Signature).
		Uint64("slot", t.Slot).
		Bool("success", t.Success).
		Uint64("fee", t.Fee).
		Bool("vote", t.IsVote).
		Uint64("index", t.Index)
	if !t.Success {
		ev = ev.Hex("err", t.Err)
	}
	ev.Msg("Transaction")
}

func (h *LogHandler) HandleSlot(s SlotUpdate) {
	ev := h.log.Info().
		Uint64("slot", s.Slot).
		Stringer("status", s.Status)
	if s.ParentSlot != nil {
		ev = ev.Uint64("parent", *s.ParentSlot)
	}
	if s.DeadError != "" {
		ev = ev.Str("dead_error", s.DeadError)
	}
	ev.Msg("Slot update")
}

func (h *LogHandler) HandlePong(p Pong) {
	h.log.Info().Uint64("id", p.ID).Msg("Pong")
}
