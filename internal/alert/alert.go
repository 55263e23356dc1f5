// Package alert defines the outbound alert contract of spec §6. The
// concrete chat-transport implementation lives outside this module; this
// package defines the interface, the payload shape, and two test/dev
// implementations (LoggingEmitter, RecordingEmitter).
package alert

import (
	"context"

	"github.com/confluence-watch/internal/logging"
	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/types"
)

// WalletSnapshot is one watched wallet's per-wallet 30-day stats, carried
// in the alert payload alongside the wallet address.
type WalletSnapshot struct {
	Wallet string
	Stats  models.WalletStats30D
}

// Payload is the exact contract of spec §6 "Outbound alert":
// emitAlert(kind, chain, token, side, wallets[], window_ms, prices_snapshot).
type Payload struct {
	Kind          types.AlertKind
	ChainID       types.ChainID
	TokenAddress  string
	TokenSymbol   string
	Side          types.Side
	Wallets       []WalletSnapshot
	WindowMS      int64
	PricesUSD     map[string]float64 // token -> price at emission time
	DedupKey      string
	WeightsUsed   map[string]float64
}

// Emitter delivers a confluence alert to the external chat transport.
type Emitter interface {
	Emit(ctx context.Context, payload Payload) (types.EmitOutcome, error)
}

// LoggingEmitter logs instead of sending; used by cmd/allinone when no
// chat transport is configured.
type LoggingEmitter struct{}

func NewLoggingEmitter() *LoggingEmitter { return &LoggingEmitter{} }

func (l *LoggingEmitter) Emit(ctx context.Context, payload Payload) (types.EmitOutcome, error) {
	wallets := make([]string, 0, len(payload.Wallets))
	for _, w := range payload.Wallets {
		wallets = append(wallets, w.Wallet)
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"kind":    payload.Kind,
		"chain":   payload.ChainID,
		"token":   payload.TokenAddress,
		"side":    payload.Side,
		"wallets": wallets,
		"windowMs": payload.WindowMS,
	}).Info("confluence alert (no transport configured, logged only)")
	return types.EmitOK, nil
}

// RecordingEmitter records every payload it receives, for use in tests.
type RecordingEmitter struct {
	Payloads []Payload
	Outcome  types.EmitOutcome
	Err      error
}

func NewRecordingEmitter() *RecordingEmitter {
	return &RecordingEmitter{Outcome: types.EmitOK}
}

func (r *RecordingEmitter) Emit(ctx context.Context, payload Payload) (types.EmitOutcome, error) {
	r.Payloads = append(r.Payloads, payload)
	return r.Outcome, r.Err
}
