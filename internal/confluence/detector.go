// Package confluence implements C9: a time-windowed bag per
// (chain, side, token) held in Redis sorted sets, with a bucketed dedup
// key so a confluence's alert fires at most once per window bucket
// unless the wallet set strictly grows (spec §4.9, DESIGN NOTES §9).
package confluence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/confluence-watch/internal/alert"
	pipelineerrors "github.com/confluence-watch/internal/errors"
	"github.com/confluence-watch/internal/logging"
	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/storage"
	"github.com/confluence-watch/internal/types"
)

// State is the per-key lifecycle spec §4.9 names.
type State string

const (
	StateEmpty   State = "empty"
	StatePartial State = "partial"
	StateArmed   State = "armed"
	StateFired   State = "fired"
)

// AlertStore is the subset of the alert-ledger repository the detector
// needs: an existence check for the dedup key and an append of the
// record once emission succeeds.
type AlertStore interface {
	Exists(ctx context.Context, dedupKey string) (bool, error)
	Insert(ctx context.Context, record *models.AlertRecord) error
}

// Result is the outcome of RecordAndEvaluate for one (chain, side, token)
// key following one wallet's trade.
type Result struct {
	// Possible is false when the store was unreachable for this tick;
	// per spec §4.9 failure semantics this is "no confluence possible",
	// not an error C8 must abort the whole tick over.
	Possible bool
	State    State
	Wallets  []string
	Alert    *models.AlertRecord // set only when this call actually emitted
}

// Detector implements C9 against a Redis-backed sorted-set store.
type Detector struct {
	cache         *storage.RedisCache
	alerts        AlertStore
	emitter       alert.Emitter
	window        time.Duration
	minConfluence int
}

// NewDetector builds a Detector. window is CONFLUENCE_WINDOW,
// minConfluence is MIN_CONFLUENCE (spec §6 config table).
func NewDetector(cache *storage.RedisCache, alerts AlertStore, emitter alert.Emitter, window time.Duration, minConfluence int) *Detector {
	return &Detector{cache: cache, alerts: alerts, emitter: emitter, window: window, minConfluence: minConfluence}
}

func confluenceKey(chain types.ChainID, side types.Side, token string) string {
	return fmt.Sprintf("confluence:%s:%s:%s", chain, side, token)
}

func activeWalletKey(chain types.ChainID, wallet string) string {
	return fmt.Sprintf("confluence:active:%s:%s", chain, wallet)
}

// Record adds (wallet, eventTS) to the (chain, side, token) bag, evicts
// members older than the window floor, and refreshes the key's TTL and
// the wallet's "active confluence window" marker (consulted by C7 before
// removing a watchlist entry).
func (d *Detector) Record(ctx context.Context, chain types.ChainID, side types.Side, token, wallet string, eventTS time.Time) error {
	key := confluenceKey(chain, side, token)

	if err := d.cache.ZAdd(ctx, key, float64(eventTS.Unix()), wallet); err != nil {
		return pipelineerrors.NewStoreUnavailable("confluence.Record", err)
	}

	floor := eventTS.Add(-d.window).Unix()
	if err := d.cache.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(floor, 10)); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("confluence: failed to evict stale members")
	}
	if err := d.cache.Expire(ctx, key, d.window); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("confluence: failed to refresh key TTL")
	}

	if err := d.cache.Set(ctx, activeWalletKey(chain, wallet), "1", d.window); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("confluence: failed to set active-window marker")
	}

	return nil
}

// Evaluate reads the current distinct-wallet count for (chain, side,
// token) and, if it meets MIN_CONFLUENCE, emits a confluence alert
// unless the dedup key for the current window bucket has already fired.
func (d *Detector) Evaluate(ctx context.Context, chain types.ChainID, side types.Side, token string, now time.Time) Result {
	key := confluenceKey(chain, side, token)

	members, err := d.cache.ZRange(ctx, key, 0, -1)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("confluence: store unreachable, no confluence possible this tick")
		return Result{Possible: false, State: StateEmpty}
	}

	distinct := distinctSorted(members)

	switch {
	case len(distinct) == 0:
		return Result{Possible: true, State: StateEmpty}
	case len(distinct) < d.minConfluence:
		return Result{Possible: true, State: StatePartial, Wallets: distinct}
	}

	bucket := now.Unix() / int64(d.window/time.Second)
	dedupKey := dedupIdentity(chain, side, token, distinct, bucket)

	exists, err := d.alerts.Exists(ctx, dedupKey)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("confluence: dedup lookup failed, no confluence possible this tick")
		return Result{Possible: false, State: StateArmed, Wallets: distinct}
	}
	if exists {
		return Result{Possible: true, State: StateFired, Wallets: distinct}
	}

	record := &models.AlertRecord{
		DedupKey:  dedupKey,
		ChainID:   chain,
		Token:     token,
		Side:      side,
		Wallets:   distinct,
		WindowMS:  d.window.Milliseconds(),
		EmittedAt: now,
	}
	if side == types.SideBuy {
		record.Kind = types.AlertBuyConfluence
	} else {
		record.Kind = types.AlertSellConfluence
	}

	outcome, emitErr := d.emitter.Emit(ctx, alert.Payload{
		Kind:         record.Kind,
		ChainID:      chain,
		TokenAddress: token,
		Side:         side,
		WindowMS:     record.WindowMS,
		DedupKey:     dedupKey,
	})
	record.Outcome = outcome
	if emitErr != nil {
		logging.FromContext(ctx).WithError(emitErr).Warn("confluence: alert emission failed")
	}

	if err := d.alerts.Insert(ctx, record); err != nil {
		logging.FromContext(ctx).WithError(err).Error("confluence: failed to persist alert record")
	}

	return Result{Possible: true, State: StateFired, Wallets: distinct, Alert: record}
}

// RecordAndEvaluate is the convenience entry point C8 calls per newly
// observed trade: Record, then Evaluate synchronously.
func (d *Detector) RecordAndEvaluate(ctx context.Context, chain types.ChainID, side types.Side, token, wallet string, eventTS time.Time) Result {
	if err := d.Record(ctx, chain, side, token, wallet, eventTS); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("confluence: record failed, no confluence possible this tick")
		return Result{Possible: false, State: StateEmpty}
	}
	return d.Evaluate(ctx, chain, side, token, eventTS)
}

// ActiveWindow reports whether wallet currently has an open confluence
// window on chain, i.e. it participated in a Record within the last
// CONFLUENCE_WINDOW. C7 must not remove a watchlist entry while this is
// true (spec §4.7); it defers to the next run instead.
func (d *Detector) ActiveWindow(ctx context.Context, chain types.ChainID, wallet string) (bool, error) {
	exists, err := d.cache.Exists(ctx, activeWalletKey(chain, wallet))
	if err != nil {
		return false, pipelineerrors.NewStoreUnavailable("confluence.ActiveWindow", err)
	}
	return exists, nil
}

func distinctSorted(members []string) []string {
	seen := make(map[string]bool, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// dedupIdentity computes hash(chain, side, token, sorted_wallet_set,
// window_bucket) per spec §4.9. wallets must already be sorted.
func dedupIdentity(chain types.ChainID, side types.Side, token string, wallets []string, bucket int64) string {
	h := sha256.New()
	h.Write([]byte(string(chain)))
	h.Write([]byte{0})
	h.Write([]byte(side))
	h.Write([]byte{0})
	h.Write([]byte(token))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(wallets, ",")))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(bucket, 10)))
	return hex.EncodeToString(h.Sum(nil))
}
