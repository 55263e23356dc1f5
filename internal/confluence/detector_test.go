package confluence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/confluence-watch/internal/alert"
	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/storage"
	"github.com/confluence-watch/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAlertStore struct {
	existing map[string]bool
	inserted []*models.AlertRecord
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{existing: make(map[string]bool)}
}

func (f *fakeAlertStore) Exists(ctx context.Context, dedupKey string) (bool, error) {
	return f.existing[dedupKey], nil
}

func (f *fakeAlertStore) Insert(ctx context.Context, record *models.AlertRecord) error {
	f.existing[record.DedupKey] = true
	f.inserted = append(f.inserted, record)
	return nil
}

func setupDetector(t *testing.T, minConfluence int, window time.Duration) (*Detector, *fakeAlertStore, *alert.RecordingEmitter) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := storage.NewRedisCacheFromClient(client)
	alerts := newFakeAlertStore()
	emitter := alert.NewRecordingEmitter()

	return NewDetector(cache, alerts, emitter, window, minConfluence), alerts, emitter
}

// Scenario A (spec §8): two wallets buy the same token within the
// window -> exactly one buy_confluence alert.
func TestDetector_ScenarioA_BasicConfluence(t *testing.T) {
	d, _, emitter := setupDetector(t, 2, 30*time.Minute)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r1 := d.RecordAndEvaluate(ctx, types.ChainEthereum, types.SideBuy, "0xT", "W1", base)
	assert.Equal(t, StatePartial, r1.State)

	r2 := d.RecordAndEvaluate(ctx, types.ChainEthereum, types.SideBuy, "0xT", "W2", base.Add(120*time.Second))
	assert.Equal(t, StateFired, r2.State)
	require.Len(t, emitter.Payloads, 1)
	assert.ElementsMatch(t, []string{"W1", "W2"}, payloadWallets(r2.Alert))
}

// Scenario B (spec §8): replaying the same feed three times must not
// produce more than one alert (idempotence via the dedup key).
func TestDetector_ScenarioB_Idempotence(t *testing.T) {
	d, _, emitter := setupDetector(t, 2, 30*time.Minute)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		d.RecordAndEvaluate(ctx, types.ChainEthereum, types.SideBuy, "0xT", "W1", base)
		d.RecordAndEvaluate(ctx, types.ChainEthereum, types.SideBuy, "0xT", "W2", base.Add(120*time.Second))
	}

	assert.Len(t, emitter.Payloads, 1)
}

// Scenario C (spec §8): exactly MIN_CONFLUENCE - 1 wallets (one wallet,
// with MIN_CONFLUENCE 2), no alert.
func TestDetector_ScenarioC_BelowThreshold(t *testing.T) {
	d, _, emitter := setupDetector(t, 2, 30*time.Minute)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r := d.RecordAndEvaluate(ctx, types.ChainEthereum, types.SideBuy, "0xT", "W1", base)
	assert.Equal(t, StatePartial, r.State)
	assert.Empty(t, emitter.Payloads)
}

// Scenario D (spec §8): two wallets selling the same token within the
// window produce one sell_confluence alert.
func TestDetector_ScenarioD_SellConfluence(t *testing.T) {
	d, _, emitter := setupDetector(t, 2, 30*time.Minute)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	d.RecordAndEvaluate(ctx, types.ChainEthereum, types.SideSell, "0xT", "W1", base)
	r2 := d.RecordAndEvaluate(ctx, types.ChainEthereum, types.SideSell, "0xT", "W2", base.Add(time.Minute))

	assert.Equal(t, StateFired, r2.State)
	require.Len(t, emitter.Payloads, 1)
	assert.Equal(t, types.AlertSellConfluence, emitter.Payloads[0].Kind)
}

func TestDetector_BoundaryWindowEdge(t *testing.T) {
	d, _, _ := setupDetector(t, 2, 30*time.Minute)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)

	d.RecordAndEvaluate(ctx, types.ChainEthereum, types.SideBuy, "0xT", "W1", base.Add(-30*time.Minute+time.Second))
	inWindow := d.RecordAndEvaluate(ctx, types.ChainEthereum, types.SideBuy, "0xT", "W2", base)
	assert.Equal(t, StateFired, inWindow.State)
}

func TestDetector_DedupWithGrowingWalletSetEmitsAgain(t *testing.T) {
	d, _, emitter := setupDetector(t, 2, 30*time.Minute)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	d.RecordAndEvaluate(ctx, types.ChainEthereum, types.SideBuy, "0xT", "W1", base)
	d.RecordAndEvaluate(ctx, types.ChainEthereum, types.SideBuy, "0xT", "W2", base.Add(time.Minute))
	require.Len(t, emitter.Payloads, 1)

	// A third wallet joins the same bucket: the set strictly grows, so a
	// second emission is expected per spec §4.9.
	d.RecordAndEvaluate(ctx, types.ChainEthereum, types.SideBuy, "0xT", "W3", base.Add(2*time.Minute))
	assert.Len(t, emitter.Payloads, 2)
}

func payloadWallets(rec *models.AlertRecord) []string {
	if rec == nil {
		return nil
	}
	return rec.Wallets
}
