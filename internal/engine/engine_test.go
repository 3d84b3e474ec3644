package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crop-price-alerts/internal/storage"
)

var testNow = time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)

type fakePrices struct {
	mu      sync.Mutex
	byCrop  map[string][]storage.PriceRecord
	errFor  map[string]error
	queries int
}

func (f *fakePrices) FindRecentApprovedPrices(ctx context.Context, cropType, location string, quality *storage.Quality, limit int) ([]storage.PriceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if err := f.errFor[cropType]; err != nil {
		return nil, err
	}
	return f.byCrop[cropType], nil
}

func (f *fakePrices) FindSeasonalPrices(ctx context.Context, cropType, location string, month time.Month, year int) ([]storage.PriceRecord, error) {
	return nil, nil
}

type fakeSubscriptions struct {
	mu      sync.Mutex
	subs    []storage.AlertSubscription
	listErr error
	refuse  bool
	// guardPrev makes claims honor the stored-value match like the SQL
	// IS NOT DISTINCT FROM guard does.
	guardPrev bool
	stored    map[string]time.Time
	claims    []string
}

func (f *fakeSubscriptions) ListActiveSubscriptions(ctx context.Context) ([]storage.AlertSubscription, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.subs, nil
}

func (f *fakeSubscriptions) UpdateLastTriggered(ctx context.Context, id string, now time.Time, prev *time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse {
		return false, nil
	}
	if f.guardPrev {
		current, ok := f.stored[id]
		if ok != (prev != nil) || (ok && !current.Equal(*prev)) {
			return false, nil
		}
		if f.stored == nil {
			f.stored = make(map[string]time.Time)
		}
		f.stored[id] = now
	}
	f.claims = append(f.claims, id)
	return true, nil
}

type fakeNotifications struct {
	mu            sync.Mutex
	created       []storage.AlertNotification
	pending       map[string]int
	purgeBefore   time.Time
	purgeStatuses []storage.NotificationStatus
}

func (f *fakeNotifications) InsertNotification(ctx context.Context, note storage.AlertNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, note)
	return nil
}

func (f *fakeNotifications) CountPendingNotifications(ctx context.Context, ownerID string) (int, error) {
	return f.pending[ownerID], nil
}

func (f *fakeNotifications) ListRecentNotifications(ctx context.Context, limit int) ([]storage.AlertNotification, error) {
	return f.created, nil
}

func (f *fakeNotifications) DeleteExpiredNotifications(ctx context.Context, before time.Time, statuses []storage.NotificationStatus) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgeBefore = before
	f.purgeStatuses = statuses
	return 2, nil
}

var (
	_ storage.PriceStore        = (*fakePrices)(nil)
	_ storage.SubscriptionStore = (*fakeSubscriptions)(nil)
	_ storage.NotificationStore = (*fakeNotifications)(nil)
)

// priceSeries builds records for one crop, newest first.
func priceSeries(crop string, prices ...float64) []storage.PriceRecord {
	records := make([]storage.PriceRecord, 0, len(prices))
	for i, price := range prices {
		records = append(records, storage.PriceRecord{
			ID:            int64(i + 1),
			CropType:      crop,
			PricePerUnit:  decimal.NewFromFloat(price),
			Unit:          "kg",
			Quality:       storage.QualityStandard,
			Location:      "Nairobi",
			EffectiveDate: testNow.AddDate(0, 0, -i),
			Status:        storage.PriceStatusApproved,
			IsVerified:    true,
		})
	}
	return records
}

func subscription(id, crop string, alertType storage.AlertType, frequency storage.Frequency, threshold float64) storage.AlertSubscription {
	return storage.AlertSubscription{
		ID:           id,
		OwnerID:      "farmer-1",
		CropType:     crop,
		Location:     "Nairobi",
		AlertType:    alertType,
		Frequency:    frequency,
		ThresholdPct: threshold,
		IsActive:     true,
	}
}

func newTestEngine(prices *fakePrices, subs *fakeSubscriptions, notes *fakeNotifications) *Engine {
	e := New(prices, subs, notes, nil, Options{Workers: 2, RetentionDays: 30}, zerolog.Nop())
	e.now = func() time.Time { return testNow }
	return e
}

func TestDetectionCycleFiresIncreaseAlert(t *testing.T) {
	prices := &fakePrices{byCrop: map[string][]storage.PriceRecord{
		"maize": priceSeries("maize", 105, 100),
	}}
	subs := &fakeSubscriptions{subs: []storage.AlertSubscription{
		subscription("sub-1", "maize", storage.AlertPriceIncrease, storage.FrequencyImmediate, 4),
	}}
	notes := &fakeNotifications{}

	if err := newTestEngine(prices, subs, notes).RunDetectionCycle(context.Background()); err != nil {
		t.Fatalf("cycle should not fail: %v", err)
	}

	if len(notes.created) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(notes.created))
	}
	note := notes.created[0]
	if !note.OldPrice.Equal(decimal.NewFromInt(100)) || !note.NewPrice.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("expected prices 100 -> 105, got %s -> %s", note.OldPrice, note.NewPrice)
	}
	if !note.ChangePct.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected +5%% change, got %s", note.ChangePct)
	}
	if note.Status != storage.NotificationPending {
		t.Fatalf("new notifications must be PENDING, got %s", note.Status)
	}
	if note.SubscriptionID != "sub-1" || note.OwnerID != "farmer-1" {
		t.Fatalf("notification must reference its subscription, got %+v", note)
	}
	if len(subs.claims) != 1 {
		t.Fatalf("expected one last-triggered claim, got %d", len(subs.claims))
	}
}

func TestImmediateSubscriptionFiresForEveryChange(t *testing.T) {
	prices := &fakePrices{byCrop: map[string][]storage.PriceRecord{
		"maize": priceSeries("maize", 150, 120, 100),
	}}
	subs := &fakeSubscriptions{
		subs: []storage.AlertSubscription{
			subscription("sub-1", "maize", storage.AlertPriceIncrease, storage.FrequencyImmediate, 4),
		},
		guardPrev: true,
	}
	notes := &fakeNotifications{}

	// The clock advances on every read so consecutive firings within one
	// cycle carry distinct timestamps, as they do in production.
	e := newTestEngine(prices, subs, notes)
	var reads int
	e.now = func() time.Time {
		reads++
		return testNow.Add(time.Duration(reads) * time.Millisecond)
	}

	if err := e.RunDetectionCycle(context.Background()); err != nil {
		t.Fatalf("cycle should not fail: %v", err)
	}

	if len(notes.created) != 2 {
		t.Fatalf("both qualifying changes must fire, got %d notifications", len(notes.created))
	}
	if len(subs.claims) != 2 {
		t.Fatalf("each firing needs its own claim, got %d", len(subs.claims))
	}
	first, second := notes.created[0], notes.created[1]
	if !first.ChangePct.Equal(decimal.NewFromInt(25)) || !second.ChangePct.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected +25%% then +20%%, got %s and %s", first.ChangePct, second.ChangePct)
	}
	if !second.CreatedAt.After(first.CreatedAt) {
		t.Fatalf("firings must carry advancing timestamps, got %s then %s", first.CreatedAt, second.CreatedAt)
	}
}

func TestDecreaseAlertIgnoresIncrease(t *testing.T) {
	prices := &fakePrices{byCrop: map[string][]storage.PriceRecord{
		"maize": priceSeries("maize", 105, 100),
	}}
	subs := &fakeSubscriptions{subs: []storage.AlertSubscription{
		subscription("sub-1", "maize", storage.AlertPriceDecrease, storage.FrequencyImmediate, 4),
	}}
	notes := &fakeNotifications{}

	if err := newTestEngine(prices, subs, notes).RunDetectionCycle(context.Background()); err != nil {
		t.Fatalf("cycle should not fail: %v", err)
	}

	if len(notes.created) != 0 {
		t.Fatalf("a decrease subscription must not fire on an increase, got %d notifications", len(notes.created))
	}
}

func TestDailyFrequencyGate(t *testing.T) {
	cases := []struct {
		name        string
		triggeredAt time.Time
		wantFire    bool
	}{
		{"two hours ago", testNow.Add(-2 * time.Hour), false},
		{"thirty hours ago", testNow.Add(-30 * time.Hour), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prices := &fakePrices{byCrop: map[string][]storage.PriceRecord{
				"maize": priceSeries("maize", 105, 100),
			}}
			sub := subscription("sub-1", "maize", storage.AlertPriceIncrease, storage.FrequencyDaily, 4)
			triggeredAt := tc.triggeredAt
			sub.LastTriggeredAt = &triggeredAt
			subs := &fakeSubscriptions{subs: []storage.AlertSubscription{sub}}
			notes := &fakeNotifications{}

			if err := newTestEngine(prices, subs, notes).RunDetectionCycle(context.Background()); err != nil {
				t.Fatalf("cycle should not fail: %v", err)
			}

			fired := len(notes.created) == 1
			if fired != tc.wantFire {
				t.Fatalf("expected fire=%t, got %d notifications", tc.wantFire, len(notes.created))
			}
		})
	}
}

func TestNoiseFloorDiscardsSmallChanges(t *testing.T) {
	prices := &fakePrices{byCrop: map[string][]storage.PriceRecord{
		"maize": priceSeries("maize", 100.5, 100),
	}}
	subs := &fakeSubscriptions{subs: []storage.AlertSubscription{
		subscription("sub-1", "maize", storage.AlertPriceVolatility, storage.FrequencyImmediate, 0.1),
	}}
	notes := &fakeNotifications{}

	if err := newTestEngine(prices, subs, notes).RunDetectionCycle(context.Background()); err != nil {
		t.Fatalf("cycle should not fail: %v", err)
	}

	if len(notes.created) != 0 {
		t.Fatalf("changes at or below 1%% are noise, got %d notifications", len(notes.created))
	}
}

func TestGroupRequiresTwoRecords(t *testing.T) {
	prices := &fakePrices{byCrop: map[string][]storage.PriceRecord{
		"maize": priceSeries("maize", 100),
	}}
	subs := &fakeSubscriptions{subs: []storage.AlertSubscription{
		subscription("sub-1", "maize", storage.AlertPriceIncrease, storage.FrequencyImmediate, 1),
	}}
	notes := &fakeNotifications{}

	if err := newTestEngine(prices, subs, notes).RunDetectionCycle(context.Background()); err != nil {
		t.Fatalf("cycle should not fail: %v", err)
	}

	if len(notes.created) != 0 {
		t.Fatalf("a single record cannot produce a change, got %d notifications", len(notes.created))
	}
}

func TestGroupFailureIsIsolated(t *testing.T) {
	prices := &fakePrices{
		byCrop: map[string][]storage.PriceRecord{
			"beans": priceSeries("beans", 210, 200),
		},
		errFor: map[string]error{"maize": errors.New("query failed")},
	}
	subs := &fakeSubscriptions{subs: []storage.AlertSubscription{
		subscription("sub-1", "maize", storage.AlertPriceIncrease, storage.FrequencyImmediate, 1),
		subscription("sub-2", "beans", storage.AlertPriceIncrease, storage.FrequencyImmediate, 1),
	}}
	notes := &fakeNotifications{}

	if err := newTestEngine(prices, subs, notes).RunDetectionCycle(context.Background()); err != nil {
		t.Fatalf("one failing group must not abort the cycle: %v", err)
	}

	if len(notes.created) != 1 {
		t.Fatalf("the healthy group must still fire, got %d notifications", len(notes.created))
	}
	if notes.created[0].CropType != "beans" {
		t.Fatalf("expected the beans group to fire, got %s", notes.created[0].CropType)
	}
}

func TestGroupsShareOnePriceQuery(t *testing.T) {
	prices := &fakePrices{byCrop: map[string][]storage.PriceRecord{
		"maize": priceSeries("maize", 105, 100),
	}}
	subs := &fakeSubscriptions{subs: []storage.AlertSubscription{
		subscription("sub-1", "maize", storage.AlertPriceIncrease, storage.FrequencyImmediate, 1),
		subscription("sub-2", "maize", storage.AlertPriceVolatility, storage.FrequencyImmediate, 1),
	}}
	notes := &fakeNotifications{}

	if err := newTestEngine(prices, subs, notes).RunDetectionCycle(context.Background()); err != nil {
		t.Fatalf("cycle should not fail: %v", err)
	}

	if prices.queries != 1 {
		t.Fatalf("subscriptions sharing a group must share one price query, got %d", prices.queries)
	}
	if len(notes.created) != 2 {
		t.Fatalf("both subscriptions in the group should fire, got %d", len(notes.created))
	}
}

func TestLostClaimSuppressesNotification(t *testing.T) {
	prices := &fakePrices{byCrop: map[string][]storage.PriceRecord{
		"maize": priceSeries("maize", 105, 100),
	}}
	subs := &fakeSubscriptions{
		subs: []storage.AlertSubscription{
			subscription("sub-1", "maize", storage.AlertPriceIncrease, storage.FrequencyImmediate, 1),
		},
		refuse: true,
	}
	notes := &fakeNotifications{}

	if err := newTestEngine(prices, subs, notes).RunDetectionCycle(context.Background()); err != nil {
		t.Fatalf("cycle should not fail: %v", err)
	}

	if len(notes.created) != 0 {
		t.Fatalf("a firing claimed elsewhere must not duplicate the notification, got %d", len(notes.created))
	}
}

func TestShouldTriggerGates(t *testing.T) {
	base := subscription("sub-1", "maize", storage.AlertPriceIncrease, storage.FrequencyImmediate, 4)

	if ShouldTrigger(base, decimal.NewFromInt(3), testNow) {
		t.Fatal("changes under the threshold must not trigger")
	}
	if !ShouldTrigger(base, decimal.NewFromInt(5), testNow) {
		t.Fatal("an increase over the threshold must trigger")
	}
	if ShouldTrigger(base, decimal.NewFromInt(-5), testNow) {
		t.Fatal("a decrease must not trigger an increase subscription")
	}

	decrease := base
	decrease.AlertType = storage.AlertPriceDecrease
	if !ShouldTrigger(decrease, decimal.NewFromInt(-5), testNow) {
		t.Fatal("a decrease over the threshold must trigger a decrease subscription")
	}

	for _, alertType := range []storage.AlertType{
		storage.AlertPriceVolatility,
		storage.AlertRegionalDifference,
		storage.AlertQualityOpportunity,
		storage.AlertSeasonalTrend,
	} {
		generic := base
		generic.AlertType = alertType
		if !ShouldTrigger(generic, decimal.NewFromInt(-5), testNow) {
			t.Fatalf("%s should pass once threshold and frequency do", alertType)
		}
	}
}

func TestPurgeOldNotificationsSparesPending(t *testing.T) {
	notes := &fakeNotifications{}
	e := newTestEngine(&fakePrices{}, &fakeSubscriptions{}, notes)

	deleted, err := e.PurgeOldNotifications(context.Background())
	if err != nil {
		t.Fatalf("purge should not fail: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected the store's deletion count, got %d", deleted)
	}

	wantCutoff := testNow.AddDate(0, 0, -30)
	if !notes.purgeBefore.Equal(wantCutoff) {
		t.Fatalf("expected cutoff %s, got %s", wantCutoff, notes.purgeBefore)
	}
	for _, status := range notes.purgeStatuses {
		if status == storage.NotificationPending {
			t.Fatal("PENDING notifications must never be purged")
		}
	}
	if len(notes.purgeStatuses) != 2 {
		t.Fatalf("expected READ and DISMISSED in the purge set, got %v", notes.purgeStatuses)
	}
}

func TestUnreadNotificationCount(t *testing.T) {
	notes := &fakeNotifications{pending: map[string]int{"farmer-1": 3}}
	e := newTestEngine(&fakePrices{}, &fakeSubscriptions{}, notes)

	count, err := e.UnreadNotificationCount(context.Background(), "farmer-1")
	if err != nil {
		t.Fatalf("count should not fail: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 pending notifications, got %d", count)
	}
}

func TestNotificationTitleNamesTheCrop(t *testing.T) {
	prices := &fakePrices{byCrop: map[string][]storage.PriceRecord{
		"maize": priceSeries("maize", 105, 100),
	}}
	subs := &fakeSubscriptions{subs: []storage.AlertSubscription{
		subscription("sub-1", "maize", storage.AlertPriceIncrease, storage.FrequencyImmediate, 4),
	}}
	notes := &fakeNotifications{}

	if err := newTestEngine(prices, subs, notes).RunDetectionCycle(context.Background()); err != nil {
		t.Fatalf("cycle should not fail: %v", err)
	}

	if len(notes.created) != 1 {
		t.Fatalf("expected one notification, got %d", len(notes.created))
	}
	title := notes.created[0].Title
	if !strings.Contains(title, "maize") || !strings.Contains(title, "Nairobi") {
		t.Fatalf("title should name crop and location, got %q", title)
	}
}
