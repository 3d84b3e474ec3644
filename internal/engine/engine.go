package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"crop-price-alerts/internal/alerting"
	"crop-price-alerts/internal/storage"
)

const (
	historyLimit    = 10
	minGroupRecords = 2
	// anyQuality marks groups whose subscriptions do not filter on grade.
	anyQuality = "ANY"
)

// noiseFloorPct discards sequential changes of one percent or less.
var noiseFloorPct = decimal.NewFromInt(1)

// Options tune engine behaviour.
type Options struct {
	Workers       int
	RetentionDays int
}

// Engine periodically scans stored prices against active subscriptions and
// emits throttled notifications. Stateless between cycles.
type Engine struct {
	prices        storage.PriceStore
	subscriptions storage.SubscriptionStore
	notifications storage.NotificationStore
	notifier      alerting.Notifier
	logger        zerolog.Logger
	workers       int
	retentionDays int
	now           func() time.Time
}

// New constructs a detection engine. The notifier may be nil; dispatch is
// then limited to the persisted notification record.
func New(prices storage.PriceStore, subscriptions storage.SubscriptionStore, notifications storage.NotificationStore, notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	retention := opts.RetentionDays
	if retention <= 0 {
		retention = 30
	}

	return &Engine{
		prices:        prices,
		subscriptions: subscriptions,
		notifications: notifications,
		notifier:      notifier,
		logger:        logger.With().Str("component", "engine").Logger(),
		workers:       workers,
		retentionDays: retention,
		now:           time.Now,
	}
}

type groupKey struct {
	crop     string
	location string
	quality  string
}

// priceChange is one adjacent movement in a descending-by-date price list.
type priceChange struct {
	CropType  string
	Location  string
	Quality   storage.Quality
	Unit      string
	OldPrice  decimal.Decimal
	NewPrice  decimal.Decimal
	ChangePct decimal.Decimal
}

// RunDetectionCycle scans all active subscriptions once. Group failures are
// logged and isolated; only context cancellation surfaces as an error.
func (e *Engine) RunDetectionCycle(ctx context.Context) error {
	subs, err := e.subscriptions.ListActiveSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("list active subscriptions: %w", err)
	}
	if len(subs) == 0 {
		e.logger.Debug().Msg("no active subscriptions")
		return nil
	}

	groups := groupSubscriptions(subs)
	e.logger.Info().Int("subscriptions", len(subs)).Int("groups", len(groups)).Msg("starting detection cycle")

	workers := errgroup.Group{}
	workers.SetLimit(e.workers)

	for key, members := range groups {
		if ctx.Err() != nil {
			break
		}
		key, members := key, members
		workers.Go(func() error {
			e.processGroup(ctx, key, members)
			return nil
		})
	}

	_ = workers.Wait()
	return ctx.Err()
}

// groupSubscriptions buckets subscriptions by crop/location/quality so each
// distinct triple is queried once per cycle.
func groupSubscriptions(subs []storage.AlertSubscription) map[groupKey][]storage.AlertSubscription {
	groups := make(map[groupKey][]storage.AlertSubscription)
	for _, sub := range subs {
		if sub.ThresholdPct <= 0 {
			continue
		}
		quality := anyQuality
		if sub.Quality != nil {
			quality = string(*sub.Quality)
		}
		key := groupKey{
			crop:     strings.ToLower(sub.CropType),
			location: strings.ToLower(sub.Location),
			quality:  quality,
		}
		groups[key] = append(groups[key], sub)
	}
	return groups
}

func (e *Engine) processGroup(ctx context.Context, key groupKey, subs []storage.AlertSubscription) {
	var quality *storage.Quality
	if key.quality != anyQuality {
		q := storage.Quality(key.quality)
		quality = &q
	}

	records, err := e.prices.FindRecentApprovedPrices(ctx, key.crop, key.location, quality, historyLimit)
	if err != nil {
		e.logger.Error().Err(err).Str("crop", key.crop).Str("location", key.location).Msg("group price query failed")
		return
	}
	if len(records) < minGroupRecords {
		return
	}

	changes := sequentialChanges(records)
	if len(changes) == 0 {
		return
	}

	for _, sub := range subs {
		e.processSubscription(ctx, sub, changes)
	}
}

// sequentialChanges walks adjacent pairs of the descending-by-date list and
// keeps movements above the noise floor.
func sequentialChanges(records []storage.PriceRecord) []priceChange {
	changes := make([]priceChange, 0, len(records)-1)
	for i := 0; i+1 < len(records); i++ {
		newer, older := records[i], records[i+1]
		if older.PricePerUnit.IsZero() {
			continue
		}
		pct := newer.PricePerUnit.Sub(older.PricePerUnit).Div(older.PricePerUnit).Mul(decimal.NewFromInt(100))
		if pct.Abs().LessThanOrEqual(noiseFloorPct) {
			continue
		}
		changes = append(changes, priceChange{
			CropType:  newer.CropType,
			Location:  newer.Location,
			Quality:   newer.Quality,
			Unit:      newer.Unit,
			OldPrice:  older.PricePerUnit,
			NewPrice:  newer.PricePerUnit,
			ChangePct: pct,
		})
	}
	return changes
}

func (e *Engine) processSubscription(ctx context.Context, sub storage.AlertSubscription, changes []priceChange) {
	for _, change := range changes {
		if !matchesSubscription(sub, change) {
			continue
		}
		if !ShouldTrigger(sub, change.ChangePct, e.now().UTC()) {
			continue
		}
		firedAt, fired, err := e.fire(ctx, sub, change)
		if err != nil {
			e.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("failed to emit notification")
			return
		}
		if !fired {
			// Another cycle claimed this firing.
			return
		}
		// Track the persisted timestamp so the next claim's guard matches.
		sub.LastTriggeredAt = &firedAt
	}
}

// matchesSubscription re-checks a change against the subscription's own
// filters: substring crop/location, exact quality unless unset.
func matchesSubscription(sub storage.AlertSubscription, change priceChange) bool {
	if !strings.Contains(strings.ToLower(change.CropType), strings.ToLower(sub.CropType)) {
		return false
	}
	if !strings.Contains(strings.ToLower(change.Location), strings.ToLower(sub.Location)) {
		return false
	}
	if sub.Quality != nil && *sub.Quality != change.Quality {
		return false
	}
	return true
}

// ShouldTrigger gates one change against a subscription's threshold,
// frequency, and alert type.
func ShouldTrigger(sub storage.AlertSubscription, changePct decimal.Decimal, now time.Time) bool {
	if changePct.Abs().LessThan(decimal.NewFromFloat(sub.ThresholdPct)) {
		return false
	}

	if sub.LastTriggeredAt != nil {
		if gap := sub.Frequency.MinGap(); gap > 0 && now.Sub(*sub.LastTriggeredAt) < gap {
			return false
		}
	}

	switch sub.AlertType {
	case storage.AlertPriceIncrease:
		return changePct.Sign() > 0
	case storage.AlertPriceDecrease:
		return changePct.Sign() < 0
	default:
		// Volatility, regional, quality, and seasonal types currently pass
		// once threshold and frequency do; they carry no extra detection yet.
		return true
	}
}

// fire claims the firing via the optimistic last-triggered guard, persists
// the notification, and best-effort dispatches it. The returned time is the
// exact value persisted as last_triggered_at.
func (e *Engine) fire(ctx context.Context, sub storage.AlertSubscription, change priceChange) (time.Time, bool, error) {
	now := e.now().UTC()

	claimed, err := e.subscriptions.UpdateLastTriggered(ctx, sub.ID, now, sub.LastTriggeredAt)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("claim firing: %w", err)
	}
	if !claimed {
		e.logger.Debug().Str("subscription_id", sub.ID).Msg("firing already claimed by a concurrent cycle")
		return time.Time{}, false, nil
	}

	title, message := alerting.Render(sub.AlertType, alerting.TemplateData{
		CropType:  change.CropType,
		Location:  change.Location,
		Unit:      change.Unit,
		OldPrice:  change.OldPrice,
		NewPrice:  change.NewPrice,
		ChangePct: change.ChangePct,
	})

	note := storage.AlertNotification{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		OwnerID:        sub.OwnerID,
		Title:          title,
		Message:        message,
		AlertType:      sub.AlertType,
		CropType:       change.CropType,
		Location:       change.Location,
		OldPrice:       change.OldPrice,
		NewPrice:       change.NewPrice,
		ChangePct:      change.ChangePct,
		Status:         storage.NotificationPending,
		CreatedAt:      now,
	}

	if err := e.notifications.InsertNotification(ctx, note); err != nil {
		return time.Time{}, false, fmt.Errorf("persist notification: %w", err)
	}

	e.logger.Info().Str("subscription_id", sub.ID).
		Str("alert_type", string(sub.AlertType)).
		Str("crop", change.CropType).
		Str("change_pct", change.ChangePct.StringFixed(2)).
		Msg("notification created")

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, note); err != nil {
			e.logger.Error().Err(err).Str("notification_id", note.ID).Msg("dispatch failed")
		}
	}

	return now, true, nil
}

// UnreadNotificationCount counts PENDING notifications for one owner.
func (e *Engine) UnreadNotificationCount(ctx context.Context, ownerID string) (int, error) {
	return e.notifications.CountPendingNotifications(ctx, ownerID)
}

// PurgeOldNotifications deletes READ and DISMISSED notifications older than
// the retention window. PENDING notifications are never purged.
func (e *Engine) PurgeOldNotifications(ctx context.Context) (int64, error) {
	cutoff := e.now().UTC().AddDate(0, 0, -e.retentionDays)
	deleted, err := e.notifications.DeleteExpiredNotifications(ctx, cutoff,
		[]storage.NotificationStatus{storage.NotificationRead, storage.NotificationDismissed})
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	if deleted > 0 {
		e.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("purged expired notifications")
	}
	return deleted, nil
}
