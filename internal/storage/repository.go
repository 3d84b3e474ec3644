package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	priceColumns = `id,
        crop_type,
        price_per_unit,
        unit,
        quality,
        location,
        effective_date,
        status,
        is_verified,
        created_at`

	findRecentPricesSQL = `SELECT ` + priceColumns + `
    FROM price_records
    WHERE status = 'APPROVED'
      AND is_verified
      AND crop_type ILIKE '%' || $1 || '%'
      AND location ILIKE '%' || $2 || '%'
      AND ($3::text IS NULL OR quality = $3)
    ORDER BY effective_date DESC
    LIMIT $4;`

	findSeasonalPricesSQL = `SELECT ` + priceColumns + `
    FROM price_records
    WHERE status = 'APPROVED'
      AND is_verified
      AND crop_type ILIKE '%' || $1 || '%'
      AND location ILIKE '%' || $2 || '%'
      AND EXTRACT(MONTH FROM effective_date) = $3
      AND EXTRACT(YEAR FROM effective_date) = $4
    ORDER BY effective_date DESC;`

	listPricesBetweenSQL = `SELECT ` + priceColumns + `
    FROM price_records
    WHERE status = 'APPROVED'
      AND is_verified
      AND crop_type ILIKE '%' || $1 || '%'
      AND location ILIKE '%' || $2 || '%'
      AND effective_date >= $3
      AND effective_date < $4
    ORDER BY effective_date;`

	listActiveSubscriptionsSQL = `SELECT
        id,
        owner_id,
        crop_type,
        location,
        quality,
        alert_type,
        frequency,
        threshold_pct,
        is_active,
        last_triggered_at,
        created_at
    FROM alert_subscriptions
    WHERE is_active
    ORDER BY created_at;`

	updateLastTriggeredSQL = `UPDATE alert_subscriptions
    SET last_triggered_at = $2
    WHERE id = $1
      AND last_triggered_at IS NOT DISTINCT FROM $3;`

	insertNotificationSQL = `INSERT INTO alert_notifications (
        id,
        subscription_id,
        owner_id,
        title,
        message,
        alert_type,
        crop_type,
        location,
        old_price,
        new_price,
        change_pct,
        status,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    );`

	countPendingNotificationsSQL = `SELECT COUNT(*)
    FROM alert_notifications
    WHERE owner_id = $1
      AND status = 'PENDING';`

	listRecentNotificationsSQL = `SELECT
        id,
        subscription_id,
        owner_id,
        title,
        message,
        alert_type,
        crop_type,
        location,
        old_price,
        new_price,
        change_pct,
        status,
        created_at
    FROM alert_notifications
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteExpiredNotificationsSQL = `DELETE FROM alert_notifications
    WHERE created_at < $1
      AND status = ANY($2);`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PriceStore defines the read-only queries over historical price records.
type PriceStore interface {
	FindRecentApprovedPrices(ctx context.Context, cropType, location string, quality *Quality, limit int) ([]PriceRecord, error)
	FindSeasonalPrices(ctx context.Context, cropType, location string, month time.Month, year int) ([]PriceRecord, error)
}

// SubscriptionStore defines operations over alert subscriptions.
type SubscriptionStore interface {
	ListActiveSubscriptions(ctx context.Context) ([]AlertSubscription, error)
	// UpdateLastTriggered claims a firing with an optimistic guard on the
	// previously observed last_triggered_at. False means another cycle won.
	UpdateLastTriggered(ctx context.Context, id string, now time.Time, prev *time.Time) (bool, error)
}

// NotificationStore persists and queries outbound notifications.
type NotificationStore interface {
	InsertNotification(ctx context.Context, note AlertNotification) error
	CountPendingNotifications(ctx context.Context, ownerID string) (int, error)
	ListRecentNotifications(ctx context.Context, limit int) ([]AlertNotification, error)
	DeleteExpiredNotifications(ctx context.Context, before time.Time, statuses []NotificationStatus) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to prices, subscriptions, and notifications.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best effort: the lock is released anyway when the connection closes.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// FindRecentApprovedPrices lists the most recent approved + verified records
// matching crop/location substrings, newest first. A nil quality matches any grade.
func (s *Store) FindRecentApprovedPrices(ctx context.Context, cropType, location string, quality *Quality, limit int) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var qualityArg interface{}
	if quality != nil {
		qualityArg = string(*quality)
	}

	rows, queryErr := pool.Query(ctx, findRecentPricesSQL, cropType, location, qualityArg, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("find recent prices: %w", queryErr)
	}
	defer rows.Close()

	return collectPriceRecords(rows, limit)
}

// FindSeasonalPrices lists approved + verified records for one calendar
// month of one year, newest first.
func (s *Store) FindSeasonalPrices(ctx context.Context, cropType, location string, month time.Month, year int) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, findSeasonalPricesSQL, cropType, location, int(month), year)
	if queryErr != nil {
		return nil, fmt.Errorf("find seasonal prices: %w", queryErr)
	}
	defer rows.Close()

	return collectPriceRecords(rows, 0)
}

// ListPricesBetween lists approved + verified records within a time window,
// oldest first. Used by the export command.
func (s *Store) ListPricesBetween(ctx context.Context, cropType, location string, from, to time.Time) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPricesBetweenSQL, cropType, location, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list prices between: %w", queryErr)
	}
	defer rows.Close()

	return collectPriceRecords(rows, 0)
}

// ListActiveSubscriptions lists subscriptions with is_active = true.
func (s *Store) ListActiveSubscriptions(ctx context.Context) ([]AlertSubscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveSubscriptionsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", queryErr)
	}
	defer rows.Close()

	subs := make([]AlertSubscription, 0)
	for rows.Next() {
		sub, scanErr := scanSubscription(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

// UpdateLastTriggered sets last_triggered_at guarded by its previous value.
func (s *Store) UpdateLastTriggered(ctx context.Context, id string, now time.Time, prev *time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var prevArg interface{}
	if prev != nil {
		prevArg = *prev
	}

	cmdTag, execErr := pool.Exec(ctx, updateLastTriggeredSQL, id, now, prevArg)
	if execErr != nil {
		return false, fmt.Errorf("update last triggered: %w", execErr)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// InsertNotification persists one outbound notification.
func (s *Store) InsertNotification(ctx context.Context, note AlertNotification) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertNotificationSQL,
		note.ID,
		note.SubscriptionID,
		note.OwnerID,
		note.Title,
		note.Message,
		string(note.AlertType),
		note.CropType,
		note.Location,
		note.OldPrice.String(),
		note.NewPrice.String(),
		note.ChangePct.String(),
		string(note.Status),
		note.CreatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert notification: %w", execErr)
	}
	return nil
}

// CountPendingNotifications counts PENDING notifications for one owner.
func (s *Store) CountPendingNotifications(ctx context.Context, ownerID string) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int
	if scanErr := pool.QueryRow(ctx, countPendingNotificationsSQL, ownerID).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count pending notifications: %w", scanErr)
	}
	return count, nil
}

// ListRecentNotifications lists most recent notifications across all owners.
func (s *Store) ListRecentNotifications(ctx context.Context, limit int) ([]AlertNotification, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentNotificationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent notifications: %w", queryErr)
	}
	defer rows.Close()

	notes := make([]AlertNotification, 0, limit)
	for rows.Next() {
		note, scanErr := scanNotification(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		notes = append(notes, note)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return notes, nil
}

// DeleteExpiredNotifications deletes notifications created before the cutoff
// whose status is in the given set.
func (s *Store) DeleteExpiredNotifications(ctx context.Context, before time.Time, statuses []NotificationStatus) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	set := make([]string, 0, len(statuses))
	for _, st := range statuses {
		set = append(set, string(st))
	}

	cmdTag, execErr := pool.Exec(ctx, deleteExpiredNotificationsSQL, before, set)
	if execErr != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

func collectPriceRecords(rows pgx.Rows, sizeHint int) ([]PriceRecord, error) {
	records := make([]PriceRecord, 0, sizeHint)
	for rows.Next() {
		record, scanErr := scanPriceRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanPriceRecord(rows pgx.Rows) (PriceRecord, error) {
	var (
		record   PriceRecord
		priceStr string
		quality  string
		status   string
	)

	if err := rows.Scan(
		&record.ID,
		&record.CropType,
		&priceStr,
		&record.Unit,
		&quality,
		&record.Location,
		&record.EffectiveDate,
		&status,
		&record.IsVerified,
		&record.CreatedAt,
	); err != nil {
		return PriceRecord{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse price per unit: %w", err)
	}

	record.PricePerUnit = price
	record.Quality = Quality(quality)
	record.Status = PriceStatus(status)
	return record, nil
}

func scanSubscription(rows pgx.Rows) (AlertSubscription, error) {
	var (
		sub       AlertSubscription
		quality   sql.NullString
		alertType string
		frequency string
		lastAt    sql.NullTime
	)

	if err := rows.Scan(
		&sub.ID,
		&sub.OwnerID,
		&sub.CropType,
		&sub.Location,
		&quality,
		&alertType,
		&frequency,
		&sub.ThresholdPct,
		&sub.IsActive,
		&lastAt,
		&sub.CreatedAt,
	); err != nil {
		return AlertSubscription{}, err
	}

	if quality.Valid {
		q := Quality(quality.String)
		sub.Quality = &q
	}
	if lastAt.Valid {
		at := lastAt.Time
		sub.LastTriggeredAt = &at
	}
	sub.AlertType = AlertType(alertType)
	sub.Frequency = Frequency(frequency)
	return sub, nil
}

func scanNotification(rows pgx.Rows) (AlertNotification, error) {
	var (
		note      AlertNotification
		alertType string
		status    string
		oldStr    string
		newStr    string
		changeStr string
	)

	if err := rows.Scan(
		&note.ID,
		&note.SubscriptionID,
		&note.OwnerID,
		&note.Title,
		&note.Message,
		&alertType,
		&note.CropType,
		&note.Location,
		&oldStr,
		&newStr,
		&changeStr,
		&status,
		&note.CreatedAt,
	); err != nil {
		return AlertNotification{}, err
	}

	var convErr error
	note.OldPrice, convErr = decimal.NewFromString(oldStr)
	if convErr != nil {
		return AlertNotification{}, fmt.Errorf("parse old price: %w", convErr)
	}
	note.NewPrice, convErr = decimal.NewFromString(newStr)
	if convErr != nil {
		return AlertNotification{}, fmt.Errorf("parse new price: %w", convErr)
	}
	note.ChangePct, convErr = decimal.NewFromString(changeStr)
	if convErr != nil {
		return AlertNotification{}, fmt.Errorf("parse change pct: %w", convErr)
	}

	note.AlertType = AlertType(alertType)
	note.Status = NotificationStatus(status)
	return note, nil
}
