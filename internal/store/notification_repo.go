package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/notify"
)

const notificationColumns = `
	id, user_id, title, message, category, channel, state,
	ref_type, ref_id, attempts, last_error, next_attempt_at,
	created_at, sent_at, read_at
`

// NotificationRepository persists notifications and implements the
// conditional updates the dispatcher relies on for claim semantics.
type NotificationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewNotificationRepository creates a notification repository.
func NewNotificationRepository(db *DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a single notification row.
func (r *NotificationRepository) Create(ctx context.Context, n *notify.Notification) error {
	query := `
		INSERT INTO notifications (
			id, user_id, title, message, category, channel, state,
			ref_type, ref_id, attempts, last_error, next_attempt_at,
			created_at, sent_at, read_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`

	refType, refID := refColumns(n.Ref)
	_, err := r.db.Pool().Exec(ctx, query,
		n.ID, n.UserID, n.Title, n.Message, n.Category, n.Channel, n.State,
		refType, refID, n.Attempts, n.LastError, n.NextAttemptAt,
		n.CreatedAt, n.SentAt, n.ReadAt,
	)
	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	return nil
}

// CreateMany inserts a batch of notifications in one round trip. The
// factory uses this to persist a single event's fan-out atomically.
func (r *NotificationRepository) CreateMany(ctx context.Context, ns []*notify.Notification) error {
	if len(ns) == 0 {
		return nil
	}

	query := `
		INSERT INTO notifications (
			id, user_id, title, message, category, channel, state,
			ref_type, ref_id, attempts, last_error, next_attempt_at,
			created_at, sent_at, read_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`

	batch := &pgx.Batch{}
	for _, n := range ns {
		refType, refID := refColumns(n.Ref)
		batch.Queue(query,
			n.ID, n.UserID, n.Title, n.Message, n.Category, n.Channel, n.State,
			refType, refID, n.Attempts, n.LastError, n.NextAttemptAt,
			n.CreatedAt, n.SentAt, n.ReadAt,
		)
	}

	results := r.db.Pool().SendBatch(ctx, batch)
	defer results.Close()

	for range ns {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert notification batch: %w", err)
		}
	}

	return nil
}

// GetByID retrieves a notification by its identifier.
func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*notify.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}

	return n, nil
}

// GetByUser retrieves a user's notifications newest first. With
// unreadOnly set, only rows the user has not read yet are returned;
// terminally failed rows are never part of the unread view.
func (r *NotificationRepository) GetByUser(
	ctx context.Context,
	userID uuid.UUID,
	unreadOnly bool,
	limit int,
	offset int,
) ([]*notify.Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if unreadOnly {
		query = `SELECT ` + notificationColumns + `
			FROM notifications
			WHERE user_id = $1 AND state IN ('pending', 'sent')
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		`
	}

	rows, err := r.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	return collectNotifications(rows)
}

// GetPendingForDelivery retrieves pending notifications whose retry
// delay has elapsed, oldest first.
func (r *NotificationRepository) GetPendingForDelivery(ctx context.Context, limit int) ([]*notify.Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE state = 'pending' AND next_attempt_at <= NOW()
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending notifications: %w", err)
	}
	defer rows.Close()

	return collectNotifications(rows)
}

// ClaimForDelivery atomically claims a pending notification for one
// delivery attempt by pushing next_attempt_at forward as a lease. The
// update is conditional on the attempt count the caller observed, so
// only one dispatcher wins when several race on the same row.
func (r *NotificationRepository) ClaimForDelivery(
	ctx context.Context,
	id uuid.UUID,
	expectedAttempts int,
	lease time.Duration,
) (bool, error) {
	query := `
		UPDATE notifications
		SET next_attempt_at = $1
		WHERE id = $2 AND state = 'pending' AND attempts = $3 AND next_attempt_at <= NOW()
	`

	result, err := r.db.Pool().Exec(ctx, query, time.Now().UTC().Add(lease), id, expectedAttempts)
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// FinishAttempt persists the outcome of a delivery attempt. The write
// is guarded by the attempt count the claim was taken at; a zero row
// count means another dispatcher got there first.
func (r *NotificationRepository) FinishAttempt(ctx context.Context, n *notify.Notification, expectedAttempts int) error {
	query := `
		UPDATE notifications
		SET state = $1, attempts = $2, last_error = $3,
		    next_attempt_at = $4, sent_at = $5
		WHERE id = $6 AND attempts = $7
	`

	result, err := r.db.Pool().Exec(ctx, query,
		n.State, n.Attempts, n.LastError, n.NextAttemptAt, n.SentAt,
		n.ID, expectedAttempts,
	)
	if err != nil {
		return fmt.Errorf("finish delivery attempt: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("finish delivery attempt: notification %s changed concurrently", n.ID)
	}

	return nil
}

// MarkRead transitions a sent notification to read. Marking an
// already-read notification again is a no-op that still reports
// success. It reports false when the notification exists but is not
// readable, for example still pending or terminally failed.
func (r *NotificationRepository) MarkRead(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE notifications
		SET state = 'read', read_at = NOW()
		WHERE id = $1 AND state = 'sent'
	`

	result, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}

	n, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	return n.State == notify.StateRead, nil
}

// MarkAllRead marks every sent notification of a user as read and
// returns how many rows changed.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `
		UPDATE notifications
		SET state = 'read', read_at = NOW()
		WHERE user_id = $1 AND state = 'sent'
	`

	result, err := r.db.Pool().Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}

	return result.RowsAffected(), nil
}

// PurgeReadOlderThan deletes read notifications older than the given
// retention window. Only read rows are eligible; failed rows are kept
// for inspection.
func (r *NotificationRepository) PurgeReadOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM notifications
		WHERE state = 'read' AND read_at < $1
	`

	cutoff := time.Now().UTC().Add(-retention)
	result, err := r.db.Pool().Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge read notifications: %w", err)
	}

	if n := result.RowsAffected(); n > 0 {
		r.logger.Info("purged read notifications",
			zap.Int64("deleted", n),
			zap.Time("cutoff", cutoff),
		)
		return n, nil
	}

	return 0, nil
}

// Stats summarizes one user's notifications.
type Stats struct {
	Total      int                     `json:"total"`
	Unread     int                     `json:"unread"`
	ByState    map[notify.State]int    `json:"by_state"`
	ByChannel  map[notify.Channel]int  `json:"by_channel"`
	ByCategory map[notify.Category]int `json:"by_category"`
}

// GetStats aggregates a user's notification counts by state, channel
// and category.
func (r *NotificationRepository) GetStats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	query := `
		SELECT state, channel, category, COUNT(*)
		FROM notifications
		WHERE user_id = $1
		GROUP BY state, channel, category
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query notification stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{
		ByState:    make(map[notify.State]int),
		ByChannel:  make(map[notify.Channel]int),
		ByCategory: make(map[notify.Category]int),
	}

	for rows.Next() {
		var (
			state    notify.State
			channel  notify.Channel
			category notify.Category
			count    int
		)
		if err := rows.Scan(&state, &channel, &category, &count); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		stats.Total += count
		stats.ByState[state] += count
		stats.ByChannel[channel] += count
		stats.ByCategory[category] += count
		if state == notify.StateSent {
			stats.Unread += count
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats rows: %w", err)
	}

	return stats, nil
}

func refColumns(ref *notify.Ref) (*string, *string) {
	if ref == nil {
		return nil, nil
	}
	return &ref.Type, &ref.ID
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanNotification reads one row, re-validating the closed enums so a
// corrupted or hand-edited row surfaces as an error instead of
// flowing into the state machine.
func scanNotification(row rowScanner) (*notify.Notification, error) {
	var (
		n        notify.Notification
		category string
		channel  string
		state    string
		refType  *string
		refID    *string
	)
	err := row.Scan(
		&n.ID, &n.UserID, &n.Title, &n.Message, &category, &channel, &state,
		&refType, &refID, &n.Attempts, &n.LastError, &n.NextAttemptAt,
		&n.CreatedAt, &n.SentAt, &n.ReadAt,
	)
	if err != nil {
		return nil, err
	}

	if n.Category, err = notify.ParseCategory(category); err != nil {
		return nil, fmt.Errorf("stored category: %w", err)
	}
	if n.Channel, err = notify.ParseChannel(channel); err != nil {
		return nil, fmt.Errorf("stored channel: %w", err)
	}
	if n.State, err = notify.ParseState(state); err != nil {
		return nil, fmt.Errorf("stored state: %w", err)
	}

	if refType != nil && refID != nil {
		n.Ref = &notify.Ref{Type: *refType, ID: *refID}
	}

	return &n, nil
}

func collectNotifications(rows pgx.Rows) ([]*notify.Notification, error) {
	var out []*notify.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return out, nil
}
