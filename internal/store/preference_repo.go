package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/notify"
)

// Contact address keys under Preference.Extra, one per external
// channel.
const (
	ExtraKeyEmail     = "email"
	ExtraKeyPhone     = "phone"
	ExtraKeyPushToken = "push_token"
)

// PreferenceRepository persists per-user notification preferences. It
// also resolves contact addresses for the delivery senders.
type PreferenceRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPreferenceRepository creates a preference repository.
func NewPreferenceRepository(db *DB, logger *zap.Logger) *PreferenceRepository {
	return &PreferenceRepository{
		db:     db,
		logger: logger,
	}
}

// GetByUser retrieves a user's preference row. ErrNotFound when the
// user has never been seen.
func (r *PreferenceRepository) GetByUser(ctx context.Context, userID uuid.UUID) (*notify.Preference, error) {
	query := `
		SELECT user_id, channels, categories, quiet_start, quiet_end, extra,
		       created_at, updated_at
		FROM preferences
		WHERE user_id = $1
	`

	p, err := scanPreference(r.db.Pool().QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query preference: %w", err)
	}

	return p, nil
}

// GetOrCreate retrieves a user's preference, lazily inserting the
// default row on first access. Concurrent first accesses are safe; the
// insert is a no-op when another writer won.
func (r *PreferenceRepository) GetOrCreate(ctx context.Context, userID uuid.UUID) (*notify.Preference, error) {
	p, err := r.GetByUser(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	def := notify.DefaultPreference(userID)
	if err := r.insert(ctx, def); err != nil {
		return nil, err
	}

	r.logger.Info("created default preference",
		zap.String("user_id", userID.String()),
	)

	return r.GetByUser(ctx, userID)
}

// Update replaces a user's preference after validating it. The row
// must already exist.
func (r *PreferenceRepository) Update(ctx context.Context, p *notify.Preference) error {
	if err := p.Validate(); err != nil {
		return err
	}

	channels, categories, extra, err := preferenceColumns(p)
	if err != nil {
		return err
	}

	query := `
		UPDATE preferences
		SET channels = $1, categories = $2, quiet_start = $3, quiet_end = $4,
		    extra = $5, updated_at = NOW()
		WHERE user_id = $6
	`

	result, err := r.db.Pool().Exec(ctx, query,
		channels, categories, quietColumn(p.QuietStart), quietColumn(p.QuietEnd),
		extra, p.UserID,
	)
	if err != nil {
		return fmt.Errorf("update preference: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// Contact resolves the delivery address for a user on a channel from
// the preference's extra fields. It satisfies the dispatcher's
// ContactResolver.
func (r *PreferenceRepository) Contact(ctx context.Context, userID uuid.UUID, channel notify.Channel) (string, error) {
	p, err := r.GetByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("resolve contact: %w", err)
	}

	var key string
	switch channel {
	case notify.ChannelEmail:
		key = ExtraKeyEmail
	case notify.ChannelSMS:
		key = ExtraKeyPhone
	case notify.ChannelPush:
		key = ExtraKeyPushToken
	default:
		return "", fmt.Errorf("channel %s has no contact address", channel)
	}

	addr := p.Extra[key]
	if addr == "" {
		return "", fmt.Errorf("no %s on file for user %s", key, userID)
	}

	return addr, nil
}

func (r *PreferenceRepository) insert(ctx context.Context, p *notify.Preference) error {
	channels, categories, extra, err := preferenceColumns(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO preferences (
			user_id, channels, categories, quiet_start, quiet_end, extra,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (user_id) DO NOTHING
	`

	_, err = r.db.Pool().Exec(ctx, query,
		p.UserID, channels, categories,
		quietColumn(p.QuietStart), quietColumn(p.QuietEnd), extra,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert preference: %w", err)
	}

	return nil
}

func preferenceColumns(p *notify.Preference) ([]byte, []byte, []byte, error) {
	channels, err := json.Marshal(p.Channels)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal channels: %w", err)
	}
	categories, err := json.Marshal(p.Categories)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal categories: %w", err)
	}
	extra := p.Extra
	if extra == nil {
		extra = map[string]string{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal extra: %w", err)
	}
	return channels, categories, extraJSON, nil
}

func quietColumn(t *notify.TimeOfDay) *string {
	if t == nil {
		return nil
	}
	s := t.String()
	return &s
}

func scanPreference(row rowScanner) (*notify.Preference, error) {
	var (
		p          notify.Preference
		channels   []byte
		categories []byte
		extra      []byte
		quietStart *string
		quietEnd   *string
	)
	err := row.Scan(
		&p.UserID, &channels, &categories, &quietStart, &quietEnd, &extra,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(channels, &p.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}
	if err := json.Unmarshal(categories, &p.Categories); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &p.Extra); err != nil {
			return nil, fmt.Errorf("unmarshal extra: %w", err)
		}
	}

	if quietStart != nil {
		t, err := notify.ParseTimeOfDay(*quietStart)
		if err != nil {
			return nil, fmt.Errorf("stored quiet_start: %w", err)
		}
		p.QuietStart = &t
	}
	if quietEnd != nil {
		t, err := notify.ParseTimeOfDay(*quietEnd)
		if err != nil {
			return nil, fmt.Errorf("stored quiet_end: %w", err)
		}
		p.QuietEnd = &t
	}

	return &p, nil
}
