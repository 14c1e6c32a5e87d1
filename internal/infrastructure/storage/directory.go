package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"vestnik/internal/domain"
	"vestnik/internal/ports"
)

// DirectoryRepo resolves subscribers, settings, and pack membership.
type DirectoryRepo struct {
	db *sql.DB
}

var _ ports.Directory = (*DirectoryRepo)(nil)

// Subscribers lists users eligible for delivery at all (deeper gating is
// per-user via Settings).
func (r *DirectoryRepo) Subscribers(ctx context.Context) ([]domain.Subscriber, error) {
	query, args, err := builder.
		Select("u.id", "u.tg_id").
		From("users u").
		LeftJoin("user_settings s on s.user_id = u.id").
		Where("coalesce(s.delivery_enabled, true) = true").
		OrderBy("u.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build subscribers query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var out []domain.Subscriber
	for rows.Next() {
		var s domain.Subscriber
		if err := rows.Scan(&s.ID, &s.TgID); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return out, nil
}

// Settings fetches per-user delivery settings, creating the default row on
// first contact.
func (r *DirectoryRepo) Settings(ctx context.Context, userID int64) (domain.SubscriberSettings, error) {
	ins, insArgs, err := builder.
		Insert("user_settings").
		Columns("user_id").
		Values(userID).
		Suffix("on conflict do nothing").
		ToSql()
	if err != nil {
		return domain.SubscriberSettings{}, fmt.Errorf("build settings insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, ins, insArgs...); err != nil {
		return domain.SubscriberSettings{}, fmt.Errorf("ensure settings row: %w", err)
	}

	query, args, err := builder.
		Select("delivery_enabled", "digest_interval_sec", "last_sent_at", "pause_until", "format_mode").
		From("user_settings").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return domain.SubscriberSettings{}, fmt.Errorf("build settings query: %w", err)
	}

	var (
		s        domain.SubscriberSettings
		interval sql.NullInt64
		lastSent sql.NullTime
		pause    sql.NullTime
	)
	row := r.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&s.DeliveryEnabled, &interval, &lastSent, &pause, &s.FormatMode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SubscriberSettings{DeliveryEnabled: true, FormatMode: "digest"}, nil
		}
		return domain.SubscriberSettings{}, fmt.Errorf("query settings: %w", err)
	}

	if interval.Valid {
		s.IntervalSec = int(interval.Int64)
	}
	if lastSent.Valid {
		t := lastSent.Time
		s.LastSentAt = &t
	}
	if pause.Valid {
		t := pause.Time
		s.PauseUntil = &t
	}
	return s, nil
}

// SubscribedPacks returns the active packs a user enabled, prompts resolved.
func (r *DirectoryRepo) SubscribedPacks(ctx context.Context, userID int64) ([]domain.Pack, error) {
	query, args, err := builder.
		Select("p.id", "p.key", "p.title", "coalesce(pr.text, '')").
		From("user_packs up").
		Join("packs p on p.id = up.pack_id").
		LeftJoin("prompts pr on pr.id = p.prompt_id").
		Where(sq.Eq{"up.user_id": userID, "up.is_enabled": true, "p.is_active": true}).
		OrderBy("p.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build packs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query packs: %w", err)
	}
	defer rows.Close()

	var out []domain.Pack
	for rows.Next() {
		var p domain.Pack
		if err := rows.Scan(&p.ID, &p.Key, &p.Title, &p.PromptText); err != nil {
			return nil, fmt.Errorf("scan pack: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate packs: %w", err)
	}
	return out, nil
}

// PackByKey resolves one pack with its prompt text.
func (r *DirectoryRepo) PackByKey(ctx context.Context, key string) (domain.Pack, error) {
	query, args, err := builder.
		Select("p.id", "p.key", "p.title", "coalesce(pr.text, '')").
		From("packs p").
		LeftJoin("prompts pr on pr.id = p.prompt_id").
		Where(sq.Eq{"p.key": key}).
		Limit(1).
		ToSql()
	if err != nil {
		return domain.Pack{}, fmt.Errorf("build pack query: %w", err)
	}

	var p domain.Pack
	row := r.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&p.ID, &p.Key, &p.Title, &p.PromptText); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Pack{}, fmt.Errorf("pack not found: %s", key)
		}
		return domain.Pack{}, fmt.Errorf("query pack: %w", err)
	}
	return p, nil
}

// ChannelRefs lists the active channel refs of a pack, @-prefix stripped.
func (r *DirectoryRepo) ChannelRefs(ctx context.Context, packID int64) ([]string, error) {
	query, args, err := builder.
		Select("distinct replace(c.username, '@', '')").
		From("pack_channels pc").
		Join("channels c on c.id = pc.channel_id").
		Where(sq.Eq{"pc.pack_id": packID, "c.is_active": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build refs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query refs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan ref: %w", err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refs: %w", err)
	}
	return out, nil
}

// TouchLastSent stamps the user's last successful delivery time.
func (r *DirectoryRepo) TouchLastSent(ctx context.Context, userID int64) error {
	query, args, err := builder.
		Update("user_settings").
		Set("last_sent_at", time.Now().UTC()).
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch update: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("touch last_sent_at: %w", err)
	}
	return nil
}
