package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"vestnik/internal/domain"
	"vestnik/internal/ports"
)

// PostRepo reads and writes the harvested posts_cache table.
type PostRepo struct {
	db *sql.DB
}

var _ ports.PostLoader = (*PostRepo)(nil)
var _ ports.HarvestStore = (*PostRepo)(nil)

// PostsInWindow returns live posts of the given channels inside [start, end),
// most recent first. That order is part of the report identity downstream.
func (r *PostRepo) PostsInWindow(ctx context.Context, refs []string, w domain.ReportWindow, limit int) ([]domain.Post, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	query, args, err := builder.
		Select("channel_ref", "message_id", "url", "text", "parsed_at").
		From("posts_cache").
		Where(sq.Eq{"is_deleted": false}).
		Where(sq.Gt{"expires_at": time.Now().UTC()}).
		Where(sq.GtOrEq{"parsed_at": w.Start.UTC()}).
		Where(sq.Lt{"parsed_at": w.End.UTC()}).
		Where(sq.Eq{"channel_ref": refs}).
		OrderBy("parsed_at desc").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build window query: %w", err)
	}

	return r.queryPosts(ctx, query, args)
}

// UnsentPosts returns live posts of the given channels that the user has no
// delivery reservation for yet, most recent first.
func (r *PostRepo) UnsentPosts(ctx context.Context, userID int64, refs []string, limit int) ([]domain.Post, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	query, args, err := builder.
		Select("p.channel_ref", "p.message_id", "p.url", "p.text", "p.parsed_at").
		From("posts_cache p").
		LeftJoin("deliveries d on d.user_id = ? and d.channel_ref = p.channel_ref and d.message_id = p.message_id", userID).
		Where("d.id is null").
		Where(sq.Eq{"p.is_deleted": false}).
		Where(sq.Gt{"p.expires_at": time.Now().UTC()}).
		Where(sq.Eq{"p.channel_ref": refs}).
		OrderBy("p.parsed_at desc").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unsent query: %w", err)
	}

	return r.queryPosts(ctx, query, args)
}

func (r *PostRepo) queryPosts(ctx context.Context, query string, args []any) ([]domain.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts_cache: %w", err)
	}
	defer rows.Close()

	var out []domain.Post
	for rows.Next() {
		var p domain.Post
		if err := rows.Scan(&p.ChannelRef, &p.MessageID, &p.URL, &p.Text, &p.ParsedAt); err != nil {
			return nil, fmt.Errorf("scan posts_cache: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts_cache: %w", err)
	}
	return out, nil
}

// ActiveChannels lists channels the harvester should visit.
func (r *PostRepo) ActiveChannels(ctx context.Context) ([]domain.Channel, error) {
	query, args, err := builder.
		Select("id", "username", "title", "is_active").
		From("channels").
		Where(sq.Eq{"is_active": true}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build channels query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		var c domain.Channel
		if err := rows.Scan(&c.ID, &c.Username, &c.Title, &c.IsActive); err != nil {
			return nil, fmt.Errorf("scan channels: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return out, nil
}

// LastMessageID returns the newest harvested message id of a channel, 0 when
// the channel has no live posts yet.
func (r *PostRepo) LastMessageID(ctx context.Context, channelRef string) (int64, error) {
	query, args, err := builder.
		Select("coalesce(max(message_id::bigint), 0)").
		From("posts_cache").
		Where(sq.Eq{"channel_ref": channelRef, "is_deleted": false}).
		Where("message_id ~ '^[0-9]+$'").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build last-id query: %w", err)
	}

	var last int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&last); err != nil {
		return 0, fmt.Errorf("query last message id: %w", err)
	}
	return last, nil
}

// UpsertPosts inserts freshly harvested posts, skipping already-known pairs.
func (r *PostRepo) UpsertPosts(ctx context.Context, posts []domain.Post, expiresAt time.Time) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	ins := builder.
		Insert("posts_cache").
		Columns("channel_ref", "message_id", "url", "text", "parsed_at", "expires_at")
	for _, p := range posts {
		parsedAt := p.ParsedAt
		if parsedAt.IsZero() {
			parsedAt = time.Now().UTC()
		}
		ins = ins.Values(p.ChannelRef, p.MessageID, p.URL, p.Text, parsedAt.UTC(), expiresAt.UTC())
	}
	ins = ins.Suffix("on conflict (channel_ref, message_id) do nothing")

	query, args, err := ins.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build post insert: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert posts_cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpdateChannelTitle backfills a channel title discovered during harvesting.
// Only empty titles are filled; operator-set titles stay.
func (r *PostRepo) UpdateChannelTitle(ctx context.Context, channelID int64, title string) error {
	if title == "" {
		return nil
	}
	query, args, err := builder.
		Update("channels").
		Set("title", title).
		Where(sq.Eq{"id": channelID}).
		Where("coalesce(title, '') = ''").
		ToSql()
	if err != nil {
		return fmt.Errorf("build title update: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update channel title: %w", err)
	}
	return nil
}

// CleanupExpired marks expired posts deleted so loaders stop seeing them.
// The harvester owns retention; the pipeline itself never deletes rows.
func (r *PostRepo) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	query, args, err := builder.
		Update("posts_cache").
		Set("is_deleted", true).
		Where(sq.Eq{"is_deleted": false}).
		Where(sq.LtOrEq{"expires_at": now.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build cleanup: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup posts_cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
