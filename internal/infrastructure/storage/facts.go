package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"vestnik/internal/domain"
	"vestnik/internal/ports"
)

// FactRepo memoizes stage-1 summaries in the post_facts table.
type FactRepo struct {
	db *sql.DB
}

var _ ports.FactCache = (*FactRepo)(nil)

// Lookup bulk-fetches facts for the given keys; absent keys are simply not in
// the result.
func (r *FactRepo) Lookup(ctx context.Context, keys []domain.FactKey) (map[domain.FactKey]domain.FactItem, error) {
	out := make(map[domain.FactKey]domain.FactItem, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	match := make(sq.Or, 0, len(keys))
	for _, k := range keys {
		match = append(match, sq.Eq{"channel_ref": k.ChannelRef, "message_id": k.MessageID})
	}

	query, args, err := builder.
		Select("channel_ref", "message_id", "text_sha256", "summary", "url", "channel_name", "model").
		From("post_facts").
		Where(match).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build fact lookup: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query post_facts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f domain.FactItem
		if err := rows.Scan(&f.ChannelRef, &f.MessageID, &f.TextSHA256, &f.Summary, &f.URL, &f.ChannelName, &f.Model); err != nil {
			return nil, fmt.Errorf("scan post_facts: %w", err)
		}
		out[f.Key()] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post_facts: %w", err)
	}

	return out, nil
}

// Upsert writes facts back, last-writer-wins per (channel_ref, message_id).
// Stale overwrites self-correct because callers re-validate the content hash
// on the next read.
func (r *FactRepo) Upsert(ctx context.Context, items []domain.FactItem) error {
	if len(items) == 0 {
		return nil
	}

	ins := builder.
		Insert("post_facts").
		Columns("channel_ref", "message_id", "text_sha256", "summary", "url", "channel_name", "model")
	for _, f := range items {
		ins = ins.Values(f.ChannelRef, f.MessageID, f.TextSHA256, f.Summary, f.URL, f.ChannelName, f.Model)
	}
	ins = ins.Suffix(`on conflict (channel_ref, message_id) do update set
	  text_sha256 = excluded.text_sha256,
	  summary = excluded.summary,
	  url = excluded.url,
	  channel_name = excluded.channel_name,
	  model = excluded.model,
	  updated_at = now()`)

	query, args, err := ins.ToSql()
	if err != nil {
		return fmt.Errorf("build fact upsert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert post_facts: %w", err)
	}
	return nil
}
