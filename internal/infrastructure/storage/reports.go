package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"vestnik/internal/domain"
	"vestnik/internal/ports"
)

// ReportRepo is the insert-only report cache. A row for (user, pack, window,
// input hash) is a pure function of what stage-2 would produce, so a hit here
// is semantically equivalent to redoing the call.
type ReportRepo struct {
	db *sql.DB
}

var _ ports.ReportCache = (*ReportRepo)(nil)

// Find returns the most recent matching report or nil.
func (r *ReportRepo) Find(ctx context.Context, userID int64, packKey string, w domain.ReportWindow, inputHash string) (*domain.Report, error) {
	query, args, err := builder.
		Select("id", "user_id", "pack_id", "pack_key", "period_start", "period_end",
			"report_text", "input_hash", "stage2_model", "fact_count", "created_at").
		From("reports").
		Where(sq.Eq{
			"user_id":      userID,
			"pack_key":     packKey,
			"period_start": w.Start.UTC(),
			"period_end":   w.End.UTC(),
			"input_hash":   inputHash,
		}).
		OrderBy("created_at desc").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build report find: %w", err)
	}

	var rep domain.Report
	var packID sql.NullInt64
	row := r.db.QueryRowContext(ctx, query, args...)
	err = row.Scan(&rep.ID, &rep.UserID, &packID, &rep.PackKey, &rep.Window.Start, &rep.Window.End,
		&rep.Text, &rep.InputHash, &rep.Model, &rep.FactCount, &rep.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	if packID.Valid {
		rep.PackID = packID.Int64
	}
	return &rep, nil
}

// Save inserts a new report row; existing rows are never updated or deleted.
// Assigns the id when the caller did not.
func (r *ReportRepo) Save(ctx context.Context, rep *domain.Report) error {
	if rep.ID == "" {
		rep.ID = uuid.New().String()
	}

	query, args, err := builder.
		Insert("reports").
		Columns("id", "user_id", "pack_id", "pack_key", "period_start", "period_end",
			"report_text", "input_hash", "stage2_model", "fact_count").
		Values(rep.ID, rep.UserID, rep.PackID, rep.PackKey, rep.Window.Start.UTC(), rep.Window.End.UTC(),
			rep.Text, rep.InputHash, rep.Model, rep.FactCount).
		ToSql()
	if err != nil {
		return fmt.Errorf("build report insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}
