package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-lessons/internal/diagnostic"
	"github.com/p-n-ai/pai-lessons/internal/lessonflow"
	"github.com/p-n-ai/pai-lessons/internal/platform/database"
)

const dbTimeout = 5 * time.Second

const selectProgress = `SELECT user_id, lesson_id, segments, unique_seconds, threshold_pct, video_ended,
        diagnostics, diagnostic_source, state, completed_at, updated_at
 FROM lesson_progress
 WHERE user_id = $1 AND lesson_id = $2`

// PostgresStore is a PostgreSQL-backed Store. Each update takes a row lock
// (SELECT ... FOR UPDATE) inside a transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed progress store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return scanRecord(s.pool.QueryRow(ctx, selectProgress, key.UserID, key.LessonID), key)
}

func (s *PostgresStore) RecordWatch(ctx context.Context, key Key, update WatchUpdate) (*Record, error) {
	return s.update(ctx, key, update.ThresholdPct, true, func(rec *Record, now time.Time) {
		applyWatch(rec, update, now)
	})
}

func (s *PostgresStore) SaveDiagnostics(ctx context.Context, key Key, thresholdPct float64, source diagnostic.Source, results []diagnostic.Result) (*Record, error) {
	return s.update(ctx, key, thresholdPct, true, func(rec *Record, now time.Time) {
		applyDiagnostics(rec, source, results, now)
	})
}

func (s *PostgresStore) SaveState(ctx context.Context, key Key, state lessonflow.State) (*Record, error) {
	return s.update(ctx, key, 0, false, func(rec *Record, now time.Time) {
		applyState(rec, state, now)
	})
}

func (s *PostgresStore) Reset(ctx context.Context, key Key) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM lesson_augmentations WHERE user_id = $1 AND lesson_id = $2`,
			key.UserID, key.LessonID,
		); err != nil {
			return fmt.Errorf("delete augmentations: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM lesson_progress WHERE user_id = $1 AND lesson_id = $2`,
			key.UserID, key.LessonID,
		); err != nil {
			return fmt.Errorf("delete progress: %w", err)
		}
		return nil
	})
}

// update locks the row for key, applies fn and writes the result back in a
// single transaction.
func (s *PostgresStore) update(ctx context.Context, key Key, thresholdPct float64, create bool, fn func(*Record, time.Time)) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var out *Record
	err := database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if create {
			// Make sure a row exists so FOR UPDATE has something to lock.
			if _, err := tx.Exec(ctx,
				`INSERT INTO lesson_progress (user_id, lesson_id, threshold_pct)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (user_id, lesson_id) DO NOTHING`,
				key.UserID, key.LessonID, thresholdPct,
			); err != nil {
				return fmt.Errorf("ensure progress row: %w", err)
			}
		}

		rec, err := scanRecord(tx.QueryRow(ctx, selectProgress+" FOR UPDATE", key.UserID, key.LessonID), key)
		if err != nil {
			return err
		}

		// Postgres keeps microseconds; match it so returned records equal reads.
		fn(rec, time.Now().Truncate(time.Microsecond))

		if err := writeRecord(ctx, tx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func writeRecord(ctx context.Context, tx pgx.Tx, rec *Record) error {
	segments, err := json.Marshal(rec.Segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}
	diagnostics, err := json.Marshal(rec.Diagnostics)
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE lesson_progress
		 SET segments = $3::jsonb,
		     unique_seconds = $4,
		     video_ended = $5,
		     diagnostics = $6::jsonb,
		     diagnostic_source = $7,
		     state = $8,
		     completed_at = $9,
		     updated_at = $10
		 WHERE user_id = $1 AND lesson_id = $2`,
		rec.UserID,
		rec.LessonID,
		string(segments),
		rec.UniqueSeconds,
		rec.VideoEnded,
		string(diagnostics),
		string(rec.DiagnosticSource),
		string(rec.State),
		rec.CompletedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row, key Key) (*Record, error) {
	rec := &Record{}
	var segments, diagnostics []byte
	var source, state string

	err := row.Scan(
		&rec.UserID,
		&rec.LessonID,
		&segments,
		&rec.UniqueSeconds,
		&rec.ThresholdPct,
		&rec.VideoEnded,
		&diagnostics,
		&source,
		&state,
		&rec.CompletedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("get progress: %w", err)
	}

	if err := json.Unmarshal(segments, &rec.Segments); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}
	if err := json.Unmarshal(diagnostics, &rec.Diagnostics); err != nil {
		return nil, fmt.Errorf("decode diagnostics: %w", err)
	}
	rec.DiagnosticSource = diagnostic.Source(source)
	rec.State = lessonflow.State(state)
	return rec, nil
}

func (s *PostgresStore) SyncAugmentations(ctx context.Context, key Key, planned []AugmentationRecord) ([]AugmentationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	ids := make([]string, 0, len(planned))
	for _, p := range planned {
		ids = append(ids, p.ID)
	}

	var out []AugmentationRecord
	err := database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM lesson_augmentations
			 WHERE user_id = $1 AND lesson_id = $2 AND NOT (id = ANY($3))`,
			key.UserID, key.LessonID, ids,
		); err != nil {
			return fmt.Errorf("delete stale augmentations: %w", err)
		}

		for i, p := range planned {
			if _, err := tx.Exec(ctx,
				`INSERT INTO lesson_augmentations (id, user_id, lesson_id, rule_index, objective_id, asset_ref, position)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 ON CONFLICT (user_id, lesson_id, id) DO UPDATE SET position = EXCLUDED.position`,
				p.ID, key.UserID, key.LessonID, p.RuleIndex, p.ObjectiveID, p.AssetRef, i,
			); err != nil {
				return fmt.Errorf("upsert augmentation: %w", err)
			}
		}

		var err error
		out, err = listAugmentations(ctx, tx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ListAugmentations(ctx context.Context, key Key) ([]AugmentationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	return listAugmentations(ctx, s.pool, key)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listAugmentations(ctx context.Context, q querier, key Key) ([]AugmentationRecord, error) {
	rows, err := q.Query(ctx,
		`SELECT id, rule_index, objective_id, asset_ref, completed_at
		 FROM lesson_augmentations
		 WHERE user_id = $1 AND lesson_id = $2
		 ORDER BY position ASC, created_at ASC`,
		key.UserID, key.LessonID,
	)
	if err != nil {
		return nil, fmt.Errorf("query augmentations: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AugmentationRecord, error) {
		var a AugmentationRecord
		err := row.Scan(&a.ID, &a.RuleIndex, &a.ObjectiveID, &a.AssetRef, &a.CompletedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan augmentations: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CompleteAugmentation(ctx context.Context, key Key, id string, at time.Time) (AugmentationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var a AugmentationRecord
	err := s.pool.QueryRow(ctx,
		`UPDATE lesson_augmentations
		 SET completed_at = COALESCE(completed_at, $4)
		 WHERE user_id = $1 AND lesson_id = $2 AND id = $3
		 RETURNING id, rule_index, objective_id, asset_ref, completed_at`,
		key.UserID, key.LessonID, id, at,
	).Scan(&a.ID, &a.RuleIndex, &a.ObjectiveID, &a.AssetRef, &a.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AugmentationRecord{}, fmt.Errorf("%w: augmentation %s for %s", ErrNotFound, id, key)
		}
		return AugmentationRecord{}, fmt.Errorf("complete augmentation: %w", err)
	}
	return a, nil
}
