package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PickParams selects translation pairs that still need suggestions.
type PickParams struct {
	SourceLang     string
	TargetLang     string
	ModelID        string
	MinSuggestions int // pairs with at least this many suggestions are skipped
	Limit          int
}

// Pair is a source translation and its target-language counterpart.
type Pair struct {
	File             string
	Key              string
	SourceID         int64
	TargetID         int64
	SourceBody       string
	TargetBody       string
	SourceAddedAt    time.Time
	TargetAddedAt    time.Time
	SuggestionsCount int
}

// String identifies the pair in log lines.
func (p Pair) String() string {
	return fmt.Sprintf("translation №%d -> №%d on string (%q, %q)", p.SourceID, p.TargetID, p.File, p.Key)
}

// Extra is another language's latest translation of the same string.
type Extra struct {
	ID   int64
	Lang string
	Body string
}

// Suggestion is one model review of a pair. Body is nil when the model had
// no correction.
type Suggestion struct {
	SourceID         int64
	TargetID         int64
	ModelID          string
	Body             *string
	Comment          *string
	Interval         time.Duration
	CompletionTokens int
	PromptTokens     int
	Fingerprint      string
}

// ExportRow is a stored correction joined with the strings it applies to.
type ExportRow struct {
	File       string
	Key        string
	SourceBody string
	TargetBody string
	Suggestion string
	Comment    string
	AddedAt    time.Time
}

// Values returns the row as spreadsheet cells.
func (r ExportRow) Values() []interface{} {
	return []interface{}{
		r.File, r.Key, r.SourceBody, r.TargetBody, r.Suggestion, r.Comment,
		r.AddedAt.Format(time.RFC3339),
	}
}

// PickStrings returns up to p.Limit latest pairs that differ between the two
// languages and have fewer than p.MinSuggestions latest suggestions from
// p.ModelID, least reviewed and oldest first.
func (s *Store) PickStrings(ctx context.Context, p PickParams) ([]Pair, error) {
	var pairs []Pair
	err := s.op(ctx, "pick_strings", func(ctx context.Context) (int64, error) {
		rows, err := s.db.QueryContext(ctx, pickStrings,
			p.TargetLang, p.SourceLang, p.ModelID, p.MinSuggestions, p.Limit)
		if err != nil {
			return 0, err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				pair            Pair
				targetAt, srcAt string
			)
			if err := rows.Scan(&pair.File, &pair.Key, &pair.SourceID, &pair.TargetID,
				&pair.SourceBody, &pair.TargetBody, &targetAt, &srcAt, &pair.SuggestionsCount); err != nil {
				return 0, err
			}
			if pair.TargetAddedAt, err = parseTime(targetAt); err != nil {
				return 0, err
			}
			if pair.SourceAddedAt, err = parseTime(srcAt); err != nil {
				return 0, err
			}
			pairs = append(pairs, pair)
		}
		return int64(len(pairs)), rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return pairs, nil
}

// PickExtra returns the latest translations of the pair's string in every
// other language whose body differs from both sides of the pair.
func (s *Store) PickExtra(ctx context.Context, pair Pair, sourceLang, targetLang string) ([]Extra, error) {
	var extra []Extra
	err := s.op(ctx, "pick_extra", func(ctx context.Context) (int64, error) {
		rows, err := s.db.QueryContext(ctx, pickExtra,
			pair.File, pair.Key, targetLang, sourceLang, pair.SourceBody, pair.TargetBody)
		if err != nil {
			return 0, err
		}
		defer rows.Close()

		for rows.Next() {
			var e Extra
			if err := rows.Scan(&e.ID, &e.Lang, &e.Body); err != nil {
				return 0, err
			}
			extra = append(extra, e)
		}
		return int64(len(extra)), rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return extra, nil
}

// InsertSuggestion stores one suggestion and returns its id.
func (s *Store) InsertSuggestion(ctx context.Context, sg Suggestion) (int64, error) {
	var id int64
	err := s.op(ctx, "insert_suggestion", func(ctx context.Context) (int64, error) {
		return s.tx(ctx, func(tx *sql.Tx) (int64, error) {
			res, err := tx.ExecContext(ctx, insertSuggestion,
				sg.SourceID, sg.TargetID, sg.ModelID, formatTime(s.now()),
				nullString(sg.Body), nullString(sg.Comment),
				sg.Interval.Milliseconds(), nullInt(sg.CompletionTokens), nullInt(sg.PromptTokens),
				nullString(&sg.Fingerprint))
			if err != nil {
				return 0, err
			}
			id, err = res.LastInsertId()
			return 1, err
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store suggestion: %w", err)
	}
	return id, nil
}

// SelectSuggestions returns every stored correction by modelID, oldest first.
// Reviews without a correction are left out.
func (s *Store) SelectSuggestions(ctx context.Context, modelID string) ([]ExportRow, error) {
	var out []ExportRow
	err := s.op(ctx, "select_suggestions", func(ctx context.Context) (int64, error) {
		rows, err := s.db.QueryContext(ctx, selectSuggestions, modelID)
		if err != nil {
			return 0, err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				r       ExportRow
				addedAt string
			)
			if err := rows.Scan(&r.File, &r.Key, &r.SourceBody, &r.TargetBody,
				&r.Suggestion, &r.Comment, &addedAt); err != nil {
				return 0, err
			}
			if r.AddedAt, err = parseTime(addedAt); err != nil {
				return 0, err
			}
			out = append(out, r)
		}
		return int64(len(out)), rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}
