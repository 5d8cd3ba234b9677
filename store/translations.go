package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Translation is one line of one language file.
type Translation struct {
	File string // localization folder name
	Key  string
	Lang string
	Body string
}

// InsertTranslations stores rows in one transaction, skipping rows whose
// (file, key, lang, body) already exists. It returns the number of new rows.
func (s *Store) InsertTranslations(ctx context.Context, rows []Translation) (int64, error) {
	var inserted int64
	err := s.op(ctx, "insert_translations", func(ctx context.Context) (int64, error) {
		addedAt := formatTime(s.now())
		return s.tx(ctx, func(tx *sql.Tx) (int64, error) {
			stmt, err := tx.PrepareContext(ctx, insertTranslation)
			if err != nil {
				return 0, err
			}
			defer stmt.Close()

			for _, r := range rows {
				res, err := stmt.ExecContext(ctx, r.File, r.Key, r.Lang, r.Body, addedAt)
				if err != nil {
					return 0, fmt.Errorf("insert %s/%s/%s: %w", r.File, r.Lang, r.Key, err)
				}
				n, _ := res.RowsAffected()
				inserted += n
			}
			return inserted, nil
		})
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
