package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kawashirov/vrc-localization-checker/gate"
	"github.com/kawashirov/vrc-localization-checker/shutdown"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func openTestStore(t *testing.T) (*Store, *shutdown.Signal) {
	t.Helper()
	signal := shutdown.NewSignal(nil)
	g, err := gate.NewRegistry(signal).Declare(gate.DatabaseConnection, 2)
	require.NoError(t, err)

	s, err := Open(filepath.Join(t.TempDir(), "sub", "test.db"), g, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := &testClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s.now = clock.now

	require.NoError(t, s.Migrate(context.Background()))
	return s, signal
}

func strptr(s string) *string { return &s }

// seed stores two generations of a small UI folder.
func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	_, err := s.InsertTranslations(ctx, []Translation{
		{"ui", "greeting", "en", "Hello"},
		{"ui", "greeting", "ru", "Привет"},
		{"ui", "greeting", "de", "Hallo"},
		{"ui", "mirror", "en", "Mirror"},
		{"ui", "mirror", "ru", "Зеркло"},
		{"ui", "mirror", "de", "Mirror"},
		{"ui", "ok", "en", "OK"},
		{"ui", "ok", "ru", "OK"},
	})
	require.NoError(t, err)
	require.NoError(t, s.RefreshViews(ctx, LatestTranslations, LatestSuggestions))
}

func TestOpenMigrateVersion(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	v, err := s.Version(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, v)

	// Migrate is idempotent.
	require.NoError(t, s.Migrate(ctx))
}

func TestMigrateRejectsNewerSchema(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	assert.ErrorIs(t, err, ErrSchemaTooNew)
}

func TestInsertTranslationsIgnoresDuplicates(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	rows := []Translation{{"ui", "a", "en", "A"}, {"ui", "b", "en", "B"}}
	n, err := s.InsertTranslations(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.InsertTranslations(ctx, append(rows, Translation{"ui", "a", "en", "A2"}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM translations").Scan(&count))
	assert.Equal(t, 3, count)
}

func TestRefreshViewsKeepsNewest(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertTranslations(ctx, []Translation{{"ui", "a", "ru", "old"}})
	require.NoError(t, err)
	_, err = s.InsertTranslations(ctx, []Translation{{"ui", "a", "ru", "new"}})
	require.NoError(t, err)
	require.NoError(t, s.RefreshViews(ctx, LatestTranslations))

	var body string
	require.NoError(t, s.db.QueryRow(
		"SELECT string_body FROM latest_translations WHERE string_key = 'a'").Scan(&body))
	assert.Equal(t, "new", body)

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM latest_translations").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRefreshViewsUnknown(t *testing.T) {
	s, _ := openTestStore(t)
	err := s.RefreshViews(context.Background(), LatestTranslations, "pg_stat")
	assert.ErrorIs(t, err, ErrUnknownView)
}

func TestPickStrings(t *testing.T) {
	s, _ := openTestStore(t)
	seed(t, s)
	ctx := context.Background()

	params := PickParams{SourceLang: "en", TargetLang: "ru", ModelID: "m1", MinSuggestions: 1, Limit: 10}
	pairs, err := s.PickStrings(ctx, params)
	require.NoError(t, err)

	// "ok" is identical in both languages and is never picked.
	require.Len(t, pairs, 2)
	assert.Equal(t, "greeting", pairs[0].Key)
	assert.Equal(t, "mirror", pairs[1].Key)
	assert.Equal(t, "Hello", pairs[0].SourceBody)
	assert.Equal(t, "Привет", pairs[0].TargetBody)
	assert.Equal(t, 0, pairs[0].SuggestionsCount)
	assert.False(t, pairs[0].TargetAddedAt.IsZero())
	assert.Contains(t, pairs[1].String(), `on string ("ui", "mirror")`)

	params.Limit = 1
	limited, err := s.PickStrings(ctx, params)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPickStringsSkipsReviewedPairs(t *testing.T) {
	s, _ := openTestStore(t)
	seed(t, s)
	ctx := context.Background()

	params := PickParams{SourceLang: "en", TargetLang: "ru", ModelID: "m1", MinSuggestions: 1, Limit: 10}
	pairs, err := s.PickStrings(ctx, params)
	require.NoError(t, err)
	greeting := pairs[0]

	// A review without a correction still counts.
	_, err = s.InsertSuggestion(ctx, Suggestion{
		SourceID: greeting.SourceID, TargetID: greeting.TargetID, ModelID: "m1",
		Interval: 1500 * time.Millisecond, PromptTokens: 100, CompletionTokens: 5,
	})
	require.NoError(t, err)
	require.NoError(t, s.RefreshViews(ctx, LatestSuggestions))

	pairs, err = s.PickStrings(ctx, params)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "mirror", pairs[0].Key)

	// Other models and higher thresholds still see it.
	params.ModelID = "m2"
	pairs, err = s.PickStrings(ctx, params)
	require.NoError(t, err)
	assert.Len(t, pairs, 2)

	params.ModelID = "m1"
	params.MinSuggestions = 2
	pairs, err = s.PickStrings(ctx, params)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "mirror", pairs[0].Key, "least reviewed first")
	assert.Equal(t, 1, pairs[1].SuggestionsCount)
}

func TestPickStringsIgnoresStaleSuggestions(t *testing.T) {
	s, _ := openTestStore(t)
	seed(t, s)
	ctx := context.Background()

	params := PickParams{SourceLang: "en", TargetLang: "ru", ModelID: "m1", MinSuggestions: 1, Limit: 10}
	pairs, err := s.PickStrings(ctx, params)
	require.NoError(t, err)
	mirror := pairs[1]

	_, err = s.InsertSuggestion(ctx, Suggestion{
		SourceID: mirror.SourceID, TargetID: mirror.TargetID, ModelID: "m1",
		Body: strptr("Зеркало"),
	})
	require.NoError(t, err)

	// The translation is fixed upstream; the old review no longer applies.
	_, err = s.InsertTranslations(ctx, []Translation{{"ui", "mirror", "ru", "Зеркала"}})
	require.NoError(t, err)
	require.NoError(t, s.RefreshViews(ctx, LatestTranslations, LatestSuggestions))

	pairs, err = s.PickStrings(ctx, params)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "Зеркала", pairs[1].TargetBody)
	assert.Equal(t, 0, pairs[1].SuggestionsCount)
}

func TestPickExtra(t *testing.T) {
	s, _ := openTestStore(t)
	seed(t, s)
	ctx := context.Background()

	_, err := s.InsertTranslations(ctx, []Translation{
		{"ui", "greeting", "fr", "Bonjour"},
		{"ui", "greeting", "uk", "Привет"}, // same as target, skipped
		{"other", "greeting", "es", "Hola"},
	})
	require.NoError(t, err)
	require.NoError(t, s.RefreshViews(ctx, LatestTranslations))

	pairs, err := s.PickStrings(ctx, PickParams{SourceLang: "en", TargetLang: "ru", ModelID: "m", MinSuggestions: 1, Limit: 10})
	require.NoError(t, err)

	extra, err := s.PickExtra(ctx, pairs[0], "en", "ru")
	require.NoError(t, err)
	require.Len(t, extra, 2)
	assert.Equal(t, "de", extra[0].Lang)
	assert.Equal(t, "Hallo", extra[0].Body)
	assert.Equal(t, "fr", extra[1].Lang)

	// "Mirror" in German equals the source and is left out.
	extra, err = s.PickExtra(ctx, pairs[1], "en", "ru")
	require.NoError(t, err)
	assert.Empty(t, extra)
}

func TestSelectSuggestions(t *testing.T) {
	s, _ := openTestStore(t)
	seed(t, s)
	ctx := context.Background()

	pairs, err := s.PickStrings(ctx, PickParams{SourceLang: "en", TargetLang: "ru", ModelID: "m1", MinSuggestions: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	insert := func(p Pair, model string, body, comment *string) {
		_, err := s.InsertSuggestion(ctx, Suggestion{
			SourceID: p.SourceID, TargetID: p.TargetID, ModelID: model,
			Body: body, Comment: comment, Fingerprint: "fp_1",
		})
		require.NoError(t, err)
	}
	insert(pairs[1], "m1", strptr("Зеркало"), strptr("Пропущена буква"))
	insert(pairs[0], "m1", nil, strptr("Всё верно"))
	insert(pairs[0], "m1", strptr("Здравствуйте"), nil)
	insert(pairs[0], "m2", strptr("Приветствую"), nil)

	rows, err := s.SelectSuggestions(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "mirror", rows[0].Key)
	assert.Equal(t, "Mirror", rows[0].SourceBody)
	assert.Equal(t, "Зеркло", rows[0].TargetBody)
	assert.Equal(t, "Зеркало", rows[0].Suggestion)
	assert.Equal(t, "Пропущена буква", rows[0].Comment)

	assert.Equal(t, "greeting", rows[1].Key)
	assert.Equal(t, "", rows[1].Comment)
	assert.True(t, rows[0].AddedAt.Before(rows[1].AddedAt))
	assert.Len(t, rows[1].Values(), 7)

	var fp, tokens interface{}
	require.NoError(t, s.db.QueryRow(
		"SELECT system_fingerprint, prompt_tokens FROM suggestions LIMIT 1").Scan(&fp, &tokens))
	assert.Equal(t, "fp_1", fp)
	assert.Nil(t, tokens, "zero token counts are stored as NULL")
}

func TestOperationsAbortOnShutdown(t *testing.T) {
	s, signal := openTestStore(t)
	signal.Request("test")

	_, err := s.Version(context.Background())
	assert.ErrorIs(t, err, shutdown.ErrAborted)

	_, err = s.InsertTranslations(context.Background(), []Translation{{"ui", "a", "en", "A"}})
	assert.ErrorIs(t, err, shutdown.ErrAborted)
}

func TestOperationsReportContextCause(t *testing.T) {
	s, _ := openTestStore(t)
	cause := errors.New("task cancelled")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)

	_, err := s.PickStrings(ctx, PickParams{SourceLang: "en", TargetLang: "ru", Limit: 1, MinSuggestions: 1})
	require.Error(t, err)
}
