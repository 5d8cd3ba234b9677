package store

// schemaVersion is stored in PRAGMA user_version after Migrate.
const schemaVersion = 1

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// View names accepted by RefreshViews.
const (
	LatestTranslations = "latest_translations"
	LatestSuggestions  = "latest_suggestions"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS translations (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		string_file TEXT NOT NULL,
		string_key  TEXT NOT NULL,
		lang_code   TEXT NOT NULL,
		string_body TEXT NOT NULL,
		added_at    TEXT NOT NULL,
		UNIQUE (string_file, string_key, lang_code, string_body)
	)`,
	`CREATE TABLE IF NOT EXISTS latest_translations (
		id          INTEGER PRIMARY KEY,
		string_file TEXT NOT NULL,
		string_key  TEXT NOT NULL,
		lang_code   TEXT NOT NULL,
		string_body TEXT NOT NULL,
		added_at    TEXT NOT NULL,
		UNIQUE (string_file, string_key, lang_code)
	)`,
	`CREATE INDEX IF NOT EXISTS latest_translations_lang
		ON latest_translations (lang_code, string_file, string_key)`,
	`CREATE TABLE IF NOT EXISTS suggestions (
		id                     INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id              INTEGER NOT NULL REFERENCES translations (id),
		target_id              INTEGER NOT NULL REFERENCES translations (id),
		model_id               TEXT NOT NULL,
		added_at               TEXT NOT NULL,
		suggestion_string_body TEXT,
		suggestion_comment     TEXT,
		interval_ms            INTEGER,
		completion_tokens      INTEGER,
		prompt_tokens          INTEGER,
		system_fingerprint     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS suggestions_model
		ON suggestions (model_id, added_at)`,
	`CREATE TABLE IF NOT EXISTS latest_suggestions (
		id                     INTEGER PRIMARY KEY,
		source_id              INTEGER NOT NULL,
		target_id              INTEGER NOT NULL,
		model_id               TEXT NOT NULL,
		added_at               TEXT NOT NULL,
		suggestion_string_body TEXT,
		suggestion_comment     TEXT,
		interval_ms            INTEGER,
		completion_tokens      INTEGER,
		prompt_tokens          INTEGER,
		system_fingerprint     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS latest_suggestions_pair
		ON latest_suggestions (model_id, source_id, target_id)`,
}

// refresh holds the statements that rebuild each derived table.
var refresh = map[string][]string{
	LatestTranslations: {
		`DELETE FROM latest_translations`,
		`INSERT INTO latest_translations (id, string_file, string_key, lang_code, string_body, added_at)
		SELECT id, string_file, string_key, lang_code, string_body, added_at FROM (
			SELECT t.*, ROW_NUMBER() OVER (
				PARTITION BY string_file, string_key, lang_code
				ORDER BY added_at DESC, id DESC
			) AS rn
			FROM translations AS t
		) WHERE rn = 1`,
	},
	LatestSuggestions: {
		`DELETE FROM latest_suggestions`,
		`INSERT INTO latest_suggestions
		SELECT s.* FROM suggestions AS s
		WHERE s.source_id IN (SELECT id FROM latest_translations)
		  AND s.target_id IN (SELECT id FROM latest_translations)`,
	},
}

const insertTranslation = `INSERT OR IGNORE INTO translations
	(string_file, string_key, lang_code, string_body, added_at)
	VALUES (?, ?, ?, ?, ?)`

const pickStrings = `WITH
pairs AS (
	SELECT
		lt_target.string_file,
		lt_target.string_key,
		lt_source.id          AS source_id,
		lt_target.id          AS target_id,
		lt_source.string_body AS source_string_body,
		lt_target.string_body AS target_string_body,
		lt_target.added_at    AS target_added_at,
		lt_source.added_at    AS source_added_at
	FROM latest_translations AS lt_target
	JOIN latest_translations AS lt_source
		ON lt_target.string_file = lt_source.string_file
		AND lt_target.string_key = lt_source.string_key
	WHERE lt_target.lang_code = ?
		AND lt_source.lang_code = ?
		AND lt_source.string_body != lt_target.string_body
),
sugg_counts AS (
	SELECT source_id, target_id, COUNT(added_at) AS cnt
	FROM latest_suggestions
	WHERE model_id = ?
	GROUP BY source_id, target_id
),
joined AS (
	SELECT pairs.*, COALESCE(sugg_counts.cnt, 0) AS suggestions_count
	FROM pairs
	LEFT JOIN sugg_counts
		ON pairs.source_id = sugg_counts.source_id
		AND pairs.target_id = sugg_counts.target_id
)
SELECT string_file, string_key, source_id, target_id,
	source_string_body, target_string_body,
	target_added_at, source_added_at, suggestions_count
FROM joined
WHERE suggestions_count < ?
ORDER BY suggestions_count ASC, target_added_at ASC, source_added_at ASC, target_id ASC
LIMIT ?`

const pickExtra = `SELECT id, lang_code, string_body
FROM latest_translations
WHERE string_file = ?
	AND string_key = ?
	AND lang_code != ?
	AND lang_code != ?
	AND string_body != ?
	AND string_body != ?
ORDER BY lang_code`

const insertSuggestion = `INSERT INTO suggestions
	(source_id, target_id, model_id, added_at,
	suggestion_string_body, suggestion_comment,
	interval_ms, completion_tokens, prompt_tokens, system_fingerprint)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectSuggestions = `SELECT
	lt_source.string_file,
	lt_source.string_key,
	lt_source.string_body,
	lt_target.string_body,
	s.suggestion_string_body,
	COALESCE(s.suggestion_comment, ''),
	s.added_at
FROM suggestions AS s
JOIN translations AS lt_source ON s.source_id = lt_source.id
JOIN translations AS lt_target ON s.target_id = lt_target.id
WHERE s.model_id = ?
	AND s.suggestion_string_body IS NOT NULL
ORDER BY s.added_at ASC, s.id ASC`
