// Package export writes stored corrections of one model to a Google
// spreadsheet for human review.
package export

import (
	"context"
	"regexp"

	kerrors "github.com/kawashirov/vrc-localization-checker/errors"
	"github.com/kawashirov/vrc-localization-checker/logging"
	"github.com/kawashirov/vrc-localization-checker/store"
	"github.com/kawashirov/vrc-localization-checker/task"
)

// Extra rows and the column count of a new or grown worksheet.
const (
	spareRows = 10
	minCols   = 10
)

var cellPattern = regexp.MustCompile(`^[A-Z]+[1-9][0-9]*$`)

// Store is the part of store.Store the exporter reads from.
type Store interface {
	SelectSuggestions(ctx context.Context, modelID string) ([]store.ExportRow, error)
}

// Config locates the target worksheet.
type Config struct {
	SpreadsheetID string
	ModelID       string

	// Worksheet defaults to ModelID.
	Worksheet string

	// StartCell defaults to B5.
	StartCell string
}

// Exporter builds the task tree of one export run.
type Exporter struct {
	cfg    Config
	store  Store
	sheets Sheets

	spreadsheet Spreadsheet
	rows        []store.ExportRow
}

// New creates an Exporter.
func New(cfg Config, st Store, sh Sheets) (*Exporter, error) {
	if cfg.SpreadsheetID == "" {
		return nil, kerrors.New(kerrors.ErrCodeConfig, "spreadsheet id is required")
	}
	if cfg.ModelID == "" {
		return nil, kerrors.New(kerrors.ErrCodeConfig, "model id is required")
	}
	if cfg.Worksheet == "" {
		cfg.Worksheet = cfg.ModelID
	}
	if cfg.StartCell == "" {
		cfg.StartCell = "B5"
	}
	if !cellPattern.MatchString(cfg.StartCell) {
		return nil, kerrors.Newf(kerrors.ErrCodeConfig, "start cell %q is not in A1 notation", cfg.StartCell)
	}
	return &Exporter{cfg: cfg, store: st, sheets: sh}, nil
}

// Body is the root task: connect and load concurrently, then write.
func (e *Exporter) Body() task.Body {
	return task.Group(task.GroupFuncs{
		Prepare: func(ctx context.Context, t *task.Task) error {
			t.Spawn("connect", "connect", e.connect)
			t.Spawn("load", "load", e.load)
			return nil
		},
		Finalize:           e.write,
		StopOnFirstFailure: true,
	})
}

func (e *Exporter) connect(ctx context.Context, t *task.Task) error {
	log := t.Logger()
	log.Info("Connecting to spreadsheet", logging.Fields{"id": e.cfg.SpreadsheetID})
	sp, err := e.sheets.Open(ctx, e.cfg.SpreadsheetID)
	if err != nil {
		return err
	}
	e.spreadsheet = sp
	log.Info("Connected to spreadsheet", logging.Fields{"title": sp.Title()})
	return nil
}

func (e *Exporter) load(ctx context.Context, t *task.Task) error {
	log := t.Logger()
	log.Info("Loading suggestions", logging.Fields{"model": e.cfg.ModelID})
	rows, err := e.store.SelectSuggestions(ctx, e.cfg.ModelID)
	if err != nil {
		return err
	}
	e.rows = rows
	log.Info("Loaded suggestions", logging.Fields{"model": e.cfg.ModelID, "count": len(rows)})
	return nil
}

func (e *Exporter) write(ctx context.Context, t *task.Task) error {
	log := t.Logger()
	ws, err := e.prepareWorksheet(ctx, t)
	if err != nil {
		return err
	}
	if err := t.CheckOrAbort(); err != nil {
		return err
	}

	values := make([][]interface{}, len(e.rows))
	for i, r := range e.rows {
		values[i] = r.Values()
	}
	log.Info("Updating worksheet", logging.Fields{"worksheet": ws.Title, "cell": e.cfg.StartCell, "rows": len(values)})
	if err := e.spreadsheet.Update(ctx, ws, e.cfg.StartCell, values); err != nil {
		return err
	}
	log.Info("Updated worksheet", logging.Fields{"worksheet": ws.Title})
	return nil
}

// prepareWorksheet finds the target worksheet, adding it or growing it to
// fit every row plus spare ones.
func (e *Exporter) prepareWorksheet(ctx context.Context, t *task.Task) (Worksheet, error) {
	log := t.Logger()
	needRows := len(e.rows) + spareRows

	sheets, err := e.spreadsheet.Worksheets(ctx)
	if err != nil {
		return Worksheet{}, err
	}
	for _, ws := range sheets {
		if ws.Title != e.cfg.Worksheet {
			continue
		}
		log.Info("Found worksheet", logging.Fields{"worksheet": ws.String()})
		rows, cols := max(needRows, ws.Rows), max(minCols, ws.Cols)
		if rows == ws.Rows && cols == ws.Cols {
			return ws, nil
		}
		grown, err := e.spreadsheet.Resize(ctx, ws, rows, cols)
		if err != nil {
			return Worksheet{}, err
		}
		log.Info("Resized worksheet", logging.Fields{"worksheet": grown.String()})
		return grown, nil
	}

	ws, err := e.spreadsheet.AddWorksheet(ctx, e.cfg.Worksheet, needRows, minCols)
	if err != nil {
		return Worksheet{}, err
	}
	log.Info("Added worksheet", logging.Fields{"worksheet": ws.String()})
	return ws, nil
}
