package export

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	kerrors "github.com/kawashirov/vrc-localization-checker/errors"
	"github.com/kawashirov/vrc-localization-checker/telemetry"
)

// Worksheet is one tab of a spreadsheet.
type Worksheet struct {
	ID    int64
	Title string
	Rows  int
	Cols  int
}

func (w Worksheet) String() string {
	return fmt.Sprintf("worksheet %q (%dx%d)", w.Title, w.Rows, w.Cols)
}

// Sheets opens spreadsheets by id.
type Sheets interface {
	Open(ctx context.Context, spreadsheetID string) (Spreadsheet, error)
}

// Spreadsheet is an opened spreadsheet.
type Spreadsheet interface {
	Title() string
	Worksheets(ctx context.Context) ([]Worksheet, error)
	AddWorksheet(ctx context.Context, title string, rows, cols int) (Worksheet, error)
	Resize(ctx context.Context, ws Worksheet, rows, cols int) (Worksheet, error)

	// Update writes values with their top-left corner at cell (A1 notation).
	Update(ctx context.Context, ws Worksheet, cell string, values [][]interface{}) error
}

// GoogleSheets opens spreadsheets through the Sheets API with a service
// account key.
type GoogleSheets struct {
	opts []option.ClientOption
}

// NewGoogleSheets authenticates with the service account keyfile. Extra
// options are appended after the credentials.
func NewGoogleSheets(keyfile string, opts ...option.ClientOption) *GoogleSheets {
	var all []option.ClientOption
	if keyfile != "" {
		all = append(all,
			option.WithCredentialsFile(keyfile),
			option.WithScopes(sheets.SpreadsheetsScope),
		)
	}
	return &GoogleSheets{opts: append(all, opts...)}
}

// Open implements Sheets.
func (g *GoogleSheets) Open(ctx context.Context, spreadsheetID string) (Spreadsheet, error) {
	svc, err := sheets.NewService(ctx, g.opts...)
	if err != nil {
		return nil, kerrors.Wrap(err, "creating sheets client")
	}
	s := &googleSpreadsheet{svc: svc, id: spreadsheetID}
	doc, err := s.get(ctx, "spreadsheetId,properties.title")
	if err != nil {
		return nil, err
	}
	if doc.Properties != nil {
		s.title = doc.Properties.Title
	}
	return s, nil
}

type googleSpreadsheet struct {
	svc   *sheets.Service
	id    string
	title string
}

func (s *googleSpreadsheet) Title() string { return s.title }

func (s *googleSpreadsheet) get(ctx context.Context, fields googleapi.Field) (doc *sheets.Spreadsheet, err error) {
	ctx, span := telemetry.GetTracer().StartSheetsSpan(ctx, "get", s.id)
	defer func() { telemetry.GetTracer().EndSheetsSpan(span, err) }()

	doc, err = s.svc.Spreadsheets.Get(s.id).Fields(fields).Context(ctx).Do()
	if err != nil {
		return nil, kerrors.Wrap(err, "opening spreadsheet "+s.id)
	}
	return doc, nil
}

func (s *googleSpreadsheet) Worksheets(ctx context.Context) ([]Worksheet, error) {
	doc, err := s.get(ctx, "sheets.properties(sheetId,title,gridProperties(rowCount,columnCount))")
	if err != nil {
		return nil, err
	}
	out := make([]Worksheet, 0, len(doc.Sheets))
	for _, sh := range doc.Sheets {
		if sh.Properties != nil {
			out = append(out, worksheetOf(sh.Properties))
		}
	}
	return out, nil
}

func (s *googleSpreadsheet) AddWorksheet(ctx context.Context, title string, rows, cols int) (Worksheet, error) {
	resp, err := s.batchUpdate(ctx, "add_sheet", &sheets.Request{
		AddSheet: &sheets.AddSheetRequest{
			Properties: &sheets.SheetProperties{
				Title: title,
				GridProperties: &sheets.GridProperties{
					RowCount:    int64(rows),
					ColumnCount: int64(cols),
				},
			},
		},
	})
	if err != nil {
		return Worksheet{}, err
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return Worksheet{}, kerrors.Internal("add sheet reply has no properties")
	}
	return worksheetOf(resp.Replies[0].AddSheet.Properties), nil
}

func (s *googleSpreadsheet) Resize(ctx context.Context, ws Worksheet, rows, cols int) (Worksheet, error) {
	_, err := s.batchUpdate(ctx, "resize", &sheets.Request{
		UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
			Properties: &sheets.SheetProperties{
				SheetId: ws.ID,
				GridProperties: &sheets.GridProperties{
					RowCount:    int64(rows),
					ColumnCount: int64(cols),
				},
				// The first sheet has id 0.
				ForceSendFields: []string{"SheetId"},
			},
			Fields: "gridProperties(rowCount,columnCount)",
		},
	})
	if err != nil {
		return ws, err
	}
	ws.Rows, ws.Cols = rows, cols
	return ws, nil
}

func (s *googleSpreadsheet) batchUpdate(ctx context.Context, op string, reqs ...*sheets.Request) (resp *sheets.BatchUpdateSpreadsheetResponse, err error) {
	ctx, span := telemetry.GetTracer().StartSheetsSpan(ctx, op, s.id)
	defer func() { telemetry.GetTracer().EndSheetsSpan(span, err) }()

	resp, err = s.svc.Spreadsheets.BatchUpdate(s.id, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: reqs,
	}).Context(ctx).Do()
	if err != nil {
		return nil, kerrors.Wrap(err, op+" on spreadsheet "+s.id)
	}
	return resp, nil
}

func (s *googleSpreadsheet) Update(ctx context.Context, ws Worksheet, cell string, values [][]interface{}) (err error) {
	ctx, span := telemetry.GetTracer().StartSheetsSpan(ctx, "update", s.id)
	defer func() { telemetry.GetTracer().EndSheetsSpan(span, err) }()

	_, err = s.svc.Spreadsheets.Values.Update(s.id, a1Range(ws.Title, cell), &sheets.ValueRange{
		Values: values,
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return kerrors.Wrap(err, "updating "+ws.String())
	}
	return nil
}

func worksheetOf(p *sheets.SheetProperties) Worksheet {
	ws := Worksheet{ID: p.SheetId, Title: p.Title}
	if p.GridProperties != nil {
		ws.Rows = int(p.GridProperties.RowCount)
		ws.Cols = int(p.GridProperties.ColumnCount)
	}
	return ws
}

// a1Range quotes title for use in an A1 range.
func a1Range(title, cell string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'!" + cell
}
