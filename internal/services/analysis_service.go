// Package services wires the analysis engines to session state. Handlers
// talk to AnalysisService; engines stay pure and never see a session.
package services

import (
	"context"
	"log/slog"
	"math"

	"datalens/internal/clean"
	"datalens/internal/dataset"
	"datalens/internal/encode"
	"datalens/internal/errors"
	"datalens/internal/forest"
	"datalens/internal/infer"
	"datalens/internal/regress"
	"datalens/internal/session"
	"datalens/internal/stats"
	"datalens/internal/tableio"
)

// defaultPreviewRows is used when a preview request does not say how many.
const defaultPreviewRows = 10

// AnalysisService orchestrates engine calls over session-held datasets.
type AnalysisService struct {
	store  *session.Store
	logger *slog.Logger
}

// NewAnalysisService creates the service with an injected logger.
func NewAnalysisService(store *session.Store, logger *slog.Logger) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisService{
		store:  store,
		logger: logger.With(slog.String("component", "analysis_service")),
	}
}

// PreviewView is the tabular slice returned by preview-style endpoints.
type PreviewView struct {
	SessionID string          `json:"session_id"`
	Filename  string          `json:"filename,omitempty"`
	Columns   []string        `json:"columns"`
	Rows      [][]any         `json:"rows"`
	TotalRows int             `json:"total_rows"`
	TotalCols int             `json:"total_cols"`
	Missing   []ColumnMissing `json:"missing,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
}

// ColumnMissing reports remaining missing values in one column. Cleaning
// responses carry one entry per column that still has gaps.
type ColumnMissing struct {
	Column  string  `json:"column"`
	Missing int     `json:"missing"`
	Pct     float64 `json:"pct"`
}

// CreateSession parses an uploaded table and opens a session around it.
func (s *AnalysisService) CreateSession(ctx context.Context, data []byte, format tableio.Format, hasHeader bool, filename string) (*PreviewView, error) {
	d, err := tableio.Parse(data, format, hasHeader)
	if err != nil {
		return nil, err
	}
	if d.IsEmpty() {
		return nil, errors.Validation("uploaded file contains no data")
	}

	sess := s.store.Create(d, filename)
	s.logger.InfoContext(ctx, "dataset uploaded",
		slog.String("session_id", sess.ID),
		slog.String("format", string(format)),
		slog.Int("rows", d.NumRows()),
		slog.Int("cols", d.NumCols()))

	view := previewOf(d, "head", defaultPreviewRows)
	view.SessionID = sess.ID
	view.Filename = filename
	return view, nil
}

// Preview returns a head/tail/all slice of the session dataset.
func (s *AnalysisService) Preview(ctx context.Context, id, mode string, n int) (*PreviewView, error) {
	var view *PreviewView
	err := s.store.With(id, func(sess *session.Session) error {
		view = previewOf(sess.Dataset, mode, n)
		view.SessionID = sess.ID
		view.Filename = sess.Filename
		return nil
	})
	return view, err
}

// DeleteSession discards a session and all of its artifacts.
func (s *AnalysisService) DeleteSession(ctx context.Context, id string) {
	s.store.Delete(id)
}

// Export serializes the current dataset, or the columns produced by the last
// encoding when encodedOnly is set, in the requested format.
func (s *AnalysisService) Export(ctx context.Context, id string, format tableio.Format, encodedOnly bool) ([]byte, error) {
	var out []byte
	err := s.store.With(id, func(sess *session.Session) error {
		d := sess.Dataset
		if encodedOnly {
			if sess.EncodedData == nil {
				return errors.Validation("no encoding has been applied in this session")
			}
			d = sess.EncodedData
		}
		b, err := tableio.Serialize(d, format)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// TypeSuggestions runs type inference over every column.
func (s *AnalysisService) TypeSuggestions(ctx context.Context, id string) ([]infer.Suggestion, error) {
	var out []infer.Suggestion
	err := s.store.With(id, func(sess *session.Session) error {
		out = infer.SuggestAll(sess.Dataset)
		return nil
	})
	return out, err
}

// Summary computes the descriptive overview of the session dataset.
func (s *AnalysisService) Summary(ctx context.Context, id string) (*stats.Summary, error) {
	var out *stats.Summary
	err := s.store.With(id, func(sess *session.Session) error {
		out = stats.Summarize(sess.Dataset)
		return nil
	})
	return out, err
}

// DuplicatesView pairs the duplicate report with a bounded row preview.
type DuplicatesView struct {
	Count       int          `json:"count"`
	Rows        []int        `json:"rows"`
	Preview     *PreviewView `json:"preview,omitempty"`
	Fingerprint string       `json:"fingerprint"`
}

// FindDuplicates reports duplicate rows without modifying the dataset.
func (s *AnalysisService) FindDuplicates(ctx context.Context, id string) (*DuplicatesView, error) {
	var out *DuplicatesView
	err := s.store.With(id, func(sess *session.Session) error {
		report := clean.FindDuplicates(sess.Dataset)
		out = &DuplicatesView{
			Count:       report.Count,
			Rows:        report.Rows,
			Fingerprint: report.Fingerprint,
		}
		if report.Preview != nil {
			out.Preview = previewOf(report.Preview, "all", report.Preview.NumRows())
		}
		return nil
	})
	return out, err
}

// RemoveDuplicates drops duplicate rows, keeping first occurrences.
func (s *AnalysisService) RemoveDuplicates(ctx context.Context, id string) (*PreviewView, int, error) {
	var (
		view    *PreviewView
		removed int
	)
	err := s.store.With(id, func(sess *session.Session) error {
		out, n := clean.RemoveDuplicates(sess.Dataset)
		if n > 0 {
			sess.ReplaceDataset(out)
		}
		removed = n
		view = previewOf(sess.Dataset, "head", defaultPreviewRows)
		view.SessionID = sess.ID
		view.Missing = missingOverview(sess.Dataset)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	s.logger.InfoContext(ctx, "duplicates removed",
		slog.String("session_id", id), slog.Int("removed", removed))
	return view, removed, nil
}

// DetectOutliers flags outlier cells and stores the report for a later
// handle call.
func (s *AnalysisService) DetectOutliers(ctx context.Context, id string, columns []string, method clean.OutlierMethod, threshold float64) (*clean.OutlierReport, error) {
	var report *clean.OutlierReport
	err := s.store.With(id, func(sess *session.Session) error {
		r, err := clean.DetectOutliers(sess.Dataset, columns, method, threshold)
		if err != nil {
			return err
		}
		sess.OutlierReport = r
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "outliers detected",
		slog.String("session_id", id),
		slog.String("method", string(method)),
		slog.Int("flagged_rows", len(report.RowUnion)))
	return report, nil
}

// HandleOutliers applies a policy to the previously detected outliers and
// swaps the session dataset.
func (s *AnalysisService) HandleOutliers(ctx context.Context, id string, policy clean.OutlierPolicy) (*PreviewView, error) {
	var view *PreviewView
	err := s.store.With(id, func(sess *session.Session) error {
		out, degraded, err := clean.HandleOutliers(sess.Dataset, sess.OutlierReport, policy)
		if err != nil {
			return err
		}
		sess.ReplaceDataset(out)
		view = previewOf(out, "head", defaultPreviewRows)
		view.SessionID = sess.ID
		view.Missing = missingOverview(out)
		for _, w := range degraded {
			view.Warnings = append(view.Warnings, w.Message)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "outliers handled",
		slog.String("session_id", id), slog.String("policy", string(policy)))
	return view, nil
}

// Impute fills missing cells and swaps the session dataset.
func (s *AnalysisService) Impute(ctx context.Context, id string, columns []string, method clean.ImputeMethod) (*clean.ImputeResult, *PreviewView, error) {
	var (
		result *clean.ImputeResult
		view   *PreviewView
	)
	err := s.store.With(id, func(sess *session.Session) error {
		out, res, err := clean.Impute(sess.Dataset, columns, method)
		if err != nil {
			return err
		}
		sess.ReplaceDataset(out)
		result = res
		view = previewOf(out, "head", defaultPreviewRows)
		view.SessionID = sess.ID
		view.Missing = missingOverview(out)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.InfoContext(ctx, "missing values imputed",
		slog.String("session_id", id), slog.String("method", string(method)))
	return result, view, nil
}

// Encode appends encoded columns, swaps the dataset, and remembers the
// encoding so the encoded-only view can be rendered or exported.
func (s *AnalysisService) Encode(ctx context.Context, id, column string, method encode.Method, ordinalOrder []string, encodedOnly bool) (*encode.Result, *PreviewView, error) {
	var (
		result *encode.Result
		view   *PreviewView
	)
	err := s.store.With(id, func(sess *session.Session) error {
		out, res, err := encode.Encode(sess.Dataset, column, method, ordinalOrder)
		if err != nil {
			return err
		}
		encoded, err := encode.EncodedView(out, res)
		if err != nil {
			return err
		}
		sess.ReplaceDataset(out)
		sess.Encoding = res
		sess.EncodedData = encoded

		shown := out
		if encodedOnly {
			shown = encoded
		}
		result = res
		view = previewOf(shown, "head", defaultPreviewRows)
		view.SessionID = sess.ID
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.InfoContext(ctx, "column encoded",
		slog.String("session_id", id),
		slog.String("column", column),
		slog.String("method", string(method)))
	return result, view, nil
}

// RunTest executes a statistical test over two columns.
func (s *AnalysisService) RunTest(ctx context.Context, id string, testType stats.TestType, x, y string) (*stats.TestResult, *PreviewView, error) {
	var (
		result *stats.TestResult
		table  *PreviewView
	)
	err := s.store.With(id, func(sess *session.Session) error {
		r, err := stats.RunTest(sess.Dataset, testType, x, y)
		if err != nil {
			return err
		}
		result = r
		if r.Table != nil {
			table = previewOf(r.Table, "all", r.Table.NumRows())
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, table, nil
}

// FitRegression fits an OLS line and stores the model in the session.
func (s *AnalysisService) FitRegression(ctx context.Context, id, x, y string) (*regress.Model, error) {
	var model *regress.Model
	err := s.store.With(id, func(sess *session.Session) error {
		m, err := regress.Fit(sess.Dataset, x, y)
		if err != nil {
			return err
		}
		sess.Regression = m
		model = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "regression fitted",
		slog.String("session_id", id), slog.String("x", x), slog.String("y", y))
	return model, nil
}

// PredictRegression evaluates the session's fitted line at one x value.
func (s *AnalysisService) PredictRegression(ctx context.Context, id string, xValue float64) (*regress.Prediction, error) {
	var pred *regress.Prediction
	err := s.store.With(id, func(sess *session.Session) error {
		if sess.Regression == nil {
			return errors.Validation("no regression model has been fit in this session")
		}
		p, err := sess.Regression.Predict(xValue)
		if err != nil {
			return err
		}
		pred = p
		return nil
	})
	return pred, err
}

// TrainModel trains a random forest and stores it in the session.
func (s *AnalysisService) TrainModel(ctx context.Context, id string, params forest.Params) (*forest.Model, error) {
	var model *forest.Model
	err := s.store.With(id, func(sess *session.Session) error {
		m, err := forest.Train(ctx, sess.Dataset, params)
		if err != nil {
			return err
		}
		sess.Forest = m
		model = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "forest trained",
		slog.String("session_id", id),
		slog.String("target", params.Target),
		slog.String("task", string(model.Task)),
		slog.Float64("test_score", model.TestScore))
	return model, nil
}

// PredictModel runs the session's trained forest over new input rows.
func (s *AnalysisService) PredictModel(ctx context.Context, id string, rows []map[string]any) ([]any, error) {
	var preds []any
	err := s.store.With(id, func(sess *session.Session) error {
		if sess.Forest == nil {
			return errors.Validation("no model has been trained in this session")
		}
		p, err := sess.Forest.Predict(rows)
		if err != nil {
			return err
		}
		preds = p
		return nil
	})
	return preds, err
}

// missingOverview lists the columns that still contain missing values.
func missingOverview(d *dataset.Dataset) []ColumnMissing {
	rows := d.NumRows()
	if rows == 0 {
		return nil
	}
	var out []ColumnMissing
	for i := range d.Columns {
		c := &d.Columns[i]
		if n := c.MissingCount(); n > 0 {
			out = append(out, ColumnMissing{
				Column:  c.Name,
				Missing: n,
				Pct:     math.Round(float64(n)/float64(rows)*10000) / 100,
			})
		}
	}
	return out
}

// previewOf slices a dataset for display. Mode is head, tail, or all.
func previewOf(d *dataset.Dataset, mode string, n int) *PreviewView {
	total := d.NumRows()
	if n <= 0 {
		n = defaultPreviewRows
	}

	var start, end int
	switch mode {
	case "tail":
		end = total
		start = total - n
		if start < 0 {
			start = 0
		}
	case "all":
		start, end = 0, total
	default: // head
		start = 0
		end = n
		if end > total {
			end = total
		}
	}

	view := &PreviewView{
		Columns:   d.ColumnNames(),
		Rows:      make([][]any, 0, end-start),
		TotalRows: total,
		TotalCols: d.NumCols(),
	}
	for r := start; r < end; r++ {
		view.Rows = append(view.Rows, d.Row(r))
	}
	return view
}
