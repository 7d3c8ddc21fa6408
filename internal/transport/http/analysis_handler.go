// Package http is the JSON API over the analysis service. Handlers decode
// and validate requests, call the service, and render envelopes; all
// domain logic stays below.
package http

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"datalens/internal/clean"
	"datalens/internal/encode"
	apierrors "datalens/internal/errors"
	"datalens/internal/forest"
	"datalens/internal/services"
	"datalens/internal/stats"
	"datalens/internal/tableio"
)

var validate = validator.New()

// AnalysisHandler serves the session-scoped analysis API.
type AnalysisHandler struct {
	service        *services.AnalysisService
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewAnalysisHandler creates the handler.
func NewAnalysisHandler(service *services.AnalysisService, logger *slog.Logger, maxUploadBytes int64) *AnalysisHandler {
	return &AnalysisHandler{
		service:        service,
		logger:         logger.With(slog.String("component", "analysis_handler")),
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes returns the session routes.
func (h *AnalysisHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Post("/sessions", h.CreateSession)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.GetPreview)
		r.Delete("/", h.DeleteSession)
		r.Get("/export", h.Export)
		r.Get("/types", h.TypeSuggestions)
		r.Get("/summary", h.Summary)
		r.Get("/duplicates", h.FindDuplicates)
		r.Delete("/duplicates", h.RemoveDuplicates)
		r.Post("/outliers/detect", h.DetectOutliers)
		r.Post("/outliers/handle", h.HandleOutliers)
		r.Post("/impute", h.Impute)
		r.Post("/encode", h.Encode)
		r.Post("/tests", h.RunTest)
		r.Post("/regression", h.FitRegression)
		r.Post("/regression/predict", h.PredictRegression)
		r.Post("/model/train", h.TrainModel)
		r.Post("/model/predict", h.PredictModel)
	})
	return r
}

// CreateSession accepts a multipart upload and opens a session.
func (h *AnalysisHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.renderError(w, r, apierrors.ErrValidation("file", "could not parse upload: "+err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.renderError(w, r, apierrors.ErrValidation("file", "missing file field"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.renderError(w, r, apierrors.ErrValidation("file", "could not read upload: "+err.Error()))
		return
	}

	formatName := r.FormValue("format")
	if formatName == "" {
		formatName = strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	}
	format, err := tableio.ParseFormat(formatName)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	hasHeader := true
	if v := r.FormValue("has_header"); v != "" {
		hasHeader, err = strconv.ParseBool(v)
		if err != nil {
			h.renderError(w, r, apierrors.ErrValidation("has_header", "must be a boolean"))
			return
		}
	}

	view, err := h.service.CreateSession(r.Context(), data, format, hasHeader, header.Filename)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]any{"success": true, "data": view})
}

// GetPreview returns a head/tail/all slice of the dataset.
func (h *AnalysisHandler) GetPreview(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("rows")
	if mode == "" {
		mode = "head"
	}
	n := 0
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			h.renderError(w, r, apierrors.ErrValidation("n", "must be a non-negative integer"))
			return
		}
		n = parsed
	}

	view, err := h.service.Preview(r.Context(), sessionID(r), mode, n)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"success": true, "data": view})
}

// DeleteSession discards the session.
func (h *AnalysisHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	h.service.DeleteSession(r.Context(), sessionID(r))
	render.NoContent(w, r)
}

// Export streams the current dataset in the requested format. With
// ?view=encoded it exports the columns produced by the last encoding instead.
func (h *AnalysisHandler) Export(w http.ResponseWriter, r *http.Request) {
	formatName := r.URL.Query().Get("format")
	if formatName == "" {
		formatName = "csv"
	}
	format, err := tableio.ParseFormat(formatName)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	encodedOnly := r.URL.Query().Get("view") == "encoded"

	data, err := h.service.Export(r.Context(), sessionID(r), format, encodedOnly)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "dataset."+string(format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// TypeSuggestions returns per-column type inference results.
func (h *AnalysisHandler) TypeSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := h.service.TypeSuggestions(r.Context(), sessionID(r))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"success": true, "data": suggestions})
}

// Summary returns the descriptive dataset overview.
func (h *AnalysisHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context(), sessionID(r))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"success": true, "data": summary})
}

// FindDuplicates reports duplicate rows with a bounded preview.
func (h *AnalysisHandler) FindDuplicates(w http.ResponseWriter, r *http.Request) {
	dup, err := h.service.FindDuplicates(r.Context(), sessionID(r))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"success": true, "data": dup})
}

// RemoveDuplicates drops duplicate rows from the dataset.
func (h *AnalysisHandler) RemoveDuplicates(w http.ResponseWriter, r *http.Request) {
	view, removed, err := h.service.RemoveDuplicates(r.Context(), sessionID(r))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"success": true, "data": view, "removed": removed})
}

type detectOutliersRequest struct {
	Columns   []string `json:"columns" validate:"required,min=1"`
	Method    string   `json:"method" validate:"required,oneof=iqr zscore"`
	Threshold float64  `json:"threshold" validate:"gte=0"`
}

// DetectOutliers flags outliers and stores the report in the session.
func (h *AnalysisHandler) DetectOutliers(w http.ResponseWriter, r *http.Request) {
	var req detectOutliersRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.service.DetectOutliers(r.Context(), sessionID(r), req.Columns, clean.OutlierMethod(req.Method), req.Threshold)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"success": true, "data": report})
}

type handleOutliersRequest struct {
	Policy string `json:"policy" validate:"required,oneof=remove replace_with_median replace_with_mean"`
}

// HandleOutliers applies a policy to the previously detected outliers.
func (h *AnalysisHandler) HandleOutliers(w http.ResponseWriter, r *http.Request) {
	var req handleOutliersRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.service.HandleOutliers(r.Context(), sessionID(r), clean.OutlierPolicy(req.Policy))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"success": true, "data": view, "warnings": view.Warnings})
}

type imputeRequest struct {
	Columns []string `json:"columns" validate:"required,min=1"`
	Method  string   `json:"method" validate:"required,oneof=mean median mode knn"`
}

// Impute fills missing values in the selected columns.
func (h *AnalysisHandler) Impute(w http.ResponseWriter, r *http.Request) {
	var req imputeRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, view, err := h.service.Impute(r.Context(), sessionID(r), req.Columns, clean.ImputeMethod(req.Method))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"success": true, "data": view, "imputation": result})
}

type encodeRequest struct {
	Column       string   `json:"column" validate:"required"`
	Method       string   `json:"method" validate:"required,oneof=label onehot ordinal"`
	OrdinalOrder []string `json:"ordinal_order"`
	EncodedOnly  bool     `json:"encoded_only"`
}

// Encode appends encoded columns for one categorical column.
func (h *AnalysisHandler) Encode(w http.ResponseWriter, r *http.Request) {
	var req encodeRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, view, err := h.service.Encode(r.Context(), sessionID(r), req.Column, encode.Method(req.Method), req.OrdinalOrder, req.EncodedOnly)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"success": true, "data": view, "encoding": result})
}

type runTestRequest struct {
	TestType string `json:"test_type" validate:"required,oneof=chi2 pearson spearman"`
	X        string `json:"x" validate:"required"`
	Y        string `json:"y" validate:"required"`
}

// RunTest executes a statistical test over two columns.
func (h *AnalysisHandler) RunTest(w http.ResponseWriter, r *http.Request) {
	var req runTestRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, table, err := h.service.RunTest(r.Context(), sessionID(r), stats.TestType(req.TestType), req.X, req.Y)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	payload := map[string]any{"success": true, "data": result}
	if table != nil {
		payload["table"] = table
	}
	render.JSON(w, r, payload)
}

type regressionRequest struct {
	X string `json:"x" validate:"required"`
	Y string `json:"y" validate:"required"`
}

// FitRegression fits an OLS line over two numeric columns.
func (h *AnalysisHandler) FitRegression(w http.ResponseWriter, r *http.Request) {
	var req regressionRequest
	if !h.decode(w, r, &req) {
		return
	}

	model, err := h.service.FitRegression(r.Context(), sessionID(r), req.X, req.Y)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"success": true, "data": model})
}

type regressionPredictRequest struct {
	XValue *float64 `json:"x_value" validate:"required"`
}

// PredictRegression evaluates the fitted line at one x value.
func (h *AnalysisHandler) PredictRegression(w http.ResponseWriter, r *http.Request) {
	var req regressionPredictRequest
	if !h.decode(w, r, &req) {
		return
	}

	pred, err := h.service.PredictRegression(r.Context(), sessionID(r), *req.XValue)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"success": true, "data": pred})
}

type trainModelRequest struct {
	Target      string   `json:"target" validate:"required"`
	Features    []string `json:"features" validate:"required,min=1"`
	NEstimators int      `json:"n_estimators" validate:"gte=0,lte=1000"`
	MaxDepth    int      `json:"max_depth" validate:"gte=0,lte=100"`
	TestSize    float64  `json:"test_size" validate:"gte=0,lt=1"`
	RandomState int64    `json:"random_state"`
}

// TrainModel trains a random forest and stores it in the session.
func (h *AnalysisHandler) TrainModel(w http.ResponseWriter, r *http.Request) {
	var req trainModelRequest
	if !h.decode(w, r, &req) {
		return
	}

	model, err := h.service.TrainModel(r.Context(), sessionID(r), forest.Params{
		Target:      req.Target,
		Features:    req.Features,
		NEstimators: req.NEstimators,
		MaxDepth:    req.MaxDepth,
		TestSize:    req.TestSize,
		RandomState: req.RandomState,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"success": true, "data": model})
}

type predictModelRequest struct {
	Rows []map[string]any `json:"rows" validate:"required,min=1"`
}

// PredictModel runs the trained forest over new input rows.
func (h *AnalysisHandler) PredictModel(w http.ResponseWriter, r *http.Request) {
	var req predictModelRequest
	if !h.decode(w, r, &req) {
		return
	}

	preds, err := h.service.PredictModel(r.Context(), sessionID(r), req.Rows)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"success": true, "data": preds})
}

// decode parses and validates a JSON request body. On failure it renders
// the error and returns false.
func (h *AnalysisHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		h.renderError(w, r, apierrors.New(http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON: "+err.Error()))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		h.renderError(w, r, apierrors.NewWithDetails(http.StatusBadRequest, "INVALID_INPUT", "request validation failed", validationDetails(err)))
		return false
	}
	return true
}

// validationDetails flattens validator errors into field/rule pairs.
func validationDetails(err error) []map[string]string {
	var details []map[string]string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			details = append(details, map[string]string{
				"field": fe.Field(),
				"rule":  fe.Tag(),
			})
		}
	}
	return details
}

func (h *AnalysisHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := err.(*apierrors.APIError)
	if !ok {
		apiErr = apierrors.FromEngine(err)
	}
	if apiErr.StatusCode >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	_ = render.Render(w, r, apierrors.NewErrorResponse(apiErr))
}

func sessionID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

func contentTypeFor(format tableio.Format) string {
	switch format {
	case tableio.FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case tableio.FormatJSON:
		return "application/json"
	default:
		return "text/csv"
	}
}
