package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens/internal/config"
	"datalens/internal/services"
	"datalens/internal/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Security.RateLimit.Enabled = false

	store := session.NewStore(time.Hour, logger)
	svc := services.NewAnalysisService(store, logger)
	srv := httptest.NewServer(NewRouter(&cfg, svc, logger, prometheus.NewRegistry()))
	t.Cleanup(srv.Close)
	return srv
}

func uploadCSV(t *testing.T, srv *httptest.Server, csv string) string {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "data.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/api/sessions", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			SessionID string `json:"session_id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.Success)
	require.NotEmpty(t, envelope.Data.SessionID)
	return envelope.Data.SessionID
}

func postJSON(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestUploadAndPreview(t *testing.T) {
	srv := newTestServer(t)
	id := uploadCSV(t, srv, "a,b\n1,x\n2,y\n3,z\n")

	resp, err := http.Get(srv.URL + "/api/sessions/" + id + "?rows=head&n=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data struct {
			Columns   []string `json:"columns"`
			Rows      [][]any  `json:"rows"`
			TotalRows int      `json:"total_rows"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, []string{"a", "b"}, envelope.Data.Columns)
	assert.Len(t, envelope.Data.Rows, 2)
	assert.Equal(t, 3, envelope.Data.TotalRows)
}

func TestUploadRejectsUnknownFormat(t *testing.T) {
	srv := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "data.parquet")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("xxxx"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/api/sessions", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownSessionIs404(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/sessions/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var envelope struct {
		Success bool `json:"success"`
		Error   struct {
			ErrorCode string `json:"error_code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.False(t, envelope.Success)
	assert.Equal(t, "SESSION_NOT_FOUND", envelope.Error.ErrorCode)
}

func TestOutlierWorkflow(t *testing.T) {
	srv := newTestServer(t)
	id := uploadCSV(t, srv, "v\n1\n2\n3\n4\n100\n")

	resp := postJSON(t, srv, "/api/sessions/"+id+"/outliers/detect", `{"columns":["v"],"method":"iqr"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detect struct {
		Data struct {
			RowUnion []int `json:"row_union"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detect))
	assert.Equal(t, []int{4}, detect.Data.RowUnion)

	resp2 := postJSON(t, srv, "/api/sessions/"+id+"/outliers/handle", `{"policy":"remove"}`)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var handle struct {
		Data struct {
			TotalRows int `json:"total_rows"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&handle))
	assert.Equal(t, 4, handle.Data.TotalRows)
}

func TestValidationErrorsAreStructured(t *testing.T) {
	srv := newTestServer(t)
	id := uploadCSV(t, srv, "v\n1\n2\n")

	// Unknown method fails validator, not the engine.
	resp := postJSON(t, srv, "/api/sessions/"+id+"/outliers/detect", `{"columns":["v"],"method":"madness"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var envelope struct {
		Error struct {
			ErrorCode string `json:"error_code"`
			Details   []map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "INVALID_INPUT", envelope.Error.ErrorCode)
	require.NotEmpty(t, envelope.Error.Details)
	assert.Equal(t, "oneof", envelope.Error.Details[0]["rule"])
}

func TestComputationErrorIs422(t *testing.T) {
	srv := newTestServer(t)
	id := uploadCSV(t, srv, "x,y\n1,1\n1,2\n1,3\n")

	resp := postJSON(t, srv, "/api/sessions/"+id+"/regression", `{"x":"x","y":"y"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestRegressionAndPredict(t *testing.T) {
	srv := newTestServer(t)
	id := uploadCSV(t, srv, "x,y\n1,2\n2,4\n3,6\n4,8\n")

	resp := postJSON(t, srv, "/api/sessions/"+id+"/regression", `{"x":"x","y":"y"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fit struct {
		Data struct {
			Slope float64 `json:"slope"`
			Band  []any   `json:"band"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fit))
	assert.InDelta(t, 2.0, fit.Data.Slope, 1e-9)
	assert.Len(t, fit.Data.Band, 100)

	resp2 := postJSON(t, srv, "/api/sessions/"+id+"/regression/predict", `{"x_value":5}`)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var pred struct {
		Data struct {
			Fit float64 `json:"fit"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&pred))
	assert.InDelta(t, 10.0, pred.Data.Fit, 1e-9)
}

func TestExportCSV(t *testing.T) {
	srv := newTestServer(t)
	id := uploadCSV(t, srv, "a\n1\n2\n")

	resp, err := http.Get(srv.URL + "/api/sessions/" + id + "/export?format=csv")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "a\n1\n2\n", string(body))
}

func TestDeleteSession(t *testing.T) {
	srv := newTestServer(t)
	id := uploadCSV(t, srv, "a\n1\n")

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	follow, err := http.Get(srv.URL + "/api/sessions/" + id)
	require.NoError(t, err)
	follow.Body.Close()
	assert.Equal(t, http.StatusNotFound, follow.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
