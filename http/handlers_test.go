package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"modelserve/db"
	"modelserve/ml"
	"modelserve/pipeline"
)

type testEnv struct {
	handler *Handler
	router  http.Handler
	model   *ml.PredictiveModel
	store   *db.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	uploads, err := pipeline.NewUploadStore(filepath.Join(dir, "uploads"), 4, pipeline.EncodingUTF8)
	require.NoError(t, err)
	store, err := db.Open("sqlite3", filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	model := ml.NewPredictiveModel(
		ml.WithTrainerConfig(ml.TrainerConfig{NEstimators: 10}),
		ml.WithArtifactStore(ml.NewFileStore(filepath.Join(dir, "models"))),
	)
	handler := NewHandler(HandlerConfig{
		Model:   model,
		Uploads: uploads,
		Log:     store,
	})
	return &testEnv{
		handler: handler,
		router:  NewRouter(DefaultServerConfig(), handler, nil),
		model:   model,
		store:   store,
	}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) postJSON(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return e.do(t, req)
}

func (e *testEnv) upload(t *testing.T, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return e.do(t, req)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func housingCSV(rows int) string {
	var b strings.Builder
	b.WriteString("sqft,rooms,city,price\n")
	cities := []string{"north", "south", "east"}
	for i := 0; i < rows; i++ {
		sqft := 600 + i*15
		rooms := 1 + i%4
		fmt.Fprintf(&b, "%d,%d,%s,%d\n", sqft, rooms, cities[i%3], sqft*120+rooms*2000)
	}
	return b.String()
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	require.Equal(t, "healthy", body["status"])
	_, err := time.Parse(time.RFC3339Nano, body["timestamp"].(string))
	require.NoError(t, err)
	require.NotEmpty(t, rr.Header().Get(RequestIDHeader))
}

func TestUploadHandler(t *testing.T) {
	env := newTestEnv(t)
	rr := env.upload(t, "house data.csv", housingCSV(12))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	require.Equal(t, "File uploaded successfully", body["message"])
	require.Equal(t, "house_data.csv", body["filename"])

	stats := body["statistics"].(map[string]interface{})
	require.Equal(t, []interface{}{12.0, 4.0}, stats["shape"])
	require.Len(t, stats["preview"], 5)
	require.Equal(t, "object", stats["dtypes"].(map[string]interface{})["city"])
	require.Equal(t, 0.0, stats["missing_values"].(map[string]interface{})["price"])
}

func TestUploadHandlerRejects(t *testing.T) {
	env := newTestEnv(t)

	rr := env.upload(t, "data.txt", "a\n1\n")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Invalid file type", decodeBody(t, rr)["error"])

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rr = env.do(t, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "No file part", decodeBody(t, rr)["error"])

	rr = env.upload(t, "broken.csv", "a,b\n1,2,3\n")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTrainAndPredictFlow(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.upload(t, "house.csv", housingCSV(60)).Code)

	rr := env.postJSON(t, "/api/train", map[string]string{
		"filename":     "house.csv",
		"targetColumn": "price",
		"problemType":  "regression",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	require.Equal(t, true, body["success"])
	metrics := body["metrics"].(map[string]interface{})
	require.Contains(t, metrics, "rmse")
	require.Contains(t, metrics, "r2")
	require.Len(t, body["feature_importance"], 3)
	require.Len(t, body["test_predictions"], 5)
	require.Len(t, body["test_actual"], 5)

	rr = env.postJSON(t, "/api/predict", map[string]interface{}{
		"data": []map[string]interface{}{
			{"sqft": 900, "rooms": 2, "city": "north", "extra": "ignored"},
			{"sqft": 1300, "rooms": 3, "city": "east"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body = decodeBody(t, rr)
	require.Len(t, body["predictions"], 2)
	require.Len(t, body["feature_importance"], 3)

	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/model/metadata", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "price", decodeBody(t, rr)["target_column"])

	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/training/log?limit=5", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	runs := decodeBody(t, rr)["runs"].([]interface{})
	require.Len(t, runs, 1)
	require.Equal(t, db.StatusCompleted, runs[0].(map[string]interface{})["status"])

	count, err := env.store.PredictionCount(context.Background(), env.model.RunID())
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestPredictErrors(t *testing.T) {
	env := newTestEnv(t)

	rr := env.postJSON(t, "/api/predict", map[string]interface{}{
		"data": []map[string]interface{}{{"sqft": 900}},
	})
	require.Equal(t, http.StatusConflict, rr.Code)

	require.Equal(t, http.StatusOK, env.upload(t, "house.csv", housingCSV(40)).Code)
	require.Equal(t, http.StatusOK, env.postJSON(t, "/api/train", map[string]string{
		"filename":     "house.csv",
		"targetColumn": "price",
		"problemType":  "regression",
	}).Code)

	rr = env.postJSON(t, "/api/predict", map[string]interface{}{
		"data": []map[string]interface{}{{"sqft": 900}},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Missing features: [rooms, city]", decodeBody(t, rr)["error"])

	rr = env.postJSON(t, "/api/predict", map[string]interface{}{
		"data": []map[string]interface{}{{"sqft": 900, "rooms": 2, "city": "west"}},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.postJSON(t, "/api/predict", map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTrainErrors(t *testing.T) {
	env := newTestEnv(t)

	rr := env.postJSON(t, "/api/train", map[string]string{
		"filename":     "absent.csv",
		"targetColumn": "price",
		"problemType":  "regression",
	})
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.postJSON(t, "/api/train", map[string]string{
		"filename":     "absent.csv",
		"targetColumn": "price",
		"problemType":  "clustering",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	require.Equal(t, http.StatusOK, env.upload(t, "house.csv", housingCSV(20)).Code)
	rr = env.postJSON(t, "/api/train", map[string]string{
		"filename":     "house.csv",
		"targetColumn": "nope",
		"problemType":  "regression",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/training/log", nil))
	runs := decodeBody(t, rr)["runs"].([]interface{})
	require.Len(t, runs, 1)
	require.Equal(t, db.StatusFailed, runs[0].(map[string]interface{})["status"])

	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/model/metadata", nil))
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ml.ErrModelNotTrained, http.StatusConflict},
		{&ml.MissingFeatureError{Missing: []string{"a"}}, http.StatusBadRequest},
		{&ml.UnseenCategoryError{Column: "c", Value: "v"}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", ml.ErrUnsupportedProblemType), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", pipeline.ErrUploadNotFound), http.StatusNotFound},
		{&ml.PersistenceError{Op: "write", Path: "x", Err: fmt.Errorf("disk")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestRespondJSONEncodeFailure(t *testing.T) {
	handler := NewHandler(HandlerConfig{})

	rr := httptest.NewRecorder()
	handler.respondJSON(rr, http.StatusOK, map[string]interface{}{"rmse": math.Inf(1)})
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "failed to encode response", body["error"])

	rr = httptest.NewRecorder()
	handler.respondJSON(rr, http.StatusCreated, map[string]float64{"rmse": 1.5})
	require.Equal(t, http.StatusCreated, rr.Code)
	require.JSONEq(t, `{"rmse":1.5}`, rr.Body.String())
}
