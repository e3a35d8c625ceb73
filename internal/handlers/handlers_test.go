package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Brownie44l1/plant-api/internal/chat"
	"github.com/Brownie44l1/plant-api/internal/config"
	"github.com/Brownie44l1/plant-api/internal/model"
	"github.com/Brownie44l1/plant-api/internal/preprocess"
	"github.com/Brownie44l1/plant-api/internal/store"
	"github.com/Brownie44l1/plant-api/internal/tensor"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePredictor struct {
	output model.OutputVector
	err    error
	inputs []tensor.Shape
}

func (f *fakePredictor) Predict(_ context.Context, input *tensor.Tensor) (model.OutputVector, error) {
	f.inputs = append(f.inputs, input.Shape())
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func (f *fakePredictor) Loaded() bool { return f.err == nil }

type fakeReports struct {
	mu      sync.Mutex
	reports map[uuid.UUID]*store.Report
}

func newFakeReports() *fakeReports {
	return &fakeReports{reports: make(map[uuid.UUID]*store.Report)}
}

func (f *fakeReports) CreateFromResult(_ context.Context, result model.ClassificationResult) (*store.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	report := store.NewReport(result, time.Now())
	f.reports[report.ID] = report
	return report, nil
}

func (f *fakeReports) List(context.Context) ([]store.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Report
	for _, r := range f.reports {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeReports) Get(_ context.Context, id uuid.UUID) (*store.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeReports) SaveChatHistory(_ context.Context, id uuid.UUID, history []chat.Turn) (*store.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	r.ChatHistory = history
	return r, nil
}

func (f *fakeReports) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reports[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.reports, id)
	return nil
}

type stubBackend struct {
	reply string
	err   error
}

func (s stubBackend) Complete(context.Context, string) (string, error) {
	return s.reply, s.err
}

// peakAt returns scores whose largest entry is at index i.
func peakAt(i int) model.OutputVector {
	out := make(model.OutputVector, model.NumClasses)
	for j := range out {
		out[j] = 0.01
	}
	out[i] = 0.9
	return out
}

func newTestRouter(t *testing.T, predictor Predictor, backend chat.Backend, reports ReportStore) *gin.Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(predictor, preprocess.New(logger), chat.NewEngine(backend, chat.WithLogger(logger)), Options{
		Reports: reports,
		Logger:  logger,
	})
	return NewRouter(h, config.ServerConfig{AllowedOrigins: []string{"http://localhost:5173"}})
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, &fakePredictor{}, nil, nil)

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "healthy" || body["chatBackend"] != false || body["storage"] != false {
		t.Errorf("unexpected body %v", body)
	}
}

func TestAnalyzeTensor(t *testing.T) {
	predictor := &fakePredictor{output: peakAt(3)}
	reports := newFakeReports()
	router := newTestRouter(t, predictor, nil, reports)

	data := make([]float32, model.InputShape.Size())
	rec := doJSON(t, router, http.MethodPost, "/disease/analyze", model.PredictionRequest{Tensor: data})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decode[AnalyzeResponse](t, rec)
	if !resp.Success || resp.Result.Disease != model.Class(3) {
		t.Fatalf("unexpected result %+v", resp.Result)
	}
	if len(resp.Predictions) != model.NumClasses {
		t.Errorf("got %d predictions, want %d", len(resp.Predictions), model.NumClasses)
	}
	if !resp.Saved || resp.Report == nil {
		t.Fatal("expected a stored report")
	}
	if _, err := reports.Get(context.Background(), resp.Report.ID); err != nil {
		t.Errorf("report not stored: %v", err)
	}
	if len(resp.Report.ChatHistory) != 1 || resp.Report.ChatHistory[0].Role != chat.RoleAssistant {
		t.Errorf("expected opening message, got %+v", resp.Report.ChatHistory)
	}
}

func TestAnalyzeWithoutStorage(t *testing.T) {
	router := newTestRouter(t, &fakePredictor{output: peakAt(0)}, nil, nil)

	data := make([]float32, model.InputShape.Size())
	rec := doJSON(t, router, http.MethodPost, "/disease/analyze", model.PredictionRequest{Tensor: data})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[AnalyzeResponse](t, rec)
	if resp.Saved || resp.Report == nil || resp.Report.PredictedDisease != model.Class(0) {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	full := make([]float32, model.InputShape.Size())

	tests := []struct {
		name      string
		predictor *fakePredictor
		body      any
		want      int
	}{
		{"empty tensor", &fakePredictor{output: peakAt(0)}, model.PredictionRequest{}, http.StatusBadRequest},
		{"wrong length", &fakePredictor{output: peakAt(0)}, model.PredictionRequest{Tensor: make([]float32, 10)}, http.StatusBadRequest},
		{"not json", &fakePredictor{output: peakAt(0)}, "nope", http.StatusBadRequest},
		{"model load", &fakePredictor{err: model.ErrLoad}, model.PredictionRequest{Tensor: full}, http.StatusServiceUnavailable},
		{"degenerate output", &fakePredictor{output: make(model.OutputVector, model.NumClasses)}, model.PredictionRequest{Tensor: full}, http.StatusBadGateway},
		{"short output", &fakePredictor{output: make(model.OutputVector, 5)}, model.PredictionRequest{Tensor: full}, http.StatusBadGateway},
		{"inference", &fakePredictor{err: errors.New("boom")}, model.PredictionRequest{Tensor: full}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, tt.predictor, nil, nil)
			rec := doJSON(t, router, http.MethodPost, "/disease/analyze", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			if body := decode[map[string]any](t, rec); body["error"] == nil {
				t.Errorf("missing error field: %v", body)
			}
		})
	}
}

func imageUpload(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/disease/analyze-image", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func leafPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.NRGBA{R: 40, G: 160, B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestAnalyzeImage(t *testing.T) {
	predictor := &fakePredictor{output: peakAt(7)}
	router := newTestRouter(t, predictor, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, imageUpload(t, "leaf.PNG", leafPNG(t)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp := decode[AnalyzeResponse](t, rec); resp.Result.Disease != model.Class(7) {
		t.Errorf("disease = %q, want %q", resp.Result.Disease, model.Class(7))
	}
	if len(predictor.inputs) != 1 || !predictor.inputs[0].Equal(model.InputShape) {
		t.Errorf("predictor saw shapes %v", predictor.inputs)
	}
}

func TestAnalyzeImageRejects(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
	}{
		{"extension", "leaf.gif", []byte("GIF89a")},
		{"corrupt", "leaf.jpg", []byte("not an image")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			predictor := &fakePredictor{output: peakAt(0)}
			router := newTestRouter(t, predictor, nil, nil)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, imageUpload(t, tt.filename, tt.data))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if len(predictor.inputs) != 0 {
				t.Error("predictor should not run")
			}
		})
	}

	t.Run("missing field", func(t *testing.T) {
		router := newTestRouter(t, &fakePredictor{output: peakAt(0)}, nil, nil)
		req := httptest.NewRequest(http.MethodPost, "/disease/analyze-image", strings.NewReader(""))
		req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestChatMessage(t *testing.T) {
	t.Run("backend answer", func(t *testing.T) {
		router := newTestRouter(t, &fakePredictor{}, stubBackend{reply: "Remove infected leaves."}, nil)
		rec := doJSON(t, router, http.MethodPost, "/chat/message", chat.Request{
			Disease: "Tomato___Late_blight",
			Message: "What should I do?",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		resp := decode[ChatResponse](t, rec)
		if !resp.Success || resp.Response != "Remove infected leaves." || resp.IsFallback || resp.Error != "" {
			t.Errorf("unexpected response %+v", resp)
		}
	})

	t.Run("fallback", func(t *testing.T) {
		router := newTestRouter(t, &fakePredictor{}, stubBackend{err: errors.New("unavailable")}, nil)
		rec := doJSON(t, router, http.MethodPost, "/chat/message", chat.Request{
			Disease: "Tomato___Late_blight",
			Message: "How do I treat this?",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		resp := decode[ChatResponse](t, rec)
		if !resp.Success || !resp.IsFallback || resp.Error == "" {
			t.Errorf("unexpected response %+v", resp)
		}
		if resp.Response != chat.Fallback("Tomato___Late_blight", "How do I treat this?") {
			t.Errorf("response = %q", resp.Response)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		router := newTestRouter(t, &fakePredictor{}, nil, nil)
		rec := doJSON(t, router, http.MethodPost, "/chat/message", chat.Request{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("status", func(t *testing.T) {
		router := newTestRouter(t, &fakePredictor{}, nil, nil)
		rec := doJSON(t, router, http.MethodGet, "/chat/test", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestHistory(t *testing.T) {
	reports := newFakeReports()
	report, _ := reports.CreateFromResult(context.Background(), model.ClassificationResult{
		Disease:    model.Class(2),
		Confidence: 0.5,
	})
	router := newTestRouter(t, &fakePredictor{}, nil, reports)

	rec := doJSON(t, router, http.MethodGet, "/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list := decode[struct {
		Reports []store.Report `json:"reports"`
	}](t, rec)
	if len(list.Reports) != 1 || list.Reports[0].ID != report.ID {
		t.Fatalf("unexpected list %+v", list.Reports)
	}

	history := append(report.ChatHistory,
		chat.Turn{Role: chat.RoleUser, Content: "Is it spreading?"},
		chat.Turn{Role: chat.RoleAssistant, Content: "Possibly."},
	)
	rec = doJSON(t, router, http.MethodPost, "/history", SaveHistoryRequest{
		ReportID:    report.ID.String(),
		ChatHistory: history,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/history/"+report.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	got := decode[struct {
		Report store.Report `json:"report"`
	}](t, rec)
	if len(got.Report.ChatHistory) != 3 {
		t.Errorf("history has %d turns, want 3", len(got.Report.ChatHistory))
	}

	rec = doJSON(t, router, http.MethodDelete, "/history/"+report.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/history/"+report.ID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestHistoryValidation(t *testing.T) {
	router := newTestRouter(t, &fakePredictor{}, nil, newFakeReports())

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad id", http.MethodGet, "/history/not-a-uuid", nil, http.StatusBadRequest},
		{"unknown id", http.MethodDelete, "/history/" + uuid.NewString(), nil, http.StatusNotFound},
		{"missing report id", http.MethodPost, "/history", SaveHistoryRequest{}, http.StatusBadRequest},
		{"bad role", http.MethodPost, "/history", SaveHistoryRequest{
			ReportID:    uuid.NewString(),
			ChatHistory: []chat.Turn{{Role: "system", Content: "x"}},
		}, http.StatusBadRequest},
		{"unknown report", http.MethodPost, "/history", SaveHistoryRequest{ReportID: uuid.NewString()}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHistoryDisabledWithoutStorage(t *testing.T) {
	router := newTestRouter(t, &fakePredictor{}, nil, nil)
	rec := doJSON(t, router, http.MethodGet, "/history", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(&fakePredictor{}, preprocess.New(logger), chat.NewEngine(nil), Options{Logger: logger})
	router := NewRouter(h, config.ServerConfig{
		AllowedOrigins: []string{"http://localhost:5173"},
		RateLimitRPS:   0.001,
		RateLimitBurst: 1,
	})

	if rec := doJSON(t, router, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{preprocess.ErrDecode, http.StatusBadRequest},
		{tensor.ErrShape, http.StatusBadRequest},
		{chat.ErrInvalidRequest, http.StatusBadRequest},
		{store.ErrNotFound, http.StatusNotFound},
		{model.ErrLoad, http.StatusServiceUnavailable},
		{model.ErrScoring, http.StatusBadGateway},
		{fmt.Errorf("%w: %w", model.ErrScoring, tensor.ErrShape), http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
