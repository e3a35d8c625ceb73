package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/Brownie44l1/plant-api/internal/tensor"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	defaultInputName  = "input"
	defaultOutputName = "output"
)

// envMu guards ONNX Runtime environment setup, which is process-global.
var envMu sync.Mutex

// ONNXLoader fetches an .onnx artifact and its metadata JSON from a file
// path or an http(s) URL and opens an ONNX Runtime session for it.
type ONNXLoader struct {
	ModelLocation    string
	MetadataLocation string
	// SharedLibraryPath points at libonnxruntime. Empty uses the library default.
	SharedLibraryPath string
	Client            *http.Client
	Logger            *slog.Logger
}

// Load implements Loader.
func (l *ONNXLoader) Load(ctx context.Context) (Model, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metaFile, err := l.fetch(ctx, l.MetadataLocation)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read metadata: %w", ErrLoad, err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return nil, fmt.Errorf("%w: failed to parse metadata: %w", ErrLoad, err)
	}
	if err := metadata.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	onnxData, err := l.fetch(ctx, l.ModelLocation)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read model: %w", ErrLoad, err)
	}

	if err := l.initEnvironment(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize ONNX environment: %w", ErrLoad, err)
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(onnxData,
		[]string{metadata.InputName}, []string{metadata.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create ONNX session: %w", ErrLoad, err)
	}

	logger.Info("ONNX session created",
		"model", l.ModelLocation,
		"input_shape", tensor.Shape(metadata.InputShape).String(),
		"output_shape", tensor.Shape(metadata.OutputShape).String(),
	)

	return &onnxModel{
		session:     session,
		outputShape: ort.NewShape(metadata.OutputShape...),
	}, nil
}

func (l *ONNXLoader) initEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if l.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(l.SharedLibraryPath)
	}
	return ort.InitializeEnvironment()
}

func (l *ONNXLoader) fetch(ctx context.Context, location string) ([]byte, error) {
	if location == "" {
		return nil, fmt.Errorf("no location configured")
	}
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		return os.ReadFile(location)
	}

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %d", location, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// validate checks the artifact against the fixed input shape and class registry.
func (m *Metadata) validate() error {
	if m.InputName == "" {
		m.InputName = defaultInputName
	}
	if m.OutputName == "" {
		m.OutputName = defaultOutputName
	}
	if len(m.InputShape) == 0 {
		m.InputShape = InputShape
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = []int64{1, NumClasses}
	}

	if !tensor.Shape(m.InputShape).Equal(InputShape) {
		return fmt.Errorf("model input shape %s does not match %s",
			tensor.Shape(m.InputShape), InputShape)
	}
	if m.ImageSize != 0 && m.ImageSize != ImageSize {
		return fmt.Errorf("model image size %d does not match %d", m.ImageSize, ImageSize)
	}
	if size := tensor.Shape(m.OutputShape).Size(); size != NumClasses {
		return fmt.Errorf("model output shape %s holds %d scores, want %d",
			tensor.Shape(m.OutputShape), size, NumClasses)
	}
	if len(m.Classes) == 0 {
		return nil
	}
	if len(m.Classes) != NumClasses {
		return fmt.Errorf("model lists %d classes, want %d", len(m.Classes), NumClasses)
	}
	for i, name := range m.Classes {
		if name != classes[i] {
			return fmt.Errorf("model class %d is %q, registry has %q", i, name, classes[i])
		}
	}
	return nil
}

// onnxModel allocates fresh input and output tensors for every run so that
// concurrent predictions never share buffers.
type onnxModel struct {
	session     *ort.DynamicAdvancedSession
	outputShape ort.Shape
}

func (m *onnxModel) Run(ctx context.Context, input *tensor.Tensor) (OutputVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(input.Shape()...), input.Data())
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](m.outputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := m.session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor}); err != nil {
		return nil, err
	}

	// The output buffer is freed on return; copy the scores out first.
	scores := outputTensor.GetData()
	out := make(OutputVector, len(scores))
	copy(out, scores)
	return out, nil
}

func (m *onnxModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil

	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		if envErr := ort.DestroyEnvironment(); envErr != nil && err == nil {
			err = envErr
		}
	}
	return err
}
