package model

// Metadata describes an exported model artifact. It is stored as JSON next
// to the .onnx file.
type Metadata struct {
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// OutputVector is the raw, unnormalized score per class from one forward pass.
type OutputVector []float32

// ClassificationResult is the diagnosis handed to callers and the report store.
type ClassificationResult struct {
	Disease    string  `json:"disease"`
	Confidence float64 `json:"confidence"`
}

// PredictionRequest carries a pre-flattened [1,128,128,3] tensor.
type PredictionRequest struct {
	Tensor []float32 `json:"tensor"`
}
