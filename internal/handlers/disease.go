package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/Brownie44l1/plant-api/internal/model"
	"github.com/Brownie44l1/plant-api/internal/store"
	"github.com/Brownie44l1/plant-api/internal/tensor"
	"github.com/gin-gonic/gin"
)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

type AnalyzeResponse struct {
	Success     bool                       `json:"success"`
	Result      model.ClassificationResult `json:"result"`
	Predictions map[string]float64         `json:"predictions"`
	Report      *store.Report              `json:"report"`
	Saved       bool                       `json:"saved"`
}

// Analyze classifies a preprocessed [1,128,128,3] tensor sent as a flat array.
// Values may be raw 0-255 pixels or already divided by 255; both are passed
// to the model unchanged.
func (h *Handler) Analyze(c *gin.Context) {
	var req model.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.Tensor) == 0 {
		abortWithError(c, http.StatusBadRequest,
			"No preprocessed tensor provided. Please send a 4D tensor as a flat array.")
		return
	}

	input, err := tensor.New(model.InputShape, req.Tensor)
	if err != nil {
		abortWithError(c, http.StatusBadRequest,
			fmt.Sprintf("Expected %d values, got %d", model.InputShape.Size(), len(req.Tensor)))
		return
	}

	h.diagnose(c, input)
}

// AnalyzeImage classifies an uploaded leaf photo sent as the "image" form field.
func (h *Handler) AnalyzeImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	header, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, http.StatusRequestEntityTooLarge, "Image is too large")
			return
		}
		abortWithError(c, http.StatusBadRequest, "No image file uploaded. Use 'image' as the form field name")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		abortWithError(c, http.StatusBadRequest, "Only .jpg, .jpeg, .png files are allowed")
		return
	}

	file, err := header.Open()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}

	h.logger.Info("Received image", "filename", header.Filename, "size", header.Size)

	input, err := h.preprocessor.Preprocess(data)
	if err != nil {
		h.logger.Warn("Preprocessing failed", "error", err)
		abortWithError(c, statusFor(err), "Invalid image format. Supported: JPEG, PNG")
		return
	}

	h.diagnose(c, input)
}

// diagnose runs predict and score on input, then stores and returns the report.
func (h *Handler) diagnose(c *gin.Context, input *tensor.Tensor) {
	ctx := c.Request.Context()

	output, err := h.predictor.Predict(ctx, input)
	if err != nil {
		h.logger.Error("Prediction failed", "error", err)
		abortWithError(c, statusFor(err), "Prediction failed")
		return
	}

	result, predictions, err := model.Breakdown(output)
	if err != nil {
		h.logger.Error("Scoring failed", "error", err)
		abortWithError(c, http.StatusBadGateway, "Prediction failed")
		return
	}

	h.logger.Info("Diagnosis complete", "disease", result.Disease, "confidence", result.Confidence)
	h.logger.Debug("Class percentages", "predictions", predictions)

	resp := AnalyzeResponse{
		Success:     true,
		Result:      result,
		Predictions: predictions,
	}

	if h.reports == nil {
		resp.Report = store.NewReport(result, time.Now())
		c.JSON(http.StatusOK, resp)
		return
	}

	report, err := h.reports.CreateFromResult(ctx, result)
	if err != nil {
		h.logger.Error("Failed to store report", "error", err)
		abortWithError(c, http.StatusInternalServerError, "Error processing image")
		return
	}
	resp.Report = report
	resp.Saved = true
	c.JSON(http.StatusOK, resp)
}
