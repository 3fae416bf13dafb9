package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"inventory-service/internal/utils"
	"inventory-service/pkg/locator"
	"inventory-service/pkg/processing"
	"inventory-service/pkg/types"
)

const maxUploadBytes = 20 << 20 // 20 MiB

// Runner is the pipeline surface the handler needs.
type Runner interface {
	Run(ctx context.Context, raw []byte) ([]types.InventoryItem, error)
	Analyze(ctx context.Context, raw []byte) (types.Appraisal, error)
}

// Handler exposes the inventory pipeline over HTTP.
type Handler struct {
	pipeline  Runner
	processor *processing.Processor
	log       zerolog.Logger
}

// NewHandler creates the HTTP handler.
func NewHandler(pipeline Runner, log zerolog.Logger) *Handler {
	return &Handler{
		pipeline:  pipeline,
		processor: processing.NewProcessor(),
		log:       log.With().Str("component", "http").Logger(),
	}
}

// Register mounts the routes on the engine.
func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/detect", h.detect)
		api.POST("/analyze", h.analyze)
	}
	r.GET("/healthz", h.health)
}

type urlRequest struct {
	ImageURL string `json:"image_url"`
}

// detect runs the full inventory pipeline on one uploaded or referenced
// image and returns the detected, priced objects.
func (h *Handler) detect(c *gin.Context) {
	raw, ok := h.readImage(c)
	if !ok {
		return
	}

	items, err := h.pipeline.Run(c.Request.Context(), raw)
	if err != nil {
		h.handlePipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"detected_objects": items,
	})
}

// analyze appraises the whole image as a single item.
func (h *Handler) analyze(c *gin.Context) {
	raw, ok := h.readImage(c)
	if !ok {
		return
	}

	analysis, err := h.pipeline.Analyze(c.Request.Context(), raw)
	if err != nil {
		h.handlePipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"analysis": analysis,
	})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// readImage accepts either a multipart "image" upload or a JSON body with an
// image_url and returns the raw bytes. On failure it writes the error
// response and returns ok=false.
func (h *Handler) readImage(c *gin.Context) ([]byte, bool) {
	contentType := c.GetHeader("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		fileHeader, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("No image file provided"))
			return nil, false
		}
		if fileHeader.Filename == "" {
			c.JSON(http.StatusBadRequest, errorResponse("No selected file"))
			return nil, false
		}
		if !utils.AllowedImageFile(fileHeader.Filename) {
			c.JSON(http.StatusBadRequest, errorResponse("Invalid file type"))
			return nil, false
		}
		if fileHeader.Size > maxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse("Image too large"))
			return nil, false
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("Failed to read uploaded file"))
			return nil, false
		}
		defer file.Close()

		raw, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil || int64(len(raw)) > maxUploadBytes {
			c.JSON(http.StatusBadRequest, errorResponse("Failed to read uploaded file"))
			return nil, false
		}
		return raw, true
	}

	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ImageURL == "" {
		c.JSON(http.StatusBadRequest, errorResponse("No image file provided"))
		return nil, false
	}

	raw, err := h.processor.FetchImage(c.Request.Context(), req.ImageURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return nil, false
	}
	return raw, true
}

func (h *Handler) handlePipelineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, processing.ErrDecode):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, locator.ErrLocator):
		h.log.Error().Err(err).Msg("object locator failed")
		c.JSON(http.StatusBadGateway, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("pipeline error")
		c.JSON(http.StatusInternalServerError, errorResponse(err.Error()))
	}
}

func errorResponse(message string) gin.H {
	return gin.H{"error": message}
}
