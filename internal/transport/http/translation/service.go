// Package translation exposes the batch translation endpoints.
package translation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"speech-translate-server/internal/domain/asr"
	"speech-translate-server/internal/domain/batch"
	"speech-translate-server/internal/domain/result"
	"speech-translate-server/internal/domain/result/store"
	platformerrors "speech-translate-server/internal/platform/errors"
	"speech-translate-server/internal/platform/logging"
	httptransport "speech-translate-server/internal/transport/http"
)

const defaultMaxUpload = 100 << 20

// Batch is the batch translation capability.
type Batch interface {
	TranslateUpload(ctx context.Context, filename string, r io.Reader, targetLang string) (result.Record, error)
	TranslateVideo(ctx context.Context, videoURL, targetLang string) (result.Record, error)
}

// Response is the body of a successful batch request.
type Response struct {
	ID               string `json:"id"`
	DetectedLanguage string `json:"detected_language"`
	OriginalText     string `json:"original_text"`
	TranslatedText   string `json:"translated_text"`
	AudioURL         string `json:"audio_url"`
}

// Options configures the service.
type Options struct {
	Batch            Batch
	Store            store.Store
	AllowedLanguages []string
	MaxUploadBytes   int64
	Logger           *logging.Logger
}

// Service is the HTTP layer over the batch service and result store.
type Service struct {
	batch     Batch
	store     store.Store
	allowed   []string
	maxUpload int64
	logger    *logging.Logger
}

// NewService validates opts.
func NewService(opts Options) (*Service, error) {
	if opts.Batch == nil {
		return nil, platformerrors.New(platformerrors.KindConfig, "translation.new", "batch service is required")
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	return &Service{
		batch:     opts.Batch,
		store:     opts.Store,
		allowed:   opts.AllowedLanguages,
		maxUpload: opts.MaxUploadBytes,
		logger:    opts.Logger,
	}, nil
}

// Register mounts the batch routes on root and the lookup route on api.
func (s *Service) Register(root, api *gin.RouterGroup) {
	root.POST("/translate", s.handleUpload)
	root.POST("/translate-youtube", s.handleVideo)
	root.POST("/translate-video", s.handleVideo)
	if s.store != nil {
		api.GET("/translations/:id", s.handleGet)
	}
	s.logger.InfoTag("HTTP", "translation routes registered")
}

// handleUpload translates a multipart upload with fields audio and target_lang.
func (s *Service) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)

	file, header, err := c.Request.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio file is required"})
		return
	}
	defer file.Close()

	rec, err := s.batch.TranslateUpload(c.Request.Context(), header.Filename, file, c.Request.FormValue("target_lang"))
	s.respond(c, rec, err)
}

// handleVideo translates the audio of a video URL from form fields youtube_url and target_lang.
func (s *Service) handleVideo(c *gin.Context) {
	videoURL := c.PostForm("youtube_url")
	if videoURL == "" {
		videoURL = c.PostForm("url")
	}
	rec, err := s.batch.TranslateVideo(c.Request.Context(), videoURL, c.PostForm("target_lang"))
	s.respond(c, rec, err)
}

func (s *Service) respond(c *gin.Context, rec result.Record, err error) {
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.ErrorTag("Batch", "%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
			_ = c.Error(err)
		} else {
			s.logger.WarnTag("Batch", "%s rejected: %v", c.Request.URL.Path, err)
		}
		c.JSON(status, gin.H{"error": batch.UserMessage(err, s.allowed)})
		return
	}
	c.JSON(http.StatusOK, Response{
		ID:               rec.ID,
		DetectedLanguage: rec.DetectedLanguage,
		OriginalText:     rec.OriginalText,
		TranslatedText:   rec.TranslatedText,
		AudioURL:         rec.AudioURL,
	})
}

func (s *Service) handleGet(c *gin.Context) {
	rec, err := s.store.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		httptransport.RespondError(c, http.StatusNotFound, "translation not found", nil)
	case errors.Is(err, store.ErrExpired):
		httptransport.RespondError(c, http.StatusGone, "translation expired", nil)
	case err != nil:
		s.logger.ErrorTag("HTTP", "load translation %s: %v", c.Param("id"), err)
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to load translation", nil)
	default:
		httptransport.RespondSuccess(c, http.StatusOK, rec, "")
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, batch.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, asr.ErrUnsupportedLanguage),
		errors.Is(err, asr.ErrEmptyRecognition),
		errors.Is(err, batch.ErrConvert),
		errors.Is(err, batch.ErrDownload):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
