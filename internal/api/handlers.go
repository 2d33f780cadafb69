package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/idemdrem-diagnosis-server/internal/domain"
	"github.com/idemdrem-diagnosis-server/internal/middleware"
	"github.com/idemdrem-diagnosis-server/internal/service"
	"github.com/idemdrem-diagnosis-server/pkg/scoring"
)

const (
	appName            = "Idemdrem"
	appVersion         = "1.0.0"
	unknownMessage     = "Unknown disease detected."
	multipartAllowance = 64 << 10
)

// ConfirmSymptomsRequest is the body of POST /api/confirm_symptoms.
type ConfirmSymptomsRequest struct {
	Answers    map[string]any        `json:"answers"`
	ContextID  string                `json:"context_id,omitempty"`
	Candidates *domain.PredictionSet `json:"candidates,omitempty"`
}

// ConfirmSymptomsResponse reports the final diagnosis.
type ConfirmSymptomsResponse struct {
	Disease  string                `json:"disease"`
	Severity *domain.SeverityLevel `json:"severity"`
	Message  string                `json:"message"`
}

// handleRoot reports that the service is online.
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":         appName,
		"status":      "online",
		"deployed_at": s.deployedAt.Format(time.RFC3339),
		"by":          "LogiDevs",
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(c.Request.Context()); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":    state,
		"checks":    checks,
		"timestamp": time.Now().UTC(),
		"version":   appVersion,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	cfg := s.configManager.GetConfig()
	c.JSON(http.StatusOK, gin.H{
		"status":         "online",
		"models":         s.engine.Models(),
		"conditions":     s.engine.Catalog().Len(),
		"catalog_source": cfg.Catalog.Source,
		"cache_backend":  cfg.Cache.Backend,
		"uptime":         time.Since(s.deployedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleInfo(c *gin.Context) {
	engine := s.engine.Engine()
	c.JSON(http.StatusOK, gin.H{
		"conditions": s.engine.Catalog().Diseases(),
		"top_k":      engine.TopK,
		"gate": gin.H{
			"absolute_threshold": engine.Gate.AbsoluteThreshold,
			"margin_threshold":   engine.Gate.MarginThreshold,
		},
		"severity_bands": gin.H{
			"severe":   engine.Severity.Severe,
			"moderate": engine.Severity.Moderate,
		},
		"accepted_content_types": []string{scoring.ContentTypeJPEG, scoring.ContentTypePNG},
	})
}

// handleUpload classifies an uploaded skin photo. Unknown conditions are reported with 200.
func (s *Server) handleUpload(c *gin.Context) {
	maxBytes := s.configManager.GetServerConfig().MaxUploadBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartAllowance)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			s.respondError(c, http.StatusRequestEntityTooLarge, domain.NewAPIError(
				domain.ErrCodeInvalidInput, "Uploaded file is too large", fmt.Sprintf("limit is %d bytes", maxBytes), requestID(c)))
			return
		}
		s.respondError(c, http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidInput, "Multipart field 'file' is required", err.Error(), requestID(c)))
		return
	}

	if strings.TrimSpace(fileHeader.Filename) == "" {
		s.respondError(c, http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidInput, "Uploaded file has no name", "", requestID(c)))
		return
	}
	if fileHeader.Size > maxBytes {
		s.respondError(c, http.StatusRequestEntityTooLarge, domain.NewAPIError(
			domain.ErrCodeInvalidInput, "Uploaded file is too large", fmt.Sprintf("limit is %d bytes", maxBytes), requestID(c)))
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if !scoring.IsSupportedContentType(contentType) {
		s.respondError(c, http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidInput, "Invalid file type. Only JPEG and PNG are allowed.", contentType, requestID(c)))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		s.handleError(c, fmt.Errorf("opening upload: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.handleError(c, fmt.Errorf("reading upload: %w", err))
		return
	}

	result, err := s.engine.ClassifyImage(c.Request.Context(), data, contentType)
	if err != nil {
		s.handleError(c, err)
		return
	}

	if result.Unknown {
		c.JSON(http.StatusOK, gin.H{
			"message": unknownMessage,
			"unknown": true,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"questions":  result.Questions,
		"candidates": result.Predictions,
		"context_id": result.ContextID,
	})
}

// handleConfirmSymptoms resolves the diagnosis from the patient's answers.
func (s *Server) handleConfirmSymptoms(c *gin.Context) {
	var req ConfirmSymptomsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidInput, "Invalid request body", err.Error(), requestID(c)))
		return
	}
	if req.Answers == nil {
		s.respondError(c, http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeValidation, "Field 'answers' is required", "", requestID(c)))
		return
	}

	result, err := s.engine.Confirm(c.Request.Context(), &service.ConfirmRequest{
		ContextID:  req.ContextID,
		Candidates: req.Candidates,
		Answers:    req.Answers,
	})
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ConfirmSymptomsResponse{
		Disease:  result.DisplayDisease(),
		Severity: result.SeverityOrNil(),
		Message:  result.Message(),
	})
}

// handleError maps a pipeline error onto the transport error envelope.
func (s *Server) handleError(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	s.respondError(c, StatusFor(code), domain.NewAPIError(code, messageFor(code), err.Error(), requestID(c)))
}

func (s *Server) respondError(c *gin.Context, status int, apiErr *domain.APIError) {
	entry := s.logger.WithFields(logrus.Fields{
		"correlation_id": apiErr.RequestID,
		"code":           apiErr.Code,
		"status":         status,
		"details":        apiErr.Details,
	})
	if status >= http.StatusInternalServerError {
		entry.Error(apiErr.Message)
	} else {
		entry.Warn(apiErr.Message)
	}
	c.AbortWithStatusJSON(status, apiErr)
}

// StatusFor returns the HTTP status used for an API error code.
func StatusFor(code string) int {
	switch code {
	case domain.ErrCodeInvalidInput, domain.ErrCodeValidation:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case domain.ErrCodeClassification:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(code string) string {
	switch code {
	case domain.ErrCodeInvalidInput, domain.ErrCodeValidation:
		return "Invalid input"
	case domain.ErrCodeNotFound:
		return "Candidate context not found or expired"
	case domain.ErrCodeClassification:
		return "Image classification failed"
	default:
		return "Internal server error"
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(middleware.CorrelationIDKey)
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}
