package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/idemdrem-diagnosis-server/internal/domain"
	"github.com/idemdrem-diagnosis-server/internal/service"
)

// ClassifyImageParams defines parameters for classify_image tool
type ClassifyImageParams struct {
	// ImageBase64 is the photo, optionally as a data URL.
	ImageBase64 string `json:"image_base64" jsonschema:"base64 encoded JPEG or PNG image, a data URL is accepted"`
	ContentType string `json:"content_type,omitempty" jsonschema:"image/jpeg or image/png, inferred when omitted"`
}

// ClassifyImageResult defines the result structure for classify_image tool
type ClassifyImageResult struct {
	Unknown    bool                `json:"unknown"`
	Message    string              `json:"message,omitempty"`
	Candidates []domain.Prediction `json:"candidates"`
	Questions  []domain.Question   `json:"questions,omitempty"`
	ContextID  string              `json:"context_id,omitempty"`
	Top1       float64             `json:"top1"`
	Margin     float64             `json:"margin"`
}

// ConfirmSymptomsParams defines parameters for confirm_symptoms tool
type ConfirmSymptomsParams struct {
	ContextID  string              `json:"context_id,omitempty" jsonschema:"identifier returned by classify_image"`
	Candidates []domain.Prediction `json:"candidates,omitempty" jsonschema:"ranked candidates, used instead of context_id"`
	Answers    map[string]any      `json:"answers" jsonschema:"symptom id to yes/no answer"`
}

// ConfirmSymptomsResult defines the result structure for confirm_symptoms tool
type ConfirmSymptomsResult struct {
	Disease    string                  `json:"disease"`
	Severity   *domain.SeverityLevel   `json:"severity"`
	Confirmed  bool                    `json:"confirmed"`
	MatchRatio float64                 `json:"match_ratio"`
	Message    string                  `json:"message"`
	Scores     []domain.CandidateScore `json:"scores,omitempty"`
}

// ListConditionsParams defines parameters for list_conditions tool
type ListConditionsParams struct{}

// ConditionInfo describes one catalog condition.
type ConditionInfo struct {
	ID       domain.DiseaseID     `json:"id"`
	Symptoms []domain.SymptomSpec `json:"symptoms"`
}

// ListConditionsResult defines the result structure for list_conditions tool
type ListConditionsResult struct {
	Conditions []ConditionInfo     `json:"conditions"`
	Engine     domain.EngineConfig `json:"engine"`
}

// handleClassifyImage handles the classify_image tool invocation
func (s *Server) handleClassifyImage(ctx context.Context, req *mcp.CallToolRequest, params ClassifyImageParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolClassifyImage).Info("Tool invoked")

	data, contentType, err := decodeImagePayload(params.ImageBase64, params.ContentType)
	if err != nil {
		return s.createErrorResult("Invalid image", err), nil, nil
	}

	classified, err := s.engine.ClassifyImage(ctx, data, contentType)
	if err != nil {
		return s.createErrorResult(failureLabel(err), err), nil, nil
	}

	result := ClassifyImageResult{
		Unknown:    classified.Unknown,
		Candidates: classified.Predictions.Predictions(),
		Questions:  classified.Questions,
		ContextID:  classified.ContextID,
		Top1:       classified.Top1,
		Margin:     classified.Margin,
	}
	if classified.Unknown {
		result.Message = "Unknown disease detected."
	}

	return s.createJSONResult(result), result, nil
}

// handleConfirmSymptoms handles the confirm_symptoms tool invocation
func (s *Server) handleConfirmSymptoms(ctx context.Context, req *mcp.CallToolRequest, params ConfirmSymptomsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolConfirmSymptoms).Info("Tool invoked")

	if params.Answers == nil {
		return s.createErrorResult("Missing required parameter", domain.NewInputError("answers", "answers is required", nil)), nil, nil
	}

	confirm := &service.ConfirmRequest{
		ContextID: params.ContextID,
		Answers:   params.Answers,
	}
	if len(params.Candidates) > 0 {
		candidates, err := domain.NewPredictionSet(params.Candidates)
		if err != nil {
			return s.createErrorResult("Invalid candidates", err), nil, nil
		}
		confirm.Candidates = &candidates
	}

	diagnosis, err := s.engine.Confirm(ctx, confirm)
	if err != nil {
		return s.createErrorResult(failureLabel(err), err), nil, nil
	}

	result := ConfirmSymptomsResult{
		Disease:    diagnosis.DisplayDisease(),
		Severity:   diagnosis.SeverityOrNil(),
		Confirmed:  diagnosis.Confirmed,
		MatchRatio: diagnosis.MatchRatio,
		Message:    diagnosis.Message(),
		Scores:     diagnosis.Scores,
	}

	return s.createJSONResult(result), result, nil
}

// handleListConditions handles the list_conditions tool invocation
func (s *Server) handleListConditions(ctx context.Context, req *mcp.CallToolRequest, params ListConditionsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolListConditions).Debug("Tool invoked")

	catalog := s.engine.Catalog()
	result := ListConditionsResult{Engine: s.engine.Engine()}
	for _, id := range catalog.Diseases() {
		result.Conditions = append(result.Conditions, ConditionInfo{
			ID:       id,
			Symptoms: catalog.Symptoms(id),
		})
	}

	return s.createJSONResult(result), result, nil
}

// decodeImagePayload accepts plain base64 or a data URL and returns the bytes with their
// declared content type.
func decodeImagePayload(payload, contentType string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, "", domain.NewInputError("image_base64", "image is required", nil)
	}

	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		header, encoded, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return nil, "", domain.NewInputError("image_base64", "data URL must be base64 encoded", nil)
		}
		if contentType == "" {
			contentType = strings.TrimSuffix(header, ";base64")
		}
		payload = encoded
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
	}
	if err != nil {
		return nil, "", domain.NewInputError("image_base64", "invalid base64: "+err.Error(), nil)
	}

	return data, contentType, nil
}

// createJSONResult renders the structured result as text content for clients without structured
// output support.
func (s *Server) createJSONResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s.createErrorResult("Failed to encode result", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}
}

// failureLabel names a failed engine call by its error class.
func failureLabel(err error) string {
	switch domain.ErrorCode(err) {
	case domain.ErrCodeInvalidInput, domain.ErrCodeValidation:
		return "Invalid input"
	case domain.ErrCodeNotFound:
		return "Not found"
	case domain.ErrCodeClassification:
		return "Classification failed"
	default:
		return "Internal error"
	}
}

// createErrorResult creates a standardized error result for tool calls. The error code is
// included so callers can tell rejected input from failures of the engine.
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" [%s] - %v", domain.ErrorCode(err), err)
		s.logger.WithError(err).WithField("code", domain.ErrorCode(err)).Warn(message)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
