// Package mcp exposes the diagnosis pipeline as Model Context Protocol tools so that AI agents can
// classify a skin photo and confirm the diagnosis from the patient's answers.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/idemdrem-diagnosis-server/internal/domain"
	"github.com/idemdrem-diagnosis-server/internal/service"
)

// Tool names.
const (
	ToolClassifyImage   = "classify_image"
	ToolConfirmSymptoms = "confirm_symptoms"
	ToolListConditions  = "list_conditions"
)

// DiagnosisEngine is the decision pipeline behind the tools.
type DiagnosisEngine interface {
	ClassifyImage(ctx context.Context, data []byte, contentType string) (*domain.ClassifyResult, error)
	Confirm(ctx context.Context, req *service.ConfirmRequest) (*domain.DiagnosisResult, error)
	Catalog() *domain.SymptomCatalog
	Engine() domain.EngineConfig
}

// Server represents the diagnosis MCP server
type Server struct {
	config    domain.MCPConfig
	engine    DiagnosisEngine
	mcpServer *mcp.Server
	logger    *logrus.Logger
}

// NewServer creates a new MCP server instance with every tool registered.
func NewServer(cfg domain.MCPConfig, engine DiagnosisEngine, logger *logrus.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("diagnosis engine is required")
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "idemdrem-diagnosis"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "1.0.0"
	}

	serverInfo := &mcp.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}

	server := &Server{
		config:    cfg,
		engine:    engine,
		mcpServer: mcp.NewServer(serverInfo, nil),
		logger:    logger,
	}

	server.registerTools()

	return server, nil
}

// Start serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"server":  s.config.ServerName,
		"version": s.config.ServerVersion,
	}).Info("Starting diagnosis MCP server on stdio")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// registerTools registers the diagnosis tools with the MCP SDK.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolClassifyImage,
		Description: "Classify a base64-encoded JPEG or PNG skin photo. Returns either an unknown-condition " +
			"flag or the top candidate conditions with the follow-up symptom questions and a context_id " +
			"to pass to confirm_symptoms.",
	}, s.handleClassifyImage)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolConfirmSymptoms,
		Description: "Confirm the diagnosis from yes/no symptom answers. Supply the context_id returned by " +
			"classify_image, or the candidate list itself. Answers accept 1/0, true/false or yes/no.",
	}, s.handleConfirmSymptoms)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolListConditions,
		Description: "List the skin conditions the engine recognises with their symptoms and decision thresholds.",
	}, s.handleListConditions)

	s.logger.WithField("tool_count", 3).Info("Registered MCP tools")
}
