// Package setup registers the diagnosis MCP server with desktop AI clients.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ServerName is the key under which the diagnosis server is registered.
const ServerName = "idemdrem-diagnosis"

// BinaryName is the MCP server executable.
const BinaryName = "mcp-server"

// ClaudeDesktopConfig represents the Claude Desktop configuration file structure.
// Unknown top-level keys are preserved on save.
type ClaudeDesktopConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
	extra      map[string]json.RawMessage
}

// MCPServerConfig represents a single MCP server configuration.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// SetupOptions contains options for the setup process.
type SetupOptions struct {
	BinaryPath    string // Path to the server binary
	DataDir       string // IDEMDREM_DATA_DIR
	CatalogPath   string // IDEMDREM_CATALOG_PATH
	ModelEndpoint string // IDEMDREM_MODEL_ENDPOINT
	ONNXModel     string // IDEMDREM_ONNX_MODEL
	AutoConfirm   bool   // Skip confirmation prompts
}

// Env returns the environment passed to the server process.
func (o SetupOptions) Env() map[string]string {
	env := make(map[string]string)
	set := func(key, value string) {
		if value != "" {
			env[key] = value
		}
	}
	set("IDEMDREM_DATA_DIR", o.DataDir)
	set("IDEMDREM_CATALOG_PATH", o.CatalogPath)
	set("IDEMDREM_MODEL_ENDPOINT", o.ModelEndpoint)
	set("IDEMDREM_ONNX_MODEL", o.ONNXModel)
	return env
}

// GetClaudeDesktopConfigPath returns the path to Claude Desktop's config file.
func GetClaudeDesktopConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "Claude")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// LoadClaudeDesktopConfig loads the existing Claude Desktop configuration. A missing file yields
// an empty configuration.
func LoadClaudeDesktopConfig(configPath string) (*ClaudeDesktopConfig, error) {
	config := &ClaudeDesktopConfig{MCPServers: make(map[string]MCPServerConfig)}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &config.extra); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if raw, ok := config.extra["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &config.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
		delete(config.extra, "mcpServers")
	}
	if config.MCPServers == nil {
		config.MCPServers = make(map[string]MCPServerConfig)
	}

	return config, nil
}

// SaveClaudeDesktopConfig saves the configuration to the Claude Desktop config file.
func SaveClaudeDesktopConfig(configPath string, config *ClaudeDesktopConfig) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	doc := make(map[string]any, len(config.extra)+1)
	for k, v := range config.extra {
		doc[k] = v
	}
	doc["mcpServers"] = config.MCPServers

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigureClaudeDesktop adds or updates the diagnosis server entry in the config file.
func ConfigureClaudeDesktop(configPath string, opts SetupOptions) error {
	config, err := LoadClaudeDesktopConfig(configPath)
	if err != nil {
		return err
	}

	binaryPath := opts.BinaryPath
	if binaryPath == "" {
		binaryPath, err = findBinary()
		if err != nil {
			return fmt.Errorf("could not find server binary: %w", err)
		}
	}

	config.MCPServers[ServerName] = MCPServerConfig{
		Command: binaryPath,
		Env:     opts.Env(),
	}

	return SaveClaudeDesktopConfig(configPath, config)
}

// findBinary attempts to find the server binary in common locations.
func findBinary() (string, error) {
	if path, err := exec.LookPath(BinaryName); err == nil {
		return path, nil
	}

	locations := []string{
		"./" + BinaryName,
		"./build/" + BinaryName,
		filepath.Join(os.Getenv("HOME"), ".local", "bin", BinaryName),
		"/usr/local/bin/" + BinaryName,
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if absPath, err := filepath.Abs(loc); err == nil {
				return absPath, nil
			}
			return loc, nil
		}
	}

	return "", fmt.Errorf("binary '%s' not found in common locations", BinaryName)
}

// Status represents the current setup status.
type Status struct {
	ConfigPath  string
	Configured  bool
	ServerPath  string
	CatalogPath string
	Issues      []string
}

// GetStatus inspects the registration in the given config file.
func GetStatus(configPath string) (*Status, error) {
	status := &Status{ConfigPath: configPath}

	config, err := LoadClaudeDesktopConfig(configPath)
	if err != nil {
		return nil, err
	}

	server, ok := config.MCPServers[ServerName]
	if !ok {
		status.Issues = append(status.Issues, "diagnosis server is not registered")
		return status, nil
	}

	status.Configured = true
	status.ServerPath = server.Command
	if _, err := os.Stat(server.Command); err != nil {
		status.Issues = append(status.Issues, fmt.Sprintf("server binary not found: %s", server.Command))
	}

	status.CatalogPath = server.Env["IDEMDREM_CATALOG_PATH"]
	if status.CatalogPath != "" {
		if _, err := os.Stat(status.CatalogPath); err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("symptom catalog not found: %s", status.CatalogPath))
		}
	}
	if server.Env["IDEMDREM_MODEL_ENDPOINT"] == "" && server.Env["IDEMDREM_ONNX_MODEL"] == "" {
		status.Issues = append(status.Issues, "no classifier model configured")
	}

	return status, nil
}
