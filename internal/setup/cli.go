package setup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// CLI provides command-line interface for setup operations.
type CLI struct {
	ConfigPath string // empty resolves the platform default
	reader     *bufio.Reader
	out        io.Writer
}

// NewCLI creates a new setup CLI instance.
func NewCLI() *CLI {
	return &CLI{
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}
}

// Run executes the setup command based on the provided arguments.
func (c *CLI) Run(args []string) error {
	if len(args) == 0 {
		return c.showHelp()
	}

	switch args[0] {
	case "claude-desktop":
		return c.setupClaudeDesktop(args[1:])
	case "status":
		return c.showStatus()
	case "help", "--help", "-h":
		return c.showHelp()
	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n\n", args[0])
		return c.showHelp()
	}
}

func (c *CLI) configPath() (string, error) {
	if c.ConfigPath != "" {
		return c.ConfigPath, nil
	}
	return GetClaudeDesktopConfigPath()
}

func (c *CLI) showHelp() error {
	fmt.Fprint(c.out, `
Idemdrem Diagnosis MCP Server Setup

Usage:
  mcp-server setup <command> [options]

Commands:
  claude-desktop  Register the server with Claude Desktop
  status          Show the current registration

Options for claude-desktop:
  --binary, -b    Path to the mcp-server binary
  --data-dir, -d  Data directory
  --catalog, -c   Symptom catalog file (.yaml, .json or .db)
  --endpoint, -e  Remote model endpoint
  --onnx, -o      Local ONNX model file
  --yes, -y       Do not ask for confirmation
`)
	return nil
}

// setupClaudeDesktop configures Claude Desktop integration.
func (c *CLI) setupClaudeDesktop(args []string) error {
	opts, err := parseOptions(args)
	if err != nil {
		return err
	}
	if opts.BinaryPath == "" {
		if execPath, err := os.Executable(); err == nil {
			opts.BinaryPath = execPath
		}
	}

	configPath, err := c.configPath()
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Config file: %s\n", configPath)
	fmt.Fprintf(c.out, "Server binary: %s\n", opts.BinaryPath)
	for k, v := range opts.Env() {
		fmt.Fprintf(c.out, "  %s=%s\n", k, v)
	}

	if !opts.AutoConfirm {
		fmt.Fprint(c.out, "Proceed with configuration? [Y/n]: ")
		response, _ := c.reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "" && response != "y" && response != "yes" {
			fmt.Fprintln(c.out, "Configuration cancelled.")
			return nil
		}
	}

	if err := ConfigureClaudeDesktop(configPath, opts); err != nil {
		return fmt.Errorf("failed to configure Claude Desktop: %w", err)
	}

	fmt.Fprintln(c.out, "Claude Desktop configured. Restart it to load the diagnosis tools.")
	return nil
}

func parseOptions(args []string) (SetupOptions, error) {
	var opts SetupOptions
	for i := 0; i < len(args); i++ {
		var target *string
		switch args[i] {
		case "--binary", "-b":
			target = &opts.BinaryPath
		case "--data-dir", "-d":
			target = &opts.DataDir
		case "--catalog", "-c":
			target = &opts.CatalogPath
		case "--endpoint", "-e":
			target = &opts.ModelEndpoint
		case "--onnx", "-o":
			target = &opts.ONNXModel
		case "--yes", "-y", "--auto":
			opts.AutoConfirm = true
			continue
		default:
			return opts, fmt.Errorf("unknown option: %s", args[i])
		}
		if i+1 >= len(args) {
			return opts, fmt.Errorf("option %s requires a value", args[i])
		}
		*target = args[i+1]
		i++
	}
	return opts, nil
}

// showStatus displays the current setup status.
func (c *CLI) showStatus() error {
	configPath, err := c.configPath()
	if err != nil {
		return err
	}
	status, err := GetStatus(configPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Config path: %s\n", status.ConfigPath)
	if status.Configured {
		fmt.Fprintf(c.out, "Registered: yes (%s)\n", status.ServerPath)
	} else {
		fmt.Fprintln(c.out, "Registered: no")
	}
	if status.CatalogPath != "" {
		fmt.Fprintf(c.out, "Catalog: %s\n", status.CatalogPath)
	}
	for _, issue := range status.Issues {
		fmt.Fprintf(c.out, "  ! %s\n", issue)
	}
	return nil
}
