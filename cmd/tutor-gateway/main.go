// ABOUTME: Entry point for the tutor-gateway learning coordinator
// ABOUTME: Dispatches the serve, init, learner, token, and health subcommands

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/tutor-gateway/internal/config"
	"github.com/2389/tutor-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _         _                                _
 | |_ _   _| |_ ___  _ __       __ _  __ _| |_ _____      ____ _ _   _
 | __| | | | __/ _ \| '__|____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | |_| |_| | || (_) | | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
  \__|\__,_|\__\___/|_|        \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                               |___/                             |___/
`

const usage = `Usage: tutor-gateway <command> [flags]

Commands:
  serve                       Start the gateway server
  init                        Write a starter config and .env with a fresh JWT secret
  learner add --id ID ...     Register a learner profile
  learner list                List learner profiles
  token --user ID [--ttl D]   Issue a bearer token for a learner
  health [--ready]            Check a running gateway

Every command accepts --config PATH (default: $TUTOR_CONFIG, then
$XDG_CONFIG_HOME/tutor-gateway/config.yaml).
`

// getConfigPath returns the path to the gateway config file.
// Priority: --config flag > TUTOR_CONFIG env var > XDG_CONFIG_HOME/tutor-gateway/config.yaml > ~/.config/tutor-gateway/config.yaml
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("TUTOR_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "tutor-gateway", "config.yaml")
}

// loadConfig reads .env files next to the config and in the working
// directory before loading, so ${VAR} references resolve.
func loadConfig(configPath string) (*config.Config, error) {
	for _, envPath := range []string{filepath.Join(filepath.Dir(configPath), ".env"), ".env"} {
		if err := config.LoadEnvFile(envPath); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envPath, err)
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "init":
		err = runInit(args, os.Stdout)
	case "learner":
		err = runLearner(ctx, args, os.Stdout)
	case "token":
		err = runToken(ctx, args, os.Stdout)
	case "health":
		err = runHealth(ctx, args, os.Stdout)
	case "version", "--version":
		fmt.Println(version)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configFlag := fs.String("config", "", "path to config file")
	return fs, configFlag
}

func runServe(ctx context.Context, args []string) error {
	fs, configFlag := newFlagSet("serve")
	if err := fs.Parse(args); err != nil {
		return err
	}
	configPath := getConfigPath(*configFlag)

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Agents:    %d configured\n\n", len(cfg.Agents))

	logger.Info("starting tutor-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"agents", len(cfg.Agents),
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func runHealth(ctx context.Context, args []string, out io.Writer) error {
	fs, configFlag := newFlagSet("health")
	ready := fs.Bool("ready", false, "report per-agent readiness")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(getConfigPath(*configFlag))
	if err != nil {
		return err
	}

	path := "/health"
	if *ready {
		path = "/health/ready"
	}
	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if !*ready {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
		}
		fmt.Fprintln(out, "healthy")
		return nil
	}

	var report struct {
		Ready  bool `json:"ready"`
		Agents []struct {
			Agent string `json:"agent"`
			Ready bool   `json:"ready"`
			Error string `json:"error"`
		} `json:"agents"`
	}
	if err := json.Unmarshal(body, &report); err != nil {
		return fmt.Errorf("decoding readiness: %w", err)
	}
	for _, a := range report.Agents {
		mark := color.GreenString("✓")
		if !a.Ready {
			mark = color.RedString("✗")
		}
		fmt.Fprintf(out, "  %s %-11s %s\n", mark, a.Agent, a.Error)
	}
	if !report.Ready {
		return fmt.Errorf("not ready: no agent is reachable")
	}
	return nil
}
