// ABOUTME: Entry point for the agentforce terminal chat client
// ABOUTME: Loads config, builds the engine, runs the interactive loop

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/forcedotcom/agentforce-service-go/internal/config"
	"github.com/forcedotcom/agentforce-service-go/pkg/client"
	"github.com/forcedotcom/agentforce-service-go/pkg/credential"
	"github.com/forcedotcom/agentforce-service-go/pkg/stream"
)

const banner = `
    agentforce-chat :: streaming agent conversations
`

// getConfigPath returns the path to the client config file.
// Priority: AGENTFORCE_CONFIG env var > XDG_CONFIG_HOME/agentforce/chat.yaml > ~/.config/agentforce/chat.yaml
func getConfigPath() string {
	if envPath := os.Getenv("AGENTFORCE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chat.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "agentforce", "chat.yaml")
}

// getToken returns the access token from AGENTFORCE_TOKEN env var or
// ~/.config/agentforce/token file
func getToken() string {
	// Check env var first
	if token := os.Getenv("AGENTFORCE_TOKEN"); token != "" {
		return token
	}

	// Try to read from token file
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	tokenPath := filepath.Join(configDir, "agentforce", "token")
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	// A token from the environment or the token file overrides the config.
	if token := getToken(); token != "" {
		cfg.Auth.Token = token
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	profile := loadProfile(logger)

	green := color.New(color.FgGreen)
	green.Print("  ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("  ▶ ")
	fmt.Printf("Instance: %s\n", cfg.Server.InstanceURL)
	green.Print("  ▶ ")
	fmt.Printf("Auth:     %s\n", authSummary(cfg.Auth))
	if cfg.Voice.Enabled {
		green.Print("  ▶ ")
		fmt.Printf("Voice:    %s\n", cfg.Voice.URL)
	}
	fmt.Println()

	eng, err := client.New(client.Options{
		BaseURL:      cfg.Server.InstanceURL,
		Credentials:  buildCredentials(cfg),
		InstanceURL:  cfg.Server.InstanceURL,
		Capabilities: cfg.Session.Capabilities,
		Stream: stream.Config{
			Path:        cfg.Stream.Path,
			BaseDelay:   cfg.Stream.BaseDelay,
			MaxDelay:    cfg.Stream.MaxDelay,
			MaxAttempts: cfg.Stream.MaxAttempts,
			IdleTimeout: cfg.Stream.IdleTimeout,
		},
		BufferSize:     cfg.Session.BufferSize,
		CommandTimeout: cfg.Session.CommandTimeout,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer eng.Close()

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	chat := newChat(eng, cfg, profile, logger)
	if err := chat.run(ctx); err != nil {
		return err
	}

	fmt.Println("\nGoodbye!")
	return nil
}

// buildCredentials maps the auth config onto a credential provider.
func buildCredentials(cfg *config.Config) credential.Provider {
	auth := cfg.Auth
	switch auth.Kind {
	case "guest":
		return credential.Static(credential.Guest(cfg.Server.InstanceURL))
	case "org_jwt":
		return credential.Static(credential.OrgJWT(auth.Token))
	default:
		return credential.Static(credential.OAuth(auth.Token, auth.OrgID, auth.UserID))
	}
}

func authSummary(auth config.AuthConfig) string {
	switch auth.Kind {
	case "guest":
		return "guest"
	case "org_jwt":
		return "org JWT"
	default:
		if auth.OrgID != "" {
			return "oauth (" + auth.OrgID + ")"
		}
		return "oauth"
	}
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
