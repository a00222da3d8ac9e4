// ABOUTME: User profile loading for the chat client
// ABOUTME: Loads TOML preferences from XDG path, falling back to defaults

package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Profile holds per-user display preferences, separate from the connection
// config. A missing profile file is not an error.
type Profile struct {
	DisplayName     string `toml:"display_name"`
	Color           bool   `toml:"color"`
	TypingIndicator bool   `toml:"typing_indicator"`
	ShowStatus      bool   `toml:"show_status"`
}

func defaultProfile() *Profile {
	return &Profile{
		DisplayName:     "you",
		Color:           true,
		TypingIndicator: true,
		ShowStatus:      false,
	}
}

// getProfilePath returns the path to the user profile file.
// Priority: AGENTFORCE_PROFILE env var > XDG_CONFIG_HOME/agentforce/profile.toml > ~/.config/agentforce/profile.toml
func getProfilePath() string {
	if envPath := os.Getenv("AGENTFORCE_PROFILE"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "profile.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "agentforce", "profile.toml")
}

// loadProfile reads the TOML profile, returning defaults when the file is
// missing or unreadable.
func loadProfile(logger *slog.Logger) *Profile {
	path := getProfilePath()

	data, err := os.ReadFile(path)
	if err != nil {
		return defaultProfile()
	}

	profile := defaultProfile()
	if _, err := toml.Decode(string(data), profile); err != nil {
		logger.Warn("ignoring malformed profile", "path", path, "error", err)
		return defaultProfile()
	}
	if profile.DisplayName == "" {
		profile.DisplayName = "you"
	}
	return profile
}
