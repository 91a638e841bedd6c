package config

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/docker/go-units"
	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr     string   `envconfig:"LISTEN_ADDR" default:":3001"`
	UsersPath      string   `envconfig:"USERS_PATH" default:"./users"`
	DatabasePath   string   `envconfig:"DATABASE_PATH" default:"./db/db.db"`
	LogPath        string   `envconfig:"LOG_PATH" default:"./data/ide.log"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3001"`

	// Session settings
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"1m"`
	Shell             string        `envconfig:"SHELL" default:""`
	ToolchainsFile    string        `envconfig:"TOOLCHAINS_FILE" default:""`
	OutputBuffer      string        `envconfig:"OUTPUT_BUFFER" default:"1MiB"`
	MaxInputMessage   string        `envconfig:"MAX_INPUT_MESSAGE" default:"64KiB"`

	ProjectPurgeSchedule string `envconfig:"PROJECT_PURGE_SCHEDULE" default:"@every 1h"`

	// Bearer token for the session and log API. Empty disables those routes.
	AdminToken string `envconfig:"ADMIN_TOKEN" default:""`

	// Parsed from OutputBuffer and MaxInputMessage by Load.
	OutputBufferBytes    int `ignored:"true"`
	MaxInputMessageBytes int `ignored:"true"`
}

var Cfg Settings

func Load() {
	if err := Process(&Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// Process fills s from IDE_* environment variables and derives the parsed
// size fields.
func Process(s *Settings) error {
	if err := envconfig.Process("IDE", s); err != nil {
		return err
	}
	out, err := units.RAMInBytes(s.OutputBuffer)
	if err != nil {
		return fmt.Errorf("parse IDE_OUTPUT_BUFFER %q: %w", s.OutputBuffer, err)
	}
	in, err := units.RAMInBytes(s.MaxInputMessage)
	if err != nil {
		return fmt.Errorf("parse IDE_MAX_INPUT_MESSAGE %q: %w", s.MaxInputMessage, err)
	}
	if out <= 0 || in <= 0 {
		return fmt.Errorf("buffer sizes must be positive (output=%d, input=%d)", out, in)
	}
	if s.HeartbeatInterval <= 0 {
		return fmt.Errorf("IDE_HEARTBEAT_INTERVAL must be positive, got %s", s.HeartbeatInterval)
	}
	s.OutputBufferBytes = int(out)
	s.MaxInputMessageBytes = int(in)
	return nil
}

// ShellCommand returns the interactive shell and its arguments. An explicit
// IDE_SHELL wins; otherwise SHELL (or COMSPEC on Windows) is used.
func (s Settings) ShellCommand() (string, []string) {
	if runtime.GOOS == "windows" {
		shell := s.Shell
		if shell == "" {
			shell = os.Getenv("COMSPEC")
		}
		if shell == "" {
			shell = "cmd.exe"
		}
		return shell, []string{"/k"}
	}
	shell := s.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	return shell, nil
}

// OriginAllowed reports whether a browser origin may open an IDE session.
func (s Settings) OriginAllowed(origin string) bool {
	for _, o := range s.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
