package config

import (
	"testing"
	"time"
)

func TestProcessDefaults(t *testing.T) {
	var s Settings
	if err := Process(&s); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if s.ListenAddr != ":3001" {
		t.Errorf("ListenAddr = %q, want :3001", s.ListenAddr)
	}
	if s.HeartbeatInterval != time.Minute {
		t.Errorf("HeartbeatInterval = %s, want 1m", s.HeartbeatInterval)
	}
	if s.OutputBufferBytes != 1024*1024 {
		t.Errorf("OutputBufferBytes = %d, want %d", s.OutputBufferBytes, 1024*1024)
	}
	if s.MaxInputMessageBytes != 64*1024 {
		t.Errorf("MaxInputMessageBytes = %d, want %d", s.MaxInputMessageBytes, 64*1024)
	}
}

func TestProcessOverrides(t *testing.T) {
	t.Setenv("IDE_OUTPUT_BUFFER", "256KiB")
	t.Setenv("IDE_HEARTBEAT_INTERVAL", "15s")
	t.Setenv("IDE_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	var s Settings
	if err := Process(&s); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if s.OutputBufferBytes != 256*1024 {
		t.Errorf("OutputBufferBytes = %d, want %d", s.OutputBufferBytes, 256*1024)
	}
	if s.HeartbeatInterval != 15*time.Second {
		t.Errorf("HeartbeatInterval = %s, want 15s", s.HeartbeatInterval)
	}
	if !s.OriginAllowed("https://b.example") {
		t.Error("expected https://b.example to be allowed")
	}
	if s.OriginAllowed("https://evil.example") {
		t.Error("expected https://evil.example to be rejected")
	}
}

func TestProcessRejectsBadSize(t *testing.T) {
	t.Setenv("IDE_OUTPUT_BUFFER", "lots")
	var s Settings
	if err := Process(&s); err == nil {
		t.Fatal("expected error for unparsable size")
	}
}

func TestOriginWildcard(t *testing.T) {
	s := Settings{AllowedOrigins: []string{"*"}}
	if !s.OriginAllowed("https://anything.example") {
		t.Error("wildcard should allow any origin")
	}
}

func TestShellCommandOverride(t *testing.T) {
	s := Settings{Shell: "/bin/zsh"}
	shell, _ := s.ShellCommand()
	if shell != "/bin/zsh" && shell != "cmd.exe" {
		t.Errorf("ShellCommand() = %q", shell)
	}
}
