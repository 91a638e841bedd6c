package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/gluk-w/online-ide/internal/sandbox"
)

// ConfigFile is the per-sandbox settings file the browser writes through
// the "saveconf" round-trip.
const ConfigFile = ".config.json"

type sandboxConfig struct {
	MainFile string `json:"mainFile"`
}

// DefaultMainFile is "main.<lang>".
func DefaultMainFile(lang string) string {
	return "main." + lang
}

// readConfig returns the mainFile recorded in root/.config.json. A missing
// file yields "" without error.
func readConfig(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConfigRead, err)
	}
	var cfg sandboxConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("%w: %w", ErrConfigRead, err)
	}
	return cfg.MainFile, nil
}

// ResolveMainFile picks the entry point for lang inside root. The
// configured mainFile wins when it passes the sandbox check; otherwise
// main.<lang> is used. The chosen name is returned together with
// ErrMainFileNotFound when it does not exist as a regular file. An
// unreadable or malformed config file fails with ErrConfigRead.
func ResolveMainFile(root, lang, logPrefix string) (string, error) {
	name := DefaultMainFile(lang)

	configured, err := readConfig(root)
	switch {
	case err != nil:
		return name, err
	case configured != "":
		if _, rerr := sandbox.Resolve(root, configured); rerr != nil {
			log.Printf("%s ignoring mainFile %q: %v", logPrefix, configured, rerr)
		} else {
			name = filepath.ToSlash(filepath.Clean(configured))
		}
	}

	if !sandbox.Exists(root, name) {
		return name, ErrMainFileNotFound
	}
	return name, nil
}
