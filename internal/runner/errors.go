package runner

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrMainFileNotFound    = errors.New("main file not found")
	ErrConfigRead          = errors.New("read sandbox config")
	ErrNoSources           = errors.New("no source files")
)

// CompileError reports a compiler that exited with a nonzero status.
type CompileError struct {
	Code int
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compiler returned %d", e.Code)
}
