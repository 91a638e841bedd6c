package protocol

// Level selects the ANSI colour of a terminal notice.
type Level int

const (
	// LevelNone sends the text untouched.
	LevelNone Level = iota
	LevelInfo
	LevelWarning
	LevelError
	// LevelStatus marks milestones such as a program ending.
	LevelStatus
)

const ansiReset = "\x1b[0m"

func (l Level) colour() string {
	switch l {
	case LevelInfo:
		return "\x1b[39;49m"
	case LevelWarning:
		return "\x1b[33;49m"
	case LevelError:
		return "\x1b[31;49m"
	case LevelStatus:
		return "\x1b[32;49m"
	default:
		return ""
	}
}

// FormatMessage wraps text in the level's colour and ends the line.
// LevelNone returns text unchanged.
func FormatMessage(level Level, text string) string {
	c := level.colour()
	if c == "" {
		return text
	}
	return c + text + ansiReset + "\n"
}

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelStatus:
		return "status"
	default:
		return "none"
	}
}
