package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrAccessDenied is returned when a path escapes the sandbox root.
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidRoot is returned when the root is not an absolute path.
	ErrInvalidRoot = errors.New("sandbox root must be absolute")
)

// Resolve returns the absolute path of rel inside root. It fails with
// ErrAccessDenied for absolute paths, any ".." segment, the root itself,
// and paths whose existing prefix resolves outside root through a symlink.
func Resolve(root, rel string) (string, error) {
	if !filepath.IsAbs(root) {
		return "", ErrInvalidRoot
	}
	root = filepath.Clean(root)

	if rel == "" || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return "", fmt.Errorf("%w: %q", ErrAccessDenied, rel)
	}
	for _, seg := range strings.FieldsFunc(rel, isSeparator) {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrAccessDenied, rel)
		}
	}

	abs := filepath.Join(root, rel)
	if !within(root, abs) {
		return "", fmt.Errorf("%w: %q", ErrAccessDenied, rel)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		// Root not created yet: nothing beneath it can be a symlink.
		return abs, nil
	}
	realAbs, err := evalExisting(abs)
	if err != nil {
		return "", fmt.Errorf("canonicalize %q: %w", rel, err)
	}
	if !within(realRoot, realAbs) {
		return "", fmt.Errorf("%w: %q", ErrAccessDenied, rel)
	}
	return abs, nil
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

// within reports whether p is strictly below root.
func within(root, p string) bool {
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// evalExisting resolves symlinks on the longest existing prefix of p and
// re-appends the components that do not exist yet.
func evalExisting(p string) (string, error) {
	var rest []string
	cur := p
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(rest) - 1; i >= 0; i-- {
				real = filepath.Join(real, rest[i])
			}
			return real, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		rest = append(rest, filepath.Base(cur))
		cur = parent
	}
}

// SessionKey derives the weak per-client key from a remote address such as
// "203.0.113.7:51234" or "[::ffff:10.0.0.1]:80". The key is the last
// ':'-separated segment of the host, reduced to filesystem-safe characters.
// It is not a security boundary.
func SessionKey(remoteAddr string) string {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[i+1:]
	}

	var b strings.Builder
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	key := strings.Trim(b.String(), ".")
	if key == "" {
		return "anonymous"
	}
	return key
}

// ProjectsDir holds shared-project sandboxes under the users path. Session
// keys never start with '.', so it cannot collide with an anonymous root.
const ProjectsDir = ".projects"

// EnsureRoot creates (if needed) and returns the absolute sandbox root for
// key under usersPath. Anonymous sessions get usersPath/<key>; a non-empty
// projectID selects usersPath/.projects/<projectID>/<key> instead, a tree no
// anonymous root contains.
func EnsureRoot(usersPath, key, projectID string) (string, error) {
	base, err := filepath.Abs(usersPath)
	if err != nil {
		return "", fmt.Errorf("resolve users path: %w", err)
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return "", fmt.Errorf("create users path: %w", err)
	}

	parent := base
	if projectID != "" {
		if parent, err = Resolve(filepath.Join(base, ProjectsDir), projectID); err != nil {
			return "", err
		}
	}
	root, err := Resolve(parent, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("create sandbox root: %w", err)
	}
	return root, nil
}

// WriteFile writes data to rel beneath root, creating parent directories.
func WriteFile(root, rel string, data []byte) (string, error) {
	abs, err := Resolve(root, rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(abs, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	return abs, nil
}

// Exists reports whether rel names an existing regular file beneath root.
func Exists(root, rel string) bool {
	abs, err := Resolve(root, rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// SourceFiles returns every regular file beneath root whose extension
// matches ext (case-insensitive, with leading dot), as sorted paths
// relative to root.
func SourceFiles(root, ext string) ([]string, error) {
	ext = strings.ToLower(ext)
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if strings.ToLower(filepath.Ext(p)) != ext {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan sources: %w", err)
	}
	sort.Strings(files)
	return files, nil
}
