package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// OutputName is the executable produced by every compiled toolchain, before
// the platform suffix.
const OutputName = "main"

// Toolchain describes how to run one language. Exactly one of Interpreter
// or Compiler is set.
type Toolchain struct {
	Lang    string   `yaml:"lang"`
	Aliases []string `yaml:"aliases,omitempty"`

	// Interpreter is invoked as `Interpreter <mainFile>`.
	Interpreter string `yaml:"interpreter,omitempty"`

	// Compiler is invoked as `Compiler Flags... -o main <sources...>` with
	// every file ending in SourceExt beneath the sandbox.
	Compiler  string   `yaml:"compiler,omitempty"`
	Flags     []string `yaml:"flags,omitempty"`
	SourceExt string   `yaml:"source_ext,omitempty"`
}

// Compiled reports whether the toolchain has a compile stage.
func (tc Toolchain) Compiled() bool {
	return tc.Compiler != ""
}

func (tc Toolchain) validate() error {
	if tc.Lang == "" {
		return fmt.Errorf("toolchain without lang")
	}
	switch {
	case tc.Interpreter != "" && tc.Compiler != "":
		return fmt.Errorf("toolchain %q sets both interpreter and compiler", tc.Lang)
	case tc.Interpreter == "" && tc.Compiler == "":
		return fmt.Errorf("toolchain %q sets neither interpreter nor compiler", tc.Lang)
	case tc.Compiler != "" && tc.SourceExt == "":
		return fmt.Errorf("toolchain %q needs source_ext", tc.Lang)
	}
	return nil
}

// Exe appends the platform executable suffix to program.
func Exe(program string) string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(program), ".exe") {
		return program + ".exe"
	}
	return program
}

// Toolchains is an immutable lookup table keyed by language tag and alias.
type Toolchains struct {
	byLang  map[string]Toolchain
	aliases map[string]string
}

var compileFlags = []string{"-Wall", "-Os", "-s"}

// DefaultToolchains returns the built-in table: lua, py and js interpreters
// and gcc/g++ for c and cpp.
func DefaultToolchains() *Toolchains {
	python := "python3"
	if runtime.GOOS == "windows" {
		python = "python"
	}
	t, _ := newToolchains([]Toolchain{
		{Lang: "lua", Interpreter: Exe("lua")},
		{Lang: "py", Aliases: []string{"python"}, Interpreter: Exe(python)},
		{Lang: "js", Aliases: []string{"javascript", "node"}, Interpreter: Exe("node")},
		{Lang: "c", Compiler: Exe("gcc"), Flags: compileFlags, SourceExt: ".c"},
		{Lang: "cpp", Aliases: []string{"c++"}, Compiler: Exe("g++"), Flags: compileFlags, SourceExt: ".cpp"},
	})
	return t
}

func newToolchains(list []Toolchain) (*Toolchains, error) {
	t := &Toolchains{
		byLang:  make(map[string]Toolchain),
		aliases: make(map[string]string),
	}
	for _, tc := range list {
		if err := tc.validate(); err != nil {
			return nil, err
		}
		tc.Lang = strings.ToLower(tc.Lang)
		t.byLang[tc.Lang] = tc
	}
	for lang, tc := range t.byLang {
		for _, a := range tc.Aliases {
			a = strings.ToLower(a)
			if _, taken := t.byLang[a]; taken {
				continue
			}
			t.aliases[a] = lang
		}
	}
	return t, nil
}

type toolchainFile struct {
	Toolchains []Toolchain `yaml:"toolchains"`
}

// LoadToolchains reads a YAML override file and merges it over the
// defaults: an entry replaces the default with the same lang. An empty path
// returns the defaults.
//
//	toolchains:
//	  - lang: py
//	    aliases: [python]
//	    interpreter: /usr/bin/python3.12
//	  - lang: rs
//	    compiler: rustc
//	    flags: ["-O"]
//	    source_ext: .rs
func LoadToolchains(path string) (*Toolchains, error) {
	defaults := DefaultToolchains()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read toolchains file: %w", err)
	}
	var f toolchainFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse toolchains file: %w", err)
	}

	merged := make(map[string]Toolchain, len(defaults.byLang)+len(f.Toolchains))
	for lang, tc := range defaults.byLang {
		merged[lang] = tc
	}
	for _, tc := range f.Toolchains {
		merged[strings.ToLower(tc.Lang)] = tc
	}
	list := make([]Toolchain, 0, len(merged))
	for _, tc := range merged {
		list = append(list, tc)
	}
	return newToolchains(list)
}

// Normalize maps aliases ("python", "javascript") to their language tag.
func (t *Toolchains) Normalize(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if lang, ok := t.aliases[tag]; ok {
		return lang
	}
	return tag
}

// Lookup returns the toolchain for a language tag or alias.
func (t *Toolchains) Lookup(tag string) (Toolchain, bool) {
	tc, ok := t.byLang[t.Normalize(tag)]
	return tc, ok
}

// Languages lists the supported tags in sorted order.
func (t *Toolchains) Languages() []string {
	langs := make([]string, 0, len(t.byLang))
	for lang := range t.byLang {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}
