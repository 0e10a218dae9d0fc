// Package registry holds the immutable table mapping a language tag to the
// sandbox image, source filename, and run/compile commands used to execute
// it. The table is built once at startup and never mutated afterward.
package registry

import (
	"errors"
	"regexp"
)

// ErrUnknownLanguage is returned by Lookup when the tag has no LanguageSpec.
var ErrUnknownLanguage = errors.New("registry: unknown language")

// MemoryClass selects the memory ceiling a sandbox is created with.
type MemoryClass int

const (
	// MemoryStandard covers runtimes that fit comfortably under 100 MiB idle.
	MemoryStandard MemoryClass = iota
	// MemoryHeavy covers runtimes (JVM, Dart) whose idle footprint exceeds
	// 100 MiB.
	MemoryHeavy
)

// Bytes returns the memory ceiling in bytes for the class.
func (m MemoryClass) Bytes() int64 {
	switch m {
	case MemoryHeavy:
		return 256 * 1024 * 1024
	default:
		return 100 * 1024 * 1024
	}
}

// LanguageSpec is an immutable record describing how to run one language.
type LanguageSpec struct {
	// Tag is the short identifier clients pass in ExecutionRequest, e.g. "python".
	Tag string
	// Image is the prebuilt sandbox image used for interactive sessions and
	// as the base layer for batch's ephemeral images.
	Image string
	// SourceFilename is the filename the source is written to inside /code.
	SourceFilename string
	// RunCommand is the argument vector used when no compile step is needed.
	RunCommand []string
	// CompileRunCommand is a shell command used when the source must be
	// compiled first; build artifacts land in /tmp, not /code, since /code
	// may be read-only or owned by a different uid after COPY.
	CompileRunCommand string
	// MemoryClass selects the sandbox's memory ceiling.
	MemoryClass MemoryClass
	// StdinDetector matches source that reads from standard input.
	StdinDetector *regexp.Regexp
}

// NeedsCompile reports whether the language must be built before running.
func (s LanguageSpec) NeedsCompile() bool {
	return s.CompileRunCommand != ""
}

// DetectsStdin reports whether source appears to read standard input.
func (s LanguageSpec) DetectsStdin(source string) bool {
	return s.StdinDetector != nil && s.StdinDetector.MatchString(source)
}

// Registry is an immutable, lookup-only table of LanguageSpecs.
type Registry struct {
	byTag map[string]LanguageSpec
	tags  []string
}

// New builds a Registry from the given specs. Later entries with a
// duplicate tag overwrite earlier ones, matching a plain map's semantics;
// callers are expected to pass a de-duplicated set.
func New(specs []LanguageSpec) *Registry {
	r := &Registry{byTag: make(map[string]LanguageSpec, len(specs))}
	for _, s := range specs {
		if _, exists := r.byTag[s.Tag]; !exists {
			r.tags = append(r.tags, s.Tag)
		}
		r.byTag[s.Tag] = s
	}
	return r
}

// Lookup returns the LanguageSpec for tag, or ErrUnknownLanguage.
func (r *Registry) Lookup(tag string) (LanguageSpec, error) {
	spec, ok := r.byTag[tag]
	if !ok {
		return LanguageSpec{}, ErrUnknownLanguage
	}
	return spec, nil
}

// List returns the registered tags in registration order.
func (r *Registry) List() []string {
	out := make([]string, len(r.tags))
	copy(out, r.tags)
	return out
}

// Default builds the registry's authoritative language set. The source
// product this system descends from documents fourteen languages but only
// ever wires seven; the registry contract in this design treats the set as
// pure configuration, so the seven below — matching every worked stdin
// detector example — are what this deployment ships.
func Default() *Registry {
	return New([]LanguageSpec{
		{
			Tag:            "python",
			Image:          "aggiesandbox/python-executor",
			SourceFilename: "script.py",
			RunCommand:     []string{"python3", "script.py"},
			MemoryClass:    MemoryStandard,
			StdinDetector:  regexp.MustCompile(`(?i)input\(`),
		},
		{
			Tag:            "javascript",
			Image:          "aggiesandbox/js-executor",
			SourceFilename: "script.js",
			RunCommand:     []string{"node", "script.js"},
			MemoryClass:    MemoryStandard,
			StdinDetector:  regexp.MustCompile(`(?i)readline|process\.stdin`),
		},
		{
			Tag:               "cpp",
			Image:             "aggiesandbox/cpp-executor",
			SourceFilename:    "main.cpp",
			CompileRunCommand: "g++ -O2 -o /tmp/a.out main.cpp && /tmp/a.out",
			MemoryClass:       MemoryStandard,
			StdinDetector:     regexp.MustCompile(`(?i)cin|getline|scanf`),
		},
		{
			Tag:               "java",
			Image:             "aggiesandbox/java-executor",
			SourceFilename:    "Main.java",
			CompileRunCommand: "javac -d /tmp Main.java && java -cp /tmp Main",
			MemoryClass:       MemoryHeavy,
			StdinDetector:     regexp.MustCompile(`(?i)Scanner|BufferedReader`),
		},
		{
			Tag:               "go",
			Image:             "aggiesandbox/go-executor",
			SourceFilename:    "main.go",
			CompileRunCommand: "go build -o /tmp/a.out main.go && /tmp/a.out",
			MemoryClass:       MemoryStandard,
			StdinDetector:     regexp.MustCompile(`(?i)\.Scan\(|ReadString`),
		},
		{
			Tag:            "ruby",
			Image:          "aggiesandbox/ruby-executor",
			SourceFilename: "script.rb",
			RunCommand:     []string{"ruby", "script.rb"},
			MemoryClass:    MemoryStandard,
			StdinDetector:  regexp.MustCompile(`(?i)gets|readline`),
		},
		{
			Tag:               "dart",
			Image:             "aggiesandbox/dart-executor",
			SourceFilename:    "main.dart",
			CompileRunCommand: "dart compile exe main.dart -o /tmp/a.out && /tmp/a.out",
			MemoryClass:       MemoryHeavy,
			StdinDetector:     regexp.MustCompile(`(?i)readLineSync|stdin\.read`),
		},
	})
}
