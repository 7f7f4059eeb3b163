// Package compiler probes the host PATH for supported language toolchains
// at startup and shapes safe argv command lines for the compile and
// execute phases. Grounded on
// original_source/server/src/compiler_service.c's detect_available_compilers
// and build_compile_command/build_execute_command, translated from
// shell-interpolated snprintf command strings to argv slices built with
// github.com/google/shlex (see command.go) — this module's resolution of
// the flagged shell-quoting open question (see SPEC_FULL.md's DOMAIN STACK
// section).
package compiler

import (
	"context"
	"os/exec"
	"strings"

	"ccexec/internal/protocol"
)

// Profile describes one detected language toolchain.
type Profile struct {
	Language             protocol.Language
	Name                 string
	Executable           string // resolved absolute path from PATH probing
	FileExtensions       []string
	DefaultArgs          []string
	SupportsDebugging    bool
	SupportsOptimization bool
	DetectionPriority    int
	NeedsCompile         bool // false for interpreted languages (Python, JS)
}

// candidate is the static table of toolchains this service knows how to
// look for; DetectAll probes each candidate.Executable via PATH lookup and
// a version invocation the way detect_available_compilers does.
type candidate struct {
	profile    Profile
	versionArg string
}

var candidates = []candidate{
	{
		profile: Profile{
			Language: protocol.LanguageC, Name: "gcc", Executable: "gcc",
			FileExtensions: []string{".c"}, DefaultArgs: []string{"-Wall", "-Wextra", "-std=c99"},
			SupportsDebugging: true, SupportsOptimization: true, DetectionPriority: 10, NeedsCompile: true,
		},
		versionArg: "--version",
	},
	{
		profile: Profile{
			Language: protocol.LanguageCPP, Name: "g++", Executable: "g++",
			FileExtensions: []string{".cpp", ".cc", ".cxx"}, DefaultArgs: []string{"-Wall", "-Wextra", "-std=c++17"},
			SupportsDebugging: true, SupportsOptimization: true, DetectionPriority: 10, NeedsCompile: true,
		},
		versionArg: "--version",
	},
	{
		profile: Profile{
			Language: protocol.LanguageJava, Name: "javac", Executable: "javac",
			FileExtensions: []string{".java"}, DefaultArgs: []string{"-cp", "."},
			SupportsDebugging: true, SupportsOptimization: false, DetectionPriority: 8, NeedsCompile: true,
		},
		versionArg: "-version",
	},
	{
		profile: Profile{
			Language: protocol.LanguagePython, Name: "python3", Executable: "python3",
			FileExtensions: []string{".py"}, DefaultArgs: []string{"-B"},
			SupportsDebugging: false, SupportsOptimization: false, DetectionPriority: 7, NeedsCompile: false,
		},
		versionArg: "--version",
	},
	{
		profile: Profile{
			Language: protocol.LanguageJavaScript, Name: "node", Executable: "node",
			FileExtensions: []string{".js"}, DefaultArgs: nil,
			SupportsDebugging: false, SupportsOptimization: false, DetectionPriority: 6, NeedsCompile: false,
		},
		versionArg: "--version",
	},
	{
		profile: Profile{
			Language: protocol.LanguageGo, Name: "go", Executable: "go",
			FileExtensions: []string{".go"}, DefaultArgs: []string{"build"},
			SupportsDebugging: false, SupportsOptimization: true, DetectionPriority: 5, NeedsCompile: true,
		},
		versionArg: "version",
	},
	{
		profile: Profile{
			Language: protocol.LanguageRust, Name: "rustc", Executable: "rustc",
			FileExtensions: []string{".rs"}, DefaultArgs: []string{"--edition", "2021"},
			SupportsDebugging: true, SupportsOptimization: true, DetectionPriority: 4, NeedsCompile: true,
		},
		versionArg: "--version",
	},
}

// Registry holds the toolchains actually found on this host.
type Registry struct {
	profiles map[protocol.Language]Profile
}

// DetectAll probes PATH for every candidate toolchain, running its version
// command to confirm it actually executes (not just that a file with that
// name exists), matching COMPILER_DETECT_IMPLEMENT's lookup-then-exec check.
func DetectAll(ctx context.Context) *Registry {
	r := &Registry{profiles: make(map[protocol.Language]Profile)}
	for _, c := range candidates {
		path, err := exec.LookPath(c.profile.Executable)
		if err != nil {
			continue
		}
		cmd := exec.CommandContext(ctx, path, c.versionArg)
		if err := cmd.Run(); err != nil {
			continue
		}
		p := c.profile
		p.Executable = path
		r.profiles[p.Language] = p
	}
	return r
}

// Get returns the detected profile for lang, or ok=false if unavailable.
func (r *Registry) Get(lang protocol.Language) (Profile, bool) {
	p, ok := r.profiles[lang]
	return p, ok
}

// DetectLanguageFromExtension matches original_source's
// detect_language_from_extension, walking candidates in the same
// detection-priority order.
func DetectLanguageFromExtension(filename string) protocol.Language {
	ext := extensionOf(filename)
	best := protocol.LanguageUnknown
	bestPriority := -1
	for _, c := range candidates {
		for _, e := range c.profile.FileExtensions {
			if e == ext && c.profile.DetectionPriority > bestPriority {
				best = c.profile.Language
				bestPriority = c.profile.DetectionPriority
			}
		}
	}
	return best
}

func extensionOf(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return ""
	}
	return filename[i:]
}

// Count reports how many toolchains were detected.
func (r *Registry) Count() int { return len(r.profiles) }
