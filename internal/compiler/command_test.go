package compiler

import (
	"reflect"
	"testing"

	"ccexec/internal/protocol"
)

var registry = &Registry{}

func TestBuildCompileCommandForCUsesDefaultFlagsThenClientArgs(t *testing.T) {
	t.Parallel()

	profile := Profile{
		Language: protocol.LanguageC, Executable: "/usr/bin/gcc",
		DefaultArgs: []string{"-Wall", "-Wextra", "-std=c99"}, NeedsCompile: true,
	}
	got, err := registry.BuildCompileCommand(profile, "main.c", "-O2 -DDEBUG")
	if err != nil {
		t.Fatalf("BuildCompileCommand: %v", err)
	}
	want := []string{"/usr/bin/gcc", "-Wall", "-Wextra", "-std=c99", "-O2", "-DDEBUG", "-o", "main", "main.c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBuildCompileCommandNeverInvokesAShell(t *testing.T) {
	t.Parallel()

	profile := Profile{Language: protocol.LanguageC, Executable: "/usr/bin/gcc", NeedsCompile: true}
	got, err := registry.BuildCompileCommand(profile, "main.c", "; rm -rf /")
	if err != nil {
		t.Fatalf("BuildCompileCommand: %v", err)
	}
	for _, tok := range got {
		if tok == "sh" || tok == "/bin/sh" || tok == "-c" {
			t.Fatalf("argv contains a shell invocation: %v", got)
		}
	}
	// shlex tokenizes "; rm -rf /" into literal argv words, never executed
	// as shell syntax by exec.Command.
	found := false
	for _, tok := range got {
		if tok == ";" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the semicolon to survive as a literal argv token, got %v", got)
	}
}

func TestBuildCompileCommandSkipsInterpretedLanguages(t *testing.T) {
	t.Parallel()

	profile := Profile{Language: protocol.LanguagePython, NeedsCompile: false}
	got, err := registry.BuildCompileCommand(profile, "main.py", "")
	if err != nil {
		t.Fatalf("BuildCompileCommand: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil (no compile phase)", got)
	}
}

func TestBuildExecuteCommandForPythonPassesExecutionArgs(t *testing.T) {
	t.Parallel()

	profile := Profile{
		Language: protocol.LanguagePython, Executable: "/usr/bin/python3",
		DefaultArgs: []string{"-B"},
	}
	got, err := registry.BuildExecuteCommand(profile, "main.py", "--verbose input.txt")
	if err != nil {
		t.Fatalf("BuildExecuteCommand: %v", err)
	}
	want := []string{"/usr/bin/python3", "-B", "main.py", "--verbose", "input.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBuildExecuteCommandForCompiledBinaryUsesRelativePath(t *testing.T) {
	t.Parallel()

	profile := Profile{Language: protocol.LanguageGo}
	got, err := registry.BuildExecuteCommand(profile, "main.go", "")
	if err != nil {
		t.Fatalf("BuildExecuteCommand: %v", err)
	}
	want := []string{"./main"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBuildExecuteCommandRejectsUnbalancedQuotes(t *testing.T) {
	t.Parallel()

	profile := Profile{Language: protocol.LanguageGo}
	if _, err := registry.BuildExecuteCommand(profile, "main.go", `"unterminated`); err == nil {
		t.Error("expected an error for unbalanced quoting")
	}
}

func TestDetectLanguageFromExtensionPicksHighestPriorityMatch(t *testing.T) {
	t.Parallel()

	cases := map[string]protocol.Language{
		"main.c":       protocol.LanguageC,
		"main.cpp":     protocol.LanguageCPP,
		"Main.java":    protocol.LanguageJava,
		"script.py":    protocol.LanguagePython,
		"app.js":       protocol.LanguageJavaScript,
		"server.go":    protocol.LanguageGo,
		"lib.rs":       protocol.LanguageRust,
		"unknown.wasm": protocol.LanguageUnknown,
	}
	for filename, want := range cases {
		if got := DetectLanguageFromExtension(filename); got != want {
			t.Errorf("DetectLanguageFromExtension(%q) = %v, want %v", filename, got, want)
		}
	}
}
