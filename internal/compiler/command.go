package compiler

import (
	"strings"

	"github.com/google/shlex"

	"ccexec/internal/protocol"
	"ccexec/pkg/apperrors"
)

// binaryName is the executable filename produced by a compile step,
// derived from the source filename with its extension stripped.
func binaryName(sourceFile string) string {
	name := sourceFile
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name
}

// tokenizeArgs splits a client-supplied argument string into argv tokens
// using shell-word-splitting rules (quoting, escaping) without invoking a
// shell — the argv is passed straight to exec.Command, never through
// /bin/sh -c string interpolation.
func tokenizeArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	fields, err := shlex.Split(raw)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.InvalidArgument)
	}
	return fields, nil
}

// BuildCompileCommand shapes the argv used to invoke a language's compiler
// or ahead-of-time toolchain on sourceFile, following
// original_source's build_compile_command per-language shape.
// clientArgs (compiler_args on the wire) is tokenized and appended after
// the toolchain's own default flags.
func (r *Registry) BuildCompileCommand(langProfile Profile, sourceFile, clientArgs string) ([]string, error) {
	if !langProfile.NeedsCompile {
		return nil, nil
	}
	extra, err := tokenizeArgs(clientArgs)
	if err != nil {
		return nil, err
	}
	bin := binaryName(sourceFile)

	argv := []string{langProfile.Executable}
	switch langProfile.Language {
	case protocol.LanguageC, protocol.LanguageCPP, protocol.LanguageRust:
		argv = append(argv, langProfile.DefaultArgs...)
		argv = append(argv, extra...)
		argv = append(argv, "-o", bin, sourceFile)
	case protocol.LanguageJava:
		argv = append(argv, langProfile.DefaultArgs...)
		argv = append(argv, extra...)
		argv = append(argv, sourceFile)
	case protocol.LanguageGo:
		argv = append(argv, langProfile.DefaultArgs...) // "build"
		argv = append(argv, extra...)
		argv = append(argv, "-o", bin, sourceFile)
	default:
		return nil, apperrors.New(apperrors.UnsupportedLanguage).WithContext(langProfile.Name)
	}
	return argv, nil
}

// BuildSyntaxCheckCommand shapes the argv for ModeSyntaxCheck: parse
// sourceFile without producing a runnable artifact. original_source declares
// syntax_check_only in compiler.h but never defines it; this module supplies
// each toolchain's own syntax-only invocation instead of leaving the mode
// unimplemented.
func (r *Registry) BuildSyntaxCheckCommand(langProfile Profile, sourceFile, clientArgs string) ([]string, error) {
	extra, err := tokenizeArgs(clientArgs)
	if err != nil {
		return nil, err
	}

	switch langProfile.Language {
	case protocol.LanguageC, protocol.LanguageCPP:
		argv := []string{langProfile.Executable}
		argv = append(argv, langProfile.DefaultArgs...)
		argv = append(argv, extra...)
		argv = append(argv, "-fsyntax-only", sourceFile)
		return argv, nil
	case protocol.LanguagePython:
		argv := []string{langProfile.Executable, "-m", "py_compile", sourceFile}
		return append(argv, extra...), nil
	case protocol.LanguageJavaScript:
		argv := []string{langProfile.Executable, "--check", sourceFile}
		return append(argv, extra...), nil
	default:
		return nil, apperrors.New(apperrors.InvalidArgument).WithMessage("syntax check not supported for " + langProfile.Name)
	}
}

// BuildExecuteCommand shapes the argv used to run a compiled binary or
// interpret a source file, following build_execute_command. The caller
// (internal/executor) applies the wall-clock timeout itself via
// context.Context rather than shelling out to `timeout N ...` the way the
// original does.
func (r *Registry) BuildExecuteCommand(langProfile Profile, sourceFile, clientArgs string) ([]string, error) {
	extra, err := tokenizeArgs(clientArgs)
	if err != nil {
		return nil, err
	}

	switch langProfile.Language {
	case protocol.LanguageC, protocol.LanguageCPP, protocol.LanguageGo, protocol.LanguageRust:
		bin := "./" + binaryName(sourceFile)
		return append([]string{bin}, extra...), nil
	case protocol.LanguageJava:
		className := binaryName(sourceFile)
		argv := append([]string{"java"}, className)
		return append(argv, extra...), nil
	case protocol.LanguagePython, protocol.LanguageJavaScript:
		argv := append([]string{langProfile.Executable}, langProfile.DefaultArgs...)
		argv = append(argv, sourceFile)
		return append(argv, extra...), nil
	default:
		return nil, apperrors.New(apperrors.UnsupportedLanguage).WithContext(langProfile.Name)
	}
}
