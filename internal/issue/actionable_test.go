// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/varkeep/varkeep/pkg/varpkg"
)

func TestActionableErrorError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ActionableError
		want string
	}{
		{"operation only", &ActionableError{Operation: "refresh index"}, "failed to refresh index"},
		{
			"with resource",
			&ActionableError{Operation: "install package", Resource: "Al.Scene.3"},
			"failed to install package: Al.Scene.3",
		},
		{
			"with cause",
			&ActionableError{Operation: "load configuration", Cause: errors.New("syntax error")},
			"failed to load configuration: syntax error",
		},
		{
			"all fields",
			&ActionableError{
				Operation:   "move package",
				Resource:    "/games/Repository/Al.Scene.3.var",
				Suggestions: []string{"ignored in Error()"},
				Cause:       errors.New("permission denied"),
			},
			"failed to move package: /games/Repository/Al.Scene.3.var: permission denied",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActionableErrorFormat(t *testing.T) {
	t.Parallel()

	root := errors.New("disk full")
	err := &ActionableError{
		Operation:   "write cache",
		Resource:    "varcache.bin",
		Suggestions: []string{"Free some space", "Delete the cache file"},
		Cause:       fmt.Errorf("flush: %w", root),
	}

	short := err.Format(false)
	for _, want := range []string{"failed to write cache: varcache.bin", "\n  • Free some space", "\n  • Delete the cache file"} {
		if !strings.Contains(short, want) {
			t.Errorf("Format(false) = %q, missing %q", short, want)
		}
	}
	if strings.Contains(short, "Error chain:") {
		t.Errorf("Format(false) = %q, should not include the chain", short)
	}

	verbose := err.Format(true)
	for _, want := range []string{"Error chain:", "1. flush: disk full", "2. disk full"} {
		if !strings.Contains(verbose, want) {
			t.Errorf("Format(true) = %q, missing %q", verbose, want)
		}
	}

	if got := (&ActionableError{Operation: "scan"}).Format(true); got != "failed to scan" {
		t.Errorf("Format(true) without cause = %q", got)
	}
}

func TestActionableErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := WrapWithContext(&varpkg.InstallConflictError{UID: "A.B.1", Target: "/t"}, "install package", "A.B.1")
	if !errors.Is(err, varpkg.ErrInstallConflict) {
		t.Error("errors.Is(ErrInstallConflict) = false through ActionableError")
	}
	var conflict *varpkg.InstallConflictError
	if !errors.As(err, &conflict) || conflict.Target != "/t" {
		t.Errorf("errors.As() = %v", conflict)
	}
}

func TestErrorContextBuild(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	ae := NewErrorContext().
		WithOperation("uninstall package").
		WithResource("Al.Base.2").
		WithSuggestion("first").
		WithSuggestions("second", "third").
		Wrap(cause).
		Build()
	if ae == nil {
		t.Fatal("Build() = nil")
	}
	if ae.Operation != "uninstall package" || ae.Resource != "Al.Base.2" || ae.Cause != cause {
		t.Errorf("Build() = %+v", ae)
	}
	if len(ae.Suggestions) != 3 || ae.Suggestions[2] != "third" {
		t.Errorf("Suggestions = %v", ae.Suggestions)
	}

	if NewErrorContext().WithResource("x").Build() != nil {
		t.Error("Build() without operation should be nil")
	}
}

func TestErrorContextBuildError(t *testing.T) {
	t.Parallel()

	err := NewErrorContext().WithOperation("scan archive").BuildError()
	var ae *ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("BuildError() = %T, want *ActionableError", err)
	}
	if err := NewErrorContext().BuildError(); err != nil {
		t.Errorf("BuildError() without operation = %v, want nil", err)
	}
}

func TestErrorContextWithIssue(t *testing.T) {
	t.Parallel()

	ae := NewErrorContext().
		WithOperation("install package").
		WithIssue(&varpkg.InstallConflictError{UID: "A.B.1", Target: "/t"}).
		Build()
	if len(ae.Suggestions) != 1 || !strings.Contains(ae.Suggestions[0], "varkeep issue 8") {
		t.Errorf("Suggestions = %v", ae.Suggestions)
	}

	plain := NewErrorContext().WithOperation("x").WithIssue(errors.New("plain")).Build()
	if plain.HasSuggestions() {
		t.Errorf("Suggestions = %v, want none", plain.Suggestions)
	}
}

func TestWrapNil(t *testing.T) {
	t.Parallel()

	if WrapWithOperation(nil, "x") != nil {
		t.Error("WrapWithOperation(nil) != nil")
	}
	if WrapWithContext(nil, "x", "y") != nil {
		t.Error("WrapWithContext(nil) != nil")
	}
	if ae := NewActionableError("refresh index"); ae.Operation != "refresh index" || ae.Cause != nil {
		t.Errorf("NewActionableError() = %+v", ae)
	}
}
