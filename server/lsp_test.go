package server

import (
	"strings"
	"testing"
)

func TestDiagnoseValid(t *testing.T) {
	for _, source := range []string{
		"var x = 1;",
		"function f(a) { return a * 2; }",
		"",
	} {
		diags := Diagnose("test.js", source)
		if len(diags) != 0 {
			t.Errorf("%q: got %d diagnostics, want 0", source, len(diags))
		}
	}
}

func TestDiagnoseSyntaxError(t *testing.T) {
	diags := Diagnose("test.js", "var x =\nvar y;")
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	d := diags[0]
	if d.Severity == nil {
		t.Fatal("diagnostic has no severity")
	}
	// The offending `var` is on the second line.
	if d.Range.Start.Line != 1 {
		t.Errorf("diagnostic at line %d, want 1 (0-based)", d.Range.Start.Line)
	}
	if d.Message == "" {
		t.Error("diagnostic has no message")
	}
}

func TestDocumentSymbols(t *testing.T) {
	source := "var x = 1;\nfunction alpha() { }\nfunction beta(a, b) { return a; }\n"
	symbols := DocumentSymbols("test.js", source)
	if len(symbols) != 2 {
		t.Fatalf("got %d symbols, want 2", len(symbols))
	}
	if symbols[0].Name != "alpha" || symbols[1].Name != "beta" {
		t.Errorf("symbols = %s, %s, want alpha, beta", symbols[0].Name, symbols[1].Name)
	}
	if symbols[0].Location.Range.Start.Line != 1 {
		t.Errorf("alpha at line %d, want 1 (0-based)", symbols[0].Location.Range.Start.Line)
	}
}

func TestDocumentSymbolsInvalidSource(t *testing.T) {
	if symbols := DocumentSymbols("test.js", "function ("); symbols != nil {
		t.Errorf("got %v for invalid source, want nil", symbols)
	}
}

func TestDiagnoseMessageMentionsRule(t *testing.T) {
	diags := Diagnose("test.js", "if x")
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	if !strings.Contains(diags[0].Message, "if statement") {
		t.Errorf("message %q does not name the grammar rule", diags[0].Message)
	}
}
