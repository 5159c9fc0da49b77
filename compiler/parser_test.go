package compiler

import (
	"errors"
	"testing"
)

func parseSource(t *testing.T, source string) *Block {
	t.Helper()
	prog, err := Parse(NewSourceFile("<test>", source))
	if err != nil {
		t.Fatalf("Parse(%q): %v", source, err)
	}
	return prog
}

func parseError(t *testing.T, source string) error {
	t.Helper()
	_, err := Parse(NewSourceFile("<test>", source))
	if err == nil {
		t.Fatalf("Parse(%q): expected error", source)
	}
	return err
}

func TestParseProgramExtent(t *testing.T) {
	sources := []string{
		"1;",
		"var x = 1; x + 2;",
		"function f(a) { return a; }",
		"  1 + 2;  ",
	}
	for _, source := range sources {
		prog := parseSource(t, source)
		ext := prog.Extent()
		if ext.Start != 0 || ext.End != uint32(len(source)) {
			t.Errorf("%q: program extent [%d,%d), want [0,%d)", source, ext.Start, ext.End, len(source))
		}
	}
}

func TestParseExtentScopesBalanced(t *testing.T) {
	sources := []string{
		"1;",
		"a = b ? c : d;",
		"for (var i = 0; i < 10; i++) f(i);",
		"function f() { with (o) { return o.x; } }",
	}
	for _, source := range sources {
		p, err := NewParser(NewSourceFile("<test>", source))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := p.Parse(); err != nil {
			t.Fatalf("Parse(%q): %v", source, err)
		}
		if !p.ScopesBalanced() {
			t.Errorf("%q: extent scopes unbalanced after parse", source)
		}
	}
}

// exprOfStmt returns the expression of an expression statement and fails the
// test for any other statement.
func exprOfStmt(t *testing.T, s Stmt) Expr {
	t.Helper()
	es, ok := s.(*ExprStmt)
	if !ok {
		t.Fatalf("statement is %T, want *ExprStmt", s)
	}
	return es.X
}

func TestParsePrecedence(t *testing.T) {
	// 1+2*3==7 parses to ((1+(2*3))==7)
	prog := parseSource(t, "1+2*3==7")
	eq, ok := exprOfStmt(t, prog.Stmts[0]).(*Binary)
	if !ok || eq.Op != TokenEqEq {
		t.Fatalf("top = %T %v, want == binary", prog.Stmts[0], eq)
	}
	add, ok := eq.L.(*Binary)
	if !ok || add.Op != TokenPlus {
		t.Fatalf("lhs of == is %T, want + binary", eq.L)
	}
	mul, ok := add.R.(*Binary)
	if !ok || mul.Op != TokenMultiply {
		t.Fatalf("rhs of + is %T, want * binary", add.R)
	}
	if lit, ok := eq.R.(*Literal); !ok || lit.Num != 7 {
		t.Errorf("rhs of == = %v, want literal 7", eq.R)
	}
}

func TestParseAssignmentRightAssociative(t *testing.T) {
	// a=b=c parses as a=(b=c)
	prog := parseSource(t, "a=b=c")
	outer, ok := exprOfStmt(t, prog.Stmts[0]).(*Binary)
	if !ok || outer.Op != TokenEq {
		t.Fatalf("top is %T, want = binary", prog.Stmts[0])
	}
	if id, ok := outer.L.(*Identifier); !ok || id.Name != "a" {
		t.Errorf("lhs = %v, want identifier a", outer.L)
	}
	inner, ok := outer.R.(*Binary)
	if !ok || inner.Op != TokenEq {
		t.Fatalf("rhs is %T, want nested = binary", outer.R)
	}
	if id, ok := inner.L.(*Identifier); !ok || id.Name != "b" {
		t.Errorf("nested lhs = %v, want identifier b", inner.L)
	}
}

func TestParseConditionalRightAssociative(t *testing.T) {
	// a?b:c?d:e parses as a?b:(c?d:e)
	prog := parseSource(t, "a?b:c?d:e")
	outer, ok := exprOfStmt(t, prog.Stmts[0]).(*Conditional)
	if !ok {
		t.Fatalf("top is %T, want conditional", prog.Stmts[0])
	}
	if id, ok := outer.Cond.(*Identifier); !ok || id.Name != "a" {
		t.Errorf("cond = %v, want a", outer.Cond)
	}
	if id, ok := outer.Then.(*Identifier); !ok || id.Name != "b" {
		t.Errorf("then = %v, want b", outer.Then)
	}
	inner, ok := outer.Else.(*Conditional)
	if !ok {
		t.Fatalf("else is %T, want nested conditional", outer.Else)
	}
	if id, ok := inner.Cond.(*Identifier); !ok || id.Name != "c" {
		t.Errorf("nested cond = %v, want c", inner.Cond)
	}
}

func TestParseCommaLowestPrecedence(t *testing.T) {
	prog := parseSource(t, "a = 1, b = 2")
	comma, ok := exprOfStmt(t, prog.Stmts[0]).(*Binary)
	if !ok || comma.Op != TokenComma {
		t.Fatalf("top is %T, want comma binary", prog.Stmts[0])
	}
}

func TestParseMemberDesugar(t *testing.T) {
	// a.b and a["b"] produce the same shape.
	for _, source := range []string{"a.b", `a["b"]`} {
		prog := parseSource(t, source)
		idx, ok := exprOfStmt(t, prog.Stmts[0]).(*Binary)
		if !ok || idx.Op != TokenLBracket {
			t.Fatalf("%q: top is %T, want index binary", source, prog.Stmts[0])
		}
		lit, ok := idx.R.(*Literal)
		if !ok || lit.Kind != LitString || lit.Str != "b" {
			t.Errorf("%q: index = %v, want string literal b", source, idx.R)
		}
	}
}

func TestParseCallChains(t *testing.T) {
	prog := parseSource(t, "f(1)(2).g[h]()")
	// Outermost is a call on an index on a member of a call of a call.
	call, ok := exprOfStmt(t, prog.Stmts[0]).(*Call)
	if !ok || len(call.Args) != 0 {
		t.Fatalf("top is %T, want zero-arg call", prog.Stmts[0])
	}
	idx, ok := call.Fn.(*Binary)
	if !ok || idx.Op != TokenLBracket {
		t.Fatalf("callee is %T, want index", call.Fn)
	}
}

func TestParseNew(t *testing.T) {
	prog := parseSource(t, "new Point(1, 2)")
	pre, ok := exprOfStmt(t, prog.Stmts[0]).(*Prefix)
	if !ok || pre.Op != TokenNew {
		t.Fatalf("top is %T, want new prefix", prog.Stmts[0])
	}
	call, ok := pre.Operand.(*Call)
	if !ok || len(call.Args) != 2 {
		t.Fatalf("operand is %T, want 2-arg call", pre.Operand)
	}

	prog = parseSource(t, "new Point")
	pre, ok = exprOfStmt(t, prog.Stmts[0]).(*Prefix)
	if !ok || pre.Op != TokenNew {
		t.Fatalf("top is %T, want new prefix", prog.Stmts[0])
	}
	if _, ok := pre.Operand.(*Identifier); !ok {
		t.Errorf("operand is %T, want identifier", pre.Operand)
	}
}

func TestParseASIReturn(t *testing.T) {
	// "return\n1" inside a function is a bare return plus an expression
	// statement.
	prog := parseSource(t, "function f() { return\n1 }")
	fn := prog.Stmts[0].(*FuncDecl)
	if len(fn.Body.Stmts) != 2 {
		t.Fatalf("body has %d statements, want 2", len(fn.Body.Stmts))
	}
	ret, ok := fn.Body.Stmts[0].(*ReturnStmt)
	if !ok || ret.X != nil {
		t.Errorf("first statement = %T (expr %v), want bare return", fn.Body.Stmts[0], ret.X)
	}
	if _, ok := fn.Body.Stmts[1].(*ExprStmt); !ok {
		t.Errorf("second statement = %T, want expression statement", fn.Body.Stmts[1])
	}
}

func TestParseASIPostfix(t *testing.T) {
	// "a\n++b" is two statements: a; ++b;
	prog := parseSource(t, "a\n++b")
	if len(prog.Stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(prog.Stmts))
	}
	if _, ok := exprOfStmt(t, prog.Stmts[0]).(*Identifier); !ok {
		t.Errorf("first statement = %v, want identifier a", prog.Stmts[0])
	}
	pre, ok := exprOfStmt(t, prog.Stmts[1]).(*Prefix)
	if !ok || pre.Op != TokenPlusPlus {
		t.Errorf("second statement = %v, want prefix ++", prog.Stmts[1])
	}

	// "a++\nb" is a++; b;
	prog = parseSource(t, "a++\nb")
	if len(prog.Stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(prog.Stmts))
	}
	post, ok := exprOfStmt(t, prog.Stmts[0]).(*Postfix)
	if !ok || post.Op != TokenPlusPlus {
		t.Errorf("first statement = %v, want postfix ++", prog.Stmts[0])
	}
	if _, ok := exprOfStmt(t, prog.Stmts[1]).(*Identifier); !ok {
		t.Errorf("second statement = %v, want identifier b", prog.Stmts[1])
	}
}

func TestParseASISemicolons(t *testing.T) {
	// Newline, closing brace, and end of input all allow omitted
	// semicolons; adjacent expressions on one line do not.
	valid := []string{
		"a = 1\nb = 2",
		"a = 1",
		"if (x) { a = 1 }",
		"a = 1;",
		"return",
	}
	for _, source := range valid {
		parseSource(t, source)
	}
	invalid := []string{
		"a = 1 b = 2",
		"var x = 1 var y",
	}
	for _, source := range invalid {
		parseError(t, source)
	}
}

func TestParseStatements(t *testing.T) {
	tests := []struct {
		source string
		check  func(Stmt) bool
		desc   string
	}{
		{"{ a; b; }", func(s Stmt) bool { b, ok := s.(*Block); return ok && len(b.Stmts) == 2 }, "block"},
		{"var a, b = 2;", func(s Stmt) bool {
			v, ok := s.(*VarStmt)
			return ok && len(v.Decls) == 2 && v.Decls[0].Init == nil && v.Decls[1].Init != nil
		}, "var list"},
		{";", func(s Stmt) bool { _, ok := s.(*EmptyStmt); return ok }, "empty"},
		{"if (a) b; else c;", func(s Stmt) bool { i, ok := s.(*IfStmt); return ok && i.Else != nil }, "if-else"},
		{"if (a) b;", func(s Stmt) bool { i, ok := s.(*IfStmt); return ok && i.Else == nil }, "if"},
		{"while (a) b;", func(s Stmt) bool { _, ok := s.(*WhileStmt); return ok }, "while"},
		{"for (a; b; c) d;", func(s Stmt) bool { f, ok := s.(*ForStmt); return ok && f.Init != nil && f.Cond != nil && f.Step != nil }, "for"},
		{"for (;;) d;", func(s Stmt) bool { f, ok := s.(*ForStmt); return ok && f.Init == nil && f.Cond == nil && f.Step == nil }, "empty for"},
		{"for (var i = 0; i < 2; i++) d;", func(s Stmt) bool { f, ok := s.(*ForStmt); return ok && f.Init != nil }, "for var"},
		{"for (k in o) d;", func(s Stmt) bool { f, ok := s.(*ForInStmt); return ok && f.Target != nil }, "for-in"},
		{"for (var k in o) d;", func(s Stmt) bool {
			f, ok := s.(*ForInStmt)
			if !ok {
				return false
			}
			_, isVar := f.Target.(*VarStmt)
			return isVar
		}, "for-in var"},
		{"continue;", func(s Stmt) bool { _, ok := s.(*ContinueStmt); return ok }, "continue"},
		{"break;", func(s Stmt) bool { _, ok := s.(*BreakStmt); return ok }, "break"},
		{"return 1;", func(s Stmt) bool { r, ok := s.(*ReturnStmt); return ok && r.X != nil }, "return expr"},
		{"with (o) x;", func(s Stmt) bool { _, ok := s.(*WithStmt); return ok }, "with"},
	}
	for _, tc := range tests {
		prog := parseSource(t, tc.source)
		if len(prog.Stmts) != 1 {
			t.Errorf("%s: got %d statements, want 1", tc.desc, len(prog.Stmts))
			continue
		}
		if !tc.check(prog.Stmts[0]) {
			t.Errorf("%s: unexpected shape %T", tc.desc, prog.Stmts[0])
		}
	}
}

func TestParseFunctionDeclaration(t *testing.T) {
	source := "function add(a, b) { return a + b; }"
	prog := parseSource(t, source)
	fn, ok := prog.Stmts[0].(*FuncDecl)
	if !ok {
		t.Fatalf("top is %T, want function declaration", prog.Stmts[0])
	}
	if fn.Name != "add" {
		t.Errorf("name = %q, want %q", fn.Name, "add")
	}
	if len(fn.Params) != 2 || fn.Params[0] != "a" || fn.Params[1] != "b" {
		t.Errorf("params = %v, want [a b]", fn.Params)
	}
	// The body extent starts just before the parameter list and runs
	// through the closing brace.
	if got := fn.BodyExtent.SourceText(); got != "(a, b) { return a + b; }" {
		t.Errorf("body source = %q", got)
	}
}

func TestParseForInSingleVarOnly(t *testing.T) {
	parseError(t, "for (var a, b in o) x;")
	parseSource(t, "for (var a in o) x;")
}

func TestParseSyntaxErrors(t *testing.T) {
	tests := []string{
		"var;",
		"if (",
		"1 +",
		"a[1",
		"function () {}",
		"function f( {}",
		"for (a b) c;",
		"}",
		"a ? b",
	}
	for _, source := range tests {
		err := parseError(t, source)
		var syntaxErr *SyntaxError
		if !errors.As(err, &syntaxErr) {
			t.Errorf("%q: error %T is not a SyntaxError", source, err)
		}
	}
}

func TestParseSyntaxErrorExtent(t *testing.T) {
	err := parseError(t, "var x = ;")
	var syntaxErr *SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("error %T is not a SyntaxError", err)
	}
	// The offending token is the semicolon at offset 8.
	if syntaxErr.Extent.Start != 8 {
		t.Errorf("error extent starts at %d, want 8", syntaxErr.Extent.Start)
	}
	if syntaxErr.Rule == "" {
		t.Error("error carries no rule name")
	}
	pos := syntaxErr.Extent.StartPosition()
	if pos.Line != 1 || pos.Column != 9 {
		t.Errorf("error position = %d:%d, want 1:9", pos.Line, pos.Column)
	}
}

func TestParseNestedFunctions(t *testing.T) {
	prog := parseSource(t, "function f() { function g() { return 1; } return g(); }")
	fn := prog.Stmts[0].(*FuncDecl)
	if _, ok := fn.Body.Stmts[0].(*FuncDecl); !ok {
		t.Errorf("nested declaration is %T, want function", fn.Body.Stmts[0])
	}
}

func TestParseExtentPositions(t *testing.T) {
	source := "var x = 1;\n\tvar y = 2;"
	prog := parseSource(t, source)
	if len(prog.Stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(prog.Stmts))
	}
	start := prog.Stmts[1].Extent().StartPosition()
	// Tab expands to the next multiple of 8.
	if start.Line != 2 || start.Column != 9 {
		t.Errorf("second statement at %d:%d, want 2:9", start.Line, start.Column)
	}
}
