package vm

import (
	"fmt"
	"io"
	"math"

	"github.com/chazu/minjs/compiler"
)

// ---------------------------------------------------------------------------
// Interp: tree-walking evaluator over the parsed AST
// ---------------------------------------------------------------------------

// NativeFunc is the signature of a builtin. Args are owned by the caller;
// the returned value is owned by the native's caller.
type NativeFunc func(i *Interp, this Value, args []Value) (Value, error)

// FuncDef is the interpreter-side record of a script function.
type FuncDef struct {
	Name   string
	Params []string
	Body   *compiler.Block
	Source string
}

// Interp evaluates programs against a single heap and global object.
type Interp struct {
	heap        *Heap
	global      *Ptr
	objectProto *Ptr
	funcs       []*FuncDef
	natives     []NativeFunc
	nativeNames []string
	out         io.Writer
}

// NewInterp creates an interpreter with a fresh global object on h. Output
// from print goes to out.
func NewInterp(h *Heap, out io.Writer) (*Interp, error) {
	i := &Interp{heap: h, out: out}
	var err error
	i.objectProto, err = NewObject(h, "Object", nil)
	if err != nil {
		return nil, err
	}
	i.global, err = NewObject(h, "Global", i.objectProto)
	if err != nil {
		return nil, err
	}
	if err := i.setupGlobal(); err != nil {
		return nil, err
	}
	return i, nil
}

// Close releases the interpreter's handles. The heap stays usable.
func (i *Interp) Close() {
	i.global.Release()
	i.objectProto.Release()
}

// Heap returns the interpreter's heap.
func (i *Interp) Heap() *Heap { return i.heap }

// Global returns a fresh tracked handle to the global object.
func (i *Interp) Global() *Ptr { return i.global.Clone() }

// RegisterNative adds a builtin and returns its table index.
func (i *Interp) RegisterNative(name string, fn NativeFunc) uint32 {
	i.natives = append(i.natives, fn)
	i.nativeNames = append(i.nativeNames, name)
	return uint32(len(i.natives) - 1)
}

// RunSource parses and evaluates a script. The result is the value of the
// last expression statement, undefined otherwise.
func (i *Interp) RunSource(path, source string) (Value, error) {
	file := compiler.NewSourceFile(path, source)
	prog, err := compiler.Parse(file)
	if err != nil {
		return Undefined, err
	}
	return i.RunProgram(prog)
}

// RunProgram evaluates a parsed program in the global scope.
func (i *Interp) RunProgram(prog *compiler.Block) (Value, error) {
	ctx := &execCtx{
		scopes: []*Ptr{i.global.Clone()},
		varObj: i.global.Clone(),
		this:   ObjectValue(i.global.Clone()),
	}
	defer ctx.release()
	if err := i.hoist(ctx, prog.Stmts); err != nil {
		return Undefined, err
	}
	result := Undefined
	for _, s := range prog.Stmts {
		c, err := i.execStmt(ctx, s)
		if err != nil {
			result.Release()
			return Undefined, err
		}
		if c.hasVal {
			result.Release()
			result = c.val
		}
		if c.typ != normalComp {
			break
		}
	}
	return result, nil
}

// execCtx is one execution context: a scope chain (outermost first), the
// object receiving var declarations, and the current this value.
type execCtx struct {
	scopes []*Ptr
	varObj *Ptr
	this   Value
}

func (c *execCtx) release() {
	for _, s := range c.scopes {
		s.Release()
	}
	c.varObj.Release()
	c.this.Release()
}

// completion is the result of a statement: normal flow, or an abrupt break,
// continue, or return.
type completionType int

const (
	normalComp completionType = iota
	breakComp
	continueComp
	returnComp
)

type completion struct {
	typ    completionType
	val    Value
	hasVal bool
}

func normalCompletion() completion { return completion{} }

// ---------------------------------------------------------------------------
// Hoisting
// ---------------------------------------------------------------------------

// hoist predeclares var names (as undefined, unless already bound) and
// binds function declarations in the context's variable object.
func (i *Interp) hoist(ctx *execCtx, stmts []compiler.Stmt) error {
	for _, name := range collectVarNames(stmts) {
		if !ObjectHasProperty(i.heap, ctx.varObj.Pos(), name) {
			if err := ObjectPut(i.heap, ctx.varObj, name, Undefined); err != nil {
				return err
			}
		}
	}
	return i.bindFunctions(ctx, stmts)
}

func (i *Interp) bindFunctions(ctx *execCtx, stmts []compiler.Stmt) error {
	var walk func(s compiler.Stmt) error
	walk = func(s compiler.Stmt) error {
		switch s := s.(type) {
		case *compiler.FuncDecl:
			fn, err := i.makeFunction(s)
			if err != nil {
				return err
			}
			err = ObjectPut(i.heap, ctx.varObj, s.Name, fn)
			fn.Release()
			return err
		case *compiler.Block:
			for _, inner := range s.Stmts {
				if err := walk(inner); err != nil {
					return err
				}
			}
		case *compiler.IfStmt:
			if err := walk(s.Then); err != nil {
				return err
			}
			if s.Else != nil {
				return walk(s.Else)
			}
		case *compiler.WhileStmt:
			return walk(s.Body)
		case *compiler.ForStmt:
			return walk(s.Body)
		case *compiler.ForInStmt:
			return walk(s.Body)
		case *compiler.WithStmt:
			return walk(s.Body)
		}
		return nil
	}
	for _, s := range stmts {
		if err := walk(s); err != nil {
			return err
		}
	}
	return nil
}

// collectVarNames gathers every var-declared name in the statement list,
// not descending into nested functions.
func collectVarNames(stmts []compiler.Stmt) []string {
	var names []string
	var walk func(s compiler.Stmt)
	walk = func(s compiler.Stmt) {
		switch s := s.(type) {
		case *compiler.VarStmt:
			for _, d := range s.Decls {
				names = append(names, d.Name)
			}
		case *compiler.Block:
			for _, inner := range s.Stmts {
				walk(inner)
			}
		case *compiler.IfStmt:
			walk(s.Then)
			if s.Else != nil {
				walk(s.Else)
			}
		case *compiler.WhileStmt:
			walk(s.Body)
		case *compiler.ForStmt:
			if s.Init != nil {
				walk(s.Init)
			}
			walk(s.Body)
		case *compiler.ForInStmt:
			walk(s.Target)
			walk(s.Body)
		case *compiler.WithStmt:
			walk(s.Body)
		}
	}
	for _, s := range stmts {
		walk(s)
	}
	return names
}

// makeFunction builds a function object for a declaration: class Function,
// the body source as internal value, and a fresh prototype object.
func (i *Interp) makeFunction(decl *compiler.FuncDecl) (Value, error) {
	h := i.heap
	idx := len(i.funcs)
	i.funcs = append(i.funcs, &FuncDef{
		Name:   decl.Name,
		Params: decl.Params,
		Body:   decl.Body,
		Source: "function " + decl.Name + decl.BodyExtent.SourceText(),
	})
	obj, err := NewObject(h, "Function", i.objectProto)
	if err != nil {
		return Undefined, err
	}
	ObjectSetFuncIndex(obj, idx)
	src, err := NewString(h, i.funcs[idx].Source)
	if err != nil {
		obj.Release()
		return Undefined, err
	}
	srcVal := StringValue(src)
	err = ObjectSetInternalValue(h, obj, srcVal)
	srcVal.Release()
	if err != nil {
		obj.Release()
		return Undefined, err
	}
	if err := ObjectPutAttrs(h, obj, "length", NumberValue(float64(len(decl.Params))), AttrReadOnly|AttrDontEnum); err != nil {
		obj.Release()
		return Undefined, err
	}
	proto, err := NewObject(h, "Object", i.objectProto)
	if err != nil {
		obj.Release()
		return Undefined, err
	}
	protoVal := ObjectValue(proto)
	err = ObjectPutAttrs(h, obj, "prototype", protoVal, AttrDontEnum)
	protoVal.Release()
	if err != nil {
		obj.Release()
		return Undefined, err
	}
	return ObjectValue(obj), nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (i *Interp) execStmt(ctx *execCtx, s compiler.Stmt) (completion, error) {
	switch s := s.(type) {
	case *compiler.Block:
		return i.execBlock(ctx, s.Stmts)
	case *compiler.VarStmt:
		for _, d := range s.Decls {
			if d.Init == nil {
				continue
			}
			ref, err := i.resolveIdentifier(ctx, d.Name)
			if err != nil {
				return completion{}, err
			}
			val, err := i.evalValue(ctx, d.Init)
			if err != nil {
				ref.Release()
				return completion{}, err
			}
			err = i.putValue(ref, val)
			val.Release()
			if err != nil {
				return completion{}, err
			}
		}
		return normalCompletion(), nil
	case *compiler.EmptyStmt:
		return normalCompletion(), nil
	case *compiler.ExprStmt:
		v, err := i.evalValue(ctx, s.X)
		if err != nil {
			return completion{}, err
		}
		return completion{val: v, hasVal: true}, nil
	case *compiler.IfStmt:
		cond, err := i.evalValue(ctx, s.Cond)
		if err != nil {
			return completion{}, err
		}
		b := ToBoolean(cond)
		cond.Release()
		if b {
			return i.execStmt(ctx, s.Then)
		}
		if s.Else != nil {
			return i.execStmt(ctx, s.Else)
		}
		return normalCompletion(), nil
	case *compiler.WhileStmt:
		return i.execWhile(ctx, s)
	case *compiler.ForStmt:
		return i.execFor(ctx, s)
	case *compiler.ForInStmt:
		return i.execForIn(ctx, s)
	case *compiler.ContinueStmt:
		return completion{typ: continueComp}, nil
	case *compiler.BreakStmt:
		return completion{typ: breakComp}, nil
	case *compiler.ReturnStmt:
		if s.X == nil {
			return completion{typ: returnComp, val: Undefined, hasVal: true}, nil
		}
		v, err := i.evalValue(ctx, s.X)
		if err != nil {
			return completion{}, err
		}
		return completion{typ: returnComp, val: v, hasVal: true}, nil
	case *compiler.WithStmt:
		return i.execWith(ctx, s)
	case *compiler.FuncDecl:
		// Bound during hoisting.
		return normalCompletion(), nil
	}
	panic(fmt.Sprintf("vm: unhandled statement %T", s))
}

func (i *Interp) execBlock(ctx *execCtx, stmts []compiler.Stmt) (completion, error) {
	result := normalCompletion()
	for _, s := range stmts {
		c, err := i.execStmt(ctx, s)
		if err != nil {
			if result.hasVal {
				result.val.Release()
			}
			return completion{}, err
		}
		if c.hasVal {
			if result.hasVal {
				result.val.Release()
			}
			result.val, result.hasVal = c.val, true
		}
		if c.typ != normalComp {
			result.typ = c.typ
			return result, nil
		}
	}
	return result, nil
}

func (i *Interp) execWhile(ctx *execCtx, s *compiler.WhileStmt) (completion, error) {
	result := normalCompletion()
	for {
		cond, err := i.evalValue(ctx, s.Cond)
		if err != nil {
			return i.loopAbort(result, err)
		}
		b := ToBoolean(cond)
		cond.Release()
		if !b {
			return result, nil
		}
		c, err := i.execStmt(ctx, s.Body)
		if err != nil {
			return i.loopAbort(result, err)
		}
		if c.hasVal {
			if result.hasVal {
				result.val.Release()
			}
			result.val, result.hasVal = c.val, true
		}
		if c.typ == breakComp {
			return result, nil
		}
		if c.typ == returnComp {
			result.typ = returnComp
			return result, nil
		}
	}
}

func (i *Interp) loopAbort(result completion, err error) (completion, error) {
	if result.hasVal {
		result.val.Release()
	}
	return completion{}, err
}

func (i *Interp) execFor(ctx *execCtx, s *compiler.ForStmt) (completion, error) {
	if s.Init != nil {
		c, err := i.execStmt(ctx, s.Init)
		if err != nil {
			return completion{}, err
		}
		if c.hasVal {
			c.val.Release()
		}
	}
	result := normalCompletion()
	for {
		if s.Cond != nil {
			cond, err := i.evalValue(ctx, s.Cond)
			if err != nil {
				return i.loopAbort(result, err)
			}
			b := ToBoolean(cond)
			cond.Release()
			if !b {
				return result, nil
			}
		}
		c, err := i.execStmt(ctx, s.Body)
		if err != nil {
			return i.loopAbort(result, err)
		}
		if c.hasVal {
			if result.hasVal {
				result.val.Release()
			}
			result.val, result.hasVal = c.val, true
		}
		if c.typ == breakComp {
			return result, nil
		}
		if c.typ == returnComp {
			result.typ = returnComp
			return result, nil
		}
		if s.Step != nil {
			step, err := i.evalValue(ctx, s.Step)
			if err != nil {
				return i.loopAbort(result, err)
			}
			step.Release()
		}
	}
}

func (i *Interp) execForIn(ctx *execCtx, s *compiler.ForInStmt) (completion, error) {
	obj, err := i.evalValue(ctx, s.Object)
	if err != nil {
		return completion{}, err
	}
	objPtr, err := i.toObject(obj)
	obj.Release()
	if err != nil {
		return completion{}, err
	}
	names := ObjectPropertyNames(i.heap, objPtr.Pos())
	objPtr.Release()

	result := normalCompletion()
	for _, name := range names {
		ref, err := i.forInTarget(ctx, s.Target)
		if err != nil {
			return i.loopAbort(result, err)
		}
		ns, err := NewString(i.heap, name)
		if err != nil {
			ref.Release()
			return i.loopAbort(result, err)
		}
		nv := StringValue(ns)
		err = i.putValue(ref, nv)
		nv.Release()
		if err != nil {
			return i.loopAbort(result, err)
		}
		c, err := i.execStmt(ctx, s.Body)
		if err != nil {
			return i.loopAbort(result, err)
		}
		if c.hasVal {
			if result.hasVal {
				result.val.Release()
			}
			result.val, result.hasVal = c.val, true
		}
		if c.typ == breakComp {
			return result, nil
		}
		if c.typ == returnComp {
			result.typ = returnComp
			return result, nil
		}
	}
	return result, nil
}

// forInTarget evaluates the loop target to a reference for each iteration.
func (i *Interp) forInTarget(ctx *execCtx, target compiler.Stmt) (Value, error) {
	switch t := target.(type) {
	case *compiler.VarStmt:
		return i.resolveIdentifier(ctx, t.Decls[0].Name)
	case *compiler.ExprStmt:
		v, err := i.evalExpr(ctx, t.X)
		if err != nil {
			return Undefined, err
		}
		if v.Kind() != KindReference {
			v.Release()
			return Undefined, NewError(ReferenceError, "invalid for-in target")
		}
		return v, nil
	}
	panic("vm: malformed for-in target")
}

func (i *Interp) execWith(ctx *execCtx, s *compiler.WithStmt) (completion, error) {
	obj, err := i.evalValue(ctx, s.Object)
	if err != nil {
		return completion{}, err
	}
	objPtr, err := i.toObject(obj)
	obj.Release()
	if err != nil {
		return completion{}, err
	}
	ctx.scopes = append(ctx.scopes, objPtr)
	c, cerr := i.execStmt(ctx, s.Body)
	ctx.scopes = ctx.scopes[:len(ctx.scopes)-1]
	objPtr.Release()
	return c, cerr
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// evalExpr evaluates an expression. Identifier and member expressions
// produce references; everything else produces plain values. The caller
// owns the result.
func (i *Interp) evalExpr(ctx *execCtx, e compiler.Expr) (Value, error) {
	switch e := e.(type) {
	case *compiler.Identifier:
		if e.Name == "this" {
			return ctx.this.Clone(), nil
		}
		return i.resolveIdentifier(ctx, e.Name)
	case *compiler.Literal:
		switch e.Kind {
		case compiler.LitNull:
			return Null, nil
		case compiler.LitBool:
			return BooleanValue(e.Bool), nil
		case compiler.LitNumber:
			return NumberValue(e.Num), nil
		case compiler.LitString:
			s, err := NewString(i.heap, e.Str)
			if err != nil {
				return Undefined, err
			}
			return StringValue(s), nil
		}
	case *compiler.Binary:
		return i.evalBinary(ctx, e)
	case *compiler.Conditional:
		cond, err := i.evalValue(ctx, e.Cond)
		if err != nil {
			return Undefined, err
		}
		b := ToBoolean(cond)
		cond.Release()
		if b {
			return i.evalValue(ctx, e.Then)
		}
		return i.evalValue(ctx, e.Else)
	case *compiler.Prefix:
		return i.evalPrefix(ctx, e)
	case *compiler.Postfix:
		return i.evalPostfix(ctx, e)
	case *compiler.Call:
		return i.evalCall(ctx, e)
	}
	panic(fmt.Sprintf("vm: unhandled expression %T", e))
}

// evalValue evaluates an expression and resolves any resulting reference.
func (i *Interp) evalValue(ctx *execCtx, e compiler.Expr) (Value, error) {
	v, err := i.evalExpr(ctx, e)
	if err != nil {
		return Undefined, err
	}
	return i.getValue(v)
}

// resolveIdentifier walks the scope chain innermost-out and returns a
// reference. An unresolved name yields a reference with no base.
func (i *Interp) resolveIdentifier(ctx *execCtx, name string) (Value, error) {
	for j := len(ctx.scopes) - 1; j >= 0; j-- {
		scope := ctx.scopes[j]
		if ObjectHasProperty(i.heap, scope.Pos(), name) {
			ns, err := NewString(i.heap, name)
			if err != nil {
				return Undefined, err
			}
			return ReferenceValue(scope.Clone(), ns), nil
		}
	}
	ns, err := NewString(i.heap, name)
	if err != nil {
		return Undefined, err
	}
	return ReferenceValue(nil, ns), nil
}

// getValue resolves a reference, consuming v.
func (i *Interp) getValue(v Value) (Value, error) {
	if v.Kind() != KindReference {
		return v, nil
	}
	ref := v.Ref()
	if ref.Base == nil {
		name := stringText(ref.Name.Heap(), ref.Name.Pos())
		v.Release()
		return Undefined, NewError(ReferenceError, "%s is not defined", name)
	}
	result := ObjectGet(i.heap, ref.Base.Pos(), stringText(i.heap, ref.Name.Pos()))
	v.Release()
	return result, nil
}

// putValue stores w through the reference v, consuming v. A reference with
// no base assigns a global property.
func (i *Interp) putValue(v Value, w Value) error {
	if v.Kind() != KindReference {
		v.Release()
		return NewError(ReferenceError, "invalid assignment target")
	}
	ref := v.Ref()
	name := stringText(i.heap, ref.Name.Pos())
	base := ref.Base
	if base == nil {
		base = i.global
	}
	err := ObjectPut(i.heap, base, name, w)
	v.Release()
	return err
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func (i *Interp) evalBinary(ctx *execCtx, e *compiler.Binary) (Value, error) {
	switch e.Op {
	case compiler.TokenLBracket:
		return i.evalMember(ctx, e)
	case compiler.TokenComma:
		l, err := i.evalValue(ctx, e.L)
		if err != nil {
			return Undefined, err
		}
		l.Release()
		return i.evalValue(ctx, e.R)
	case compiler.TokenAndAnd, compiler.TokenOrOr:
		l, err := i.evalValue(ctx, e.L)
		if err != nil {
			return Undefined, err
		}
		lb := ToBoolean(l)
		if (e.Op == compiler.TokenAndAnd && !lb) || (e.Op == compiler.TokenOrOr && lb) {
			return l, nil
		}
		l.Release()
		return i.evalValue(ctx, e.R)
	}
	if e.Op.IsAssignOp() {
		return i.evalAssignment(ctx, e)
	}

	l, err := i.evalValue(ctx, e.L)
	if err != nil {
		return Undefined, err
	}
	r, err := i.evalValue(ctx, e.R)
	if err != nil {
		l.Release()
		return Undefined, err
	}
	defer l.Release()
	defer r.Release()
	return i.applyBinaryOp(e.Op, l, r)
}

// applyBinaryOp applies a non-assignment binary operator to resolved
// values.
func (i *Interp) applyBinaryOp(op compiler.TokenType, l, r Value) (Value, error) {
	switch op {
	case compiler.TokenPlus:
		return i.evalAdd(l, r)
	case compiler.TokenMinus, compiler.TokenMultiply, compiler.TokenDivide, compiler.TokenMod:
		ln, err := ToNumber(l, i)
		if err != nil {
			return Undefined, err
		}
		rn, err := ToNumber(r, i)
		if err != nil {
			return Undefined, err
		}
		switch op {
		case compiler.TokenMinus:
			return NumberValue(ln - rn), nil
		case compiler.TokenMultiply:
			return NumberValue(ln * rn), nil
		case compiler.TokenDivide:
			return NumberValue(ln / rn), nil
		default:
			return NumberValue(math.Mod(ln, rn)), nil
		}
	case compiler.TokenLt, compiler.TokenLtEq, compiler.TokenGt, compiler.TokenGtEq:
		return i.evalRelational(op, l, r)
	case compiler.TokenEqEq, compiler.TokenNotEq:
		eq, err := i.jsEquals(l, r)
		if err != nil {
			return Undefined, err
		}
		if op == compiler.TokenNotEq {
			eq = !eq
		}
		return BooleanValue(eq), nil
	case compiler.TokenAnd, compiler.TokenOr, compiler.TokenXor:
		ln, err := ToNumber(l, i)
		if err != nil {
			return Undefined, err
		}
		rn, err := ToNumber(r, i)
		if err != nil {
			return Undefined, err
		}
		li, ri := ToInt32(ln), ToInt32(rn)
		switch op {
		case compiler.TokenAnd:
			return NumberValue(float64(li & ri)), nil
		case compiler.TokenOr:
			return NumberValue(float64(li | ri)), nil
		default:
			return NumberValue(float64(li ^ ri)), nil
		}
	case compiler.TokenLShift, compiler.TokenRShift, compiler.TokenRShiftShift:
		ln, err := ToNumber(l, i)
		if err != nil {
			return Undefined, err
		}
		rn, err := ToNumber(r, i)
		if err != nil {
			return Undefined, err
		}
		shift := ToUint32(rn) & 31
		switch op {
		case compiler.TokenLShift:
			return NumberValue(float64(ToInt32(ln) << shift)), nil
		case compiler.TokenRShift:
			return NumberValue(float64(ToInt32(ln) >> shift)), nil
		default:
			return NumberValue(float64(ToUint32(ln) >> shift)), nil
		}
	}
	return Undefined, NewError(InternalError, "unhandled binary operator %s", op)
}

// evalAdd implements `+`: string concatenation when either primitive is a
// string, numeric addition otherwise.
func (i *Interp) evalAdd(l, r Value) (Value, error) {
	lp, err := ToPrimitive(l, KindUndefined, i)
	if err != nil {
		return Undefined, err
	}
	defer lp.Release()
	rp, err := ToPrimitive(r, KindUndefined, i)
	if err != nil {
		return Undefined, err
	}
	defer rp.Release()
	if lp.Kind() == KindString || rp.Kind() == KindString {
		ls, err := ToString(lp, i)
		if err != nil {
			return Undefined, err
		}
		rs, err := ToString(rp, i)
		if err != nil {
			return Undefined, err
		}
		s, err := NewString(i.heap, ls+rs)
		if err != nil {
			return Undefined, err
		}
		return StringValue(s), nil
	}
	ln, err := ToNumber(lp, i)
	if err != nil {
		return Undefined, err
	}
	rn, err := ToNumber(rp, i)
	if err != nil {
		return Undefined, err
	}
	return NumberValue(ln + rn), nil
}

// evalRelational implements the relational operators: string comparison
// when both primitives are strings, numeric comparison otherwise (false on
// NaN).
func (i *Interp) evalRelational(op compiler.TokenType, l, r Value) (Value, error) {
	lp, err := ToPrimitive(l, KindNumber, i)
	if err != nil {
		return Undefined, err
	}
	defer lp.Release()
	rp, err := ToPrimitive(r, KindNumber, i)
	if err != nil {
		return Undefined, err
	}
	defer rp.Release()
	if lp.Kind() == KindString && rp.Kind() == KindString {
		ls, rs := lp.Str(), rp.Str()
		switch op {
		case compiler.TokenLt:
			return BooleanValue(ls < rs), nil
		case compiler.TokenLtEq:
			return BooleanValue(ls <= rs), nil
		case compiler.TokenGt:
			return BooleanValue(ls > rs), nil
		default:
			return BooleanValue(ls >= rs), nil
		}
	}
	ln, err := ToNumber(lp, i)
	if err != nil {
		return Undefined, err
	}
	rn, err := ToNumber(rp, i)
	if err != nil {
		return Undefined, err
	}
	if math.IsNaN(ln) || math.IsNaN(rn) {
		return False, nil
	}
	switch op {
	case compiler.TokenLt:
		return BooleanValue(ln < rn), nil
	case compiler.TokenLtEq:
		return BooleanValue(ln <= rn), nil
	case compiler.TokenGt:
		return BooleanValue(ln > rn), nil
	default:
		return BooleanValue(ln >= rn), nil
	}
}

// jsEquals implements the language's loose equality, which unlike Value
// equality coerces across types and treats NaN as unequal to itself.
func (i *Interp) jsEquals(l, r Value) (bool, error) {
	lk, rk := l.Kind(), r.Kind()
	if lk == rk {
		switch lk {
		case KindUndefined, KindNull:
			return true, nil
		case KindNumber:
			return l.Num() == r.Num(), nil
		case KindBoolean, KindString, KindObject, KindNativeFunction:
			return l.Equals(r), nil
		}
		return false, nil
	}
	switch {
	case (lk == KindNull && rk == KindUndefined) || (lk == KindUndefined && rk == KindNull):
		return true, nil
	case lk == KindNumber && rk == KindString,
		lk == KindString && rk == KindNumber,
		lk == KindBoolean || rk == KindBoolean:
		ln, err := ToNumber(l, i)
		if err != nil {
			return false, err
		}
		rn, err := ToNumber(r, i)
		if err != nil {
			return false, err
		}
		return ln == rn, nil
	case lk == KindObject && (rk == KindNumber || rk == KindString):
		lp, err := ToPrimitive(l, KindUndefined, i)
		if err != nil {
			return false, err
		}
		defer lp.Release()
		return i.jsEquals(lp, r)
	case rk == KindObject && (lk == KindNumber || lk == KindString):
		rp, err := ToPrimitive(r, KindUndefined, i)
		if err != nil {
			return false, err
		}
		defer rp.Release()
		return i.jsEquals(l, rp)
	}
	return false, nil
}

// evalMember evaluates `base[index]`, producing a reference.
func (i *Interp) evalMember(ctx *execCtx, e *compiler.Binary) (Value, error) {
	baseVal, err := i.evalValue(ctx, e.L)
	if err != nil {
		return Undefined, err
	}
	basePtr, err := i.toObject(baseVal)
	baseVal.Release()
	if err != nil {
		return Undefined, err
	}
	idx, err := i.evalValue(ctx, e.R)
	if err != nil {
		basePtr.Release()
		return Undefined, err
	}
	name, err := ToString(idx, i)
	idx.Release()
	if err != nil {
		basePtr.Release()
		return Undefined, err
	}
	ns, err := NewString(i.heap, name)
	if err != nil {
		basePtr.Release()
		return Undefined, err
	}
	return ReferenceValue(basePtr, ns), nil
}

func (i *Interp) evalAssignment(ctx *execCtx, e *compiler.Binary) (Value, error) {
	ref, err := i.evalExpr(ctx, e.L)
	if err != nil {
		return Undefined, err
	}
	rhs, err := i.evalValue(ctx, e.R)
	if err != nil {
		ref.Release()
		return Undefined, err
	}
	if e.Op != compiler.TokenEq {
		var binOp compiler.TokenType
		switch e.Op {
		case compiler.TokenPlusEq:
			binOp = compiler.TokenPlus
		case compiler.TokenMinusEq:
			binOp = compiler.TokenMinus
		case compiler.TokenMultiplyEq:
			binOp = compiler.TokenMultiply
		case compiler.TokenDivideEq:
			binOp = compiler.TokenDivide
		case compiler.TokenModEq:
			binOp = compiler.TokenMod
		case compiler.TokenLShiftEq:
			binOp = compiler.TokenLShift
		case compiler.TokenRShiftEq:
			binOp = compiler.TokenRShift
		case compiler.TokenRShiftShiftEq:
			binOp = compiler.TokenRShiftShift
		case compiler.TokenAndEq:
			binOp = compiler.TokenAnd
		case compiler.TokenOrEq:
			binOp = compiler.TokenOr
		case compiler.TokenXorEq:
			binOp = compiler.TokenXor
		default:
			ref.Release()
			rhs.Release()
			return Undefined, NewError(InternalError, "unhandled assignment operator %s", e.Op)
		}
		cur, err := i.getValue(ref.Clone())
		if err != nil {
			ref.Release()
			rhs.Release()
			return Undefined, err
		}
		combined, err := i.applyBinaryOp(binOp, cur, rhs)
		cur.Release()
		rhs.Release()
		if err != nil {
			ref.Release()
			return Undefined, err
		}
		rhs = combined
	}
	if err := i.putValue(ref, rhs); err != nil {
		rhs.Release()
		return Undefined, err
	}
	return rhs, nil
}

func (i *Interp) evalPrefix(ctx *execCtx, e *compiler.Prefix) (Value, error) {
	switch e.Op {
	case compiler.TokenNew:
		return i.evalNew(ctx, e.Operand)
	case compiler.TokenDelete:
		v, err := i.evalExpr(ctx, e.Operand)
		if err != nil {
			return Undefined, err
		}
		if v.Kind() != KindReference || v.Ref().Base == nil {
			v.Release()
			return True, nil
		}
		ref := v.Ref()
		ok := ObjectDelete(i.heap, ref.Base.Pos(), stringText(i.heap, ref.Name.Pos()))
		v.Release()
		return BooleanValue(ok), nil
	case compiler.TokenVoid:
		v, err := i.evalValue(ctx, e.Operand)
		if err != nil {
			return Undefined, err
		}
		v.Release()
		return Undefined, nil
	case compiler.TokenTypeof:
		return i.evalTypeof(ctx, e.Operand)
	case compiler.TokenPlusPlus, compiler.TokenMinusMinus:
		newVal, _, err := i.applyUpdate(ctx, e.Operand, e.Op)
		if err != nil {
			return Undefined, err
		}
		return NumberValue(newVal), nil
	case compiler.TokenPlus:
		v, err := i.evalValue(ctx, e.Operand)
		if err != nil {
			return Undefined, err
		}
		defer v.Release()
		n, err := ToNumber(v, i)
		if err != nil {
			return Undefined, err
		}
		return NumberValue(n), nil
	case compiler.TokenMinus:
		v, err := i.evalValue(ctx, e.Operand)
		if err != nil {
			return Undefined, err
		}
		defer v.Release()
		n, err := ToNumber(v, i)
		if err != nil {
			return Undefined, err
		}
		return NumberValue(-n), nil
	case compiler.TokenTilde:
		v, err := i.evalValue(ctx, e.Operand)
		if err != nil {
			return Undefined, err
		}
		defer v.Release()
		n, err := ToNumber(v, i)
		if err != nil {
			return Undefined, err
		}
		return NumberValue(float64(^ToInt32(n))), nil
	case compiler.TokenNot:
		v, err := i.evalValue(ctx, e.Operand)
		if err != nil {
			return Undefined, err
		}
		b := ToBoolean(v)
		v.Release()
		return BooleanValue(!b), nil
	}
	return Undefined, NewError(InternalError, "unhandled prefix operator %s", e.Op)
}

func (i *Interp) evalPostfix(ctx *execCtx, e *compiler.Postfix) (Value, error) {
	_, oldVal, err := i.applyUpdate(ctx, e.Operand, e.Op)
	if err != nil {
		return Undefined, err
	}
	return NumberValue(oldVal), nil
}

// applyUpdate implements ++/--: read through the reference, adjust by one,
// store back. Returns both the new and the old numeric value.
func (i *Interp) applyUpdate(ctx *execCtx, operand compiler.Expr, op compiler.TokenType) (float64, float64, error) {
	ref, err := i.evalExpr(ctx, operand)
	if err != nil {
		return 0, 0, err
	}
	if ref.Kind() != KindReference {
		ref.Release()
		return 0, 0, NewError(ReferenceError, "invalid update target")
	}
	cur, err := i.getValue(ref.Clone())
	if err != nil {
		ref.Release()
		return 0, 0, err
	}
	n, err := ToNumber(cur, i)
	cur.Release()
	if err != nil {
		ref.Release()
		return 0, 0, err
	}
	delta := 1.0
	if op == compiler.TokenMinusMinus {
		delta = -1
	}
	if err := i.putValue(ref, NumberValue(n+delta)); err != nil {
		return 0, 0, err
	}
	return n + delta, n, nil
}

func (i *Interp) evalTypeof(ctx *execCtx, operand compiler.Expr) (Value, error) {
	v, err := i.evalExpr(ctx, operand)
	if err != nil {
		return Undefined, err
	}
	if v.Kind() == KindReference && v.Ref().Base == nil {
		v.Release()
		return i.newStringValue("undefined")
	}
	v, err = i.getValue(v)
	if err != nil {
		return Undefined, err
	}
	defer v.Release()
	var name string
	switch v.Kind() {
	case KindUndefined:
		name = "undefined"
	case KindNull:
		name = "object"
	case KindBoolean:
		name = "boolean"
	case KindNumber:
		name = "number"
	case KindString:
		name = "string"
	case KindObject:
		if ObjectFuncIndex(i.heap, v.ObjPtr().Pos()) >= 0 {
			name = "function"
		} else {
			name = "object"
		}
	case KindNativeFunction:
		name = "function"
	}
	return i.newStringValue(name)
}

func (i *Interp) newStringValue(s string) (Value, error) {
	p, err := NewString(i.heap, s)
	if err != nil {
		return Undefined, err
	}
	return StringValue(p), nil
}

// ---------------------------------------------------------------------------
// Calls and construction
// ---------------------------------------------------------------------------

func (i *Interp) evalArgs(ctx *execCtx, exprs []compiler.Expr) ([]Value, error) {
	args := make([]Value, 0, len(exprs))
	for _, e := range exprs {
		v, err := i.evalValue(ctx, e)
		if err != nil {
			releaseAll(args)
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

func releaseAll(vs []Value) {
	for _, v := range vs {
		v.Release()
	}
}

func (i *Interp) evalCall(ctx *execCtx, e *compiler.Call) (Value, error) {
	fnRef, err := i.evalExpr(ctx, e.Fn)
	if err != nil {
		return Undefined, err
	}

	// A member-expression callee binds its base object as this.
	this := Undefined
	if fnRef.Kind() == KindReference && fnRef.Ref().Base != nil {
		base := fnRef.Ref().Base
		if i.heap.typeAt(base.Pos()) == TypeObject {
			class := ObjectClass(i.heap, base.Pos())
			if class != "Activation" && class != "Global" {
				this = ObjectValue(base.Clone())
			}
		}
	}
	fn, err := i.getValue(fnRef)
	if err != nil {
		this.Release()
		return Undefined, err
	}
	if this.Kind() == KindUndefined {
		this = ObjectValue(i.global.Clone())
	}
	defer this.Release()
	defer fn.Release()

	args, err := i.evalArgs(ctx, e.Args)
	if err != nil {
		return Undefined, err
	}
	defer releaseAll(args)
	return i.callValue(fn, this, args)
}

// callValue invokes a native or script function value.
func (i *Interp) callValue(fn Value, this Value, args []Value) (Value, error) {
	switch fn.Kind() {
	case KindNativeFunction:
		return i.natives[fn.NativeIndex()](i, this, args)
	case KindObject:
		idx := ObjectFuncIndex(i.heap, fn.ObjPtr().Pos())
		if idx >= 0 {
			return i.callScriptFunction(i.funcs[idx], this, args)
		}
	}
	return Undefined, NewError(TypeError, "%s is not a function", fn.Kind())
}

func (i *Interp) callScriptFunction(def *FuncDef, this Value, args []Value) (Value, error) {
	h := i.heap
	activation, err := NewObject(h, "Activation", nil)
	if err != nil {
		return Undefined, err
	}
	for idx, param := range def.Params {
		arg := Undefined
		if idx < len(args) {
			arg = args[idx]
		}
		if err := ObjectPut(h, activation, param, arg); err != nil {
			activation.Release()
			return Undefined, err
		}
	}

	callCtx := &execCtx{
		scopes: []*Ptr{i.global.Clone(), activation.Clone()},
		varObj: activation,
		this:   this.Clone(),
	}
	defer callCtx.release()
	if err := i.hoist(callCtx, def.Body.Stmts); err != nil {
		return Undefined, err
	}
	c, err := i.execBlock(callCtx, def.Body.Stmts)
	if err != nil {
		return Undefined, err
	}
	if c.typ == returnComp && c.hasVal {
		return c.val, nil
	}
	if c.hasVal {
		c.val.Release()
	}
	return Undefined, nil
}

// evalNew implements `new Expr` and `new Expr(args)`.
func (i *Interp) evalNew(ctx *execCtx, operand compiler.Expr) (Value, error) {
	fnExpr := operand
	var argExprs []compiler.Expr
	if call, ok := operand.(*compiler.Call); ok {
		fnExpr = call.Fn
		argExprs = call.Args
	}
	fn, err := i.evalValue(ctx, fnExpr)
	if err != nil {
		return Undefined, err
	}
	defer fn.Release()
	args, err := i.evalArgs(ctx, argExprs)
	if err != nil {
		return Undefined, err
	}
	defer releaseAll(args)
	return i.construct(fn, args)
}

// construct creates a fresh object whose prototype comes from the
// constructor's prototype property, invokes the constructor with it as
// this, and keeps the constructor's result when it returns an object.
func (i *Interp) construct(fn Value, args []Value) (Value, error) {
	h := i.heap
	proto := i.objectProto
	var protoVal Value
	if fn.Kind() == KindObject {
		protoVal, _ = ObjectGetOwn(h, fn.ObjPtr().Pos(), "prototype")
		if protoVal.Kind() == KindObject {
			proto = protoVal.ObjPtr()
		}
	}
	obj, err := NewObject(h, "Object", proto)
	if protoVal.Kind() != KindUndefined {
		protoVal.Release()
	}
	if err != nil {
		return Undefined, err
	}
	this := ObjectValue(obj)
	result, err := i.callValue(fn, this, args)
	if err != nil {
		this.Release()
		return Undefined, err
	}
	if result.Kind() == KindObject {
		this.Release()
		return result, nil
	}
	result.Release()
	return this, nil
}

// ---------------------------------------------------------------------------
// Object coercion and default values
// ---------------------------------------------------------------------------

// toObject returns an owned object handle for v, wrapping primitives in
// fresh wrapper objects.
func (i *Interp) toObject(v Value) (*Ptr, error) {
	h := i.heap
	switch v.Kind() {
	case KindObject:
		return v.ObjPtr().Clone(), nil
	case KindString:
		obj, err := NewObject(h, "String", i.objectProto)
		if err != nil {
			return nil, err
		}
		if err := ObjectSetInternalValue(h, obj, v); err != nil {
			obj.Release()
			return nil, err
		}
		n := NumberValue(float64(StringLen(v.StrPtr())))
		if err := ObjectPutAttrs(h, obj, "length", n, AttrReadOnly|AttrDontEnum); err != nil {
			obj.Release()
			return nil, err
		}
		return obj, nil
	case KindNumber, KindBoolean:
		class := "Number"
		if v.Kind() == KindBoolean {
			class = "Boolean"
		}
		obj, err := NewObject(h, class, i.objectProto)
		if err != nil {
			return nil, err
		}
		if err := ObjectSetInternalValue(h, obj, v); err != nil {
			obj.Release()
			return nil, err
		}
		return obj, nil
	case KindUndefined, KindNull:
		return nil, NewError(TypeError, "cannot convert %s to object", v.Kind())
	}
	return nil, NewError(TypeError, "cannot convert %s to object", v.Kind())
}

// DefaultValue implements [[DefaultValue]]: valueOf then toString for a
// number hint, the reverse for a string hint, the internal value as a
// fallback.
func (i *Interp) DefaultValue(obj *Ptr, hint Kind) (Value, error) {
	order := []string{"valueOf", "toString"}
	if hint == KindString {
		order = []string{"toString", "valueOf"}
	}
	for _, name := range order {
		method := ObjectGet(i.heap, obj.Pos(), name)
		if !isCallable(i.heap, method) {
			method.Release()
			continue
		}
		this := ObjectValue(obj.Clone())
		result, err := i.callValue(method, this, nil)
		this.Release()
		method.Release()
		if err != nil {
			return Undefined, err
		}
		if result.Kind() != KindObject {
			return result, nil
		}
		result.Release()
	}
	inner := ObjectInternalValue(i.heap, obj.Pos())
	switch inner.Kind() {
	case KindBoolean, KindNumber, KindString:
		return inner, nil
	}
	inner.Release()
	return i.newStringValue("[object " + ObjectClass(i.heap, obj.Pos()) + "]")
}

func isCallable(h *Heap, v Value) bool {
	switch v.Kind() {
	case KindNativeFunction:
		return true
	case KindObject:
		return ObjectFuncIndex(h, v.ObjPtr().Pos()) >= 0
	}
	return false
}
