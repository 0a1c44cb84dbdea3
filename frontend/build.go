package frontend

import (
	"fmt"

	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/types"
)

// compiler holds the program-wide tables built from a Program's struct
// and function declarations before any function body is lowered, so
// that calls and field accesses can reference anything declared
// anywhere in the source file.
type compiler struct {
	module     *ir.Module
	table      *types.Table
	structIds  map[string]types.Id
	fieldIndex map[string]map[string]int
	funcs      map[string]*ir.Function
}

// localVar is a name bound to a stack slot: its address and the type
// stored there. Every local, including parameters, is materialized as
// an alloca: the naive "alloca everything" strategy that leaves
// SSA promotion to a later pass over the resulting module.
type localVar struct {
	addr ir.Value
	ty   types.Id
}

// funcBuilder lowers one function's AST body, threading an ir.Builder
// and a stack of lexical scopes (one per nested block, so an inner
// `if`/`while` body can shadow an outer local without clobbering it).
// cur tracks the block the builder is currently appending to; the
// Builder itself doesn't expose its insertion point, so funcBuilder
// mirrors it here and calls SetInsertPoint whenever it moves.
type funcBuilder struct {
	*compiler
	b      *ir.Builder
	fn     *ir.Function
	cur    *ir.BasicBlock
	scopes []map[string]localVar
	retTy  types.Id
}

func (fb *funcBuilder) setBlock(bb *ir.BasicBlock) {
	fb.cur = bb
	fb.b.SetInsertPoint(fb.fn, bb)
}

func (fb *funcBuilder) pushScope() { fb.scopes = append(fb.scopes, map[string]localVar{}) }
func (fb *funcBuilder) popScope()  { fb.scopes = fb.scopes[:len(fb.scopes)-1] }

func (fb *funcBuilder) bind(name string, v localVar) {
	fb.scopes[len(fb.scopes)-1][name] = v
}

func (fb *funcBuilder) lookup(name string) (localVar, bool) {
	for i := len(fb.scopes) - 1; i >= 0; i-- {
		if v, ok := fb.scopes[i][name]; ok {
			return v, true
		}
	}
	return localVar{}, false
}

// resolveType resolves a parsed TypeExpr against the type table,
// applying suffix operators left to right so each one wraps the type
// built so far.
func (c *compiler) resolveType(te TypeExpr) (types.Id, error) {
	var base types.Id
	switch te.Name {
	case "void":
		base = types.Void
	case "i32":
		base = types.Int32
	case "i64":
		base = types.Int64
	case "f64":
		base = types.F64
	case "i1":
		base = types.Int1
	default:
		id, ok := c.structIds[te.Name]
		if !ok {
			return types.Void, fmt.Errorf("unknown type %q", te.Name)
		}
		base = id
	}
	for _, s := range te.Suffixes {
		switch s.Kind {
		case SuffixPointer:
			base = c.table.Pointer(base)
		case SuffixArray:
			base = c.table.Array(base, int64(s.Dim))
		}
	}
	return base, nil
}

// Compile lexes, parses, and lowers source into a fresh ir.Module.
func Compile(source string) (*ir.Module, error) {
	prog, err := NewParser(source).ParseProgram()
	if err != nil {
		return nil, err
	}

	c := &compiler{
		module:     ir.NewModule(),
		structIds:  map[string]types.Id{},
		fieldIndex: map[string]map[string]int{},
		funcs:      map[string]*ir.Function{},
	}
	c.table = c.module.Types

	for _, s := range prog.Structs {
		if err := c.declareStruct(s); err != nil {
			return nil, err
		}
	}
	for _, f := range prog.Funcs {
		if err := c.declareFunc(f); err != nil {
			return nil, err
		}
	}
	for _, f := range prog.Funcs {
		if f.Extern {
			continue
		}
		if err := c.buildFunc(f); err != nil {
			return nil, err
		}
	}
	return c.module, nil
}

func (c *compiler) declareStruct(s StructDecl) error {
	fields := make([]types.Id, len(s.Fields))
	idx := make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		ty, err := c.resolveType(f.Type)
		if err != nil {
			return fmt.Errorf("struct %s field %s: %w", s.Name, f.Name, err)
		}
		fields[i] = ty
		idx[f.Name] = i
	}
	c.structIds[s.Name] = c.table.Struct(fields)
	c.fieldIndex[s.Name] = idx
	return nil
}

func (c *compiler) declareFunc(f FuncDecl) error {
	params := make([]types.Id, len(f.Params))
	for i, p := range f.Params {
		ty, err := c.resolveType(p.Type)
		if err != nil {
			return fmt.Errorf("func %s param %s: %w", f.Name, p.Name, err)
		}
		params[i] = ty
	}
	ret, err := c.resolveType(f.Ret)
	if err != nil {
		return fmt.Errorf("func %s return type: %w", f.Name, err)
	}
	fnTy := c.table.Function(ret, params)
	fn := c.module.NewFunction(f.Name, fnTy, len(params))
	c.funcs[f.Name] = fn
	return nil
}

func (c *compiler) buildFunc(f FuncDecl) error {
	fn := c.funcs[f.Name]
	entry := fn.NewBlock()
	b := ir.NewBuilder(c.module, fn, entry)

	retTy, err := c.table.Return(fn.Ty)
	if err != nil {
		return err
	}
	paramTys, err := c.table.Params(fn.Ty)
	if err != nil {
		return err
	}

	fb := &funcBuilder{compiler: c, b: b, fn: fn, retTy: retTy}
	fb.setBlock(entry)
	fb.pushScope()
	for i, p := range f.Params {
		arg := ir.Value{Kind: ir.VArgument, Arg: i, Ty: paramTys[i]}
		addr := b.Alloca(paramTys[i])
		b.Store(arg, addr)
		fb.bind(p.Name, localVar{addr: addr, ty: paramTys[i]})
	}

	for _, s := range f.Body {
		if err := fb.genStmt(s); err != nil {
			return fmt.Errorf("func %s: %w", f.Name, err)
		}
	}
	if !fb.blockTerminated(fb.cur) {
		if retTy == types.Void {
			fb.b.Ret(ir.NoValue)
		} else {
			fb.b.Ret(zeroValue(retTy))
		}
	}
	fb.popScope()
	return nil
}

func zeroValue(ty types.Id) ir.Value {
	if ty == types.F64 {
		return ir.ImmF64(0)
	}
	if ty == types.Int64 {
		return ir.ImmInt64(0)
	}
	return ir.ImmInt32(0)
}

func (fb *funcBuilder) blockTerminated(bb *ir.BasicBlock) bool {
	if len(bb.Instrs) == 0 {
		return false
	}
	last := fb.fn.Instr(bb.Instrs[len(bb.Instrs)-1])
	return last.Opcode.IsTerminator()
}

// coerce inserts a sign-extension or int/float conversion when v's
// type doesn't already match target, matching the handful of implicit
// conversions the language supports: i32<->i64 and int<->f64.
func (fb *funcBuilder) coerce(v ir.Value, target types.Id) ir.Value {
	if v.Ty == target {
		return v
	}
	isFloat := fb.table.IsFloat(target)
	if isFloat {
		return fb.b.Sitofp(v)
	}
	if fb.table.IsFloat(v.Ty) {
		return fb.b.Fptosi(v, target)
	}
	if target == types.Int64 && v.Ty == types.Int32 {
		return fb.b.Sext(v)
	}
	return v
}

func (fb *funcBuilder) genStmt(s Stmt) error {
	switch {
	case s.VarDecl != nil:
		return fb.genVarDecl(s.VarDecl)
	case s.Assign != nil:
		return fb.genAssign(s.Assign)
	case s.If != nil:
		return fb.genIf(s.If)
	case s.While != nil:
		return fb.genWhile(s.While)
	case s.Return != nil:
		return fb.genReturn(s.Return)
	case s.Expr != nil:
		_, err := fb.genExpr(s.Expr.Value)
		return err
	}
	return fmt.Errorf("empty statement node")
}

func (fb *funcBuilder) genVarDecl(s *VarDeclStmt) error {
	ty, err := fb.resolveType(s.Type)
	if err != nil {
		return err
	}
	addr := fb.b.Alloca(ty)
	fb.bind(s.Name, localVar{addr: addr, ty: ty})
	if s.Init != nil {
		v, err := fb.genExpr(*s.Init)
		if err != nil {
			return err
		}
		fb.b.Store(fb.coerce(v, ty), addr)
	}
	return nil
}

func (fb *funcBuilder) genAssign(s *AssignStmt) error {
	addr, elemTy, err := fb.genLValueAddr(s.Target)
	if err != nil {
		return err
	}
	v, err := fb.genExpr(s.Value)
	if err != nil {
		return err
	}
	fb.b.Store(fb.coerce(v, elemTy), addr)
	return nil
}

func (fb *funcBuilder) genIf(s *IfStmt) error {
	cond, err := fb.genExpr(s.Cond)
	if err != nil {
		return err
	}
	cond = fb.toBool(cond)

	thenBB := fb.fn.NewBlock()
	mergeBB := fb.fn.NewBlock()
	elseBB := mergeBB
	if s.Else != nil {
		elseBB = fb.fn.NewBlock()
	}
	fb.b.CondBr(cond, thenBB, elseBB)

	fb.setBlock(thenBB)
	fb.pushScope()
	for _, st := range s.Then {
		if err := fb.genStmt(st); err != nil {
			return err
		}
	}
	if !fb.blockTerminated(fb.cur) {
		fb.b.Br(mergeBB)
	}
	fb.popScope()

	if s.Else != nil {
		fb.setBlock(elseBB)
		fb.pushScope()
		for _, st := range s.Else {
			if err := fb.genStmt(st); err != nil {
				return err
			}
		}
		if !fb.blockTerminated(fb.cur) {
			fb.b.Br(mergeBB)
		}
		fb.popScope()
	}

	fb.setBlock(mergeBB)
	return nil
}

func (fb *funcBuilder) genWhile(s *WhileStmt) error {
	condBB := fb.fn.NewBlock()
	bodyBB := fb.fn.NewBlock()
	afterBB := fb.fn.NewBlock()

	fb.b.Br(condBB)

	fb.setBlock(condBB)
	cond, err := fb.genExpr(s.Cond)
	if err != nil {
		return err
	}
	fb.b.CondBr(fb.toBool(cond), bodyBB, afterBB)

	fb.setBlock(bodyBB)
	fb.pushScope()
	for _, st := range s.Body {
		if err := fb.genStmt(st); err != nil {
			return err
		}
	}
	if !fb.blockTerminated(fb.cur) {
		fb.b.Br(condBB)
	}
	fb.popScope()

	fb.setBlock(afterBB)
	return nil
}

func (fb *funcBuilder) genReturn(s *ReturnStmt) error {
	if s.Value == nil {
		fb.b.Ret(ir.NoValue)
		return nil
	}
	v, err := fb.genExpr(*s.Value)
	if err != nil {
		return err
	}
	fb.b.Ret(fb.coerce(v, fb.retTy))
	return nil
}

// toBool coerces v to an i1 condition: comparisons already produce i1,
// everything else is compared against its type's zero value.
func (fb *funcBuilder) toBool(v ir.Value) ir.Value {
	if v.Ty == types.Int1 {
		return v
	}
	if fb.table.IsFloat(v.Ty) {
		return fb.b.Fcmp(ir.FCmpOne, v, ir.ImmF64(0))
	}
	return fb.b.Icmp(ir.ICmpNe, v, zeroValue(v.Ty))
}

// genLValueAddr computes the address an assignment target or a
// read-access refers to: a plain identifier's own stack slot, or a
// struct-field/array-index chain collapsed into a single Gep call
// headed by an implicit leading zero index (Gep's first index always
// dereferences through the base pointer before descending into the
// aggregate it points to).
func (fb *funcBuilder) genLValueAddr(e Expr) (ir.Value, types.Id, error) {
	switch {
	case e.Ident != nil:
		lv, ok := fb.lookup(*e.Ident)
		if !ok {
			return ir.NoValue, types.Void, fmt.Errorf("undefined variable %q", *e.Ident)
		}
		return lv.addr, lv.ty, nil
	case e.Access != nil:
		return fb.genAccessAddr(e.Access)
	}
	return ir.NoValue, types.Void, fmt.Errorf("not an lvalue")
}

func (fb *funcBuilder) genAccessAddr(acc *AccessExpr) (ir.Value, types.Id, error) {
	base, ok := fb.lookup(acc.Base)
	if !ok {
		return ir.NoValue, types.Void, fmt.Errorf("undefined variable %q", acc.Base)
	}

	idxs := []ir.Value{ir.ImmInt32(0)}
	cur := base.ty
	for _, step := range acc.Steps {
		if step.Field != "" {
			name := fb.structNameOf(cur)
			fi, ok := fb.fieldIndex[name][step.Field]
			if !ok {
				return ir.NoValue, types.Void, fmt.Errorf("type %s has no field %q", name, step.Field)
			}
			idxs = append(idxs, ir.ImmInt32(int32(fi)))
			next, err := fb.table.FieldType(cur, fi)
			if err != nil {
				return ir.NoValue, types.Void, err
			}
			cur = next
		} else {
			iv, err := fb.genExpr(*step.Index)
			if err != nil {
				return ir.NoValue, types.Void, err
			}
			idxs = append(idxs, iv)
			next, err := fb.table.ElementTy(cur)
			if err != nil {
				return ir.NoValue, types.Void, err
			}
			cur = next
		}
	}

	addr, err := fb.b.Gep(base.addr, idxs)
	if err != nil {
		return ir.NoValue, types.Void, err
	}
	return addr, cur, nil
}

// structNameOf reverse-looks-up a struct type id's declared name,
// needed because field access is spelled by name in source but
// pkg/types only carries a structural identity.
func (fb *funcBuilder) structNameOf(id types.Id) string {
	for name, sid := range fb.structIds {
		if sid == id {
			return name
		}
	}
	return ""
}

func (fb *funcBuilder) genExpr(e Expr) (ir.Value, error) {
	switch {
	case e.IntLit != nil:
		return ir.ImmInt32(int32(*e.IntLit)), nil
	case e.FloatLit != nil:
		return ir.ImmF64(*e.FloatLit), nil
	case e.Ident != nil:
		lv, ok := fb.lookup(*e.Ident)
		if !ok {
			return ir.NoValue, fmt.Errorf("undefined variable %q", *e.Ident)
		}
		return fb.b.Load(lv.addr)
	case e.Access != nil:
		addr, elemTy, err := fb.genAccessAddr(e.Access)
		if err != nil {
			return ir.NoValue, err
		}
		_ = elemTy
		return fb.b.Load(addr)
	case e.Neg != nil:
		v, err := fb.genExpr(*e.Neg)
		if err != nil {
			return ir.NoValue, err
		}
		if fb.table.IsFloat(v.Ty) {
			return fb.b.Sub(ir.ImmF64(0), v), nil
		}
		return fb.b.Sub(zeroValue(v.Ty), v), nil
	case e.Binary != nil:
		return fb.genBinary(e.Binary)
	case e.Call != nil:
		return fb.genCall(e.Call)
	}
	return ir.NoValue, fmt.Errorf("empty expression node")
}

func (fb *funcBuilder) genBinary(be *BinaryExpr) (ir.Value, error) {
	lhs, err := fb.genExpr(be.Left)
	if err != nil {
		return ir.NoValue, err
	}
	rhs, err := fb.genExpr(be.Right)
	if err != nil {
		return ir.NoValue, err
	}
	isFloat := fb.table.IsFloat(lhs.Ty) || fb.table.IsFloat(rhs.Ty)
	if isFloat {
		lhs = fb.coerce(lhs, types.F64)
		rhs = fb.coerce(rhs, types.F64)
	} else if lhs.Ty != rhs.Ty {
		lhs = fb.coerce(lhs, types.Int64)
		rhs = fb.coerce(rhs, types.Int64)
	}

	switch be.Op {
	case OpAdd:
		return fb.b.Add(lhs, rhs), nil
	case OpSub:
		return fb.b.Sub(lhs, rhs), nil
	case OpMul:
		return fb.b.Mul(lhs, rhs), nil
	case OpDiv:
		return fb.b.Div(lhs, rhs), nil
	case OpRem:
		return fb.b.Rem(lhs, rhs), nil
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		if isFloat {
			return fb.b.Fcmp(fcmpKind(be.Op), lhs, rhs), nil
		}
		return fb.b.Icmp(icmpKind(be.Op), lhs, rhs), nil
	case OpAnd:
		return fb.b.Mul(fb.toBool(lhs), fb.toBool(rhs)), nil
	case OpOr:
		sum := fb.b.Add(fb.toBool(lhs), fb.toBool(rhs))
		return fb.b.Icmp(ir.ICmpNe, sum, ir.ImmInt32(0)), nil
	}
	return ir.NoValue, fmt.Errorf("unhandled operator %d", be.Op)
}

func icmpKind(op BinOp) ir.ICmpKind {
	switch op {
	case OpEq:
		return ir.ICmpEq
	case OpNe:
		return ir.ICmpNe
	case OpLt:
		return ir.ICmpSlt
	case OpLe:
		return ir.ICmpSle
	case OpGt:
		return ir.ICmpSgt
	default:
		return ir.ICmpSge
	}
}

func fcmpKind(op BinOp) ir.FCmpKind {
	switch op {
	case OpEq:
		return ir.FCmpOeq
	case OpNe:
		return ir.FCmpOne
	case OpLt:
		return ir.FCmpOlt
	case OpLe:
		return ir.FCmpOle
	case OpGt:
		return ir.FCmpOgt
	default:
		return ir.FCmpOge
	}
}

// genCall resolves a call's callee against the declared functions,
// which includes extern declarations like `sqrt`/`fabs`; declareFunc
// registers those in fb.funcs exactly like any user-defined function,
// distinguished only by the resulting ir.Function.External().
func (fb *funcBuilder) genCall(ce *CallExpr) (ir.Value, error) {
	fn, ok := fb.funcs[ce.Callee]
	if !ok {
		return ir.NoValue, fmt.Errorf("call to undefined function %q", ce.Callee)
	}
	return fb.callFunc(fn, ce.Args)
}

func (fb *funcBuilder) callFunc(fn *ir.Function, argExprs []Expr) (ir.Value, error) {
	paramTys, err := fb.table.Params(fn.Ty)
	if err != nil {
		return ir.NoValue, err
	}
	args := make([]ir.Value, len(argExprs))
	for i, ae := range argExprs {
		v, err := fb.genExpr(ae)
		if err != nil {
			return ir.NoValue, err
		}
		if i < len(paramTys) {
			v = fb.coerce(v, paramTys[i])
		}
		args[i] = v
	}
	callee := ir.Value{Kind: ir.VFunction, Func: fn.Id, Ty: fn.Ty}
	return fb.b.Call(callee, fn.Ty, args)
}
