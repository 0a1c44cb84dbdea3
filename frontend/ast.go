package frontend

// TypeSuffixKind tags one suffix operator applied to a base type name.
type TypeSuffixKind int

const (
	SuffixPointer TypeSuffixKind = iota
	SuffixArray
)

// TypeSuffix is one `*` or `[N]` suffix, in the order written.
type TypeSuffix struct {
	Kind TypeSuffixKind
	Dim  int // SuffixArray only
}

// TypeExpr is a parsed (unresolved) type name, resolved against
// pkg/types by the builder once every struct declaration in the
// program is known. Suffixes are kept in source order (left to
// right) and resolveType applies them in that same order, each one
// wrapping the type built so far: `T[8]*` is a pointer to an
// 8-element array, `T*[8]` is an 8-element array of pointers.
type TypeExpr struct {
	Name     string // "i32", "i64", "f64", "void", or a struct name
	Suffixes []TypeSuffix
}

// Program is the parsed translation unit: struct declarations followed
// by function declarations/definitions, in source order.
type Program struct {
	Structs []StructDecl
	Funcs   []FuncDecl
}

// StructDecl is `struct Name { field: Type; ... }`.
type StructDecl struct {
	Name   string
	Fields []Field
}

// Field is one struct member.
type Field struct {
	Name string
	Type TypeExpr
}

// FuncDecl is a function declaration or (if Body is non-nil) definition.
type FuncDecl struct {
	Name    string
	Params  []Param
	Ret     TypeExpr
	Extern  bool
	Body    []Stmt
}

// Param is one function parameter.
type Param struct {
	Name string
	Type TypeExpr
}

// Stmt is the Stmt tagged variant: exactly one of the embedded pointer
// fields is non-nil.
type Stmt struct {
	VarDecl *VarDeclStmt
	Assign  *AssignStmt
	If      *IfStmt
	While   *WhileStmt
	Return  *ReturnStmt
	Expr    *ExprStmt
}

type VarDeclStmt struct {
	Name string
	Type TypeExpr
	Init *Expr // nil if uninitialised
}

type AssignStmt struct {
	Target Expr // an Ident or Access chain
	Value  Expr
}

type IfStmt struct {
	Cond Expr
	Then []Stmt
	Else []Stmt // nil if no else clause
}

type WhileStmt struct {
	Cond Expr
	Body []Stmt
}

type ReturnStmt struct {
	Value *Expr // nil for a void return
}

type ExprStmt struct {
	Value Expr
}

// BinOp tags a binary expression's operator.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
)

// Expr is the Expr tagged variant.
type Expr struct {
	IntLit   *int64
	FloatLit *float64
	Ident    *string
	Binary   *BinaryExpr
	Call     *CallExpr
	Access   *AccessExpr
	Neg      *Expr
}

type BinaryExpr struct {
	Op    BinOp
	Left  Expr
	Right Expr
}

type CallExpr struct {
	Callee string
	Args   []Expr
}

// AccessStep is one `.field` or `[index]` step of a chained lvalue.
type AccessStep struct {
	Field string // non-empty for a field step
	Index *Expr  // non-nil for an index step
}

// AccessExpr is a base identifier followed by zero or more field/index
// steps (`s.grid[i][j]`); with zero steps it is a plain variable
// reference.
type AccessExpr struct {
	Base  string
	Steps []AccessStep
}
