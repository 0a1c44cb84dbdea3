// Package frontend's parser is a recursive-descent parser over the
// Lexer's token stream. This language has few enough operators that a
// fixed precedence ladder, not an operator-precedence table, reads
// more clearly.
package frontend

import "fmt"

// ParseError reports a syntax error with source position. Front-end
// parse errors are deliberately their own type rather than a
// pkg/vellumerr sentinel: the back end's error taxonomy covers IR/MIR
// invariants, not source text.
type ParseError struct {
	Line, Column int
	Msg          string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Msg)
}

// Parser consumes a Lexer's token stream and produces a Program.
type Parser struct {
	l         *Lexer
	cur, peek Token
}

// NewParser creates a Parser over source, primed with its first two
// tokens.
func NewParser(source string) *Parser {
	p := &Parser{l: NewLexer(source)}
	p.next()
	p.next()
	return p
}

func (p *Parser) next() {
	p.cur = p.peek
	p.peek = p.l.NextToken()
}

func (p *Parser) errorf(format string, args ...any) *ParseError {
	return &ParseError{Line: p.cur.Line, Column: p.cur.Column, Msg: fmt.Sprintf(format, args...)}
}

func (p *Parser) expect(tt TokenType) (Token, error) {
	if p.cur.Type != tt {
		return Token{}, p.errorf("unexpected token %q", p.cur.Literal)
	}
	tok := p.cur
	p.next()
	return tok, nil
}

// ParseProgram parses the full translation unit.
func (p *Parser) ParseProgram() (*Program, error) {
	prog := &Program{}
	for p.cur.Type != TokenEOF {
		switch p.cur.Type {
		case TokenStruct:
			s, err := p.parseStructDecl()
			if err != nil {
				return nil, err
			}
			prog.Structs = append(prog.Structs, *s)
		case TokenFunc, TokenExtern:
			f, err := p.parseFuncDecl()
			if err != nil {
				return nil, err
			}
			prog.Funcs = append(prog.Funcs, *f)
		default:
			return nil, p.errorf("expected 'struct' or 'func', got %q", p.cur.Literal)
		}
	}
	return prog, nil
}

func (p *Parser) parseStructDecl() (*StructDecl, error) {
	if _, err := p.expect(TokenStruct); err != nil {
		return nil, err
	}
	name, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLBrace); err != nil {
		return nil, err
	}
	decl := &StructDecl{Name: name.Literal}
	for p.cur.Type != TokenRBrace {
		fname, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenColon); err != nil {
			return nil, err
		}
		ty, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenSemicolon); err != nil {
			return nil, err
		}
		decl.Fields = append(decl.Fields, Field{Name: fname.Literal, Type: ty})
	}
	if _, err := p.expect(TokenRBrace); err != nil {
		return nil, err
	}
	return decl, nil
}

func (p *Parser) parseFuncDecl() (*FuncDecl, error) {
	extern := false
	if p.cur.Type == TokenExtern {
		extern = true
		p.next()
	}
	if _, err := p.expect(TokenFunc); err != nil {
		return nil, err
	}
	name, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	decl := &FuncDecl{Name: name.Literal, Extern: extern}
	for p.cur.Type != TokenRParen {
		if len(decl.Params) > 0 {
			if _, err := p.expect(TokenComma); err != nil {
				return nil, err
			}
		}
		pname, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenColon); err != nil {
			return nil, err
		}
		ty, err := p.parseType()
		if err != nil {
			return nil, err
		}
		decl.Params = append(decl.Params, Param{Name: pname.Literal, Type: ty})
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenArrow); err != nil {
		return nil, err
	}
	ret, err := p.parseType()
	if err != nil {
		return nil, err
	}
	decl.Ret = ret

	if extern {
		if _, err := p.expect(TokenSemicolon); err != nil {
			return nil, err
		}
		return decl, nil
	}

	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	decl.Body = body
	return decl, nil
}

// parseType parses a base type name followed by any number of array
// and pointer suffixes, e.g. `i32[8][8]*`, in the order written; see
// TypeExpr's doc comment for how resolveType applies them.
func (p *Parser) parseType() (TypeExpr, error) {
	if p.cur.Type == TokenVoid {
		p.next()
		return TypeExpr{Name: "void"}, nil
	}
	base, err := p.expect(TokenIdent)
	if err != nil {
		return TypeExpr{}, err
	}
	te := TypeExpr{Name: base.Literal}
	for p.cur.Type == TokenLBracket || p.cur.Type == TokenStar {
		if p.cur.Type == TokenStar {
			p.next()
			te.Suffixes = append(te.Suffixes, TypeSuffix{Kind: SuffixPointer})
			continue
		}
		p.next()
		dimTok, err := p.expect(TokenInt)
		if err != nil {
			return TypeExpr{}, err
		}
		if _, err := p.expect(TokenRBracket); err != nil {
			return TypeExpr{}, err
		}
		var dim int
		if _, err := fmt.Sscanf(dimTok.Literal, "%d", &dim); err != nil {
			return TypeExpr{}, p.errorf("bad array dimension %q", dimTok.Literal)
		}
		te.Suffixes = append(te.Suffixes, TypeSuffix{Kind: SuffixArray, Dim: dim})
	}
	return te, nil
}

func (p *Parser) parseBlock() ([]Stmt, error) {
	if _, err := p.expect(TokenLBrace); err != nil {
		return nil, err
	}
	var stmts []Stmt
	for p.cur.Type != TokenRBrace {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	if _, err := p.expect(TokenRBrace); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *Parser) parseStmt() (Stmt, error) {
	switch p.cur.Type {
	case TokenVar:
		return p.parseVarDecl()
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		return p.parseWhile()
	case TokenReturn:
		return p.parseReturn()
	default:
		return p.parseExprOrAssignStmt()
	}
}

func (p *Parser) parseVarDecl() (Stmt, error) {
	p.next() // 'var'
	name, err := p.expect(TokenIdent)
	if err != nil {
		return Stmt{}, err
	}
	if _, err := p.expect(TokenColon); err != nil {
		return Stmt{}, err
	}
	ty, err := p.parseType()
	if err != nil {
		return Stmt{}, err
	}
	decl := &VarDeclStmt{Name: name.Literal, Type: ty}
	if p.cur.Type == TokenAssign {
		p.next()
		init, err := p.parseExpr()
		if err != nil {
			return Stmt{}, err
		}
		decl.Init = &init
	}
	if _, err := p.expect(TokenSemicolon); err != nil {
		return Stmt{}, err
	}
	return Stmt{VarDecl: decl}, nil
}

func (p *Parser) parseIf() (Stmt, error) {
	p.next() // 'if'
	if _, err := p.expect(TokenLParen); err != nil {
		return Stmt{}, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return Stmt{}, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return Stmt{}, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return Stmt{}, err
	}
	stmt := &IfStmt{Cond: cond, Then: then}
	if p.cur.Type == TokenElse {
		p.next()
		if p.cur.Type == TokenIf {
			elseIf, err := p.parseIf()
			if err != nil {
				return Stmt{}, err
			}
			stmt.Else = []Stmt{elseIf}
		} else {
			elseBlock, err := p.parseBlock()
			if err != nil {
				return Stmt{}, err
			}
			stmt.Else = elseBlock
		}
	}
	return Stmt{If: stmt}, nil
}

func (p *Parser) parseWhile() (Stmt, error) {
	p.next() // 'while'
	if _, err := p.expect(TokenLParen); err != nil {
		return Stmt{}, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return Stmt{}, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return Stmt{}, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return Stmt{}, err
	}
	return Stmt{While: &WhileStmt{Cond: cond, Body: body}}, nil
}

func (p *Parser) parseReturn() (Stmt, error) {
	p.next() // 'return'
	stmt := &ReturnStmt{}
	if p.cur.Type != TokenSemicolon {
		v, err := p.parseExpr()
		if err != nil {
			return Stmt{}, err
		}
		stmt.Value = &v
	}
	if _, err := p.expect(TokenSemicolon); err != nil {
		return Stmt{}, err
	}
	return Stmt{Return: stmt}, nil
}

func (p *Parser) parseExprOrAssignStmt() (Stmt, error) {
	lhs, err := p.parseExpr()
	if err != nil {
		return Stmt{}, err
	}
	if p.cur.Type == TokenAssign {
		p.next()
		rhs, err := p.parseExpr()
		if err != nil {
			return Stmt{}, err
		}
		if _, err := p.expect(TokenSemicolon); err != nil {
			return Stmt{}, err
		}
		return Stmt{Assign: &AssignStmt{Target: lhs, Value: rhs}}, nil
	}
	if _, err := p.expect(TokenSemicolon); err != nil {
		return Stmt{}, err
	}
	return Stmt{Expr: &ExprStmt{Value: lhs}}, nil
}

// Expression grammar, lowest to highest precedence:
//
//	expr    := or
//	or      := and (('||') and)*
//	and     := equality (('&&') equality)*
//	equality:= relational (('=='|'!=') relational)*
//	relational := additive (('<'|'<='|'>'|'>=') additive)*
//	additive:= term (('+'|'-') term)*
//	term    := unary (('*'|'/'|'%') unary)*
//	unary   := '-' unary | postfix
//	postfix := primary ('.' ident | '[' expr ']')*
//	primary := int | float | ident ['(' args ')'] | '(' expr ')'
//
// '&&'/'||' lower to the same Binary/BinOp nodes as every other
// operator: this language has no short-circuit-specific IR shape, so
// the builder evaluates both operands eagerly.
func (p *Parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return Expr{}, err
	}
	for p.cur.Type == TokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return Expr{}, err
		}
		left = Expr{Binary: &BinaryExpr{Op: OpOr, Left: left, Right: right}}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseEquality()
	if err != nil {
		return Expr{}, err
	}
	for p.cur.Type == TokenAnd {
		p.next()
		right, err := p.parseEquality()
		if err != nil {
			return Expr{}, err
		}
		left = Expr{Binary: &BinaryExpr{Op: OpAnd, Left: left, Right: right}}
	}
	return left, nil
}

func (p *Parser) parseEquality() (Expr, error) {
	left, err := p.parseRelational()
	if err != nil {
		return Expr{}, err
	}
	for p.cur.Type == TokenEq || p.cur.Type == TokenNe {
		op := OpEq
		if p.cur.Type == TokenNe {
			op = OpNe
		}
		p.next()
		right, err := p.parseRelational()
		if err != nil {
			return Expr{}, err
		}
		left = Expr{Binary: &BinaryExpr{Op: op, Left: left, Right: right}}
	}
	return left, nil
}

func (p *Parser) parseRelational() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return Expr{}, err
	}
	for {
		var op BinOp
		switch p.cur.Type {
		case TokenLt:
			op = OpLt
		case TokenLe:
			op = OpLe
		case TokenGt:
			op = OpGt
		case TokenGe:
			op = OpGe
		default:
			return left, nil
		}
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return Expr{}, err
		}
		left = Expr{Binary: &BinaryExpr{Op: op, Left: left, Right: right}}
	}
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return Expr{}, err
	}
	for p.cur.Type == TokenPlus || p.cur.Type == TokenMinus {
		op := OpAdd
		if p.cur.Type == TokenMinus {
			op = OpSub
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return Expr{}, err
		}
		left = Expr{Binary: &BinaryExpr{Op: op, Left: left, Right: right}}
	}
	return left, nil
}

func (p *Parser) parseTerm() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return Expr{}, err
	}
	for p.cur.Type == TokenStar || p.cur.Type == TokenSlash || p.cur.Type == TokenPercent {
		var op BinOp
		switch p.cur.Type {
		case TokenStar:
			op = OpMul
		case TokenSlash:
			op = OpDiv
		case TokenPercent:
			op = OpRem
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return Expr{}, err
		}
		left = Expr{Binary: &BinaryExpr{Op: op, Left: left, Right: right}}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.cur.Type == TokenMinus {
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return Expr{}, err
		}
		return Expr{Neg: &v}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	prim, err := p.parsePrimary()
	if err != nil {
		return Expr{}, err
	}
	if prim.Ident == nil {
		return prim, nil
	}
	if p.cur.Type != TokenDot && p.cur.Type != TokenLBracket {
		return prim, nil
	}
	acc := &AccessExpr{Base: *prim.Ident}
	for p.cur.Type == TokenDot || p.cur.Type == TokenLBracket {
		if p.cur.Type == TokenDot {
			p.next()
			fname, err := p.expect(TokenIdent)
			if err != nil {
				return Expr{}, err
			}
			acc.Steps = append(acc.Steps, AccessStep{Field: fname.Literal})
		} else {
			p.next()
			idx, err := p.parseExpr()
			if err != nil {
				return Expr{}, err
			}
			if _, err := p.expect(TokenRBracket); err != nil {
				return Expr{}, err
			}
			acc.Steps = append(acc.Steps, AccessStep{Index: &idx})
		}
	}
	return Expr{Access: acc}, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch p.cur.Type {
	case TokenInt:
		tok := p.cur
		p.next()
		var v int64
		if _, err := fmt.Sscanf(tok.Literal, "%d", &v); err != nil {
			return Expr{}, &ParseError{Line: tok.Line, Column: tok.Column, Msg: fmt.Sprintf("bad integer literal %q", tok.Literal)}
		}
		return Expr{IntLit: &v}, nil
	case TokenFloat:
		tok := p.cur
		p.next()
		var v float64
		if _, err := fmt.Sscanf(tok.Literal, "%g", &v); err != nil {
			return Expr{}, &ParseError{Line: tok.Line, Column: tok.Column, Msg: fmt.Sprintf("bad float literal %q", tok.Literal)}
		}
		return Expr{FloatLit: &v}, nil
	case TokenIdent:
		name := p.cur.Literal
		p.next()
		if p.cur.Type == TokenLParen {
			p.next()
			var args []Expr
			for p.cur.Type != TokenRParen {
				if len(args) > 0 {
					if _, err := p.expect(TokenComma); err != nil {
						return Expr{}, err
					}
				}
				arg, err := p.parseExpr()
				if err != nil {
					return Expr{}, err
				}
				args = append(args, arg)
			}
			if _, err := p.expect(TokenRParen); err != nil {
				return Expr{}, err
			}
			return Expr{Call: &CallExpr{Callee: name, Args: args}}, nil
		}
		return Expr{Ident: &name}, nil
	case TokenLParen:
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return Expr{}, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return Expr{}, err
		}
		return e, nil
	default:
		return Expr{}, p.errorf("unexpected token %q in expression", p.cur.Literal)
	}
}
