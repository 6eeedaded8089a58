// Package parser implements the syntactic analyzer for the Lumen scripting
// language.
//
// The parser takes a stream of tokens from the lexer and constructs the
// Script AST the compiler package consumes. It implements a recursive
// descent parser with Pratt parsing (precedence climbing) for expressions,
// narrowed to a small ES3 subset: only Script programs, only
// var declarations, only the +, - and == binary operators, and no
// try/catch, regex, or module syntax.
package parser

import (
	"fmt"

	"github.com/lumen-lang/lumen/ast"
	"github.com/lumen-lang/lumen/lexer"
	"github.com/lumen-lang/lumen/token"
)

const (
	_ int = iota

	Lowest
	Assign // =
	Equals // ==
	Sum    // + or -
	Call   // f(x), obj.prop, obj[x], new Foo
)

var precedences = map[token.Type]int{
	token.ASSIGN:   Assign,
	token.EQ:       Equals,
	token.PLUS:     Sum,
	token.MINUS:    Sum,
	token.LPAREN:   Call,
	token.LBRACKET: Call,
	token.DOT:      Call,
}

type (
	prefixParseFn func() ast.Expression
	infixParseFn  func(ast.Expression) ast.Expression
)

// Parser parses a token stream produced by a [lexer.Lexer] into an
// [ast.Script].
type Parser struct {
	l      *lexer.Lexer
	errors []string

	currentToken token.Token
	peekToken    token.Token

	prefixParseFns map[token.Type]prefixParseFn
	infixParseFns  map[token.Type]infixParseFn
}

// New creates a new Parser reading from the given lexer.
func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l, errors: []string{}}

	p.prefixParseFns = make(map[token.Type]prefixParseFn)
	p.registerPrefix(token.IDENT, p.parseIdentifier)
	p.registerPrefix(token.NUMBER, p.parseNumberLiteral)
	p.registerPrefix(token.STRING, p.parseStringLiteral)
	p.registerPrefix(token.TRUE, p.parseBoolean)
	p.registerPrefix(token.FALSE, p.parseBoolean)
	p.registerPrefix(token.NULL, p.parseNullLiteral)
	p.registerPrefix(token.THIS, p.parseThisExpression)
	p.registerPrefix(token.LPAREN, p.parseGroupedExpression)
	p.registerPrefix(token.FUNCTION, p.parseFunctionExpression)
	p.registerPrefix(token.LBRACKET, p.parseArrayLiteral)
	p.registerPrefix(token.NEW, p.parseNewExpression)

	p.infixParseFns = make(map[token.Type]infixParseFn)
	p.registerInfix(token.PLUS, p.parseBinaryExpression)
	p.registerInfix(token.MINUS, p.parseBinaryExpression)
	p.registerInfix(token.EQ, p.parseBinaryExpression)
	p.registerInfix(token.LPAREN, p.parseCallExpression)
	p.registerInfix(token.LBRACKET, p.parseComputedMemberExpression)
	p.registerInfix(token.DOT, p.parseDotMemberExpression)
	p.registerInfix(token.ASSIGN, p.parseAssignExpression)

	p.nextToken()
	p.nextToken()

	return p
}

func (p *Parser) registerPrefix(t token.Type, fn prefixParseFn) { p.prefixParseFns[t] = fn }
func (p *Parser) registerInfix(t token.Type, fn infixParseFn)   { p.infixParseFns[t] = fn }

// Errors returns the list of errors encountered while parsing.
func (p *Parser) Errors() []string { return p.errors }

func (p *Parser) nextToken() {
	p.currentToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) currentTokenIs(t token.Type) bool { return p.currentToken.Type == t }
func (p *Parser) peekTokenIs(t token.Type) bool    { return p.peekToken.Type == t }

func (p *Parser) expectPeek(t token.Type) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

func (p *Parser) peekError(t token.Type) {
	p.errors = append(p.errors, fmt.Sprintf("expected next token to be %s, got %s (%q) instead",
		t, p.peekToken.Type, p.peekToken.Literal))
}

func (p *Parser) peekPrecedence() int {
	if pr, ok := precedences[p.peekToken.Type]; ok {
		return pr
	}
	return Lowest
}

func (p *Parser) curPrecedence() int {
	if pr, ok := precedences[p.currentToken.Type]; ok {
		return pr
	}
	return Lowest
}

// ParseProgram parses a complete Lumen Script and returns its AST.
// Check [Parser.Errors] afterward to see if any parsing errors occurred.
func (p *Parser) ParseProgram() *ast.Script {
	script := &ast.Script{}

	for !p.currentTokenIs(token.EOF) {
		if p.rejectUnsupported() {
			p.nextToken()
			continue
		}
		if stmt := p.parseStatement(); stmt != nil {
			script.Parts = append(script.Parts, stmt)
		}
		p.nextToken()
	}

	return script
}

// rejectUnsupported records a fatal parse error for keywords this core does
// not support (let, const, module, try) so a reader sees a clear diagnostic
// instead of a confusing cascade of downstream errors.
func (p *Parser) rejectUnsupported() bool {
	switch p.currentToken.Type {
	case token.LET, token.CONST:
		p.errors = append(p.errors, "let/const declarations are not supported; use var")
		return true
	case token.MODULE:
		p.errors = append(p.errors, "module programs are not supported; only Script programs are")
		return true
	case token.TRY:
		p.errors = append(p.errors, "try/catch/finally is not supported by this core")
		return true
	}
	return false
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.currentToken.Type {
	case token.SEMICOLON:
		return &ast.EmptyStatement{}
	case token.VAR:
		return p.parseVarDeclaration()
	case token.FUNCTION:
		if p.peekTokenIs(token.IDENT) {
			return p.parseFunctionDeclaration()
		}
		return p.parseExpressionStatement()
	case token.RETURN:
		return p.parseReturnStatement()
	case token.IF:
		return p.parseIfStatement()
	case token.LBRACE:
		return p.parseBlockStatement()
	default:
		return p.parseExpressionStatement()
	}
}

func (p *Parser) parseVarDeclaration() ast.Statement {
	decl := &ast.VarDeclaration{}

	for {
		if !p.expectPeek(token.IDENT) {
			return nil
		}
		d := &ast.VarDeclarator{Id: &ast.Identifier{Name: p.currentToken.Literal}}

		if p.peekTokenIs(token.ASSIGN) {
			p.nextToken()
			p.nextToken()
			d.Init = p.parseExpression(Lowest)
		}
		decl.Declarators = append(decl.Declarators, d)

		if !p.peekTokenIs(token.COMMA) {
			break
		}
		p.nextToken()
	}

	if p.peekTokenIs(token.SEMICOLON) {
		p.nextToken()
	}
	return decl
}

func (p *Parser) parseFunctionDeclaration() ast.Statement {
	p.nextToken() // consume `function`, now on the name identifier
	decl := &ast.FunctionDeclaration{Name: p.currentToken.Literal}

	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	decl.Params = p.parseFunctionParameters()

	if !p.expectPeek(token.LBRACE) {
		return nil
	}
	decl.Body = p.parseBlockStatement()
	return decl
}

func (p *Parser) parseFunctionParameters() []*ast.Identifier {
	var params []*ast.Identifier

	if p.peekTokenIs(token.RPAREN) {
		p.nextToken()
		return params
	}
	p.nextToken()
	params = append(params, &ast.Identifier{Name: p.currentToken.Literal})

	for p.peekTokenIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		params = append(params, &ast.Identifier{Name: p.currentToken.Literal})
	}

	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return params
}

func (p *Parser) parseReturnStatement() ast.Statement {
	stmt := &ast.ReturnStatement{}

	if p.peekTokenIs(token.SEMICOLON) {
		p.nextToken()
		return stmt
	}

	p.nextToken()
	stmt.Value = p.parseExpression(Lowest)

	if p.peekTokenIs(token.SEMICOLON) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseIfStatement() ast.Statement {
	stmt := &ast.IfStatement{}

	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	p.nextToken()
	stmt.Test = p.parseExpression(Lowest)

	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	p.nextToken()
	stmt.Consequent = p.parseStatement()

	if p.peekTokenIs(token.ELSE) {
		p.nextToken()
		p.nextToken()
		stmt.Alternative = p.parseStatement()
	}
	return stmt
}

func (p *Parser) parseBlockStatement() *ast.BlockStatement {
	block := &ast.BlockStatement{}
	p.nextToken()

	for !p.currentTokenIs(token.RBRACE) && !p.currentTokenIs(token.EOF) {
		if stmt := p.parseStatement(); stmt != nil {
			block.Body = append(block.Body, stmt)
		}
		p.nextToken()
	}
	return block
}

func (p *Parser) parseExpressionStatement() ast.Statement {
	stmt := &ast.ExpressionStatement{Expr: p.parseExpression(Lowest)}

	if p.peekTokenIs(token.SEMICOLON) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseExpression(precedence int) ast.Expression {
	prefix := p.prefixParseFns[p.currentToken.Type]
	if prefix == nil {
		p.noPrefixParseFnError(p.currentToken.Type)
		return nil
	}
	left := prefix()

	for !p.peekTokenIs(token.SEMICOLON) && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return left
		}
		p.nextToken()
		left = infix(left)
	}

	return left
}

func (p *Parser) noPrefixParseFnError(t token.Type) {
	p.errors = append(p.errors, fmt.Sprintf("no prefix parse function for %s found", t))
}

func (p *Parser) parseIdentifier() ast.Expression {
	return &ast.Identifier{Name: p.currentToken.Literal}
}

func (p *Parser) parseNumberLiteral() ast.Expression {
	return &ast.NumberLiteral{Raw: p.currentToken.Literal}
}

func (p *Parser) parseStringLiteral() ast.Expression {
	return &ast.StringLiteral{Value: p.currentToken.Literal}
}

func (p *Parser) parseBoolean() ast.Expression {
	return &ast.BooleanLiteral{Value: p.currentTokenIs(token.TRUE)}
}

func (p *Parser) parseNullLiteral() ast.Expression { return &ast.NullLiteral{} }

func (p *Parser) parseThisExpression() ast.Expression { return &ast.ThisExpression{} }

func (p *Parser) parseGroupedExpression() ast.Expression {
	p.nextToken()
	exp := p.parseExpression(Lowest)
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return exp
}

func (p *Parser) parseFunctionExpression() ast.Expression {
	fn := &ast.FunctionExpression{}

	if p.peekTokenIs(token.IDENT) {
		p.nextToken()
		fn.Name = p.currentToken.Literal
	}

	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	fn.Params = p.parseFunctionParameters()

	if !p.expectPeek(token.LBRACE) {
		return nil
	}
	fn.Body = p.parseBlockStatement()
	return fn
}

func (p *Parser) parseArrayLiteral() ast.Expression {
	arr := &ast.ArrayLiteral{}

	for !p.peekTokenIs(token.RBRACKET) {
		if p.peekTokenIs(token.COMMA) {
			// a hole: two commas (or a leading comma) in a row
			arr.Elements = append(arr.Elements, nil)
			p.nextToken()
			continue
		}
		p.nextToken()
		arr.Elements = append(arr.Elements, p.parseExpression(Lowest))

		if p.peekTokenIs(token.COMMA) {
			p.nextToken()
		} else {
			break
		}
	}

	if !p.expectPeek(token.RBRACKET) {
		return nil
	}
	return arr
}

// parseNewExpression parses `new callee[(args)]`. The callee may be a
// member chain (`new a.b.C()`), but a `(` after it always belongs to the
// new expression's argument list, never to a call on the callee — so the
// member accesses are consumed here explicitly instead of going through
// parseExpression, whose Call precedence tier would claim the parens too.
func (p *Parser) parseNewExpression() ast.Expression {
	p.nextToken()

	prefix := p.prefixParseFns[p.currentToken.Type]
	if prefix == nil {
		p.noPrefixParseFnError(p.currentToken.Type)
		return nil
	}
	callee := prefix()

	for p.peekTokenIs(token.DOT) || p.peekTokenIs(token.LBRACKET) {
		infix := p.infixParseFns[p.peekToken.Type]
		p.nextToken()
		callee = infix(callee)
	}

	exp := &ast.NewExpression{Callee: callee}
	if p.peekTokenIs(token.LPAREN) {
		p.nextToken()
		exp.Arguments = p.parseExpressionList(token.RPAREN)
	}
	return exp
}

func (p *Parser) parseCallExpression(callee ast.Expression) ast.Expression {
	return &ast.CallExpression{Callee: callee, Arguments: p.parseExpressionList(token.RPAREN)}
}

func (p *Parser) parseExpressionList(end token.Type) []ast.Expression {
	var list []ast.Expression

	if p.peekTokenIs(end) {
		p.nextToken()
		return list
	}

	p.nextToken()
	list = append(list, p.parseExpression(Lowest))

	for p.peekTokenIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		list = append(list, p.parseExpression(Lowest))
	}

	if !p.expectPeek(end) {
		return nil
	}
	return list
}

func (p *Parser) parseDotMemberExpression(object ast.Expression) ast.Expression {
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	return &ast.MemberExpression{
		Object:   object,
		Property: &ast.Identifier{Name: p.currentToken.Literal},
		Computed: false,
	}
}

func (p *Parser) parseComputedMemberExpression(object ast.Expression) ast.Expression {
	p.nextToken()
	index := p.parseExpression(Lowest)
	if !p.expectPeek(token.RBRACKET) {
		return nil
	}
	return &ast.MemberExpression{Object: object, Property: index, Computed: true}
}

func (p *Parser) parseBinaryExpression(left ast.Expression) ast.Expression {
	exp := &ast.BinaryExpression{Operator: p.currentToken.Literal, Left: left}
	precedence := p.curPrecedence()
	p.nextToken()
	exp.Right = p.parseExpression(precedence)
	return exp
}

// parseAssignExpression parses `left = right`, right-associatively (lower
// than its own precedence so a = b = c nests as a = (b = c)).
func (p *Parser) parseAssignExpression(left ast.Expression) ast.Expression {
	exp := &ast.AssignExpression{Left: left}
	p.nextToken()
	exp.Right = p.parseExpression(Assign - 1)
	return exp
}
