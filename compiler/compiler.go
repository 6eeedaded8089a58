// Package compiler lowers a Lumen ast.Script into an object.Code: a flat
// instruction stream plus the constant and name pools its operands index
// into. It emits in a single pass, recording jump positions so branch
// targets can be back-patched once the surrounding body is known.
//
// A function literal gets its own, entirely independent Compiler rather
// than a nested scope within the enclosing one — Lumen has no lexical
// closures, so a function body's names resolve through LoadArg (for its
// own parameters) or LoadName (global scope), never through an enclosing
// compiler's pools. The enclosing compiler only sees the finished
// object.Code, wrapped into a Function Value and interned as one constant.
package compiler

import (
	"fmt"
	"math"
	"strconv"

	"github.com/lumen-lang/lumen/ast"
	"github.com/lumen-lang/lumen/code"
	"github.com/lumen-lang/lumen/context"
	"github.com/lumen-lang/lumen/object"
)

// Compiler holds one scope's output pools and the small transient flags
// that steer member-access and call-expression lowering.
type Compiler struct {
	ctx *context.Context

	instrs  code.Instructions
	lastPos int

	consts     []object.Value
	constIndex map[object.Value]int

	names        []string
	indexOfName  map[string]int
	indexOfParam map[string]int

	// thisStackLen tracks the running balance of PushThis emitted while
	// building the current call's callee, so CallExpression knows how
	// many matching PopThis to emit afterward.
	thisStackLen int

	// inCallExpr is set while visiting the callee sub-expression of a
	// CallExpression, so a member access resolving to that callee knows
	// to install its receiver onto the thises-stack.
	inCallExpr bool

	// inLoadProp is set while visiting the property sub-expression of a
	// member access, so a bare Identifier there lowers to a string
	// constant (the member key) instead of a name/argument lookup.
	inLoadProp bool
}

// New creates a Compiler for a top-level script. Its parameter table is
// empty, so every Identifier resolves through the name pool.
func New(ctx *context.Context) *Compiler {
	return &Compiler{
		ctx:          ctx,
		constIndex:   make(map[object.Value]int),
		indexOfName:  make(map[string]int),
		indexOfParam: make(map[string]int),
	}
}

// newFunctionScope creates a Compiler for a function body, with its
// parameter names pre-resolved to positional slots.
func newFunctionScope(ctx *context.Context, params []*ast.Identifier) *Compiler {
	c := New(ctx)
	for i, p := range params {
		c.indexOfParam[p.Name] = i
	}
	return c
}

// CompileScript compiles every top-level statement in order. Every
// expression statement, including the last, is followed by a discarding
// Pop, so Run falls off the end with nothing left on the data stack — the
// right behaviour for a script run for effect rather than for its value.
func (c *Compiler) CompileScript(script *ast.Script) error {
	return c.compileStatements(script.Parts, false)
}

// CompileScriptForResult compiles like CompileScript, except when the
// final top-level statement is an expression statement: there, it omits
// the trailing Pop, leaving that expression's value on the data stack for
// Run to return. This is how the `-e` flag surfaces "the value of the
// last statement" instead of always reporting undefined.
func (c *Compiler) CompileScriptForResult(script *ast.Script) error {
	return c.compileStatements(script.Parts, true)
}

// Code returns the finished, immutable compiled unit.
func (c *Compiler) Code() *object.Code {
	return &object.Code{Instrs: c.instrs, Consts: c.consts, Names: c.names}
}

// CompileLine compiles one more round of top-level statements onto this
// Compiler's existing pools, for a REPL that keeps one Compiler alive
// across input lines. The returned Code's instructions cover only the
// statements compiled in this call; Consts and Names are shared with the
// Compiler's full, still-growing pool, so indices recorded in this slice
// stay valid even as later lines append further constants and names. Like
// CompileScriptForResult, a trailing expression statement keeps its value
// on the stack instead of discarding it, so the REPL has something to
// print for the line it just ran.
func (c *Compiler) CompileLine(script *ast.Script) (*object.Code, error) {
	start := len(c.instrs)
	if err := c.compileStatements(script.Parts, true); err != nil {
		c.instrs = c.instrs[:start]
		return nil, err
	}
	return &object.Code{Instrs: c.instrs[start:], Consts: c.consts, Names: c.names}, nil
}

// compileStatements compiles stmts in order. When keepLastResult is true
// and the final statement is an expression statement, its trailing Pop is
// omitted so the expression's value survives on the data stack.
func (c *Compiler) compileStatements(stmts []ast.Statement, keepLastResult bool) error {
	for i, stmt := range stmts {
		if keepLastResult && i == len(stmts)-1 {
			if expr, ok := stmt.(*ast.ExpressionStatement); ok {
				if err := c.compileExpression(expr.Expr); err != nil {
					return err
				}
				continue
			}
		}
		if err := c.compileStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileStatement(stmt ast.Statement) error {
	switch node := stmt.(type) {
	case *ast.EmptyStatement:
		return nil

	case *ast.ExpressionStatement:
		if err := c.compileExpression(node.Expr); err != nil {
			return err
		}
		c.emit(code.OpPop)
		return nil

	case *ast.ReturnStatement:
		if node.Value != nil {
			if err := c.compileExpression(node.Value); err != nil {
				return err
			}
			c.emit(code.OpReturn)
			return nil
		}
		c.emit(code.OpLoadUndefined)
		c.emit(code.OpReturn)
		return nil

	case *ast.BlockStatement:
		for _, s := range node.Body {
			if err := c.compileStatement(s); err != nil {
				return err
			}
		}
		return nil

	case *ast.IfStatement:
		if err := c.compileExpression(node.Test); err != nil {
			return err
		}
		jumpFalsePos := c.emit(code.OpPopJumpIfFalse, 9999)

		if err := c.compileStatement(node.Consequent); err != nil {
			return err
		}
		jumpPos := c.emit(code.OpJump, 9999)
		c.changeOperand(jumpFalsePos, len(c.instrs))

		if node.Alternative != nil {
			if err := c.compileStatement(node.Alternative); err != nil {
				return err
			}
		}
		c.changeOperand(jumpPos, len(c.instrs))
		return nil

	case *ast.VarDeclaration:
		for _, decl := range node.Declarators {
			if decl.Init != nil {
				if err := c.compileExpression(decl.Init); err != nil {
					return err
				}
			} else {
				c.emit(code.OpLoadUndefined)
			}
			c.emit(code.OpStoreName, c.addName(decl.Id.Name))
			c.emit(code.OpPop)
		}
		return nil

	case *ast.FunctionDeclaration:
		idx, err := c.compileFunctionLiteral(node.Name, node.Params, node.Body)
		if err != nil {
			return err
		}
		c.emit(code.OpLoadConst, idx)
		c.emit(code.OpStoreName, c.addName(node.Name))
		c.emit(code.OpPop)
		return nil

	default:
		return fmt.Errorf("compiler: unsupported statement %T", stmt)
	}
}

func (c *Compiler) compileExpression(expr ast.Expression) error {
	switch node := expr.(type) {
	case *ast.NullLiteral:
		c.emit(code.OpLoadNull)
		return nil

	case *ast.BooleanLiteral:
		b := 0
		if node.Value {
			b = 1
		}
		c.emit(code.OpLoadBool, b)
		return nil

	case *ast.NumberLiteral:
		n, err := strconv.ParseFloat(node.Raw, 64)
		if err != nil {
			n = math.NaN()
		}
		c.emit(code.OpLoadConst, c.addConst(object.Num(n)))
		return nil

	case *ast.StringLiteral:
		c.emit(code.OpLoadConst, c.addConst(object.Str(node.Value)))
		return nil

	case *ast.ThisExpression:
		c.emit(code.OpLoadThis)
		return nil

	case *ast.Identifier:
		if c.inLoadProp {
			c.emit(code.OpLoadConst, c.addConst(object.Str(node.Name)))
			return nil
		}
		if slot, ok := c.indexOfParam[node.Name]; ok {
			c.emit(code.OpLoadArg, slot)
			return nil
		}
		c.emit(code.OpLoadName, c.addName(node.Name))
		return nil

	case *ast.MemberExpression:
		return c.compileMemberExpression(node)

	case *ast.CallExpression:
		return c.compileCallExpression(node)

	case *ast.NewExpression:
		for _, arg := range node.Arguments {
			if err := c.compileExpression(arg); err != nil {
				return err
			}
		}
		if err := c.compileExpression(node.Callee); err != nil {
			return err
		}
		c.emit(code.OpNew, len(node.Arguments))
		return nil

	case *ast.FunctionExpression:
		idx, err := c.compileFunctionLiteral(node.Name, node.Params, node.Body)
		if err != nil {
			return err
		}
		c.emit(code.OpLoadConst, idx)
		return nil

	case *ast.BinaryExpression:
		if err := c.compileExpression(node.Left); err != nil {
			return err
		}
		if err := c.compileExpression(node.Right); err != nil {
			return err
		}
		switch node.Operator {
		case "+":
			c.emit(code.OpBinAdd)
		case "-":
			c.emit(code.OpBinSub)
		case "==":
			c.emit(code.OpBinEq)
		default:
			return fmt.Errorf("compiler: unsupported operator %q", node.Operator)
		}
		return nil

	case *ast.AssignExpression:
		if err := c.compileExpression(node.Right); err != nil {
			return err
		}
		if err := c.compileExpression(node.Left); err != nil {
			return err
		}
		return c.rewriteLastToStore()

	case *ast.ArrayLiteral:
		count := 0
		for _, el := range node.Elements {
			if el == nil {
				continue
			}
			if err := c.compileExpression(el); err != nil {
				return err
			}
			count++
		}
		c.emit(code.OpMakeArray, count)
		return nil

	default:
		return fmt.Errorf("compiler: unsupported expression %T", expr)
	}
}

func (c *Compiler) compileMemberExpression(node *ast.MemberExpression) error {
	if err := c.compileExpression(node.Object); err != nil {
		return err
	}
	if c.inCallExpr {
		c.emit(code.OpPushThis)
		c.thisStackLen++
		c.inCallExpr = false
	}

	saved := c.inLoadProp
	c.inLoadProp = true
	err := c.compileExpression(node.Property)
	c.inLoadProp = saved
	if err != nil {
		return err
	}

	c.emit(code.OpLoadProperty)
	return nil
}

func (c *Compiler) compileCallExpression(node *ast.CallExpression) error {
	for _, arg := range node.Arguments {
		if err := c.compileExpression(arg); err != nil {
			return err
		}
	}

	savedThisLen := c.thisStackLen
	savedInCall := c.inCallExpr
	c.inCallExpr = true

	err := c.compileExpression(node.Callee)
	c.inCallExpr = savedInCall
	if err != nil {
		return err
	}

	c.emit(code.OpCall, len(node.Arguments))

	for i := 0; i < c.thisStackLen-savedThisLen; i++ {
		c.emit(code.OpPopThis)
	}
	c.thisStackLen = savedThisLen

	return nil
}

// compileFunctionLiteral compiles a function body in a fresh Compiler,
// wraps the result into a Function Value via Context.NewFunction, and
// interns it into this compiler's constant pool, returning its index.
func (c *Compiler) compileFunctionLiteral(name string, params []*ast.Identifier, body *ast.BlockStatement) (int, error) {
	fc := newFunctionScope(c.ctx, params)
	if err := fc.compileStatement(body); err != nil {
		return 0, err
	}

	fn := c.ctx.NewFunction(name, fc.Code(), len(params))
	return c.addConst(object.FromObject(fn)), nil
}

// rewriteLastToStore turns the load instruction an assignment's left-hand
// side just compiled into its store counterpart, in place. LoadName and
// LoadProperty are the only rewritable targets; LoadArg has no store
// counterpart, since arguments are read-only. Both store opcodes push the
// stored value back once the write completes, so an AssignExpression nets
// one value on the stack, same as any other expression — callers that use
// a store as a plain statement (VarDeclaration, FunctionDeclaration) emit
// a Pop of their own to discard it.
func (c *Compiler) rewriteLastToStore() error {
	switch code.Opcode(c.instrs[c.lastPos]) {
	case code.OpLoadName:
		c.instrs[c.lastPos] = byte(code.OpStoreName)
	case code.OpLoadProperty:
		c.instrs[c.lastPos] = byte(code.OpStoreProperty)
	default:
		return fmt.Errorf("compiler: invalid assignment target")
	}
	return nil
}

func (c *Compiler) emit(op code.Opcode, operands ...int) int {
	ins := code.Make(op, operands...)
	pos := len(c.instrs)
	c.instrs = append(c.instrs, ins...)
	c.lastPos = pos
	return pos
}

// changeOperand back-patches a jump instruction's operand in place. Both
// PopJumpIfFalse and Jump carry a single two-byte operand, so the
// replacement instruction is always the same length as the original.
func (c *Compiler) changeOperand(pos, operand int) {
	op := code.Opcode(c.instrs[pos])
	newIns := code.Make(op, operand)
	copy(c.instrs[pos:], newIns)
}

// addConst interns a primitive constant (dedup by value) or appends an
// Object constant (never deduped, since each is a distinct allocation —
// most commonly a freshly built Function).
func (c *Compiler) addConst(v object.Value) int {
	if v.Kind() != object.KindObject {
		if idx, ok := c.constIndex[v]; ok {
			return idx
		}
	}
	idx := len(c.consts)
	c.consts = append(c.consts, v)
	if v.Kind() != object.KindObject {
		c.constIndex[v] = idx
	}
	return idx
}

// addName interns a name into the name pool, deduping within this Code.
func (c *Compiler) addName(name string) int {
	if idx, ok := c.indexOfName[name]; ok {
		return idx
	}
	idx := len(c.names)
	c.names = append(c.names, name)
	c.indexOfName[name] = idx
	return idx
}
