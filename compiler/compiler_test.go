package compiler

import (
	"testing"

	"github.com/lumen-lang/lumen/ast"
	"github.com/lumen-lang/lumen/code"
	"github.com/lumen-lang/lumen/context"
	"github.com/lumen-lang/lumen/lexer"
	"github.com/lumen-lang/lumen/object"
	"github.com/lumen-lang/lumen/parser"
)

func compileSource(t *testing.T, input string) *object.Code {
	t.Helper()
	p := parser.New(lexer.New(input))
	script := p.ParseProgram()
	if errs := p.Errors(); len(errs) != 0 {
		t.Fatalf("parser errors for %q: %v", input, errs)
	}

	c := New(context.New())
	if err := c.CompileScript(script); err != nil {
		t.Fatalf("compile error for %q: %v", input, err)
	}
	return c.Code()
}

func concatInstructions(ins ...code.Instructions) code.Instructions {
	out := code.Instructions{}
	for _, i := range ins {
		out = append(out, i...)
	}
	return out
}

func assertInstructions(t *testing.T, got code.Instructions, want ...code.Instructions) {
	t.Helper()
	expected := concatInstructions(want...)
	if string(got) != string(expected) {
		t.Fatalf("instructions mismatch.\nwant:\n%s\ngot:\n%s", expected.String(), got.String())
	}
}

// TestArithmeticAndPrint locks the bytecode shape of print(1 + 2);
func TestArithmeticAndPrint(t *testing.T) {
	co := compileSource(t, "print(1 + 2);")

	assertInstructions(t, co.Instrs,
		code.Make(code.OpLoadConst, 0), // 1
		code.Make(code.OpLoadConst, 1), // 2
		code.Make(code.OpBinAdd),
		code.Make(code.OpLoadName, 0), // print
		code.Make(code.OpCall, 1),
		code.Make(code.OpPop),
	)

	if len(co.Consts) != 2 || co.Consts[0].NumVal() != 1 || co.Consts[1].NumVal() != 2 {
		t.Fatalf("unexpected consts: %+v", co.Consts)
	}
	if len(co.Names) != 1 || co.Names[0] != "print" {
		t.Fatalf("unexpected names: %+v", co.Names)
	}
}

// TestExpressionStatementEmitsPop locks the choice that every expression
// statement is followed by a discarding Pop.
func TestExpressionStatementEmitsPop(t *testing.T) {
	co := compileSource(t, "1; 2;")

	assertInstructions(t, co.Instrs,
		code.Make(code.OpLoadConst, 0),
		code.Make(code.OpPop),
		code.Make(code.OpLoadConst, 1),
		code.Make(code.OpPop),
	)
}

// TestReturnWithoutValueEmitsLoadUndefinedAndReturn locks the other
// choice: a bare `return;` emits LoadUndefined *and* Return.
func TestReturnWithoutValueEmitsLoadUndefinedAndReturn(t *testing.T) {
	co := compileSource(t, "function f() { return; }")

	fn := co.Consts[0].ObjVal().Payload.(*object.UserFunctionPayload)
	assertInstructions(t, fn.Code.Instrs,
		code.Make(code.OpLoadUndefined),
		code.Make(code.OpReturn),
	)
}

// TestIfElseBackpatching checks that PopJumpIfFalse and Jump targets are
// back-patched to the correct absolute instruction offsets once both
// branches are known.
func TestIfElseBackpatching(t *testing.T) {
	co := compileSource(t, `if (1 == 1) { 10; } else { 20; }`)

	assertInstructions(t, co.Instrs,
		code.Make(code.OpLoadConst, 0), // 1
		code.Make(code.OpLoadConst, 0), // 1 (deduped const)
		code.Make(code.OpBinEq),
		code.Make(code.OpPopJumpIfFalse, 17),
		code.Make(code.OpLoadConst, 1), // 10
		code.Make(code.OpPop),
		code.Make(code.OpJump, 21),
		code.Make(code.OpLoadConst, 2), // 20
		code.Make(code.OpPop),
	)
}

// TestIfWithoutElseJumpsToEnd checks the no-else case: the compiler still
// emits the unconditional Jump after the consequent (its target simply
// coincides with PopJumpIfFalse's, since there is no alternate body to
// skip over).
func TestIfWithoutElseJumpsToEnd(t *testing.T) {
	co := compileSource(t, `if (true) { 1; }`)

	assertInstructions(t, co.Instrs,
		code.Make(code.OpLoadBool, 1),
		code.Make(code.OpPopJumpIfFalse, 12),
		code.Make(code.OpLoadConst, 0),
		code.Make(code.OpPop),
		code.Make(code.OpJump, 12),
	)
}

// TestFunctionDeclaration checks that a function declaration interns a
// Function constant and stores it by name, and that the function's own
// Code addresses its parameter via LoadArg rather than LoadName.
func TestFunctionDeclaration(t *testing.T) {
	co := compileSource(t, "function add(a, b) { return a + b; }")

	assertInstructions(t, co.Instrs,
		code.Make(code.OpLoadConst, 0),
		code.Make(code.OpStoreName, 0),
		code.Make(code.OpPop),
	)
	if co.Names[0] != "add" {
		t.Fatalf("expected name 'add', got %q", co.Names[0])
	}

	fn, ok := co.Consts[0].ObjVal().Payload.(*object.UserFunctionPayload)
	if !ok {
		t.Fatalf("expected a UserFunctionPayload constant")
	}
	if fn.Length != 2 {
		t.Fatalf("Length = %d, want 2", fn.Length)
	}
	assertInstructions(t, fn.Code.Instrs,
		code.Make(code.OpLoadArg, 0),
		code.Make(code.OpLoadArg, 1),
		code.Make(code.OpBinAdd),
		code.Make(code.OpReturn),
	)
}

// TestMemberCallArgumentOrdering checks the full instruction sequence for
// a member call, including argument-before-callee emission order and the
// PushThis/PopThis bracketing around the receiver.
func TestMemberCallArgumentOrdering(t *testing.T) {
	co := compileSource(t, "o.m(1);")

	assertInstructions(t, co.Instrs,
		code.Make(code.OpLoadConst, 0), // 1 (argument, visited first)
		code.Make(code.OpLoadName, 0),  // o
		code.Make(code.OpPushThis),
		code.Make(code.OpLoadConst, 1), // "m"
		code.Make(code.OpLoadProperty),
		code.Make(code.OpCall, 1),
		code.Make(code.OpPopThis),
		code.Make(code.OpPop),
	)
}

// TestNewExpressionInstallsNoThis checks that `new` emits no PushThis/
// PopThis around its callee: Construct manages the receiver internally.
func TestNewExpressionInstallsNoThis(t *testing.T) {
	co := compileSource(t, "new F();")

	assertInstructions(t, co.Instrs,
		code.Make(code.OpLoadName, 0), // F
		code.Make(code.OpNew, 0),
		code.Make(code.OpPop),
	)
}

// TestAssignToNameRewritesToStoreName checks the in-place rewrite of the
// last-emitted load into its store counterpart for a bare-name target.
// This only checks the emitted byte shape; vm.TestNameAssignmentAsStatement-
// DoesNotUnderflow executes the equivalent program to lock the runtime
// stack-balance invariant the trailing Pop depends on.
func TestAssignToNameRewritesToStoreName(t *testing.T) {
	co := compileSource(t, "x = 1;")

	assertInstructions(t, co.Instrs,
		code.Make(code.OpLoadConst, 0),
		code.Make(code.OpStoreName, 0),
		code.Make(code.OpPop),
	)
}

// TestAssignToPropertyRewritesToStoreProperty checks the member-target
// rewrite, and that the stack order leaves StoreProperty's operands
// (key, object, value from the top down) in the order it expects. This
// only checks the emitted byte shape; vm.TestPropertyAssignmentAsStatement-
// DoesNotUnderflow executes the equivalent program to lock the runtime
// stack-balance invariant the trailing Pop depends on.
func TestAssignToPropertyRewritesToStoreProperty(t *testing.T) {
	co := compileSource(t, "o.x = 1;")

	assertInstructions(t, co.Instrs,
		code.Make(code.OpLoadConst, 0), // 1 (rvalue)
		code.Make(code.OpLoadName, 0),  // o
		code.Make(code.OpLoadConst, 1), // "x"
		code.Make(code.OpStoreProperty),
		code.Make(code.OpPop),
	)
}

// TestArrayLiteralSkipsHoles checks that MakeArray's count reflects only
// present elements.
func TestArrayLiteralSkipsHoles(t *testing.T) {
	co := compileSource(t, "[1, , 3];")

	assertInstructions(t, co.Instrs,
		code.Make(code.OpLoadConst, 0), // 1
		code.Make(code.OpLoadConst, 1), // 3
		code.Make(code.OpMakeArray, 2),
		code.Make(code.OpPop),
	)
}

// TestUnparseableNumberLiteralFallsBackToNaN drives compileExpression
// directly with a NumberLiteral carrying a Raw value the lexer would
// never itself produce, to lock the defensive NaN fallback rather than a
// panic or a silent zero.
func TestUnparseableNumberLiteralFallsBackToNaN(t *testing.T) {
	c := New(context.New())
	if err := c.compileExpression(&ast.NumberLiteral{Raw: "not-a-number"}); err != nil {
		t.Fatalf("compileExpression returned an error: %v", err)
	}

	co := c.Code()
	if len(co.Consts) != 1 || !co.Consts[0].IsNumber() {
		t.Fatalf("expected a single numeric constant, got %+v", co.Consts)
	}
	if n := co.Consts[0].NumVal(); n == n {
		t.Errorf("expected NaN, got %v", n)
	}
}

// TestPoolIndicesInRange locks the compiler's totality invariant: every
// LoadConst/LoadName/StoreName index lands inside its pool, and every
// jump target lands inside the instruction stream.
func TestPoolIndicesInRange(t *testing.T) {
	co := compileSource(t, `
		var x = 1;
		function f(a) {
			if (a == x) { return a; } else { return x; }
		}
		var o = new f(x);
		print(o.x + x);
	`)

	validateCodeRanges(t, co)
	for _, c := range co.Consts {
		if c.IsObject() {
			if fn, ok := c.ObjVal().Payload.(*object.UserFunctionPayload); ok {
				validateCodeRanges(t, fn.Code)
			}
		}
	}
}

func validateCodeRanges(t *testing.T, co *object.Code) {
	t.Helper()

	ip := 0
	for ip < len(co.Instrs) {
		op := code.Opcode(co.Instrs[ip])
		def, err := code.Lookup(op)
		if err != nil {
			t.Fatalf("unknown opcode at %d: %v", ip, err)
		}
		operands, width := code.ReadOperands(def, co.Instrs[ip+1:])

		switch op {
		case code.OpLoadConst:
			if operands[0] < 0 || operands[0] >= len(co.Consts) {
				t.Errorf("LoadConst index %d out of range (len=%d)", operands[0], len(co.Consts))
			}
		case code.OpLoadName, code.OpStoreName:
			if operands[0] < 0 || operands[0] >= len(co.Names) {
				t.Errorf("name index %d out of range (len=%d)", operands[0], len(co.Names))
			}
		case code.OpJump, code.OpPopJumpIfFalse:
			if operands[0] < 0 || operands[0] > len(co.Instrs) {
				t.Errorf("jump target %d out of range (len=%d)", operands[0], len(co.Instrs))
			}
		}

		ip += 1 + width
	}
}
