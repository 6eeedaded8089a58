package vm

import (
	"bytes"
	"testing"

	"github.com/lumen-lang/lumen/compiler"
	"github.com/lumen-lang/lumen/context"
	"github.com/lumen-lang/lumen/lexer"
	"github.com/lumen-lang/lumen/object"
	"github.com/lumen-lang/lumen/parser"
)

func runSource(t *testing.T, input string) (string, object.Value) {
	t.Helper()

	p := parser.New(lexer.New(input))
	script := p.ParseProgram()
	if errs := p.Errors(); len(errs) != 0 {
		t.Fatalf("parser errors for %q: %v", input, errs)
	}

	ctx := context.New()
	c := compiler.New(ctx)
	if err := c.CompileScript(script); err != nil {
		t.Fatalf("compile error for %q: %v", input, err)
	}

	var out bytes.Buffer
	machine := New(ctx, &out)
	result, err := machine.Run(c.Code())
	if err != nil {
		t.Fatalf("run error for %q: %v", input, err)
	}
	return out.String(), result
}

// TestArithmeticAndPrint exercises the seed scenario of arithmetic
// feeding straight into print.
func TestArithmeticAndPrint(t *testing.T) {
	out, _ := runSource(t, "print(1 + 2);")
	if out != "3\n" {
		t.Errorf("stdout = %q, want %q", out, "3\n")
	}
}

// TestStringConcatenation exercises the seed scenario where `+`
// concatenates once either operand is a String.
func TestStringConcatenation(t *testing.T) {
	out, _ := runSource(t, `print("a" + 1);`)
	if out != "a1\n" {
		t.Errorf("stdout = %q, want %q", out, "a1\n")
	}
}

// TestFunctionCallAndReturn exercises a plain function call returning a
// value that then reaches print.
func TestFunctionCallAndReturn(t *testing.T) {
	out, _ := runSource(t, `
		function add(a, b) { return a + b; }
		print(add(2, 3));
	`)
	if out != "5\n" {
		t.Errorf("stdout = %q, want %q", out, "5\n")
	}
}

// TestMemberCallBindsThis checks that calling a method through a member
// expression binds `this` to the receiver.
func TestMemberCallBindsThis(t *testing.T) {
	out, _ := runSource(t, `
		var o = new Object();
		o.x = 10;
		o.get = function() { return this.x; };
		print(o.get());
	`)
	if out != "10\n" {
		t.Errorf("stdout = %q, want %q", out, "10\n")
	}
}

// TestPrototypeChainLookup checks that a property defined on a prototype
// is visible through an instance built from it.
func TestPrototypeChainLookup(t *testing.T) {
	out, _ := runSource(t, `
		function Base() {}
		Base.prototype.value = 7;
		var b = new Base();
		print(b.value);
	`)
	if out != "7\n" {
		t.Errorf("stdout = %q, want %q", out, "7\n")
	}
}

// TestConditional checks that an if/else picks the right branch.
func TestConditional(t *testing.T) {
	out, _ := runSource(t, `
		if (1 == 1) { print("y"); } else { print("n"); }
	`)
	if out != "y\n" {
		t.Errorf("stdout = %q, want %q", out, "y\n")
	}
}

// TestConditionalFalseBranch exercises the mirror case of the conditional
// seed scenario, so the else arm is not only parsed but proven reachable.
func TestConditionalFalseBranch(t *testing.T) {
	out, _ := runSource(t, `
		if (1 == 2) { print("y"); } else { print("n"); }
	`)
	if out != "n\n" {
		t.Errorf("stdout = %q, want %q", out, "n\n")
	}
}

// TestReceiverIdentityDuringMemberCall locks the thises-stack protocol
// directly: `this` observed inside a.b() is identical (by reference) to
// `a`, not a copy.
func TestReceiverIdentityDuringMemberCall(t *testing.T) {
	out, _ := runSource(t, `
		var a = new Object();
		a.same = function() { return this == a; };
		print(a.same());
	`)
	if out != "true\n" {
		t.Errorf("stdout = %q, want %q", out, "true\n")
	}
}

// TestConstructorWiresPrototype locks the [[Construct]] invariant:
// `new F()` produces an instance whose prototype chain reaches the
// property F.prototype carries, without the call needing to mention it
// explicitly.
func TestConstructorWiresPrototype(t *testing.T) {
	out, _ := runSource(t, `
		function F() {}
		F.prototype.tag = "f";
		var inst = new F();
		print(inst.tag);
	`)
	if out != "f\n" {
		t.Errorf("stdout = %q, want %q", out, "f\n")
	}
}

// TestConstructorBodyAssignsOwnProperties checks that statements executed
// inside the constructor body observe `this` bound to the new instance,
// so assignments like `this.x = ...` land on the object `new` returns.
func TestConstructorBodyAssignsOwnProperties(t *testing.T) {
	out, _ := runSource(t, `
		function Point(x, y) {
			this.x = x;
			this.y = y;
		}
		var p = new Point(3, 4);
		print(p.x + p.y);
	`)
	if out != "7\n" {
		t.Errorf("stdout = %q, want %q", out, "7\n")
	}
}

// TestUndefinedNamePropagatesRuntimeError checks that referencing a name
// nowhere in scope unwinds with an error rather than silently yielding
// Undefined.
func TestUndefinedNamePropagatesRuntimeError(t *testing.T) {
	var out bytes.Buffer
	p := parser.New(lexer.New("print(doesNotExist);"))
	script := p.ParseProgram()
	ctx := context.New()
	c := compiler.New(ctx)
	if err := c.CompileScript(script); err != nil {
		t.Fatalf("compile error: %v", err)
	}
	machine := New(ctx, &out)
	if _, err := machine.Run(c.Code()); err == nil {
		t.Fatal("expected a runtime error for an undefined name, got nil")
	}
}

// TestArrayLiteralElementsAreIndexable checks that an array literal's
// elements land at their numeric-string keys and its length reflects the
// element count, end-to-end through the compiler and VM.
func TestArrayLiteralElementsAreIndexable(t *testing.T) {
	out, _ := runSource(t, `
		var xs = [1, 2, 3];
		print(xs[0] + xs[1] + xs[2]);
		print(xs.length);
	`)
	if out != "6\n3\n" {
		t.Errorf("stdout = %q, want %q", out, "6\n3\n")
	}
}

// TestGlobalAssignmentPersistsAcrossStatements checks that StoreName
// writes through to the same global binding later LoadName reads observe.
func TestGlobalAssignmentPersistsAcrossStatements(t *testing.T) {
	out, _ := runSource(t, `
		var counter = 1;
		counter = counter + 1;
		print(counter);
	`)
	if out != "2\n" {
		t.Errorf("stdout = %q, want %q", out, "2\n")
	}
}

// TestNameAssignmentAsStatementDoesNotUnderflow runs a bare name
// assignment as its own statement, proving StoreName's pushed-back value
// satisfies the trailing Pop an expression statement always emits instead
// of popping an empty data stack.
func TestNameAssignmentAsStatementDoesNotUnderflow(t *testing.T) {
	out, _ := runSource(t, `
		var x;
		x = 1;
		print(x);
	`)
	if out != "1\n" {
		t.Errorf("stdout = %q, want %q", out, "1\n")
	}
}

// TestPropertyAssignmentAsStatementDoesNotUnderflow runs a bare property
// assignment as its own statement, proving StoreProperty's pushed-back
// value satisfies the trailing Pop the same way StoreName's does.
func TestPropertyAssignmentAsStatementDoesNotUnderflow(t *testing.T) {
	out, _ := runSource(t, `
		var o = new Object();
		o.x = 1;
		print(o.x);
	`)
	if out != "1\n" {
		t.Errorf("stdout = %q, want %q", out, "1\n")
	}
}

// TestDefaultValueHintOrdering locks [[DefaultValue]]'s hint-dependent method
// order: the default/number hint tries valueOf before toString, while the
// string hint (the path print's ToString coercion takes) tries toString
// before valueOf.
func TestDefaultValueHintOrdering(t *testing.T) {
	out, _ := runSource(t, `
		var o = new Object();
		o.valueOf = function() { return 5; };
		o.toString = function() { return "s"; };
		print(o + 1);
		print(o);
	`)
	if out != "6\ns\n" {
		t.Errorf("stdout = %q, want %q", out, "6\ns\n")
	}
}
