// Package vm implements Lumen's stack-based interpreter: the dispatch
// loop that executes a Code's instruction stream, the call/construct
// convention, the thises-stack that carries ECMAScript-3-style receiver
// binding, and the coercion algebra (ToBoolean/ToNumber/ToString/
// ToObject/ToPrimitive/DefaultValue) whose Object cases must invoke
// toString/valueOf and therefore need a VM to drive them.
//
// Built around a frame-stack dispatch loop: Lumen has no closures, so a
// Frame carries a plain *Code rather than a compiled-closure value, and
// user function calls re-enter the loop via ordinary Go recursion
// (callCode -> run -> call -> callCode) rather than a pre-resolved
// globals-by-slot array, since LoadName/StoreName address bindings by
// name.
package vm

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/lumen-lang/lumen/code"
	"github.com/lumen-lang/lumen/context"
	"github.com/lumen-lang/lumen/object"
)

// VM is a single interpreter instance: its global scope, thises-stack,
// and throw-stack persist across every Code it runs, which is what lets a
// REPL session accumulate bindings across lines.
type VM struct {
	ctx *context.Context

	callstack []*Frame

	globalScope map[string]object.Value

	// scopes is the local-scope stack. Nothing in this core ever pushes
	// onto it: function bodies resolve locals through LoadArg, not a
	// pushed scope. It is kept so LoadName/StoreName's "innermost local
	// scope, else global" contract has somewhere to look.
	scopes []map[string]object.Value

	thises []object.Value

	throwStack []object.Value

	stdout io.Writer
}

// New builds a VM with a fresh global scope seeded with the built-in
// constructors and `print`.
func New(ctx *context.Context, stdout io.Writer) *VM {
	vm := &VM{
		ctx:         ctx,
		globalScope: make(map[string]object.Value),
		thises:      []object.Value{object.Undefined()},
		stdout:      stdout,
	}

	vm.globalScope["Object"] = object.FromObject(ctx.ObjectCtor)
	vm.globalScope["Function"] = object.FromObject(ctx.FunctionCtor)
	vm.globalScope["Number"] = object.FromObject(ctx.NumberCtor)
	vm.globalScope["String"] = object.FromObject(ctx.StringCtor)

	print := ctx.NewPrimitiveFunction("print", 0, func(pvm object.VM, args []object.Value) (object.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			s, err := pvm.ToString(a)
			if err != nil {
				return object.Undefined(), err
			}
			parts[i] = s
		}
		fmt.Fprintln(vm.stdout, strings.Join(parts, " "))
		return object.Undefined(), nil
	}, nil)
	vm.globalScope["print"] = object.FromObject(print)

	return vm
}

// GlobalScope exposes the live global-name bindings, letting a REPL
// inspect state between lines.
func (vm *VM) GlobalScope() map[string]object.Value { return vm.globalScope }

// SetStdout redirects where print writes. The REPL points this at a
// per-line buffer so a line's output lands in its history entry instead
// of the process stdout bubbletea owns.
func (vm *VM) SetStdout(w io.Writer) { vm.stdout = w }

// Run executes a compiled script to completion and returns the value a
// top-level Return delivers, or else whatever is left on the data stack
// when the instructions run out (the trailing expression's value for Code
// compiled with CompileScriptForResult or CompileLine), or Undefined if
// nothing is left, along with any unwinding error.
func (vm *VM) Run(co *object.Code) (object.Value, error) {
	return vm.callCode(co, 0, nil)
}

// callCode pushes a new frame whose data stack holds the arguments padded
// to arity, drives the dispatch loop to completion, and pops the frame
// again.
func (vm *VM) callCode(co *object.Code, arity int, args []object.Value) (object.Value, error) {
	frame := newFrame(co, arity, args)
	vm.callstack = append(vm.callstack, frame)
	v, err := vm.run(frame)
	vm.callstack = vm.callstack[:len(vm.callstack)-1]
	return v, err
}

// run is the dispatch loop: while the frame has instructions left, fetch,
// advance, execute. It returns when Return executes, when the frame falls
// off the end, or when an error unwinds it. Falling off the end yields
// whatever is left on the data stack above Arity — ordinary Code always
// pops back down to Arity before running out of instructions, so this is
// Undefined in practice, except for Code compiled to keep a trailing
// expression statement's value (CompileScriptForResult, CompileLine).
// Calling a user function re-enters this same loop through callCode,
// recursively on the Go call stack.
func (vm *VM) run(frame *Frame) (object.Value, error) {
	for {
		if frame.IP >= len(frame.Code.Instrs) {
			if len(frame.Data) > frame.Arity {
				return frame.pop(), nil
			}
			return object.Undefined(), nil
		}

		ins := frame.Code.Instrs
		op := code.Opcode(ins[frame.IP])
		frame.IP++

		switch op {
		case code.OpLoadUndefined:
			frame.push(object.Undefined())

		case code.OpLoadNull:
			frame.push(object.Null())

		case code.OpLoadBool:
			b := code.ReadUint8(ins[frame.IP:])
			frame.IP++
			frame.push(object.Bool(b == 1))

		case code.OpLoadConst:
			idx := code.ReadUint16(ins[frame.IP:])
			frame.IP += 2
			frame.push(frame.Code.Consts[idx])

		case code.OpLoadName:
			idx := code.ReadUint16(ins[frame.IP:])
			frame.IP += 2
			v, err := vm.lookupName(frame.Code.Names[idx])
			if err != nil {
				return object.Undefined(), err
			}
			frame.push(v)

		case code.OpStoreName:
			idx := code.ReadUint16(ins[frame.IP:])
			frame.IP += 2
			v := frame.pop()
			vm.storeName(frame.Code.Names[idx], v)
			frame.push(v)

		case code.OpLoadArg:
			slot := int(code.ReadUint8(ins[frame.IP:]))
			frame.IP++
			if slot < len(frame.Data) {
				frame.push(frame.Data[slot])
			} else {
				frame.push(object.Undefined())
			}

		case code.OpLoadThis:
			frame.push(vm.This())

		case code.OpPushThis:
			vm.thises = append(vm.thises, frame.Data[len(frame.Data)-1])

		case code.OpPopThis:
			vm.thises = vm.thises[:len(vm.thises)-1]

		case code.OpLoadProperty:
			key := frame.pop()
			keyStr, err := vm.ToString(key)
			if err != nil {
				return object.Undefined(), err
			}
			recv := frame.pop()
			o, err := vm.ToObject(recv)
			if err != nil {
				return object.Undefined(), err
			}
			vm.thises = append(vm.thises, object.FromObject(o))
			val := o.Get(keyStr)
			vm.thises = vm.thises[:len(vm.thises)-1]
			frame.push(val)

		case code.OpStoreProperty:
			key := frame.pop()
			keyStr, err := vm.ToString(key)
			if err != nil {
				return object.Undefined(), err
			}
			lvalue := frame.pop()
			rvalue := frame.pop()
			o, err := vm.ToObject(lvalue)
			if err != nil {
				return object.Undefined(), err
			}
			if o.CanPut(keyStr) {
				o.Put(keyStr, rvalue)
			}
			frame.push(rvalue)

		case code.OpBinAdd:
			b := frame.pop()
			a := frame.pop()
			v, err := vm.add(a, b)
			if err != nil {
				return object.Undefined(), err
			}
			frame.push(v)

		case code.OpBinSub:
			b := frame.pop()
			a := frame.pop()
			na, err := vm.ToNumber(a)
			if err != nil {
				return object.Undefined(), err
			}
			nb, err := vm.ToNumber(b)
			if err != nil {
				return object.Undefined(), err
			}
			frame.push(object.Num(na - nb))

		case code.OpBinEq:
			b := frame.pop()
			a := frame.pop()
			frame.push(object.Bool(object.LooseEquals(a, b)))

		case code.OpCall:
			nargs := int(code.ReadUint8(ins[frame.IP:]))
			frame.IP++
			callee := frame.pop()
			args := vm.popArgs(frame, nargs)
			result, err := vm.call(callee, args)
			if err != nil {
				return object.Undefined(), err
			}
			frame.push(result)

		case code.OpNew:
			nargs := int(code.ReadUint8(ins[frame.IP:]))
			frame.IP++
			callee := frame.pop()
			args := vm.popArgs(frame, nargs)
			result, err := vm.construct(callee, args)
			if err != nil {
				return object.Undefined(), err
			}
			frame.push(result)

		case code.OpMakeArray:
			n := int(code.ReadUint16(ins[frame.IP:]))
			frame.IP += 2
			elements := vm.popArgs(frame, n)
			frame.push(object.FromObject(vm.ctx.NewArray(elements)))

		case code.OpPopJumpIfFalse:
			target := int(code.ReadUint16(ins[frame.IP:]))
			frame.IP += 2
			if !object.ToBoolean(frame.pop()) {
				frame.IP = target
			}

		case code.OpJump:
			target := int(code.ReadUint16(ins[frame.IP:]))
			frame.IP = target

		case code.OpReturn:
			return frame.pop(), nil

		case code.OpThrow:
			v := frame.pop()
			vm.throwStack = append(vm.throwStack, v)
			msg, _ := vm.ToString(v)
			return object.Undefined(), &ThrownError{Value: v, Message: "uncaught: " + msg}

		case code.OpPop:
			frame.pop()

		default:
			return object.Undefined(), runtimeErrorf("vm: unknown opcode %d", op)
		}
	}
}

// popArgs pops the top n values off frame's data stack, returning them in
// original (bottom-to-top) order.
func (vm *VM) popArgs(frame *Frame, n int) []object.Value {
	args := make([]object.Value, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = frame.pop()
	}
	return args
}

// call implements [[Call]]: dispatch on the callee's payload.
func (vm *VM) call(callee object.Value, args []object.Value) (object.Value, error) {
	if !callee.IsObject() {
		return object.Undefined(), runtimeErrorf("Object not callable")
	}
	switch p := callee.ObjVal().Payload.(type) {
	case *object.UserFunctionPayload:
		return vm.callCode(p.Code, p.Length, args)
	case *object.PrimitiveFunctionPayload:
		if p.Call == nil {
			return object.Undefined(), runtimeErrorf("Object not callable")
		}
		return p.Call(vm, args)
	default:
		return object.Undefined(), runtimeErrorf("Object not callable")
	}
}

// construct implements [[Construct]].
func (vm *VM) construct(callee object.Value, args []object.Value) (object.Value, error) {
	if !callee.IsObject() {
		return object.Undefined(), runtimeErrorf("Object not constructible")
	}
	switch p := callee.ObjVal().Payload.(type) {
	case *object.UserFunctionPayload:
		instance := object.NewObject(p.Prototype)
		instVal := object.FromObject(instance)
		vm.thises = append(vm.thises, instVal)
		_, err := vm.callCode(p.Code, p.Length, args)
		vm.thises = vm.thises[:len(vm.thises)-1]
		if err != nil {
			return object.Undefined(), err
		}
		return instVal, nil
	case *object.PrimitiveFunctionPayload:
		if p.Construct == nil {
			return object.Undefined(), runtimeErrorf("Object not constructible")
		}
		return p.Construct(vm, args)
	default:
		return object.Undefined(), runtimeErrorf("Object not constructible")
	}
}

// This returns the current receiver: the top of the thises-stack.
func (vm *VM) This() object.Value {
	return vm.thises[len(vm.thises)-1]
}

func (vm *VM) lookupName(name string) (object.Value, error) {
	for i := len(vm.scopes) - 1; i >= 0; i-- {
		if v, ok := vm.scopes[i][name]; ok {
			return v, nil
		}
	}
	if v, ok := vm.globalScope[name]; ok {
		return v, nil
	}
	return object.Undefined(), runtimeErrorf("NameError: '%s' not found", name)
}

func (vm *VM) storeName(name string, v object.Value) {
	for i := len(vm.scopes) - 1; i >= 0; i-- {
		if _, ok := vm.scopes[i][name]; ok {
			vm.scopes[i][name] = v
			return
		}
	}
	vm.globalScope[name] = v
}

// add implements `+` with full coercion: ToPrimitive both sides, then
// string-concatenate if either is a String, else numeric add.
func (vm *VM) add(a, b object.Value) (object.Value, error) {
	pa, err := vm.ToPrimitive(a, "")
	if err != nil {
		return object.Undefined(), err
	}
	pb, err := vm.ToPrimitive(b, "")
	if err != nil {
		return object.Undefined(), err
	}
	if pa.IsString() || pb.IsString() {
		sa, err := vm.ToString(pa)
		if err != nil {
			return object.Undefined(), err
		}
		sb, err := vm.ToString(pb)
		if err != nil {
			return object.Undefined(), err
		}
		return object.Str(sa + sb), nil
	}
	na, err := vm.ToNumber(pa)
	if err != nil {
		return object.Undefined(), err
	}
	nb, err := vm.ToNumber(pb)
	if err != nil {
		return object.Undefined(), err
	}
	return object.Num(na + nb), nil
}

// ToNumber implements the ToNumber coercion. The Object case calls
// ToPrimitive with a Number hint, which may in turn invoke valueOf/
// toString — the reason this lives on VM rather than in the object
// package.
func (vm *VM) ToNumber(v object.Value) (float64, error) {
	switch v.Kind() {
	case object.KindUndefined:
		return math.NaN(), nil
	case object.KindNull:
		return 0, nil
	case object.KindNumber:
		return v.NumVal(), nil
	case object.KindBoolean:
		if v.BoolVal() {
			return 1, nil
		}
		return 0, nil
	case object.KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.StrVal()), 64)
		if err != nil {
			// Lumen chooses the ECMAScript-3-faithful NaN here over a
			// lenient 0 (see DESIGN.md).
			return math.NaN(), nil
		}
		return n, nil
	case object.KindObject:
		prim, err := vm.ToPrimitive(v, "number")
		if err != nil {
			return 0, err
		}
		if prim.IsObject() {
			return 0, runtimeErrorf("runtime error: cannot convert object to number")
		}
		return vm.ToNumber(prim)
	default:
		return math.NaN(), nil
	}
}

// ToString implements the ToString coercion, mirroring ToNumber's shape.
func (vm *VM) ToString(v object.Value) (string, error) {
	switch v.Kind() {
	case object.KindUndefined:
		return "undefined", nil
	case object.KindNull:
		return "null", nil
	case object.KindBoolean:
		if v.BoolVal() {
			return "true", nil
		}
		return "false", nil
	case object.KindNumber:
		return context.FormatNumber(v.NumVal()), nil
	case object.KindString:
		return v.StrVal(), nil
	case object.KindObject:
		prim, err := vm.ToPrimitive(v, "string")
		if err != nil {
			return "", err
		}
		if prim.IsObject() {
			return "", runtimeErrorf("runtime error: cannot convert object to string")
		}
		return vm.ToString(prim)
	default:
		return "", nil
	}
}

// ToObject implements the ToObject coercion: objects pass through,
// Numbers/Strings box, Booleans box into a plain carrier object (the
// boolean case is optional and has no dedicated prototype — see
// DESIGN.md), Undefined/Null are a runtime error.
func (vm *VM) ToObject(v object.Value) (*object.Object, error) {
	switch v.Kind() {
	case object.KindObject:
		return v.ObjVal(), nil
	case object.KindNumber:
		return vm.ctx.NewNumberBox(v.NumVal()), nil
	case object.KindString:
		return vm.ctx.NewStringBox(v.StrVal()), nil
	case object.KindBoolean:
		o := vm.ctx.NewObject()
		o.DefineOwn("value", &object.Property{Value: v, Internal: true, DontEnum: true})
		return o, nil
	default:
		return nil, runtimeErrorf("runtime error: cannot convert %s to object", v.Kind())
	}
}

// ToPrimitive implements the ToPrimitive coercion: primitives return
// themselves; objects delegate to DefaultValue with the given hint
// ("number", "string", or "" for the default ordering).
func (vm *VM) ToPrimitive(v object.Value, hint string) (object.Value, error) {
	if !v.IsObject() {
		return v, nil
	}
	return vm.defaultValue(v.ObjVal(), hint)
}

// defaultValue implements [[DefaultValue]]: with hint "string" try
// toString() then valueOf(); otherwise try valueOf() then toString().
// Each attempt that returns a primitive wins; if both yield an Object,
// it is a runtime error.
func (vm *VM) defaultValue(o *object.Object, hint string) (object.Value, error) {
	methods := [2]string{"valueOf", "toString"}
	if hint == "string" {
		methods = [2]string{"toString", "valueOf"}
	}

	for _, name := range methods {
		m := o.Get(name)
		if !m.IsObject() {
			continue
		}
		vm.thises = append(vm.thises, object.FromObject(o))
		res, err := vm.call(m, nil)
		vm.thises = vm.thises[:len(vm.thises)-1]
		if err != nil {
			return object.Undefined(), err
		}
		if !res.IsObject() {
			return res, nil
		}
	}

	return object.Undefined(), runtimeErrorf("runtime error: cannot convert object to primitive")
}
