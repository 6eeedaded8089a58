// Package context builds and holds the process-wide prototype graph Lumen
// programs run against: Object/Function/Number/String prototypes, the
// built-in constructor objects linked to them, and the factories the
// compiler and VM use to allocate new Objects.
//
// Implements the Context.new_Function contract and the built-in prototype
// methods as plain structs and exported factory functions, with no
// framework or dependency-injection container involved.
package context

import (
	"fmt"
	"math"
	"strconv"

	"github.com/lumen-lang/lumen/object"
)

// Context owns the four built-in prototypes and their constructor
// objects, plus factories for every Object kind the compiler or VM needs
// to allocate.
type Context struct {
	ObjectPrototype   *object.Object
	FunctionPrototype *object.Object
	NumberPrototype   *object.Object
	StringPrototype   *object.Object

	ObjectCtor   *object.Object
	FunctionCtor *object.Object
	NumberCtor   *object.Object
	StringCtor   *object.Object
}

// New builds a fresh Context with the prototype chain and built-in
// methods installed. Bootstrapping order matters: ObjectPrototype has no
// parent; Function/Number/String prototypes are plain objects linked to
// it; only then are the constructor objects (which point back at
// FunctionPrototype) and the prototype methods installed.
func New() *Context {
	ctx := &Context{}

	ctx.ObjectPrototype = &object.Object{Props: make(map[string]*object.Property), Payload: object.RegularPayload{}}
	ctx.FunctionPrototype = object.NewObject(ctx.ObjectPrototype)
	ctx.NumberPrototype = object.NewObject(ctx.ObjectPrototype)
	ctx.StringPrototype = object.NewObject(ctx.ObjectPrototype)

	objectConstruct := func(vm object.VM, args []object.Value) (object.Value, error) {
		arg := argOrUndefined(args, 0)
		switch {
		case arg.IsUndefined() || arg.IsNull():
			return object.FromObject(ctx.NewObject()), nil
		case arg.IsObject():
			return arg, nil
		case arg.IsNumber():
			return object.FromObject(ctx.NewNumberBox(arg.NumVal())), nil
		case arg.IsString():
			return object.FromObject(ctx.NewStringBox(arg.StrVal())), nil
		default:
			return object.FromObject(ctx.NewObject()), nil
		}
	}
	ctx.ObjectCtor = ctx.newPrimitiveFunction("Object", 1, objectConstruct, objectConstruct)
	ctx.ObjectCtor.DefineOwn("prototype", &object.Property{Value: object.FromObject(ctx.ObjectPrototype), DontEnum: true})

	functionUnsupported := func(vm object.VM, args []object.Value) (object.Value, error) {
		return object.Undefined(), fmt.Errorf("Function constructor is not supported")
	}
	ctx.FunctionCtor = ctx.newPrimitiveFunction("Function", 0, functionUnsupported, functionUnsupported)
	ctx.FunctionCtor.DefineOwn("prototype", &object.Property{Value: object.FromObject(ctx.FunctionPrototype), DontEnum: true})

	numberCall := func(vm object.VM, args []object.Value) (object.Value, error) {
		n, err := vm.ToNumber(argOrUndefined(args, 0))
		if err != nil {
			return object.Undefined(), err
		}
		return object.Num(n), nil
	}
	numberConstruct := func(vm object.VM, args []object.Value) (object.Value, error) {
		n, err := vm.ToNumber(argOrUndefined(args, 0))
		if err != nil {
			return object.Undefined(), err
		}
		return object.FromObject(ctx.NewNumberBox(n)), nil
	}
	ctx.NumberCtor = ctx.newPrimitiveFunction("Number", 1, numberCall, numberConstruct)
	ctx.NumberCtor.DefineOwn("prototype", &object.Property{Value: object.FromObject(ctx.NumberPrototype), DontEnum: true})

	stringCall := func(vm object.VM, args []object.Value) (object.Value, error) {
		s, err := vm.ToString(argOrUndefined(args, 0))
		if err != nil {
			return object.Undefined(), err
		}
		return object.Str(s), nil
	}
	stringConstruct := func(vm object.VM, args []object.Value) (object.Value, error) {
		s, err := vm.ToString(argOrUndefined(args, 0))
		if err != nil {
			return object.Undefined(), err
		}
		return object.FromObject(ctx.NewStringBox(s)), nil
	}
	ctx.StringCtor = ctx.newPrimitiveFunction("String", 1, stringCall, stringConstruct)
	ctx.StringCtor.DefineOwn("prototype", &object.Property{Value: object.FromObject(ctx.StringPrototype), DontEnum: true})

	ctx.installPrototypeMethods()

	return ctx
}

// newPrimitiveFunction allocates a PrimitiveFunction Object linked to
// FunctionPrototype.
func (ctx *Context) newPrimitiveFunction(name string, length int, call, construct object.PrimitiveFn) *object.Object {
	o := object.NewObject(ctx.FunctionPrototype)
	o.Payload = &object.PrimitiveFunctionPayload{Name: name, Call: call, Construct: construct, Length: length}
	return o
}

// NewPrimitiveFunction exposes the same allocation for host built-ins that
// live outside the Context, such as the VM's `print`.
func (ctx *Context) NewPrimitiveFunction(name string, length int, call, construct object.PrimitiveFn) *object.Object {
	return ctx.newPrimitiveFunction(name, length, call, construct)
}

// NewObject allocates a Regular object linked to ObjectPrototype.
func (ctx *Context) NewObject() *object.Object {
	return object.NewObject(ctx.ObjectPrototype)
}

// NewNumberBox allocates a boxed Number object.
func (ctx *Context) NewNumberBox(n float64) *object.Object {
	o := object.NewObject(ctx.NumberPrototype)
	o.Payload = object.NumberBoxPayload{Value: n}
	return o
}

// NewStringBox allocates a boxed String object.
func (ctx *Context) NewStringBox(s string) *object.Object {
	o := object.NewObject(ctx.StringPrototype)
	o.Payload = object.StringBoxPayload{Value: s}
	return o
}

// NewArray packs the given elements into a Regular object with numeric
// string keys "0".."n-1" and an own "length" property. Lumen has no
// dedicated Array prototype; it links the array to ObjectPrototype like
// any other Regular object (see DESIGN.md).
func (ctx *Context) NewArray(elements []object.Value) *object.Object {
	o := ctx.NewObject()
	for i, v := range elements {
		o.Put(fmt.Sprintf("%d", i), v)
	}
	o.DefineOwn("length", &object.Property{Value: object.Num(float64(len(elements))), DontEnum: true})
	return o
}

// NewFunction builds a UserFunction Object with a fresh `prototype`
// object of its own, linked back to ObjectPrototype.
func (ctx *Context) NewFunction(name string, code *object.Code, length int) *object.Object {
	proto := ctx.NewObject()

	fn := object.NewObject(ctx.FunctionPrototype)
	fn.Payload = &object.UserFunctionPayload{Code: code, Length: length, Prototype: proto}
	fn.DefineOwn("prototype", &object.Property{Value: object.FromObject(proto), DontEnum: true})
	if name != "" {
		fn.DefineOwn("name", &object.Property{Value: object.Str(name), ReadOnly: true, DontEnum: true})
	}

	return fn
}

// installPrototypeMethods wires up the built-in prototype methods:
// Object.prototype.{toString,valueOf} and the Number/String analogues.
func (ctx *Context) installPrototypeMethods() {
	define := func(proto *object.Object, name string, length int, fn object.PrimitiveFn) {
		proto.DefineOwn(name, &object.Property{
			Value:    object.FromObject(ctx.newPrimitiveFunction(name, length, fn, nil)),
			DontEnum: true,
		})
	}

	define(ctx.ObjectPrototype, "toString", 0, func(vm object.VM, args []object.Value) (object.Value, error) {
		this := vm.This()
		if !this.IsObject() {
			return object.Undefined(), fmt.Errorf("Object.prototype.toString called on non-object receiver")
		}
		return object.Str("[object Object]"), nil
	})
	define(ctx.ObjectPrototype, "valueOf", 0, func(vm object.VM, args []object.Value) (object.Value, error) {
		return vm.This(), nil
	})

	define(ctx.NumberPrototype, "toString", 0, func(vm object.VM, args []object.Value) (object.Value, error) {
		n, err := numberBoxValue(vm.This())
		if err != nil {
			return object.Undefined(), err
		}
		return object.Str(FormatNumber(n)), nil
	})
	define(ctx.NumberPrototype, "valueOf", 0, func(vm object.VM, args []object.Value) (object.Value, error) {
		n, err := numberBoxValue(vm.This())
		if err != nil {
			return object.Undefined(), err
		}
		return object.Num(n), nil
	})

	define(ctx.StringPrototype, "toString", 0, func(vm object.VM, args []object.Value) (object.Value, error) {
		s, err := stringBoxValue(vm.This())
		if err != nil {
			return object.Undefined(), err
		}
		return object.Str(s), nil
	})
	define(ctx.StringPrototype, "valueOf", 0, func(vm object.VM, args []object.Value) (object.Value, error) {
		s, err := stringBoxValue(vm.This())
		if err != nil {
			return object.Undefined(), err
		}
		return object.Str(s), nil
	})
}

func numberBoxValue(v object.Value) (float64, error) {
	if !v.IsObject() {
		return 0, fmt.Errorf("Number.prototype method called on non-object receiver")
	}
	box, ok := v.ObjVal().Payload.(object.NumberBoxPayload)
	if !ok {
		return 0, fmt.Errorf("Number.prototype method called on non-Number receiver")
	}
	return box.Value, nil
}

func stringBoxValue(v object.Value) (string, error) {
	if !v.IsObject() {
		return "", fmt.Errorf("String.prototype method called on non-object receiver")
	}
	box, ok := v.ObjVal().Payload.(object.StringBoxPayload)
	if !ok {
		return "", fmt.Errorf("String.prototype method called on non-String receiver")
	}
	return box.Value, nil
}

func argOrUndefined(args []object.Value, i int) object.Value {
	if i < len(args) {
		return args[i]
	}
	return object.Undefined()
}

// FormatNumber renders a float64 the way ToString(Number) does: integral
// values print without a trailing ".0", NaN and the infinities print their
// literal names, everything else uses Go's shortest round-tripping form.
func FormatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		return "NaN"
	case math.IsInf(n, 1):
		return "Infinity"
	case math.IsInf(n, -1):
		return "-Infinity"
	case n == math.Trunc(n) && math.Abs(n) < 1e21:
		return strconv.FormatFloat(n, 'f', -1, 64)
	default:
		return strconv.FormatFloat(n, 'g', -1, 64)
	}
}
