// Package object implements Lumen's value and object model: the tagged
// Value union, prototype-linked Objects, and the compiled Code unit that
// Objects of kind UserFunction carry around.
//
// Value and Object are defined in the same package because they are
// mutually recursive (a Value may hold an *Object; an Object's payload may
// hold Values), and Code joins them here too since a compiled unit bundles
// an instruction stream with its constant pool of Values. The `code` package
// underneath only knows about raw bytes and stays import-free of this one.
//
// Calling behaviour — [[Call]], [[Construct]], and the coercions that must
// invoke toString/valueOf — is deliberately NOT implemented here: those
// need a VM to drive execution, and live as methods on the vm package's
// interpreter instead. This package only implements what is total and
// call-free: property lookup, the primitive coercions, and loose equality.
package object

import "github.com/lumen-lang/lumen/code"

// Kind tags a Value's active representation.
type Kind int

const (
	KindUndefined Kind = iota
	KindNull
	KindBoolean
	KindNumber
	KindString
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is Lumen's tagged value union: Undefined, Null, Boolean, Number,
// String, or a reference to an Object.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	obj  *Object
}

// Undefined is the Undefined value.
func Undefined() Value { return Value{kind: KindUndefined} }

// Null is the Null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a Go bool into a Boolean Value.
func Bool(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Num wraps a float64 into a Number Value.
func Num(n float64) Value { return Value{kind: KindNumber, n: n} }

// Str wraps a string into a String Value.
func Str(s string) Value { return Value{kind: KindString, s: s} }

// FromObject wraps an Object reference into a Value.
func FromObject(o *Object) Value { return Value{kind: KindObject, obj: o} }

// Kind reports the Value's active representation.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) IsBoolean() bool   { return v.kind == KindBoolean }
func (v Value) IsNumber() bool    { return v.kind == KindNumber }
func (v Value) IsString() bool    { return v.kind == KindString }
func (v Value) IsObject() bool    { return v.kind == KindObject }

// BoolVal returns the Value's boolean payload. Only meaningful when
// Kind() == KindBoolean.
func (v Value) BoolVal() bool { return v.b }

// NumVal returns the Value's numeric payload. Only meaningful when
// Kind() == KindNumber.
func (v Value) NumVal() float64 { return v.n }

// StrVal returns the Value's string payload. Only meaningful when
// Kind() == KindString.
func (v Value) StrVal() string { return v.s }

// ObjVal returns the Value's Object reference. Only meaningful when
// Kind() == KindObject.
func (v Value) ObjVal() *Object { return v.obj }

// ToBoolean implements ToBoolean, which is total: Undefined/Null are
// false, a Boolean is itself, a Number is false iff it is NaN or zero, a
// non-empty String is true, and an Object is always true.
func ToBoolean(v Value) bool {
	switch v.kind {
	case KindUndefined, KindNull:
		return false
	case KindBoolean:
		return v.b
	case KindNumber:
		return v.n != 0 && v.n == v.n
	case KindString:
		return len(v.s) > 0
	case KindObject:
		return true
	default:
		return false
	}
}

// LooseEquals implements the `==` comparison for values that are either
// both primitive or both identical objects. NaN never equals itself; same
// primitive kind compares by value; null equals undefined; object values
// equal only by identity. A primitive compared against a kind it cannot be
// compared to, or a primitive against an object, is false — this
// cross-kind case is otherwise unspecified; Lumen resolves it to false
// rather than attempting further coercion.
func LooseEquals(a, b Value) bool {
	if (a.kind == KindUndefined || a.kind == KindNull) &&
		(b.kind == KindUndefined || b.kind == KindNull) {
		return true
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindUndefined, KindNull:
		return true
	case KindBoolean:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindObject:
		return a.obj == b.obj
	default:
		return false
	}
}

// Property is a single named slot on an Object.
type Property struct {
	Value      Value
	ReadOnly   bool
	DontEnum   bool
	DontDelete bool
	Internal   bool
}

// Payload is the behavioural variant an Object carries. The five concrete
// kinds are Regular, NumberBox, StringBox, UserFunction, PrimitiveFunction.
type Payload interface {
	payload()
}

// RegularPayload is a plain object with no special internal state: plain
// objects, Array instances, and constructed instances all use it.
type RegularPayload struct{}

func (RegularPayload) payload() {}

// NumberBoxPayload is the payload of a boxed Number object (`new Number(n)`
// or the implicit box ToObject produces for a Number primitive).
type NumberBoxPayload struct {
	Value float64
}

func (NumberBoxPayload) payload() {}

// StringBoxPayload is the payload of a boxed String object.
type StringBoxPayload struct {
	Value string
}

func (StringBoxPayload) payload() {}

// UserFunctionPayload is a function defined in Lumen source: a compiled
// Code body, its declared parameter count, and the `prototype` object new
// instances link to.
type UserFunctionPayload struct {
	Code      *Code
	Length    int
	Prototype *Object
}

func (*UserFunctionPayload) payload() {}

// VM is the minimal capability a PrimitiveFn needs from the interpreter:
// the current receiver and the coercions that require calling into Lumen
// methods. It is satisfied structurally by the vm package's interpreter,
// which keeps this package free of any import on it.
type VM interface {
	This() Value
	ToString(Value) (string, error)
	ToNumber(Value) (float64, error)
	ToPrimitive(Value, string) (Value, error)
}

// PrimitiveFn is a host-implemented function body.
type PrimitiveFn func(vm VM, args []Value) (Value, error)

// PrimitiveFunctionPayload is a host (Go) built-in, optionally also usable
// as a constructor.
type PrimitiveFunctionPayload struct {
	Name      string
	Call      PrimitiveFn
	Construct PrimitiveFn // nil if not constructible
	Length    int
	Prototype *Object
}

func (*PrimitiveFunctionPayload) payload() {}

// Object is a prototype-linked bag of properties plus a behavioural
// payload.
type Object struct {
	Proto   *Object
	Props   map[string]*Property
	Payload Payload
}

// NewObject allocates a Regular object linked to the given prototype
// (which may be nil, terminating the chain).
func NewObject(proto *Object) *Object {
	return &Object{Proto: proto, Props: make(map[string]*Property), Payload: RegularPayload{}}
}

// Get implements [[Get]]: an own property wins; otherwise the lookup
// delegates to the prototype; absent anywhere, Undefined.
func (o *Object) Get(key string) Value {
	for cur := o; cur != nil; cur = cur.Proto {
		if p, ok := cur.Props[key]; ok {
			return p.Value
		}
	}
	return Undefined()
}

// Put implements [[Put]]: unconditionally writes a fresh writable,
// enumerable, deletable own property — callers that need to
// honour [[CanPut]] check it themselves first.
func (o *Object) Put(key string, v Value) {
	o.Props[key] = &Property{Value: v}
}

// CanPut implements [[CanPut]]: false only if an ancestor (including o
// itself) already holds a read-only property of that name.
func (o *Object) CanPut(key string) bool {
	for cur := o; cur != nil; cur = cur.Proto {
		if p, ok := cur.Props[key]; ok {
			return !p.ReadOnly
		}
	}
	return true
}

// HasProperty implements [[HasProperty]] by walking the prototype chain
// (the ECMAScript-3-faithful behaviour), rather than restricting the
// check to own properties.
func (o *Object) HasProperty(key string) bool {
	for cur := o; cur != nil; cur = cur.Proto {
		if _, ok := cur.Props[key]; ok {
			return true
		}
	}
	return false
}

// DefineOwn installs an own property directly with caller-chosen
// attributes, instead of [[Put]]'s fixed writable/enumerable/deletable
// ones; like [[Put]], it overwrites any existing own property of that
// name — used during bootstrapping to mark
// built-in methods DontEnum, and by the compiler-facing Context factories.
func (o *Object) DefineOwn(key string, p *Property) {
	o.Props[key] = p
}

// Code is an immutable compiled unit: an instruction stream plus the
// constant and name pools its operands index into.
type Code struct {
	Instrs code.Instructions
	Consts []Value
	Names  []string
}
