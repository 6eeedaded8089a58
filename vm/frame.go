package vm

import "github.com/lumen-lang/lumen/object"

// Frame is a per-call activation record: a program counter into a Code's
// instruction stream and a data stack. The first Arity slots of Data hold
// the call's arguments and are never popped below; LoadArg reads them by
// direct index rather than relative to the current stack top.
type Frame struct {
	Code  *object.Code
	IP    int
	Data  []object.Value
	Arity int
}

func newFrame(co *object.Code, arity int, args []object.Value) *Frame {
	data := make([]object.Value, arity)
	for i := range data {
		if i < len(args) {
			data[i] = args[i]
		} else {
			data[i] = object.Undefined()
		}
	}
	return &Frame{Code: co, Data: data, Arity: arity}
}

func (f *Frame) push(v object.Value) {
	f.Data = append(f.Data, v)
}

func (f *Frame) pop() object.Value {
	v := f.Data[len(f.Data)-1]
	f.Data = f.Data[:len(f.Data)-1]
	return v
}
