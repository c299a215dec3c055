package graph

import (
	"fmt"

	"github.com/rmax-ai/nshadows/pkg/tensor"
)

// Function is a callable bound to a call_function target. It receives
// the node's positional arguments followed by its kwarg values in
// ascending key order.
type Function func(args ...any) (any, error)

var functions = map[string]Function{
	"add":  binaryTensorFn("add", tensor.Add),
	"mul":  binaryTensorFn("mul", tensor.Mul),
	"relu": unaryTensorFn("relu", tensor.ReLU),
}

// RegisterFunction binds a function target name for call_function
// nodes. Later registrations replace earlier ones.
func RegisterFunction(name string, fn Function) {
	functions[name] = fn
}

// LookupFunction returns the function bound to a call_function target.
func LookupFunction(name string) (Function, bool) {
	fn, ok := functions[name]
	return fn, ok
}

// CallMethodOn dispatches a call_method target against its receiver.
func CallMethodOn(self any, method string, args ...any) (any, error) {
	t, ok := self.(*tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("graph: method %q on unsupported receiver %T", method, self)
	}
	switch method {
	case "add":
		other, err := tensorArg(method, args, 0)
		if err != nil {
			return nil, err
		}
		return tensor.Add(t, other), nil
	case "mul":
		other, err := tensorArg(method, args, 0)
		if err != nil {
			return nil, err
		}
		return tensor.Mul(t, other), nil
	case "relu":
		return tensor.ReLU(t), nil
	case "clone":
		return t.Clone(), nil
	}
	return nil, fmt.Errorf("graph: unknown method target %q", method)
}

func unaryTensorFn(name string, f func(*tensor.Tensor) *tensor.Tensor) Function {
	return func(args ...any) (any, error) {
		x, err := tensorArg(name, args, 0)
		if err != nil {
			return nil, err
		}
		return f(x), nil
	}
}

func binaryTensorFn(name string, f func(a, b *tensor.Tensor) *tensor.Tensor) Function {
	return func(args ...any) (any, error) {
		a, err := tensorArg(name, args, 0)
		if err != nil {
			return nil, err
		}
		b, err := tensorArg(name, args, 1)
		if err != nil {
			return nil, err
		}
		return f(a, b), nil
	}
}

func tensorArg(name string, args []any, idx int) (*tensor.Tensor, error) {
	if idx >= len(args) {
		return nil, fmt.Errorf("graph: %s missing argument %d", name, idx)
	}
	switch v := args[idx].(type) {
	case *tensor.Tensor:
		return v, nil
	case *tensor.Parameter:
		return v.Tensor, nil
	}
	return nil, fmt.Errorf("graph: %s argument %d is %T, want tensor", name, idx, args[idx])
}
