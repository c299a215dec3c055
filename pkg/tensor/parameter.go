package tensor

// Parameter is a learned tensor owned by a module. Extraction treats
// parameter-valued arguments differently from plain literals: they are
// cloned and detached into the candidate unit so the unit never shares
// mutable state with its source graph.
type Parameter struct {
	*Tensor
}

// NewParameter wraps t as a learned parameter. The tensor is not copied.
func NewParameter(t *Tensor) *Parameter {
	return &Parameter{Tensor: t}
}

// Detach returns a deep copy of the parameter's values as a plain
// tensor, with no remaining tie to the owning module.
func (p *Parameter) Detach() *Tensor {
	return p.Tensor.Clone()
}
