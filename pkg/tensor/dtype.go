package tensor

// Dtype names an element type carried through graphs as a plain
// argument, e.g. a cast target. The backing storage here is always
// float64; dtypes are metadata for quantization decisions.
type Dtype string

const (
	Float64 Dtype = "float64"
	Float32 Dtype = "float32"
	Int8    Dtype = "int8"
	Uint8   Dtype = "uint8"
)
