package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Tensor is one trainable layer: a flat value buffer plus the shape it was created with.
type Tensor struct {
	Shape []int     `toml:"shape" json:"shape"`
	Data  []float64 `toml:"data" json:"data"`
}

// NewTensor allocates a zero-filled tensor of the given shape.
func NewTensor(shape ...int) Tensor {
	return Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float64, shapeSize(shape)),
	}
}

// Validate checks that the buffer length agrees with the shape.
func (t Tensor) Validate() error {
	if len(t.Shape) == 0 {
		return fmt.Errorf("tensor has no shape: %w", ErrShapeMismatch)
	}
	for _, dim := range t.Shape {
		if dim < 1 {
			return fmt.Errorf("tensor dimension %d in %v: %w", dim, t.Shape, ErrShapeMismatch)
		}
	}
	if size := shapeSize(t.Shape); size != len(t.Data) {
		return fmt.Errorf("tensor shape %v needs %d values, has %d: %w", t.Shape, size, len(t.Data), ErrShapeMismatch)
	}
	return nil
}

func (t Tensor) clone() Tensor {
	return Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
	}
}

func (t Tensor) sameShape(other Tensor) bool {
	if len(t.Shape) != len(other.Shape) || len(t.Data) != len(other.Data) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

// ParameterVector is the ordered set of layers of a model.
type ParameterVector []Tensor

// Clone returns a deep copy; the result shares no buffers with pv.
func (pv ParameterVector) Clone() ParameterVector {
	if pv == nil {
		return nil
	}
	out := make(ParameterVector, len(pv))
	for i, layer := range pv {
		out[i] = layer.clone()
	}
	return out
}

// ZerosLike returns a vector with pv's structure and all values zero.
func (pv ParameterVector) ZerosLike() ParameterVector {
	out := make(ParameterVector, len(pv))
	for i, layer := range pv {
		out[i] = NewTensor(layer.Shape...)
	}
	return out
}

// CheckShape returns ErrShapeMismatch if other does not have exactly pv's layer structure.
func (pv ParameterVector) CheckShape(other ParameterVector) error {
	if len(pv) != len(other) {
		return fmt.Errorf("expected %d layers, got %d: %w", len(pv), len(other), ErrShapeMismatch)
	}
	for i := range pv {
		if !pv[i].sameShape(other[i]) {
			return fmt.Errorf("layer %d: expected shape %v, got %v: %w", i, pv[i].Shape, other[i].Shape, ErrShapeMismatch)
		}
	}
	return nil
}

// Validate checks every layer's buffer against its declared shape.
func (pv ParameterVector) Validate() error {
	if len(pv) == 0 {
		return fmt.Errorf("parameter vector has no layers: %w", ErrShapeMismatch)
	}
	for i, layer := range pv {
		if err := layer.Validate(); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return nil
}

// CheckFinite returns ErrNumeric on the first NaN or infinite value.
func (pv ParameterVector) CheckFinite() error {
	for i, layer := range pv {
		for j, v := range layer.Data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("layer %d index %d is %v: %w", i, j, v, ErrNumeric)
			}
		}
	}
	return nil
}

// Equal reports whether both vectors have the same structure and identical values.
func (pv ParameterVector) Equal(other ParameterVector) bool {
	if pv.CheckShape(other) != nil {
		return false
	}
	for i := range pv {
		if !floats.Equal(pv[i].Data, other[i].Data) {
			return false
		}
	}
	return true
}

// EqualApprox is Equal with an absolute/relative tolerance per value.
func (pv ParameterVector) EqualApprox(other ParameterVector, tol float64) bool {
	if pv.CheckShape(other) != nil {
		return false
	}
	for i := range pv {
		if !floats.EqualApprox(pv[i].Data, other[i].Data, tol) {
			return false
		}
	}
	return true
}

// AddScaled performs pv += alpha * other in place. Shapes must already match.
func (pv ParameterVector) AddScaled(alpha float64, other ParameterVector) {
	for i := range pv {
		floats.AddScaled(pv[i].Data, alpha, other[i].Data)
	}
}

// Scale multiplies every value by c in place.
func (pv ParameterVector) Scale(c float64) {
	for i := range pv {
		floats.Scale(c, pv[i].Data)
	}
}

// NumParams is the total count of scalar parameters.
func (pv ParameterVector) NumParams() int {
	n := 0
	for _, layer := range pv {
		n += len(layer.Data)
	}
	return n
}

// L2Distance is the euclidean distance between two vectors of equal structure.
func (pv ParameterVector) L2Distance(other ParameterVector) (float64, error) {
	if err := pv.CheckShape(other); err != nil {
		return 0, err
	}
	sum := 0.0
	for i := range pv {
		d := floats.Distance(pv[i].Data, other[i].Data, 2)
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

func shapeSize(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}
