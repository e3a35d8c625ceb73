// Package tensor holds the fixed-shape float32 buffers passed between the
// preprocessor and the model runtime.
package tensor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrShape is returned when a tensor does not match the shape a consumer requires.
var ErrShape = errors.New("tensor shape mismatch")

// Shape lists dimension sizes, outermost first.
type Shape []int64

// Size returns the number of elements a tensor of this shape holds.
func (s Shape) Size() int64 {
	if len(s) == 0 {
		return 0
	}
	size := int64(1)
	for _, dim := range s {
		size *= dim
	}
	return size
}

// Equal reports whether both shapes have the same dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, dim := range s {
		parts[i] = strconv.FormatInt(dim, 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Tensor is a dense row-major float32 buffer with a declared shape.
// A tensor has a single owner; once Release is called its data is gone.
type Tensor struct {
	shape Shape
	data  []float32
}

// New wraps data in a tensor of the given shape. The length of data must
// match the shape exactly. The tensor takes ownership of data.
func New(shape Shape, data []float32) (*Tensor, error) {
	if int64(len(data)) != shape.Size() {
		return nil, fmt.Errorf("%w: %d values cannot fill shape %s (%d values)",
			ErrShape, len(data), shape, shape.Size())
	}
	return &Tensor{shape: append(Shape(nil), shape...), data: data}, nil
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape Shape) *Tensor {
	return &Tensor{shape: append(Shape(nil), shape...), data: make([]float32, shape.Size())}
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() Shape {
	return append(Shape(nil), t.shape...)
}

// Data exposes the backing slice. It is nil after Release.
func (t *Tensor) Data() []float32 {
	return t.data
}

// Released reports whether Release has been called.
func (t *Tensor) Released() bool {
	return t.data == nil
}

// Release drops the backing buffer. Calling it more than once is a no-op.
func (t *Tensor) Release() {
	t.data = nil
}

// Expect checks that the tensor is live and has exactly the wanted shape.
func (t *Tensor) Expect(want Shape) error {
	if t == nil || t.Released() {
		return fmt.Errorf("%w: tensor has been released", ErrShape)
	}
	if !t.shape.Equal(want) {
		return fmt.Errorf("%w: got %s, want %s", ErrShape, t.shape, want)
	}
	return nil
}
