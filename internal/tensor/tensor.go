// Package tensor holds the dense float32 tensors exchanged between the engine,
// the model and neighbouring pipeline shards, and the tagged forward-pass
// input and output values built on top of them.
package tensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrShape reports a tensor whose shape does not fit an operation.
var ErrShape = errors.New("tensor: shape mismatch")

// Tensor is a dense row-major float32 tensor.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zero tensor of the given shape.
func New(shape ...int) *Tensor {
	n, err := numel(shape)
	if err != nil {
		panic(err)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, n)}
}

// FromData wraps data with shape; len(data) must equal the product of shape.
func FromData(data []float32, shape ...int) (*Tensor, error) {
	n, err := numel(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: shape %v wants %d values, got %d", ErrShape, shape, n, len(data))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

func numel(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", ErrShape)
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: non-positive dimension in %v", ErrShape, shape)
		}
		if d > math.MaxInt/n {
			return 0, fmt.Errorf("%w: %v overflows the element count", ErrShape, shape)
		}
		n *= d
	}
	return n, nil
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Size returns the number of elements.
func (t *Tensor) Size() int { return len(t.Data) }

// Dim returns dimension i; negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

// Validate checks that Data matches Shape.
func (t *Tensor) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil tensor", ErrShape)
	}
	n, err := numel(t.Shape)
	if err != nil {
		return err
	}
	if n != len(t.Data) {
		return fmt.Errorf("%w: shape %v wants %d values, got %d", ErrShape, t.Shape, n, len(t.Data))
	}
	return nil
}

// LastPositions returns, for each batch row, the vector at the final
// sequence position: t[:, -1] for rank 3 [batch, seq, dim], or each row
// for rank 2 [batch, dim]. The returned slices alias t.Data.
func (t *Tensor) LastPositions() ([][]float32, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	switch t.Rank() {
	case 2:
		batch, dim := t.Shape[0], t.Shape[1]
		rows := make([][]float32, batch)
		for b := range rows {
			rows[b] = t.Data[b*dim : (b+1)*dim]
		}
		return rows, nil
	case 3:
		batch, seq, dim := t.Shape[0], t.Shape[1], t.Shape[2]
		rows := make([][]float32, batch)
		for b := range rows {
			off := (b*seq + seq - 1) * dim
			rows[b] = t.Data[off : off+dim]
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("%w: want rank 2 or 3, got shape %v", ErrShape, t.Shape)
	}
}
