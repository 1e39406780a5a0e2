package register

import (
	"errors"
	"fmt"
	"math"
)

// ErrShapeMismatch is returned when tensor shapes are incompatible with the
// requested operation, or when a data buffer does not match its shape.
var ErrShapeMismatch = errors.New("register: shape mismatch")

// Tensor is a rank-2 tensor of float64 values in row-major order.
// Vectors are represented as 1×n tensors. The flat buffer length always
// equals Rows*Cols.
type Tensor struct {
	Rows int
	Cols int
	Data []float64
}

// NewTensor allocates a zero-filled tensor with the given shape.
func NewTensor(rows, cols int) (*Tensor, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: invalid shape %dx%d", ErrShapeMismatch, rows, cols)
	}
	return &Tensor{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}, nil
}

// NewTensorFrom wraps an existing buffer. The buffer length must equal the
// product of the shape.
func NewTensorFrom(data []float64, rows, cols int) (*Tensor, error) {
	if rows <= 0 || cols <= 0 || len(data) != rows*cols {
		return nil, fmt.Errorf("%w: %d elements for shape %dx%d", ErrShapeMismatch, len(data), rows, cols)
	}
	return &Tensor{Rows: rows, Cols: cols, Data: data}, nil
}

// Shape returns the dimension sizes in order.
func (t *Tensor) Shape() []int {
	return []int{t.Rows, t.Cols}
}

// Len returns the element count.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// At returns the element at (row, col). Bounds are the caller's problem;
// instruction handlers validate indices before calling.
func (t *Tensor) At(row, col int) float64 {
	return t.Data[row*t.Cols+col]
}

// SetAt stores a value at (row, col).
func (t *Tensor) SetAt(row, col int, v float64) {
	t.Data[row*t.Cols+col] = v
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Rows: t.Rows, Cols: t.Cols, Data: data}
}

// SameShape reports whether two tensors have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	return t.Rows == o.Rows && t.Cols == o.Cols
}

// Reshape reinterprets the buffer under a new shape with the same element
// count. The buffer is shared, not copied.
func (t *Tensor) Reshape(rows, cols int) error {
	if rows <= 0 || cols <= 0 || rows*cols != len(t.Data) {
		return fmt.Errorf("%w: cannot reshape %dx%d to %dx%d", ErrShapeMismatch, t.Rows, t.Cols, rows, cols)
	}
	t.Rows, t.Cols = rows, cols
	return nil
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float64) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// AddInPlace adds src elementwise into t. Shapes must match exactly.
// This is the zero-allocation hot path: the destination buffer is mutated.
func (t *Tensor) AddInPlace(src *Tensor) error {
	if !t.SameShape(src) {
		return fmt.Errorf("%w: add %dx%d += %dx%d", ErrShapeMismatch, t.Rows, t.Cols, src.Rows, src.Cols)
	}
	for i := range t.Data {
		t.Data[i] += src.Data[i]
	}
	return nil
}

// SubInPlace subtracts src elementwise from t.
func (t *Tensor) SubInPlace(src *Tensor) error {
	if !t.SameShape(src) {
		return fmt.Errorf("%w: sub %dx%d -= %dx%d", ErrShapeMismatch, t.Rows, t.Cols, src.Rows, src.Cols)
	}
	for i := range t.Data {
		t.Data[i] -= src.Data[i]
	}
	return nil
}

// MulInPlace multiplies t by src elementwise (Hadamard product).
func (t *Tensor) MulInPlace(src *Tensor) error {
	if !t.SameShape(src) {
		return fmt.Errorf("%w: mul %dx%d *= %dx%d", ErrShapeMismatch, t.Rows, t.Cols, src.Rows, src.Cols)
	}
	for i := range t.Data {
		t.Data[i] *= src.Data[i]
	}
	return nil
}

// ScaleInPlace multiplies every element by factor.
func (t *Tensor) ScaleInPlace(factor float64) {
	for i := range t.Data {
		t.Data[i] *= factor
	}
}

// MatMul returns t × o as a new tensor. Inner dimensions must agree.
func (t *Tensor) MatMul(o *Tensor) (*Tensor, error) {
	if t.Cols != o.Rows {
		return nil, fmt.Errorf("%w: matmul %dx%d × %dx%d", ErrShapeMismatch, t.Rows, t.Cols, o.Rows, o.Cols)
	}
	out := &Tensor{Rows: t.Rows, Cols: o.Cols, Data: make([]float64, t.Rows*o.Cols)}
	for i := 0; i < t.Rows; i++ {
		for k := 0; k < t.Cols; k++ {
			v := t.Data[i*t.Cols+k]
			if v == 0 {
				continue
			}
			for j := 0; j < o.Cols; j++ {
				out.Data[i*o.Cols+j] += v * o.Data[k*o.Cols+j]
			}
		}
	}
	return out, nil
}

// Transpose returns the transposed tensor as a new tensor.
func (t *Tensor) Transpose() *Tensor {
	out := &Tensor{Rows: t.Cols, Cols: t.Rows, Data: make([]float64, len(t.Data))}
	for i := 0; i < t.Rows; i++ {
		for j := 0; j < t.Cols; j++ {
			out.Data[j*t.Rows+i] = t.Data[i*t.Cols+j]
		}
	}
	return out
}

// Norm returns a copy of src normalized row-wise. Order 1 divides each row
// by its L1 norm, order 2 by its L2 norm. Zero rows are left unchanged.
func (t *Tensor) Norm(order int) (*Tensor, error) {
	if order != 1 && order != 2 {
		return nil, fmt.Errorf("register: unsupported norm order %d", order)
	}
	out := t.Clone()
	for i := 0; i < out.Rows; i++ {
		row := out.Data[i*out.Cols : (i+1)*out.Cols]
		var n float64
		for _, v := range row {
			if order == 1 {
				n += math.Abs(v)
			} else {
				n += v * v
			}
		}
		if order == 2 {
			n = math.Sqrt(n)
		}
		if n == 0 {
			continue
		}
		for j := range row {
			row[j] /= n
		}
	}
	return out, nil
}

// Softmax returns a copy with a numerically stable softmax applied to each
// row.
func (t *Tensor) Softmax() *Tensor {
	out := t.Clone()
	for i := 0; i < out.Rows; i++ {
		row := out.Data[i*out.Cols : (i+1)*out.Cols]
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		var sum float64
		for j, v := range row {
			row[j] = math.Exp(v - max)
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}
	return out
}

// Reduction modes for Reduce.
const (
	ReduceSum = iota
	ReduceMean
	ReduceMax
	ReduceMin
)

// Reduce collapses the whole tensor to a single scalar.
func (t *Tensor) Reduce(mode int) (float64, error) {
	switch mode {
	case ReduceSum, ReduceMean:
		var sum float64
		for _, v := range t.Data {
			sum += v
		}
		if mode == ReduceMean {
			sum /= float64(len(t.Data))
		}
		return sum, nil
	case ReduceMax:
		max := t.Data[0]
		for _, v := range t.Data[1:] {
			if v > max {
				max = v
			}
		}
		return max, nil
	case ReduceMin:
		min := t.Data[0]
		for _, v := range t.Data[1:] {
			if v < min {
				min = v
			}
		}
		return min, nil
	default:
		return 0, fmt.Errorf("register: unsupported reduce mode %d", mode)
	}
}

// ArgMax returns the flat index of the largest element.
func (t *Tensor) ArgMax() int {
	best := 0
	for i, v := range t.Data {
		if v > t.Data[best] {
			best = i
		}
	}
	return best
}

// SliceRows returns rows [start, end) as a new tensor.
func (t *Tensor) SliceRows(start, end int) (*Tensor, error) {
	if start < 0 || end > t.Rows || start >= end {
		return nil, fmt.Errorf("%w: slice rows [%d,%d) of %dx%d", ErrShapeMismatch, start, end, t.Rows, t.Cols)
	}
	rows := end - start
	data := make([]float64, rows*t.Cols)
	copy(data, t.Data[start*t.Cols:end*t.Cols])
	return &Tensor{Rows: rows, Cols: t.Cols, Data: data}, nil
}

// ConcatRows stacks o below t. Column counts must match.
func (t *Tensor) ConcatRows(o *Tensor) (*Tensor, error) {
	if t.Cols != o.Cols {
		return nil, fmt.Errorf("%w: concat %dx%d with %dx%d", ErrShapeMismatch, t.Rows, t.Cols, o.Rows, o.Cols)
	}
	data := make([]float64, 0, len(t.Data)+len(o.Data))
	data = append(data, t.Data...)
	data = append(data, o.Data...)
	return &Tensor{Rows: t.Rows + o.Rows, Cols: t.Cols, Data: data}, nil
}
