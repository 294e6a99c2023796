// Package tensor implements dense tensors with labeled axes.
//
// Axes are identified by symbolic labels instead of positions, so that two
// tensors contract along the axes whose labels match. This is the
// bookkeeping convention of tensor network algorithms.
package tensor

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch reports tensors whose ranks, labels or axis lengths do
// not conform.
var ErrShapeMismatch = errors.New("shape mismatch")

// A Label identifies one tensor axis.
// The primed variant of a label marks the axis newly created by an SVD,
// before it is renamed back to its final name.
type Label struct {
	name   string
	primed bool
}

// L returns the label with the given name.
func L(name string) Label { return Label{name: name} }

// Prime returns the primed variant of l.
func (l Label) Prime() Label {
	l.primed = true
	return l
}

func (l Label) String() string {
	if l.primed {
		return l.name + "'"
	}
	return l.name
}

// A Tensor is an n-dimensional float64 array with one label per axis.
// Operations return new tensors; only Relabel modifies a tensor in place.
type Tensor struct {
	labels []Label
	shape  []int
	data   []float64
}

// New returns a tensor over the given row-major data.
func New(data []float64, shape []int, labels ...Label) (*Tensor, error) {
	if len(shape) != len(labels) {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("%d axes, %d labels", len(shape), len(labels)))
	}
	for i, li := range labels {
		if slices.Contains(labels[i+1:], li) {
			return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("duplicate label %s", li))
		}
	}
	if len(data) != prod(shape) {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("%d elements, shape %v", len(data), shape))
	}
	t := &Tensor{labels: slices.Clone(labels), shape: slices.Clone(shape), data: slices.Clone(data)}
	return t, nil
}

// T is like New but panics on error.
func T(data []float64, shape []int, labels ...Label) *Tensor {
	t, err := New(data, shape, labels...)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return t
}

// Scalar returns a tensor of rank zero.
func Scalar(v float64) *Tensor {
	return &Tensor{data: []float64{v}}
}

// NDim returns the number of axes.
func (t *Tensor) NDim() int { return len(t.shape) }

// Shape returns the axis lengths.
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

// Labels returns the axis labels.
func (t *Tensor) Labels() []Label { return slices.Clone(t.labels) }

// Data returns a copy of the elements in row-major order.
func (t *Tensor) Data() []float64 { return slices.Clone(t.data) }

// Axis returns the position of the axis labeled l, or -1.
func (t *Tensor) Axis(l Label) int {
	return slices.Index(t.labels, l)
}

// Dim returns the length of the axis labeled l, or -1.
func (t *Tensor) Dim(l Label) int {
	a := t.Axis(l)
	if a < 0 {
		return -1
	}
	return t.shape[a]
}

// At returns the element at the given indices.
func (t *Tensor) At(idx ...int) float64 {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("%d %d", len(idx), len(t.shape)))
	}
	off := 0
	for i, x := range idx {
		off = off*t.shape[i] + x
	}
	return t.data[off]
}

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{labels: slices.Clone(t.labels), shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

func (t *Tensor) String() string {
	labelStrs := make([]string, 0, len(t.labels))
	shapeStrs := make([]string, 0, len(t.shape))
	for i, l := range t.labels {
		labelStrs = append(labelStrs, l.String())
		shapeStrs = append(shapeStrs, strconv.Itoa(t.shape[i]))
	}
	ss := make([]string, 0, len(t.data))
	for _, v := range t.data {
		ss = append(ss, fmt.Sprintf("%v", v))
	}
	return fmt.Sprintf("[%s][%s][%s]", strings.Join(labelStrs, ","), strings.Join(shapeStrs, ","), strings.Join(ss, ","))
}

// Relabel renames the axes labeled olds to news, in place.
func (t *Tensor) Relabel(news, olds []Label) error {
	if len(news) != len(olds) {
		return errors.Wrap(ErrShapeMismatch, fmt.Sprintf("%d new labels, %d old labels", len(news), len(olds)))
	}
	axes := make([]int, 0, len(olds))
	for _, o := range olds {
		a := t.Axis(o)
		if a < 0 {
			return errors.Wrap(ErrShapeMismatch, fmt.Sprintf("no axis %s", o))
		}
		axes = append(axes, a)
	}
	relabeled := slices.Clone(t.labels)
	for i, a := range axes {
		relabeled[a] = news[i]
	}
	for i, li := range relabeled {
		if slices.Contains(relabeled[i+1:], li) {
			return errors.Wrap(ErrShapeMismatch, fmt.Sprintf("duplicate label %s", li))
		}
	}
	t.labels = relabeled
	return nil
}

// Scale returns t multiplied by the scalar v.
func (t *Tensor) Scale(v float64) *Tensor {
	out := t.Clone()
	for i := range out.data {
		out.data[i] *= v
	}
	return out
}

// MulVec returns t scaled along the axis labeled l by the entries of the
// rank-1 tensor v. This absorbs a diagonal matrix, such as a singular value
// spectrum, without summing over the axis.
func (t *Tensor) MulVec(l Label, v *Tensor) (*Tensor, error) {
	return t.scaleAxis(l, v, false)
}

// DivVec is the inverse of MulVec.
func (t *Tensor) DivVec(l Label, v *Tensor) (*Tensor, error) {
	return t.scaleAxis(l, v, true)
}

func (t *Tensor) scaleAxis(l Label, v *Tensor, invert bool) (*Tensor, error) {
	if v.NDim() != 1 {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("rank %d, expected 1", v.NDim()))
	}
	a := t.Axis(l)
	if a < 0 {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("no axis %s", l))
	}
	if t.shape[a] != v.shape[0] {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("%s: %d %d", l, t.shape[a], v.shape[0]))
	}
	out := t.Clone()
	stride := strides(t.shape)[a]
	for off := range out.data {
		s := v.data[off/stride%t.shape[a]]
		if invert {
			out.data[off] /= s
		} else {
			out.data[off] *= s
		}
	}
	return out, nil
}

// Transpose returns t with its axes reordered to the given labels.
func (t *Tensor) Transpose(labels ...Label) (*Tensor, error) {
	perm, err := t.axes(labels)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if len(labels) != len(t.shape) {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("%d labels, rank %d", len(labels), len(t.shape)))
	}
	return t.transpose(perm), nil
}

// Contract sums a and b over their matching labels. When no labels match,
// the result is the outer product. The result's axes are a's unmatched
// axes followed by b's.
func Contract(a, b *Tensor) (*Tensor, error) {
	shared := make([]Label, 0)
	for _, l := range a.labels {
		if b.Axis(l) >= 0 {
			shared = append(shared, l)
		}
	}
	for _, l := range shared {
		if a.Dim(l) != b.Dim(l) {
			return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("%s: %d %d", l, a.Dim(l), b.Dim(l)))
		}
	}
	aFree := without(a.labels, shared)
	bFree := without(b.labels, shared)

	aPerm, err := a.axes(concat(aFree, shared))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	bPerm, err := b.axes(concat(shared, bFree))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	ap, bp := a.transpose(aPerm), b.transpose(bPerm)

	m := prod(ap.shape[:len(aFree)])
	k := prod(ap.shape[len(aFree):])
	n := prod(bp.shape[len(shared):])
	var c mat.Dense
	c.Mul(mat.NewDense(m, k, ap.data), mat.NewDense(k, n, bp.data))

	shape := concat(ap.shape[:len(aFree)], bp.shape[len(shared):])
	return &Tensor{labels: concat(aFree, bFree), shape: shape, data: c.RawMatrix().Data}, nil
}

// ContractAll contracts tensors pairwise from left to right.
func ContractAll(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.Wrap(ErrShapeMismatch, "no tensors")
	}
	res := ts[0]
	for i, t := range ts[1:] {
		var err error
		if res, err = Contract(res, t); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%d", i+1))
		}
	}
	return res, nil
}

// SVD factorizes t into U, S and V, splitting its axes into the rows and
// cols groups. U carries the rows axes plus a new axis labeled name, S is
// the rank-1 singular value spectrum on that axis, and V carries it
// together with the cols axes. At most nmax singular values are kept, and
// values below tol are dropped; at least one value is always kept. The
// returned discarded weight is the sum of squares of the dropped values
// over the total.
func (t *Tensor) SVD(rows []Label, name Label, cols []Label, nmax int, tol float64) (u, s, v *Tensor, discarded float64, err error) {
	if len(rows)+len(cols) != len(t.shape) {
		return nil, nil, nil, 0, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("%d+%d row and column axes, rank %d", len(rows), len(cols), len(t.shape)))
	}
	if t.Axis(name) >= 0 {
		return nil, nil, nil, 0, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("label %s already in use", name))
	}
	perm, err := t.axes(concat(rows, cols))
	if err != nil {
		return nil, nil, nil, 0, errors.Wrap(err, "")
	}
	tp := t.transpose(perm)
	m := prod(tp.shape[:len(rows)])
	n := prod(tp.shape[len(rows):])

	var svd mat.SVD
	if ok := svd.Factorize(mat.NewDense(m, n, tp.data), mat.SVDThin); !ok {
		return nil, nil, nil, 0, errors.Errorf("factorization failed, shape %v", t.shape)
	}
	vals := svd.Values(nil)
	var um, vm mat.Dense
	svd.UTo(&um)
	svd.VTo(&vm)

	keep := 0
	for _, sv := range vals {
		if sv >= tol {
			keep++
		}
	}
	keep = min(keep, nmax)
	keep = max(keep, 1)

	var total, kept float64
	for i, sv := range vals {
		total += sv * sv
		if i < keep {
			kept += sv * sv
		}
	}
	if total > 0 {
		discarded = (total - kept) / total
	}

	uData := make([]float64, m*keep)
	for i := 0; i < m; i++ {
		for j := 0; j < keep; j++ {
			uData[i*keep+j] = um.At(i, j)
		}
	}
	u = &Tensor{
		labels: concat(rows, []Label{name}),
		shape:  concat(tp.shape[:len(rows)], []int{keep}),
		data:   uData,
	}

	s = &Tensor{labels: []Label{name}, shape: []int{keep}, data: slices.Clone(vals[:keep])}

	vData := make([]float64, keep*n)
	for i := 0; i < keep; i++ {
		for j := 0; j < n; j++ {
			vData[i*n+j] = vm.At(j, i)
		}
	}
	v = &Tensor{
		labels: concat([]Label{name}, cols),
		shape:  concat([]int{keep}, tp.shape[len(rows):]),
		data:   vData,
	}
	return u, s, v, discarded, nil
}

// transpose reorders the axes so that new axis k is old axis perm[k].
func (t *Tensor) transpose(perm []int) *Tensor {
	n := len(t.shape)
	shape := make([]int, n)
	labels := make([]Label, n)
	for k, a := range perm {
		shape[k] = t.shape[a]
		labels[k] = t.labels[a]
	}

	newStrides := strides(shape)
	// dstStride[a] is the stride in the result of original axis a.
	dstStride := make([]int, n)
	for k, a := range perm {
		dstStride[a] = newStrides[k]
	}

	dst := make([]float64, len(t.data))
	idx := make([]int, n)
	dstOff := 0
	for _, v := range t.data {
		dst[dstOff] = v
		for a := n - 1; a >= 0; a-- {
			idx[a]++
			dstOff += dstStride[a]
			if idx[a] < t.shape[a] {
				break
			}
			idx[a] = 0
			dstOff -= t.shape[a] * dstStride[a]
		}
	}
	return &Tensor{labels: labels, shape: shape, data: dst}
}

func (t *Tensor) axes(labels []Label) ([]int, error) {
	axes := make([]int, 0, len(labels))
	used := make([]bool, len(t.shape))
	for _, l := range labels {
		a := t.Axis(l)
		if a < 0 {
			return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("no axis %s", l))
		}
		if used[a] {
			return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("axis %s used twice", l))
		}
		used[a] = true
		axes = append(axes, a)
	}
	return axes, nil
}

func without(labels, exclude []Label) []Label {
	out := make([]Label, 0, len(labels))
	for _, l := range labels {
		if !slices.Contains(exclude, l) {
			out = append(out, l)
		}
	}
	return out
}

func concat[E any](a, b []E) []E {
	out := make([]E, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	st := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = st
		st *= shape[i]
	}
	return s
}

func prod(shape []int) int {
	p := 1
	for _, d := range shape {
		p *= d
	}
	return p
}
