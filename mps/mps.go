// Package mps implements matrix product states in mixed canonical form.
//
// A matrix product state is a chain of rank-3 tensors whose axes are
// ordered as (left link, site, right link). The cut marks the link
// separating the left-canonical tensors from the right-canonical ones,
// with the singular value spectrum Lambda living on that link. Shifting
// the cut is a truncated SVD step, the elementary move of DMRG style
// sweeps.
//
// References:
//   - The density-matrix renormalization group in the age of matrix product states, Ulrich Schollwock
//   - Efficient classical simulation of slightly entangled quantum computations, Guifre Vidal
package mps

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gharib85/HamiltonianPy/tensor"
)

const (
	// LLink is the axis of the left link of a site tensor.
	LLink = 0
	// Site is the physical axis of a site tensor.
	Site = 1
	// RLink is the axis of the right link of a site tensor.
	RLink = 2

	// NoCut marks a chain without a canonical form.
	NoCut = -1
)

var (
	// ErrInvalidCut reports a cut outside [0, N], or a shift past a boundary.
	ErrInvalidCut = errors.New("invalid cut")
	// ErrMixedState reports an operation that only supports pure states.
	ErrMixedState = errors.New("unsupported mixed state")
	// ErrNormalization reports a state whose norm deviates from one.
	ErrNormalization = errors.New("state not normalized")
)

// A Reporter receives the truncation diagnostics of every SVD step.
type Reporter interface {
	// Truncation reports the site whose tensor was decomposed, the number
	// of singular values kept, and the discarded weight fraction.
	Truncation(site, kept int, discarded float64)
}

// Options control truncation during cut shifting.
type Options struct {
	nmax     int
	tol      float64
	normTol  float64
	reporter Reporter
}

// NewOptions returns the default truncation options.
func NewOptions() Options {
	opt := Options{}
	opt.nmax = 200
	opt.tol = 1e-14
	opt.normTol = 1e-8
	return opt
}

// NMax sets the maximum number of singular values kept per step.
func (opt Options) NMax(n int) Options {
	opt.nmax = n
	return opt
}

// Tol sets the truncation tolerance, the smallest singular value kept.
func (opt Options) Tol(tol float64) Options {
	opt.tol = tol
	return opt
}

// NormTol sets the tolerance of the norm check in ToVidal.
func (opt Options) NormTol(tol float64) Options {
	opt.normTol = tol
	return opt
}

// Report sets the receiver of truncation diagnostics.
func (opt Options) Report(r Reporter) Options {
	opt.reporter = r
	return opt
}

// An MPS is a matrix product state in mixed canonical form. Site tensors
// left of the cut are left-canonical, those right of it are
// right-canonical, and Lambda holds the singular values on the cut link.
// An MPS exclusively owns its tensors and is mutated in place by the shift
// and canonicalization operations.
type MPS struct {
	ms     []*tensor.Tensor
	lambda *tensor.Tensor
	cut    int
}

// New returns an MPS over the given site tensors. Every tensor must be
// rank 3 with axes ordered (left link, site, right link), and adjacent
// tensors must share their link label. lambda is the rank-1 singular value
// spectrum on the link at cut; pass nil and NoCut for a chain without a
// canonical form.
func New(ms []*tensor.Tensor, lambda *tensor.Tensor, cut int) (*MPS, error) {
	if err := validateChain(ms); err != nil {
		return nil, errors.Wrap(err, "")
	}
	m := &MPS{ms: cloneTensors(ms), cut: NoCut}
	if lambda == nil {
		if cut != NoCut {
			return nil, errors.Wrap(ErrInvalidCut, fmt.Sprintf("cut %d without Lambda", cut))
		}
		return m, nil
	}
	if cut < 0 || cut > len(ms) {
		return nil, errors.Wrap(ErrInvalidCut, fmt.Sprintf("cut %d out of [0, %d]", cut, len(ms)))
	}
	if lambda.NDim() != 1 {
		return nil, errors.Wrap(tensor.ErrShapeMismatch, fmt.Sprintf("Lambda rank %d, expected 1", lambda.NDim()))
	}
	link, dim := ms[0].Labels()[LLink], ms[0].Shape()[LLink]
	if cut > 0 {
		link, dim = ms[cut-1].Labels()[RLink], ms[cut-1].Shape()[RLink]
	}
	if lambda.Labels()[0] != link || lambda.Shape()[0] != dim {
		return nil, errors.Wrap(tensor.ErrShapeMismatch, fmt.Sprintf("Lambda %v, expected %s of length %d", lambda, link, dim))
	}
	m.lambda = lambda.Clone()
	m.cut = cut
	return m, nil
}

// Compose builds an MPS from left-canonical tensors as, right-canonical
// tensors bs, and the Lambda on the link between them. A nil lambda is
// allowed when either block is empty and yields a chain without a
// canonical form.
func Compose(as, bs []*tensor.Tensor, lambda *tensor.Tensor) (*MPS, error) {
	cut := NoCut
	if lambda != nil {
		cut = len(as)
	} else if len(as) > 0 && len(bs) > 0 {
		return nil, errors.Wrap(ErrInvalidCut, "no Lambda between the A and B blocks")
	}
	ms := make([]*tensor.Tensor, 0, len(as)+len(bs))
	ms = append(ms, as...)
	ms = append(ms, bs...)
	return New(ms, lambda, cut)
}

// FromVector builds the matrix product representation of a dense state
// vector by successive SVDs. dims are the physical dimensions of the
// sites. The returned chain is fully left-canonical with the cut at the
// right end, and its Lambda carries the norm of the vector.
func FromVector(state []float64, dims []int) (*MPS, error) {
	if len(dims) == 0 {
		return nil, errors.Wrap(tensor.ErrShapeMismatch, "no sites")
	}
	shape := make([]int, 0, len(dims)+2)
	labels := make([]tensor.Label, 0, len(dims)+2)
	shape = append(shape, 1)
	labels = append(labels, linkLabel(0))
	for i, d := range dims {
		shape = append(shape, d)
		labels = append(labels, siteLabel(i))
	}
	shape = append(shape, 1)
	labels = append(labels, linkLabel(len(dims)))

	rem, err := tensor.New(state, shape, labels...)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	m := &MPS{ms: make([]*tensor.Tensor, 0, len(dims)), cut: len(dims)}
	for i := range dims {
		rows := []tensor.Label{linkLabel(i), siteLabel(i)}
		cols := rem.Labels()[2:]
		last := i == len(dims)-1
		name := linkLabel(i + 1)
		if last {
			name = name.Prime()
		}

		u, s, v, _, err := rem.SVD(rows, name, cols, len(state), 1e-14)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("site %d", i))
		}
		if !last {
			m.ms = append(m.ms, u)
			if rem, err = v.MulVec(name, s); err != nil {
				return nil, errors.Wrap(err, "")
			}
			continue
		}
		if err := u.Relabel([]tensor.Label{linkLabel(i + 1)}, []tensor.Label{name}); err != nil {
			return nil, errors.Wrap(err, "")
		}
		m.ms = append(m.ms, u)
		if m.lambda, err = tensor.Contract(s, v); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return m, nil
}

// Len returns the number of sites.
func (m *MPS) Len() int { return len(m.ms) }

// Cut returns the position of the orthogonality center, or NoCut.
func (m *MPS) Cut() int { return m.cut }

// Lambda returns the singular values on the cut link, or nil.
func (m *MPS) Lambda() *tensor.Tensor {
	if m.lambda == nil {
		return nil
	}
	return m.lambda.Clone()
}

// Site returns the i-th site tensor.
func (m *MPS) Site(i int) *tensor.Tensor { return m.ms[i].Clone() }

// As returns the left-canonical tensors.
func (m *MPS) As() []*tensor.Tensor {
	if m.cut == NoCut {
		return nil
	}
	return cloneTensors(m.ms[:m.cut])
}

// Bs returns the right-canonical tensors.
func (m *MPS) Bs() []*tensor.Tensor {
	if m.cut == NoCut {
		return nil
	}
	return cloneTensors(m.ms[m.cut:])
}

// Copy returns a deep copy of m.
func (m *MPS) Copy() *MPS {
	c := &MPS{ms: cloneTensors(m.ms), cut: m.cut}
	if m.lambda != nil {
		c.lambda = m.lambda.Clone()
	}
	return c
}

// ShiftLeft moves the cut k links to the left. Every step truncates
// independently with the given options.
func (m *MPS) ShiftLeft(k int, options ...Options) error {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	for i := 0; i < k; i++ {
		if err := m.shiftLeft(opt); err != nil {
			return errors.Wrap(err, fmt.Sprintf("step %d", i))
		}
	}
	return nil
}

// ShiftRight moves the cut k links to the right. Every step truncates
// independently with the given options.
func (m *MPS) ShiftRight(k int, options ...Options) error {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	for i := 0; i < k; i++ {
		if err := m.shiftRight(opt); err != nil {
			return errors.Wrap(err, fmt.Sprintf("step %d", i))
		}
	}
	return nil
}

func (m *MPS) shiftLeft(opt Options) error {
	switch m.cut {
	case NoCut:
		return errors.Wrap(ErrInvalidCut, "no canonical form")
	case 0:
		return errors.Wrap(ErrInvalidCut, "cut already at the left end")
	}
	merged, err := absorb(m.ms[m.cut-1], m.lambda)
	if err != nil {
		return errors.Wrap(err, "")
	}

	labels := merged.Labels()
	left, site, right := labels[LLink], labels[Site], labels[RLink]
	u, s, v, discarded, err := merged.SVD([]tensor.Label{left}, left.Prime(), []tensor.Label{site, right}, opt.nmax, opt.tol)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if opt.reporter != nil {
		opt.reporter.Truncation(m.cut-1, s.Shape()[0], discarded)
	}

	if err := v.Relabel([]tensor.Label{left}, []tensor.Label{left.Prime()}); err != nil {
		return errors.Wrap(err, "")
	}
	m.ms[m.cut-1] = v
	if m.cut == 1 {
		if s.Shape()[0] > 1 {
			return errors.Wrap(ErrMixedState, "multiple singular values at the left end")
		}
		if m.lambda, err = tensor.Contract(u, s); err != nil {
			return errors.Wrap(err, "")
		}
	} else {
		if err := s.Relabel([]tensor.Label{left}, []tensor.Label{left.Prime()}); err != nil {
			return errors.Wrap(err, "")
		}
		m.lambda = s
		folded, err := tensor.Contract(m.ms[m.cut-2], u)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if err := folded.Relabel([]tensor.Label{left}, []tensor.Label{left.Prime()}); err != nil {
			return errors.Wrap(err, "")
		}
		m.ms[m.cut-2] = folded
	}
	m.cut--
	return nil
}

func (m *MPS) shiftRight(opt Options) error {
	switch m.cut {
	case NoCut:
		return errors.Wrap(ErrInvalidCut, "no canonical form")
	case len(m.ms):
		return errors.Wrap(ErrInvalidCut, "cut already at the right end")
	}
	merged, err := absorb(m.ms[m.cut], m.lambda)
	if err != nil {
		return errors.Wrap(err, "")
	}

	labels := merged.Labels()
	left, site, right := labels[LLink], labels[Site], labels[RLink]
	u, s, v, discarded, err := merged.SVD([]tensor.Label{left, site}, right.Prime(), []tensor.Label{right}, opt.nmax, opt.tol)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if opt.reporter != nil {
		opt.reporter.Truncation(m.cut, s.Shape()[0], discarded)
	}

	if err := u.Relabel([]tensor.Label{right}, []tensor.Label{right.Prime()}); err != nil {
		return errors.Wrap(err, "")
	}
	m.ms[m.cut] = u
	if m.cut == len(m.ms)-1 {
		if s.Shape()[0] > 1 {
			return errors.Wrap(ErrMixedState, "multiple singular values at the right end")
		}
		if m.lambda, err = tensor.Contract(s, v); err != nil {
			return errors.Wrap(err, "")
		}
	} else {
		if err := s.Relabel([]tensor.Label{right}, []tensor.Label{right.Prime()}); err != nil {
			return errors.Wrap(err, "")
		}
		m.lambda = s
		folded, err := tensor.Contract(v, m.ms[m.cut+1])
		if err != nil {
			return errors.Wrap(err, "")
		}
		if err := folded.Relabel([]tensor.Label{right}, []tensor.Label{right.Prime()}); err != nil {
			return errors.Wrap(err, "")
		}
		m.ms[m.cut+1] = folded
	}
	m.cut++
	return nil
}

// Canonicalize puts the chain in mixed canonical form with the cut at the
// given position. It resets to a boundary, sweeps fully to the opposite
// one, and shifts back, so that a single consistent canonical form is
// obtained regardless of the previous state of the chain.
func (m *MPS) Canonicalize(cut int, options ...Options) error {
	if cut < 0 || cut > len(m.ms) {
		return errors.Wrap(ErrInvalidCut, fmt.Sprintf("cut %d out of [0, %d]", cut, len(m.ms)))
	}
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}

	n := len(m.ms)
	if m.cut != NoCut && m.cut > n/2 {
		if err := m.reset(0); err != nil {
			return errors.Wrap(err, "")
		}
		if err := m.ShiftRight(n, opt); err != nil {
			return errors.Wrap(err, "")
		}
		if err := m.ShiftLeft(n-cut, opt); err != nil {
			return errors.Wrap(err, "")
		}
		return nil
	}
	if err := m.reset(n); err != nil {
		return errors.Wrap(err, "")
	}
	if err := m.ShiftLeft(n, opt); err != nil {
		return errors.Wrap(err, "")
	}
	if err := m.ShiftRight(cut, opt); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// reset merges Lambda into its neighboring tensor and moves the cut to a
// boundary without sweeping. The chain loses its canonical form until the
// next full sweep rebuilds it.
func (m *MPS) reset(to int) error {
	if m.ms[0].Shape()[LLink] != 1 || m.ms[len(m.ms)-1].Shape()[RLink] != 1 {
		return errors.Wrap(ErrMixedState, "boundary links are not trivial")
	}
	if m.cut != NoCut {
		at := m.cut - 1
		if m.cut == 0 {
			at = 0
		}
		merged, err := absorb(m.ms[at], m.lambda)
		if err != nil {
			return errors.Wrap(err, "")
		}
		m.ms[at] = merged
	}
	m.cut = to
	m.lambda = tensor.Scalar(1)
	return nil
}

// Norm returns the norm of the state, the total weight collected by a full
// rightward sweep.
func (m *MPS) Norm() (float64, error) {
	c := m.Copy()
	if err := c.reset(0); err != nil {
		return 0, errors.Wrap(err, "")
	}
	if err := c.ShiftRight(c.Len()); err != nil {
		return 0, errors.Wrap(err, "")
	}
	return math.Abs(c.lambda.At(0)), nil
}

// State contracts the chain into its dense representation, inserting
// Lambda at the cut when the cut is not at a boundary. Pure states yield a
// single column; mixed states yield one column per contained pure state.
func (m *MPS) State() (*mat.Dense, error) {
	var res *tensor.Tensor
	var err error
	switch {
	case m.cut == NoCut || m.cut == 0 || m.cut == len(m.ms):
		if res, err = tensor.ContractAll(m.ms...); err != nil {
			return nil, errors.Wrap(err, "")
		}
	default:
		a, err := tensor.ContractAll(m.ms[:m.cut]...)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if a, err = absorb(a, m.lambda); err != nil {
			return nil, errors.Wrap(err, "")
		}
		b, err := tensor.ContractAll(m.ms[m.cut:]...)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if res, err = tensor.Contract(a, b); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}

	sites := make(map[tensor.Label]bool, len(m.ms))
	for _, t := range m.ms {
		sites[t.Labels()[Site]] = true
	}
	labels, shape := res.Labels(), res.Shape()
	extra := -1
	rows := 1
	for i, l := range labels {
		switch {
		case sites[l]:
			rows *= shape[i]
		case shape[i] == 1:
			// Trivial boundary link.
		case extra >= 0:
			return nil, errors.Wrap(tensor.ErrShapeMismatch, fmt.Sprintf("dangling links %s and %s", labels[extra], l))
		default:
			extra = i
		}
	}

	cols := 1
	if extra >= 0 {
		cols = shape[extra]
		if extra != len(labels)-1 {
			order := make([]tensor.Label, 0, len(labels))
			for i, l := range labels {
				if i != extra {
					order = append(order, l)
				}
			}
			order = append(order, labels[extra])
			if res, err = res.Transpose(order...); err != nil {
				return nil, errors.Wrap(err, "")
			}
		}
	}
	return mat.NewDense(rows, cols, res.Data()), nil
}

// IsCanonical checks the isometry of every site tensor against its side of
// the cut, within tolerance tol. It reports one result per site.
func (m *MPS) IsCanonical(tol float64) ([]bool, error) {
	if m.cut == NoCut {
		return nil, errors.Wrap(ErrInvalidCut, "no canonical form")
	}
	result := make([]bool, 0, len(m.ms))
	for i, t := range m.ms {
		s := t.Shape()
		var g mat.Dense
		switch {
		case i < m.cut:
			a := mat.NewDense(s[LLink]*s[Site], s[RLink], t.Data())
			g.Mul(a.T(), a)
		default:
			b := mat.NewDense(s[LLink], s[Site]*s[RLink], t.Data())
			g.Mul(b, b.T())
		}
		result = append(result, isIdentity(&g, tol))
	}
	return result, nil
}

func isIdentity(g *mat.Dense, tol float64) bool {
	r, c := g.Dims()
	if r != c {
		return false
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(g.At(i, j)-want) > tol {
				return false
			}
		}
	}
	return true
}

// absorb multiplies the singular values in lambda into t along their link
// axis. A rank zero lambda is a plain scale.
func absorb(t, lambda *tensor.Tensor) (*tensor.Tensor, error) {
	if lambda.NDim() == 0 {
		return t.Scale(lambda.At()), nil
	}
	return t.MulVec(lambda.Labels()[0], lambda)
}

func validateChain(ms []*tensor.Tensor) error {
	if len(ms) == 0 {
		return errors.Wrap(tensor.ErrShapeMismatch, "empty chain")
	}
	for i, t := range ms {
		if t.NDim() != 3 {
			return errors.Wrap(tensor.ErrShapeMismatch, fmt.Sprintf("site %d rank %d", i, t.NDim()))
		}
		if i == 0 {
			continue
		}
		prev := ms[i-1]
		if prev.Labels()[RLink] != t.Labels()[LLink] || prev.Shape()[RLink] != t.Shape()[LLink] {
			return errors.Wrap(tensor.ErrShapeMismatch, fmt.Sprintf("link between sites %d and %d", i-1, i))
		}
	}
	return nil
}

func cloneTensors(ts []*tensor.Tensor) []*tensor.Tensor {
	cs := make([]*tensor.Tensor, 0, len(ts))
	for _, t := range ts {
		cs = append(cs, t.Clone())
	}
	return cs
}

func linkLabel(i int) tensor.Label { return tensor.L(fmt.Sprintf("l%d", i)) }

func siteLabel(i int) tensor.Label { return tensor.L(fmt.Sprintf("s%d", i)) }
