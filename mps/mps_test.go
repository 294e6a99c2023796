package mps

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/pkg/errors"

	"github.com/gharib85/HamiltonianPy/tensor"
)

func TestShiftRoundTrip(t *testing.T) {
	t.Parallel()
	m := productState(t)
	want := stateVec(t, m)

	if err := m.ShiftRight(1); err != nil {
		t.Fatalf("%+v", err)
	}
	if got := m.Cut(); got != 2 {
		t.Fatalf("%d, expected 2", got)
	}
	if err := m.ShiftLeft(1); err != nil {
		t.Fatalf("%+v", err)
	}
	if got := m.Cut(); got != 1 {
		t.Fatalf("%d, expected 1", got)
	}

	lambda := m.Lambda()
	if got := lambda.Shape()[0]; got != 1 {
		t.Fatalf("%d singular values, expected 1", got)
	}
	if got := math.Abs(lambda.At(0)); math.Abs(got-1) > 1e-12 {
		t.Fatalf("%f, expected 1", got)
	}

	// The product is preserved exactly, the factors up to sign.
	if got := maxDiff(stateVec(t, m), want); got > 1e-12 {
		t.Fatalf("state moved by %g", got)
	}
	for i, want := range [][]float64{{1, 0}, {0, 1}} {
		data := m.Site(i).Data()
		for j := range data {
			if math.Abs(math.Abs(data[j])-want[j]) > 1e-12 {
				t.Fatalf("site %d: %v, expected %v up to sign", i, data, want)
			}
		}
	}
}

func TestShiftPastBoundary(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cut   int
		shift func(m *MPS) error
	}{
		{cut: 0, shift: func(m *MPS) error { return m.ShiftLeft(1) }},
		{cut: 2, shift: func(m *MPS) error { return m.ShiftRight(1) }},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d", test.cut), func(t *testing.T) {
			t.Parallel()
			ms := productTensors()
			link := ms[0].Labels()[LLink]
			if test.cut > 0 {
				link = ms[test.cut-1].Labels()[RLink]
			}
			m, err := New(ms, tensor.T([]float64{1}, []int{1}, link), test.cut)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			before := stateVec(t, m)

			if err := test.shift(m); !errors.Is(err, ErrInvalidCut) {
				t.Fatalf("%+v", err)
			}

			// A failed shift leaves the chain untouched.
			if got := m.Cut(); got != test.cut {
				t.Fatalf("%d, expected %d", got, test.cut)
			}
			if got := maxDiff(stateVec(t, m), before); got > 0 {
				t.Fatalf("state moved by %g", got)
			}
		})
	}
}

func TestShiftWithoutCanonicalForm(t *testing.T) {
	t.Parallel()
	m, err := New(productTensors(), nil, NoCut)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := m.ShiftLeft(1); !errors.Is(err, ErrInvalidCut) {
		t.Fatalf("%+v", err)
	}
	if err := m.ShiftRight(1); !errors.Is(err, ErrInvalidCut) {
		t.Fatalf("%+v", err)
	}
}

func TestCanonicalize(t *testing.T) {
	t.Parallel()
	state := randState(16, 1)
	for cut := 0; cut <= 4; cut++ {
		t.Run(fmt.Sprintf("%d", cut), func(t *testing.T) {
			t.Parallel()
			m, err := FromVector(state, []int{2, 2, 2, 2})
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if err := m.Canonicalize(cut); err != nil {
				t.Fatalf("%+v", err)
			}
			if got := m.Cut(); got != cut {
				t.Fatalf("%d, expected %d", got, cut)
			}
			checkCanonical(t, m)
			if got := signDiff(stateVec(t, m), state); got > 1e-10 {
				t.Fatalf("state moved by %g", got)
			}

			// A second pass reproduces the spectrum and the state.
			lambda := m.Lambda().Data()
			if err := m.Canonicalize(cut); err != nil {
				t.Fatalf("%+v", err)
			}
			checkCanonical(t, m)
			again := m.Lambda().Data()
			if len(again) != len(lambda) {
				t.Fatalf("%v, expected %v", again, lambda)
			}
			for i := range lambda {
				if math.Abs(math.Abs(again[i])-math.Abs(lambda[i])) > 1e-12 {
					t.Fatalf("%v, expected %v", again, lambda)
				}
			}
			if got := signDiff(stateVec(t, m), state); got > 1e-10 {
				t.Fatalf("state moved by %g", got)
			}
		})
	}
}

func TestCanonicalizeInvalidCut(t *testing.T) {
	t.Parallel()
	m := productState(t)
	for _, cut := range []int{-1, 3} {
		if err := m.Canonicalize(cut); !errors.Is(err, ErrInvalidCut) {
			t.Fatalf("%d: %+v", cut, err)
		}
	}
}

func TestShiftPreservesState(t *testing.T) {
	t.Parallel()
	state := randState(16, 2)
	m, err := FromVector(state, []int{2, 2, 2, 2})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := m.Canonicalize(2); err != nil {
		t.Fatalf("%+v", err)
	}
	want := stateVec(t, m)

	if err := m.ShiftLeft(2); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := m.ShiftRight(2); err != nil {
		t.Fatalf("%+v", err)
	}
	if got := maxDiff(stateVec(t, m), want); got > 1e-10 {
		t.Fatalf("state moved by %g", got)
	}
	if norm, err := m.Norm(); err != nil || math.Abs(norm-1) > 1e-12 {
		t.Fatalf("%f %+v, expected norm 1", norm, err)
	}
}

func TestTruncation(t *testing.T) {
	t.Parallel()
	state := randState(16, 3)
	m, err := FromVector(state, []int{2, 2, 2, 2})
	if err != nil {
		t.Fatalf("%+v", err)
	}

	rec := &recorder{}
	opt := NewOptions().NMax(2).Tol(1e-12).Report(rec)
	if err := m.Canonicalize(2, opt); err != nil {
		t.Fatalf("%+v", err)
	}

	lambda := m.Lambda()
	if got := lambda.Shape()[0]; got != 2 {
		t.Fatalf("%d singular values, expected 2", got)
	}
	vals := lambda.Data()
	for i, v := range vals {
		if v < 1e-12 {
			t.Fatalf("singular value %d is %g", i, v)
		}
		if i > 0 && v > vals[i-1] {
			t.Fatalf("%v not descending", vals)
		}
	}

	// A full sweep over 4 sites plus the shift back is 6 SVD steps.
	if len(rec.events) != 6 {
		t.Fatalf("%d events, expected 6", len(rec.events))
	}
	var discarded float64
	for _, e := range rec.events {
		if e.kept > 2 {
			t.Fatalf("kept %d, expected at most 2", e.kept)
		}
		discarded += e.discarded
	}
	if discarded <= 0 {
		t.Fatalf("discarded %g, expected positive", discarded)
	}
	if f := fidelity(stateVec(t, m), state); f >= 1 || f <= 0.5 {
		t.Fatalf("fidelity %f", f)
	}
}

func TestTruncationMonotonic(t *testing.T) {
	t.Parallel()
	state := randState(16, 4)
	fids := make([]float64, 0, 4)
	for nmax := 1; nmax <= 4; nmax++ {
		m, err := FromVector(state, []int{2, 2, 2, 2})
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if err := m.Canonicalize(2, NewOptions().NMax(nmax)); err != nil {
			t.Fatalf("%+v", err)
		}
		fids = append(fids, fidelity(stateVec(t, m), state))
	}
	for i := 1; i < len(fids); i++ {
		if fids[i]+1e-9 < fids[i-1] {
			t.Fatalf("%v not monotonic", fids)
		}
	}
	if fids[len(fids)-1] < 1-1e-10 {
		t.Fatalf("%v, expected exact representation at full bond dimension", fids)
	}
}

func TestNorm(t *testing.T) {
	t.Parallel()
	state := randState(16, 5)
	for i := range state {
		state[i] *= 3
	}
	m, err := FromVector(state, []int{2, 2, 2, 2})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	norm, err := m.Norm()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(norm-3) > 1e-12 {
		t.Fatalf("%f, expected 3", norm)
	}
}

func TestMixedStateBoundary(t *testing.T) {
	t.Parallel()
	// A non-trivial left boundary link holds a mixture of pure states.
	l0, l1, l2 := tensor.L("l0"), tensor.L("l1"), tensor.L("l2")
	s0, s1 := tensor.L("s0"), tensor.L("s1")
	ms := []*tensor.Tensor{
		tensor.T([]float64{1, 2, 3, 4, 5, 6, 7, 8}, []int{2, 2, 2}, l0, s0, l1),
		tensor.T([]float64{1, 0, 0, 1}, []int{2, 2, 1}, l1, s1, l2),
	}
	m, err := New(ms, tensor.T([]float64{1}, []int{1}, l2), 2)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	if err := m.ShiftLeft(2); !errors.Is(err, ErrMixedState) {
		t.Fatalf("%+v", err)
	}
	if _, err := m.Norm(); !errors.Is(err, ErrMixedState) {
		t.Fatalf("%+v", err)
	}
	if err := m.Canonicalize(1); !errors.Is(err, ErrMixedState) {
		t.Fatalf("%+v", err)
	}
}

func TestStateColumns(t *testing.T) {
	t.Parallel()
	l0, l1, l2 := tensor.L("l0"), tensor.L("l1"), tensor.L("l2")
	s0, s1 := tensor.L("s0"), tensor.L("s1")
	ms := []*tensor.Tensor{
		tensor.T([]float64{1, 0, 0, 1}, []int{2, 2, 1}, l0, s0, l1),
		tensor.T([]float64{1, 0}, []int{1, 2, 1}, l1, s1, l2),
	}
	m, err := New(ms, nil, NoCut)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	dense, err := m.State()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	r, c := dense.Dims()
	if r != 4 || c != 2 {
		t.Fatalf("%dx%d, expected 4x2", r, c)
	}
	want := [][]float64{{1, 0}, {0, 0}, {0, 1}, {0, 0}}
	for i := range want {
		for j := range want[i] {
			if got := dense.At(i, j); math.Abs(got-want[i][j]) > 1e-12 {
				t.Fatalf("at %d,%d: %f, expected %f", i, j, got, want[i][j])
			}
		}
	}
}

func TestStateDanglingLinks(t *testing.T) {
	t.Parallel()
	l0, l1, l2 := tensor.L("l0"), tensor.L("l1"), tensor.L("l2")
	s0, s1 := tensor.L("s0"), tensor.L("s1")
	ms := []*tensor.Tensor{
		tensor.T(make([]float64, 8), []int{2, 2, 2}, l0, s0, l1),
		tensor.T(make([]float64, 8), []int{2, 2, 2}, l1, s1, l2),
	}
	m, err := New(ms, nil, NoCut)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := m.State(); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Fatalf("%+v", err)
	}
}

func TestNewErrors(t *testing.T) {
	t.Parallel()
	l0, l1, l2 := tensor.L("l0"), tensor.L("l1"), tensor.L("l2")
	s0, s1 := tensor.L("s0"), tensor.L("s1")
	tests := []struct {
		name   string
		ms     []*tensor.Tensor
		lambda *tensor.Tensor
		cut    int
		err    error
	}{
		{
			name:   "cut without Lambda",
			ms:     productTensors(),
			lambda: nil,
			cut:    1,
			err:    ErrInvalidCut,
		},
		{
			name:   "cut out of range",
			ms:     productTensors(),
			lambda: tensor.T([]float64{1}, []int{1}, l1),
			cut:    3,
			err:    ErrInvalidCut,
		},
		{
			name: "site tensor of wrong rank",
			ms: []*tensor.Tensor{
				tensor.T([]float64{1, 0}, []int{1, 2}, l0, s0),
			},
			lambda: nil,
			cut:    NoCut,
			err:    tensor.ErrShapeMismatch,
		},
		{
			name: "mismatched link labels",
			ms: []*tensor.Tensor{
				tensor.T([]float64{1, 0}, []int{1, 2, 1}, l0, s0, l1),
				tensor.T([]float64{0, 1}, []int{1, 2, 1}, tensor.L("x"), s1, l2),
			},
			lambda: nil,
			cut:    NoCut,
			err:    tensor.ErrShapeMismatch,
		},
		{
			name:   "Lambda on the wrong link",
			ms:     productTensors(),
			lambda: tensor.T([]float64{1}, []int{1}, l0),
			cut:    1,
			err:    tensor.ErrShapeMismatch,
		},
		{
			name:   "Lambda of wrong rank",
			ms:     productTensors(),
			lambda: tensor.T([]float64{1}, []int{1, 1}, l1, tensor.L("x")),
			cut:    1,
			err:    tensor.ErrShapeMismatch,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(test.ms, test.lambda, test.cut); !errors.Is(err, test.err) {
				t.Fatalf("%+v, expected %v", err, test.err)
			}
		})
	}
}

func TestCompose(t *testing.T) {
	t.Parallel()
	ms := productTensors()
	lambda := tensor.T([]float64{1}, []int{1}, ms[0].Labels()[RLink])

	m, err := Compose(ms[:1], ms[1:], lambda)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got := m.Cut(); got != 1 {
		t.Fatalf("%d, expected 1", got)
	}
	if got, want := len(m.As()), 1; got != want {
		t.Fatalf("%d, expected %d", got, want)
	}
	if got, want := len(m.Bs()), 1; got != want {
		t.Fatalf("%d, expected %d", got, want)
	}

	if _, err := Compose(ms[:1], ms[1:], nil); !errors.Is(err, ErrInvalidCut) {
		t.Fatalf("%+v", err)
	}
	m, err = Compose(nil, ms, nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got := m.Cut(); got != NoCut {
		t.Fatalf("%d, expected NoCut", got)
	}
}

func TestCopyIsDeep(t *testing.T) {
	t.Parallel()
	m := productState(t)
	c := m.Copy()
	if err := c.ShiftRight(1); err != nil {
		t.Fatalf("%+v", err)
	}
	if got := m.Cut(); got != 1 {
		t.Fatalf("%d, expected 1", got)
	}
	if got := maxDiff(m.Site(1).Data(), []float64{0, 1}); got > 0 {
		t.Fatalf("site moved by %g", got)
	}
}

type recorder struct {
	events []truncationEvent
}

type truncationEvent struct {
	site, kept int
	discarded  float64
}

func (r *recorder) Truncation(site, kept int, discarded float64) {
	r.events = append(r.events, truncationEvent{site: site, kept: kept, discarded: discarded})
}

// productTensors is the two site chain of the state with the first spin up
// and the second down.
func productTensors() []*tensor.Tensor {
	l0, l1, l2 := tensor.L("l0"), tensor.L("l1"), tensor.L("l2")
	s0, s1 := tensor.L("s0"), tensor.L("s1")
	return []*tensor.Tensor{
		tensor.T([]float64{1, 0}, []int{1, 2, 1}, l0, s0, l1),
		tensor.T([]float64{0, 1}, []int{1, 2, 1}, l1, s1, l2),
	}
}

func productState(tb testing.TB) *MPS {
	ms := productTensors()
	lambda := tensor.T([]float64{1}, []int{1}, ms[0].Labels()[RLink])
	m, err := New(ms, lambda, 1)
	if err != nil {
		tb.Fatalf("%+v", err)
	}
	return m
}

func randState(n int, seed uint64) []float64 {
	rnd := rand.New(rand.NewPCG(seed, seed+1))
	state := make([]float64, n)
	var norm2 float64
	for i := range state {
		state[i] = rnd.Float64()*2 - 1
		norm2 += state[i] * state[i]
	}
	for i := range state {
		state[i] /= math.Sqrt(norm2)
	}
	return state
}

func stateVec(tb testing.TB, m *MPS) []float64 {
	dense, err := m.State()
	if err != nil {
		tb.Fatalf("%+v", err)
	}
	r, c := dense.Dims()
	if c != 1 {
		tb.Fatalf("%d columns, expected 1", c)
	}
	v := make([]float64, r)
	for i := range v {
		v[i] = dense.At(i, 0)
	}
	return v
}

func checkCanonical(tb testing.TB, m *MPS) {
	oks, err := m.IsCanonical(1e-12)
	if err != nil {
		tb.Fatalf("%+v", err)
	}
	for i, ok := range oks {
		if !ok {
			tb.Fatalf("site %d of %v not canonical", i, oks)
		}
	}
}

func maxDiff(a, b []float64) float64 {
	d := 0.0
	for i := range a {
		d = math.Max(d, math.Abs(a[i]-b[i]))
	}
	return d
}

// signDiff compares two vectors up to a global sign.
func signDiff(a, b []float64) float64 {
	plus, minus := 0.0, 0.0
	for i := range a {
		plus = math.Max(plus, math.Abs(a[i]-b[i]))
		minus = math.Max(minus, math.Abs(a[i]+b[i]))
	}
	return math.Min(plus, minus)
}

func fidelity(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	return math.Abs(dot) / math.Sqrt(na*nb)
}
