package mps

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gharib85/HamiltonianPy/tensor"
)

// A Vidal is a matrix product state in the fully canonical form, with one
// Gamma tensor per site and the singular value spectrum of every internal
// link. It has no cut: every site is simultaneously left and right
// canonical once dressed with its neighboring Lambdas.
type Vidal struct {
	gammas  []*tensor.Tensor
	lambdas []*tensor.Tensor
}

// NewVidal returns a Vidal state over the given Gamma tensors and link
// spectra. The Gammas follow the (left link, site, right link) axis
// convention, and lambdas[i] lives on the link between sites i and i+1.
func NewVidal(gammas, lambdas []*tensor.Tensor) (*Vidal, error) {
	if len(gammas) != len(lambdas)+1 {
		return nil, errors.Wrap(tensor.ErrShapeMismatch, fmt.Sprintf("%d Gammas, %d Lambdas", len(gammas), len(lambdas)))
	}
	if err := validateChain(gammas); err != nil {
		return nil, errors.Wrap(err, "")
	}
	for i, l := range lambdas {
		if l.NDim() != 1 {
			return nil, errors.Wrap(tensor.ErrShapeMismatch, fmt.Sprintf("Lambda %d rank %d, expected 1", i, l.NDim()))
		}
		link, dim := gammas[i].Labels()[RLink], gammas[i].Shape()[RLink]
		if l.Labels()[0] != link || l.Shape()[0] != dim {
			return nil, errors.Wrap(tensor.ErrShapeMismatch, fmt.Sprintf("Lambda %d is %v, expected %s of length %d", i, l, link, dim))
		}
	}
	return &Vidal{gammas: cloneTensors(gammas), lambdas: cloneTensors(lambdas)}, nil
}

// Len returns the number of sites.
func (v *Vidal) Len() int { return len(v.gammas) }

// Gamma returns the i-th site tensor.
func (v *Vidal) Gamma(i int) *tensor.Tensor { return v.gammas[i].Clone() }

// Lambda returns the singular values on the link between sites i and i+1.
func (v *Vidal) Lambda(i int) *tensor.Tensor { return v.lambdas[i].Clone() }

// ToVidal converts to the Vidal representation. The chain is first brought
// into full right-canonical form, then a rightward sweep records the
// singular values of every internal link and divides them back out of the
// left-canonical tensors. The recording sweep only yields the Schmidt
// coefficients of a link when the tensors right of it are right-canonical,
// which is why the sweep cannot start from an arbitrary gauge. The total
// weight collected by the sweep must be one within the options norm
// tolerance, since the Vidal form only represents normalized pure states.
func (m *MPS) ToVidal(options ...Options) (*Vidal, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}

	c := m.Copy()
	if err := c.Canonicalize(0, opt); err != nil {
		return nil, errors.Wrap(err, "")
	}

	n := c.Len()
	gammas := make([]*tensor.Tensor, 0, n)
	lambdas := make([]*tensor.Tensor, 0, n-1)
	var prev *tensor.Tensor
	for i := 0; i < n; i++ {
		if err := c.shiftRight(opt); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("site %d", i))
		}
		gamma := c.ms[i].Clone()
		if i > 0 {
			var err error
			if gamma, err = gamma.DivVec(gamma.Labels()[LLink], prev); err != nil {
				return nil, errors.Wrap(err, "")
			}
		}
		gammas = append(gammas, gamma)
		if i < n-1 {
			prev = c.lambda.Clone()
			lambdas = append(lambdas, prev)
		}
	}

	norm := math.Abs(c.lambda.At(0))
	if math.Abs(norm-1) > opt.normTol {
		return nil, errors.Wrap(ErrNormalization, fmt.Sprintf("norm %v", norm))
	}
	return &Vidal{gammas: gammas, lambdas: lambdas}, nil
}

// ToMixed rebuilds the mixed canonical MPS with the cut on the given
// link, multiplying the link Lambdas into their neighboring Gammas up to
// the cut. The boundary cuts get the trivial unit Lambda on the
// corresponding dummy link.
func (v *Vidal) ToMixed(cut int) (*MPS, error) {
	n := len(v.gammas)
	if cut < 0 || cut > n {
		return nil, errors.Wrap(ErrInvalidCut, fmt.Sprintf("cut %d out of [0, %d]", cut, n))
	}

	ms := make([]*tensor.Tensor, 0, n)
	for i, g := range v.gammas {
		t, err := g.Clone(), error(nil)
		switch {
		case i < cut && i > 0:
			t, err = g.MulVec(g.Labels()[LLink], v.lambdas[i-1])
		case i >= cut && i < n-1:
			t, err = g.MulVec(g.Labels()[RLink], v.lambdas[i])
		}
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("site %d", i))
		}
		ms = append(ms, t)
	}

	var lambda *tensor.Tensor
	var err error
	switch cut {
	case 0:
		first := v.gammas[0]
		if first.Shape()[LLink] != 1 {
			return nil, errors.Wrap(ErrMixedState, "left boundary link is not trivial")
		}
		lambda, err = tensor.New([]float64{1}, []int{1}, first.Labels()[LLink])
	case n:
		last := v.gammas[n-1]
		if last.Shape()[RLink] != 1 {
			return nil, errors.Wrap(ErrMixedState, "right boundary link is not trivial")
		}
		lambda, err = tensor.New([]float64{1}, []int{1}, last.Labels()[RLink])
	default:
		lambda = v.lambdas[cut-1].Clone()
	}
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return &MPS{ms: ms, lambda: lambda, cut: cut}, nil
}

// State contracts the Gammas and link Lambdas into the dense state vector.
func (v *Vidal) State() (*mat.Dense, error) {
	res := v.gammas[0].Clone()
	for i := 1; i < len(v.gammas); i++ {
		g, err := v.gammas[i].MulVec(v.gammas[i].Labels()[LLink], v.lambdas[i-1])
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if res, err = tensor.Contract(res, g); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	data := res.Data()
	return mat.NewDense(len(data), 1, data), nil
}
