package optimize

// None is an optimizer which computes the initial likelihood and
// exits.
type None struct {
	BaseOptimizer
}

// NewNone creates an optimizer which computes initial likelihood only.
func NewNone() *None {
	return &None{
		BaseOptimizer: BaseOptimizer{name: "none"},
	}
}

// Run computes the likelihood once.
func (n *None) Run(iterations int) {
	n.PrintHeader(n.parameters)
	n.l = n.likelihood(n.Optimizable, n.parameters)
	n.PrintLine(n.parameters, n.l)
	n.PrintFinal(n.parameters)
}
