package dbl

//SplitScorer evaluates candidate splits and leaf weights from gradient statistics.
type SplitScorer interface {
	Gain(left, right, parent Stats, p Params) float64
	LeafWeight(node Stats, p Params) float64
}

//softThreshold shrinks g towards zero by alpha.
func softThreshold(g, alpha float64) float64 {
	switch {
	case g > alpha:
		return g - alpha
	case g < -alpha:
		return g + alpha
	default:
		return 0
	}
}

//XGBoostScorer is the regularized second order gain with L1, L2 and gamma penalties.
type XGBoostScorer struct{}

func (XGBoostScorer) score(s Stats, p Params) float64 {
	t := softThreshold(s.Grad, p.Alpha)
	return t * t / (s.Hess + p.Lambda)
}

func (sc XGBoostScorer) Gain(left, right, parent Stats, p Params) float64 {
	return 0.5*(sc.score(left, p)+sc.score(right, p)-sc.score(parent, p)) - p.MinSplitLoss
}

func (XGBoostScorer) LeafWeight(node Stats, p Params) float64 {
	den := node.Hess + p.Lambda
	if den <= 0 {
		return 0
	}
	return -softThreshold(node.Grad, p.Alpha) / den
}

//VarianceReductionScorer ignores hessians: the gain is the drop of the summed squared
//deviation of gradients, the leaf weight is the negative mean gradient.
type VarianceReductionScorer struct{}

func (VarianceReductionScorer) impurity(s Stats) float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Grad * s.Grad / float64(s.Count)
}

func (sc VarianceReductionScorer) Gain(left, right, parent Stats, p Params) float64 {
	return sc.impurity(left) + sc.impurity(right) - sc.impurity(parent) - p.MinSplitLoss
}

func (VarianceReductionScorer) LeafWeight(node Stats, _ Params) float64 {
	if node.Count == 0 {
		return 0
	}
	return -node.Grad / float64(node.Count)
}

//ScorerByName resolves the scorers known to configs.
func ScorerByName(name string) (SplitScorer, bool) {
	switch name {
	case "xgboost", "":
		return XGBoostScorer{}, true
	case "variance":
		return VarianceReductionScorer{}, true
	}
	return nil, false
}
