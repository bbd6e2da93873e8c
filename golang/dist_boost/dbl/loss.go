package dbl

import (
	"math"

	"github.com/pkg/errors"
)

//SplitLoss is a twice differentiable loss of a raw prediction.
type SplitLoss interface {
	Name() string
	Loss(target, prediction float64) float64
	lossDer1(target, prediction float64) float64
	lossDer2(target, prediction float64) float64
	//initialResponse maps the mean of the target into the raw prediction space
	initialResponse(mean float64) float64
	//Response maps a raw prediction into the target space
	Response(prediction float64) float64
}

//MseLoss is the squared error halved, so the gradient is the residual.
type MseLoss struct{}

func (MseLoss) Name() string { return "squared" }
func (MseLoss) Loss(target, prediction float64) float64 {
	d := prediction - target
	return 0.5 * d * d
}
func (MseLoss) lossDer1(target, prediction float64) float64 { return prediction - target }
func (MseLoss) lossDer2(_, _ float64) float64               { return 1 }
func (MseLoss) initialResponse(mean float64) float64         { return mean }
func (MseLoss) Response(prediction float64) float64          { return prediction }

//LogLoss is the binary cross entropy of a logit. Targets are 0 or 1.
type LogLoss struct{}

const probabilityEps = 1e-15

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clampProbability(p float64) float64 {
	return math.Min(math.Max(p, probabilityEps), 1-probabilityEps)
}

func (LogLoss) Name() string { return "logistic" }
func (LogLoss) Loss(target, prediction float64) float64 {
	p := clampProbability(sigmoid(prediction))
	return -(target*math.Log(p) + (1-target)*math.Log(1-p))
}
func (LogLoss) lossDer1(target, prediction float64) float64 { return sigmoid(prediction) - target }
func (LogLoss) lossDer2(_, prediction float64) float64 {
	p := sigmoid(prediction)
	return math.Max(p*(1-p), probabilityEps)
}
func (LogLoss) initialResponse(mean float64) float64 {
	p := clampProbability(mean)
	return math.Log(p / (1 - p))
}
func (LogLoss) Response(prediction float64) float64 { return sigmoid(prediction) }

//PoissonLoss is the Poisson deviance with the log link. Targets are counts or rates.
type PoissonLoss struct{}

func (PoissonLoss) Name() string { return "poisson" }
func (PoissonLoss) Loss(target, prediction float64) float64 {
	return math.Exp(prediction) - target*prediction
}
func (PoissonLoss) lossDer1(target, prediction float64) float64 { return math.Exp(prediction) - target }
func (PoissonLoss) lossDer2(_, prediction float64) float64      { return math.Exp(prediction) }
func (PoissonLoss) initialResponse(mean float64) float64 {
	return math.Log(math.Max(mean, probabilityEps))
}
func (PoissonLoss) Response(prediction float64) float64 { return math.Exp(prediction) }

//LossByName resolves the names used in configs and serialized models.
func LossByName(name string) (SplitLoss, error) {
	switch name {
	case "squared", "mse", "":
		return MseLoss{}, nil
	case "logistic", "logloss":
		return LogLoss{}, nil
	case "poisson":
		return PoissonLoss{}, nil
	default:
		return nil, errors.Wrapf(ErrIncorrectParameter, "unknown loss %q", name)
	}
}

//Rmse is the root mean squared difference of two equally long slices.
func Rmse(target, prediction []float64) float64 {
	s := 0.0
	for ind := range target {
		d := target[ind] - prediction[ind]
		s += d * d
	}
	return math.Sqrt(s / float64(len(target)))
}
