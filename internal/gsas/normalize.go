package gsas

import (
	"math"

	"github.com/rotisserie/eris"
)

const (
	// MaxStepDeviation bounds the difference between the mean logarithmic
	// step and the nominal step.
	MaxStepDeviation = 1e-7
	// MaxStepStdDev bounds the spread of logarithmic steps.
	MaxStepStdDev  = 1e-5
	alignTolerance = 1e-6
)

// CheckLogBinning verifies that x is logarithmically binned. A nominal of 0
// checks only the spread of the steps.
func CheckLogBinning(x []float64, nominal float64) error {
	steps, err := relativeSteps(x)
	if err != nil {
		return err
	}
	mean, std := meanStd(steps)
	if nominal != 0 && math.Abs(mean-math.Abs(nominal)) > MaxStepDeviation {
		return eris.Errorf("gsas: log step %.9g deviates from nominal %.9g by more than %g", mean, math.Abs(nominal), MaxStepDeviation)
	}
	if std > MaxStepStdDev {
		return eris.Errorf("gsas: log step standard deviation %.3g exceeds %g", std, MaxStepStdDev)
	}
	return nil
}

// LogStep returns the mean relative step of x.
func LogStep(x []float64) (float64, error) {
	steps, err := relativeSteps(x)
	if err != nil {
		return 0, err
	}
	mean, _ := meanStd(steps)
	return mean, nil
}

func logStep(x []float64) (float64, bool) {
	steps, err := relativeSteps(x)
	if err != nil {
		return 0, false
	}
	mean, std := meanStd(steps)
	return mean, std <= MaxStepStdDev
}

func relativeSteps(x []float64) ([]float64, error) {
	if len(x) < 2 {
		return nil, eris.Errorf("gsas: need at least 2 points, got %d", len(x))
	}
	steps := make([]float64, len(x)-1)
	for i := range steps {
		if x[i] <= 0 {
			return nil, eris.Errorf("gsas: non-positive x %g at index %d", x[i], i)
		}
		steps[i] = (x[i+1] - x[i]) / x[i]
	}
	return steps, nil
}

func meanStd(v []float64) (float64, float64) {
	var sum float64
	for _, s := range v {
		sum += s
	}
	mean := sum / float64(len(v))
	var sq float64
	for _, s := range v {
		sq += (s - mean) * (s - mean)
	}
	return mean, math.Sqrt(sq / float64(len(v)))
}

// Align converts both banks to point data and trims them to their common
// X range. X values must coincide within a relative tolerance.
func Align(sample, van Bank) (Bank, Bank, error) {
	s, v := Points(sample), Points(van)
	if len(s.X) == 0 || len(v.X) == 0 {
		return Bank{}, Bank{}, eris.New("gsas: cannot align empty bank")
	}
	si, vi := 0, 0
	switch {
	case closeTo(s.X[0], v.X[0]):
	case s.X[0] < v.X[0]:
		si = indexOf(s.X, v.X[0])
	default:
		vi = indexOf(v.X, s.X[0])
	}
	if si < 0 || vi < 0 {
		return Bank{}, Bank{}, eris.Errorf("gsas: bank %d x ranges do not share a bin", sample.ID)
	}
	n := min(len(s.X)-si, len(v.X)-vi)
	for i := 0; i < n; i++ {
		if !closeTo(s.X[si+i], v.X[vi+i]) {
			return Bank{}, Bank{}, eris.Errorf("gsas: bank %d bins differ at x=%g", sample.ID, s.X[si+i])
		}
	}
	return slice(s, si, n), slice(v, vi, n), nil
}

func indexOf(x []float64, target float64) int {
	for i, v := range x {
		if closeTo(v, target) {
			return i
		}
	}
	return -1
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= alignTolerance*math.Max(math.Abs(a), math.Abs(b))
}

func slice(b Bank, start, n int) Bank {
	return Bank{ID: b.ID, X: b.X[start : start+n], Y: b.Y[start : start+n], E: b.E[start : start+n]}
}

// Divide divides sample by vanadium point by point, propagating relative
// errors. Points with zero vanadium intensity become zero.
func Divide(sample, van Bank) (Bank, error) {
	if len(sample.Y) != len(van.Y) {
		return Bank{}, eris.Errorf("gsas: bank %d length mismatch %d != %d", sample.ID, len(sample.Y), len(van.Y))
	}
	out := Bank{
		ID: sample.ID,
		X:  append([]float64(nil), sample.X...),
		Y:  make([]float64, len(sample.Y)),
		E:  make([]float64, len(sample.Y)),
	}
	for i := range sample.Y {
		v := van.Y[i]
		if v == 0 {
			continue
		}
		s := sample.Y[i]
		y := s / v
		out.Y[i] = y
		var rel2 float64
		if s != 0 {
			rel2 += (sample.E[i] / s) * (sample.E[i] / s)
		}
		rel2 += (van.E[i] / v) * (van.E[i] / v)
		out.E[i] = math.Abs(y) * math.Sqrt(rel2)
	}
	return out, nil
}

// Normalize divides every sample bank by the vanadium bank with the same ID
// after checking that both share the same logarithmic binning.
func Normalize(sample, van *Pattern) (*Pattern, error) {
	out := &Pattern{Title: sample.Title, Comments: append([]string(nil), sample.Comments...)}
	for _, sb := range sample.Banks {
		vb, ok := van.Bank(sb.ID)
		if !ok {
			return nil, eris.Errorf("gsas: vanadium has no bank %d", sb.ID)
		}
		sp := Points(sb)
		step, err := LogStep(sp.X)
		if err != nil {
			return nil, eris.Wrapf(err, "gsas: bank %d", sb.ID)
		}
		if err := CheckLogBinning(Points(vb).X, step); err != nil {
			return nil, eris.Wrapf(err, "gsas: vanadium bank %d binning", sb.ID)
		}
		s, v, err := Align(sb, vb)
		if err != nil {
			return nil, err
		}
		nb, err := Divide(s, v)
		if err != nil {
			return nil, err
		}
		out.Banks = append(out.Banks, nb)
	}
	return out, nil
}

func sqrtAbs(v float64) float64 {
	return math.Sqrt(math.Abs(v))
}
