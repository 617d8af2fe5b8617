package formulas

// EWMAlpha returns the smoothing factor for an exponentially weighted
// mean with the given span: alpha = 2 / (span + 1).
func EWMAlpha(span int) float64 {
	if span < 1 {
		span = 1
	}
	return 2.0 / (float64(span) + 1.0)
}

// CalculateEWM calculates a recursive exponentially weighted mean.
//
// The recursion is seeded with the first observation (no warm-up SMA):
//
//	y[0] = x[0]
//	y[t] = alpha*x[t] + (1-alpha)*y[t-1]
//
// The output has the same length as the input.
func CalculateEWM(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	alpha := EWMAlpha(span)
	out[0] = values[0]
	for t := 1; t < len(values); t++ {
		out[t] = alpha*values[t] + (1-alpha)*out[t-1]
	}
	return out
}

// SmoothTwice applies CalculateEWM two times in sequence
func SmoothTwice(values []float64, span int) []float64 {
	return CalculateEWM(CalculateEWM(values, span), span)
}
