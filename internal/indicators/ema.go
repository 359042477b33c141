package indicators

// EMASeries returns the EMA of values, seeded with the SMA of the first
// period values. out[0] corresponds to values[period-1].
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	multiplier := 2.0 / float64(period+1)

	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	ema := seed / float64(period)

	out := make([]float64, 0, len(values)-period+1)
	out = append(out, ema)
	for _, v := range values[period:] {
		ema = (v-ema)*multiplier + ema
		out = append(out, ema)
	}
	return out
}
