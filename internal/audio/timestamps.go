package audio

import "time"

const nanosPerSecond = int64(time.Second)

// SampleOffset returns round(i * 1e9 / rate) in nanoseconds using integer
// arithmetic only, rounding half away from zero.
func SampleOffset(i int64, rate int) int64 {
	r := int64(rate)
	return (i*2*nanosPerSecond + r) / (2 * r)
}

// GenerateTimestamps returns one Unix-nanosecond timestamp per sample:
// start + round(i*1e9/rate) for i in [0, n).
//
// The per-sample period is split into a whole and fractional part so the
// loop only adds and compares; no multiplication or division per sample.
func GenerateTimestamps(start time.Time, rate int, n int) []int64 {
	if n <= 0 || rate <= 0 {
		return nil
	}
	out := make([]int64, n)
	t0 := start.UnixNano()
	r := int64(rate)

	// offset(i) = floor((2*i*1e9 + r) / 2r). Track numerator mod 2r.
	den := 2 * r
	step := 2 * nanosPerSecond
	stepQ, stepR := step/den, step%den
	q, rem := r/den, r%den
	for i := range out {
		out[i] = t0 + q
		q += stepQ
		rem += stepR
		if rem >= den {
			q++
			rem -= den
		}
	}
	return out
}
