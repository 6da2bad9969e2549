// Package timescan reduces a chronological time series to per-pixel temporal
// statistics: plain moments, percentiles and the parameters of one annual
// harmonic.
package timescan

import (
	"fmt"
	"math"
	"sort"

	"github.com/rkm/s1ard/internal/raster"
)

// Aliases expanded before processing.
var metricAliases = map[string][]string{
	"harmonics":   {"amplitude", "phase", "residuals"},
	"percentiles": {"p95", "p5"},
}

// ExpandMetrics resolves metric aliases, keeping order and dropping
// duplicates.
func ExpandMetrics(metrics []string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(m string) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	for _, m := range metrics {
		if expanded, ok := metricAliases[m]; ok {
			for _, e := range expanded {
				add(e)
			}
			continue
		}
		add(m)
	}
	return out
}

// Options controls the reduction.
type Options struct {
	// RemoveOutliers drops samples outside mean ± 3σ before any metric.
	// Pixels with fewer than 5 finite samples keep all of them.
	RemoveOutliers bool
	// ToPower treats the input as dB: samples are converted to linear
	// power before the statistics and value-domain metrics are converted
	// back to dB.
	ToPower bool
}

// Angular frequency of the annual cycle, per day.
const annualOmega = 2 * math.Pi / 365.25

// Reduce computes one metric image from a chronological stack. days holds
// the acquisition offset of each layer in days since the first one; it is
// only used by the harmonic metrics but must always match the stack length.
func Reduce(metric string, stack []*raster.Raster, days []float64, opts Options) (*raster.Raster, error) {
	if len(stack) == 0 {
		return nil, fmt.Errorf("cannot reduce an empty stack")
	}
	if len(days) != len(stack) {
		return nil, fmt.Errorf("have %d layers but %d acquisition offsets", len(stack), len(days))
	}
	first := stack[0]
	for _, r := range stack[1:] {
		if r.Width != first.Width || r.Height != first.Height {
			return nil, fmt.Errorf("stack layers disagree on dimensions")
		}
	}

	out := raster.New(first.Width, first.Height)
	out.Transform = first.Transform
	out.NoData = math.NaN()

	samples := make([]float64, 0, len(stack))
	times := make([]float64, 0, len(stack))
	for i := range out.Data {
		samples = samples[:0]
		times = times[:0]
		for l, r := range stack {
			v := float64(r.Data[i])
			if math.IsNaN(v) {
				continue
			}
			if opts.ToPower {
				v = math.Pow(10, v/10)
			}
			samples = append(samples, v)
			times = append(times, days[l])
		}
		if opts.RemoveOutliers && len(samples) >= 5 {
			samples, times = dropOutliers(samples, times)
		}
		out.Data[i] = float32(reducePixel(metric, samples, times, opts.ToPower))
	}
	return out, nil
}

func reducePixel(metric string, samples, times []float64, toPower bool) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	var v float64
	switch metric {
	case "avg":
		v = mean(samples)
	case "max":
		v = samples[0]
		for _, s := range samples[1:] {
			v = math.Max(v, s)
		}
	case "min":
		v = samples[0]
		for _, s := range samples[1:] {
			v = math.Min(v, s)
		}
	case "std":
		return stddev(samples)
	case "p5":
		v = percentile(samples, 5)
	case "p95":
		v = percentile(samples, 95)
	case "amplitude", "phase", "residuals":
		return harmonic(metric, samples, times)
	default:
		return math.NaN()
	}
	if toPower {
		return 10 * math.Log10(v)
	}
	return v
}

func mean(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

func stddev(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	m := mean(samples)
	var sum float64
	for _, s := range samples {
		sum += (s - m) * (s - m)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// percentile uses the nearest-rank rule over the sorted finite samples.
func percentile(samples []float64, p float64) float64 {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func dropOutliers(samples, times []float64) ([]float64, []float64) {
	m := mean(samples)
	sd := stddev(samples)
	lo, hi := m-3*sd, m+3*sd

	outS := samples[:0]
	outT := times[:0]
	for i, s := range samples {
		if s < lo || s > hi {
			continue
		}
		outS = append(outS, s)
		outT = append(outT, times[i])
	}
	return outS, outT
}

// harmonic fits y = m + A·cos(ωt) + B·sin(ωt) with the annual frequency by
// solving the 3x3 normal equations, and returns the requested parameter:
// amplitude √(A²+B²), phase atan2(B, A), or the fit RMSE.
func harmonic(metric string, samples, times []float64) float64 {
	if len(samples) < 3 {
		return math.NaN()
	}

	var n [3][3]float64
	var rhs [3]float64
	for i, y := range samples {
		c := math.Cos(annualOmega * times[i])
		s := math.Sin(annualOmega * times[i])
		basis := [3]float64{1, c, s}
		for r := 0; r < 3; r++ {
			for col := 0; col < 3; col++ {
				n[r][col] += basis[r] * basis[col]
			}
			rhs[r] += basis[r] * y
		}
	}

	coef, ok := solve3(n, rhs)
	if !ok {
		return math.NaN()
	}
	m, a, b := coef[0], coef[1], coef[2]

	switch metric {
	case "amplitude":
		return math.Hypot(a, b)
	case "phase":
		return math.Atan2(b, a)
	default:
		var sum float64
		for i, y := range samples {
			fit := m + a*math.Cos(annualOmega*times[i]) + b*math.Sin(annualOmega*times[i])
			sum += (y - fit) * (y - fit)
		}
		return math.Sqrt(sum / float64(len(samples)))
	}
}

// solve3 solves a 3x3 linear system by Gaussian elimination with partial
// pivoting.
func solve3(a [3][3]float64, b [3]float64) ([3]float64, bool) {
	for col := 0; col < 3; col++ {
		pivot := col
		for r := col + 1; r < 3; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return [3]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < 3; r++ {
			f := a[r][col] / a[col][col]
			for c := col; c < 3; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}

	var x [3]float64
	for r := 2; r >= 0; r-- {
		x[r] = b[r]
		for c := r + 1; c < 3; c++ {
			x[r] -= a[r][c] * x[c]
		}
		x[r] /= a[r][r]
	}
	return x, true
}
