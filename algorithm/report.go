package algorithm

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap/zapcore"
)

// A Summary describes a metric over a set of episodes.
type Summary struct {
	Mean float64

	// CI95 is the half-width of the 95% confidence interval
	// of the mean, 1.96*stddev/sqrt(N).
	CI95 float64

	N int
}

func summarize(vals []float64) Summary {
	if len(vals) == 0 {
		return Summary{}
	}
	mean, _ := stats.Mean(vals)
	std, _ := stats.StandardDeviationPopulation(vals)
	return Summary{
		Mean: mean,
		CI95: 1.96 * std / math.Sqrt(float64(len(vals))),
		N:    len(vals),
	}
}

// A Report holds the metrics of a pass over a loader.
type Report struct {
	// Episodes is the number of episodes seen.
	Episodes int

	Metrics map[string]Summary
}

// Names returns the sorted metric names.
func (r *Report) Names() []string {
	var res []string
	for k := range r.Metrics {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// MarshalLogObject logs the mean of every metric.
func (r *Report) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("episodes", r.Episodes)
	for _, name := range r.Names() {
		enc.AddFloat64(name, r.Metrics[name].Mean)
	}
	return nil
}
