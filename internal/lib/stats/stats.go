package stats

import (
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Mean — среднее арифметическое.
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// Median — медиана (взвешенная по эмпирическому распределению).
func Median(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := slices.Clone(data)
	slices.Sort(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// StdDev — стандартное отклонение выборки.
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// IQRFences — границы фильтра выбросов Тьюки: [Q1 − 1.5·IQR, Q3 + 1.5·IQR].
func IQRFences(data []float64) (low, high float64) {
	sorted := slices.Clone(data)
	slices.Sort(sorted)

	q1 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	iqr := q3 - q1

	return q1 - 1.5*iqr, q3 + 1.5*iqr
}

// FilterOutliers возвращает значения внутри границ IQR.
func FilterOutliers(data []float64) []float64 {
	low, high := IQRFences(data)
	out := make([]float64, 0, len(data))
	for _, v := range data {
		if v >= low && v <= high {
			out = append(out, v)
		}
	}
	return out
}
