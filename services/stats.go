package services

import (
	"sort"

	"yad2-watcher/models"
)

// ComputeStats summarizes price-per-sqm over every listing where it is
// defined. It is recomputed from scratch on each call.
func ComputeStats(listings []*models.SeenListing) models.Stats {
	values := make([]float64, 0, len(listings))
	for _, l := range listings {
		if l == nil || l.PricePerSqm == nil {
			continue
		}
		values = append(values, *l.PricePerSqm)
	}

	stats := models.Stats{Count: len(values)}
	if len(values) == 0 {
		return stats
	}

	sort.Float64s(values)

	var total float64
	for _, v := range values {
		total += v
	}
	min, max := values[0], values[len(values)-1]
	mean := total / float64(len(values))
	median := medianOfSorted(values)

	stats.Min = &min
	stats.Max = &max
	stats.Mean = &mean
	stats.Median = &median
	return stats
}

// medianOfSorted expects a non-empty ascending slice.
func medianOfSorted(values []float64) float64 {
	mid := len(values) / 2
	if len(values)%2 == 0 {
		return (values[mid-1] + values[mid]) / 2
	}
	return values[mid]
}
