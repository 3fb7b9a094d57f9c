package storage

import (
	"sort"

	"yad2-watcher/models"
)

func sortByPricePerSqm(ls []*models.SeenListing) {
	sort.SliceStable(ls, func(i, j int) bool {
		return *ls[i].PricePerSqm < *ls[j].PricePerSqm
	})
}

func sortNewestFirst(ls []*models.SeenListing) {
	sort.SliceStable(ls, func(i, j int) bool {
		if ls[i].FirstSeenAt.Equal(ls[j].FirstSeenAt) {
			return ls[i].ID > ls[j].ID
		}
		return ls[i].FirstSeenAt.After(ls[j].FirstSeenAt)
	})
}
