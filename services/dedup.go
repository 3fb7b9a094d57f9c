package services

import (
	"yad2-watcher/models"
	"yad2-watcher/utils"
)

// Partition splits records into those whose token is not in seen (fresh) and
// those already recorded (known). Both keep the input order. A nil or empty
// seen set makes every record fresh.
func Partition(records []models.ListingRecord, seen *utils.TokenSet) (fresh, known []models.ListingRecord) {
	fresh = make([]models.ListingRecord, 0, len(records))
	for _, r := range records {
		if seen.Contains(r.Token) {
			known = append(known, r)
			continue
		}
		fresh = append(fresh, r)
	}
	return fresh, known
}
