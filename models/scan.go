package models

// Stage is a step of the per-target scan state machine.
type Stage string

const (
	StageFetching      Stage = "fetching"
	StageExtracting    Stage = "extracting"
	StageDeduplicating Stage = "deduplicating"
	StagePersisting    Stage = "persisting"
	StageFiltering     Stage = "filtering"
	StageNotifying     Stage = "notifying"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// Notification channel statuses reported in ScanOutcome.Notification.
const (
	NotifySkipped = "skipped"
	NotifySent    = "sent"
)

// ScanOutcome is the transient result of scanning one target in one cycle.
type ScanOutcome struct {
	CycleID          string        `json:"cycle_id"`
	TargetID         int64         `json:"id"`
	Name             string        `json:"name"`
	Stage            Stage         `json:"stage"`
	FailedAt         Stage         `json:"failed_at,omitempty"`
	TotalScraped     int           `json:"total_scraped"`
	NewFound         int           `json:"new_found"`
	Notified         int           `json:"notified"`
	Notification     string        `json:"notification"`
	NotifiedListings []ListingView `json:"notified_listings"`
	BelowThreshold   []ListingView `json:"below_threshold"`
	Stats            Stats         `json:"stats"`
	FailureKind      FailureKind   `json:"failure_kind,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// Failed reports whether the scan ended before reaching StageDone.
func (o *ScanOutcome) Failed() bool {
	return o.Stage == StageFailed
}
