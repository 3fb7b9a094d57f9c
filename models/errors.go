package models

import "errors"

// Failure taxonomy shared by the scraper, storage and notification layers.
// Callers wrap these with fmt.Errorf("%w") and match them with errors.Is.
var (
	ErrFetchFailure     = errors.New("fetch failure")
	ErrChallengeFailure = errors.New("bot challenge not resolved")
	ErrParseFailure     = errors.New("page payload parse failure")
	ErrSchemaFailure    = errors.New("page payload has no listing collection")
	ErrPersistFailure   = errors.New("persistence failure")
	ErrDeliveryFailure  = errors.New("delivery failure")
)

// FailureKind labels a failed scan for operators.
type FailureKind string

const (
	FailureFetch     FailureKind = "fetch"
	FailureChallenge FailureKind = "challenge"
	FailureParse     FailureKind = "parse"
	FailureSchema    FailureKind = "schema"
	FailurePersist   FailureKind = "persist"
	FailureUnknown   FailureKind = "unknown"
)

// ClassifyFailure maps an error chain onto its FailureKind.
func ClassifyFailure(err error) FailureKind {
	switch {
	case errors.Is(err, ErrChallengeFailure):
		return FailureChallenge
	case errors.Is(err, ErrFetchFailure):
		return FailureFetch
	case errors.Is(err, ErrSchemaFailure):
		return FailureSchema
	case errors.Is(err, ErrParseFailure):
		return FailureParse
	case errors.Is(err, ErrPersistFailure):
		return FailurePersist
	default:
		return FailureUnknown
	}
}
