package watch

import (
	"time"

	"mangawatch/internal/source"
)

// Decision is the outcome of comparing a fresh record with persisted state.
type Decision struct {
	Changed bool
	Next    TrackedWork // valid only when Changed
}

// Detect reports a change only when rec carries a strictly greater
// installment number. Equal numbers with a different title or cover are not a change.
func Detect(persisted TrackedWork, rec source.Record, now time.Time) Decision {
	if rec.Installment <= persisted.LatestInstallment {
		return Decision{}
	}
	next := persisted
	next.Title = rec.Title
	next.LatestInstallment = rec.Installment
	next.LatestInstallmentURL = rec.InstallmentURL
	next.ImageURL = rec.ImageURL
	next.UpdatedAt = now
	return Decision{Changed: true, Next: next}
}
