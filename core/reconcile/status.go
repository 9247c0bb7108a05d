package reconcile

import "github.com/trezcool/masomo-portal/core"

// ApplicationStatus is the canonical status of an application.
type ApplicationStatus string

const (
	StatusPending  ApplicationStatus = "pending"
	StatusAccepted ApplicationStatus = "accepted"
	StatusRejected ApplicationStatus = "rejected"
)

var applicationStatuses = map[string]ApplicationStatus{
	"approved": StatusAccepted,
	"accepted": StatusAccepted,
	"rejected": StatusRejected,
	"declined": StatusRejected,
}

// NormalizeStatus maps a raw application status (any case) to its canonical value.
// Unknown and missing values are pending. It is idempotent.
func NormalizeStatus(raw string) ApplicationStatus {
	if status, ok := applicationStatuses[core.CleanString(raw, true)]; ok {
		return status
	}
	return StatusPending
}

// ListingStatus is the canonical status of a listing.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingUpcoming  ListingStatus = "upcoming"
	ListingCompleted ListingStatus = "completed"
	ListingUnknown   ListingStatus = "unknown"
)

var listingStatuses = map[string]ListingStatus{
	"active":    ListingActive,
	"open":      ListingActive,
	"published": ListingActive,
	"ongoing":   ListingActive,
	"upcoming":  ListingUpcoming,
	"scheduled": ListingUpcoming,
	"completed": ListingCompleted,
	"closed":    ListingCompleted,
	"ended":     ListingCompleted,
	"finished":  ListingCompleted,
	"archived":  ListingCompleted,
}

// NormalizeListingStatus maps a raw listing status (any case) to its canonical value.
func NormalizeListingStatus(raw string) ListingStatus {
	if status, ok := listingStatuses[core.CleanString(raw, true)]; ok {
		return status
	}
	return ListingUnknown
}
