package reconcile

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/trezcool/masomo-portal/core/fetch"
)

const (
	unknownField      = "Unknown"
	unspecifiedField  = "Not specified"
	placeholderMarker = "isPlaceholder"
)

// listingKeys are the application fields that may reference the listing, in lookup order.
// Values may be bare ids or embedded listing objects.
var listingKeys = []string{
	"listingId", "jobId", "mentorshipId", "courseId", "eventId",
	"listing", "job", "mentorship", "course", "event",
}

// timeLayouts are the accepted timestamp layouts, in lookup order.
var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

type (
	// AppliedListing is an entry of View.AppliedListings: a real Listing or a PlaceholderListing.
	AppliedListing interface {
		ListingID() string
		DisplayTitle() string
		IsPlaceholder() bool
	}

	// Listing is a fetched parent record (job, mentorship, course or event).
	Listing struct {
		ID     string
		Title  string
		Status ListingStatus
		Record fetch.Record
	}

	// PlaceholderListing stands in for a listing an application references but the listing
	// collection does not contain. Its ID is the referenced listing id, so later joins stay stable.
	PlaceholderListing struct {
		ID       string
		Title    string
		Company  string
		Location string
	}
)

var (
	_ AppliedListing = Listing{}
	_ AppliedListing = PlaceholderListing{}
)

// NewListing wraps a fetched record. Missing fields degrade to defaults.
func NewListing(rec fetch.Record) Listing {
	if rec == nil {
		rec = fetch.Record{}
	}
	return Listing{
		ID:     rec.ID(),
		Title:  rec.String("title", "name"),
		Status: NormalizeListingStatus(rec.String("status")),
		Record: rec,
	}
}

func (l Listing) ListingID() string { return l.ID }

func (l Listing) DisplayTitle() string {
	if l.Title == "" {
		return unknownField
	}
	return l.Title
}

func (l Listing) IsPlaceholder() bool { return false }

// MarshalJSON renders the source record with its id normalized to a string.
func (l Listing) MarshalJSON() ([]byte, error) {
	out := l.Record.Clone()
	if l.ID != "" {
		out["id"] = l.ID
	}
	return json.Marshal(out)
}

func (p PlaceholderListing) ListingID() string    { return p.ID }
func (p PlaceholderListing) DisplayTitle() string { return p.Title }
func (p PlaceholderListing) IsPlaceholder() bool  { return true }

func (p PlaceholderListing) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"id":              p.ID,
		"title":           p.Title,
		"company":         p.Company,
		"location":        p.Location,
		placeholderMarker: true,
	})
}

// Application is a child record referencing a Listing.
type Application struct {
	ID        string
	ListingID string
	UserID    string
	HasUser   bool // false for legacy records without a userId field
	Status    ApplicationStatus
	AppliedAt time.Time // zero when missing or unparseable
	Record    fetch.Record

	listing fetch.Record // embedded listing object, if the reference carried one
}

// ParseApplication reads an application record. It never fails: missing fields degrade to defaults.
func ParseApplication(rec fetch.Record) Application {
	if rec == nil {
		rec = fetch.Record{}
	}
	app := Application{
		ID:        rec.ID(),
		Status:    NormalizeStatus(rec.String("status")),
		AppliedAt: parseTime(rec["appliedAt"]),
		Record:    rec,
	}
	if v, ok := rec["userId"]; ok {
		app.HasUser = true
		app.UserID = fetch.IDOf(v)
	}
	for _, key := range listingKeys {
		v, ok := rec[key]
		if !ok {
			continue
		}
		if id := fetch.IDOf(v); id != "" {
			app.ListingID = id
			if embedded, ok := v.(map[string]interface{}); ok {
				app.listing = embedded
			}
			break
		}
	}
	return app
}

// BelongsTo reports whether the application is userID's. Applications without a userId field
// are treated as the caller's.
func (a Application) BelongsTo(userID string) bool {
	return !a.HasUser || a.UserID == userID
}

// Placeholder synthesizes the listing this application references from the fields it carries.
func (a Application) Placeholder() PlaceholderListing {
	return PlaceholderListing{
		ID:       a.ListingID,
		Title:    a.field(unknownField, "title", "jobTitle", "listingTitle", "name"),
		Company:  a.field(unknownField, "company", "companyName", "organization"),
		Location: a.field(unspecifiedField, "location"),
	}
}

// field looks up `keys` in the embedded listing first, then in the application itself.
func (a Application) field(fallback string, keys ...string) string {
	if s := fetch.Record(a.listing).String(keys...); s != "" {
		return s
	}
	if s := a.Record.String(keys...); s != "" {
		return s
	}
	return fallback
}

// MarshalJSON renders the source record with canonical status and listing id.
func (a Application) MarshalJSON() ([]byte, error) {
	out := a.Record.Clone()
	if a.ID != "" {
		out["id"] = a.ID
	}
	out["listingId"] = a.ListingID
	out["status"] = a.Status
	return json.Marshal(out)
}

func parseTime(v interface{}) time.Time {
	switch val := v.(type) {
	case string:
		val = strings.TrimSpace(val)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, val); err == nil {
				return t
			}
		}
	case json.Number:
		if ms, err := val.Int64(); err == nil {
			return time.Unix(0, ms*int64(time.Millisecond)).UTC()
		}
	case float64:
		return time.Unix(0, int64(val)*int64(time.Millisecond)).UTC()
	case time.Time:
		return val
	}
	return time.Time{}
}

func toNumber(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	}
	return 0, false
}
