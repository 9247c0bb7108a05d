package reconcile

import (
	"sort"
	"time"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/fetch"
)

type (
	// Options carries the domain-specific predicates of a reconciliation. Nil funcs are ignored.
	Options struct {
		IsFull    func(Listing) bool
		IsExpired func(Listing) bool
		Less      func(a, b Listing) bool // orders SuggestedListings; source order when nil
	}

	// View is the derived dashboard state of one user. It is never persisted.
	// ApplicationRecords holds the user's applications only: applications of other users are left out,
	// applications without a userId are attributed to the user and counted in UnownedApplications.
	View struct {
		AppliedListings    []AppliedListing `json:"appliedListings"`
		ApplicationRecords []Application    `json:"applicationRecords"`
		SuggestedListings  []Listing        `json:"suggestedListings"`

		// UnownedApplications counts applications without a userId field that were attributed to the caller.
		UnownedApplications int `json:"unownedApplications"`
	}
)

// Reconcile joins listings and applications into the View of `userID`.
// It is pure and total: malformed records degrade to defaults, nothing is dropped silently.
//
//   - applications whose userId names another user are excluded from every part of the View;
//   - every application of the user resolves to exactly one entry of AppliedListings:
//     the matched listing, or a placeholder keyed by the referenced listing id;
//   - matched listings come first, in match order, then placeholders;
//   - SuggestedListings holds the active listings the user did not apply to that are neither full nor expired.
func Reconcile(listings, applications []fetch.Record, userID string, opts Options) View {
	view := View{
		AppliedListings:    []AppliedListing{},
		ApplicationRecords: []Application{},
		SuggestedListings:  []Listing{},
	}

	all := make([]Listing, 0, len(listings))
	lookup := make(map[string]Listing, len(listings))
	for _, rec := range listings {
		l := NewListing(rec)
		all = append(all, l)
		if l.ID == "" {
			continue
		}
		if _, ok := lookup[l.ID]; !ok {
			lookup[l.ID] = l
		}
	}

	var (
		applied      = make(map[string]bool)
		placeholders []AppliedListing
	)
	for _, rec := range applications {
		app := ParseApplication(rec)
		if !app.BelongsTo(userID) {
			continue
		}
		if !app.HasUser {
			view.UnownedApplications++
		}
		view.ApplicationRecords = append(view.ApplicationRecords, app)

		if applied[app.ListingID] {
			continue
		}
		applied[app.ListingID] = true
		if l, ok := lookup[app.ListingID]; ok && app.ListingID != "" {
			view.AppliedListings = append(view.AppliedListings, l)
		} else {
			placeholders = append(placeholders, app.Placeholder())
		}
	}
	view.AppliedListings = append(view.AppliedListings, placeholders...)

	suggested := make(map[string]bool)
	for _, l := range all {
		if l.ID != "" && (applied[l.ID] || suggested[l.ID]) {
			continue
		}
		if l.Status != ListingActive {
			continue
		}
		if opts.IsFull != nil && opts.IsFull(l) {
			continue
		}
		if opts.IsExpired != nil && opts.IsExpired(l) {
			continue
		}
		suggested[l.ID] = true
		view.SuggestedListings = append(view.SuggestedListings, l)
	}
	if opts.Less != nil {
		sort.SliceStable(view.SuggestedListings, func(i, j int) bool {
			return opts.Less(view.SuggestedListings[i], view.SuggestedListings[j])
		})
	}
	return view
}

// DeadlinePassed returns an IsExpired predicate: a listing is expired once the first
// parseable timestamp among `fields` is before `now`. Listings without one never expire.
func DeadlinePassed(now time.Time, fields ...string) func(Listing) bool {
	return func(l Listing) bool {
		for _, f := range fields {
			if t := parseTime(l.Record[f]); !t.IsZero() {
				return t.Before(now)
			}
		}
		return false
	}
}

// AtCapacity returns an IsFull predicate: a listing is full once its member count reaches its capacity.
// The capacity is the first numeric field among `capacityFields`; the member count is the first of
// `memberFields`, either a number or the length of an array. A missing or non-positive capacity means unlimited.
func AtCapacity(capacityFields, memberFields []string) func(Listing) bool {
	return func(l Listing) bool {
		capacity, ok := firstNumber(l.Record, capacityFields)
		if !ok || capacity <= 0 {
			return false
		}
		for _, f := range memberFields {
			switch v := l.Record[f].(type) {
			case []interface{}:
				return float64(len(v)) >= capacity
			case nil:
				continue
			default:
				if n, ok := toNumber(v); ok {
					return n >= capacity
				}
			}
		}
		return false
	}
}

// OrderBy returns a Less func ordering listings on a record field; listings missing it sort last.
func OrderBy(ord core.DBOrdering) func(a, b Listing) bool {
	return func(a, b Listing) bool {
		av, aok := a.Record[ord.Field]
		bv, bok := b.Record[ord.Field]
		switch {
		case !aok || av == nil:
			return false
		case !bok || bv == nil:
			return true
		}
		c := fetch.Compare(av, bv)
		if ord.Ascending {
			return c < 0
		}
		return c > 0
	}
}

func firstNumber(rec fetch.Record, fields []string) (float64, bool) {
	for _, f := range fields {
		if n, ok := toNumber(rec[f]); ok {
			return n, true
		}
	}
	return 0, false
}
