package reconcile

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/fetch"
)

var (
	// ErrUnknownDomain is returned by Service.View for an unregistered domain.
	ErrUnknownDomain = errors.New("unknown domain")

	nowFunc = time.Now // mockable
)

type (
	// Fetcher is the part of fetch.Orchestrator the Service depends on.
	Fetcher interface {
		FetchResource(ctx context.Context, name string, params fetch.Params) fetch.Result
	}

	// Domain pairs a listing resource with the resource holding the user's applications to it.
	Domain struct {
		Name         string
		Listings     string // resource name
		Applications string // resource name, fetched with {"userId": <user>}
		Options      func(now time.Time) Options

		// ToApplications converts the fetched application resource into application records,
		// for domains whose "applications" are the listings themselves (e.g. registered events).
		ToApplications func(records []fetch.Record, userID string) []fetch.Record
	}

	// Dashboard is the reconciled view of one domain plus where its data came from.
	Dashboard struct {
		Domain string `json:"domain"`
		View
		Sources  map[string]string `json:"sources"` // resource -> network | secondary | none
		Degraded bool              `json:"degraded"`
	}

	// Service fetches both collections of a domain concurrently and reconciles them.
	Service struct {
		fetcher Fetcher
		domains map[string]Domain
		logger  core.Logger
	}
)

// NewService serves DefaultDomains when none are given.
func NewService(fetcher Fetcher, logger core.Logger, domains ...Domain) *Service {
	if len(domains) == 0 {
		domains = DefaultDomains()
	}
	svc := &Service{fetcher: fetcher, domains: make(map[string]Domain, len(domains)), logger: logger}
	for _, d := range domains {
		svc.domains[d.Name] = d
	}
	return svc
}

// Domains returns the served domain names, sorted.
func (svc *Service) Domains() []string {
	names := make([]string, 0, len(svc.domains))
	for name := range svc.domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// View fetches listings and the applications of userID for `domain`, joins both fetches and reconciles them.
// Fetch failures degrade to empty collections; the only errors are an unknown domain,
// a canceled context and fetch.ErrStale when a newer request superseded this one.
// Applications of other users are not part of the Dashboard, ApplicationRecords included.
func (svc *Service) View(ctx context.Context, domain, userID string) (Dashboard, error) {
	d, ok := svc.domains[domain]
	if !ok {
		return Dashboard{}, errors.Wrapf(ErrUnknownDomain, "%q", domain)
	}

	var listings, applications fetch.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		listings = svc.fetcher.FetchResource(gctx, d.Listings, nil)
		return staleErr(listings)
	})
	g.Go(func() error {
		applications = svc.fetcher.FetchResource(gctx, d.Applications, fetch.Params{"userId": userID})
		return staleErr(applications)
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	if err := ctx.Err(); err != nil {
		return Dashboard{}, errors.Wrap(err, "building dashboard")
	}

	apps := applications.Records
	if d.ToApplications != nil {
		apps = d.ToApplications(apps, userID)
	}
	var opts Options
	if d.Options != nil {
		opts = d.Options(nowFunc())
	}

	view := Reconcile(listings.Records, apps, userID, opts)
	if view.UnownedApplications > 0 && svc.logger != nil {
		svc.logger.Warn("applications without userId attributed to the caller", map[string]interface{}{
			"domain":  domain,
			"user_id": userID,
			"count":   view.UnownedApplications,
		})
	}

	return Dashboard{
		Domain: domain,
		View:   view,
		Sources: map[string]string{
			d.Listings:     listings.Source.String(),
			d.Applications: applications.Source.String(),
		},
		Degraded: listings.Degraded() || applications.Degraded(),
	}, nil
}

func staleErr(res fetch.Result) error {
	if res.Stale {
		return errors.Wrapf(fetch.ErrStale, "%s", res.Resource)
	}
	return nil
}

// DefaultDomains returns the jobs, mentorships, courses and events domains over fetch.DefaultResources.
func DefaultDomains() []Domain {
	return []Domain{
		{
			Name: "jobs", Listings: "jobs", Applications: "jobApplications",
			Options: func(now time.Time) Options {
				return Options{
					IsExpired: DeadlinePassed(now, "deadline", "applicationDeadline"),
					Less:      OrderBy(core.DBOrdering{Field: "createdAt"}),
				}
			},
		},
		{
			Name: "mentorships", Listings: "mentorships", Applications: "mentorshipApplications",
			Options: func(time.Time) Options {
				return Options{IsFull: AtCapacity([]string{"capacity", "maxMentees"}, []string{"mentees", "menteeCount"})}
			},
		},
		{
			Name: "courses", Listings: "courses", Applications: "courseEnrollments",
			Options: func(now time.Time) Options {
				return Options{
					IsFull:    AtCapacity([]string{"capacity", "maxStudents"}, []string{"enrolledStudents", "enrolledCount"}),
					IsExpired: DeadlinePassed(now, "enrollmentDeadline", "endDate"),
				}
			},
		},
		{
			Name: "events", Listings: "events", Applications: "eventRegistrations",
			Options: func(now time.Time) Options {
				return Options{
					IsFull:    AtCapacity([]string{"capacity", "maxAttendees"}, []string{"registeredUsers", "attendeeCount"}),
					IsExpired: DeadlinePassed(now, "date"),
					Less:      OrderBy(core.DBOrdering{Field: "date", Ascending: true}),
				}
			},
			ToApplications: RegistrationsAsApplications,
		},
	}
}

// RegistrationsAsApplications turns the events a user registered for into accepted applications to them.
func RegistrationsAsApplications(events []fetch.Record, userID string) []fetch.Record {
	apps := make([]fetch.Record, 0, len(events))
	for _, ev := range events {
		apps = append(apps, fetch.Record{
			"id":        ev.ID() + ":" + userID,
			"listingId": ev.ID(),
			"userId":    userID,
			"status":    string(StatusAccepted),
			"title":     ev.String("title", "name"),
			"location":  ev.String("location"),
		})
	}
	return apps
}
