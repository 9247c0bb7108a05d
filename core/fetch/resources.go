package fetch

import (
	"net/url"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
)

// Params are the caller-supplied parameters of a fetch, e.g. {"userId": "u1"}.
type Params map[string]string

// key returns a stable representation of the params, used to tell fetches of the same resource apart.
func (p Params) key() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(url.QueryEscape(k) + "=" + url.QueryEscape(p[k]) + "&")
	}
	return b.String()
}

// ParamFilter maps a fetch parameter onto a secondary store predicate.
type ParamFilter struct {
	Param string
	Field string
	Op    Op
}

// Resource describes how to fetch one logical resource from the network and from the secondary store.
type Resource struct {
	Name       string
	Service    string // logical service, see Endpoints
	Path       string // may hold {param} placeholders, e.g. /api/jobs/applications/user/{userId}
	DomainKey  string // envelope key accepted by the normalizer
	Collection string // secondary store collection
	Filters    []ParamFilter
	Static     []Predicate // always applied on the secondary store
	OrderBy    *core.DBOrdering
}

// URL builds the network URL for `base`: placeholders are filled from params; the remaining params
// become the query string.
func (r Resource) URL(base string, params Params) (string, url.Values, error) {
	path := r.Path
	query := make(url.Values)
	for k, v := range params {
		placeholder := "{" + k + "}"
		if strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(v))
			continue
		}
		query.Set(k, v)
	}
	if i := strings.Index(path, "{"); i >= 0 {
		return "", nil, errors.Errorf("resource %q: missing path param in %q", r.Name, r.Path)
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"), query, nil
}

// Query builds the secondary store query equivalent to the network call.
func (r Resource) Query(params Params) Query {
	q := Query{Collection: r.Collection, OrderBy: r.OrderBy}
	q.Where = append(q.Where, r.Static...)
	for _, f := range r.Filters {
		if v, ok := params[f.Param]; ok && v != "" {
			q.Where = append(q.Where, Predicate{Field: f.Field, Op: f.Op, Value: v})
		}
	}
	return q
}

// Resources is a registry of resources by name.
type Resources map[string]Resource

// Register adds or replaces resources.
func (rs Resources) Register(resources ...Resource) {
	for _, r := range resources {
		rs[r.Name] = r
	}
}

func (rs Resources) Get(name string) (Resource, error) {
	if r, ok := rs[name]; ok {
		return r, nil
	}
	return Resource{}, errors.Wrapf(ErrUnknownResource, "%q", name)
}

// Names returns the registered resource names, sorted.
func (rs Resources) Names() []string {
	names := make([]string, 0, len(rs))
	for name := range rs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Service names used by DefaultResources.
const (
	ServiceAPI    = "api"
	ServiceEvents = "events"
)

// DefaultResources returns the dashboard resources: listings (jobs, mentorships, courses, events),
// their application collections and announcements.
func DefaultResources() Resources {
	byUser := []ParamFilter{{Param: "userId", Field: "userId", Op: OpEqual}}
	newest := &core.DBOrdering{Field: "createdAt", Ascending: false}

	rs := make(Resources)
	rs.Register(
		Resource{
			Name: "jobs", Service: ServiceAPI, Path: "/api/jobs", DomainKey: "jobs", Collection: "jobs",
			Filters: []ParamFilter{{Param: "status", Field: "status", Op: OpEqual}},
			OrderBy: newest,
		},
		Resource{
			Name: "jobApplications", Service: ServiceAPI, Path: "/api/jobs/applications/user/{userId}",
			DomainKey: "applications", Collection: "jobApplications", Filters: byUser,
		},
		Resource{
			Name: "mentorships", Service: ServiceAPI, Path: "/api/mentorships", DomainKey: "mentorships",
			Collection: "mentorships", Filters: []ParamFilter{{Param: "status", Field: "status", Op: OpEqual}},
			OrderBy: newest,
		},
		Resource{
			Name: "mentorshipApplications", Service: ServiceAPI, Path: "/api/mentorships/applications/user/{userId}",
			DomainKey: "applications", Collection: "mentorshipApplications", Filters: byUser,
		},
		Resource{
			Name: "courses", Service: ServiceAPI, Path: "/api/courses", DomainKey: "courses", Collection: "courses",
			Filters: []ParamFilter{{Param: "status", Field: "status", Op: OpEqual}},
		},
		Resource{
			Name: "courseEnrollments", Service: ServiceAPI, Path: "/api/courses/enrollments/user/{userId}",
			DomainKey: "applications", Collection: "courseEnrollments", Filters: byUser,
		},
		Resource{
			Name: "events", Service: ServiceEvents, Path: "/api/events", DomainKey: "events", Collection: "events",
			OrderBy: &core.DBOrdering{Field: "date", Ascending: true},
		},
		Resource{
			Name: "eventRegistrations", Service: ServiceEvents, Path: "/api/events/registered/{userId}",
			DomainKey: "events", Collection: "events",
			Filters: []ParamFilter{{Param: "userId", Field: "registeredUsers", Op: OpContains}},
			OrderBy: &core.DBOrdering{Field: "date", Ascending: true},
		},
		Resource{
			Name: "announcements", Service: ServiceAPI, Path: "/api/announcements", DomainKey: "announcements",
			Collection: "announcements", Static: []Predicate{Eq("published", true)}, OrderBy: newest,
		},
	)
	return rs
}
