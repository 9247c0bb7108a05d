package fetch

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResource_URL(t *testing.T) {
	rs := DefaultResources()

	tests := []struct {
		name      string
		resource  string
		base      string
		params    Params
		wantURL   string
		wantQuery string
		wantErr   bool
	}{
		{name: "plain", resource: "jobs", base: "https://api.test", wantURL: "https://api.test/api/jobs"},
		{name: "trailing slash", resource: "jobs", base: "https://api.test/", wantURL: "https://api.test/api/jobs"},
		{
			name: "query param", resource: "jobs", base: "https://api.test", params: Params{"status": "open"},
			wantURL: "https://api.test/api/jobs", wantQuery: "status=open",
		},
		{
			name: "path param", resource: "jobApplications", base: "https://api.test", params: Params{"userId": "u 1"},
			wantURL: "https://api.test/api/jobs/applications/user/u%201",
		},
		{name: "missing path param", resource: "jobApplications", base: "https://api.test", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := rs.Get(tt.resource)
			require.NoError(t, err)

			u, q, err := res.URL(tt.base, tt.params)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, u)
			assert.Equal(t, tt.wantQuery, q.Encode())
		})
	}
}

func TestResource_Query(t *testing.T) {
	rs := DefaultResources()

	res, _ := rs.Get("eventRegistrations")
	q := res.Query(Params{"userId": "u1"})
	assert.Equal(t, "events", q.Collection)
	assert.Equal(t, []Predicate{Contains("registeredUsers", "u1")}, q.Where)
	require.NotNil(t, q.OrderBy)
	assert.True(t, q.OrderBy.Ascending)

	res, _ = rs.Get("announcements")
	q = res.Query(nil)
	assert.Equal(t, []Predicate{Eq("published", true)}, q.Where)

	res, _ = rs.Get("jobs")
	assert.Empty(t, res.Query(Params{"status": ""}).Where)
}

func TestResources_Get(t *testing.T) {
	rs := DefaultResources()
	_, err := rs.Get("nope")
	assert.True(t, errors.Is(err, ErrUnknownResource))

	rs.Register(Resource{Name: "custom", Service: ServiceAPI, Path: "/custom"})
	assert.Contains(t, rs.Names(), "custom")
}

func TestParams_key(t *testing.T) {
	a := Params{"userId": "u1", "status": "open"}
	b := Params{"status": "open", "userId": "u1"}
	assert.Equal(t, a.key(), b.key())
	assert.NotEqual(t, a.key(), Params{"userId": "u1"}.key())
	assert.NotEqual(t, Params{"a": "b&c=d"}.key(), Params{"a": "b", "c": "d"}.key())
}
