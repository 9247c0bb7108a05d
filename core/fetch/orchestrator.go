package fetch

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
)

// Source tells where the records of a Result came from.
type Source int

const (
	SourceNone Source = iota
	SourceNetwork
	SourceSecondary
)

func (s Source) String() string {
	switch s {
	case SourceNetwork:
		return "network"
	case SourceSecondary:
		return "secondary"
	default:
		return "none"
	}
}

// Attempt records one candidate tried by the orchestrator.
type Attempt struct {
	Candidate string
	Outcome   string // "success" or a Kind name
	Retries   int
}

// Result is the outcome of FetchResource. Records is never nil.
// Err is a diagnostic only: callers render Records (possibly empty) whatever it holds.
type Result struct {
	Resource string
	Records  []Record
	Source   Source
	Shape    Shape
	Attempts []Attempt
	Stale    bool
	Err      error
}

// Degraded reports whether the result did not come from an authoritative network answer.
func (r Result) Degraded() bool {
	return r.Source != SourceNetwork
}

type (
	OrchestratorOptions struct {
		Resources Resources
		Endpoints Endpoints
		Executor  *Executor
		Tokens    TokenProvider // refreshed once per fetch on auth failures when it is a Refresher
		Store     SecondaryStore
		Logger    core.Logger
	}

	// Orchestrator fetches logical resources: network candidates first, then the secondary store.
	Orchestrator struct {
		resources Resources
		endpoints Endpoints
		exec      *Executor
		tokens    TokenProvider
		store     SecondaryStore
		logger    core.Logger
		gens      *generations
	}
)

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	resources := opts.Resources
	if resources == nil {
		resources = DefaultResources()
	}
	return &Orchestrator{
		resources: resources,
		endpoints: opts.Endpoints,
		exec:      opts.Executor,
		tokens:    opts.Tokens,
		store:     opts.Store,
		logger:    opts.Logger,
		gens:      newGenerations(),
	}
}

// Resources returns the registry the orchestrator serves.
func (o *Orchestrator) Resources() Resources { return o.resources }

// FetchResource fetches the named resource. It never fails: on total failure it returns
// an empty Result whose Err explains why. When ctx carries a scope (see WithScope), a newer
// fetch of the same resource and params in that scope cancels this one, which then comes
// back Stale with no records. Unscoped fetches are never superseded.
func (o *Orchestrator) FetchResource(ctx context.Context, name string, params Params) Result {
	res := Result{Resource: name, Records: []Record{}}

	resource, err := o.resources.Get(name)
	if err != nil {
		res.Err = err
		o.logError("unknown resource", res)
		return res
	}

	scope, scoped := ScopeFromContext(ctx)
	if !scoped {
		return o.fetch(ctx, resource, params)
	}

	key := scope + "|" + name + "?" + params.key()
	ctx, gen, done := o.gens.begin(ctx, key)
	defer done()

	res = o.fetch(ctx, resource, params)

	if !o.gens.current(key, gen) {
		return Result{Resource: name, Records: []Record{}, Attempts: res.Attempts, Stale: true, Err: ErrStale}
	}
	return res
}

func (o *Orchestrator) fetch(ctx context.Context, resource Resource, params Params) Result {
	res := Result{Resource: resource.Name, Records: []Record{}}

	// TryNetwork
	n, netErr := o.tryNetwork(ctx, resource, params, &res)
	if netErr != nil && o.shouldRefresh(ctx, netErr) {
		o.logWarn("auth failure on every candidate; refreshing token", res)
		if rErr := o.tokens.(Refresher).Refresh(ctx); rErr != nil {
			netErr = errors.Wrapf(netErr, "token refresh failed (%v)", rErr)
		} else {
			n, netErr = o.tryNetwork(ctx, resource, params, &res)
		}
	}
	if netErr == nil {
		res.Source = SourceNetwork
		res.Shape = n.Shape
		res.Records = n.Records
		return res
	}

	var nErr *NormalizationError
	if errors.As(netErr, &nErr) {
		// a response arrived but its envelope is unknown: do not fall back, do not report success
		res.Err = nErr
		o.logError("normalization failed", res, map[string]interface{}{"raw": string(nErr.Raw)})
		return res
	}

	if ctx.Err() != nil {
		res.Err = errors.Wrap(ctx.Err(), "fetch canceled")
		return res
	}

	// TrySecondaryStore
	records, storeErr := o.trySecondary(ctx, resource, params)
	if storeErr == nil {
		o.logWarn("served from secondary store", res, map[string]interface{}{"network_error": netErr.Error()})
		res.Source = SourceSecondary
		res.Shape = ShapeStore
		res.Records = records
		return res
	}

	// FAILED
	res.Err = &FetchFailedError{Resource: resource.Name, Network: netErr, Secondary: storeErr}
	o.logError("fetch failed", res)
	return res
}

func (o *Orchestrator) tryNetwork(ctx context.Context, resource Resource, params Params, res *Result) (Normalized, error) {
	if o.exec == nil {
		return Normalized{}, &AllCandidatesFailedError{Failures: []CandidateFailure{{Err: errors.New("no executor configured")}}}
	}
	candidates, err := o.endpoints.Candidates(resource.Service)
	if err != nil {
		return Normalized{}, &AllCandidatesFailedError{Failures: []CandidateFailure{{Err: err}}}
	}

	body, err := Resolve(ctx, candidates, func(ctx context.Context, base string) ([]byte, error) {
		u, query, err := resource.URL(base, params)
		if err != nil {
			return nil, err
		}
		resp, err := o.exec.Execute(ctx, Request{URL: u, Query: query})
		res.Attempts = append(res.Attempts, toAttempt(base, resp, err))
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}, o.logger)
	if err != nil {
		return Normalized{}, err
	}
	return Normalize(body, resource.DomainKey)
}

func (o *Orchestrator) trySecondary(ctx context.Context, resource Resource, params Params) ([]Record, error) {
	if o.store == nil {
		return nil, &SecondaryStoreError{Collection: resource.Collection, Err: errors.New("no secondary store configured")}
	}
	records, err := o.store.Query(ctx, resource.Query(params))
	if err != nil {
		var sErr *SecondaryStoreError
		if !errors.As(err, &sErr) {
			err = &SecondaryStoreError{Collection: resource.Collection, Err: err}
		}
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// shouldRefresh reports whether a single token refresh could rescue a failed network stage.
func (o *Orchestrator) shouldRefresh(ctx context.Context, netErr error) bool {
	if ctx.Err() != nil {
		return false
	}
	if _, ok := o.tokens.(Refresher); !ok {
		return false
	}
	var failed *AllCandidatesFailedError
	return errors.As(netErr, &failed) && failed.HasKind(Kind.IsAuth)
}

func toAttempt(candidate string, resp Response, err error) Attempt {
	if err == nil {
		return Attempt{Candidate: candidate, Outcome: "success", Retries: resp.Attempts - 1}
	}
	a := Attempt{Candidate: candidate, Outcome: KindOf(err).String()}
	var fe *Error
	if errors.As(err, &fe) && fe.Attempts > 0 {
		a.Retries = fe.Attempts - 1
	}
	return a
}

func (o *Orchestrator) logWarn(msg string, res Result, extras ...map[string]interface{}) {
	if o.logger != nil {
		o.logger.Warn(msg, resultFields(res, extras...))
	}
}

func (o *Orchestrator) logError(msg string, res Result, extras ...map[string]interface{}) {
	if o.logger != nil {
		o.logger.Error(msg, res.Err, resultFields(res, extras...))
	}
}

func resultFields(res Result, extras ...map[string]interface{}) map[string]interface{} {
	fields := map[string]interface{}{
		"resource": res.Resource,
		"attempts": len(res.Attempts),
	}
	for _, extra := range extras {
		for k, v := range extra {
			fields[k] = v
		}
	}
	return fields
}
