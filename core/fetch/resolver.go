package fetch

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
)

// Endpoints maps a logical service name to its ordered candidate base addresses.
// The first candidate is the preferred deployment target. Duplicates are allowed.
type Endpoints map[string][]string

// Candidates returns the ordered candidates of `service`.
func (e Endpoints) Candidates(service string) ([]string, error) {
	candidates := e[strings.ToLower(service)]
	if len(candidates) == 0 {
		return nil, errors.Wrapf(ErrNoCandidates, "service %q", service)
	}
	out := make([]string, len(candidates))
	copy(out, candidates)
	return out, nil
}

// Resolve invokes `call` against each candidate strictly in order and returns the first success;
// remaining candidates are never attempted. Failures are logged and resolution moves on without delay.
// When every candidate fails, the error is an *AllCandidatesFailedError carrying each failure.
func Resolve[T any](
	ctx context.Context,
	candidates []string,
	call func(ctx context.Context, base string) (T, error),
	logger core.Logger,
) (T, error) {
	var zero T
	failed := &AllCandidatesFailedError{Failures: make([]CandidateFailure, 0, len(candidates))}

	if len(candidates) == 0 {
		failed.Failures = append(failed.Failures, CandidateFailure{Err: ErrNoCandidates})
		return zero, failed
	}

	for i, base := range candidates {
		if err := ctx.Err(); err != nil {
			failed.Failures = append(failed.Failures, CandidateFailure{
				Candidate: base,
				Err:       &Error{Kind: KindCanceled, URL: base, Err: err},
			})
			return zero, failed
		}

		res, err := call(ctx, base)
		if err == nil {
			return res, nil
		}

		failed.Failures = append(failed.Failures, CandidateFailure{Candidate: base, Err: err})
		if logger != nil {
			logger.Warn("candidate failed", map[string]interface{}{
				"candidate": base,
				"position":  i + 1,
				"of":        len(candidates),
				"error":     err.Error(),
			})
		}
	}
	return zero, failed
}
