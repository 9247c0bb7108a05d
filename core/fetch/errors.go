package fetch

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNoCandidates is returned when a logical service has no candidate base address configured.
	ErrNoCandidates = errors.New("no candidate endpoints")
	// ErrUnknownResource is returned when no Resource is registered under the requested name.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrStale marks a result superseded by a newer fetch of the same resource; its records were discarded.
	ErrStale = errors.New("superseded by a newer fetch")
)

// Kind classifies a failed request.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthTokenUnavailable
	KindAuth     // 401 | 403
	KindTimeout  // attempt exceeded its timeout
	KindNetwork  // no response received
	KindServer   // 5xx
	KindClient   // other 4xx
	KindCanceled // caller gave up
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindAuthTokenUnavailable: "token-unavailable",
	KindAuth:                 "auth-error",
	KindTimeout:              "timeout",
	KindNetwork:              "network-error",
	KindServer:               "server-error",
	KindClient:               "client-error",
	KindCanceled:             "canceled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Retryable reports whether the executor may try again after a failure of this kind.
func (k Kind) Retryable() bool {
	return k == KindNetwork || k == KindTimeout || k == KindServer
}

// IsAuth reports whether a token refresh could fix a failure of this kind.
func (k Kind) IsAuth() bool {
	return k == KindAuth || k == KindAuthTokenUnavailable
}

// Error is a classified request failure returned by the Executor.
type Error struct {
	Kind       Kind
	StatusCode int // 0 when no response was received
	URL        string
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.URL != "" {
		b.WriteString(" " + e.URL)
	}
	if e.StatusCode != 0 {
		_, _ = fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Attempts > 1 {
		_, _ = fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind of a (possibly wrapped) *Error; KindUnknown otherwise.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// CandidateFailure is the failure of one candidate base address.
type CandidateFailure struct {
	Candidate string
	Err       error
}

// AllCandidatesFailedError aggregates every per-candidate failure of one resolution.
type AllCandidatesFailedError struct {
	Failures []CandidateFailure
}

func (e *AllCandidatesFailedError) Error() string {
	if len(e.Failures) == 0 {
		return "all candidates failed: " + ErrNoCandidates.Error()
	}
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, fmt.Sprintf("%s: %v", f.Candidate, f.Err))
	}
	return fmt.Sprintf("all %d candidates failed: [%s]", len(e.Failures), strings.Join(msgs, "; "))
}

// HasKind reports whether any candidate failed with a Kind satisfying `match`.
func (e *AllCandidatesFailedError) HasKind(match func(Kind) bool) bool {
	for _, f := range e.Failures {
		if match(KindOf(f.Err)) {
			return true
		}
	}
	return false
}

// NormalizationError is returned when a payload matches none of the accepted envelopes.
type NormalizationError struct {
	Raw    []byte
	Reason string
}

func (e *NormalizationError) Error() string {
	const maxRaw = 256
	raw := string(e.Raw)
	if len(raw) > maxRaw {
		raw = raw[:maxRaw] + "..."
	}
	return fmt.Sprintf("unrecognized response envelope (%s): %s", e.Reason, raw)
}

// SecondaryStoreError reports the secondary store as unavailable for a query.
type SecondaryStoreError struct {
	Collection string
	Err        error
}

func (e *SecondaryStoreError) Error() string {
	return fmt.Sprintf("secondary store unavailable (collection %q): %v", e.Collection, e.Err)
}

func (e *SecondaryStoreError) Unwrap() error { return e.Err }

// FetchFailedError is the diagnostic of an orchestrated fetch that exhausted every source.
type FetchFailedError struct {
	Resource  string
	Network   error
	Secondary error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("fetching %q failed: network: %v; secondary: %v", e.Resource, e.Network, e.Secondary)
}

func (e *FetchFailedError) Unwrap() error {
	if e.Secondary != nil {
		return e.Secondary
	}
	return e.Network
}
