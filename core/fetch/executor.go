package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
)

const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxRetries = 2

	maxBodySize = 10 << 20 // 10 MiB
)

var sleepFunc = sleep // mockable

type (
	// Request is one logical HTTP call; URL must be absolute.
	Request struct {
		Method string
		URL    string
		Query  url.Values
		Body   interface{} // JSON encoded when not nil
	}

	// Response is a successful (2xx) response.
	Response struct {
		StatusCode int
		Body       []byte
		Attempts   int
	}

	ExecutorOptions struct {
		Client     *http.Client
		Tokens     TokenProvider
		Timeout    time.Duration // per attempt; DefaultTimeout when zero
		MaxRetries int           // attempts = MaxRetries + 1
		Backoff    Backoff       // LinearBackoff(time.Second) when nil
		Logger     core.Logger
	}

	// Executor performs authenticated HTTP calls with a per-attempt timeout and retries transient failures.
	// It holds no mutable state and is safe for concurrent use.
	Executor struct {
		client     *http.Client
		tokens     TokenProvider
		timeout    time.Duration
		maxRetries int
		backoff    Backoff
		logger     core.Logger
	}
)

func NewExecutor(opts ExecutorOptions) *Executor {
	ex := &Executor{
		client:     opts.Client,
		tokens:     opts.Tokens,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		logger:     opts.Logger,
	}
	if ex.client == nil {
		ex.client = &http.Client{}
	}
	if ex.timeout <= 0 {
		ex.timeout = DefaultTimeout
	}
	if ex.maxRetries < 0 {
		ex.maxRetries = 0
	}
	if ex.backoff == nil {
		ex.backoff = LinearBackoff(time.Second)
	}
	return ex
}

// Execute runs `req` until it succeeds, fails with a non-retryable error, or runs out of attempts.
// Errors are always *Error.
func (ex *Executor) Execute(ctx context.Context, req Request) (Response, error) {
	requestID := uuid.New().String()
	maxAttempts := ex.maxRetries + 1

	for attempt := 1; ; attempt++ {
		resp, err := ex.attempt(ctx, req, requestID)
		if err == nil {
			resp.Attempts = attempt
			return resp, nil
		}
		err.Attempts = attempt

		if !err.Kind.Retryable() || attempt >= maxAttempts {
			return Response{}, err
		}

		delay := ex.backoff.Delay(attempt)
		if ex.logger != nil {
			ex.logger.Warn("request failed; retrying", map[string]interface{}{
				"request_id": requestID,
				"url":        req.URL,
				"attempt":    attempt,
				"of":         maxAttempts,
				"delay":      delay.String(),
				"error":      err.Error(),
			})
		}
		if sErr := sleepFunc(ctx, delay); sErr != nil {
			return Response{}, &Error{Kind: KindCanceled, URL: req.URL, Attempts: attempt, Err: sErr}
		}
	}
}

func (ex *Executor) attempt(ctx context.Context, req Request, requestID string) (Response, *Error) {
	if err := ctx.Err(); err != nil {
		return Response{}, &Error{Kind: KindCanceled, URL: req.URL, Err: err}
	}

	token, err := ex.token(ctx)
	if err != nil {
		return Response{}, &Error{Kind: KindAuthTokenUnavailable, URL: req.URL, Err: err}
	}

	actx, cancel := context.WithTimeout(ctx, ex.timeout)
	defer cancel()

	hreq, err := newHTTPRequest(actx, req)
	if err != nil {
		return Response{}, &Error{Kind: KindClient, URL: req.URL, Err: err}
	}
	hreq.Header.Set("Authorization", "Bearer "+token)
	hreq.Header.Set("X-Request-ID", requestID)

	hresp, err := ex.client.Do(hreq)
	if err != nil {
		return Response{}, &Error{Kind: classifyTransportError(ctx, actx, err), URL: req.URL, Err: err}
	}
	defer func() { _ = hresp.Body.Close() }()

	body, err := ioutil.ReadAll(io.LimitReader(hresp.Body, maxBodySize))
	if err != nil {
		return Response{}, &Error{Kind: classifyTransportError(ctx, actx, err), URL: req.URL, Err: errors.Wrap(err, "reading body")}
	}

	if kind, failed := classifyStatus(hresp.StatusCode); failed {
		return Response{}, &Error{
			Kind:       kind,
			StatusCode: hresp.StatusCode,
			URL:        req.URL,
			Err:        errors.New(http.StatusText(hresp.StatusCode)),
		}
	}
	return Response{StatusCode: hresp.StatusCode, Body: body}, nil
}

func (ex *Executor) token(ctx context.Context) (string, error) {
	if ex.tokens == nil {
		return "", errors.New("no token provider configured")
	}
	token, err := ex.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errEmptyToken
	}
	return token, nil
}

func newHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing url")
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errors.Wrap(err, "encoding body")
		}
		body = bytes.NewReader(data)
	}

	hreq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")
	return hreq, nil
}

// classifyTransportError classifies a failure where no (complete) response was received.
// `ctx` is the caller's context, `actx` the per-attempt one derived from it.
func classifyTransportError(ctx, actx context.Context, err error) Kind {
	if ctx.Err() != nil {
		return KindCanceled
	}
	if errors.Is(actx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

func classifyStatus(code int) (Kind, bool) {
	switch {
	case code >= 200 && code < 300:
		return KindUnknown, false
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth, true
	case code >= 500:
		return KindServer, true
	default: // 4xx and unfollowed 1xx/3xx
		return KindClient, true
	}
}
