package fetch

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-portal/tests"
)

func TestResolve(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name       string
		candidates []string
		failing    map[string]error
		want       string
		wantCalled []string
		wantErr    bool
	}{
		{
			name:       "first candidate wins",
			candidates: []string{"x", "y", "z"},
			want:       "x",
			wantCalled: []string{"x"},
		},
		{
			name:       "second candidate wins",
			candidates: []string{"x", "y", "z"},
			failing:    map[string]error{"x": errBoom},
			want:       "y",
			wantCalled: []string{"x", "y"},
		},
		{
			name:       "all fail",
			candidates: []string{"x", "y"},
			failing:    map[string]error{"x": errBoom, "y": errBoom},
			wantCalled: []string{"x", "y"},
			wantErr:    true,
		},
		{
			name:       "duplicates are tried again",
			candidates: []string{"x", "x", "y"},
			failing:    map[string]error{"x": errBoom},
			want:       "y",
			wantCalled: []string{"x", "x", "y"},
		},
		{
			name:    "no candidates",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called []string
			got, err := Resolve(context.Background(), tt.candidates, func(_ context.Context, base string) (string, error) {
				called = append(called, base)
				if err := tt.failing[base]; err != nil {
					return "", err
				}
				return base, nil
			}, nil)

			assert.Equal(t, tt.wantCalled, called)
			if tt.wantErr {
				var failed *AllCandidatesFailedError
				require.True(t, errors.As(err, &failed))
				if len(tt.candidates) == 0 {
					assert.Len(t, failed.Failures, 1)
					assert.True(t, errors.Is(failed.Failures[0].Err, ErrNoCandidates))
				} else {
					assert.Len(t, failed.Failures, len(tt.candidates))
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_failuresKeepOrderAndKind(t *testing.T) {
	logger := testutil.NewLogger()
	kinds := map[string]Kind{"x": KindTimeout, "y": KindAuth}

	_, err := Resolve(context.Background(), []string{"x", "y"}, func(_ context.Context, base string) (int, error) {
		return 0, &Error{Kind: kinds[base], URL: base}
	}, logger)

	var failed *AllCandidatesFailedError
	require.True(t, errors.As(err, &failed))
	require.Len(t, failed.Failures, 2)
	assert.Equal(t, "x", failed.Failures[0].Candidate)
	assert.Equal(t, KindTimeout, KindOf(failed.Failures[0].Err))
	assert.Equal(t, "y", failed.Failures[1].Candidate)
	assert.True(t, failed.HasKind(Kind.IsAuth))
	assert.False(t, failed.HasKind(func(k Kind) bool { return k == KindServer }))

	assert.Len(t, logger.Entries("warn"), 2)
	assert.True(t, logger.Contains("warn", "candidate failed"))
}

func TestResolve_canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var called []string
	_, err := Resolve(ctx, []string{"x", "y", "z"}, func(_ context.Context, base string) (string, error) {
		called = append(called, base)
		cancel()
		return "", errors.New("interrupted")
	}, nil)

	assert.Equal(t, []string{"x"}, called)
	var failed *AllCandidatesFailedError
	require.True(t, errors.As(err, &failed))
	require.Len(t, failed.Failures, 2)
	assert.Equal(t, KindCanceled, KindOf(failed.Failures[1].Err))
}

func TestEndpoints_Candidates(t *testing.T) {
	eps := Endpoints{"api": {"https://a", "https://b"}}

	got, err := eps.Candidates("API")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a", "https://b"}, got)

	got[0] = "mutated"
	assert.Equal(t, "https://a", eps["api"][0], "Candidates must return a copy")

	_, err = eps.Candidates("events")
	assert.True(t, errors.Is(err, ErrNoCandidates))
}
