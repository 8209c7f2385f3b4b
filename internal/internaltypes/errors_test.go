package internaltypes

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

// clientTimeout has the shape net/http returns when http.Client.Timeout fires.
type clientTimeout struct{}

func (clientTimeout) Error() string { return "Client.Timeout exceeded while awaiting headers" }
func (clientTimeout) Timeout() bool { return true }
func (clientTimeout) Is(t error) bool { return t == context.DeadlineExceeded }

func TestCode(t *testing.T) {
	hung := &TransportError{Err: &url.Error{Op: "Get", URL: "https://rms.test/stock_levels", Err: clientTimeout{}}}
	assert.ErrorIs(t, hung, context.DeadlineExceeded)

	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNotConfigured, CodeNotConfigured},
		{fmt.Errorf("load: %w", ErrNoLocationsEnabled), CodeNoLocationsEnabled},
		{ErrRateLimited, CodeRateLimited},
		{&UpstreamError{Status: 404}, CodeUpstreamError},
		{hung, CodeTransportError},
		{fmt.Errorf("%w: %v", ErrTimeout, hung), CodeTimeout},
		{context.DeadlineExceeded, CodeTimeout},
		{context.Canceled, CodeCanceled},
		{fmt.Errorf("%w: item_id required", ErrBadRequest), CodeBadRequest},
		{errors.New("boom"), CodeInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Code(tc.err), "%v", tc.err)
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrRateLimited))
	assert.True(t, Retryable(fmt.Errorf("%w: slow", ErrTimeout)))
	assert.True(t, Retryable(&TransportError{Err: errors.New("reset")}))
	assert.False(t, Retryable(&UpstreamError{Status: 404}))
	assert.False(t, Retryable(ErrNotConfigured))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(nil))
}
