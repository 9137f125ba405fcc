package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), KindInternal},
		{"validation", Validation("bad %s", "input"), KindValidation},
		{"wrapped not found", fmt.Errorf("lookup: %w", NotFound("page %d", 7)), KindNotFound},
		{"external", External("wordpress", errors.New("502")), KindExternalService},
		{"wrap", Wrap(KindTimeout, errors.New("slow"), "editor"), KindTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := External("anthropic", errors.New("overloaded"))
	if got, want := err.Error(), "anthropic: overloaded"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, err.Err) {
		t.Error("External error should unwrap to its cause")
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(KindConflict, nil, "x"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Timeout("t")) || !Retryable(RateLimit("r")) {
		t.Error("timeout and rate_limit should be retryable")
	}
	if Retryable(Validation("v")) || Retryable(errors.New("plain")) {
		t.Error("validation and unclassified errors should not be retryable")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		KindValidation:      http.StatusBadRequest,
		KindNotFound:        http.StatusNotFound,
		KindConflict:        http.StatusConflict,
		KindRateLimit:       http.StatusTooManyRequests,
		KindExternalService: http.StatusBadGateway,
		KindTimeout:         http.StatusGatewayTimeout,
		KindInternal:        http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%q) = %d, want %d", kind, got, want)
		}
	}
}
