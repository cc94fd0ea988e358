// internal/service/order/interfaces/http_handler_test.go
package interfaces

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meridian/internal/fsm"
	"meridian/internal/idempotency"
	"meridian/internal/service/order/domain"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"illegal transition", &fsm.IllegalTransitionError{From: "COMPLETED", Event: "CANCEL"}, 409},
		{"stale order", domain.ErrStaleOrder, 409},
		{"not found", domain.ErrOrderNotFound, 404},
		{"lock timeout", &idempotency.LockTimeoutError{EntityKey: "order:SO1", Waited: time.Second}, 503},
		{"unexpected", errors.New("boom"), 500},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			r := httptest.NewRequest("POST", "/api/orders/cancel", nil)
			writeError(w, r, tc.err)
			require.Equal(t, tc.status, w.Code)
		})
	}
}

func TestWriteErrorLockTimeoutSetsRetryAfter(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/orders/cancel", nil)
	writeError(w, r, &idempotency.LockTimeoutError{EntityKey: "order:SO1", Waited: 3 * time.Second})

	require.Equal(t, 503, w.Code)
	require.Equal(t, "1", w.Header().Get("Retry-After"))
}
