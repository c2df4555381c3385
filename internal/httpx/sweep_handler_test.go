package httpx

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-canteen-orders/internal/advancer"
	"github.com/ariefcatur/go-canteen-orders/internal/feed"
	"github.com/ariefcatur/go-canteen-orders/internal/orders"
)

// agedStore promotes one order per configured source status.
type agedStore struct {
	promote map[orders.Status]string
	fail    error
}

func (s *agedStore) PromoteAged(_ context.Context, from, to orders.Status, _ orders.Anchor, _, at time.Time) ([]orders.Order, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	id, ok := s.promote[from]
	if !ok {
		return nil, nil
	}
	return []orders.Order{{ID: id, Status: to, StatusChangedAt: at}}, nil
}

func newSweepServer(t *testing.T, store *agedStore, token string) *testServer {
	adv := advancer.New(store, feed.NewMemory(8), nil, testLogger)
	return newTestServer(t, &SweepHandler{Advancer: adv, Token: token, Logger: testLogger})
}

func TestSweepAuth(t *testing.T) {
	cases := []struct {
		name   string
		token  string
		header string
		code   int
	}{
		{name: "matching token", token: "s3cret", header: "s3cret", code: http.StatusOK},
		{name: "wrong token", token: "s3cret", header: "nope", code: http.StatusUnauthorized},
		{name: "missing token", token: "s3cret", code: http.StatusUnauthorized},
		{name: "unset token rejects empty header", token: "", header: "", code: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newSweepServer(t, &agedStore{}, tc.token)
			var headers []string
			if tc.header != "" {
				headers = []string{"X-Sweep-Token", tc.header}
			}
			rec := srv.do(nil, http.MethodPost, "/internal/sweeps", nil, headers...)
			assert.Equal(t, tc.code, rec.Code)
		})
	}

	srv := newSweepServer(t, &agedStore{}, "")
	assert.Equal(t, http.StatusOK, srv.do(&admin, http.MethodPost, "/internal/sweeps", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, srv.do(&staff, http.MethodPost, "/internal/sweeps", nil).Code)
}

func TestSweepReport(t *testing.T) {
	store := &agedStore{promote: map[orders.Status]string{
		orders.StatusPending:   "o-1",
		orders.StatusPreparing: "o-2",
	}}
	srv := newSweepServer(t, store, "s3cret")

	rec := srv.do(nil, http.MethodPost, "/internal/sweeps", nil, "X-Sweep-Token", "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[sweepResp](t, rec)
	assert.Equal(t, 2, resp.Advanced)
	require.Len(t, resp.Rules, 3)
	// last rule first
	assert.Equal(t, orders.StatusReadyForPickup, resp.Rules[0].From)
	assert.Equal(t, []string{"o-1"}, resp.Rules[2].Promoted)
}

func TestSweepFailureIsServerError(t *testing.T) {
	srv := newSweepServer(t, &agedStore{fail: errors.New("deadlock detected")}, "s3cret")

	rec := srv.do(nil, http.MethodPost, "/internal/sweeps", nil, "X-Sweep-Token", "s3cret")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[sweepResp](t, rec)
	assert.Equal(t, "one or more rules failed", resp.Error)
	assert.Len(t, resp.Rules, 3)
}
