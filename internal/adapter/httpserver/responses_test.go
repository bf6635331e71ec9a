package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialops/oversight-agent/internal/domain"
)

func TestWriteErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		tag    string
	}{
		{domain.ErrInvalidArgument, http.StatusBadRequest, "validation"},
		{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{domain.ErrCircuitOpen, http.StatusServiceUnavailable, "degraded"},
		{domain.ErrDegraded, http.StatusServiceUnavailable, "degraded"},
		{domain.ErrConflict, http.StatusConflict, "conflict"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
		{fmt.Errorf("lookup: %w", domain.ErrNotFound), http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.tag, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			writeError(rec, req, tc.err, "it broke")

			assert.Equal(t, tc.status, rec.Code)
			var body errorBody
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tc.tag, body.Error)
			assert.Equal(t, "it broke", body.Message)
		})
	}
}

func TestWriteErrorDefaultMessage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	writeError(rec, req, domain.ErrNotFound, "")

	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, http.StatusText(http.StatusNotFound), body.Message)
}

func TestDecodeBodyLimitsAndValidates(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ok"}`))
	require.NoError(t, decodeBody(req, &dst, 0))
	assert.Equal(t, "ok", dst.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
	assert.ErrorIs(t, decodeBody(req, &dst, 0), domain.ErrInvalidArgument)

	big := `{"name":"` + strings.Repeat("x", 64) + `"}`
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	assert.ErrorIs(t, decodeBody(req, &dst, 16), domain.ErrInvalidArgument)
}
