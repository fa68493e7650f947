package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/imagegen-gateway/internal/auth"
	"github.com/jmehdipour/imagegen-gateway/internal/model"
	"github.com/jmehdipour/imagegen-gateway/internal/ratelimit"
)

type fakeVerifier struct {
	calls int
	err   error
}

func (f *fakeVerifier) Verify(_ context.Context, token string) (*auth.Identity, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if token != "good-token" {
		return nil, auth.ErrUnauthorized
	}
	return &auth.Identity{ID: "U1", Email: "user@example.com"}, nil
}

type stubLimiter struct {
	d   ratelimit.Decision
	err error
}

func (s stubLimiter) Allow(context.Context, string) (ratelimit.Decision, error) { return s.d, s.err }

type stubSubs struct {
	sub *model.Subscription
	err error
}

func (s stubSubs) GetByUserID(context.Context, string) (*model.Subscription, error) {
	return s.sub, s.err
}

func multipartBody(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for _, name := range []string{"image1", "image2"} {
		fw, err := mw.CreateFormFile(name, name+".png")
		require.NoError(t, err)
		_, _ = fw.Write([]byte("\x89PNG fake " + name))
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func uploadRequest(t *testing.T) *http.Request {
	t.Helper()
	body, ct := multipartBody(t)
	r := httptest.NewRequest(http.MethodPost, "/api/webhook", body)
	r.Header.Set("Content-Type", ct)
	r.Header.Set("Authorization", "Bearer good-token")
	return r
}

func newTestGuard(cfg GuardConfig, v auth.Verifier) *Guard {
	return NewGuard(cfg, ratelimit.NewMemoryLimiter(ratelimit.Config{}), v, nil)
}

func rejectionOf(t *testing.T, err error) *Rejection {
	t.Helper()
	var rej *Rejection
	require.True(t, errors.As(err, &rej), "expected *Rejection, got %v", err)
	return rej
}

func TestGuard_AdmitsValidUpload(t *testing.T) {
	g := newTestGuard(GuardConfig{}, &fakeVerifier{})
	r := uploadRequest(t)
	r.Header.Set("X-Forwarded-For", "203.0.113.1")

	adm, err := g.Admit(r)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.1", adm.ClientKey)
	assert.Equal(t, "U1", adm.Identity.ID)
	assert.True(t, strings.HasPrefix(adm.ContentType, "multipart/form-data; boundary="))
	assert.Contains(t, string(adm.Body), "PNG fake image2")
}

func TestGuard_MethodNotAllowed(t *testing.T) {
	g := newTestGuard(GuardConfig{}, &fakeVerifier{})
	r := uploadRequest(t)
	r.Method = http.MethodGet

	rej := rejectionOf(t, func() error { _, err := g.Admit(r); return err }())
	assert.Equal(t, ReasonMethodNotAllowed, rej.Reason)
	assert.Equal(t, http.StatusMethodNotAllowed, rej.Status)
}

func TestGuard_Misconfigured(t *testing.T) {
	g := newTestGuard(GuardConfig{Missing: []string{"relay.secret"}}, &fakeVerifier{})

	_, err := g.Admit(uploadRequest(t))
	rej := rejectionOf(t, err)
	assert.Equal(t, ReasonMisconfigured, rej.Reason)
	assert.Equal(t, http.StatusInternalServerError, rej.Status)
}

func TestGuard_RateLimitedBeforeAuth(t *testing.T) {
	v := &fakeVerifier{}
	resetAt := time.Now().Add(30 * time.Second)
	g := NewGuard(GuardConfig{}, stubLimiter{d: ratelimit.Decision{Allowed: false, ResetAt: resetAt}}, v, nil)

	_, err := g.Admit(uploadRequest(t))
	rej := rejectionOf(t, err)
	assert.Equal(t, ReasonRateLimited, rej.Reason)
	assert.Equal(t, http.StatusTooManyRequests, rej.Status)
	assert.InDelta(t, 30, rej.RetryAfter, 1)
	assert.Zero(t, v.calls, "auth must not be consulted once rate limited")
}

func TestGuard_ThirtyFirstRequestDenied(t *testing.T) {
	g := newTestGuard(GuardConfig{}, &fakeVerifier{})

	for i := 0; i < 30; i++ {
		_, err := g.Admit(uploadRequest(t))
		require.NoError(t, err)
	}
	_, err := g.Admit(uploadRequest(t))
	assert.Equal(t, ReasonRateLimited, rejectionOf(t, err).Reason)
}

func TestGuard_LimiterErrorFailsOpen(t *testing.T) {
	g := NewGuard(GuardConfig{}, stubLimiter{err: errors.New("redis down")}, &fakeVerifier{}, nil)

	_, err := g.Admit(uploadRequest(t))
	assert.NoError(t, err)
}

func TestGuard_UnsupportedMediaType(t *testing.T) {
	v := &fakeVerifier{}
	g := newTestGuard(GuardConfig{}, v)
	r := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{"a":1}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer good-token")

	_, err := g.Admit(r)
	rej := rejectionOf(t, err)
	assert.Equal(t, ReasonUnsupportedMediaType, rej.Reason)
	assert.Equal(t, http.StatusUnsupportedMediaType, rej.Status)
	assert.Zero(t, v.calls)
}

func TestGuard_DeclaredLengthTooLarge(t *testing.T) {
	v := &fakeVerifier{}
	g := newTestGuard(GuardConfig{MaxBodyBytes: 1024}, v)
	r := uploadRequest(t)
	r.ContentLength = 2048

	_, err := g.Admit(r)
	assert.Equal(t, ReasonPayloadTooLarge, rejectionOf(t, err).Reason)
	assert.Zero(t, v.calls, "size fast-path runs before auth")
}

func TestGuard_ActualLengthTooLarge(t *testing.T) {
	g := newTestGuard(GuardConfig{MaxBodyBytes: 1024}, &fakeVerifier{})
	r := httptest.NewRequest(http.MethodPost, "/api/webhook", io.NopCloser(bytes.NewReader(make([]byte, 4096))))
	r.ContentLength = -1 // forged/missing Content-Length
	r.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	r.Header.Set("Authorization", "Bearer good-token")

	_, err := g.Admit(r)
	rej := rejectionOf(t, err)
	assert.Equal(t, ReasonPayloadTooLarge, rej.Reason)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rej.Status)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestGuard_BodyExactlyAtLimit(t *testing.T) {
	g := newTestGuard(GuardConfig{MaxBodyBytes: 1024}, &fakeVerifier{})
	r := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(make([]byte, 1024)))
	r.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	r.Header.Set("Authorization", "Bearer good-token")

	adm, err := g.Admit(r)
	require.NoError(t, err)
	assert.Len(t, adm.Body, 1024)
}

func TestGuard_Unauthorized(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header"},
		{name: "wrong scheme", header: "Basic Zm9v"},
		{name: "rejected token", header: "Bearer stale-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGuard(GuardConfig{}, &fakeVerifier{})
			r := uploadRequest(t)
			r.Header.Del("Authorization")
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			_, err := g.Admit(r)
			rej := rejectionOf(t, err)
			assert.Equal(t, ReasonUnauthorized, rej.Reason)
			assert.Equal(t, http.StatusUnauthorized, rej.Status)
		})
	}
}

func TestGuard_AuthUnavailable(t *testing.T) {
	g := newTestGuard(GuardConfig{}, &fakeVerifier{err: auth.ErrUnavailable})

	_, err := g.Admit(uploadRequest(t))
	rej := rejectionOf(t, err)
	assert.Equal(t, ReasonAuthUnavailable, rej.Reason)
	assert.Equal(t, http.StatusInternalServerError, rej.Status)
}

func TestGuard_RequireSubscription(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{})
	cfg := GuardConfig{RequireSubscription: true}

	t.Run("active", func(t *testing.T) {
		g := NewGuard(cfg, limiter, &fakeVerifier{}, stubSubs{sub: &model.Subscription{UserID: "U1", Status: model.SubscriptionActive}})
		_, err := g.Admit(uploadRequest(t))
		assert.NoError(t, err)
	})

	t.Run("past due", func(t *testing.T) {
		g := NewGuard(cfg, limiter, &fakeVerifier{}, stubSubs{sub: &model.Subscription{UserID: "U1", Status: model.SubscriptionPastDue}})
		_, err := g.Admit(uploadRequest(t))
		rej := rejectionOf(t, err)
		assert.Equal(t, ReasonSubscriptionRequired, rej.Reason)
		assert.Equal(t, http.StatusPaymentRequired, rej.Status)
	})

	t.Run("no record", func(t *testing.T) {
		g := NewGuard(cfg, limiter, &fakeVerifier{}, stubSubs{})
		_, err := g.Admit(uploadRequest(t))
		assert.Equal(t, ReasonSubscriptionRequired, rejectionOf(t, err).Reason)
	})

	t.Run("store failure", func(t *testing.T) {
		g := NewGuard(cfg, limiter, &fakeVerifier{}, stubSubs{err: errors.New("db down")})
		_, err := g.Admit(uploadRequest(t))
		assert.Equal(t, ReasonStoreUnavailable, rejectionOf(t, err).Reason)
	})
}

func TestIsMultipart(t *testing.T) {
	assert.True(t, isMultipart("multipart/form-data; boundary=abc"))
	assert.True(t, isMultipart("Multipart/Form-Data; boundary=abc"))
	assert.True(t, isMultipart("multipart/form-data"))
	assert.False(t, isMultipart("application/json"))
	assert.False(t, isMultipart("multipart/mixed; boundary=abc"))
	assert.False(t, isMultipart(""))
}
