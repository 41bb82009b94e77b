package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/certvault-go/certificate"
	"github.com/bitfsorg/certvault-go/contentstore"
	"github.com/bitfsorg/certvault-go/envelope"
	"github.com/bitfsorg/certvault-go/identity"
	"github.com/bitfsorg/certvault-go/ledger"
	"github.com/bitfsorg/certvault-go/metrics"
)

// --- Helper functions ---

type testEnv struct {
	url    string
	store  contentstore.Store
	ledger ledger.Ledger
	codec  *envelope.Codec
}

func newService(t *testing.T, codec *envelope.Codec, store contentstore.Store, l ledger.Ledger, m *metrics.Metrics) *certificate.Service {
	t.Helper()
	issuer, err := identity.Generate()
	require.NoError(t, err)
	svc, err := certificate.NewService(codec, store, l, certificate.Options{Issuer: issuer.ID(), Metrics: m})
	require.NoError(t, err)
	return svc
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	key, err := envelope.GenerateKey()
	require.NoError(t, err)
	codec, err := envelope.NewCodec(key, envelope.DefaultAlgorithm)
	require.NoError(t, err)
	store, err := contentstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	l := ledger.NewMemory()

	var m *metrics.Metrics
	if opts.Gatherer != nil {
		reg, ok := opts.Gatherer.(prometheus.Registerer)
		require.True(t, ok)
		m = metrics.New(reg)
	}

	srv := httptest.NewServer(NewServer(newService(t, codec, store, l, m), opts).Router())
	t.Cleanup(srv.Close)
	return &testEnv{url: srv.URL, store: store, ledger: l, codec: codec}
}

// multipartBody builds a form with the given fields and an optional file part.
func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, method, url, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) issue(t *testing.T, fields map[string]string, filename string, content []byte) *http.Response {
	t.Helper()
	body, ct := multipartBody(t, fields, filename, content)
	return do(t, http.MethodPost, e.url+"/v1/certificates", ct, body)
}

func requireError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	e := decode[Error](t, resp)
	assert.Equal(t, code, e.Code)
	assert.NotEmpty(t, e.Message)
}

// --- Tests ---

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp := do(t, http.MethodGet, env.url+"/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Len(t, body["issuer"], 66)
}

func TestCertificateLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{})

	// Issue.
	resp := env.issue(t, map[string]string{"fid": "F1", "email": "alice@example.com"}, "diploma.pdf", []byte("v1 content"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/v1/certificates/F1", resp.Header.Get("Location"))
	issued := decode[IssueResponse](t, resp)
	assert.Equal(t, "F1", issued.FID)
	assert.Len(t, issued.CID, contentstore.AddressSize)
	require.NotNil(t, issued.Receipt)
	assert.Equal(t, ledger.OpCreate, issued.Receipt.Op)

	// Get.
	resp = do(t, http.MethodGet, env.url+"/v1/certificates/F1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decode[ledger.Certificate](t, resp)
	assert.Equal(t, issued.CID, rec.CID)
	assert.Equal(t, "alice@example.com", rec.Email)
	assert.True(t, rec.IsActive)

	// Verify.
	resp = do(t, http.MethodPost, env.url+"/v1/certificates/F1/verify", "application/json",
		strings.NewReader(`{"email":"alice@example.com"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decode[VerifyResponse](t, resp)
	assert.True(t, v.IsValid)
	assert.Equal(t, certificate.ReasonOK, v.Reason)

	resp = do(t, http.MethodPost, env.url+"/v1/certificates/F1/verify", "application/json",
		strings.NewReader(`{"email":"mallory@example.com"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v = decode[VerifyResponse](t, resp)
	assert.False(t, v.IsValid)
	assert.Equal(t, certificate.ReasonEmailMismatch, v.Reason)

	// Download.
	resp = do(t, http.MethodGet, env.url+"/v1/certificates/F1/content?cid="+issued.CID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	content, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "v1 content", string(content))
	assert.Equal(t, issued.CID, resp.Header.Get(HeaderCID))
	assert.NotEmpty(t, resp.Header.Get(HeaderCreatedAt))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename=diploma.pdf`)

	// Lookup.
	resp = do(t, http.MethodGet, env.url+"/v1/emails/alice@example.com/certificates", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found := decode[LookupResponse](t, resp)
	assert.Equal(t, []string{"F1"}, found.FIDs)

	// Update with an explicit name.
	body, ct := multipartBody(t, map[string]string{"name": "diploma-v2.pdf"}, "upload.bin", []byte("v2 content"))
	resp = do(t, http.MethodPut, env.url+"/v1/certificates/F1", ct, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[UpdateResponse](t, resp)
	assert.Equal(t, issued.CID, updated.PreviousCID)
	assert.NotEqual(t, issued.CID, updated.CID)
	assert.Equal(t, ledger.OpUpdatePointer, updated.Receipt.Op)

	resp = do(t, http.MethodGet, env.url+"/v1/certificates/F1/content", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	content, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "v2 content", string(content))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "diploma-v2.pdf")

	// The old address is no longer the pointer.
	resp = do(t, http.MethodGet, env.url+"/v1/certificates/F1/content?cid="+issued.CID, "", nil)
	requireError(t, resp, http.StatusConflict, string(certificate.OutcomeAddressMismatch))

	// Delete.
	resp = do(t, http.MethodDelete, env.url+"/v1/certificates/F1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deleted := decode[DeleteResponse](t, resp)
	assert.Equal(t, updated.CID, deleted.RemovedCID)
	assert.Empty(t, deleted.RemoveError)
	assert.Equal(t, ledger.OpDeactivate, deleted.Receipt.Op)

	_, err = env.store.Get(t.Context(), updated.CID)
	assert.ErrorIs(t, err, contentstore.ErrNotFound)

	resp = do(t, http.MethodGet, env.url+"/v1/certificates/F1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[ledger.Certificate](t, resp).IsActive)

	resp = do(t, http.MethodGet, env.url+"/v1/certificates/F1/content", "", nil)
	requireError(t, resp, http.StatusGone, string(certificate.OutcomeInactive))

	resp = do(t, http.MethodPost, env.url+"/v1/certificates/F1/verify", "application/json",
		strings.NewReader(`{"email":"alice@example.com"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, certificate.ReasonInactive, decode[VerifyResponse](t, resp).Reason)
}

func TestIssueGeneratesFID(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp := env.issue(t, map[string]string{"email": "bob@example.com"}, "cert.txt", []byte("x"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	issued := decode[IssueResponse](t, resp)
	assert.Len(t, issued.FID, 36)
}

func TestIssueErrors(t *testing.T) {
	env := newTestEnv(t, Options{})

	t.Run("missing email", func(t *testing.T) {
		resp := env.issue(t, nil, "cert.txt", []byte("x"))
		requireError(t, resp, http.StatusBadRequest, string(certificate.OutcomeInvalidArgument))
	})

	t.Run("missing file", func(t *testing.T) {
		resp := env.issue(t, map[string]string{"email": "a@example.com"}, "", nil)
		requireError(t, resp, http.StatusBadRequest, CodeBadRequest)
	})

	t.Run("not multipart", func(t *testing.T) {
		resp := do(t, http.MethodPost, env.url+"/v1/certificates", "application/json", strings.NewReader(`{}`))
		requireError(t, resp, http.StatusBadRequest, CodeBadRequest)
	})

	t.Run("duplicate fid", func(t *testing.T) {
		fields := map[string]string{"fid": "DUP", "email": "a@example.com"}
		resp := env.issue(t, fields, "cert.txt", []byte("x"))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp = env.issue(t, fields, "cert.txt", []byte("y"))
		requireError(t, resp, http.StatusConflict, string(certificate.OutcomeDuplicate))
	})
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, Options{MaxUploadSize: 1024})
	resp := env.issue(t, map[string]string{"email": "a@example.com"}, "big.bin", bytes.Repeat([]byte{'x'}, 4096))
	requireError(t, resp, http.StatusRequestEntityTooLarge, CodeTooLarge)
}

func TestUnknownFID(t *testing.T) {
	env := newTestEnv(t, Options{})
	code := string(certificate.OutcomeNotFound)

	requireError(t, do(t, http.MethodGet, env.url+"/v1/certificates/nope", "", nil), http.StatusNotFound, code)
	requireError(t, do(t, http.MethodGet, env.url+"/v1/certificates/nope/content", "", nil), http.StatusNotFound, code)
	requireError(t, do(t, http.MethodDelete, env.url+"/v1/certificates/nope", "", nil), http.StatusNotFound, code)
	requireError(t, do(t, http.MethodPost, env.url+"/v1/certificates/nope/verify", "application/json",
		strings.NewReader(`{"email":"a@example.com"}`)), http.StatusNotFound, code)
}

func TestVerifyBadBody(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp := do(t, http.MethodPost, env.url+"/v1/certificates/F1/verify", "application/json", strings.NewReader("{"))
	requireError(t, resp, http.StatusBadRequest, CodeBadRequest)
}

func TestLookupEmpty(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp := do(t, http.MethodGet, env.url+"/v1/emails/nobody@example.com/certificates", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found := decode[LookupResponse](t, resp)
	assert.Equal(t, "nobody@example.com", found.Email)
	assert.NotNil(t, found.FIDs)
	assert.Empty(t, found.FIDs)
}

func TestUpdateByOtherIssuer(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp := env.issue(t, map[string]string{"fid": "F1", "email": "a@example.com"}, "cert.txt", []byte("x"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// A second service over the same ledger with a different issuer key.
	other := httptest.NewServer(NewServer(newService(t, env.codec, env.store, env.ledger, nil), Options{}).Router())
	t.Cleanup(other.Close)

	body, ct := multipartBody(t, nil, "cert.txt", []byte("forged"))
	resp = do(t, http.MethodPut, other.URL+"/v1/certificates/F1", ct, body)
	requireError(t, resp, http.StatusForbidden, string(certificate.OutcomeUnauthorized))

	resp = do(t, http.MethodDelete, other.URL+"/v1/certificates/F1", "", nil)
	requireError(t, resp, http.StatusForbidden, string(certificate.OutcomeUnauthorized))
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Options{RateLimit: 2})

	for i := 0; i < 2; i++ {
		resp := do(t, http.MethodGet, env.url+"/v1/certificates/nope", "", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
	resp := do(t, http.MethodGet, env.url+"/v1/certificates/nope", "", nil)
	requireError(t, resp, http.StatusTooManyRequests, CodeRateLimited)

	// Health checks are not rate limited.
	resp = do(t, http.MethodGet, env.url+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func getWithForwardedFor(t *testing.T, url, ip string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-For", ip)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestRateLimit_IgnoresForwardedFor(t *testing.T) {
	env := newTestEnv(t, Options{RateLimit: 2})

	for i := 0; i < 2; i++ {
		resp := getWithForwardedFor(t, env.url+"/v1/certificates/nope", fmt.Sprintf("203.0.113.%d", i+1))
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
	resp := getWithForwardedFor(t, env.url+"/v1/certificates/nope", "203.0.113.99")
	requireError(t, resp, http.StatusTooManyRequests, CodeRateLimited)
}

func TestRateLimit_TrustProxy(t *testing.T) {
	env := newTestEnv(t, Options{RateLimit: 1, TrustProxy: true})

	resp := getWithForwardedFor(t, env.url+"/v1/certificates/nope", "203.0.113.1")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = getWithForwardedFor(t, env.url+"/v1/certificates/nope", "203.0.113.2")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "each forwarded client has its own budget")
	resp = getWithForwardedFor(t, env.url+"/v1/certificates/nope", "203.0.113.1")
	requireError(t, resp, http.StatusTooManyRequests, CodeRateLimited)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := newTestEnv(t, Options{Gatherer: reg})

	resp := do(t, http.MethodGet, env.url+"/v1/certificates/nope", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodGet, env.url+"/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `certvault_operations_total{op="get",outcome="not-found"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp := do(t, http.MethodGet, env.url+"/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		outcome certificate.Outcome
		want    int
	}{
		{certificate.OutcomeNotFound, http.StatusNotFound},
		{certificate.OutcomeInactive, http.StatusGone},
		{certificate.OutcomeUnauthorized, http.StatusForbidden},
		{certificate.OutcomeDuplicate, http.StatusConflict},
		{certificate.OutcomeAddressMismatch, http.StatusConflict},
		{certificate.OutcomeInvalidArgument, http.StatusBadRequest},
		{certificate.OutcomeUnavailable, http.StatusServiceUnavailable},
		{certificate.OutcomeIntegrity, http.StatusInternalServerError},
		{certificate.OutcomeMalformed, http.StatusInternalServerError},
		{certificate.OutcomeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.outcome))
		})
	}
}
