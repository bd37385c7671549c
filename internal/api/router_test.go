package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracehound/tracehound/internal/errkind"
	"github.com/tracehound/tracehound/internal/models"
)

type fakePoller struct {
	pollErr error
}

func (f *fakePoller) ExecutePollCycle(context.Context) (*models.PollResult, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return &models.PollResult{ErrorsFound: 3, NewSignatures: 1, Timestamp: time.Now().UTC()}, nil
}
func (f *fakePoller) ExecuteInvestigationCycle(context.Context) (*models.InvestigationResult, error) {
	return &models.InvestigationResult{InvestigationsAttempted: 1, Timestamp: time.Now().UTC()}, nil
}

type fakeManager struct {
	sigs map[string]*models.Signature
}

func (f *fakeManager) lookup(id string) (*models.Signature, error) {
	sig, ok := f.sigs[id]
	if !ok {
		return nil, errkind.NotFound("test.lookup", id)
	}
	return sig, nil
}

func (f *fakeManager) Mute(_ context.Context, id, _ string) (*models.Signature, error) {
	sig, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	sig.Status = models.StatusMuted
	return sig, nil
}
func (f *fakeManager) Resolve(_ context.Context, id, _ string) (*models.Signature, error) {
	sig, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	sig.Status = models.StatusResolved
	return sig, nil
}
func (f *fakeManager) Retriage(_ context.Context, id string) (*models.Signature, error) {
	sig, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	sig.Status = models.StatusNew
	return sig, nil
}
func (f *fakeManager) Reinvestigate(_ context.Context, id string) (*models.Diagnosis, error) {
	if _, err := f.lookup(id); err != nil {
		return nil, err
	}
	return &models.Diagnosis{
		RootCause: "cause", Evidence: []string{"e"}, SuggestedFix: "fix",
		Confidence: models.ConfidenceHigh, DiagnosedAt: time.Now().UTC(),
	}, nil
}
func (f *fakeManager) GetSignatureDetails(_ context.Context, id string) (*models.SignatureDetails, error) {
	sig, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	return &models.SignatureDetails{Signature: sig}, nil
}
func (f *fakeManager) ListSignatures(context.Context, models.Status) ([]*models.Signature, error) {
	var out []*models.Signature
	for _, sig := range f.sigs {
		out = append(out, sig)
	}
	return out, nil
}

func newServer(t *testing.T, token string) (*httptest.Server, *fakeManager) {
	t.Helper()
	mgr := &fakeManager{sigs: map[string]*models.Signature{
		"sig-1": {
			ID: "sig-1", Fingerprint: "fp", ErrorType: "E", Service: "svc",
			MessageTemplate: "m", FirstSeen: time.Now().UTC(), LastSeen: time.Now().UTC(),
			OccurrenceCount: 4, Status: models.StatusNew,
		},
	}}
	rt := NewRouter(&fakePoller{}, mgr, token, "1.0.0-test")
	srv := httptest.NewServer(rt.Handler())
	t.Cleanup(srv.Close)
	return srv, mgr
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, "")
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.0.0-test", body["version"])
}

func TestSecurityHeaders(t *testing.T) {
	srv, _ := newServer(t, "")
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestPollTrigger(t *testing.T) {
	srv, _ := newServer(t, "")
	resp := postJSON(t, srv.URL+"/api/poll", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var res models.PollResult
	decode(t, resp, &res)
	assert.Equal(t, 3, res.ErrorsFound)
}

func TestMuteLifecycle(t *testing.T) {
	srv, mgr := newServer(t, "")
	resp := postJSON(t, srv.URL+"/api/mute", map[string]string{"signature_id": "sig-1", "reason": "noisy"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var sig models.Signature
	decode(t, resp, &sig)
	assert.Equal(t, models.StatusMuted, sig.Status)
	assert.Equal(t, models.StatusMuted, mgr.sigs["sig-1"].Status)
}

func TestMuteUnknownSignature(t *testing.T) {
	srv, _ := newServer(t, "")
	resp := postJSON(t, srv.URL+"/api/mute", map[string]string{"signature_id": "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "error", body["status"])
	assert.NotEmpty(t, body["message"])
}

func TestMuteMissingID(t *testing.T) {
	srv, _ := newServer(t, "")
	resp := postJSON(t, srv.URL+"/api/mute", map[string]string{"reason": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestInvalidJSONBody(t *testing.T) {
	srv, _ := newServer(t, "")
	resp, err := http.Post(srv.URL+"/api/mute", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestOversizedBody(t *testing.T) {
	srv, _ := newServer(t, "")
	big := `{"signature_id":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	resp, err := http.Post(srv.URL+"/api/mute", "application/json", strings.NewReader(big))
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	resp.Body.Close()
}

func TestBearerAuth(t *testing.T) {
	srv, _ := newServer(t, "secret")

	// Missing token.
	resp := postJSON(t, srv.URL+"/api/poll", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Wrong token.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/poll", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
	resp2.Body.Close()

	// Correct token.
	req2, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/poll", nil)
	req2.Header.Set("Authorization", "Bearer secret")
	resp3, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp3.StatusCode)
	resp3.Body.Close()

	// Health never requires auth.
	resp4, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp4.StatusCode)
	resp4.Body.Close()
}

func TestMethodEnforcement(t *testing.T) {
	srv, _ := newServer(t, "")

	resp, err := http.Get(srv.URL + "/api/mute")
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/list", nil)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
	resp2.Body.Close()
}

func TestDetails(t *testing.T) {
	srv, _ := newServer(t, "")

	resp, err := http.Get(srv.URL + "/api/details?id=sig-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var details models.SignatureDetails
	decode(t, resp, &details)
	assert.Equal(t, "sig-1", details.Signature.ID)

	resp2, err := http.Get(srv.URL + "/api/details")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	resp2.Body.Close()

	resp3, err := http.Get(srv.URL + "/api/details?id=missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
	resp3.Body.Close()
}

func TestDetailsPostBody(t *testing.T) {
	srv, _ := newServer(t, "")

	resp := postJSON(t, srv.URL+"/api/details", map[string]string{"signature_id": "sig-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var details models.SignatureDetails
	decode(t, resp, &details)
	assert.Equal(t, "sig-1", details.Signature.ID)

	resp2 := postJSON(t, srv.URL+"/api/details", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	resp2.Body.Close()
}

func TestListPostBody(t *testing.T) {
	srv, _ := newServer(t, "")

	resp := postJSON(t, srv.URL+"/api/list", map[string]string{"status": "new"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var sigs []*models.Signature
	decode(t, resp, &sigs)
	assert.Len(t, sigs, 1)

	resp2 := postJSON(t, srv.URL+"/api/list", map[string]string{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	resp2.Body.Close()
}

func TestList(t *testing.T) {
	srv, _ := newServer(t, "")

	resp, err := http.Get(srv.URL + "/api/list")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var sigs []*models.Signature
	decode(t, resp, &sigs)
	assert.Len(t, sigs, 1)

	resp2, err := http.Get(srv.URL + "/api/list?status=bogus")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	resp2.Body.Close()
}

func TestReinvestigate(t *testing.T) {
	srv, _ := newServer(t, "")
	resp := postJSON(t, srv.URL+"/api/reinvestigate", map[string]string{"signature_id": "sig-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var diag models.Diagnosis
	decode(t, resp, &diag)
	assert.Equal(t, "cause", diag.RootCause)
}
