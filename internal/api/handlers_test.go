package api

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"

	"github.com/pgprooms/pgprooms/internal/config"
	"github.com/pgprooms/pgprooms/internal/session"
	"github.com/pgprooms/pgprooms/internal/verify"
)

func newTestRouter(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	h := NewHandlers(cfg, session.NewStore(), zap.NewNop())
	return NewRouter(h)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func armoredTestKey(t *testing.T) (string, string) {
	t.Helper()
	entity, err := openpgp.NewEntity("Bob Example", "", "bob@example.com", nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := entity.SerializePrivate(io.Discard, nil); err != nil {
		t.Fatalf("sign key: %v", err)
	}
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("armor encode: %v", err)
	}
	if err := entity.Serialize(w); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close armor: %v", err)
	}
	fpr := strings.ToUpper(hex.EncodeToString(entity.PrimaryKey.Fingerprint[:]))
	return buf.String(), fpr
}

func TestPostPayloadIssuesTransportString(t *testing.T) {
	router := newTestRouter(t, config.Default())
	rec := doJSON(t, router, "POST", "/verify/payload", PayloadRequest{
		Fingerprint:      "aaaa 1111",
		UserID:           "u--me",
		DeviceLabel:      "Work Laptop",
		PublicKeyArmored: "-----BEGIN PGP PUBLIC KEY BLOCK-----\n...",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp PayloadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(resp.Transport, verify.SchemePrefix) {
		t.Errorf("transport %q lacks scheme prefix", resp.Transport)
	}
	p, err := verify.Decode(resp.Transport)
	if err != nil {
		t.Fatalf("issued transport does not decode: %v", err)
	}
	if p.Fingerprint != "AAAA1111" {
		t.Errorf("fingerprint = %q, want canonicalized AAAA1111", p.Fingerprint)
	}
	if resp.SessionID == "" {
		t.Error("session_id missing")
	}
}

func TestPostPayloadDerivesFingerprintFromKey(t *testing.T) {
	armored, fpr := armoredTestKey(t)
	router := newTestRouter(t, config.Default())
	rec := doJSON(t, router, "POST", "/verify/payload", PayloadRequest{
		UserID:           "u--me",
		DeviceLabel:      "Work Laptop",
		PublicKeyArmored: armored,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp PayloadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	p, err := verify.Decode(resp.Transport)
	if err != nil {
		t.Fatalf("decode transport: %v", err)
	}
	if p.Fingerprint != fpr {
		t.Errorf("fingerprint = %q, want %q from armored key", p.Fingerprint, fpr)
	}
}

func TestPostPayloadValidation(t *testing.T) {
	router := newTestRouter(t, config.Default())
	rec := doJSON(t, router, "POST", "/verify/payload", PayloadRequest{
		UserID: "u--me", // label and key missing
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPostScanOutcomes(t *testing.T) {
	router := newTestRouter(t, config.Default())

	cases := []struct {
		name       string
		data       string
		wantCode   int
		wantStatus string
	}{
		{"foreign input", "not-a-verification-string", http.StatusOK, ScanStatusNoData},
		{"truncated", verify.SchemePrefix + "%%%garbage", http.StatusUnprocessableEntity, ScanStatusUnreadable},
		{"ok", verify.Encode("BBBB2222", "u--peer", "Peer Phone", "-----BEGIN PGP PUBLIC KEY BLOCK-----\nxyz"), http.StatusOK, ScanStatusOK},
	}
	for _, c := range cases {
		rec := doJSON(t, router, "POST", "/verify/scan", ScanRequest{
			Data:             c.data,
			LocalFingerprint: "AAAA1111",
		})
		if rec.Code != c.wantCode {
			t.Errorf("%s: status = %d, want %d (body %s)", c.name, rec.Code, c.wantCode, rec.Body.String())
			continue
		}
		var resp ScanResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode response: %v", c.name, err)
		}
		if resp.Status != c.wantStatus {
			t.Errorf("%s: scan status = %q, want %q", c.name, resp.Status, c.wantStatus)
		}
	}
}

func TestPostScanDerivesSymmetricSAS(t *testing.T) {
	router := newTestRouter(t, config.Default())
	data := verify.Encode("BBBB2222", "u--peer", "Peer Phone", "key")
	rec := doJSON(t, router, "POST", "/verify/scan", ScanRequest{Data: data, LocalFingerprint: "AAAA1111"})
	var resp ScanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SAS != "29CD42" {
		t.Errorf("sas = %q, want pinned 29CD42", resp.SAS)
	}
	if resp.SessionID == "" {
		t.Error("session_id missing on ok scan")
	}
	// Fake armor: the key cross-check must be skipped, not failed.
	if resp.KeyChecked {
		t.Error("key_checked should be false for unparseable armor")
	}
}

func TestPostScanIncompleteNamesFields(t *testing.T) {
	router := newTestRouter(t, config.Default())
	// Structurally valid body missing deviceLabel.
	body := `{"fpr":"BBBB2222","userId":"u--peer","publicKeyArmored":"key","timestamp":1}`
	data := verify.SchemePrefix + base64Encode(body)
	rec := doJSON(t, router, "POST", "/verify/scan", ScanRequest{Data: data, LocalFingerprint: "AAAA1111"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var resp ScanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != ScanStatusIncomplete {
		t.Errorf("status = %q, want %q", resp.Status, ScanStatusIncomplete)
	}
	if len(resp.Missing) != 1 || resp.Missing[0] != "deviceLabel" {
		t.Errorf("missing = %v, want [deviceLabel]", resp.Missing)
	}
}

func TestPostScanStaleFlag(t *testing.T) {
	cfg := config.Default()
	cfg.PayloadStaleAfterSeconds = 60

	router := newTestRouter(t, cfg)

	// Hand-build a payload with an old timestamp.
	old := verify.Payload{
		Fingerprint:      "BBBB2222",
		UserID:           "u--peer",
		DeviceLabel:      "Peer Phone",
		PublicKeyArmored: "key",
		Timestamp:        time.Now().Add(-5 * time.Minute).UnixMilli(),
	}
	raw, err := json.Marshal(old)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data := verify.SchemePrefix + base64Encode(string(raw))

	rec := doJSON(t, router, "POST", "/verify/scan", ScanRequest{Data: data, LocalFingerprint: "AAAA1111"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp ScanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Stale {
		t.Error("stale flag not set for a 5-minute-old payload")
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t, config.Default())
	data := verify.Encode("BBBB2222", "u--peer", "Peer Phone", "key")
	rec := doJSON(t, router, "POST", "/verify/scan", ScanRequest{Data: data, LocalFingerprint: "AAAA1111"})
	var scan ScanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &scan); err != nil {
		t.Fatalf("decode scan: %v", err)
	}

	rec = doJSON(t, router, "GET", "/verify/sessions/"+scan.SessionID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get session: status = %d", rec.Code)
	}

	rec = doJSON(t, router, "POST", "/verify/sessions/"+scan.SessionID+"/resolve",
		ResolveRequest{Outcome: session.StatusConfirmed})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var v session.Verification
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode resolve: %v", err)
	}
	if v.Status != session.StatusConfirmed {
		t.Errorf("status = %q, want confirmed", v.Status)
	}

	// Re-resolving conflicts.
	rec = doJSON(t, router, "POST", "/verify/sessions/"+scan.SessionID+"/resolve",
		ResolveRequest{Outcome: session.StatusDismissed})
	if rec.Code != http.StatusConflict {
		t.Errorf("second resolve: status = %d, want 409", rec.Code)
	}

	// Unknown session.
	rec = doJSON(t, router, "POST", "/verify/sessions/v--nope/resolve",
		ResolveRequest{Outcome: session.StatusConfirmed})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown resolve: status = %d, want 404", rec.Code)
	}

	// Bad outcome value.
	rec = doJSON(t, router, "POST", "/verify/sessions/"+scan.SessionID+"/resolve",
		ResolveRequest{Outcome: session.Status("maybe")})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad outcome: status = %d, want 400", rec.Code)
	}
}
