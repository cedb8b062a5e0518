// Package api is the localhost HTTP surface the UI layer consumes to
// drive verification flows: build a payload to display, submit whatever
// the camera saw, and track the outcome of the human SAS comparison.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pgprooms/pgprooms/internal/config"
	"github.com/pgprooms/pgprooms/internal/keys"
	"github.com/pgprooms/pgprooms/internal/session"
	"github.com/pgprooms/pgprooms/internal/verify"
)

// Scan result statuses returned by PostScan. "no_verification_data" is
// the normal outcome for scans of unrelated codes and is never logged as
// an error.
const (
	ScanStatusOK         = "ok"
	ScanStatusNoData     = "no_verification_data"
	ScanStatusUnreadable = "unreadable"
	ScanStatusIncomplete = "incomplete"
)

// Handlers carries the dependencies of the verification endpoints.
type Handlers struct {
	cfg   config.Config
	store *session.Store
	log   *zap.Logger
}

// NewHandlers wires the endpoint set.
func NewHandlers(cfg config.Config, store *session.Store, log *zap.Logger) *Handlers {
	return &Handlers{cfg: cfg, store: store, log: log}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("write response failed", zap.Error(err))
	}
}

// GetTime returns the current server time in RFC3339 format.
func (h *Handlers) GetTime(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"time": time.Now().Format(time.RFC3339)})
}

// PayloadRequest is the body of POST /verify/payload. Fingerprint may be
// omitted, in which case it is recovered from the armored key.
type PayloadRequest struct {
	Fingerprint      string `json:"fingerprint"`
	UserID           string `json:"user_id"`
	DeviceLabel      string `json:"device_label"`
	PublicKeyArmored string `json:"public_key_armored"`
}

// PayloadResponse carries the transport string to render as a QR code.
type PayloadResponse struct {
	SessionID string `json:"session_id"`
	Transport string `json:"transport"`
}

// PostPayload builds the transport string for this device's identity and
// opens a pending exchange so the UI can track the outcome.
func (h *Handlers) PostPayload(w http.ResponseWriter, r *http.Request) {
	var req PayloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.DeviceLabel == "" || req.PublicKeyArmored == "" {
		http.Error(w, "user_id, device_label and public_key_armored are required", http.StatusBadRequest)
		return
	}

	fpr := keys.CanonicalFingerprint(req.Fingerprint)
	if fpr == "" {
		info, err := keys.ParseArmoredPublicKey(req.PublicKeyArmored)
		if err != nil {
			http.Error(w, "public_key_armored is not a usable public key", http.StatusBadRequest)
			return
		}
		fpr = info.Fingerprint
	}

	transport := verify.Encode(fpr, req.UserID, req.DeviceLabel, req.PublicKeyArmored)
	v := h.store.Begin(fpr)
	h.log.Info("verification payload issued",
		zap.String("session_id", v.ID),
		zap.String("device_label", req.DeviceLabel))
	h.writeJSON(w, http.StatusCreated, PayloadResponse{SessionID: v.ID, Transport: transport})
}

// ScanRequest is the body of POST /verify/scan: whatever the camera saw
// plus this device's own fingerprint for SAS derivation.
type ScanRequest struct {
	Data             string `json:"data"`
	LocalFingerprint string `json:"local_fingerprint"`
}

// ScanResponse reports the decode outcome. SAS and Payload are set only
// when Status is "ok"; no partial results are returned otherwise.
type ScanResponse struct {
	Status        string          `json:"status"`
	Missing       []string        `json:"missing,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	SAS           string          `json:"sas,omitempty"`
	Payload       *verify.Payload `json:"payload,omitempty"`
	Stale         bool            `json:"stale,omitempty"`
	KeyChecked    bool            `json:"key_checked"`
	KeyMatchesFpr bool            `json:"key_matches_fpr"`
}

// PostScan decodes a scanned string. Non-payload scans are a success
// case with status "no_verification_data"; decode failures map to 422
// with a status the UI can turn into retry guidance.
func (h *Handlers) PostScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	local := keys.CanonicalFingerprint(req.LocalFingerprint)
	if local == "" {
		http.Error(w, "local_fingerprint is required", http.StatusBadRequest)
		return
	}

	p, err := verify.Decode(req.Data)
	if err != nil {
		var inc *verify.IncompleteError
		switch {
		case errors.Is(err, verify.ErrNotAPayload):
			h.writeJSON(w, http.StatusOK, ScanResponse{Status: ScanStatusNoData})
		case errors.As(err, &inc):
			h.writeJSON(w, http.StatusUnprocessableEntity, ScanResponse{
				Status:  ScanStatusIncomplete,
				Missing: inc.Missing,
			})
		default:
			h.writeJSON(w, http.StatusUnprocessableEntity, ScanResponse{Status: ScanStatusUnreadable})
		}
		return
	}

	remote := keys.CanonicalFingerprint(p.Fingerprint)
	sas := verify.DeriveShortAuthString(local, remote)

	resp := ScanResponse{
		Status:  ScanStatusOK,
		SAS:     sas,
		Payload: p,
	}
	if matches, err := keys.FingerprintMatchesKey(p.Fingerprint, p.PublicKeyArmored); err == nil {
		resp.KeyChecked = true
		resp.KeyMatchesFpr = matches
	} else {
		h.log.Warn("could not cross-check payload key", zap.Error(err))
	}
	if stale := h.cfg.PayloadStaleAfter(); stale > 0 && p.Age(time.Now()) > stale {
		resp.Stale = true
	}

	v := h.store.RecordScan(local, p, sas)
	resp.SessionID = v.ID
	h.log.Info("verification scan accepted",
		zap.String("session_id", v.ID),
		zap.String("sas", sas),
		zap.Bool("stale", resp.Stale))
	h.writeJSON(w, http.StatusOK, resp)
}

// GetSession returns one exchange by ID.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	v, err := h.store.Get(id)
	if err != nil {
		http.Error(w, "verification not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, v)
}

// ListSessions returns all exchanges known to this process.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.store.List())
}

// ResolveRequest is the body of POST /verify/sessions/{id}/resolve.
type ResolveRequest struct {
	Outcome session.Status `json:"outcome"`
}

// ResolveSession records the human comparison outcome for an exchange.
func (h *Handlers) ResolveSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch req.Outcome {
	case session.StatusConfirmed, session.StatusMismatched, session.StatusDismissed:
	default:
		http.Error(w, "outcome must be confirmed, mismatched or dismissed", http.StatusBadRequest)
		return
	}

	v, err := h.store.Resolve(id, req.Outcome)
	switch {
	case errors.Is(err, session.ErrVerificationNotFound):
		http.Error(w, "verification not found", http.StatusNotFound)
		return
	case errors.Is(err, session.ErrAlreadyResolved):
		http.Error(w, "verification already resolved", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "failed to resolve verification", http.StatusInternalServerError)
		return
	}
	if req.Outcome == session.StatusMismatched {
		// A mismatched SAS is the signal this whole subsystem exists for.
		h.log.Warn("verification mismatch reported", zap.String("session_id", id))
	}
	h.writeJSON(w, http.StatusOK, v)
}
