// Package api exposes the webhook surface: cycle triggers, lifecycle
// management, and health. All responses are JSON.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tracehound/tracehound/internal/errkind"
	"github.com/tracehound/tracehound/internal/interfaces"
	"github.com/tracehound/tracehound/internal/models"
)

// Request bodies above this size are rejected with 413.
const maxBodyBytes = 1 << 20

// Router serves the management API.
type Router struct {
	poller  interfaces.Poller
	manager interfaces.Manager
	token   string // empty disables bearer auth
	version string
}

// NewRouter creates the API router. An empty token disables auth.
func NewRouter(poller interfaces.Poller, manager interfaces.Manager, token, version string) *Router {
	return &Router{poller: poller, manager: manager, token: token, version: version}
}

// Handler returns the http.Handler for the API.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", rt.handleHealth)
	mux.HandleFunc("/api/poll", rt.requireAuth(rt.post(rt.handlePoll)))
	mux.HandleFunc("/api/investigate", rt.requireAuth(rt.post(rt.handleInvestigate)))
	mux.HandleFunc("/api/mute", rt.requireAuth(rt.post(rt.handleMute)))
	mux.HandleFunc("/api/resolve", rt.requireAuth(rt.post(rt.handleResolve)))
	mux.HandleFunc("/api/retriage", rt.requireAuth(rt.post(rt.handleRetriage)))
	mux.HandleFunc("/api/reinvestigate", rt.requireAuth(rt.post(rt.handleReinvestigate)))
	mux.HandleFunc("/api/details", rt.requireAuth(rt.read(rt.handleDetails)))
	mux.HandleFunc("/api/list", rt.requireAuth(rt.read(rt.handleList)))
	return rt.wrap(mux)
}

// wrap applies security headers and request logging to every route.
func (rt *Router) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")

		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}

func (rt *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rt.token != "" {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != rt.token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next(w, r)
	}
}

func (rt *Router) post(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next(w, r)
	}
}

// read endpoints take POST with a JSON body like every other route, and
// also answer GET with query parameters for convenience.
func (rt *Router) read(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		case http.MethodGet:
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		next(w, r)
	}
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": rt.version,
	})
}

func (rt *Router) handlePoll(w http.ResponseWriter, r *http.Request) {
	res, err := rt.poller.ExecutePollCycle(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	res, err := rt.poller.ExecuteInvestigationCycle(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type muteRequest struct {
	SignatureID string `json:"signature_id"`
	Reason      string `json:"reason"`
}

func (rt *Router) handleMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SignatureID == "" {
		writeError(w, http.StatusBadRequest, "signature_id is required")
		return
	}
	sig, err := rt.manager.Mute(r.Context(), req.SignatureID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

type resolveRequest struct {
	SignatureID string `json:"signature_id"`
	Fix         string `json:"fix"`
}

func (rt *Router) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SignatureID == "" {
		writeError(w, http.StatusBadRequest, "signature_id is required")
		return
	}
	sig, err := rt.manager.Resolve(r.Context(), req.SignatureID, req.Fix)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

type signatureRequest struct {
	SignatureID string `json:"signature_id"`
}

func (rt *Router) handleRetriage(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SignatureID == "" {
		writeError(w, http.StatusBadRequest, "signature_id is required")
		return
	}
	sig, err := rt.manager.Retriage(r.Context(), req.SignatureID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

func (rt *Router) handleReinvestigate(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SignatureID == "" {
		writeError(w, http.StatusBadRequest, "signature_id is required")
		return
	}
	diag, err := rt.manager.Reinvestigate(r.Context(), req.SignatureID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diag)
}

func (rt *Router) handleDetails(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if r.Method == http.MethodPost {
		var req signatureRequest
		if !decodeBody(w, r, &req) {
			return
		}
		id = req.SignatureID
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "signature_id is required")
		return
	}
	details, err := rt.manager.GetSignatureDetails(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

type listRequest struct {
	Status string `json:"status"`
}

func (rt *Router) handleList(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("status")
	if r.Method == http.MethodPost {
		var req listRequest
		if !decodeBody(w, r, &req) {
			return
		}
		raw = req.Status
	}

	var status models.Status
	if raw != "" {
		parsed, err := models.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = parsed
	}
	sigs, err := rt.manager.ListSignatures(r.Context(), status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if sigs == nil {
		sigs = []*models.Signature{}
	}
	writeJSON(w, http.StatusOK, sigs)
}

// decodeBody parses the JSON request body, writing the error response
// itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeDomainError maps domain error kinds to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errkind.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errkind.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errkind.ErrBudgetExceeded):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, errkind.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		log.Error().Err(err).Msg("API request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode API response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}
