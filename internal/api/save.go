package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marcus/portal/internal/portal"
	"github.com/marcus/portal/internal/serverdb"
)

// allowSave is the Allow header of the save endpoint.
const allowSave = "OPTIONS, POST, PUT"

var (
	errCredentialMismatch = errors.New("credential mismatch")
	errExistingUnreadable = errors.New("existing configuration is unreadable")
)

// saveRequest is the body of the save endpoint.
type saveRequest struct {
	Auth   json.RawMessage `json:"auth"`
	Config json.RawMessage `json:"config"`
}

// SaveResponse is the success body of the save endpoint.
type SaveResponse struct {
	Status    string `json:"status"`
	Success   bool   `json:"success"`
	Path      string `json:"path"`
	Timestamp string `json:"timestamp"`
}

// badRequestError is a client mistake in the save body.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

// decodeSaveRequest validates the body: it must be a JSON object with an
// auth object carrying a username and a password hash, and a config object.
func decodeSaveRequest(body []byte) (portal.Credential, map[string]json.RawMessage, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return portal.Credential{}, nil, &badRequestError{"empty request body"}
	}
	var req saveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return portal.Credential{}, nil, &badRequestError{"invalid JSON body"}
	}
	if !isObject(req.Auth) || !isObject(req.Config) {
		return portal.Credential{}, nil, &badRequestError{"auth and config objects are required"}
	}
	var cred portal.Credential
	if err := json.Unmarshal(req.Auth, &cred); err != nil || cred.Username == "" || cred.PasswordHash == "" {
		return portal.Credential{}, nil, &badRequestError{"auth.username and auth.passwordHash are required"}
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(req.Config, &doc); err != nil {
		return portal.Credential{}, nil, &badRequestError{"config must be a JSON object"}
	}
	return cred, doc, nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// handleSave replaces the configuration document. The stored administrator
// must match the submitted credential; when none is stored yet the first
// save bootstraps it.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Allow", allowSave)
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost, http.MethodPut:
	default:
		w.Header().Set("Allow", allowSave)
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed")
		return
	}

	log := logFor(r.Context())
	ip := clientIP(r)
	event := serverdb.SaveEvent{IP: ip}

	if !s.rateLimiter.Allow("save:"+ip, s.config.RateLimitSave) {
		if s.store != nil {
			if err := s.store.InsertRateLimitEvent(ip, routeClass(r.URL.Path)); err != nil {
				log.Error("log rate limit event", "err", err)
			}
		}
		event.Outcome, event.Status = serverdb.SaveOutcomeRateLimited, http.StatusTooManyRequests
		s.audit(r, event, false)
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			event.Outcome, event.Status, event.Detail = serverdb.SaveOutcomeBadRequest, http.StatusRequestEntityTooLarge, "body too large"
			s.audit(r, event, false)
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
			return
		}
		event.Outcome, event.Status, event.Detail = serverdb.SaveOutcomeBadRequest, http.StatusBadRequest, "unreadable body"
		s.audit(r, event, false)
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "could not read request body")
		return
	}

	cred, doc, err := decodeSaveRequest(body)
	if err != nil {
		event.Outcome, event.Status, event.Detail = serverdb.SaveOutcomeBadRequest, http.StatusBadRequest, err.Error()
		s.audit(r, event, false)
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	event.Username = cred.Username

	now := s.now().UTC()
	bootstrap := false
	err = s.file.Update(func(current []byte) ([]byte, error) {
		admin, err := storedAdministrator(current)
		if err != nil {
			return nil, err
		}
		if admin == nil {
			bootstrap = true
		} else if !admin.Verify(cred) {
			return nil, errCredentialMismatch
		}
		out, err := encodeDocument(doc, now)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(out)
		event.Digest = hex.EncodeToString(sum[:])
		return out, nil
	})

	switch {
	case errors.Is(err, errCredentialMismatch):
		event.Outcome, event.Status, event.Detail = serverdb.SaveOutcomeUnauthorized, http.StatusUnauthorized, err.Error()
		s.audit(r, event, false)
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid administrator credentials")
		return
	case err != nil:
		log.Error("save config", "err", err)
		event.Outcome, event.Status, event.Detail = serverdb.SaveOutcomeFailed, http.StatusInternalServerError, err.Error()
		s.audit(r, event, false)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to write configuration")
		return
	}

	event.Outcome, event.Status = serverdb.SaveOutcomeSaved, http.StatusOK
	if bootstrap {
		event.Outcome = serverdb.SaveOutcomeBootstrap
	}
	s.audit(r, event, true)
	log.Info("configuration saved", "user", cred.Username, "bootstrap", bootstrap, "digest", event.Digest)

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, SaveResponse{
		Status:    "ok",
		Success:   true,
		Path:      s.file.Path(),
		Timestamp: now.Format(time.RFC3339),
	})
}

// storedAdministrator returns the administrator of the current document, nil
// when there is no document or it names none.
func storedAdministrator(current []byte) (*portal.Administrator, error) {
	if len(bytes.TrimSpace(current)) == 0 {
		return nil, nil
	}
	cfg, err := portal.Parse(current)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errExistingUnreadable, err)
	}
	return cfg.Administrator, nil
}

// encodeDocument stamps "updated" when the client did not and indents the
// document for people reading the file.
func encodeDocument(doc map[string]json.RawMessage, now time.Time) ([]byte, error) {
	if doc == nil {
		doc = map[string]json.RawMessage{}
	}
	if raw, ok := doc["updated"]; !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		stamp, err := json.Marshal(now.Format(time.RFC3339))
		if err != nil {
			return nil, err
		}
		doc["updated"] = stamp
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return append(out, '\n'), nil
}

func (s *Server) audit(r *http.Request, e serverdb.SaveEvent, accepted bool) {
	s.metrics.RecordSave(e.Outcome, accepted)
	if s.store == nil {
		return
	}
	if err := s.store.InsertSaveEvent(e); err != nil {
		logFor(r.Context()).Error("log save event", "err", err)
	}
}
