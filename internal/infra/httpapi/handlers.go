package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"auth_expiry_notifier/internal/app"
	"auth_expiry_notifier/internal/domain/errs"

	"github.com/sirupsen/logrus"
)

type scopeRequest struct {
	UnitID      string `json:"unit_id"`
	WarningDays *int   `json:"warning_days"`
}

func (r scopeRequest) scope() (app.Scope, error) {
	if r.WarningDays != nil && *r.WarningDays < 0 {
		return app.Scope{}, fmt.Errorf("warning_days must not be negative: %w", errs.ErrValidation)
	}
	return app.Scope{UnitID: r.UnitID, WarningDays: r.WarningDays}, nil
}

type resourceRequest struct {
	scopeRequest
	ResourceID string `json:"resource_id"`
}

type sendRequest struct {
	BatchID string `json:"batch_id"`
}

type testEmailRequest struct {
	Email      string `json:"email"`
	ResourceID string `json:"resource_id"`
}

// decodeBody reads an optional JSON body. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("invalid request body: %v: %w", err, errs.ErrValidation)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": s.cfg.ServiceName,
		"version": s.cfg.Version,
		"status":  "running",
	})
}

// writePass reports a pass result. A pass that aborted is a 500 with the
// same body so callers still see its errors.
func writePass(w http.ResponseWriter, result *app.PassResult) {
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func (s *Server) handleNotifyExpiry(w http.ResponseWriter, r *http.Request) {
	var req scopeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeServiceError(w, r, "Failed to process authorisation expiry notifications", err)
		return
	}
	scope, err := req.scope()
	if err != nil {
		s.writeServiceError(w, r, "Failed to process authorisation expiry notifications", err)
		return
	}
	s.logger.WithFields(logrus.Fields{"unit_id": req.UnitID, "api_user": APIUserFrom(r.Context())}).Info("Received notify-auth-expiry request")
	writePass(w, s.svc.CheckAndNotify(r.Context(), scope))
}

func (s *Server) handleQueueExpiry(w http.ResponseWriter, r *http.Request) {
	var req scopeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeServiceError(w, r, "Failed to queue authorisation expiry notifications", err)
		return
	}
	scope, err := req.scope()
	if err != nil {
		s.writeServiceError(w, r, "Failed to queue authorisation expiry notifications", err)
		return
	}
	s.logger.WithFields(logrus.Fields{"unit_id": req.UnitID, "api_user": APIUserFrom(r.Context())}).Info("Received queue-auth-expiry request")
	writePass(w, s.svc.QueueExpiring(r.Context(), scope))
}

func (s *Server) handleNotifyResource(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeServiceError(w, r, "Failed to process authorisation expiry notification", err)
		return
	}
	if req.ResourceID == "" {
		writeError(w, http.StatusBadRequest, errs.KindValidation, "resource_id is required")
		return
	}
	scope, err := req.scope()
	if err != nil {
		s.writeServiceError(w, r, "Failed to process authorisation expiry notification", err)
		return
	}
	s.logger.WithField("resource_id", req.ResourceID).Info("Received single-user notify-auth-expiry request")
	writePass(w, s.svc.NotifyForResource(r.Context(), req.ResourceID, scope))
}

func (s *Server) handleSendNotification(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeServiceError(w, r, "Failed to send notification batch", err)
		return
	}
	if req.BatchID == "" {
		writeError(w, http.StatusBadRequest, errs.KindValidation, "batch_id is required")
		return
	}
	result, err := s.svc.SendQueuedBatch(r.Context(), req.BatchID)
	if err != nil {
		s.writeServiceError(w, r, "Failed to send notification batch", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListExpiring(w http.ResponseWriter, r *http.Request) {
	req := scopeRequest{UnitID: r.URL.Query().Get("unit_id")}
	if raw := r.URL.Query().Get("warning_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errs.KindValidation, "warning_days must be an integer")
			return
		}
		req.WarningDays = &days
	}
	scope, err := req.scope()
	if err != nil {
		s.writeServiceError(w, r, "Failed to retrieve expiring authorisations", err)
		return
	}
	list, err := s.svc.ListExpiring(r.Context(), scope)
	if err != nil {
		s.writeServiceError(w, r, "Failed to retrieve expiring authorisations", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleTestEmail(w http.ResponseWriter, r *http.Request) {
	var req testEmailRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeServiceError(w, r, "Failed to send test email", err)
		return
	}
	if err := s.svc.SendTestEmail(r.Context(), req.Email, req.ResourceID); err != nil {
		s.writeServiceError(w, r, "Failed to send test email", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":     "Test email sent successfully",
		"email":       req.Email,
		"resource_id": req.ResourceID,
	})
}
