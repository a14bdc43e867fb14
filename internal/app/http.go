package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"corkboard/api/internal/auth"
	"corkboard/api/internal/resolve"
	"corkboard/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
			"redis":    map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		if err := s.service.RedisPing(ctx); err != nil {
			// The shared cache tier is an accelerator; its loss does not
			// make the service unready.
			checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"actorId":   session.ActorID,
			"actorName": session.ActorName,
			"expiresAt": session.ExpiresAt.UTC().Format(time.RFC3339),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "actorName": nil})
			return
		}
		session, err := s.service.SessionFromToken(token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "actorName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"actorId":       session.ActorID,
			"actorName":     session.ActorName,
		})
		return
	}

	// Resolution is open to anonymous callers; a token only enables
	// lazy creation on the caller's behalf.
	if r.Method == http.MethodGet && r.URL.Path == "/api/resolve" {
		s.handleResolve(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "projects" {
		items, err := s.service.ListProjects(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": projectPayloads(items)})
		return
	}

	if r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "projects" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		var body struct {
			Name string `json:"name"`
			Slug string `json:"slug"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.CreateProject(r.Context(), session.ActorID, body.Name, body.Slug)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, projectPayload(item))
		return
	}

	if len(parts) >= 3 && parts[1] == "projects" {
		projectID := parts[2]

		if r.Method == http.MethodGet && len(parts) == 3 {
			item, err := s.service.GetProject(r.Context(), projectID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, projectPayload(item))
			return
		}

		if r.Method == http.MethodPut && len(parts) == 3 {
			if _, ok := s.requireSession(w, r); !ok {
				return
			}
			var body struct {
				Slug string `json:"slug"`
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.RenameProject(r.Context(), projectID, body.Slug, body.Name)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, projectPayload(item))
			return
		}

		if r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "boards" {
			items, err := s.service.ListBoards(r.Context(), projectID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"boards": boardPayloads(items)})
			return
		}

		if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "boards" {
			session, ok := s.requireSession(w, r)
			if !ok {
				return
			}
			var body struct {
				Title string `json:"title"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.CreateBoard(r.Context(), session.ActorID, projectID, body.Title)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, boardPayload(item))
			return
		}

		if r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "history" {
			items, err := s.service.ListSlugHistory(r.Context(), projectID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"history": slugHistoryPayloads(items)})
			return
		}
	}

	if len(parts) >= 3 && parts[1] == "boards" {
		boardID := parts[2]

		if r.Method == http.MethodGet && len(parts) == 3 {
			item, err := s.service.GetBoard(r.Context(), boardID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, boardPayload(item))
			return
		}

		if r.Method == http.MethodPut && len(parts) == 3 {
			if _, ok := s.requireSession(w, r); !ok {
				return
			}
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.RenameBoard(r.Context(), boardID, body.Name)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, boardPayload(item))
			return
		}

		if r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "history" {
			items, err := s.service.ListNameHistory(r.Context(), boardID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"history": nameHistoryPayloads(items)})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleResolve maps a navigation to HTTP: 200 for a settled path, 307
// with the canonical Location when the requested path was corrected,
// 404 when nothing owns the path.
func (s *HTTPServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "PATH_REQUIRED", "path query parameter is required", nil)
		return
	}

	actorID := ""
	if token := bearerToken(r); token != "" {
		session, err := s.service.SessionFromToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		actorID = session.ActorID
	}

	nav, err := s.service.Navigate(r.Context(), path, actorID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	if nav.State == StateNotFound {
		w.Header().Set("Location", nav.Location)
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	status := http.StatusOK
	if nav.Redirected {
		w.Header().Set("Location", nav.Location)
		status = http.StatusTemporaryRedirect
	}
	writeJSON(w, status, map[string]any{
		"state":      nav.State.String(),
		"path":       nav.Location,
		"projectId":  nav.ProjectID,
		"boardId":    nav.BoardID,
		"created":    nav.Created,
		"redirected": nav.Redirected,
	})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, resolve.ErrProjectNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, resolve.ErrNoActor) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 499, "CLIENT_CLOSED", "Request cancelled", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func projectPayload(item store.Project) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"slug":      item.Slug,
		"name":      item.Name,
		"createdBy": item.CreatedBy,
		"createdAt": item.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt": item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func projectPayloads(items []store.Project) []map[string]any {
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, projectPayload(item))
	}
	return payloads
}

func boardPayload(item store.Board) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"projectId": item.ProjectID,
		"name":      item.Name,
		"createdBy": item.CreatedBy,
		"createdAt": item.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt": item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func boardPayloads(items []store.Board) []map[string]any {
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, boardPayload(item))
	}
	return payloads
}

func slugHistoryPayloads(items []store.SlugHistoryRecord) []map[string]any {
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, map[string]any{
			"id":         item.ID,
			"projectId":  item.ProjectID,
			"oldSlug":    item.OldSlug,
			"newSlug":    item.NewSlug,
			"recordedAt": item.RecordedAt.UTC().Format(time.RFC3339),
		})
	}
	return payloads
}

func nameHistoryPayloads(items []store.NameHistoryRecord) []map[string]any {
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, map[string]any{
			"id":         item.ID,
			"boardId":    item.BoardID,
			"projectId":  item.ProjectID,
			"oldName":    item.OldName,
			"newName":    item.NewName,
			"recordedAt": item.RecordedAt.UTC().Format(time.RFC3339),
		})
	}
	return payloads
}
