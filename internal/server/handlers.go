package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dativo-io/aegis/internal/audit"
	"github.com/dativo-io/aegis/internal/authz"
	"github.com/dativo-io/aegis/internal/gateway"
	"github.com/dativo-io/aegis/internal/llm"
	"github.com/dativo-io/aegis/internal/requestctx"
	"github.com/dativo-io/aegis/internal/stepup"
	"github.com/dativo-io/aegis/internal/tokenvault"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id"`
	History  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"history"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message is required")
		return
	}

	ctx := r.Context()
	if req.ThreadID != "" {
		ctx = requestctx.SetThreadID(ctx, req.ThreadID)
	}

	history := make([]llm.Message, len(req.History))
	for i, m := range req.History {
		history[i] = llm.Message{Role: m.Role, Content: m.Content}
	}

	result, err := s.agent.Run(ctx, history, req.Message)
	if err != nil {
		log.Error().Err(err).Msg("chat_turn_failed")
		writeError(w, http.StatusBadGateway, "chat_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleInvoke submits one tool call directly, bypassing the model.
// This is the resume surface: the client re-submits the gated call with
// the approved challenge id.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req gateway.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "toolName is required")
		return
	}

	result, err := s.gateway.Execute(r.Context(), req)
	if errors.Is(err, gateway.ErrToolNotFound) {
		writeError(w, http.StatusNotFound, "tool_not_found", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "tool_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events, err := s.auditStore.List(r.Context(),
		requestctx.SubjectID(r.Context()),
		r.URL.Query().Get("workspace_id"),
		limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit_query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) handleAuditCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.auditStore.StatusCounts(r.Context(),
		requestctx.SubjectID(r.Context()),
		r.URL.Query().Get("workspace_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit_query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleAuditGet(w http.ResponseWriter, r *http.Request) {
	ev, err := s.auditStore.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, audit.ErrEventNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Audit event not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit_query_failed", err.Error())
		return
	}
	if ev.SubjectID != requestctx.SubjectID(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found", "Audit event not found")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ev, err := s.auditStore.Get(r.Context(), id)
	if errors.Is(err, audit.ErrEventNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Audit event not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit_query_failed", err.Error())
		return
	}
	if ev.SubjectID != requestctx.SubjectID(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found", "Audit event not found")
		return
	}
	valid, err := s.auditStore.Verify(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "verify_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":    id,
		"valid": valid,
	})
}

func (s *Server) handleChallengesList(w http.ResponseWriter, r *http.Request) {
	challenges, err := s.challenges.ListPending(r.Context(), requestctx.SubjectID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "challenge_query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"challenges": challenges,
		"count":      len(challenges),
	})
}

// resolveOwnChallenge loads a challenge and hides it unless it belongs
// to the caller.
func (s *Server) resolveOwnChallenge(w http.ResponseWriter, r *http.Request) *stepup.Challenge {
	ch, err := s.challenges.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, stepup.ErrChallengeNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Challenge not found")
		return nil
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "challenge_query_failed", err.Error())
		return nil
	}
	if ch.SubjectID != requestctx.SubjectID(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found", "Challenge not found")
		return nil
	}
	return ch
}

func (s *Server) handleChallengeApprove(w http.ResponseWriter, r *http.Request) {
	ch := s.resolveOwnChallenge(w, r)
	if ch == nil {
		return
	}
	if err := s.challenges.Approve(r.Context(), ch.ID, requestctx.SubjectID(r.Context())); err != nil {
		if errors.Is(err, stepup.ErrChallengeNotPending) {
			writeError(w, http.StatusConflict, "not_pending", "Challenge already resolved or expired")
			return
		}
		writeError(w, http.StatusInternalServerError, "approve_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": ch.ID, "status": string(stepup.StatusApproved)})
}

func (s *Server) handleChallengeDeny(w http.ResponseWriter, r *http.Request) {
	ch := s.resolveOwnChallenge(w, r)
	if ch == nil {
		return
	}
	if err := s.challenges.Deny(r.Context(), ch.ID, requestctx.SubjectID(r.Context())); err != nil {
		if errors.Is(err, stepup.ErrChallengeNotPending) {
			writeError(w, http.StatusConflict, "not_pending", "Challenge already resolved or expired")
			return
		}
		writeError(w, http.StatusInternalServerError, "deny_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": ch.ID, "status": string(stepup.StatusDenied)})
}

func (s *Server) handleConnectionsList(w http.ResponseWriter, r *http.Request) {
	conns, err := s.vault.Connections(r.Context(), requestctx.SubjectID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "connection_query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connections": conns,
		"count":       len(conns),
	})
}

type connectionLinkRequest struct {
	Connection   string   `json:"connection"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	Scopes       []string `json:"scopes"`
	ExpiresAt    string   `json:"expires_at"`
	// ChallengeID resolves the account-link challenge that prompted
	// this link, if any.
	ChallengeID string `json:"challenge_id"`
}

// handleConnectionLink stores the delegated credential produced by the
// external authorization flow and resolves the bound challenge.
func (s *Server) handleConnectionLink(w http.ResponseWriter, r *http.Request) {
	var req connectionLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}
	if req.Connection == "" || req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "connection and access_token are required")
		return
	}

	subjectID := requestctx.SubjectID(r.Context())
	token := &tokenvault.Token{
		SubjectID:    subjectID,
		Connection:   req.Connection,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		Scopes:       req.Scopes,
	}
	if req.ExpiresAt != "" {
		exp, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "expires_at must be RFC3339")
			return
		}
		token.ExpiresAt = exp
	}

	if err := s.vault.Put(r.Context(), token); err != nil {
		writeError(w, http.StatusInternalServerError, "link_failed", err.Error())
		return
	}

	if req.ChallengeID != "" {
		// Best-effort: the link succeeded even if the challenge was
		// already resolved by the sweeper.
		if err := s.challenges.Approve(r.Context(), req.ChallengeID, subjectID); err != nil {
			log.Warn().Err(err).Str("challenge_id", req.ChallengeID).Msg("link_challenge_resolve_failed")
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"connection": req.Connection,
		"status":     "linked",
	})
}

func (s *Server) handleConnectionUnlink(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.vault.Delete(r.Context(), requestctx.SubjectID(r.Context()), name); err != nil {
		writeError(w, http.StatusInternalServerError, "unlink_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"connection": name,
		"status":     "unlinked",
	})
}

type relationRequest struct {
	SubjectID string `json:"subject_id"`
	Relation  string `json:"relation"`
}

// canAdministerDocument reports whether the caller may change a
// document's relations: its owner always; anyone for a document with no
// relations yet (first claim).
func (s *Server) canAdministerDocument(r *http.Request, documentID string) (bool, error) {
	tuples, err := s.authzStore.ListForDocument(r.Context(), documentID)
	if err != nil {
		return false, err
	}
	if len(tuples) == 0 {
		return true, nil
	}
	return s.authzStore.Check(r.Context(), requestctx.SubjectID(r.Context()), authz.RelationOwner, documentID)
}

func (s *Server) handleRelationGrant(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "id")

	var req relationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}
	if req.SubjectID == "" || req.Relation == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "subject_id and relation are required")
		return
	}
	if req.Relation != authz.RelationOwner && req.Relation != authz.RelationViewer {
		writeError(w, http.StatusBadRequest, "bad_request", "relation must be owner or viewer")
		return
	}

	ok, err := s.canAdministerDocument(r, documentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "relation_failed", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "forbidden", "Only the document owner can grant access")
		return
	}

	tuple := authz.Tuple{Subject: req.SubjectID, Relation: req.Relation, DocumentID: documentID}
	if err := s.authzStore.Write(r.Context(), tuple); err != nil {
		writeError(w, http.StatusInternalServerError, "relation_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, tuple)
}

func (s *Server) handleRelationRevoke(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "id")

	var req relationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}
	if req.SubjectID == "" || req.Relation == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "subject_id and relation are required")
		return
	}
	if req.Relation != authz.RelationOwner && req.Relation != authz.RelationViewer {
		writeError(w, http.StatusBadRequest, "bad_request", "relation must be owner or viewer")
		return
	}

	ok, err := s.canAdministerDocument(r, documentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "relation_failed", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "forbidden", "Only the document owner can revoke access")
		return
	}

	tuple := authz.Tuple{Subject: req.SubjectID, Relation: req.Relation, DocumentID: documentID}
	if err := s.authzStore.Delete(r.Context(), tuple); err != nil {
		writeError(w, http.StatusInternalServerError, "relation_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
