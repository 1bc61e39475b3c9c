// Package api provides HTTP handlers for BotLoom endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BotLoom/BotLoom/internal/engine"
	"github.com/BotLoom/BotLoom/internal/models"
)

// turnHandler executes one conversational turn (GET with query parameters or
// POST with a JSON body; both carry the same four logical fields).
func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.turnHandler: processing turn request", "method", r.Method, "path", r.URL.Path)

	var req models.TurnRequest
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req = models.TurnRequest{
			ContactKey: q.Get("phone"),
			Text:       q.Get("message"),
			SenderID:   q.Get("sender"),
			FlowID:     q.Get("bot"),
		}
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("Server.turnHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.turnHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	account, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	req.AccountID = account.ID

	result, err := s.engine.HandleTurn(r.Context(), req)
	if err != nil {
		s.writeTurnError(w, err)
		return
	}

	slog.Info("Server.turnHandler: turn completed", "contact", req.ContactKey, "messages", len(result.Messages), "pending", result.PendingInputKind)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// authenticate resolves the request credential (Authorization bearer token or
// token query parameter) to an account. It writes the error response itself.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*models.Account, bool) {
	var token string
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	} else {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		slog.Warn("Server.authenticate: missing credential", "path", r.URL.Path)
		writeJSONResponse(w, http.StatusUnauthorized, models.Error(models.ErrEmptyCredential.Error()))
		return nil, false
	}
	account, err := s.st.AccountByToken(r.Context(), token)
	if errors.Is(err, models.ErrUnknownAccount) {
		slog.Warn("Server.authenticate: unknown credential", "path", r.URL.Path)
		writeJSONResponse(w, http.StatusUnauthorized, models.Error(err.Error()))
		return nil, false
	}
	if err != nil {
		slog.Error("Server.authenticate: account lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to resolve account"))
		return nil, false
	}
	return account, true
}

// writeTurnError maps engine errors to the HTTP error surface. Configuration
// errors are a structured per-turn failure; input-shape errors are client
// errors; everything else is internal.
func (s *Server) writeTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrEmptyContactKey), errors.Is(err, models.ErrInboundTooLong):
		slog.Warn("Server.turnHandler: invalid request", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	case errors.Is(err, engine.ErrFlowConfig),
		errors.Is(err, models.ErrNoEntryNode),
		errors.Is(err, models.ErrNoFlowForAccount):
		slog.Warn("Server.turnHandler: flow configuration error", "error", err)
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.Error(err.Error()))
	default:
		slog.Error("Server.turnHandler: turn failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process turn"))
	}
}

// twilioInboundHandler accepts Twilio's form-encoded inbound message webhook
// and feeds it into the Twilio channel adapter for turn handling.
func (s *Server) twilioInboundHandler(w http.ResponseWriter, r *http.Request) {
	slog.Info("Twilio webhook received")
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.twilio == nil {
		slog.Warn("Server.twilioInboundHandler: Twilio adapter not configured")
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("Twilio channel not configured"))
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from", from)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	s.twilio.EmitInbound(models.InboundMessage{
		From: from,
		Body: body,
		Time: time.Now().Unix(),
	})

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
