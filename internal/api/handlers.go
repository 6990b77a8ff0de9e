// Package api exposes the control surface: create and end calls, inspect a
// call's timeline, and accept the carrier's media-stream socket.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	ws "nhooyr.io/websocket"

	"dajeong/bridge/internal/auth"
	"dajeong/bridge/internal/carrier"
	"dajeong/bridge/internal/config"
	"dajeong/bridge/internal/health"
	"dajeong/bridge/internal/session"
)

// SessionFactory builds the full per-call pipeline around an accepted
// stream socket. Wired up in main.
type SessionFactory func(call *session.Call, conn session.Conn) *session.Session

type Handlers struct {
	cfg     config.Config
	calls   *session.Registry
	carrier carrier.Client
	factory SessionFactory
	log     *logrus.Entry
}

func NewHandlers(cfg config.Config, calls *session.Registry, c carrier.Client,
	factory SessionFactory, log *logrus.Entry) *Handlers {
	return &Handlers{cfg: cfg, calls: calls, carrier: c, factory: factory, log: log}
}

func (h *Handlers) HandleCreateCall(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Carrier.AccountSid == "" || h.cfg.Server.PublicHost == "" {
		http.Error(w, "missing carrier configuration", http.StatusBadRequest)
		return
	}
	var req struct {
		UserID   string `json:"user_id"`
		ToNumber string `json:"to_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ToNumber == "" {
		http.Error(w, "to_number required", http.StatusBadRequest)
		return
	}

	id := uuid.New().String()
	token := auth.MintStreamToken(h.cfg.Stream.TokenSecret, id, time.Now().Add(h.cfg.Stream.TokenTTL))
	streamURL := "wss://" + h.cfg.Server.PublicHost + "/stream?call_id=" + id + "&token=" + url.QueryEscape(token)

	call := &session.Call{
		ID:        id,
		UserID:    req.UserID,
		State:     session.StateAwaitingStart,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.calls.Create(call); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	carrierSid, err := h.carrier.StartCall(r.Context(), req.ToNumber, streamURL)
	if err != nil {
		h.calls.AppendEvent(id, "dial_failed", map[string]any{"error": err.Error()})
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	h.calls.SetCarrierSid(id, carrierSid)
	h.calls.AppendEvent(id, "call_created", map[string]any{
		"carrier_sid": carrierSid, "user_id": req.UserID,
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"call_id":     id,
		"carrier_sid": carrierSid,
		"stream_url":  streamURL,
	})
}

// HandleEndCall stops the live session (if any) and completes the carrier
// call. Ending an already-ended call is a no-op.
func (h *Handlers) HandleEndCall(w http.ResponseWriter, r *http.Request, id string) {
	call := h.calls.Get(id)
	if call == nil {
		http.NotFound(w, r)
		return
	}

	active := h.calls.Active(id)
	if active != nil {
		active.Stop()
	}
	if call.CarrierSid != "" && call.State != session.StateTerminated {
		if err := h.carrier.EndCall(r.Context(), call.CarrierSid); err != nil {
			h.log.WithError(err).WithField("call_id", id).Warn("carrier end failed")
		}
	}
	h.calls.AppendEvent(id, "end_requested", map[string]any{"was_active": active != nil})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "was_active": active != nil})
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, id string) {
	if h.calls.Get(id) == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"call_id": id,
		"events":  h.calls.ListEvents(id),
	})
}

// HandleStream accepts the carrier's dial-back websocket and runs the call
// session on it until the call ends.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("call_id")
	token := q.Get("token")
	if id == "" || token == "" {
		http.Error(w, "call_id and token required", http.StatusBadRequest)
		return
	}
	call := h.calls.Get(id)
	if call == nil {
		http.NotFound(w, r)
		return
	}
	if h.cfg.Stream.TokenSecret == "" {
		http.Error(w, "stream auth not configured", http.StatusUnauthorized)
		return
	}
	if _, err := auth.ValidateStreamToken(h.cfg.Stream.TokenSecret, token, id, time.Now(), h.cfg.Stream.TokenSkewSecs); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if h.calls.Active(id) != nil {
		http.Error(w, "stream already connected", http.StatusConflict)
		return
	}

	c, err := ws.Accept(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("stream accept failed")
		return
	}
	h.calls.AppendEvent(id, "stream_connected", nil)

	sess := h.factory(call, c)
	if err := sess.Run(r.Context()); err != nil {
		h.log.WithError(err).WithField("call_id", id).Error("session failed")
	}
	h.calls.AppendEvent(id, "stream_disconnected", nil)
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	status := health.CheckAll(ctx, h.cfg)

	w.Header().Set("Content-Type", "application/json")
	if !status.OK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
