package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/dictation/internal/i18n"
	"github.com/pavelanni/dictation/internal/model"
	"github.com/pavelanni/dictation/internal/practice"
	"github.com/pavelanni/dictation/internal/session"
	"github.com/pavelanni/dictation/internal/speech"
)

type chatRequest struct {
	Text string `json:"text"`
}

type chatResponse struct {
	Message model.ChatMessage `json:"message"`
	Session session.Snapshot  `json:"session"`
}

// lookup resolves the session in the URL, writing a 404 when it is gone.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) *session.Session {
	sess, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return nil
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	return sess
}

// writeSnapshot responds with the session view and any pending notices in
// the request's language.
func writeSnapshot(w http.ResponseWriter, r *http.Request, status int, sess *session.Session) {
	snap := sess.Snapshot(true)
	if len(snap.Notices) > 0 {
		snap.Notices = i18n.Notices(r.Context(), snap.Notices)
	}
	writeJSON(w, status, snap)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if sess := h.lookup(w, r); sess != nil {
		writeSnapshot(w, r, http.StatusOK, sess)
	}
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleItems(w http.ResponseWriter, r *http.Request) {
	if sess := h.lookup(w, r); sess != nil {
		writeJSON(w, http.StatusOK, sess.Items())
	}
}

func (h *Handler) handleReveal(w http.ResponseWriter, r *http.Request) {
	if sess := h.lookup(w, r); sess != nil {
		sess.Reveal()
		writeSnapshot(w, r, http.StatusOK, sess)
	}
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	if sess := h.lookup(w, r); sess != nil {
		sess.Advance()
		writeSnapshot(w, r, http.StatusOK, sess)
	}
}

// Playback runs in the background; the response only acknowledges it.
func (h *Handler) handlePlay(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}
	sess.Play()
	writeSnapshot(w, r, http.StatusAccepted, sess)
}

func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}
	if _, err := sess.Replay(); err != nil {
		if errors.Is(err, practice.ErrNotRevealed) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSnapshot(w, r, http.StatusAccepted, sess)
}

func (h *Handler) handleListen(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}
	// An unavailable recognizer is reported as a notice.
	if _, err := sess.ToggleListening(); err != nil && !errors.Is(err, speech.ErrUnavailable) {
		slog.Warn("toggle listening", "session", sess.ID, "error", err)
	}
	writeSnapshot(w, r, http.StatusOK, sess)
}

func (h *Handler) handleLanguage(w http.ResponseWriter, r *http.Request) {
	if sess := h.lookup(w, r); sess != nil {
		sess.RotateLanguage()
		writeSnapshot(w, r, http.StatusOK, sess)
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if sess := h.lookup(w, r); sess != nil {
		writeJSON(w, http.StatusOK, sess.History())
	}
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "message is empty")
		return
	}
	msg := sess.Chat(r.Context(), text)
	snap := sess.Snapshot(true)
	snap.Notices = i18n.Notices(r.Context(), snap.Notices)
	writeJSON(w, http.StatusOK, chatResponse{Message: msg, Session: snap})
}

func (h *Handler) handleDevice(w http.ResponseWriter, r *http.Request) {
	if sess := h.lookup(w, r); sess != nil {
		sess.Device().ServeHTTP(w, r)
	}
}
