package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/dictation/internal/extract"
	"github.com/pavelanni/dictation/internal/i18n"
	"github.com/pavelanni/dictation/internal/model"
	"github.com/pavelanni/dictation/internal/session"
	"github.com/pavelanni/dictation/internal/store"
)

const defaultMaxUpload = 10 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	extract   *extract.Service
	sessions  *session.Manager
	config    model.AppConfig
	modelName string
}

// New creates a new Handler. modelName is recorded with every saved deck.
func New(s *store.Store, ex *extract.Service, sm *session.Manager, cfg model.AppConfig, modelName string) *Handler {
	return &Handler{store: s, extract: ex, sessions: sm, config: cfg, modelName: modelName}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/extract", h.handleExtract)
		r.Get("/decks", h.handleListDecks)
		r.Get("/decks/{deckID}", h.handleGetDeck)
		r.Delete("/decks/{deckID}", h.handleDeleteDeck)
		r.Get("/decks/{deckID}/worksheet", h.handleWorksheet)
		r.Post("/decks/{deckID}/sessions", h.handleStartSession)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleSession)
			r.Delete("/", h.handleEndSession)
			r.Get("/items", h.handleItems)
			r.Post("/reveal", h.handleReveal)
			r.Post("/advance", h.handleAdvance)
			r.Post("/play", h.handlePlay)
			r.Post("/replay", h.handleReplay)
			r.Post("/listen", h.handleListen)
			r.Post("/language", h.handleLanguage)
			r.Get("/chat", h.handleHistory)
			r.Post("/chat", h.handleChat)
			r.Get("/device", h.handleDevice)
		})
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

type noticeResponse struct {
	Notice model.Notice `json:"notice"`
}

type extractResponse struct {
	Deck    model.Deck       `json:"deck"`
	Source  model.DeckSource `json:"source"`
	Message string           `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (h *Handler) maxUpload() int64 {
	if h.config.MaxAttachmentBytes > 0 {
		return h.config.MaxAttachmentBytes
	}
	return defaultMaxUpload
}

func (h *Handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload())
	if err := r.ParseMultipartForm(h.maxUpload()); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, http.StatusBadRequest, "upload too large or malformed")
		return
	}

	mode, err := model.ParseMode(r.FormValue("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := extract.Request{RawText: r.FormValue("text"), Mode: mode}
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			att, err := readAttachment(fh)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			req.Attachments = append(req.Attachments, att)
		}
	}

	items, err := h.extract.ExtractDetailed(r.Context(), req)
	if err != nil || len(items) == 0 {
		slog.Info("extraction produced no items", "mode", mode, "error", err)
		n := i18n.Notice(r.Context(), model.Notice{Kind: model.NoticeContentMissing})
		writeJSON(w, http.StatusUnprocessableEntity, noticeResponse{Notice: n})
		return
	}

	deck, err := h.store.SaveDeck(mode, items)
	if err != nil {
		slog.Error("failed to save deck", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save deck")
		return
	}
	src := model.DeckSource{
		Title:       strings.TrimSpace(r.FormValue("title")),
		Model:       h.modelName,
		TextRunes:   utf8.RuneCountInString(req.RawText),
		Attachments: len(req.Attachments),
	}
	if err := h.store.SetDeckSource(deck.ID, src); err != nil {
		slog.Error("failed to record deck source", "deck", deck.ID, "error", err)
	}

	slog.Info("extracted deck", "deck", deck.ID, "mode", mode, "items", len(deck.Items))
	writeJSON(w, http.StatusCreated, extractResponse{
		Deck:    deck,
		Source:  src,
		Message: i18n.Tp(r.Context(), "ItemsExtracted", len(deck.Items)),
	})
}

func readAttachment(fh *multipart.FileHeader) (extract.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return extract.Attachment{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return extract.Attachment{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return extract.Attachment{MIMEType: mimeType, Data: data}, nil
}

func deckID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "deckID"), 10, 64)
}

func (h *Handler) handleListDecks(w http.ResponseWriter, r *http.Request) {
	decks, err := h.store.ListDecks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, decks)
}

func (h *Handler) loadDeck(w http.ResponseWriter, r *http.Request) *model.Deck {
	id, err := deckID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deck ID")
		return nil
	}
	deck, err := h.store.GetDeck(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	if deck == nil {
		writeError(w, http.StatusNotFound, "deck not found")
		return nil
	}
	return deck
}

func (h *Handler) handleGetDeck(w http.ResponseWriter, r *http.Request) {
	if deck := h.loadDeck(w, r); deck != nil {
		writeJSON(w, http.StatusOK, deck)
	}
}

func (h *Handler) handleDeleteDeck(w http.ResponseWriter, r *http.Request) {
	id, err := deckID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deck ID")
		return
	}
	if err := h.store.DeleteDeck(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleWorksheet(w http.ResponseWriter, r *http.Request) {
	id, err := deckID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deck ID")
		return
	}
	ws, err := h.store.ExportDeck(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ws == nil {
		writeError(w, http.StatusNotFound, "deck not found")
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	deck := h.loadDeck(w, r)
	if deck == nil {
		return
	}
	sess, err := h.sessions.Create(*deck)
	if err != nil {
		slog.Error("failed to start session", "deck", deck.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSnapshot(w, r, http.StatusCreated, sess)
}
