package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/dictation/internal/extract"
	"github.com/pavelanni/dictation/internal/i18n"
	"github.com/pavelanni/dictation/internal/llm"
	"github.com/pavelanni/dictation/internal/llm/prompts"
	"github.com/pavelanni/dictation/internal/model"
	"github.com/pavelanni/dictation/internal/practice"
	"github.com/pavelanni/dictation/internal/session"
	"github.com/pavelanni/dictation/internal/store"
)

const vocabReply = `{"items":[
	{"content": "獅子", "meaning": "lion", "example": "我看見獅子。"},
	{"content": "老虎", "meaning": "tiger", "example": "老虎在跑。"}
]}`

type fakeBackend struct {
	reply string
	last  llm.CompletionRequest
}

func (f *fakeBackend) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	f.last = req
	return f.reply, nil
}

type fakeChat struct{}

func (fakeChat) Chat(_ context.Context, _ string, _ []model.ChatMessage, message string) (string, error) {
	return "reply: " + message, nil
}

type testEnv struct {
	router  chi.Router
	store   *store.Store
	backend *fakeBackend
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if err := i18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	if err := prompts.Load(prompts.Templates); err != nil {
		t.Fatalf("prompts.Load: %v", err)
	}
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	b := &fakeBackend{reply: vocabReply}
	sm := session.NewManager(fakeChat{}, nil, session.Config{
		ReadingLang:      "zh-HK",
		RecognitionLangs: [3]string{"zh-HK", "zh-TW", "en-US"},
		Fallback:         "fallback",
		Congratulations:  "congrats",
	})
	t.Cleanup(sm.CloseAll)

	h := New(st, extract.New(b, 0), sm, model.AppConfig{MaxAttachmentBytes: 1 << 20}, "test-model")
	r := chi.NewRouter()
	r.Use(i18n.Middleware("en"))
	h.Routes(r)
	return &testEnv{router: r, store: st, backend: b}
}

func (e *testEnv) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func extractForm(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	for name, data := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// createDeck extracts a vocab deck through the API and returns its id.
func (e *testEnv) createDeck(t *testing.T) int64 {
	t.Helper()
	body, ct := extractForm(t, map[string]string{"mode": "vocab", "text": "獅子和老虎"}, nil)
	rec := e.do(t, http.MethodPost, "/api/extract", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("extract status = %d: %s", rec.Code, rec.Body.String())
	}
	return decode[extractResponse](t, rec).Deck.ID
}

func TestExtractSavesDeck(t *testing.T) {
	e := newTestEnv(t)
	png := []byte("\x89PNG\r\n\x1a\n0000")
	body, ct := extractForm(t,
		map[string]string{"mode": "vocab", "text": "獅子和老虎", "title": " 第三課 "},
		map[string][]byte{"page1.png": png},
	)

	rec := e.do(t, http.MethodPost, "/api/extract", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[extractResponse](t, rec)
	if len(got.Deck.Items) != 2 || got.Deck.Items[1].Content != "老虎" {
		t.Errorf("items = %+v", got.Deck.Items)
	}
	if got.Message != "2 items extracted." {
		t.Errorf("message = %q", got.Message)
	}
	if len(e.backend.last.Images) != 1 || e.backend.last.Images[0].MIMEType != "image/png" {
		t.Errorf("images = %+v", e.backend.last.Images)
	}

	src, err := e.store.GetDeckSource(got.Deck.ID)
	if err != nil {
		t.Fatalf("GetDeckSource: %v", err)
	}
	want := model.DeckSource{Title: "第三課", Model: "test-model", TextRunes: 5, Attachments: 1}
	if src != want {
		t.Errorf("source = %+v, want %+v", src, want)
	}
}

func TestExtractEmptyShowsNotice(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		text  string
	}{
		{"no items", `{"items":[]}`, "一些文字"},
		{"garbage", "not json", "一些文字"},
		{"no input", vocabReply, "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			e.backend.reply = tt.reply
			body, ct := extractForm(t, map[string]string{"mode": "idiom", "text": tt.text}, nil)

			rec := e.do(t, http.MethodPost, "/api/extract", body, ct)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			n := decode[noticeResponse](t, rec).Notice
			if n.Kind != model.NoticeContentMissing || !strings.Contains(n.Text, "No content") {
				t.Errorf("notice = %+v", n)
			}
			if count, _ := e.store.DeckCount(); count != 0 {
				t.Errorf("no deck should be stored, got %d", count)
			}
		})
	}
}

func TestExtractRejectsUnknownMode(t *testing.T) {
	e := newTestEnv(t)
	body, ct := extractForm(t, map[string]string{"mode": "poem", "text": "床前明月光"}, nil)
	if rec := e.do(t, http.MethodPost, "/api/extract", body, ct); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDeckRoutes(t *testing.T) {
	e := newTestEnv(t)
	id := e.createDeck(t)
	path := "/api/decks/" + strconv.FormatInt(id, 10)

	rec := e.do(t, http.MethodGet, "/api/decks", nil, "")
	if list := decode[[]model.DeckSummary](t, rec); len(list) != 1 || list[0].First != "獅子" {
		t.Errorf("list = %+v", list)
	}

	rec = e.do(t, http.MethodGet, path, nil, "")
	if deck := decode[model.Deck](t, rec); deck.ID != id || deck.Mode != model.ModeVocab {
		t.Errorf("deck = %+v", deck)
	}

	rec = e.do(t, http.MethodGet, path+"/worksheet", nil, "")
	ws := decode[model.Worksheet](t, rec)
	if ws.NumItems != 2 || ws.Paragraphs != nil {
		t.Errorf("worksheet = %+v", ws)
	}

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"missing deck", http.MethodGet, "/api/decks/999", http.StatusNotFound},
		{"missing worksheet", http.MethodGet, "/api/decks/999/worksheet", http.StatusNotFound},
		{"invalid id", http.MethodGet, "/api/decks/abc", http.StatusBadRequest},
		{"session for missing deck", http.MethodPost, "/api/decks/999/sessions", http.StatusNotFound},
		{"delete", http.MethodDelete, path, http.StatusNoContent},
		{"deleted", http.MethodGet, path, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := e.do(t, tt.method, tt.path, nil, ""); rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
			}
		})
	}
}

func TestSessionRoutes(t *testing.T) {
	e := newTestEnv(t)
	id := e.createDeck(t)

	rec := e.do(t, http.MethodPost, "/api/decks/"+strconv.FormatInt(id, 10)+"/sessions", nil, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session = %d: %s", rec.Code, rec.Body.String())
	}
	snap := decode[session.Snapshot](t, rec)
	base := "/api/sessions/" + snap.ID
	if snap.Item.Content != "獅子" || snap.State.Stage != practice.StageReading {
		t.Errorf("initial snapshot = %+v", snap)
	}

	if rec := e.do(t, http.MethodPost, base+"/replay", nil, ""); rec.Code != http.StatusConflict {
		t.Errorf("replay before reveal = %d, want 409", rec.Code)
	}

	rec = e.do(t, http.MethodPost, base+"/play", nil, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("play = %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, base+"/reveal", nil, "")
	if snap := decode[session.Snapshot](t, rec); snap.State.Stage != practice.StageRevealed {
		t.Errorf("after reveal = %+v", snap.State)
	}
	if rec := e.do(t, http.MethodPost, base+"/replay", nil, ""); rec.Code != http.StatusAccepted {
		t.Errorf("replay after reveal = %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, base+"/advance", nil, "")
	if snap := decode[session.Snapshot](t, rec); snap.State.Index != 1 || snap.Item.Content != "老虎" {
		t.Errorf("after advance = %+v", snap)
	}

	rec = e.do(t, http.MethodPost, base+"/listen", nil, "")
	snap = decode[session.Snapshot](t, rec)
	if snap.Listening {
		t.Error("listening without a device")
	}
	var kinds []model.NoticeKind
	for _, n := range snap.Notices {
		kinds = append(kinds, n.Kind)
		if n.Text == "" {
			t.Errorf("notice %q has no text", n.Kind)
		}
	}
	if !slices.Contains(kinds, model.NoticeRecognitionUnavailable) {
		t.Errorf("notices = %v", kinds)
	}

	rec = e.do(t, http.MethodPost, base+"/language", nil, "")
	if snap := decode[session.Snapshot](t, rec); snap.Language != "zh-TW" {
		t.Errorf("language = %q", snap.Language)
	}

	rec = e.do(t, http.MethodGet, base+"/items", nil, "")
	if items := decode[[]model.DictationItem](t, rec); len(items) != 2 {
		t.Errorf("items = %+v", items)
	}

	if rec := e.do(t, http.MethodDelete, base, nil, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, base, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, base+"/reveal", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("reveal after delete = %d", rec.Code)
	}
}

func TestChat(t *testing.T) {
	e := newTestEnv(t)
	id := e.createDeck(t)
	rec := e.do(t, http.MethodPost, "/api/decks/"+strconv.FormatInt(id, 10)+"/sessions", nil, "")
	base := "/api/sessions/" + decode[session.Snapshot](t, rec).ID

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty", `{"text": "  "}`, http.StatusBadRequest},
		{"invalid", `{`, http.StatusBadRequest},
		{"ok", `{"text": "獅子是什麼意思？"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, base+"/chat", bytes.NewBufferString(tt.body), "application/json")
			if rec.Code != tt.want {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}
			got := decode[chatResponse](t, rec)
			if got.Message.Role != model.RoleModel || got.Message.Text != "reply: 獅子是什麼意思？" {
				t.Errorf("message = %+v", got.Message)
			}
		})
	}

	rec = e.do(t, http.MethodGet, base+"/chat", nil, "")
	if h := decode[[]model.ChatMessage](t, rec); len(h) != 2 || h[0].Role != model.RoleUser {
		t.Errorf("history = %+v", h)
	}
}
