package store

import (
	"errors"
	"slices"
	"testing"

	"github.com/pavelanni/dictation/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveTestDeck(t *testing.T, s *Store, mode model.Mode, contents ...string) model.Deck {
	t.Helper()
	items := make([]model.DictationItem, len(contents))
	for i, c := range contents {
		items[i] = model.DictationItem{ID: 100 + i, Content: c, Meaning: "meaning of " + c}
	}
	d, err := s.SaveDeck(mode, items)
	if err != nil {
		t.Fatalf("saveTestDeck: %v", err)
	}
	return d
}

func TestDeckCRUD(t *testing.T) {
	s := newTestStore(t)

	count, err := s.DeckCount()
	if err != nil {
		t.Fatalf("DeckCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 decks, got %d", count)
	}

	d := saveTestDeck(t, s, model.ModeVocab, "獅子", "老虎", "大象")
	if d.ID == 0 {
		t.Fatal("expected a deck id")
	}
	if d.Items[0].ID != 0 || d.Items[2].ID != 2 {
		t.Errorf("saved ids = %d, %d; want ordinals", d.Items[0].ID, d.Items[2].ID)
	}

	got, err := s.GetDeck(d.ID)
	if err != nil {
		t.Fatalf("GetDeck: %v", err)
	}
	if got == nil {
		t.Fatal("expected deck, got nil")
	}
	if got.Mode != model.ModeVocab {
		t.Errorf("mode = %q", got.Mode)
	}
	var contents []string
	for _, it := range got.Items {
		contents = append(contents, it.Content)
	}
	if !slices.Equal(contents, []string{"獅子", "老虎", "大象"}) {
		t.Errorf("items out of order: %v", contents)
	}
	if got.Items[1].Meaning != "meaning of 老虎" {
		t.Errorf("meaning = %q", got.Items[1].Meaning)
	}

	// Not found.
	missing, err := s.GetDeck(9999)
	if err != nil {
		t.Fatalf("GetDeck(missing): %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing deck, got %+v", missing)
	}

	if err := s.DeleteDeck(d.ID); err != nil {
		t.Fatalf("DeleteDeck: %v", err)
	}
	if gone, _ := s.GetDeck(d.ID); gone != nil {
		t.Error("deck should be deleted")
	}
}

func TestSaveDeckRejectsEmpty(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SaveDeck(model.ModeIdiom, nil); !errors.Is(err, ErrEmptyDeck) {
		t.Errorf("SaveDeck(empty) = %v, want ErrEmptyDeck", err)
	}
	count, _ := s.DeckCount()
	if count != 0 {
		t.Errorf("expected no deck stored, got %d", count)
	}
}

func TestItemFieldsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	in := []model.DictationItem{
		{Content: "今天天氣很好。", Meaning: "The weather is nice.", ClozeContent: "今天＿＿很好。", IsNewParagraph: true},
		{Content: "我們去公園。", Meaning: "We go to the park.", ClozeContent: "我們去＿＿。"},
	}
	d, err := s.SaveDeck(model.ModeParagraph, in)
	if err != nil {
		t.Fatalf("SaveDeck: %v", err)
	}
	got, err := s.GetDeck(d.ID)
	if err != nil {
		t.Fatalf("GetDeck: %v", err)
	}
	for i := range in {
		want := in[i]
		want.ID = i
		if got.Items[i] != want {
			t.Errorf("item %d = %+v, want %+v", i, got.Items[i], want)
		}
	}
}

func TestListDecks(t *testing.T) {
	s := newTestStore(t)
	first := saveTestDeck(t, s, model.ModeIdiom, "守株待兔")
	second := saveTestDeck(t, s, model.ModeVocab, "獅子", "老虎")

	list, err := s.ListDecks()
	if err != nil {
		t.Fatalf("ListDecks: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 decks, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("expected newest first, got %d, %d", list[0].ID, list[1].ID)
	}
	if list[0].NumItems != 2 || list[0].First != "獅子" || list[0].Mode != model.ModeVocab {
		t.Errorf("summary = %+v", list[0])
	}
}

func TestDeckMetadata(t *testing.T) {
	s := newTestStore(t)
	d := saveTestDeck(t, s, model.ModeIdiom, "一石二鳥")

	v, err := s.GetDeckMetadata(d.ID, "title")
	if err != nil {
		t.Fatalf("GetDeckMetadata: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty value, got %q", v)
	}

	src := model.DeckSource{Title: "第三課", Model: "llama3.2-vision", TextRunes: 120, Attachments: 2}
	if err := s.SetDeckSource(d.ID, src); err != nil {
		t.Fatalf("SetDeckSource: %v", err)
	}
	if err := s.SetDeckMetadata(d.ID, "title", "第四課"); err != nil {
		t.Fatalf("SetDeckMetadata: %v", err)
	}
	got, err := s.GetDeckSource(d.ID)
	if err != nil {
		t.Fatalf("GetDeckSource: %v", err)
	}
	src.Title = "第四課"
	if got != src {
		t.Errorf("source = %+v, want %+v", got, src)
	}
}

func TestExportDeck(t *testing.T) {
	s := newTestStore(t)
	d, err := s.SaveDeck(model.ModeParagraph, []model.DictationItem{
		{Content: "a", Meaning: "a", IsNewParagraph: true},
		{Content: "b", Meaning: "b"},
		{Content: "c", Meaning: "c", IsNewParagraph: true},
	})
	if err != nil {
		t.Fatalf("SaveDeck: %v", err)
	}

	ws, err := s.ExportDeck(d.ID)
	if err != nil {
		t.Fatalf("ExportDeck: %v", err)
	}
	if ws.Title != "a" || ws.NumItems != 3 || ws.Mode != model.ModeParagraph {
		t.Errorf("worksheet = %+v", ws)
	}
	if len(ws.Paragraphs) != 2 || !slices.Equal(ws.Paragraphs[0], []int{0, 1}) || !slices.Equal(ws.Paragraphs[1], []int{2}) {
		t.Errorf("paragraphs = %v", ws.Paragraphs)
	}

	if err := s.SetDeckMetadata(d.ID, "title", "春天"); err != nil {
		t.Fatalf("SetDeckMetadata: %v", err)
	}
	ws, _ = s.ExportDeck(d.ID)
	if ws.Title != "春天" {
		t.Errorf("title = %q", ws.Title)
	}

	missing, err := s.ExportDeck(42)
	if err != nil || missing != nil {
		t.Errorf("ExportDeck(missing) = %+v, %v", missing, err)
	}

	vocab := saveTestDeck(t, s, model.ModeVocab, "獅子")
	all, err := s.ExportAllDecks()
	if err != nil {
		t.Fatalf("ExportAllDecks: %v", err)
	}
	if len(all) != 2 || all[0].DeckID != vocab.ID || all[0].Paragraphs != nil {
		t.Errorf("all = %+v", all)
	}
}

func TestParagraphs(t *testing.T) {
	tests := []struct {
		name  string
		flags []bool
		want  [][]int
	}{
		{"empty", nil, nil},
		{"first unmarked", []bool{false, false, true}, [][]int{{0, 1}, {2}}},
		{"every item", []bool{true, true}, [][]int{{0}, {1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]model.DictationItem, len(tt.flags))
			for i, f := range tt.flags {
				items[i] = model.DictationItem{ID: i, IsNewParagraph: f}
			}
			got := Paragraphs(items)
			if len(got) != len(tt.want) {
				t.Fatalf("Paragraphs = %v, want %v", got, tt.want)
			}
			for i := range got {
				if !slices.Equal(got[i], tt.want[i]) {
					t.Errorf("paragraph %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
