package store

import (
	"fmt"

	"github.com/pavelanni/dictation/internal/model"
)

// ExportDeck builds the worksheet structure for a deck. Returns nil and nil
// error if the deck does not exist.
func (s *Store) ExportDeck(id int64) (*model.Worksheet, error) {
	deck, err := s.GetDeck(id)
	if err != nil {
		return nil, fmt.Errorf("get deck %d: %w", id, err)
	}
	if deck == nil {
		return nil, nil
	}
	src, err := s.GetDeckSource(id)
	if err != nil {
		return nil, fmt.Errorf("get deck source %d: %w", id, err)
	}

	title := src.Title
	if title == "" && len(deck.Items) > 0 {
		title = deck.Items[0].Content
	}

	ws := &model.Worksheet{
		DeckID:    deck.ID,
		Title:     title,
		Mode:      deck.Mode,
		CreatedAt: deck.CreatedAt,
		NumItems:  len(deck.Items),
		Items:     deck.Items,
	}
	if deck.Mode == model.ModeParagraph {
		ws.Paragraphs = Paragraphs(deck.Items)
	}
	return ws, nil
}

// ExportAllDecks builds worksheets for every stored deck, newest first.
func (s *Store) ExportAllDecks() ([]model.Worksheet, error) {
	decks, err := s.ListDecks()
	if err != nil {
		return nil, fmt.Errorf("list decks: %w", err)
	}
	var out []model.Worksheet
	for _, d := range decks {
		ws, err := s.ExportDeck(d.ID)
		if err != nil {
			return nil, err
		}
		if ws != nil {
			out = append(out, *ws)
		}
	}
	return out, nil
}

// Paragraphs groups item ids into paragraphs. A new paragraph starts at every
// item marked isNewParagraph; the first item always opens one.
func Paragraphs(items []model.DictationItem) [][]int {
	var out [][]int
	for i, it := range items {
		if i == 0 || it.IsNewParagraph {
			out = append(out, nil)
		}
		out[len(out)-1] = append(out[len(out)-1], it.ID)
	}
	return out
}
