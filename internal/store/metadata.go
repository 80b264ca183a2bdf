package store

import (
	"database/sql"
	"strconv"

	"github.com/pavelanni/dictation/internal/model"
)

// SetDeckMetadata upserts a key-value pair for a deck.
func (s *Store) SetDeckMetadata(deckID int64, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO deck_metadata (deck_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(deck_id, key) DO UPDATE SET value = ?`,
		deckID, key, value, value,
	)
	return err
}

// GetDeckMetadata returns the value for a deck metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetDeckMetadata(deckID int64, key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM deck_metadata WHERE deck_id = ? AND key = ?`, deckID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetDeckSource stores where a deck's items came from.
func (s *Store) SetDeckSource(deckID int64, src model.DeckSource) error {
	pairs := []struct{ k, v string }{
		{"title", src.Title},
		{"model", src.Model},
		{"text_runes", strconv.Itoa(src.TextRunes)},
		{"attachments", strconv.Itoa(src.Attachments)},
	}
	for _, p := range pairs {
		if err := s.SetDeckMetadata(deckID, p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetDeckSource reads a deck's source metadata. Missing keys stay zero.
func (s *Store) GetDeckSource(deckID int64) (model.DeckSource, error) {
	var src model.DeckSource
	var err error

	if src.Title, err = s.GetDeckMetadata(deckID, "title"); err != nil {
		return src, err
	}
	if src.Model, err = s.GetDeckMetadata(deckID, "model"); err != nil {
		return src, err
	}
	n, err := s.GetDeckMetadata(deckID, "text_runes")
	if err != nil {
		return src, err
	}
	if n != "" {
		src.TextRunes, _ = strconv.Atoi(n)
	}
	n, err = s.GetDeckMetadata(deckID, "attachments")
	if err != nil {
		return src, err
	}
	if n != "" {
		src.Attachments, _ = strconv.Atoi(n)
	}
	return src, nil
}
