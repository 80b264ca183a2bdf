package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/dictation/internal/model"

	_ "modernc.org/sqlite"
)

// ErrEmptyDeck is returned when saving a deck without items.
var ErrEmptyDeck = errors.New("deck has no items")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty in-memory database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mode TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deck_items (
		deck_id INTEGER NOT NULL,
		ordinal INTEGER NOT NULL,
		content TEXT NOT NULL,
		sub_content TEXT NOT NULL DEFAULT '',
		meaning TEXT NOT NULL,
		example TEXT NOT NULL DEFAULT '',
		cloze_content TEXT NOT NULL DEFAULT '',
		is_new_paragraph INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (deck_id, ordinal),
		FOREIGN KEY (deck_id) REFERENCES decks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS deck_metadata (
		deck_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (deck_id, key),
		FOREIGN KEY (deck_id) REFERENCES decks(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveDeck stores a finalized item list. Items keep their order; ordinals are
// the item ids.
func (s *Store) SaveDeck(mode model.Mode, items []model.DictationItem) (model.Deck, error) {
	if len(items) == 0 {
		return model.Deck{}, ErrEmptyDeck
	}
	tx, err := s.db.Begin()
	if err != nil {
		return model.Deck{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.Exec(`INSERT INTO decks (mode, created_at) VALUES (?, ?)`, mode, now)
	if err != nil {
		return model.Deck{}, err
	}
	deckID, err := res.LastInsertId()
	if err != nil {
		return model.Deck{}, err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO deck_items (deck_id, ordinal, content, sub_content, meaning, example, cloze_content, is_new_paragraph)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return model.Deck{}, err
	}
	defer stmt.Close()

	saved := make([]model.DictationItem, len(items))
	for i, it := range items {
		it.ID = i
		if _, err := stmt.Exec(deckID, i, it.Content, it.SubContent, it.Meaning, it.Example, it.ClozeContent, it.IsNewParagraph); err != nil {
			return model.Deck{}, fmt.Errorf("insert item %d: %w", i, err)
		}
		saved[i] = it
	}
	if err := tx.Commit(); err != nil {
		return model.Deck{}, err
	}
	return model.Deck{ID: deckID, Mode: mode, Items: saved, CreatedAt: now}, nil
}

// GetDeck returns a deck with its items. Returns nil and nil error if the
// deck does not exist.
func (s *Store) GetDeck(id int64) (*model.Deck, error) {
	var d model.Deck
	err := s.db.QueryRow(`SELECT id, mode, created_at FROM decks WHERE id = ?`, id).Scan(&d.ID, &d.Mode, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	items, err := s.getItems(id)
	if err != nil {
		return nil, err
	}
	d.Items = items
	return &d, nil
}

func (s *Store) getItems(deckID int64) ([]model.DictationItem, error) {
	rows, err := s.db.Query(
		`SELECT ordinal, content, sub_content, meaning, example, cloze_content, is_new_paragraph
		 FROM deck_items WHERE deck_id = ? ORDER BY ordinal`, deckID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.DictationItem
	for rows.Next() {
		var it model.DictationItem
		if err := rows.Scan(&it.ID, &it.Content, &it.SubContent, &it.Meaning, &it.Example, &it.ClozeContent, &it.IsNewParagraph); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListDecks returns all decks, newest first.
func (s *Store) ListDecks() ([]model.DeckSummary, error) {
	rows, err := s.db.Query(
		`SELECT d.id, d.mode, d.created_at, COUNT(i.ordinal),
		        COALESCE((SELECT content FROM deck_items WHERE deck_id = d.id AND ordinal = 0), '')
		 FROM decks d LEFT JOIN deck_items i ON i.deck_id = d.id
		 GROUP BY d.id ORDER BY d.id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var decks []model.DeckSummary
	for rows.Next() {
		var d model.DeckSummary
		if err := rows.Scan(&d.ID, &d.Mode, &d.CreatedAt, &d.NumItems, &d.First); err != nil {
			return nil, err
		}
		decks = append(decks, d)
	}
	return decks, rows.Err()
}

// DeleteDeck removes a deck with its items and metadata.
func (s *Store) DeleteDeck(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, q := range []string{
		`DELETE FROM deck_metadata WHERE deck_id = ?`,
		`DELETE FROM deck_items WHERE deck_id = ?`,
		`DELETE FROM decks WHERE id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeckCount returns the number of stored decks.
func (s *Store) DeckCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM decks`).Scan(&count)
	return count, err
}
