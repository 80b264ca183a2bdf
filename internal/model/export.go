package model

import "time"

// Worksheet is the read-only JSON structure handed to print/worksheet tooling.
type Worksheet struct {
	DeckID     int64           `json:"deck_id"`
	Title      string          `json:"title"`
	Mode       Mode            `json:"mode"`
	CreatedAt  time.Time       `json:"created_at"`
	NumItems   int             `json:"num_items"`
	Paragraphs [][]int         `json:"paragraphs,omitempty"`
	Items      []DictationItem `json:"items"`
}

// DeckSummary is one row of the deck listing.
type DeckSummary struct {
	ID        int64     `json:"id"`
	Mode      Mode      `json:"mode"`
	NumItems  int       `json:"num_items"`
	First     string    `json:"first"`
	CreatedAt time.Time `json:"created_at"`
}

// DeckSource describes where a deck's items came from.
type DeckSource struct {
	Title       string `json:"title,omitempty"`
	Model       string `json:"model,omitempty"`
	TextRunes   int    `json:"text_runes"`
	Attachments int    `json:"attachments"`
}
