package model

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects the extraction schema and the practice behavior of a session.
type Mode string

const (
	// ModeParagraph splits a passage into sentences with cloze variants.
	ModeParagraph Mode = "paragraph"
	// ModeVocab extracts key vocabulary with example sentences.
	ModeVocab Mode = "vocab"
	// ModeIdiom extracts fixed-length idioms with phonetic annotation.
	ModeIdiom Mode = "idiom"
)

// Modes lists every supported mode in display order.
var Modes = []Mode{ModeParagraph, ModeVocab, ModeIdiom}

// ParseMode converts user input into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeParagraph, ModeVocab, ModeIdiom:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (want paragraph, vocab or idiom)", s)
}

// DictationItem is one exercise entry. Items are ordered and never reordered
// after extraction; ID equals the item's position in its list.
type DictationItem struct {
	ID             int    `json:"id"`
	Content        string `json:"content"`
	SubContent     string `json:"subContent"`
	Meaning        string `json:"meaning"`
	Example        string `json:"example"`
	ClozeContent   string `json:"clozeContent"`
	IsNewParagraph bool   `json:"isNewParagraph"`
}

// Asset is an opaque encoded audio payload.
type Asset struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Empty reports whether the asset carries no audio.
func (a Asset) Empty() bool {
	return len(a.Data) == 0
}

// ChatRole represents a chat message role.
type ChatRole string

const (
	RoleUser  ChatRole = "user"
	RoleModel ChatRole = "model"
)

// ChatMessage is one entry of the append-only assistant chat log.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      ChatRole  `json:"role"`
	Text      string    `json:"text"`
	Audio     *Asset    `json:"audio,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NoticeKind identifies a user-visible, non-blocking notice.
type NoticeKind string

const (
	NoticeContentMissing         NoticeKind = "content_missing"
	NoticeSpeechUnavailable      NoticeKind = "speech_unavailable"
	NoticeRecognitionUnavailable NoticeKind = "recognition_unavailable"
)

// Notice is surfaced to the user instead of an error.
type Notice struct {
	Kind NoticeKind `json:"kind"`
	Text string     `json:"text,omitempty"`
}

// Deck is a finalized, non-empty item list produced by one extraction.
type Deck struct {
	ID        int64           `json:"id"`
	Mode      Mode            `json:"mode"`
	Items     []DictationItem `json:"items"`
	CreatedAt time.Time       `json:"created_at"`
}

// AppConfig holds runtime parameters set via CLI flags, env or config file.
type AppConfig struct {
	UILang             string        // UI language for notices (en, zh-Hant)
	ReadingLang        string        // preferred dictation voice tag, e.g. zh-HK
	RecognitionLangs   [3]string     // dialect, standard, additional
	ExtractTimeout     time.Duration // 0 disables the timeout
	ChatTimeout        time.Duration
	SpeechTimeout      time.Duration
	SpeakReplies       bool          // render assistant replies to audio
	IdiomPause         time.Duration // pause between the idiom cues
	MaxAttachmentBytes int64
}
