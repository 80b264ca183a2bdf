package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/dictation/internal/model"
	"github.com/pavelanni/dictation/internal/schema"
)

// MaxSourceRunes caps the raw text placed into an extraction prompt.
const MaxSourceRunes = 20000

//go:embed templates/*.txt
var Templates embed.FS

var (
	sourceMaterialRegex     = regexp.MustCompile(`(?i)</?\s*source-material\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

var (
	loadOnce         sync.Once
	loadErr          error
	extractTemplates map[model.Mode]*template.Template
	chatTemplate     *template.Template
)

// ExtractData holds template data for extraction prompts.
type ExtractData struct {
	Fields         []schema.Field
	Marker         string
	Source         string
	HasAttachments bool
}

// ChatData holds template data for the assistant system prompt.
type ChatData struct {
	Context string
}

// Load parses the prompt templates from fsys. It uses sync.Once to ensure
// templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		extractTemplates = make(map[model.Mode]*template.Template)

		for _, m := range model.Modes {
			name := "templates/extract_" + string(m) + ".txt"
			tmpl, err := parseFile(fsys, name)
			if err != nil {
				loadErr = err
				return
			}
			extractTemplates[m] = tmpl
		}

		chatTemplate, loadErr = parseFile(fsys, "templates/chat.txt")
	})
	return loadErr
}

func parseFile(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.New("failed to read prompt file " + name + ": " + err.Error())
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, errors.New("failed to parse prompt template " + name + ": " + err.Error())
	}
	return tmpl, nil
}

// BuildExtractPrompt builds the extraction prompt for s's mode.
func BuildExtractPrompt(s schema.Schema, source string, hasAttachments bool) (string, error) {
	if extractTemplates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := extractTemplates[s.Mode()]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("no prompt for mode: " + string(s.Mode()))
	}

	data := ExtractData{
		Fields:         s.Fields(),
		Marker:         schema.BlankMarker,
		Source:         SanitizeSource(source),
		HasAttachments: hasAttachments,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildChatPrompt builds the assistant system prompt around the session context.
func BuildChatPrompt(sessionContext string) (string, error) {
	if chatTemplate == nil {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("templates not initialized: call Load first")
	}
	var buf bytes.Buffer
	if err := chatTemplate.Execute(&buf, ChatData{Context: sessionContext}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeSource strips delimiter tags a source could use to escape its block
// and truncates overly long input.
func SanitizeSource(source string) string {
	source = sourceMaterialRegex.ReplaceAllString(source, "")
	source = systemInstructionsRegex.ReplaceAllString(source, "")
	source = strings.TrimSpace(source)

	if utf8.RuneCountInString(source) > MaxSourceRunes {
		runes := []rune(source)
		source = string(runes[:MaxSourceRunes])
	}
	return source
}
