// Package schema holds the per-mode field contract and generation policy.
//
// Each mode is a distinct variant selected once with For and threaded through
// extraction and practice unchanged.
package schema

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/pavelanni/dictation/internal/model"
)

// Field names as they appear on the wire.
const (
	FieldContent        = "content"
	FieldSubContent     = "subContent"
	FieldMeaning        = "meaning"
	FieldExample        = "example"
	FieldClozeContent   = "clozeContent"
	FieldIsNewParagraph = "isNewParagraph"
)

// Playback rates relative to the voice's default.
const (
	NormalRate  = 1.0
	ReducedRate = 0.8
)

// IdiomMeaningPrefix is spoken before an idiom's meaning.
const IdiomMeaningPrefix = "意思是："

// Field describes one property of the mode's item object.
type Field struct {
	Name        string
	Type        jsonschema.DataType
	Description string
}

// RawItem is one undecoded item as returned by the extraction backend.
type RawItem map[string]any

// Cue is one planned utterance of the play action.
type Cue struct {
	Text string
	Rate float64
}

// Schema is the contract of one mode.
type Schema interface {
	Mode() model.Mode
	Fields() []Field
	Required() []string
	// JSONSchema describes the response object {"items": [...]}.
	JSONSchema() jsonschema.Definition
	// Normalize repairs one raw item. It reports false when the item has no
	// usable content and must be dropped.
	Normalize(raw RawItem) (model.DictationItem, bool)
	// Cues returns the utterances of the play action in speaking order.
	Cues(item model.DictationItem) []Cue
}

// For returns the schema of mode m.
func For(m model.Mode) (Schema, error) {
	switch m {
	case model.ModeParagraph:
		return Paragraph{}, nil
	case model.ModeVocab:
		return Vocab{}, nil
	case model.ModeIdiom:
		return Idiom{}, nil
	}
	return nil, fmt.Errorf("no schema for mode %q", m)
}

// MustFor is like For but panics on an unknown mode.
func MustFor(m model.Mode) Schema {
	s, err := For(m)
	if err != nil {
		panic(err)
	}
	return s
}

// Paragraph splits a passage into sentences with a cloze variant each.
type Paragraph struct{}

func (Paragraph) Mode() model.Mode { return model.ModeParagraph }

func (Paragraph) Fields() []Field {
	return []Field{
		{FieldContent, jsonschema.String, "one full sentence, verbatim, in source order"},
		{FieldMeaning, jsonschema.String, "a short explanation of the sentence"},
		{FieldClozeContent, jsonschema.String, "the sentence with 60-70% of its semantic content replaced by " + BlankMarker},
		{FieldIsNewParagraph, jsonschema.Boolean, "true when the sentence starts a new paragraph"},
	}
}

func (p Paragraph) Required() []string { return names(p.Fields()) }

func (p Paragraph) JSONSchema() jsonschema.Definition { return responseSchema(p.Fields(), p.Required()) }

func (Paragraph) Normalize(raw RawItem) (model.DictationItem, bool) {
	item, ok := base(raw)
	if !ok {
		return item, false
	}
	item.ClozeContent = NormalizeBlanks(item.ClozeContent)
	item.IsNewParagraph = boolField(raw, FieldIsNewParagraph)
	item.Example = ""
	if item.ClozeContent != "" {
		if r := BlankRatio(item.Content, item.ClozeContent); r < MinBlankRatio || r > MaxBlankRatio {
			slog.Warn("paragraph cloze outside target blank ratio",
				"content", item.Content, "cloze", item.ClozeContent, "ratio", r)
		}
	}
	return item, true
}

func (Paragraph) Cues(item model.DictationItem) []Cue {
	return []Cue{{Text: item.Content, Rate: ReducedRate}}
}

// Vocab extracts key words, each with one example sentence.
type Vocab struct{}

func (Vocab) Mode() model.Mode { return model.ModeVocab }

func (Vocab) Fields() []Field {
	return []Field{
		{FieldContent, jsonschema.String, "the vocabulary word"},
		{FieldSubContent, jsonschema.String, "phonetic annotation of the word"},
		{FieldMeaning, jsonschema.String, "the meaning of the word"},
		{FieldExample, jsonschema.String, "one full sentence containing the word"},
		{FieldClozeContent, jsonschema.String, "the example sentence with exactly the word replaced by " + BlankMarker},
	}
}

func (v Vocab) Required() []string {
	return []string{FieldContent, FieldMeaning, FieldExample, FieldClozeContent}
}

func (v Vocab) JSONSchema() jsonschema.Definition { return responseSchema(v.Fields(), v.Required()) }

func (Vocab) Normalize(raw RawItem) (model.DictationItem, bool) {
	item, ok := base(raw)
	if !ok {
		return item, false
	}
	if cloze, ok := BlankFirst(item.Example, item.Content); ok {
		item.ClozeContent = cloze
	} else {
		item.ClozeContent = NormalizeBlanks(item.ClozeContent)
	}
	item.IsNewParagraph = false
	return item, true
}

func (Vocab) Cues(item model.DictationItem) []Cue {
	return []Cue{{Text: item.Content, Rate: NormalRate}}
}

// Idiom extracts fixed-length idioms.
type Idiom struct{}

func (Idiom) Mode() model.Mode { return model.ModeIdiom }

func (Idiom) Fields() []Field {
	return []Field{
		{FieldContent, jsonschema.String, "the idiom, exactly as written"},
		{FieldSubContent, jsonschema.String, "phonetic annotation of the idiom"},
		{FieldMeaning, jsonschema.String, "an explanation of the idiom"},
	}
}

func (i Idiom) Required() []string { return names(i.Fields()) }

func (i Idiom) JSONSchema() jsonschema.Definition { return responseSchema(i.Fields(), i.Required()) }

func (Idiom) Normalize(raw RawItem) (model.DictationItem, bool) {
	item, ok := base(raw)
	if !ok {
		return item, false
	}
	item.Example = ""
	item.ClozeContent = ""
	item.IsNewParagraph = false
	return item, true
}

// Cues speaks the idiom, then its meaning. The second cue must only start
// after the first has finished.
func (Idiom) Cues(item model.DictationItem) []Cue {
	return []Cue{
		{Text: item.Content, Rate: NormalRate},
		{Text: IdiomMeaningPrefix + item.Meaning, Rate: NormalRate},
	}
}

// base decodes the shared fields. Content is required; meaning falls back to
// content so it is never empty.
func base(raw RawItem) (model.DictationItem, bool) {
	item := model.DictationItem{
		Content:      stringField(raw, FieldContent),
		SubContent:   stringField(raw, FieldSubContent),
		Meaning:      stringField(raw, FieldMeaning),
		Example:      stringField(raw, FieldExample),
		ClozeContent: stringField(raw, FieldClozeContent),
	}
	if item.Content == "" {
		return item, false
	}
	if item.Meaning == "" {
		item.Meaning = item.Content
	}
	return item, true
}

func stringField(raw RawItem, key string) string {
	switch v := raw[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

func boolField(raw RawItem, key string) bool {
	switch v := raw[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	case float64:
		return v != 0
	}
	return false
}

func names(fields []Field) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.Name)
	}
	return out
}

func responseSchema(fields []Field, required []string) jsonschema.Definition {
	props := make(map[string]jsonschema.Definition, len(fields))
	for _, f := range fields {
		props[f.Name] = jsonschema.Definition{Type: f.Type, Description: f.Description}
	}
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"items": {
				Type: jsonschema.Array,
				Items: &jsonschema.Definition{
					Type:                 jsonschema.Object,
					Properties:           props,
					Required:             required,
					AdditionalProperties: false,
				},
			},
		},
		Required:             []string{"items"},
		AdditionalProperties: false,
	}
}
