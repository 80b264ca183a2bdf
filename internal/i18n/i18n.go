package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/pavelanni/dictation/internal/model"
)

var jsonUnmarshal = json.Unmarshal

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

var bundle *i18n.Bundle

// Init loads the translation bundle for the given language tag.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	bundle = i18n.NewBundle(canonicalLocale(tag))
	bundle.RegisterUnmarshalFunc("json", jsonUnmarshal)

	// Load all locale files from embedded FS.
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		bundle.MustParseMessageFileBytes(data, e.Name())
		slog.Info("loaded locale file", "file", e.Name())
	}

	return nil
}

// NewLocalizer creates a localizer for the given languages in preference
// order. Entries may be Accept-Language header values.
func NewLocalizer(langs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(bundle, localeTags(langs)...)
}

// localeTags expands langs into single tags, folding every Traditional
// Chinese variant (zh-HK, zh-MO, zh-TW, zh-Hant-*) onto the zh-Hant locale.
func localeTags(langs []string) []string {
	var out []string
	for _, l := range langs {
		tags, _, err := language.ParseAcceptLanguage(l)
		if err != nil {
			continue
		}
		for _, t := range tags {
			out = append(out, canonicalLocale(t).String())
		}
	}
	return out
}

func canonicalLocale(t language.Tag) language.Tag {
	base, _ := t.Base()
	script, _ := t.Script()
	if base.String() == "zh" && script.String() == "Hant" {
		return language.MustParse("zh-Hant")
	}
	return t
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

// localizerFromCtx retrieves the localizer from context.
func localizerFromCtx(ctx context.Context) *i18n.Localizer {
	if loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer); ok {
		return loc
	}
	// Fallback: return English localizer.
	return i18n.NewLocalizer(bundle, "en")
}

// T translates a message by ID.
func T(ctx context.Context, msgID string) string {
	loc := localizerFromCtx(ctx)
	s, err := loc.Localize(&i18n.LocalizeConfig{MessageID: msgID})
	if err != nil {
		slog.Warn("missing translation", "id", msgID, "error", err)
		return msgID
	}
	return s
}

// Td translates a message by ID with template data.
func Td(ctx context.Context, msgID string, data map[string]any) string {
	loc := localizerFromCtx(ctx)
	s, err := loc.Localize(&i18n.LocalizeConfig{
		MessageID:    msgID,
		TemplateData: data,
	})
	if err != nil {
		slog.Warn("missing translation", "id", msgID, "error", err)
		return msgID
	}
	return s
}

// Tp translates a pluralized message by ID.
func Tp(ctx context.Context, msgID string, count int) string {
	loc := localizerFromCtx(ctx)
	s, err := loc.Localize(&i18n.LocalizeConfig{
		MessageID:    msgID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
	if err != nil {
		slog.Warn("missing translation", "id", msgID, "error", err)
		return msgID
	}
	return s
}

// noticeMessages maps notice kinds to message IDs.
var noticeMessages = map[model.NoticeKind]string{
	model.NoticeContentMissing:         "NoticeContentMissing",
	model.NoticeSpeechUnavailable:      "NoticeSpeechUnavailable",
	model.NoticeRecognitionUnavailable: "NoticeRecognitionUnavailable",
}

// Notice fills in the localized text of n.
func Notice(ctx context.Context, n model.Notice) model.Notice {
	id, ok := noticeMessages[n.Kind]
	if !ok {
		return n
	}
	n.Text = T(ctx, id)
	return n
}

// Notices localizes every notice in ns.
func Notices(ctx context.Context, ns []model.Notice) []model.Notice {
	out := make([]model.Notice, len(ns))
	for i, n := range ns {
		out[i] = Notice(ctx, n)
	}
	return out
}

// ModeName returns the localized display name of a mode.
func ModeName(ctx context.Context, m model.Mode) string {
	switch m {
	case model.ModeParagraph:
		return T(ctx, "ModeParagraph")
	case model.ModeVocab:
		return T(ctx, "ModeVocab")
	case model.ModeIdiom:
		return T(ctx, "ModeIdiom")
	}
	return string(m)
}
