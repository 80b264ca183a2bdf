package speech

import (
	"strings"

	"golang.org/x/text/language"
)

// SelectVoice picks a voice for tag. A voice whose locale contains the
// requested dialect wins; otherwise a voice of the same language family is
// used, preferring the device default. Locale comparison ignores case and
// treats "_" as "-".
func SelectVoice(voices []Voice, tag string) (Voice, bool) {
	want := normalizeLocale(tag)
	if want == "" {
		return Voice{}, false
	}
	for _, v := range voices {
		if strings.Contains(normalizeLocale(v.Lang), want) {
			return v, true
		}
	}

	family := LanguageFamily(tag)
	if family == "" {
		return Voice{}, false
	}
	var (
		found Voice
		ok    bool
	)
	for _, v := range voices {
		if LanguageFamily(v.Lang) != family {
			continue
		}
		if v.Default {
			return v, true
		}
		if !ok {
			found, ok = v, true
		}
	}
	return found, ok
}

// LanguageFamily returns the base language subtag of tag, e.g. "zh" for
// "zh-HK". It returns "" for tags that carry no language.
func LanguageFamily(tag string) string {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		// Devices report odd tags; fall back to the first subtag.
		return strings.ToLower(strings.SplitN(tag, "-", 2)[0])
	}
	base, conf := t.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}

func normalizeLocale(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-"))
}
