// Package langtag canonicalises language identifiers reported by providers
// ("en", "EN-us", "english") into BCP 47 base tags.
package langtag

import (
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Common covers the languages speech providers report by English name.
var Common = []language.Tag{
	language.English, language.Indonesian, language.Malay, language.Spanish,
	language.French, language.German, language.Italian, language.Portuguese,
	language.Dutch, language.Russian, language.Ukrainian, language.Polish,
	language.Turkish, language.Arabic, language.Hindi, language.Bengali,
	language.Thai, language.Vietnamese, language.Japanese, language.Korean,
	language.Chinese, language.Swedish, language.Norwegian, language.Danish,
	language.Finnish, language.Greek, language.Czech, language.Romanian,
	language.Hungarian, language.Hebrew, language.Persian, language.Tamil,
	language.Filipino, language.Urdu,
}

var (
	byNameOnce sync.Once
	byName     map[string]language.Tag
)

func names() map[string]language.Tag {
	byNameOnce.Do(func() {
		byName = make(map[string]language.Tag, len(Common))
		namer := display.English.Languages()
		for _, tag := range Common {
			byName[strings.ToLower(namer.Name(tag))] = tag
		}
	})
	return byName
}

// Normalize returns the base language tag for raw, or "" when raw is empty
// or unrecognised.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "auto") {
		return ""
	}
	if tag, ok := names()[strings.ToLower(s)]; ok {
		return baseOf(tag)
	}
	tag, err := language.Parse(strings.ReplaceAll(s, "_", "-"))
	if err != nil {
		return ""
	}
	return baseOf(tag)
}

// DisplayName renders a tag in English for prompts, falling back to raw.
func DisplayName(raw string) string {
	s := strings.TrimSpace(raw)
	tag, ok := names()[strings.ToLower(s)]
	if !ok {
		parsed, err := language.Parse(strings.ReplaceAll(s, "_", "-"))
		if err != nil {
			return raw
		}
		tag = parsed
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return raw
}

func baseOf(tag language.Tag) string {
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}
