package providers

import (
	"slices"
	"strings"

	"github.com/MunifTanjim/go-ptt"
)

// Language ranks for embed ordering; lower sorts first.
const (
	langEnglish = iota
	langUnknown
	langOther
)

// LanguageRank classifies an embed label: English audio first, then labels
// that name no language, then anything in another language.
func LanguageRank(label string) int {
	label = strings.TrimSpace(label)
	if label == "" {
		return langUnknown
	}

	for _, word := range strings.FieldsFunc(strings.ToLower(label), isLabelSeparator) {
		switch word {
		case "english", "eng", "en":
			return langEnglish
		}
	}

	langs := ptt.Parse(label).Languages
	if len(langs) == 0 {
		return langUnknown
	}
	if slices.ContainsFunc(langs, func(l string) bool { return strings.EqualFold(l, "en") }) {
		return langEnglish
	}
	for _, l := range langs {
		if strings.HasPrefix(strings.ToLower(l), "multi") || strings.HasPrefix(strings.ToLower(l), "dual") {
			return langUnknown
		}
	}
	return langOther
}

func isLabelSeparator(r rune) bool {
	switch r {
	case ' ', '-', '_', '.', '(', ')', '[', ']', '/', '|', ',':
		return true
	}
	return false
}
