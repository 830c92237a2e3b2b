package asr

import (
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// whisperCodes are the languages Whisper can report.
var whisperCodes = []string{
	"af", "am", "ar", "as", "az", "ba", "be", "bg", "bn", "bo", "br", "bs", "ca", "cs", "cy",
	"da", "de", "el", "en", "es", "et", "eu", "fa", "fi", "fo", "fr", "gl", "gu", "ha", "haw",
	"he", "hi", "hr", "ht", "hu", "hy", "id", "is", "it", "ja", "jw", "ka", "kk", "km", "kn",
	"ko", "la", "lb", "ln", "lo", "lt", "lv", "mg", "mi", "mk", "ml", "mn", "mr", "ms", "mt",
	"my", "ne", "nl", "nn", "no", "oc", "pa", "pl", "ps", "pt", "ro", "ru", "sa", "sd", "si",
	"sk", "sl", "sn", "so", "sq", "sr", "su", "sv", "sw", "ta", "te", "tg", "th", "tk", "tl",
	"tr", "tt", "uk", "ur", "uz", "vi", "yi", "yo", "yue", "zh",
}

// Whisper names that differ from the CLDR English display names.
var nameAliases = map[string]string{
	"castilian":      "es",
	"flemish":        "nl",
	"haitian creole": "ht",
	"letzeburgesch":  "lb",
	"moldavian":      "ro",
	"moldovan":       "ro",
	"panjabi":        "pa",
	"pushto":         "ps",
	"sinhalese":      "si",
	"valencian":      "ca",
	"javanese":       "jw",
	"mandarin":       "zh",
	"burmese":        "my",
	"myanmar":        "my",
}

var (
	namesOnce sync.Once
	byName    map[string]string
)

func languageNames() map[string]string {
	namesOnce.Do(func() {
		namer := display.English.Languages()
		byName = make(map[string]string, len(whisperCodes)+len(nameAliases))
		for _, code := range whisperCodes {
			tag, err := language.Parse(code)
			if err != nil {
				continue
			}
			if name := namer.Name(tag); name != "" {
				byName[strings.ToLower(name)] = code
			}
		}
		for name, code := range nameAliases {
			byName[name] = code
		}
	})
	return byName
}

// NormalizeLanguage maps an ISO code, BCP-47 tag or English language name to
// its lowercase base code. Unknown input is returned lowercased.
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return ""
	}
	if code, ok := languageNames()[lang]; ok {
		return code
	}
	if tag, err := language.Parse(lang); err == nil {
		base, _ := tag.Base()
		return base.String()
	}
	return lang
}
