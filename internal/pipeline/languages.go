package pipeline

import "sort"

// Language is one supported language code.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var languageNames = map[string]string{
	"as":  "Assamese",
	"bn":  "Bengali",
	"brx": "Bodo",
	"doi": "Dogri",
	"en":  "English",
	"gom": "Konkani",
	"gu":  "Gujarati",
	"hi":  "Hindi",
	"kn":  "Kannada",
	"ks":  "Kashmiri",
	"mai": "Maithili",
	"ml":  "Malayalam",
	"mni": "Manipuri",
	"mr":  "Marathi",
	"ne":  "Nepali",
	"or":  "Odia",
	"pa":  "Punjabi",
	"sa":  "Sanskrit",
	"sat": "Santali",
	"sd":  "Sindhi",
	"ta":  "Tamil",
	"te":  "Telugu",
	"ur":  "Urdu",
}

// ValidLanguage reports whether code is in the supported set.
func ValidLanguage(code string) bool {
	_, ok := languageNames[code]
	return ok
}

// Languages returns the supported set sorted by code.
func Languages() []Language {
	out := make([]Language, 0, len(languageNames))
	for code, name := range languageNames {
		out = append(out, Language{Code: code, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ValidateLanguages checks a source/target pair.
func ValidateLanguages(source, target string) error {
	if !ValidLanguage(source) {
		return newError(KindInvalidLanguage, nil, "unsupported source language %q", source)
	}
	if !ValidLanguage(target) {
		return newError(KindInvalidLanguage, nil, "unsupported target language %q", target)
	}
	return nil
}
