// Package locale resolves the UI language and provides the localized strings
// and number formatting used in popups, the table and the legend panel.
package locale

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// String keys.
const (
	NotAvailable = "not_available"
	TableLoading = "table_loading"
	TableFailed  = "table_failed"
	TableEmpty   = "table_empty"
	MenuHome     = "menu_home"
	MenuMaps     = "menu_maps"
	MenuBooks    = "menu_bookmarks"
	MenuHelp     = "menu_help"
)

var supported = []language.Tag{language.English, language.French}

var matcher = language.NewMatcher(supported)

var tables = map[language.Tag]map[string]string{
	language.English: {
		NotAvailable: "n/a",
		TableLoading: "Loading data…",
		TableFailed:  "Failed to load data",
		TableEmpty:   "No data",
		MenuHome:     "Home",
		MenuMaps:     "Maps",
		MenuBooks:    "Bookmarks",
		MenuHelp:     "Help",
	},
	language.French: {
		NotAvailable: "n.d.",
		TableLoading: "Chargement des données…",
		TableFailed:  "Échec du chargement des données",
		TableEmpty:   "Aucune donnée",
		MenuHome:     "Accueil",
		MenuMaps:     "Cartes",
		MenuBooks:    "Signets",
		MenuHelp:     "Aide",
	},
}

// Locale is a resolved language with its printer and string table.
type Locale struct {
	tag     language.Tag
	printer *message.Printer
	strings map[string]string
}

// New matches pref (a BCP 47 tag or Accept-Language value) against the
// supported languages, defaulting to English.
func New(pref string) *Locale {
	tags, _, err := language.ParseAcceptLanguage(pref)
	if err != nil || len(tags) == 0 {
		tags = []language.Tag{language.English}
	}
	_, i, _ := matcher.Match(tags...)
	tag := supported[i]
	return &Locale{
		tag:     tag,
		printer: message.NewPrinter(tag),
		strings: tables[tag],
	}
}

// Tag returns the resolved language.
func (l *Locale) Tag() language.Tag {
	return l.tag
}

// T returns the localized string for key, or key itself when unknown.
func (l *Locale) T(key string) string {
	if s, ok := l.strings[key]; ok {
		return s
	}
	return key
}

// Number formats v with grouping and at most digits fraction digits.
func (l *Locale) Number(v float64, digits int) string {
	if digits < 0 {
		digits = 0
	}
	return l.printer.Sprint(number.Decimal(v, number.MaxFractionDigits(digits)))
}
