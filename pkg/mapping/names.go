package mapping

import (
	"strings"

	"github.com/Ramsey-B/lichen/pkg/rawrecord"
)

// DefaultLocales is the fallback chain for locale-keyed text.
var DefaultLocales = []string{"de-DE", "en-US", "fr-FR", "it-IT"}

// ScientificName is the parsed parts of a taxon name.
type ScientificName struct {
	Full                 string
	Genus                string
	SpecificEpithet      string
	InfraspecificEpithet string
}

// text reads a field that may be locale-keyed, then falls back to the flat variants.
func text(r rawrecord.Record, locales []string, field string, flatFallbacks ...string) (string, bool) {
	if s, ok := r.Localized(locales, field); ok {
		return s, true
	}
	for _, flat := range flatFallbacks {
		if s, ok := r.String(flat); ok {
			return s, true
		}
	}
	return "", false
}

// ParseScientificName fills the genus and epithets of a name. Structured values win; otherwise
// the full name is tokenized on whitespace: genus, specific epithet, then an infraspecific
// epithet after a rank marker.
func ParseScientificName(full, genus, species string) ScientificName {
	name := ScientificName{
		Full:            strings.Join(strings.Fields(full), " "),
		Genus:           strings.TrimSpace(genus),
		SpecificEpithet: strings.TrimSpace(species),
	}

	tokens := strings.Fields(name.Full)
	if name.Genus == "" && name.SpecificEpithet == "" {
		if len(tokens) > 0 {
			name.Genus = tokens[0]
		}
		if len(tokens) > 1 && isEpithet(tokens[1]) {
			name.SpecificEpithet = tokens[1]
		}
		for i := 2; i+1 < len(tokens); i++ {
			if isRankMarker(tokens[i]) && isEpithet(tokens[i+1]) {
				name.InfraspecificEpithet = tokens[i+1]
				break
			}
		}
	}

	if name.Full == "" {
		name.Full = strings.TrimSpace(name.Genus + " " + name.SpecificEpithet)
	}
	return name
}

// Rank reports the Darwin Core taxonRank implied by the parsed parts.
func (n ScientificName) Rank() string {
	switch {
	case n.InfraspecificEpithet != "":
		return "infraspecies"
	case n.SpecificEpithet != "":
		return "species"
	case n.Genus != "":
		return "genus"
	default:
		return ""
	}
}

func isEpithet(token string) bool {
	if token == "" || strings.HasPrefix(token, "(") {
		return false
	}
	return strings.ToLower(token) == token
}

func isRankMarker(token string) bool {
	switch strings.TrimSuffix(strings.ToLower(token), ".") {
	case "var", "subsp", "ssp", "f", "forma":
		return true
	}
	return false
}

// joinPipe joins non-empty values with " | ".
func joinPipe(values []string) string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, " | ")
}
