package mapping

import (
	"strings"

	"github.com/Ramsey-B/lichen/pkg/models"
)

// PrefixRule routes accession numbers starting with Prefix to an institution.
type PrefixRule struct {
	Prefix      string
	Institution models.Institution
}

// InstitutionRules classify accession numbers. Prefixes compare case-insensitively with
// whitespace runs collapsed; the first matching rule wins.
type InstitutionRules struct {
	Default models.Institution
	Rules   []PrefixRule
}

func (r InstitutionRules) Classify(accessionNumber string) models.Institution {
	normalized := normalizeAccession(accessionNumber)
	for _, rule := range r.Rules {
		prefix := normalizeAccession(rule.Prefix)
		if prefix != "" && strings.HasPrefix(normalized, prefix) {
			return rule.Institution
		}
	}
	return r.Default
}

func normalizeAccession(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
