package mapping

import (
	"regexp"
	"strings"
)

// GeoLevel is the Darwin Core field a path level is assigned to.
type GeoLevel int

const (
	GeoUnclassified GeoLevel = iota
	GeoContinent
	GeoCountry
	GeoStateProvince
	GeoCounty
	GeoMunicipality
)

// geoSuffixes maps the lower-cased marker in parentheses to a level.
var geoSuffixes = map[string]GeoLevel{
	"kontinent":    GeoContinent,
	"continent":    GeoContinent,
	"land":         GeoCountry,
	"staat":        GeoCountry,
	"country":      GeoCountry,
	"kanton":       GeoStateProvince,
	"bundesland":   GeoStateProvince,
	"provinz":      GeoStateProvince,
	"region":       GeoStateProvince,
	"state":        GeoStateProvince,
	"bezirk":       GeoCounty,
	"kreis":        GeoCounty,
	"district":     GeoCounty,
	"county":       GeoCounty,
	"gemeinde":     GeoMunicipality,
	"stadt":        GeoMunicipality,
	"municipality": GeoMunicipality,
}

var suffixPattern = regexp.MustCompile(`^(.*?)\s*\(([^()]+)\)\s*$`)

// Geography is a classified place path.
type Geography struct {
	Continent     string
	Country       string
	StateProvince string
	County        string
	Municipality  string
	// Higher holds unclassified levels in path order
	Higher []string
}

// HigherGeography joins the unclassified levels with pipes.
func (g Geography) HigherGeography() string {
	return strings.Join(g.Higher, " | ")
}

// ClassifyLevel splits "Schweiz (Land)" into its name and level.
func ClassifyLevel(level string) (string, GeoLevel) {
	level = strings.TrimSpace(level)
	m := suffixPattern.FindStringSubmatch(level)
	if m == nil {
		return level, GeoUnclassified
	}
	if l, ok := geoSuffixes[strings.ToLower(strings.TrimSpace(m[2]))]; ok {
		return strings.TrimSpace(m[1]), l
	}
	return level, GeoUnclassified
}

// ClassifyPath assigns each level of a place path to a field. The first level of each kind wins.
func ClassifyPath(levels []string) Geography {
	var g Geography
	for _, level := range levels {
		name, kind := ClassifyLevel(level)
		if name == "" {
			continue
		}

		var target *string
		switch kind {
		case GeoContinent:
			target = &g.Continent
		case GeoCountry:
			target = &g.Country
		case GeoStateProvince:
			target = &g.StateProvince
		case GeoCounty:
			target = &g.County
		case GeoMunicipality:
			target = &g.Municipality
		}

		if target == nil || *target != "" {
			g.Higher = append(g.Higher, name)
			continue
		}
		*target = name
	}
	return g
}

// SplitPath splits a textual path such as "Europa (Kontinent) > Schweiz (Land)".
func SplitPath(path string) []string {
	var levels []string
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '>' || r == '|' }) {
		if part = strings.TrimSpace(part); part != "" {
			levels = append(levels, part)
		}
	}
	return levels
}
