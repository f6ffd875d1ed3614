package extract

import (
	"regexp"
	"sort"
	"strings"
)

// Gazetteer is the fixed list of known venues recognized by substring match.
var Gazetteer = []string{
	"Domaine Carneros",
	"Castello di Amorosa",
	"Robert Mondavi Winery",
	"Beringer Vineyards",
	"V. Sattui Winery",
	"Sterling Vineyards",
	"Inglenook",
	"Stag's Leap Wine Cellars",
	"Silver Oak",
	"Opus One",
	"Chateau Montelena",
	"Gundlach Bundschu",
	"Buena Vista Winery",
	"Francis Ford Coppola Winery",
	"Jordan Winery",
	"Ferrari-Carano",
	"Schramsberg",
	"Frog's Leap",
	"Oxbow Public Market",
	"Sonoma Plaza",
	"Ferry Building",
	"Fisherman's Wharf",
	"Golden Gate Bridge",
	"Muir Woods",
}

// stopRE matches itinerary lines such as "Stop 2: Hidden Valley Cellars".
var stopRE = regexp.MustCompile(`(?im)\bstop\s*#?\s*\d+\s*[:\-.)]\s*([^\n,;]+)`)

type venueHit struct {
	pos  int
	name string
}

// ExtractVenues returns the recognized stops in order of first appearance,
// de-duplicated case-insensitively. Gazetteer names are returned in their
// canonical spelling; unlisted "stop N:" names as written.
func ExtractVenues(text string) []string {
	lower := strings.ToLower(text)

	var hits []venueHit
	for _, venue := range Gazetteer {
		if i := strings.Index(lower, strings.ToLower(venue)); i >= 0 {
			hits = append(hits, venueHit{pos: i, name: venue})
		}
	}
	for _, loc := range stopRE.FindAllStringSubmatchIndex(text, -1) {
		name := normalizeWhitespace(text[loc[2]:loc[3]])
		if name == "" {
			continue
		}
		if canonical, ok := gazetteerName(name); ok {
			name = canonical
		}
		hits = append(hits, venueHit{pos: loc[2], name: name})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	seen := make(map[string]bool, len(hits))
	var venues []string
	for _, h := range hits {
		key := strings.ToLower(h.name)
		if seen[key] {
			continue
		}
		seen[key] = true
		venues = append(venues, h.name)
	}
	return venues
}

// gazetteerName maps a free-text stop name onto a known venue it contains.
func gazetteerName(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, venue := range Gazetteer {
		if strings.Contains(lower, strings.ToLower(venue)) {
			return venue, true
		}
	}
	return "", false
}
