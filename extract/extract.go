// Package extract pulls normalized data out of untyped backend documents.
// Several endpoints answer with shapes that drifted across backend versions,
// so instead of a typed schema the documents are probed along an ordered
// list of candidate paths, stopping at the first non-empty match. Callers
// only ever see the normalized result.
package extract

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Paths probed in order for skill lists. Earlier entries are the shapes
// newer backends answer with.
var skillPaths = []string{
	"required_skills",
	"skills",
	"all_skills",
	"shared_skills",
	"data.required_skills",
	"data.skills",
	"profile.skills",
}

// Skills extracts a normalized skill list from a document. Both JSON arrays
// and comma-separated strings are accepted; entries are trimmed, lowercased
// and deduplicated preserving order. An unreadable document yields nil.
func Skills(doc []byte) []string {
	if !gjson.ValidBytes(doc) {
		return nil
	}
	parsed := gjson.ParseBytes(doc)
	for _, path := range skillPaths {
		if skills := normalize(parsed.Get(path)); len(skills) > 0 {
			return skills
		}
	}
	return nil
}

func normalize(result gjson.Result) []string {
	var raw []string
	switch {
	case result.IsArray():
		for _, el := range result.Array() {
			raw = append(raw, el.String())
		}
	case result.Type == gjson.String:
		raw = strings.Split(result.String(), ",")
	default:
		return nil
	}

	var (
		skills []string
		seen   = make(map[string]struct{}, len(raw))
	)
	for _, s := range raw {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		skills = append(skills, s)
	}
	return skills
}
