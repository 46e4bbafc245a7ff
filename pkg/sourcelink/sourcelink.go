// Package sourcelink resolves compiled-in document paths to source URLs via
// a Source Link JSON map.
package sourcelink

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// SourceLink is a parsed Source Link document map.
type SourceLink struct {
	Documents map[string]string `json:"documents"`
}

// Parse decodes the Source Link JSON blob.
func Parse(data []byte) (*SourceLink, error) {
	var sl SourceLink
	if err := json.Unmarshal(data, &sl); err != nil {
		return nil, errors.Wrap(err, "failed to parse Source Link JSON")
	}
	if sl.Documents == nil {
		return nil, errors.New("Source Link JSON has no documents map")
	}
	return &sl, nil
}

// Resolve maps a document path to its URL. Patterns contain at most one `*`;
// the longest matching prefix before the wildcard wins and the path remainder
// is substituted into the URL template. Separators are normalized and prefix
// matching is case-insensitive, per the Source Link spec. Returns "" when no
// pattern matches - a normal outcome, the caller falls back.
func (sl *SourceLink) Resolve(documentPath string) string {
	doc := normalize(documentPath)

	bestLen := -1
	bestURL := ""
	for pattern, template := range sl.Documents {
		pat := normalize(pattern)

		star := strings.Index(pat, "*")
		if star < 0 {
			if strings.EqualFold(pat, doc) {
				if len(pat) > bestLen {
					bestLen = len(pat)
					bestURL = template
				}
			}
			continue
		}

		prefix, suffix := pat[:star], pat[star+1:]
		if len(doc) < len(prefix)+len(suffix) {
			continue
		}
		if !strings.EqualFold(doc[:len(prefix)], prefix) {
			continue
		}
		if suffix != "" && !strings.EqualFold(doc[len(doc)-len(suffix):], suffix) {
			continue
		}
		if len(prefix) > bestLen {
			bestLen = len(prefix)
			remainder := doc[len(prefix) : len(doc)-len(suffix)]
			bestURL = strings.Replace(template, "*", remainder, 1)
		}
	}
	return bestURL
}

func normalize(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
