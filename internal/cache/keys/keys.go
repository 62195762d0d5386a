// Package keys builds the store keys used by every cache namespace.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/slopecraft/terrain-cache/internal/core/model"
)

// Terrain builds the key for a cached TerrainResult:
// "<boundary fingerprint>:<WxH>". Keying by the boundary's spatial
// fingerprint (geo.Fingerprint) instead of the run id lets two runs tracing
// the same polygon share one cached result.
func Terrain(boundaryFP string, size model.GridSize) string {
	return sanitize(strings.TrimSpace(boundaryFP)) + ":" + size.String()
}

// Run builds the key for a cached run definition.
func Run(runID string) string {
	return sanitize(strings.TrimSpace(runID))
}

// Agent builds the key for a cached upstream agent response. The request
// parameters are hashed so unbounded filter text never leaks into key space.
func Agent(areaID string, size model.GridSize, includeClassification bool) string {
	sum := xxhash.Sum64String(fmt.Sprintf("%s|%d|%t", areaID, int(size), includeClassification))
	return fmt.Sprintf("%s:%s:%016x", sanitize(areaID), size, sum)
}

// Group is the denormalized grouping key for secondary lookup, e.g. all
// terrain entries belonging to one source area.
func Group(sourceAreaID string) string {
	return sanitize(strings.TrimSpace(sourceAreaID))
}

// sanitize collapses whitespace to '_' and any rune outside
// [a-zA-Z0-9:_-] to '-', squashing runs of replacements.
func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case isASCIIWhitespace(r):
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isASCIIWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
