// Package args rebuilds an ordered compiler-argument list from the decoded
// compilation-options tokens and the assembly's debug classification. The
// final ordering - baseline defaults, decoded tokens in original order,
// regenerated debug flags - is a contract for positional comparison tooling.
package args

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/blacktop/dotpdb/pkg/pe"
)

// baseline is the set of MSBuild-implicit defaults a csc invocation carries
// but the PDB never records: unsafe and checked arithmetic disabled, full
// diagnostic paths, standard-library linking, prompt-style error reporting.
// Best-effort reconstruction, not literal recovery.
var baseline = []string{
	"/unsafe-",
	"/checked-",
	"/fullpaths",
	"/nostdlib-",
	"/errorreport:prompt",
}

var tfmDefine = regexp.MustCompile(`NET(\d+)_(\d+)`)

// PortabilityPolicy values carried over from the legacy appcompat switch.
const (
	PortabilityNoWarnings = iota
	PortabilitySuppressSilverlightPlatform
	PortabilitySuppressSilverlightLibrary
	PortabilitySuppressAll
)

// Result is the reconstructed invocation plus the side facts pulled out of
// key:value tokens on the way.
type Result struct {
	Arguments []string

	TargetFramework   string
	DefaultEncoding   string
	FallbackEncoding  string
	PortabilityPolicy int
}

// Reconstruct merges decoded options-blob tokens with the debug
// classification. Stored debug flags are dropped and regenerated from the
// classification: the PE headers are authoritative, and regenerating is the
// only way to guarantee no duplicate or conflicting /debug flags.
func Reconstruct(tokens []string, class pe.Classification, pdbOutputPath string) Result {
	var res Result
	var kept []string

	for _, tok := range tokens {
		switch {
		case isRegeneratedDebugFlag(tok):
			continue
		case strings.HasPrefix(tok, "default-encoding:"):
			res.DefaultEncoding = strings.TrimPrefix(tok, "default-encoding:")
			continue
		case strings.HasPrefix(tok, "fallback-encoding:"):
			res.FallbackEncoding = strings.TrimPrefix(tok, "fallback-encoding:")
			continue
		case strings.HasPrefix(tok, "portability-policy:"):
			if n, err := strconv.Atoi(strings.TrimPrefix(tok, "portability-policy:")); err == nil {
				res.PortabilityPolicy = n
			}
			continue
		}
		if strings.HasPrefix(tok, "/define:") && res.TargetFramework == "" {
			res.TargetFramework = frameworkFromDefines(tok)
		}
		kept = append(kept, tok)
	}

	if res.PortabilityPolicy > 0 {
		kept = append(kept, fmt.Sprintf("/portable-policy:%d", res.PortabilityPolicy))
	}

	out := make([]string, 0, len(baseline)+len(kept)+4)
	out = append(out, baseline...)
	out = append(out, kept...)
	if class.HasReproducibleMarker {
		out = append(out, "/deterministic+")
	}
	out = append(out, class.ToCompilerFlags(pdbOutputPath)...)

	res.Arguments = out
	return res
}

func isRegeneratedDebugFlag(tok string) bool {
	return strings.HasPrefix(tok, "/debug:") ||
		tok == "/debug-" || tok == "/debug+" ||
		strings.HasPrefix(tok, "/embed") ||
		tok == "/deterministic+" || tok == "/deterministic"
}

// frameworkFromDefines derives a TFM from a /define: token containing a
// NETx_y macro: NET8_0 -> net8.0.
func frameworkFromDefines(tok string) string {
	m := tfmDefine.FindStringSubmatch(tok)
	if m == nil {
		return ""
	}
	return fmt.Sprintf("net%s.%s", m[1], m[2])
}
