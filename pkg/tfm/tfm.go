// Package tfm groups assemblies by target-framework moniker and picks the
// best group from a multi-targeted package.
package tfm

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	version "github.com/hashicorp/go-version"
)

// Framework generation priorities, best first: modern .NET (net5.0+), then
// .NET Standard / .NET Core App, then legacy .NET Framework.
const (
	priorityUnknown = iota
	priorityNetFramework
	priorityNetStandard
	priorityModern
)

var monikerRe = regexp.MustCompile(`^(net|netstandard|netcoreapp)(\d+(?:\.\d+)*)`)

// Moniker is one parsed TFM.
type Moniker struct {
	Raw      string
	Priority int
	Major    int
	Minor    int
}

// Parse breaks a TFM into family and version. Dotted monikers ("net6.0",
// "netstandard2.0") parse directly. Compact legacy ones ("net48", "net462")
// deliberately take the first digit as major and the second as minor rather
// than splitting off the final digit: last-digit splitting would read net462
// as version 46.2 and rank it above net48, inverting the real framework
// order.
func Parse(raw string) Moniker {
	m := Moniker{Raw: raw}

	sub := monikerRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(raw)))
	if sub == nil {
		return m
	}
	family, ver := sub[1], sub[2]

	if strings.Contains(ver, ".") {
		if v, err := version.NewVersion(ver); err == nil {
			segs := v.Segments()
			m.Major = segs[0]
			if len(segs) > 1 {
				m.Minor = segs[1]
			}
		}
	} else if n, err := strconv.Atoi(ver); err == nil {
		if n >= 10 {
			m.Major, _ = strconv.Atoi(ver[:1])
			m.Minor, _ = strconv.Atoi(ver[1:2])
		} else {
			m.Major = n
		}
	}

	switch family {
	case "netstandard", "netcoreapp":
		m.Priority = priorityNetStandard
	case "net":
		if m.Major >= 5 {
			m.Priority = priorityModern
		} else {
			m.Priority = priorityNetFramework
		}
	}
	return m
}

// IsMoniker reports whether s looks like a TFM path segment ("net6.0",
// "netstandard2.0", "net48").
func IsMoniker(s string) bool {
	return Parse(s).Priority != priorityUnknown
}

// Group is one framework group of a multi-targeted package.
type Group struct {
	Moniker    string
	Assemblies []string
}

// Select picks one framework group. A single group is returned as-is;
// otherwise groups rank by (priority, major, minor) descending, with the
// moniker string as a deterministic tiebreak.
func Select(groups map[string][]string) (Group, bool) {
	if len(groups) == 0 {
		return Group{}, false
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := Parse(keys[i]), Parse(keys[j])
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Major != b.Major {
			return a.Major > b.Major
		}
		if a.Minor != b.Minor {
			return a.Minor > b.Minor
		}
		return keys[i] < keys[j]
	})

	best := keys[0]
	return Group{Moniker: best, Assemblies: groups[best]}, true
}
