package tfm

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw      string
		priority int
		major    int
		minor    int
	}{
		{"net8.0", priorityModern, 8, 0},
		{"net6.0", priorityModern, 6, 0},
		{"net5.0", priorityModern, 5, 0},
		{"netstandard2.0", priorityNetStandard, 2, 0},
		{"netstandard2.1", priorityNetStandard, 2, 1},
		{"netcoreapp3.1", priorityNetStandard, 3, 1},
		{"net48", priorityNetFramework, 4, 8},
		{"net462", priorityNetFramework, 4, 6},
		{"net4", priorityNetFramework, 4, 0},
		{"NET6.0", priorityModern, 6, 0},
		{"lib", priorityUnknown, 0, 0},
		{"", priorityUnknown, 0, 0},
	}
	for _, tt := range tests {
		m := Parse(tt.raw)
		if m.Priority != tt.priority || m.Major != tt.major || m.Minor != tt.minor {
			t.Errorf("Parse(%q) = {prio %d, %d.%d}; want {prio %d, %d.%d}",
				tt.raw, m.Priority, m.Major, m.Minor, tt.priority, tt.major, tt.minor)
		}
	}
}

func TestIsMoniker(t *testing.T) {
	for _, s := range []string{"net6.0", "netstandard2.0", "net48", "netcoreapp3.1"} {
		if !IsMoniker(s) {
			t.Errorf("IsMoniker(%q) = false", s)
		}
	}
	for _, s := range []string{"lib", "ref", "runtimes", "", "network"} {
		if IsMoniker(s) {
			t.Errorf("IsMoniker(%q) = true", s)
		}
	}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name   string
		groups map[string][]string
		want   string
	}{
		{
			"modern beats standard beats legacy",
			map[string][]string{
				"net6.0":         {"lib/net6.0/A.dll"},
				"netstandard2.0": {"lib/netstandard2.0/A.dll"},
				"net462":         {"lib/net462/A.dll"},
			},
			"net6.0",
		},
		{
			"newer modern wins",
			map[string][]string{"net6.0": {"a"}, "net8.0": {"b"}},
			"net8.0",
		},
		{
			"legacy compact ordering",
			map[string][]string{"net462": {"a"}, "net48": {"b"}},
			"net48",
		},
		{
			"single group returned as-is",
			map[string][]string{"netstandard2.0": {"a", "b"}},
			"netstandard2.0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Select(tt.groups)
			if !ok {
				t.Fatal("Select returned no group")
			}
			if got.Moniker != tt.want {
				t.Errorf("selected %q, want %q", got.Moniker, tt.want)
			}
			if !reflect.DeepEqual(got.Assemblies, tt.groups[tt.want]) {
				t.Errorf("assemblies = %v", got.Assemblies)
			}
		})
	}

	if _, ok := Select(nil); ok {
		t.Error("Select(nil) returned a group")
	}
}
