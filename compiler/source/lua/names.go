package lua

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pgavlin/wasm2lua/ir"
)

var keywords = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true, "end": true,
	"false": true, "for": true, "function": true, "if": true, "in": true, "local": true,
	"nil": true, "not": true, "or": true, "repeat": true, "return": true, "then": true,
	"true": true, "until": true, "while": true,
}

// IsIdentifier returns true if s is a valid Lua identifier.
func IsIdentifier(s string) bool {
	if s == "" || keywords[s] {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// SanitizeName maps an arbitrary name to the characters allowed in a Lua identifier. The result
// may start with a digit.
func SanitizeName(name string) string {
	var sb strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// moduleNames are the unit-level names defined next to the runtime helpers.
var moduleNames = []string{
	"init_functions",
	"init_memories",
	"init_tables",
	"init_refs",
	"init_globals",
	"check_segments",
	"init_segments",
	"init_exports",
	"instantiate",
	"module",
}

var helperPattern = regexp.MustCompile(`(?m)^(?:function rt\.([a-z0-9_]+)\(|rt\.([a-z0-9_]+) = )`)

// reservedNames holds every suffix the runtime and the unit layout claim under the prefix.
var reservedNames = func() map[string]bool {
	names := map[string]bool{}
	for _, m := range helperPattern.FindAllStringSubmatch(runtimeSource, -1) {
		if m[1] != "" {
			names[m[1]] = true
		} else {
			names[m[2]] = true
		}
	}
	for _, n := range moduleNames {
		names[n] = true
	}
	return names
}()

// helperNames returns the sorted list of runtime helper names.
func helperNames() []string {
	names := make([]string, 0, len(reservedNames))
	for n := range reservedNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// functionNames assigns the name suffix of every function. A function is named after its debug
// name when debug names are enabled and it has one, and after its index otherwise. Every base name
// that is claimed by more than one function or by the runtime gets the function's index appended,
// repeatedly, until all names are distinct.
func functionNames(m *ir.Module, debugNames bool) []string {
	names := make([]string, len(m.Functions))
	for i, f := range m.Functions {
		if debugNames && f.Name != "" {
			names[i] = SanitizeName(f.Name)
		} else {
			names[i] = fmt.Sprintf("f%d", i)
		}
	}

	for {
		counts := map[string]int{}
		for _, n := range names {
			counts[n]++
		}

		changed := false
		for i, n := range names {
			if counts[n] > 1 || reservedNames[n] {
				names[i] = fmt.Sprintf("%s_%d", n, i)
				changed = true
			}
		}
		if !changed {
			return names
		}
	}
}
