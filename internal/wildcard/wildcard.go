// Package wildcard implements the one glob-matching algorithm the broker
// applies to every vault's enumeration results. Keeping the matcher here
// means match semantics never depend on a given vault's own filtering.
//
// Supported syntax: '*' matches any run of characters (including none),
// '?' matches exactly one character, and '[...]' matches a character class
// with optional ranges and '^' negation. There is no path separator; secret
// names are flat identifiers.
package wildcard

// Match reports whether name matches pattern. An empty pattern matches
// everything, mirroring an omitted filter. Malformed character classes
// simply fail to match rather than erroring; a filter is a query, not a
// program.
func Match(pattern, name string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	return match(pattern, name)
}

// Escape quotes a literal name so it matches only itself, even when it
// contains wildcard metacharacters.
func Escape(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '*', '?', '[':
			out = append(out, '[', name[i], ']')
		default:
			out = append(out, name[i])
		}
	}
	return string(out)
}

func match(pattern, name string) bool {
	var starPat, starName = -1, 0
	p, n := 0, 0

	for n < len(name) {
		if p < len(pattern) {
			switch pattern[p] {
			case '*':
				// Remember the star and try the shortest expansion first.
				starPat, starName = p, n
				p++
				continue
			case '?':
				p++
				n++
				continue
			case '[':
				if next, ok := matchClass(pattern, p, name[n]); ok {
					p = next
					n++
					continue
				}
			default:
				if pattern[p] == name[n] {
					p++
					n++
					continue
				}
			}
		}
		// Mismatch: backtrack to the last star, widening its span by one.
		if starPat >= 0 {
			starName++
			p = starPat + 1
			n = starName
			continue
		}
		return false
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchClass matches name byte c against the class starting at pattern[start]
// (which is '['). On success it returns the index just past the closing ']'.
// A class with no closing bracket never matches.
func matchClass(pattern string, start int, c byte) (int, bool) {
	i := start + 1
	negate := false
	if i < len(pattern) && (pattern[i] == '^' || pattern[i] == '!') {
		negate = true
		i++
	}

	matched := false
	first := true
	for i < len(pattern) {
		if pattern[i] == ']' && !first {
			if matched != negate {
				return i + 1, true
			}
			return 0, false
		}
		first = false

		lo := pattern[i]
		hi := lo
		if i+2 < len(pattern) && pattern[i+1] == '-' && pattern[i+2] != ']' {
			hi = pattern[i+2]
			i += 2
		}
		if lo <= c && c <= hi {
			matched = true
		}
		i++
	}
	return 0, false
}
