package fileops

import "strings"

// Resolve joins segments into a normalized POSIX path without consulting
// the working directory. Segments are taken from the right until one is
// absolute; "." is dropped and ".." removes the previous real segment. An
// absolute result never climbs above "/", while a relative one keeps
// leading ".." segments. An empty result is "/" or "." respectively.
func Resolve(segments ...string) string {
	var joined []string
	absolute := false

	for i := len(segments) - 1; i >= 0 && !absolute; i-- {
		seg := segments[i]
		if seg == "" {
			continue
		}
		joined = append(joined, seg)
		absolute = seg[0] == '/'
	}

	// joined holds segments right to left; restore their order.
	for i, j := 0, len(joined)-1; i < j; i, j = i+1, j-1 {
		joined[i], joined[j] = joined[j], joined[i]
	}

	normalized := normalize(strings.Join(joined, "/"), !absolute)

	if absolute {
		return "/" + normalized
	}
	if normalized == "" {
		return "."
	}
	return normalized
}

// normalize collapses "." and ".." in p. With allowAboveRoot, ".." that
// cannot pop a real segment is kept; otherwise it is dropped.
func normalize(p string, allowAboveRoot bool) string {
	var out []string
	for _, part := range strings.Split(p, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 && out[len(out)-1] != ".." {
				out = out[:len(out)-1]
			} else if allowAboveRoot {
				out = append(out, "..")
			}
		default:
			out = append(out, part)
		}
	}
	return strings.Join(out, "/")
}
