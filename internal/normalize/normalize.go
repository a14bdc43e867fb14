// Package normalize turns display names into canonical lookup keys and
// owns the placeholder-name predicate shared by every caller.
package normalize

import "strings"

// DefaultBaseName is the name given to boards created without one.
const DefaultBaseName = "Untitled"

// Key lowercases text and strips everything that is not a Latin
// letter, a digit, or a rune in the Hiragana/Katakana/CJK ranges. The
// result is a lookup key, never a display value. An empty result means
// the name is not indexable and callers must skip index reads and
// writes for it.
func Key(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if keyRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func keyRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	}
	return inKanaOrCJK(r)
}

func inKanaOrCJK(r rune) bool {
	switch {
	case r >= 0x3040 && r <= 0x309F: // Hiragana
		return true
	case r >= 0x30A0 && r <= 0x30FF: // Katakana
		return true
	case r >= 0x3400 && r <= 0x4DBF: // CJK Extension A
		return true
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	}
	return false
}

// IndexKey is the forward-index key for a display name: empty for
// placeholder and unindexable names, which are never indexed.
func IndexKey(name string) string {
	if IsPlaceholder(name) {
		return ""
	}
	return Key(name)
}

// IsPlaceholder reports whether name is an auto-generated default
// ("Untitled" or "Untitled_<n>"). Placeholder names never enter the
// forward indexes or the rename history, so a stale default name can
// never redirect onto an unrelated board.
func IsPlaceholder(name string) bool {
	if name == DefaultBaseName {
		return true
	}
	rest, ok := strings.CutPrefix(name, DefaultBaseName+"_")
	if !ok || rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
