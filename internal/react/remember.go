package react

import "strings"

// ExtractRemember pulls the preference content out of an explicit
// "remember: X" / "记住：X" utterance, with full- or half-width colons.
// Returns "" when the utterance is not a remember statement.
func ExtractRemember(input string) string {
	trimmed := strings.TrimSpace(input)

	idx := strings.Index(trimmed, "记住")
	if idx < 0 {
		lower := strings.ToLower(trimmed)
		idx = strings.Index(lower, "remember")
		if idx < 0 || !strings.EqualFold(trimmed[idx:idx+len("remember")], "remember") {
			return ""
		}
		return afterColon(trimmed[idx+len("remember"):])
	}
	return afterColon(trimmed[idx+len("记住"):])
}

// afterColon returns the trimmed content following the first colon.
func afterColon(s string) string {
	sep := strings.IndexAny(s, ":：")
	if sep < 0 {
		return ""
	}
	rest := s[sep:]
	for _, r := range rest {
		// Skip exactly the colon rune, whatever its width.
		return strings.TrimSpace(rest[len(string(r)):])
	}
	return ""
}
