package explain

import "strings"

// ExtractJSON pulls the JSON payload out of a model response. A fenced
// ```json block wins; failing that, a response that is itself a bare JSON
// object is accepted whole. Anything else reports not-found rather than an
// error, since unparseable output is a legitimate degraded outcome.
func ExtractJSON(text string) (string, bool) {
	if block, ok := fencedBlock(text, "```json"); ok {
		return block, true
	}
	if block, ok := fencedBlock(text, "```"); ok {
		if looksLikeObject(block) {
			return block, true
		}
	}
	trimmed := strings.TrimSpace(text)
	if looksLikeObject(trimmed) {
		return trimmed, true
	}
	return "", false
}

func fencedBlock(text, fence string) (string, bool) {
	start := strings.Index(text, fence)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(fence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func looksLikeObject(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}
