package agent

import (
	"encoding/json"
	"strings"
)

// recognizedKeys are the top-level keys that mark a parsed object as a known
// payload shape. An object without any of them is treated as a non-match and
// scanning continues.
var recognizedKeys = []string{"action", "reply", "message", "text", "content", "payloads"}

// ExtractJSON scans arbitrary text for the first balanced {...} span that
// parses as JSON and exposes at least one recognized top-level key. OpenClaw
// interleaves log noise with its JSON output, so strict whole-stream parsing
// is not an option. Returns nil when no candidate qualifies.
//
// Brace matching is intentionally naive (no string-literal awareness): the
// scan advances to the next '{' on any failed candidate, so a brace inside a
// string at worst costs an extra parse attempt.
func ExtractJSON(text string) map[string]any {
	for start := strings.IndexByte(text, '{'); start != -1; start = nextBrace(text, start) {
		end := matchingBrace(text, start)
		if end == -1 {
			continue
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
			continue
		}
		if hasRecognizedKey(obj) {
			return obj
		}
	}
	return nil
}

// matchingBrace returns the index of the brace closing the span opened at
// start, or -1 if the text ends first.
func matchingBrace(text string, start int) int {
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func nextBrace(text string, after int) int {
	idx := strings.IndexByte(text[after+1:], '{')
	if idx == -1 {
		return -1
	}
	return after + 1 + idx
}

func hasRecognizedKey(obj map[string]any) bool {
	for _, key := range recognizedKeys {
		if _, ok := obj[key]; ok {
			return true
		}
	}
	return false
}
