package correction

import (
	"regexp"
	"strings"
)

var fencedBlockRe = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\r?\n?(.*?)```")

// ExtractQuery takes the query text out of an oracle response. A fenced code block is
// preferred when present. Trailing semicolons are removed.
func ExtractQuery(response string) string {
	text := strings.TrimSpace(response)
	if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	} else if strings.HasPrefix(text, "```") {
		// Unterminated fence
		text = strings.TrimPrefix(text, "```sql")
		text = strings.TrimPrefix(text, "```")
	}

	text = strings.TrimSpace(text)
	for strings.HasSuffix(text, ";") {
		text = strings.TrimSpace(strings.TrimSuffix(text, ";"))
	}
	return text
}
