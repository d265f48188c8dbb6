package schemarag

import "strings"

// maskComments replaces SQL comments with spaces. Newlines are kept so that byte
// offsets and line numbers of the result are identical to the input.
func maskComments(s string) string {
	b := []byte(s)
	var quote byte
	for i := 0; i < len(b); i++ {
		c := b[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}

		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '-' && i+1 < len(b) && b[i+1] == '-':
			for ; i < len(b) && b[i] != '\n'; i++ {
				b[i] = ' '
			}
		case c == '/' && i+1 < len(b) && b[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			stop := len(b)
			if end >= 0 {
				stop = i + 2 + end + 2
			}
			for j := i; j < stop; j++ {
				if b[j] != '\n' {
					b[j] = ' '
				}
			}
			i = stop - 1
		}
	}
	return string(b)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') ||
		c >= 0x80
}

func skipSpaces(s string, pos int) int {
	for pos < len(s) && isSpace(s[pos]) {
		pos++
	}
	return pos
}

// readIdentifier reads a plain or quoted identifier. Quotes are removed from the result.
func readIdentifier(s string, pos int) (string, int) {
	pos = skipSpaces(s, pos)
	if pos >= len(s) {
		return "", pos
	}

	var closing byte
	switch s[pos] {
	case '"', '`':
		closing = s[pos]
	case '[':
		closing = ']'
	}
	if closing != 0 {
		end := strings.IndexByte(s[pos+1:], closing)
		if end < 0 {
			return "", pos
		}
		return s[pos+1 : pos+1+end], pos + end + 2
	}

	start := pos
	for pos < len(s) && isIdentChar(s[pos]) {
		pos++
	}
	return s[start:pos], pos
}

// readQualifiedName reads a dotted name such as schema.table.
func readQualifiedName(s string, pos int) (string, int) {
	var parts []string
	for {
		part, next := readIdentifier(s, pos)
		if part == "" {
			return strings.Join(parts, "."), pos
		}
		parts = append(parts, part)
		pos = next

		dot := skipSpaces(s, pos)
		if dot >= len(s) || s[dot] != '.' {
			return strings.Join(parts, "."), pos
		}
		pos = dot + 1
	}
}

// matchParen returns index of the parenthesis closing the one at open, or -1.
func matchParen(s string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTopLevel splits s by sep outside of parentheses, quotes and type parameters such
// as STRUCT<a INT64, b STRING>.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth, angle, last := 0, 0, 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		case '<':
			if depth == 0 {
				angle++
			}
		case '>':
			if depth == 0 && angle > 0 {
				angle--
			}
		case sep:
			if depth == 0 && angle == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// tokenize splits s by spaces outside of parentheses, quotes and type parameters. A parenthesized group
// separated from the previous word, as in "DECIMAL (10, 2)", is joined to that word.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	depth, angle := 0, 0
	var quote byte

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := cur.String()
		cur.Reset()
		if strings.HasPrefix(tok, "(") && len(tokens) > 0 {
			tokens[len(tokens)-1] += tok
			return
		}
		tokens = append(tokens, tok)
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == '<' && depth == 0:
			angle++
		case c == '>' && depth == 0 && angle > 0:
			angle--
		case isSpace(c) && depth == 0 && angle == 0:
			flush()
			continue
		}
		cur.WriteByte(c)
	}
	flush()
	return tokens
}
