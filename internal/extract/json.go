package extract

import "strings"

// maxCandidates bounds how many spans are tried per response.
const maxCandidates = 8

type candidate struct {
	span     string
	complete bool
}

// candidates returns the JSON spans in s worth decoding, most likely first:
// the contents of fenced code blocks, then each top-level bracket span in
// order of appearance. An unbalanced bracket runs to the end of s, so it is
// the last candidate.
func candidates(s string) []candidate {
	var out []candidate
	seen := make(map[string]bool)
	add := func(span string, complete bool) {
		if span == "" || seen[span] || len(out) >= maxCandidates {
			return
		}
		seen[span] = true
		out = append(out, candidate{span: span, complete: complete})
	}

	for _, block := range fencedBlocks(s) {
		add(locate(block))
	}
	for from := 0; from < len(s) && len(out) < maxCandidates; {
		i := strings.IndexAny(s[from:], "{[")
		if i < 0 {
			break
		}
		start := from + i
		if end := balancedEnd(s, start); end > 0 {
			add(s[start:end], true)
			from = end
			continue
		}
		add(s[start:], false)
		break
	}
	return out
}

// fencedBlocks returns the bodies of ``` fenced blocks in s. The info
// string after the opening fence is skipped. An unclosed fence runs to the
// end of s.
func fencedBlocks(s string) []string {
	const fence = "```"
	var out []string
	for {
		open := strings.Index(s, fence)
		if open < 0 {
			return out
		}
		body := s[open+len(fence):]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
			body = body[nl+1:]
		}
		end := strings.Index(body, fence)
		if end < 0 {
			return append(out, body)
		}
		out = append(out, body[:end])
		s = body[end+len(fence):]
	}
}

// locate returns the first JSON object or array in s. complete reports
// whether the opening bracket was balanced before the end of s.
func locate(s string) (span string, complete bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	if end := balancedEnd(s, start); end > 0 {
		return s[start:end], true
	}
	return s[start:], false
}

// balancedEnd returns the index just past the bracket that closes the one at
// s[start], or -1 if it is never closed. Brackets inside strings are ignored.
func balancedEnd(s string, start int) int {
	var (
		depth    int
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// repair rewrites near-JSON into something encoding/json can parse. It
// drops trailing commas, escapes quotes that cannot be closing quotes,
// escapes raw control characters inside strings, and closes an unterminated
// string and any brackets left open at the end of input.
func repair(s string) string {
	var (
		b        strings.Builder
		stack    []byte
		inString bool
		escaped  bool
	)
	b.Grow(len(s) + 8)

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
				b.WriteByte(c)
			case c == '\\':
				escaped = true
				b.WriteByte(c)
			case c == '"':
				var top byte
				if len(stack) > 0 {
					top = stack[len(stack)-1]
				}
				if closesString(s, i+1, top) {
					inString = false
					b.WriteByte(c)
				} else {
					b.WriteString(`\"`)
				}
			case c == '\n':
				b.WriteString(`\n`)
			case c == '\r':
				b.WriteString(`\r`)
			case c == '\t':
				b.WriteString(`\t`)
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch c {
		case '"':
			inString = true
			b.WriteByte(c)
		case '{', '[':
			stack = append(stack, c)
			b.WriteByte(c)
		case '}', ']':
			if len(stack) == 0 {
				return closeOpen(b.String(), stack, false)
			}
			top := stack[len(stack)-1]
			if (c == '}' && top != '{') || (c == ']' && top != '[') {
				continue
			}
			stack = stack[:len(stack)-1]
			b.WriteByte(c)
			if len(stack) == 0 {
				return b.String()
			}
		case ',':
			if next := nextNonSpace(s, i+1); next == '}' || next == ']' || next == 0 {
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return closeOpen(b.String(), stack, inString)
}

// closesString reports whether a quote followed by s[from:] is plausibly the
// end of a JSON string inside a container opened with top. A comma only
// closes the string when what follows it can continue that container.
func closesString(s string, from int, top byte) bool {
	i := skipSpace(s, from)
	if i == len(s) {
		return true
	}
	switch s[i] {
	case '}', ']', ':':
		return true
	case ',':
		return continuesAfterComma(s, skipSpace(s, i+1), top)
	}
	return false
}

// continuesAfterComma reports whether s[i:] can follow a comma inside a
// container opened with top: a key in an object, any value in an array.
func continuesAfterComma(s string, i int, top byte) bool {
	if i == len(s) {
		return true
	}
	switch c := s[i]; {
	case c == '"' || c == '}' || c == ']':
		return true
	case top != '[':
		return false
	case c == '{' || c == '[' || c == '-' || (c >= '0' && c <= '9'):
		return true
	}
	for _, lit := range []string{"true", "false", "null"} {
		if strings.HasPrefix(s[i:], lit) {
			return true
		}
	}
	return false
}

func skipSpace(s string, from int) int {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return i
	}
	return len(s)
}

func nextNonSpace(s string, from int) byte {
	if i := skipSpace(s, from); i < len(s) {
		return s[i]
	}
	return 0
}

func closeOpen(out string, stack []byte, inString bool) string {
	if inString {
		out += `"`
	}
	out = strings.TrimRight(out, " \t\r\n")
	out = strings.TrimSuffix(out, ",")
	if strings.HasSuffix(out, ":") {
		out += "null"
	}
	var b strings.Builder
	b.WriteString(out)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}
