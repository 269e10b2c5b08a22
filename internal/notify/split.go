package notify

import "strings"

// MaxMessageLength is the longest content a chat webhook accepts.
const MaxMessageLength = 2000

const fence = "```"

// Split breaks content into messages of at most limit characters, cutting
// only at line boundaries. A code block cut in two is closed at the end of
// one message and reopened at the start of the next. A single line longer
// than limit is cut mid-line.
func Split(content string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	if len(content) <= limit {
		return []string{content}
	}

	var (
		out    []string
		cur    strings.Builder
		lines  int
		inCode bool
	)
	// Room reserved for closing a fence at the end of a message.
	reserve := len(fence) + 1
	flush := func() {
		if lines == 0 {
			return
		}
		if inCode {
			cur.WriteString(fence)
		}
		out = append(out, strings.TrimRight(cur.String(), "\n"))
		cur.Reset()
		lines = 0
		if inCode {
			cur.WriteString(fence + "\n")
		}
	}

	for _, line := range strings.Split(content, "\n") {
		for len(line)+reserve+len(fence)+1 > limit {
			head := limit - reserve - len(fence) - 1
			flush()
			cur.WriteString(line[:head] + "\n")
			lines++
			line = line[head:]
		}
		if cur.Len()+len(line)+1+reserve > limit {
			flush()
		}
		cur.WriteString(line + "\n")
		lines++
		if strings.HasPrefix(strings.TrimSpace(line), fence) {
			inCode = !inCode
		}
	}
	if lines > 0 {
		out = append(out, strings.TrimRight(cur.String(), "\n"))
	}
	return out
}
