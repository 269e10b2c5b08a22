package report

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var numbers = message.NewPrinter(language.English)

// Number formats n with thousands separators.
func Number(n int64) string {
	return numbers.Sprintf("%d", n)
}

// Table renders a monospace table. A column whose every cell is an
// integer is right-aligned and printed with thousands separators; other
// columns are left-aligned. Columns are separated by two spaces and the
// header is underlined with dashes.
func Table(headers []string, rows [][]string) string {
	if len(rows) == 0 {
		empty := make([]string, len(headers))
		if len(empty) > 0 {
			empty[0] = "No data available."
		}
		rows = [][]string{empty}
	}

	numeric := make([]bool, len(headers))
	for c := range headers {
		numeric[c] = true
		for _, r := range rows {
			if c >= len(r) {
				numeric[c] = false
				break
			}
			if _, ok := parseInt(r[c]); !ok {
				numeric[c] = false
				break
			}
		}
	}

	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = make([]string, len(headers))
		for c := range headers {
			if c >= len(r) {
				continue
			}
			cells[i][c] = r[c]
			if numeric[c] {
				n, _ := parseInt(r[c])
				cells[i][c] = Number(n)
			}
		}
	}

	widths := make([]int, len(headers))
	for c, h := range headers {
		widths[c] = utf8.RuneCountInString(h)
	}
	for _, r := range cells {
		for c, v := range r {
			widths[c] = max(widths[c], utf8.RuneCountInString(v))
		}
	}

	line := func(r []string) string {
		parts := make([]string, len(r))
		for c, v := range r {
			pad := strings.Repeat(" ", widths[c]-utf8.RuneCountInString(v))
			if numeric[c] {
				parts[c] = pad + v
			} else {
				parts[c] = v + pad
			}
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	var b strings.Builder
	header := line(headers)
	b.WriteString(header)
	b.WriteByte('\n')
	b.WriteString(strings.Repeat("-", utf8.RuneCountInString(header)))
	for _, r := range cells {
		b.WriteByte('\n')
		b.WriteString(line(r))
	}
	return b.String()
}

func parseInt(s string) (int64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

// codeBlock wraps s in a chat code fence.
func codeBlock(s string) string {
	return "```\n" + s + "\n```"
}
