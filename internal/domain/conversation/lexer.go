package conversation

import (
	"regexp"
	"strings"
)

// SegmentKind is the type of a rendered reply segment.
type SegmentKind string

const (
	SegmentText   SegmentKind = "text"
	SegmentBold   SegmentKind = "bold"
	SegmentItalic SegmentKind = "italic"
	SegmentBullet SegmentKind = "bullet"
	SegmentCode   SegmentKind = "codeBlock"
)

// Segment is one typed run of an assistant reply.
type Segment struct {
	Kind     SegmentKind `json:"kind"`
	Payload  string      `json:"payload"`
	Language string      `json:"language,omitempty"`
}

const fenceChar = '`'

var bulletMarkers = []string{"- ", "* ", "• "}

var langTag = regexp.MustCompile(`^[A-Za-z0-9_+#.-]*$`)

// ParseReply splits raw assistant text into ordered segments.
//
// A fence of three or more backticks opens a code block; a language tag
// may follow on the opening line. The block ends at a backtick run at
// least as long as the opening one, so a longer outer fence can carry
// shorter fences inside. An unterminated fence runs to the end of the
// text. Fences win over emphasis: markers never pair across a fence.
// Outside fences, "**x**" is bold, "*x*" and "_x_" are italic, and a
// line starting with "- ", "* " or "• " is a bullet.
func ParseReply(raw string) []Segment {
	l := &lexer{src: raw}
	l.run()
	return l.segs
}

type lexer struct {
	src  string
	pos  int
	segs []Segment
	text strings.Builder
}

func (l *lexer) run() {
	lineStart := true
	for l.pos < len(l.src) {
		if n := runLength(l.src[l.pos:], fenceChar); n >= 3 {
			l.fence(n)
			lineStart = false
			continue
		}
		if lineStart && l.bullet() {
			continue
		}
		if l.emphasis() {
			lineStart = false
			continue
		}

		c := l.src[l.pos]
		l.text.WriteByte(c)
		l.pos++
		lineStart = c == '\n'
	}
	l.flush()
}

func (l *lexer) emit(seg Segment) {
	l.flush()
	l.segs = append(l.segs, seg)
}

func (l *lexer) flush() {
	if l.text.Len() == 0 {
		return
	}
	l.segs = append(l.segs, Segment{Kind: SegmentText, Payload: l.text.String()})
	l.text.Reset()
}

// fence consumes a code block whose opening run is n backticks long.
func (l *lexer) fence(n int) {
	start := l.pos + n
	rest := l.src[start:]

	body, lang := start, ""
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// The whole opening line is info text; its first word names the language.
		if info := rest[:nl]; !strings.ContainsRune(info, fenceChar) {
			body = start + nl + 1
			if fields := strings.Fields(info); len(fields) > 0 && langTag.MatchString(fields[0]) {
				lang = fields[0]
			}
		}
	}

	end, closeLen := closingFence(l.src, body, n)
	if end < 0 {
		l.emit(Segment{Kind: SegmentCode, Payload: l.src[body:], Language: lang})
		l.pos = len(l.src)
		return
	}
	l.emit(Segment{Kind: SegmentCode, Payload: l.src[body:end], Language: lang})
	l.pos = end + closeLen
}

// closingFence finds the first backtick run of at least n at or after from.
func closingFence(src string, from, n int) (int, int) {
	for i := from; i < len(src); {
		if src[i] != fenceChar {
			i++
			continue
		}
		k := runLength(src[i:], fenceChar)
		if k >= n {
			return i, k
		}
		i += k
	}
	return -1, 0
}

// bullet consumes a bullet line at the current line start.
func (l *lexer) bullet() bool {
	i := l.pos
	for i < len(l.src) && (l.src[i] == ' ' || l.src[i] == '\t') {
		i++
	}
	var marker string
	for _, m := range bulletMarkers {
		if strings.HasPrefix(l.src[i:], m) {
			marker = m
			break
		}
	}
	if marker == "" {
		return false
	}

	start := i + len(marker)
	end := lineEnd(l.src, start)
	if f := strings.Index(l.src[start:end], "```"); f >= 0 {
		end = start + f
	}

	l.emit(Segment{Kind: SegmentBullet, Payload: strings.TrimSpace(l.src[start:end])})
	l.pos = end
	if l.pos < len(l.src) && l.src[l.pos] == '\n' {
		l.pos++
	}
	return true
}

// emphasis consumes a bold or italic run starting at the current position.
func (l *lexer) emphasis() bool {
	rest := l.src[l.pos:]
	switch {
	case strings.HasPrefix(rest, "**"):
		if inner, ok := l.delimited("**"); ok {
			l.emit(Segment{Kind: SegmentBold, Payload: inner})
			return true
		}
	case rest[0] == '*':
		if inner, ok := l.delimited("*"); ok {
			l.emit(Segment{Kind: SegmentItalic, Payload: inner})
			return true
		}
	case rest[0] == '_':
		if l.pos > 0 && isWordByte(l.src[l.pos-1]) {
			return false
		}
		if inner, ok := l.delimited("_"); ok {
			l.emit(Segment{Kind: SegmentItalic, Payload: inner})
			return true
		}
	}
	return false
}

// delimited matches marker + inner + marker on the current line. Inner
// must be non-empty, must not start or end with a space and must not
// contain a fence. On success the lexer advances past the closing marker.
func (l *lexer) delimited(marker string) (string, bool) {
	start := l.pos + len(marker)
	end := lineEnd(l.src, start)
	line := l.src[start:end]

	from := 0
	for {
		j := strings.Index(line[from:], marker)
		if j < 0 {
			return "", false
		}
		j += from
		inner := line[:j]
		after := start + j + len(marker)

		switch {
		case inner == "", strings.Contains(inner, "```"):
			return "", false
		case inner[0] == ' ' || inner[len(inner)-1] == ' ':
			from = j + len(marker)
			continue
		case marker == "*" && after < len(l.src) && l.src[after] == '*':
			// "*a**" is not a closed italic run.
			from = j + 2
			continue
		case marker == "_" && after < len(l.src) && isWordByte(l.src[after]):
			from = j + 1
			continue
		}

		l.pos = after
		return inner, true
	}
}

func lineEnd(s string, from int) int {
	if i := strings.IndexByte(s[from:], '\n'); i >= 0 {
		return from + i
	}
	return len(s)
}

func runLength(s string, c byte) int {
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	return n
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// TrimCode prepares a code block for insertion into an editor: blank
// lines around the code are dropped, indentation is kept.
func TrimCode(payload string) string {
	lines := strings.Split(payload, "\n")
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}
