package signature

import (
	"bytes"
	"strings"
)

// MarkerPos records one delimiter line found in a reply.
type MarkerPos struct {
	Name string
	// Start is the offset of the first byte of the marker line.
	Start int
	// ValueStart is the offset just past the marker's line break.
	ValueStart int
}

// Scanner finds delimiter lines in a growing reply. Each byte is examined
// once: Write only looks at the text appended since the previous call, so
// re-reading the whole buffer after every chunk stays linear.
//
// A marker occupies a line of its own, "[[ ## name ## ]]", with any amount of
// horizontal whitespace around the "##" tokens. It opens a value only once
// its line break has arrived.
type Scanner struct {
	buf       []byte
	lineStart int
	markers   []MarkerPos
}

// NewScanner returns an empty scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Write appends chunk and records every marker line it completes.
func (s *Scanner) Write(chunk string) {
	from := len(s.buf)
	s.buf = append(s.buf, chunk...)

	for {
		nl := bytes.IndexByte(s.buf[from:], '\n')
		if nl < 0 {
			return
		}
		end := from + nl
		if name, ok := matchMarker(string(s.buf[s.lineStart:end])); ok {
			s.markers = append(s.markers, MarkerPos{Name: name, Start: s.lineStart, ValueStart: end + 1})
		}
		s.lineStart = end + 1
		from = end + 1
	}
}

// Markers returns the markers seen on completed lines, in reply order.
func (s *Scanner) Markers() []MarkerPos {
	return append([]MarkerPos(nil), s.markers...)
}

// Text returns the accumulated reply.
func (s *Scanner) Text() string {
	return string(s.buf)
}

// Len returns the number of bytes written so far.
func (s *Scanner) Len() int {
	return len(s.buf)
}

// Raw returns the trimmed raw text of every field that has a marker. When a
// name appears more than once the first marker wins.
//
// With partial set the reply is treated as still growing: an unterminated last
// line that may yet turn into a marker is kept out of the preceding value.
// Without it the reply is complete, and a last line holding a full marker
// closes the preceding value and opens an empty one.
func (s *Scanner) Raw(partial bool) map[string]string {
	markers := s.markers
	end := len(s.buf)
	tail := string(s.buf[s.lineStart:])

	if partial {
		if markerPrefix(tail) {
			end = s.lineStart
		}
	} else if name, ok := matchMarker(tail); ok {
		markers = append(append([]MarkerPos(nil), markers...), MarkerPos{Name: name, Start: s.lineStart, ValueStart: len(s.buf)})
	}

	out := make(map[string]string, len(markers))
	for i, m := range markers {
		if _, seen := out[m.Name]; seen {
			continue
		}
		stop := end
		if i+1 < len(markers) {
			stop = markers[i+1].Start
		}
		if stop < m.ValueStart {
			stop = m.ValueStart
		}
		out[m.Name] = strings.TrimSpace(string(s.buf[m.ValueStart:stop]))
	}
	return out
}

func isHorizontalSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

func trimHorizontal(s string) string {
	return strings.Trim(s, " \t\r")
}

func trimHorizontalLeft(s string) string {
	return strings.TrimLeft(s, " \t")
}

// matchMarker reports whether line is a complete marker line and returns the
// field name it carries.
func matchMarker(line string) (string, bool) {
	line = trimHorizontal(line)
	if !strings.HasPrefix(line, "[[") || !strings.HasSuffix(line, "]]") || len(line) < 4 {
		return "", false
	}
	inner := trimHorizontal(line[2 : len(line)-2])
	if len(inner) < 4 || !strings.HasPrefix(inner, "##") || !strings.HasSuffix(inner, "##") {
		return "", false
	}
	name := trimHorizontal(inner[2 : len(inner)-2])
	if !validMarkerName(name) {
		return "", false
	}
	return name, true
}

func validMarkerName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isHorizontalSpace(c) || c == '#' || c == '[' || c == ']' || c == '\r' || c == '\n' {
			return false
		}
	}
	return true
}

// markerPrefix reports whether an unterminated line could still grow into a
// marker line.
func markerPrefix(line string) bool {
	s := trimHorizontalLeft(line)
	if s == "" {
		return false
	}

	steps := []func(string) (string, bool, bool){
		markerLiteral("[["), markerSpaces, markerLiteral("##"), markerSpaces, markerName,
		markerSpaces, markerLiteral("##"), markerSpaces, markerLiteral("]]"),
	}
	for _, step := range steps {
		rest, exhausted, ok := step(s)
		if !ok {
			return false
		}
		if exhausted {
			return true
		}
		s = rest
	}
	return trimHorizontal(s) == ""
}

// Each step consumes its token from the front of s. exhausted means s ended
// inside or right after the token, so the line is still a viable prefix.
func markerLiteral(lit string) func(string) (string, bool, bool) {
	return func(s string) (string, bool, bool) {
		if strings.HasPrefix(s, lit) {
			return s[len(lit):], len(s) == len(lit), true
		}
		if strings.HasPrefix(lit, s) {
			return "", true, true
		}
		return "", false, false
	}
}

func markerSpaces(s string) (string, bool, bool) {
	rest := trimHorizontalLeft(s)
	return rest, rest == "", true
}

func markerName(s string) (string, bool, bool) {
	i := 0
	for i < len(s) && !isHorizontalSpace(s[i]) && s[i] != '#' {
		if s[i] == '[' || s[i] == ']' || s[i] == '\r' {
			return "", false, false
		}
		i++
	}
	if i == len(s) {
		return "", true, true
	}
	if i == 0 {
		return "", false, false
	}
	return s[i:], false, true
}
