package deb

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Paragraph is one record of a Debian control file: an ordered list of
// "Key: Value" fields terminated by a blank line.
//
// Values are stored in their canonical form: the first line without the
// "Key: " prefix, continuation lines joined with "\n". A value starting with
// "\n" is a multi-line list whose first line is empty.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#syntax-of-control-files
type Paragraph struct {
	keys   []string
	values map[string]string
}

// NewParagraph returns an empty paragraph.
func NewParagraph() *Paragraph {
	return &Paragraph{values: make(map[string]string)}
}

// Set assigns value to key. A key that is already present keeps its position.
func (p *Paragraph) Set(key, value string) {
	if p.values == nil {
		p.values = make(map[string]string)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value of key and whether it is present.
func (p *Paragraph) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Value returns the value of key, or "" when absent.
func (p *Paragraph) Value(key string) string {
	return p.values[key]
}

// Delete removes key from the paragraph.
func (p *Paragraph) Delete(key string) {
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in writing order.
func (p *Paragraph) Keys() []string {
	return append([]string(nil), p.keys...)
}

// Len returns the number of fields.
func (p *Paragraph) Len() int { return len(p.keys) }

// WriteTo renders the paragraph, without the trailing blank separator line.
// This satisfies the io.WriterTo interface.
func (p *Paragraph) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	for _, k := range p.keys {
		writeField(bw, k, p.values[k])
	}
	err := bw.Flush()
	return cw.n, err
}

// String renders the paragraph.
func (p *Paragraph) String() string {
	var b strings.Builder
	p.WriteTo(&b)
	return b.String()
}

// writeField renders one field. Continuation lines are indented by one space
// when they are not already, and empty continuation lines become " .".
func writeField(w *bufio.Writer, key, value string) {
	lines := strings.Split(value, "\n")
	w.WriteString(key)
	w.WriteByte(':')
	if lines[0] != "" {
		w.WriteByte(' ')
		w.WriteString(lines[0])
	}
	w.WriteByte('\n')
	for _, line := range lines[1:] {
		switch {
		case strings.TrimSpace(line) == "":
			w.WriteString(" .")
		case line[0] == ' ' || line[0] == '\t':
			w.WriteString(line)
		default:
			w.WriteByte(' ')
			w.WriteString(line)
		}
		w.WriteByte('\n')
	}
}

// ParseParagraph parses content holding exactly one paragraph.
func ParseParagraph(content string) (*Paragraph, error) {
	paragraphs, err := ReadParagraphs(strings.NewReader(content))
	if err != nil {
		return nil, err
	}
	switch len(paragraphs) {
	case 0:
		return NewParagraph(), nil
	case 1:
		return paragraphs[0], nil
	default:
		return nil, fmt.Errorf("expected one paragraph, found %d", len(paragraphs))
	}
}

// ReadParagraphs parses every paragraph in r. Paragraphs are separated by
// blank lines and lines starting with '#' are skipped.
func ReadParagraphs(r io.Reader) ([]*Paragraph, error) {
	var (
		res        []*Paragraph
		current    *Paragraph
		currentKey string
		value      strings.Builder
		lineNo     int
	)

	flush := func() {
		if currentKey != "" {
			current.Set(currentKey, value.String())
		}
		currentKey = ""
		value.Reset()
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), " \t\r")
		switch {
		case line == "":
			flush()
			if current != nil && current.Len() > 0 {
				res = append(res, current)
			}
			current = nil
		case line[0] == '#':
			continue
		case line[0] == ' ' || line[0] == '\t':
			if currentKey == "" {
				return nil, fmt.Errorf("line %d: continuation line without a field", lineNo)
			}
			value.WriteString("\n")
			value.WriteString(line)
		default:
			key, val, ok := strings.Cut(line, ":")
			if !ok || strings.TrimSpace(key) == "" {
				return nil, fmt.Errorf("line %d: malformed field %q", lineNo, line)
			}
			flush()
			if current == nil {
				current = NewParagraph()
			}
			currentKey = strings.TrimSpace(key)
			value.WriteString(strings.TrimSpace(val))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	if current != nil && current.Len() > 0 {
		res = append(res, current)
	}
	return res, nil
}

// countingWriter wraps an io.Writer and counts the bytes written.
type countingWriter struct {
	w io.Writer
	n int64
}

// Write writes p to the underlying io.Writer and increments the byte count.
func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
