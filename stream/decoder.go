// Package stream decodes server-sent-event chat streams into content tokens.
//
// The backend emits one frame per line:
//
//	data: <content>
//	data: [DONE]
//
// Frames can arrive split across arbitrary read boundaries. Parser buffers
// raw bytes until a newline is seen, so neither a line nor a multi-byte
// character is ever decoded in halves. Decoder wraps a Parser around an
// io.Reader to expose a pull-style token iterator.
package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// DataPrefix marks a content-bearing line.
	DataPrefix = "data:"

	// DoneSentinel signals the server finished the stream. It is advisory:
	// decoding ends when the reader is exhausted, not when the sentinel is seen.
	DoneSentinel = "[DONE]"

	readChunkSize = 4096
)

// ErrStreamUnavailable is returned when the response body cannot be read at all.
var ErrStreamUnavailable = errors.New("stream unavailable")

// Token is one content fragment in arrival order.
type Token = string

// Parser turns raw chunks into tokens. It is not safe for concurrent use.
type Parser struct {
	buffer  []byte
	sawDone bool
	lines   int
}

// NewParser creates an empty Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends a chunk and returns the tokens of every line completed by it.
func (p *Parser) Feed(chunk []byte) []Token {
	p.buffer = append(p.buffer, chunk...)

	var tokens []Token
	for {
		idx := bytes.IndexByte(p.buffer, '\n')
		if idx == -1 {
			break
		}

		line := string(p.buffer[:idx])
		p.buffer = p.buffer[idx+1:]

		if tok, ok := p.classify(line); ok {
			tokens = append(tokens, tok)
		}
	}

	return tokens
}

// Flush classifies whatever is left in the buffer as a final line.
// Called once the underlying reader is exhausted.
func (p *Parser) Flush() []Token {
	if len(p.buffer) == 0 {
		return nil
	}

	line := string(p.buffer)
	p.buffer = nil

	if tok, ok := p.classify(line); ok {
		return []Token{tok}
	}
	return nil
}

// SawDone reports whether the [DONE] sentinel was seen.
func (p *Parser) SawDone() bool {
	return p.sawDone
}

// Lines returns the number of complete lines classified so far.
func (p *Parser) Lines() int {
	return p.lines
}

func (p *Parser) classify(line string) (Token, bool) {
	p.lines++
	line = strings.TrimRight(line, "\r")

	if !strings.HasPrefix(line, DataPrefix) {
		return "", false
	}

	content := strings.TrimSpace(line[len(DataPrefix):])
	if content == DoneSentinel {
		p.sawDone = true
		return "", false
	}

	return content, true
}

// Decoder reads a stream body and yields tokens one at a time.
//
//	dec, err := stream.NewDecoder(resp.Body)
//	if err != nil {
//	    return err
//	}
//	defer dec.Close()
//	for dec.Next() {
//	    handle(dec.Token())
//	}
//	if err := dec.Err(); err != nil {
//	    return err
//	}
type Decoder struct {
	r       io.Reader
	parser  *Parser
	pending []Token
	current Token
	buf     []byte
	err     error
	eof     bool
	closed  bool
}

// NewDecoder wraps r. A nil reader fails with ErrStreamUnavailable before any
// token is produced.
func NewDecoder(r io.Reader) (*Decoder, error) {
	if r == nil {
		return nil, ErrStreamUnavailable
	}
	return &Decoder{
		r:      r,
		parser: NewParser(),
		buf:    make([]byte, readChunkSize),
	}, nil
}

// Next advances to the next token. It returns false when the stream is
// exhausted or a read error occurred; check Err afterwards.
func (d *Decoder) Next() bool {
	for len(d.pending) == 0 {
		if d.eof || d.err != nil {
			return false
		}
		d.fill()
	}

	d.current = d.pending[0]
	d.pending = d.pending[1:]
	return true
}

// Token returns the token produced by the last successful Next.
func (d *Decoder) Token() Token {
	return d.current
}

// Err returns the first non-EOF read error. A failure before the first line
// arrived wraps ErrStreamUnavailable.
func (d *Decoder) Err() error {
	return d.err
}

// SawDone reports whether the server sent the [DONE] sentinel.
func (d *Decoder) SawDone() bool {
	return d.parser.SawDone()
}

// Close releases the underlying reader if it is closable. Safe to call twice.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if c, ok := d.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (d *Decoder) fill() {
	n, err := d.r.Read(d.buf)
	if n > 0 {
		d.pending = append(d.pending, d.parser.Feed(d.buf[:n])...)
	}

	switch {
	case err == io.EOF:
		d.eof = true
		d.pending = append(d.pending, d.parser.Flush()...)
	case err != nil && d.parser.Lines() == 0 && len(d.pending) == 0:
		d.err = fmt.Errorf("%w: %v", ErrStreamUnavailable, err)
	case err != nil:
		d.err = err
	}
}
