// Package jsonl writes detection results as JSON lines.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	bdio "github.com/hed1ad/bdistml/pkg/io"
)

var _ bdio.Writer = (*Writer)(nil)

// Writer encodes one Result per line.
type Writer struct {
	buf    *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
}

// NewWriter creates a Writer on w. If w is an io.Closer it is closed by
// Close.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	jw := &Writer{
		buf: buf,
		enc: json.NewEncoder(buf),
	}
	if c, ok := w.(io.Closer); ok {
		jw.closer = c
	}
	return jw
}

// Write outputs a single result.
func (w *Writer) Write(result bdio.Result) error {
	if err := w.enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

// WriteAll outputs multiple results.
func (w *Writer) WriteAll(results []bdio.Result) error {
	for _, r := range results {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return w.buf.Flush()
}

// Flush writes buffered results to the underlying writer.
func (w *Writer) Flush() error {
	return w.buf.Flush()
}

// Close flushes and closes the underlying writer.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
