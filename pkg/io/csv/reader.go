// Package csv reads feature vectors from CSV files, one vector per row.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/hed1ad/bdistml/internal/logging"
)

// ErrMalformedRow reports a row that is not a feature vector of the
// expected dimension.
var ErrMalformedRow = errors.New("malformed row")

// Reader reads feature vectors from CSV files.
type Reader struct {
	file          *os.File
	reader        *csv.Reader
	hasHeader     bool
	skipMalformed bool
	headers       []string

	// dim is fixed by the first accepted row.
	dim  int
	line int
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// WithComma sets the field delimiter.
func WithComma(comma rune) Option {
	return func(r *Reader) {
		r.reader.Comma = comma
	}
}

// WithSkipMalformed drops rows that fail to parse or have the wrong number
// of columns instead of failing the read.
func WithSkipMalformed(skip bool) Option {
	return func(r *Reader) {
		r.skipMalformed = skip
	}
}

// NewReader creates a new CSV reader.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		file:      file,
		reader:    csv.NewReader(file),
		hasHeader: true,
	}
	// Column counts are checked against the first row by the reader itself.
	r.reader.FieldsPerRecord = -1

	for _, opt := range opts {
		opt(r)
	}

	// Read header if present
	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("read header: %w", err)
		}
		r.headers = headers
		r.line++
	}

	return r, nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// Read returns every row as a feature vector, in file order.
func (r *Reader) Read() ([][]float64, error) {
	var data [][]float64

	for {
		row, err := r.next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, ErrMalformedRow) && r.skipMalformed {
			continue
		}
		if err != nil {
			return nil, err
		}
		data = append(data, row)
	}

	return data, nil
}

// Stream returns a channel of rows for real-time processing. The channel is
// closed at end of file, on the first malformed row unless malformed rows
// are skipped, or when ctx is done.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	out := make(chan []float64, 100)
	logger := logging.FromContext(ctx)

	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}

			row, err := r.next()
			if err == io.EOF {
				return
			}
			if err != nil {
				if errors.Is(err, ErrMalformedRow) && r.skipMalformed {
					logger.Debugf("skipping %v", err)
					continue
				}
				logger.Errorf("csv stream stopped: %v", err)
				return
			}

			select {
			case out <- row:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

func (r *Reader) next() ([]float64, error) {
	record, err := r.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	r.line++
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, r.line, err)
		}
		return nil, err
	}

	row, err := parseRow(record)
	if err != nil {
		return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, r.line, err)
	}

	if r.dim == 0 {
		r.dim = len(row)
	} else if len(row) != r.dim {
		return nil, fmt.Errorf("%w: line %d: %d columns, expected %d", ErrMalformedRow, r.line, len(row), r.dim)
	}
	return row, nil
}

// parseRow converts string slice to float slice.
func parseRow(record []string) ([]float64, error) {
	if len(record) == 0 {
		return nil, errors.New("empty row")
	}

	row := make([]float64, len(record))
	for i, val := range record {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, err
		}
		row[i] = f
	}
	return row, nil
}
