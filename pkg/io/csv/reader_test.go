package csv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "features.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRead(t *testing.T) {
	tests := []struct {
		name    string
		content string
		opts    []Option
		want    [][]float64
		wantErr bool
	}{
		{
			name:    "with header",
			content: "a,b\n1,2\n3.5,-4\n",
			want:    [][]float64{{1, 2}, {3.5, -4}},
		},
		{
			name:    "without header",
			content: "1,2\n3,4\n",
			opts:    []Option{WithHeader(false)},
			want:    [][]float64{{1, 2}, {3, 4}},
		},
		{
			name:    "semicolon delimiter",
			content: "1;2\n3;4\n",
			opts:    []Option{WithHeader(false), WithComma(';')},
			want:    [][]float64{{1, 2}, {3, 4}},
		},
		{
			name:    "non numeric value",
			content: "a,b\n1,x\n",
			wantErr: true,
		},
		{
			name:    "ragged row",
			content: "a,b\n1,2\n3\n",
			wantErr: true,
		},
		{
			name:    "skip malformed rows",
			content: "a,b\n1,2\n1,x\n3\n5,6\n",
			opts:    []Option{WithSkipMalformed(true)},
			want:    [][]float64{{1, 2}, {5, 6}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReader(writeCSV(t, tt.content), tt.opts...)
			require.NoError(t, err)
			defer r.Close()

			got, err := r.Read()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedRow)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeaders(t *testing.T) {
	r, err := NewReader(writeCSV(t, "x,y,z\n1,2,3\n"))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"x", "y", "z"}, r.Headers())
}

func TestStream(t *testing.T) {
	r, err := NewReader(writeCSV(t, "a,b\n1,2\n3,4\n5,6\n"))
	require.NoError(t, err)
	defer r.Close()

	ch, err := r.Stream(context.Background())
	require.NoError(t, err)

	var got [][]float64
	for row := range ch {
		got = append(got, row)
	}
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}, {5, 6}}, got)
}

func TestNewReaderMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}
