package jsonl

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bdio "github.com/hed1ad/bdistml/pkg/io"
)

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	results := []bdio.Result{
		{Timestamp: 1, Index: 0, Score: 0.5},
		{Timestamp: 2, Index: 1, Score: 9.25, IsAnomaly: true},
	}
	require.NoError(t, w.WriteAll(results))
	require.NoError(t, w.Write(bdio.Result{Index: 2, Score: 1}))
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var got bdio.Result
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
	assert.Equal(t, results[1], got)
	assert.Contains(t, lines[1], `"is_anomaly":true`)
}
