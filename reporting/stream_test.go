package reporting

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamReporter_Writer(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	r := NewStreamReporter(&buf)

	require.NoError(t, r.Emit(ctx, Stat{"event": "ignored"}))
	assert.Zero(t, buf.Len())

	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Emit(ctx, Stat{"event": "a"}))
	require.NoError(t, r.Emit(ctx, Stat{"event": "b"}))
	require.NoError(t, r.Stop(ctx))

	assert.Equal(t, "{\"event\":\"a\"}\n{\"event\":\"b\"}\n", buf.String())
}

func TestStreamReporter_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stats.jsonl")

	for _, event := range []string{"first", "second"} {
		r := NewFileReporter(path)
		require.NoError(t, r.Start(ctx))
		require.NoError(t, r.Emit(ctx, Stat{"event": event}))
		require.NoError(t, r.Stop(ctx))
		require.NoError(t, r.Emit(ctx, Stat{"event": "after stop"}))
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"event":"first"}`, lines[0])
	assert.JSONEq(t, `{"event":"second"}`, lines[1])
}

func TestStreamReporter_FileOpenError(t *testing.T) {
	r := NewFileReporter(filepath.Join(t.TempDir(), "missing", "stats.jsonl"))
	assert.Error(t, r.Start(context.Background()))
	assert.False(t, r.Started())
}
