package wrappers

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderStopsAfterClose(t *testing.T) {
	r := NewReaderWrapper(strings.NewReader("abc"))
	buf := make([]byte, 1)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, r.Close())
	_, err = r.Read(buf)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWriterStopsAfterClose(t *testing.T) {
	var out bytes.Buffer
	w := NewWriterWrapper(&out)
	_, err := io.WriteString(w, "hello")
	require.NoError(t, err)

	require.NoError(t, w.Close())
	_, err = io.WriteString(w, " world")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, "hello", out.String())
}
