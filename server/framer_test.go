package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramerSplitChunks(t *testing.T) {
	f := framer{}

	lines, err := f.feed([]byte("PI"))
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Equal(t, 2, f.pending())

	lines, err = f.feed([]byte("NG\nGET_GROUP\tte"))
	require.NoError(t, err)
	assert.Equal(t, []string{"PING"}, lines)

	lines, err = f.feed([]byte("am\r\n\nQUIT\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"GET_GROUP\tteam", "", "QUIT"}, lines)
	assert.Zero(t, f.pending())
}

func TestFramerOnlyOneCR(t *testing.T) {
	f := framer{}
	lines, err := f.feed([]byte("a\r\r\nb\rc\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a\r", "b\rc"}, lines)
}

func TestFramerLineTooLong(t *testing.T) {
	f := framer{max: 8}

	lines, err := f.feed([]byte("PING\n12345678"))
	require.NoError(t, err)
	assert.Equal(t, []string{"PING"}, lines)

	lines, err = f.feed([]byte("9"))
	assert.ErrorIs(t, err, errLineTooLong)
	assert.Empty(t, lines)

	// a complete line over the limit is rejected too, after the lines before it.
	f = framer{max: 8}
	lines, err = f.feed([]byte("PING\n123456789\nPING\n"))
	assert.ErrorIs(t, err, errLineTooLong)
	assert.Equal(t, []string{"PING"}, lines)
}

func TestFramerUnbounded(t *testing.T) {
	f := framer{}
	big := make([]byte, 1<<20)
	for i := range big {
		big[i] = 'x'
	}
	_, err := f.feed(big)
	require.NoError(t, err)
	lines, err := f.feed([]byte("\n"))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Len(t, lines[0], 1<<20)
}
