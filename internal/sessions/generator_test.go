package sessions

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerator_TokenShape(t *testing.T) {
	gen := NewGenerator(time.Hour)

	tok, exp, err := gen()
	require.NoError(t, err)
	// 64 random bytes, URL-safe base64 without padding
	require.Len(t, tok, 86)
	require.False(t, strings.ContainsAny(tok, "+/="))
	require.WithinDuration(t, time.Now().Add(time.Hour), exp, 2*time.Second)
}

func TestGenerator_Unique(t *testing.T) {
	gen := NewGenerator(time.Hour)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, _, err := gen()
		require.NoError(t, err)
		require.False(t, seen[tok], "duplicate token generated")
		seen[tok] = true
	}
}

func TestGenerator_DefaultTTL(t *testing.T) {
	gen := NewGenerator(0)
	_, exp, err := gen()
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(DefaultRefreshTTL), exp, 2*time.Second)
}
