package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLogVerifyPassesOnUntamperedChain(t *testing.T) {
	l := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Append(now, "group added")
	l.Append(now.Add(time.Second), "entry merged")
	l.Append(now.Add(2*time.Second), "tombstone applied")

	ok, bad := l.Verify()
	require.True(t, ok)
	require.Equal(t, -1, bad)
	require.Len(t, l.Entries(), 3)
}

func TestLogVerifyDetectsEditedEntry(t *testing.T) {
	l := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Append(now, "group added")
	l.Append(now.Add(time.Second), "entry merged")

	l.entries[0].What = "tampered"

	ok, bad := l.Verify()
	require.False(t, ok)
	require.Equal(t, 0, bad)
}
