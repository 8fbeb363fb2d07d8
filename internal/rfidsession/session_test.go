package rfidsession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeUIDPreservesLeadingZeros(t *testing.T) {
	uid, ownerKey, err := NormalizeUID("0009652489")
	require.NoError(t, err)
	require.Equal(t, "0009652489", uid)
	require.Len(t, ownerKey, 16)
}

func TestNormalizeUIDRejectsAllZero(t *testing.T) {
	_, _, err := NormalizeUID("00000000")
	require.ErrorIs(t, err, ErrShortUID)
}

func TestDebounceDropsDuplicateWithinWindow(t *testing.T) {
	m := NewManager(nil, nil)
	now := time.Now()
	require.False(t, m.Debounced("kiosk-1", "uid-1", now))
	require.True(t, m.Debounced("kiosk-1", "uid-1", now.Add(500*time.Millisecond)))
	require.False(t, m.Debounced("kiosk-1", "uid-1", now.Add(2*time.Second)))
}

func TestOpenCancelsPriorSession(t *testing.T) {
	cancelled := ""
	m := NewManager(nil, func(kioskID string) { cancelled = kioskID })
	now := time.Now()
	m.Open("kiosk-1", "uid-a", "key-a", []int{1, 2}, now)
	m.Open("kiosk-1", "uid-b", "key-b", []int{3, 4}, now)
	require.Equal(t, "kiosk-1", cancelled)
}

func TestSweepEvictsExpiredSessions(t *testing.T) {
	var expired []string
	m := NewManager(func(s Session) { expired = append(expired, s.KioskID) }, nil)
	now := time.Now()
	m.Open("kiosk-1", "uid-a", "key-a", nil, now)

	n := m.Sweep(now.Add(21 * time.Second))
	require.Equal(t, 1, n)
	require.Equal(t, []string{"kiosk-1"}, expired)

	_, ok := m.Get("kiosk-1", now.Add(22*time.Second))
	require.False(t, ok)
}
