package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusReserved, StatusPaid, true},
		{StatusReserved, StatusCanceled, true},
		{StatusReserved, StatusDone, false},
		{StatusPaid, StatusDone, true},
		{StatusPaid, StatusCanceled, true},
		{StatusPaid, StatusReserved, false},
		{StatusCanceled, StatusPaid, false},
		{StatusCanceled, StatusReserved, false},
		{StatusDone, StatusCanceled, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusTerminalAndActive(t *testing.T) {
	require.False(t, StatusReserved.IsTerminal())
	require.False(t, StatusPaid.IsTerminal())
	require.True(t, StatusCanceled.IsTerminal())
	require.True(t, StatusDone.IsTerminal())

	require.True(t, StatusReserved.IsActive())
	require.True(t, StatusPaid.IsActive())
	require.False(t, StatusCanceled.IsActive())
	require.False(t, StatusDone.IsActive())

	require.False(t, Status("UNKNOWN").IsValid())
	require.False(t, Status("UNKNOWN").IsTerminal())
}

func TestDisplayStatus(t *testing.T) {
	require.Equal(t, "PENDING", DisplayStatus(StatusReserved, SourceStudent))
	require.Equal(t, "CONFIRMED", DisplayStatus(StatusPaid, SourceStudent))
	require.Equal(t, "CANCELED", DisplayStatus(StatusCanceled, SourceStudent))
	require.Equal(t, "DONE", DisplayStatus(StatusDone, SourceStudent))

	// Teacher blocks render as BLOCKED while they hold the slot and
	// AVAILABLE once the block is lifted.
	require.Equal(t, "BLOCKED", DisplayStatus(StatusReserved, SourceTeacher))
	require.Equal(t, "BLOCKED", DisplayStatus(StatusPaid, SourceTeacher))
	require.Equal(t, "AVAILABLE", DisplayStatus(StatusCanceled, SourceTeacher))
	require.Equal(t, "DONE", DisplayStatus(StatusDone, SourceTeacher))
}

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want Status
		ok   bool
	}{
		{"PENDING", StatusReserved, true},
		{"BLOCKED", StatusReserved, true},
		{"CONFIRMED", StatusPaid, true},
		{"CANCELLED", StatusCanceled, true},
		{"RESERVED", StatusReserved, true},
		{"PAID", StatusPaid, true},
		{"CANCELED", StatusCanceled, true},
		{"DONE", StatusDone, true},
		{"AVAILABLE", StatusCanceled, true},
		{"paid", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeStatus(tc.raw)
		require.Equal(t, tc.ok, ok, "raw %q", tc.raw)
		if tc.ok {
			require.Equal(t, tc.want, got, "raw %q", tc.raw)
		}
	}
}

func TestSlotKeyAt(t *testing.T) {
	// 2026-03-03 is a Tuesday.
	start := time.Date(2026, 3, 3, 9, 30, 0, 0, time.UTC)
	key := SlotKeyAt(7, start)
	require.Equal(t, SlotKey{UnitID: 7, Weekday: time.Tuesday, StartMinute: 9*60 + 30}, key)

	// The same instant in another zone lands on the same key.
	loc := time.FixedZone("UTC-5", -5*3600)
	require.Equal(t, key, SlotKeyAt(7, start.In(loc)))
}
