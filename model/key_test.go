package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPageKey_Hash verifies that equal keys hash equally and distinct keys do not collide trivially.
func TestPageKey_Hash(t *testing.T) {
	a := NewPageKey("file:users.wt", 4096)
	b := NewPageKey("file:users.wt", 4096)
	c := NewPageKey("file:users.wt", 8192)
	d := NewPageKey("file:orders.wt", 4096)

	require.Equal(t, a.Hash(), b.Hash())
	require.NotEqual(t, a.Hash(), c.Hash())
	require.NotEqual(t, a.Hash(), d.Hash())
}

// TestPageKey_String verifies the human-readable form.
func TestPageKey_String(t *testing.T) {
	require.Equal(t, "file:a.wt@12", NewPageKey("file:a.wt", 12).String())
}
