package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReservedNames_NoDuplicates(t *testing.T) {
	names := ReservedNames()
	seen := make(map[string]bool)
	for _, n := range names {
		assert.False(t, seen[n], "duplicate reserved name %q", n)
		seen[n] = true
	}
	assert.Len(t, names, 7)
	for _, n := range names {
		assert.True(t, IsReserved(n))
	}
	assert.False(t, IsReserved("name"))
	assert.False(t, IsReserved("_deleted"))
}

func TestCheckReserved(t *testing.T) {
	content := map[string]any{
		"name":    "Ada",
		"__dirty": true,
		"address": map[string]any{
			"__metadata": "x",
			"city":       "London",
		},
		"tags": []any{map[string]any{"__seen": 1}},
	}
	assert.Equal(t, []string{"__dirty", "address.__metadata", "tags.__seen"}, CheckReserved(content))
	assert.Empty(t, CheckReserved(map[string]any{"name": "Ada"}))
}

func TestRenameReserved(t *testing.T) {
	content := map[string]any{
		"name":           "Ada",
		"__created":      "yesterday",
		"user___created": "taken",
		"nested":         map[string]any{"__dirty": true},
	}
	out, renamed := RenameReserved(content)

	assert.Equal(t, []string{"__created", "nested.__dirty"}, renamed)
	assert.Equal(t, map[string]any{
		"name":                "Ada",
		"user___created":      "taken",
		"user_user___created": "yesterday",
		"nested":              map[string]any{"user___dirty": true},
	}, out)
	assert.Empty(t, CheckReserved(out))
	assert.Contains(t, content, "__created", "input is not modified")
}

func TestProvisionalIDs(t *testing.T) {
	assert.Equal(t, "new_abc", NewID("abc"))
	assert.Equal(t, "del_rec1", DeletedID("rec1"))
	assert.Equal(t, "del_abc", DeletedID(NewID("abc")))
	assert.True(t, IsNewID("new_x"))
	assert.False(t, IsNewID("x"))
	assert.True(t, IsDeletedID("del_x"))
	assert.Equal(t, "x", StripProvisional("del_new_x"))
}
