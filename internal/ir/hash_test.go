package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryIDDeterminism(t *testing.T) {
	key := EntryKey{FilePath: "people/ada.json", Phase: PhaseCreate}
	id1, err := EntryID("p1", key)
	require.NoError(t, err)
	id2 := MustEntryID("p1", key)

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestEntryIDChangesWithInput(t *testing.T) {
	base := MustEntryID("p1", EntryKey{FilePath: "a", Phase: PhaseEdit})
	assert.NotEqual(t, base, MustEntryID("p2", EntryKey{FilePath: "a", Phase: PhaseEdit}))
	assert.NotEqual(t, base, MustEntryID("p1", EntryKey{FilePath: "b", Phase: PhaseEdit}))
	assert.NotEqual(t, base, MustEntryID("p1", EntryKey{FilePath: "a", Phase: PhaseBackfill}))
}

func TestHashWithDomainSeparation(t *testing.T) {
	assert.NotEqual(t, hashWithDomain(DomainEntry, []byte("x")), hashWithDomain("syncbook/other/v1", []byte("x")))
}
