package ir

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseOrder(t *testing.T) {
	assert.Less(t, PhaseEdit, PhaseCreate)
	assert.Less(t, PhaseCreate, PhaseDelete)
	assert.Less(t, PhaseDelete, PhaseBackfill)
	assert.Equal(t, []Phase{PhaseEdit, PhaseCreate, PhaseDelete, PhaseBackfill}, AllPhases)
}

func TestPhaseText(t *testing.T) {
	for _, p := range AllPhases {
		text, err := p.MarshalText()
		require.NoError(t, err)
		var back Phase
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, p, back)
	}

	_, err := ParsePhase("merge")
	assert.Error(t, err)
	_, err = Phase(9).MarshalText()
	assert.Error(t, err)

	data, err := json.Marshal(PipelineEntry{Phase: PhaseBackfill})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"phase":"backfill"`)
}

func TestSortEntries_PhaseOrderRegardlessOfInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		var entries []PipelineEntry
		for i := 0; i < 20; i++ {
			entries = append(entries, PipelineEntry{
				FilePath: string(rune('a' + i)),
				Phase:    AllPhases[rng.Intn(len(AllPhases))],
			})
		}
		SortEntries(entries)
		for i := 1; i < len(entries); i++ {
			require.LessOrEqual(t, entries[i-1].Phase, entries[i].Phase)
		}
	}
}

func TestSortEntries_StableWithinPhase(t *testing.T) {
	entries := []PipelineEntry{
		{FilePath: "b", Phase: PhaseCreate},
		{FilePath: "x", Phase: PhaseBackfill},
		{FilePath: "a", Phase: PhaseCreate},
		{FilePath: "c", Phase: PhaseEdit},
		{FilePath: "d", Phase: PhaseDelete},
	}
	SortEntries(entries)

	var keys []string
	for _, e := range entries {
		keys = append(keys, e.Key().String())
	}
	assert.Equal(t, []string{"c#edit", "b#create", "a#create", "d#delete", "x#backfill"}, keys)
	assert.Equal(t, AllPhases, PhasesOf(entries))
	assert.Equal(t, []Phase{PhaseCreate}, PhasesOf(entries[1:3]))
}

func TestPipelineStatusTerminal(t *testing.T) {
	assert.False(t, PipelinePlanned.Terminal())
	assert.False(t, PipelineRunning.Terminal())
	assert.True(t, PipelineCompleted.Terminal())
	assert.True(t, PipelineFailed.Terminal())
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "crm/people/ada.json", JoinPath("crm/people", "ada.json"))
	assert.Equal(t, "ada.json", JoinPath("", "ada.json"))
	assert.Equal(t, "crm", JoinPath("crm", ""))
}

func TestJSONFieldNaming(t *testing.T) {
	data, err := json.Marshal(RefIndexEntry{SourceFilePath: "a", TargetFolderPath: "b"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"source_file_path"`)
	assert.Contains(t, string(data), `"target_folder_path"`)
	assert.NotContains(t, string(data), `"sourceFilePath"`)
}
