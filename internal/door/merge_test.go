package door

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_AppendsAfterHighestNumber(t *testing.T) {
	canonical := []Record{
		{ID: "a", DoorNumber: 1, Description: "Front entry"},
		{ID: "b", DoorNumber: 4, Description: "Side door"}, // gap from a deletion
	}
	candidates := []Record{
		{DoorNumber: 1, Description: "Overhead"},
		{DoorNumber: 2, Description: "Man door"},
	}

	merged := Merge(canonical, candidates)

	require.Len(t, merged, 4)
	assert.Equal(t, 5, merged[2].DoorNumber)
	assert.Equal(t, 6, merged[3].DoorNumber)

	// Strictly increasing in append order.
	for i := 1; i < len(merged); i++ {
		assert.Greater(t, merged[i].DoorNumber, merged[i-1].DoorNumber)
	}
}

func TestMerge_EmptyCandidatesIsNoOp(t *testing.T) {
	canonical := []Record{{ID: "a", DoorNumber: 1, Description: "Front"}}
	merged := Merge(canonical, nil)
	assert.True(t, Equal(canonical, merged))
}

func TestMerge_EmptyCanonicalStartsAtOne(t *testing.T) {
	merged := Merge(nil, []Record{{Description: "Garage"}, {Description: "Shop"}})
	require.Len(t, merged, 2)
	assert.Equal(t, 1, merged[0].DoorNumber)
	assert.Equal(t, 2, merged[1].DoorNumber)
}

func TestMerge_RewritesLocalReferences(t *testing.T) {
	canonical := make([]Record, 6)
	for i := range canonical {
		canonical[i] = Record{ID: NewID(), DoorNumber: i + 1}
	}
	candidates := []Record{{
		DoorNumber:  1,
		Description: "Door #1 steel frame",
		Details:     []string{"Door #1 needs new closer", "keyed alike with Door #1"},
	}}

	merged := Merge(canonical, candidates)

	got := merged[6]
	assert.Equal(t, 7, got.DoorNumber)
	assert.Equal(t, "Door #7 steel frame", got.Description)
	assert.Equal(t, "Door #7 needs new closer", got.Details[0])
	assert.Equal(t, "keyed alike with Door #7", got.Details[1])
	assert.NotContains(t, got.Description, "Door #1")
}

func TestMerge_RewriteIsTokenBounded(t *testing.T) {
	// "Door #1" must not eat the prefix of "Door #10".
	candidates := []Record{{
		DoorNumber:  1,
		Description: "Door #1 pairs with Door #10",
	}}
	merged := Merge([]Record{{ID: "a", DoorNumber: 2}}, candidates)
	assert.Equal(t, "Door #3 pairs with Door #10", merged[1].Description)
}

func TestMerge_LeavesOtherTextAlone(t *testing.T) {
	candidates := []Record{{
		DoorNumber: 1,
		Details:    []string{"HW: closer #1446", "frame 3'0 x 7'0"},
	}}
	merged := Merge(nil, candidates)
	assert.Equal(t, []string{"HW: closer #1446", "frame 3'0 x 7'0"}, merged[0].Details)
}

func TestMerge_AssignsMissingIDs(t *testing.T) {
	merged := Merge(nil, []Record{{Description: "Garage"}, {ID: "keep-me", Description: "Shop"}})
	assert.NotEmpty(t, merged[0].ID)
	assert.Equal(t, "keep-me", merged[1].ID)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	canonical := []Record{{ID: "a", DoorNumber: 1}}
	candidates := []Record{{DoorNumber: 1, Description: "Door #1", Details: []string{"Door #1 notes"}}}

	Merge(canonical, candidates)

	assert.Equal(t, "Door #1", candidates[0].Description)
	assert.Equal(t, "Door #1 notes", candidates[0].Details[0])
	assert.Equal(t, 1, candidates[0].DoorNumber)
}

func TestMerge_RepeatedPassDuplicates(t *testing.T) {
	// Re-extracting the same recording appends a second copy; the engine
	// does not deduplicate across passes.
	pass := []Record{{DoorNumber: 1, Description: "Garage"}}
	once := Merge(nil, pass)
	twice := Merge(once, pass)
	require.Len(t, twice, 2)
	assert.Equal(t, "Garage", twice[0].Description)
	assert.Equal(t, "Garage", twice[1].Description)
	assert.Equal(t, 2, twice[1].DoorNumber)
}

func TestMerge_EndToEndGarageExample(t *testing.T) {
	canonical := []Record{{ID: "a", DoorNumber: 1, Description: "Door #1"}}
	candidates := []Record{{Description: "Door #1 (Garage)"}}

	merged := Merge(canonical, candidates)

	require.Len(t, merged, 2)
	assert.Equal(t, 1, merged[0].DoorNumber)
	assert.Equal(t, "Door #1", merged[0].Description)
	assert.Equal(t, 2, merged[1].DoorNumber)
	assert.Equal(t, "Door #2 (Garage)", merged[1].Description)
}
