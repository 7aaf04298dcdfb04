package door

import (
	"regexp"
	"strconv"
)

// Merge folds the candidates from one extraction pass into the canonical
// list. Candidates arrive locally numbered 1..n relative to their own
// pass; each is renumbered to continue the canonical sequence, and any
// "Door #<local>" reference inside its text is rewritten to the assigned
// number. Candidates are appended in pass order, so door numbers stay
// unique and strictly increasing. Merging an empty candidate list returns
// the canonical list unchanged.
//
// Candidates are never deduplicated against earlier passes: re-extracting
// the same recording appends a second copy of its doors.
func Merge(canonical, candidates []Record) []Record {
	if len(candidates) == 0 {
		return canonical
	}

	next := 1
	for _, r := range canonical {
		if r.DoorNumber >= next {
			next = r.DoorNumber + 1
		}
	}

	merged := make([]Record, len(canonical), len(canonical)+len(candidates))
	copy(merged, canonical)

	for i, c := range candidates {
		local := c.DoorNumber
		if local <= 0 {
			local = i + 1
		}

		rec := c.Clone()
		rec.DoorNumber = next + i
		rec.Description = rewriteDoorRef(rec.Description, local, rec.DoorNumber)
		for j, d := range rec.Details {
			rec.Details[j] = rewriteDoorRef(d, local, rec.DoorNumber)
		}
		if rec.ID == "" {
			rec.ID = NewID()
		}
		merged = append(merged, rec)
	}
	return merged
}

// rewriteDoorRef replaces every "Door #<old>" token in s with the new
// number. The trailing boundary keeps "Door #1" from matching "Door #10".
// Nothing else in the text is interpreted.
func rewriteDoorRef(s string, old, new int) string {
	if old == new {
		return s
	}
	re := regexp.MustCompile(`Door #` + strconv.Itoa(old) + `\b`)
	return re.ReplaceAllString(s, "Door #"+strconv.Itoa(new))
}
