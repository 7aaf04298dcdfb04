package door

import (
	"strconv"
	"strings"
)

// Normalize repairs malformed records in place of failing on them:
// missing identifiers are generated, non-positive door numbers fall back
// to position+1, blank descriptions become "Door #<n>", and detail lines
// are trimmed with empties dropped. The input slice is not modified.
//
// Every door list crosses this before a sync request is built, so the
// backend never sees a record it would reject as malformed.
func Normalize(doors []Record) []Record {
	out := make([]Record, 0, len(doors))
	for i, d := range doors {
		rec := d.Clone()
		if rec.DoorNumber <= 0 {
			rec.DoorNumber = i + 1
		}
		if strings.TrimSpace(rec.Description) == "" {
			rec.Description = "Door #" + strconv.Itoa(rec.DoorNumber)
		}
		if rec.ID == "" {
			rec.ID = NewID()
		}
		details := rec.Details[:0]
		for _, line := range rec.Details {
			line = strings.TrimSpace(line)
			if line != "" {
				details = append(details, line)
			}
		}
		if len(details) == 0 {
			rec.Details = nil
		} else {
			rec.Details = details
		}
		out = append(out, rec)
	}
	return out
}
