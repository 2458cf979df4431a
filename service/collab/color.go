package collab

import "hash/fnv"

// palette of cursor colors handed out to users. Assignment is a pure
// hash of the user id so every node computes the same color without
// any shared allocation state.
var palette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
	"#008080", "#e6beff", "#9a6324", "#800000", "#aaffc3",
	"#808000",
}

// UserColor returns the deterministic display color for a user.
func UserColor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}
