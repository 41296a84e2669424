package patentreview

import (
	"encoding/json"
	"strings"
)

// BuildStageTurns assembles the turns one retrieval stage appends to the
// session dialogue: a system turn made of the stage template followed by
// the serialized metadata of every match, in index order, and, for the
// opening stage only, a user turn carrying the query text. The builder
// iterates over the matches actually returned, never over the TopK the
// stage asked for.
func BuildStageTurns(spec StageSpec, queryText string, matches []Match, includeUser bool) []ConversationTurn {
	var b strings.Builder
	b.WriteString(spec.SystemTemplate)
	for _, m := range matches {
		blob, err := json.Marshal(m.Metadata)
		if err != nil {
			continue
		}
		b.Write(blob)
	}
	turns := []ConversationTurn{{Role: RoleSystem, Content: b.String()}}
	if includeUser {
		turns = append(turns, ConversationTurn{Role: RoleUser, Content: queryText})
	}
	return turns
}

// BuildDirectTurns assembles the two-turn dialogue of a retrieval-free
// stage: the stage template as the system turn and the supplied text as
// the user turn.
func BuildDirectTurns(spec StageSpec, userText string) []ConversationTurn {
	return []ConversationTurn{
		{Role: RoleSystem, Content: spec.SystemTemplate},
		{Role: RoleUser, Content: userText},
	}
}

// FormatComparisonInput lays out the two documents of a comparative review
// as a single user turn.
func FormatComparisonInput(applicationText, targetText string) string {
	var b strings.Builder
	b.WriteString("APPLICATION SPECIFICATION:\n")
	b.WriteString(strings.TrimSpace(applicationText))
	b.WriteString("\n\nTARGET SPECIFICATION:\n")
	b.WriteString(strings.TrimSpace(targetText))
	return b.String()
}
