package patentreview

import (
	"strings"
	"testing"
)

func TestBuildStageTurnsOrderAndRoles(t *testing.T) {
	spec := StageSpec{Name: "tech_review", SystemTemplate: "TEMPLATE\n", TopK: 5}
	matches := []Match{
		{ID: "p1", Score: 0.91, Metadata: map[string]string{"registration": "US111", "name": "First"}},
		{ID: "p2", Score: 0.52, Metadata: map[string]string{"registration": "US222", "name": "Second"}},
	}

	turns := BuildStageTurns(spec, "query text", matches, true)
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != RoleSystem || turns[1].Role != RoleUser {
		t.Fatalf("unexpected roles: %s, %s", turns[0].Role, turns[1].Role)
	}
	if turns[1].Content != "query text" {
		t.Fatalf("unexpected user turn: %q", turns[1].Content)
	}

	system := turns[0].Content
	if !strings.HasPrefix(system, "TEMPLATE\n") {
		t.Fatalf("system turn does not start with the template: %q", system)
	}
	first := strings.Index(system, "US111")
	second := strings.Index(system, "US222")
	if first < 0 || second < 0 {
		t.Fatalf("match metadata missing from system turn: %q", system)
	}
	if first > second {
		t.Fatal("matches serialized out of order")
	}
}

// Fewer matches than TopK must not pad the prompt.
func TestBuildStageTurnsFewerMatchesThanTopK(t *testing.T) {
	spec := StageSpec{Name: "tech_review", SystemTemplate: "T", TopK: 5}
	turns := BuildStageTurns(spec, "q", nil, true)
	if turns[0].Content != "T" {
		t.Fatalf("zero matches should leave the bare template, got %q", turns[0].Content)
	}

	one := []Match{{ID: "p1", Metadata: map[string]string{"name": "Only"}}}
	turns = BuildStageTurns(spec, "q", one, true)
	if strings.Count(turns[0].Content, "Only") != 1 {
		t.Fatalf("expected exactly one metadata blob: %q", turns[0].Content)
	}
}

func TestBuildStageTurnsLaterStageOmitsUserTurn(t *testing.T) {
	spec := StageSpec{Name: "law_review", SystemTemplate: "T"}
	turns := BuildStageTurns(spec, "seed", nil, false)
	if len(turns) != 1 {
		t.Fatalf("expected only the system turn, got %d turns", len(turns))
	}
	if turns[0].Role != RoleSystem {
		t.Fatalf("unexpected role %s", turns[0].Role)
	}
}

func TestBuildDirectTurns(t *testing.T) {
	turns := BuildDirectTurns(StageSpec{SystemTemplate: "SYS"}, "the spec text")
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != RoleSystem || turns[0].Content != "SYS" {
		t.Fatalf("unexpected system turn: %+v", turns[0])
	}
	if turns[1].Role != RoleUser || turns[1].Content != "the spec text" {
		t.Fatalf("unexpected user turn: %+v", turns[1])
	}
}

func TestFormatComparisonInput(t *testing.T) {
	out := FormatComparisonInput("  app text\n", "target text")
	want := "APPLICATION SPECIFICATION:\napp text\n\nTARGET SPECIFICATION:\ntarget text"
	if out != want {
		t.Fatalf("unexpected layout:\n%q\nwant\n%q", out, want)
	}
}

func TestQueryTextDeterministic(t *testing.T) {
	req := ReviewRequest{Fields: map[string]string{
		FieldName: "Widget", FieldDescription: "A widget.", FieldProblem: "Friction.",
	}}
	first := req.QueryText()
	for i := 0; i < 10; i++ {
		if req.QueryText() != first {
			t.Fatal("query text serialization is not deterministic")
		}
	}
	if !strings.Contains(first, "Widget") {
		t.Fatalf("query text missing field content: %q", first)
	}
}
