package patentreview

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	ReportNameReview     = "Registrability Assessment Report"
	ReportNameComparison = "Specification Review Report"
)

type SimilarPatent struct {
	ID           string `json:"id"`
	Registration string `json:"registration"`
	Name         string `json:"name"`
	Analysis     string `json:"analysis"`
}

// ReportFields is the flat field set the external renderer consumes.
type ReportFields struct {
	ReportName     string          `json:"report_name"`
	Title          string          `json:"title"`
	Organization   string          `json:"organization"`
	SubmittedDate  string          `json:"submitted_date"`
	ReportDate     string          `json:"report_date"`
	Summary        string          `json:"summary"`
	Verdict        string          `json:"verdict"`
	SimilarPatents []SimilarPatent `json:"similar_patents"`
	Opinion        string          `json:"opinion"`
	Conclusion     string          `json:"conclusion"`
	Guidance       string          `json:"guidance"`
	Claims         string          `json:"claims"`
	Disclaimer     string          `json:"disclaimer"`
}

// ProjectReview maps a completed review's merged structured result onto
// report fields. Pure: the report date comes from the caller. Missing
// required result keys fail with incomplete_result; the projector never
// papers over them with blank strings.
func ProjectReview(req ReviewRequest, result StructuredResult, now time.Time) (ReportFields, error) {
	verdict, err := stringField(result, "verdict")
	if err != nil {
		return ReportFields{}, err
	}
	conclusion, err := stringField(result, "conclusion")
	if err != nil {
		return ReportFields{}, err
	}
	guidance, err := stringField(result, "guidance")
	if err != nil {
		return ReportFields{}, err
	}
	similar, err := similarPatents(result)
	if err != nil {
		return ReportFields{}, err
	}
	// opinion is advisory prose on top of the structured verdict; absent is fine.
	opinion, _ := stringField(result, "opinion")

	return ReportFields{
		ReportName:     ReportNameReview,
		Title:          req.Title(),
		Organization:   req.Organization(),
		SubmittedDate:  req.SubmittedDate(),
		ReportDate:     now.Format("January 2, 2006"),
		Summary:        req.Description(),
		Verdict:        verdict,
		SimilarPatents: similar,
		Opinion:        opinion,
		Conclusion:     conclusion,
		Guidance:       guidance,
		Disclaimer:     Disclaimer,
	}, nil
}

// ProjectComparison maps a comparative review's result onto report fields.
func ProjectComparison(result StructuredResult, now time.Time) (ReportFields, error) {
	claims, err := stringField(result, "claims")
	if err != nil {
		return ReportFields{}, err
	}
	conclusion, err := stringField(result, "conclusion")
	if err != nil {
		return ReportFields{}, err
	}
	return ReportFields{
		ReportName: ReportNameComparison,
		ReportDate: now.Format("January 2, 2006"),
		Claims:     claims,
		Conclusion: conclusion,
		Disclaimer: Disclaimer,
	}, nil
}

func stringField(result StructuredResult, key string) (string, error) {
	v, ok := result[key]
	if !ok {
		return "", NewError(KindIncompleteResult, fmt.Sprintf("result missing required field %q", key))
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case nil:
		return "", NewError(KindIncompleteResult, fmt.Sprintf("result field %q is null", key))
	default:
		// Models occasionally nest where a string was asked for; keep the
		// content rather than failing the whole report.
		blob, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			return "", NewError(KindIncompleteResult, fmt.Sprintf("result field %q is not renderable", key))
		}
		return string(blob), nil
	}
}

func similarPatents(result StructuredResult) ([]SimilarPatent, error) {
	v, ok := result["similar_patents"]
	if !ok {
		return nil, NewError(KindIncompleteResult, `result missing required field "similar_patents"`)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, NewError(KindIncompleteResult, `result field "similar_patents" is not a list`)
	}
	out := make([]SimilarPatent, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, SimilarPatent{
			ID:           stringValue(m["id"]),
			Registration: stringValue(m["registration"]),
			Name:         stringValue(m["name"]),
			Analysis:     stringValue(m["analysis"]),
		})
	}
	return out, nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
