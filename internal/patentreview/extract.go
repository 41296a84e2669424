package patentreview

import (
	"encoding/json"
	"strings"
)

// Extract recovers the structured payload from a raw model reply. Replies
// are sometimes wrapped in a markdown code fence with an optional language
// tag and sometimes arrive as bare JSON; both forms parse to the same
// result. Extract never retries; retry policy belongs to the orchestrator.
func Extract(raw string) (StructuredResult, error) {
	clean := stripCodeFence(raw)
	if clean == "" {
		return nil, &Error{Kind: KindMalformedResponse, Message: "empty model reply", Raw: raw}
	}
	var out StructuredResult
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Message: "model reply is not valid JSON", Raw: raw, Err: err}
	}
	return out, nil
}

// stripCodeFence removes a leading ``` fence line (with any language tag)
// and the trailing ``` delimiter. Input without a fence passes through
// untouched.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// requireKeys verifies that every listed key is present in the result.
// A stage whose reply parses but lacks its schema keys failed to follow
// the stage instructions, which is a malformed response, not an upstream
// outage.
func requireKeys(result StructuredResult, keys []string) error {
	for _, k := range keys {
		if _, ok := result[k]; !ok {
			return NewError(KindMalformedResponse, "model reply missing required key "+k)
		}
	}
	return nil
}
