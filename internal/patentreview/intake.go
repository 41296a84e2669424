package patentreview

import (
	"context"
	"fmt"
	"strings"
)

// Intake turns the raw text of an uploaded disclosure document into a
// ReviewRequest by asking the model to sort the text into the request
// fields.
type Intake struct {
	caller DialogueCaller
}

func NewIntake(caller DialogueCaller) *Intake {
	return &Intake{caller: caller}
}

func (i *Intake) FieldsFromText(ctx context.Context, text string) (ReviewRequest, error) {
	if strings.TrimSpace(text) == "" {
		return ReviewRequest{}, NewError(KindEmptyInput, "document text is empty")
	}
	d := Dialogue{
		{Role: RoleSystem, Content: intakeTemplate},
		{Role: RoleUser, Content: text},
	}
	raw, err := i.caller.Complete(ctx, d)
	if err != nil {
		return ReviewRequest{}, classifyModelError(err)
	}
	result, err := Extract(raw)
	if err != nil {
		return ReviewRequest{}, err
	}
	fields := make(map[string]string, len(result))
	for k, v := range result {
		switch val := v.(type) {
		case string:
			fields[k] = val
		default:
			fields[k] = fmt.Sprint(val)
		}
	}
	return ReviewRequest{Fields: fields}, nil
}
