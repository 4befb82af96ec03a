package resource

import (
	"context"
	"strconv"

	"atrium-hq/atrium/pkg/validate"
)

// NaturalParam validates and parses a natural-number path parameter.
func NaturalParam(ctx context.Context, req *Request, name, message string) (int64, error) {
	rules := validate.RuleSet{
		name: {
			validate.Required("The " + name + " is required."),
			validate.NaturalNumber(message),
		},
	}
	if err := validate.Validate(ctx, req.ParamMap(), rules); err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(req.Param(name), 10, 64)
	if err != nil {
		return 0, NewMalformedRequestError(message)
	}
	return id, nil
}

// PageOffset derives the row offset from an already validated page
// parameter. Page numbering starts at 1; page 0 is treated as page 1.
func PageOffset(query map[string]any) int64 {
	s, ok := query["page"].(string)
	if !ok {
		return 0
	}
	page, err := strconv.ParseInt(s, 10, 64)
	if err != nil || page <= 1 {
		return 0
	}
	return (page - 1) * PageSize
}
