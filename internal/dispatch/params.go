package dispatch

import (
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/agentcad/cadcore/internal/errs"
)

var validate = validator.New()

// ParseParams decodes raw into dst and checks its `validate` struct tags,
// translating a missing payload or a failed check into the
// MissingParameter/InvalidParameter codes handlers are expected to return
// (spec.md §6); params that do not decode yield ParseError.
func ParseParams(raw json.RawMessage, dst interface{}) *errs.Kind {
	if len(raw) == 0 {
		return errs.New(errs.MissingParameter, "params object is required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errs.New(errs.ParseError, "invalid params: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return errs.Recoverable(errs.InvalidParameter, fe.Field(), "check the field's accepted range", fe.Tag(), fe.Value(),
				"field %q failed validation %q", fe.Field(), fe.Tag())
		}
		return errs.New(errs.InvalidParameter, "%v", err)
	}
	return nil
}
