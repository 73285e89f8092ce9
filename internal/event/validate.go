package event

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/dinder/session-server-go/internal/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a decoded client command against its struct tags. The
// first failing field is reported.
func Validate(cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperrors.InvalidInput(lowerFirst(fe.Field()), fmt.Sprintf("failed %q validation", fe.Tag()))
	}
	return apperrors.ValidationError(err.Error())
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
