package validate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/agrisense-api/internal/domain"
	"github.com/go-playground/validator/v10"
)

// v is the package-level singleton validator. It is initialised once at
// package load time. Any custom type registrations must be made in
// newValidator before the first call to Struct.
var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	if err := val.RegisterValidation("maxbytes", maxBytes); err != nil {
		panic(err)
	}
	return val
}

// maxBytes limits the encoded length of a string. bcrypt rejects input
// longer than 72 bytes regardless of how many characters it holds.
func maxBytes(fl validator.FieldLevel) bool {
	n, err := strconv.Atoi(fl.Param())
	if err != nil {
		panic(fmt.Sprintf("maxbytes: bad parameter %q", fl.Param()))
	}
	return len(fl.Field().String()) <= n
}

// Struct validates the given struct using its validate tags.
// Failures are wrapped with domain.ErrValidation and carry a readable message.
func Struct(s interface{}) error {
	if err := v.Struct(s); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return err
		}
		msgs := make([]string, 0, len(ve))
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%s: %w", strings.Join(msgs, "; "), domain.ErrValidation)
	}
	return nil
}
