package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/paygate/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	_ = validate.RegisterValidation("evmaddr", validateAddressTag)
	_ = validate.RegisterValidation("txhash", validateTxHashTag)
}

// ValidateStruct runs the struct tags of v, including the custom evmaddr
// and txhash tags.
func ValidateStruct(v any) error {
	return validate.Struct(v)
}

// DecodeJSON reads at most maxBytes of JSON from r into v and validates it.
// Unknown fields are ignored. Every failure is an invalid_request error.
func DecodeJSON(r io.Reader, v any, maxBytes int64) error {
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return invalidRequest(err, "failed to read request body")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return invalidRequest(nil, "request body exceeds %d bytes", maxBytes)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return invalidRequest(nil, "request body is empty")
	}

	if err := json.Unmarshal(data, v); err != nil {
		return invalidRequest(err, "request body is not valid JSON")
	}

	if err := validate.Struct(v); err != nil {
		return invalidRequest(err, "%s", describeValidation(err))
	}
	return nil
}

func invalidRequest(err error, format string, args ...any) error {
	return types.NewPaymentError(types.ErrInvalidPayload, types.ReasonInvalidRequest, err, format, args...)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func validateAddressTag(fl validator.FieldLevel) bool {
	return ValidateAddress(fl.Field().String()) == nil
}

func validateTxHashTag(fl validator.FieldLevel) bool {
	_, err := ValidateTransactionHash(fl.Field().String())
	return err == nil
}
