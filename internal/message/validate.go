package message

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json field names so errors match what clients sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the semantic rules of m. It has no side effects.
//
// Connect needs a non-empty username. SendText needs non-empty text and a
// sender; a missing sender is reported with CodeUnauthorized since the
// message cannot be attributed to anyone. TextDelivered needs non-empty
// text. Every other kind only needs its payload to match.
func Validate(m Message) error {
	if !m.Kind.Valid() {
		return &ValidationError{Kind: m.Kind, Field: "kind", Reason: "unknown kind", Code: CodeInvalidMessage}
	}
	if m.Payload == nil || !matches(m.Kind, m.Payload) {
		return &ValidationError{Kind: m.Kind, Field: "payload", Reason: "payload does not match kind", Code: CodeInvalidMessage}
	}

	switch p := m.Payload.(type) {
	case ConnectPayload:
		return structError(m.Kind, p)
	case TextPayload:
		if err := structError(m.Kind, p); err != nil {
			return err
		}
		if m.Kind == KindSendText && !m.HasSender() {
			return &ValidationError{Kind: m.Kind, Field: "sender", Reason: "is required", Code: CodeUnauthorized}
		}
	case EmptyPayload, UsersPayload, ErrorPayload:
	}
	return nil
}

func structError(kind Kind, payload any) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{Kind: kind, Field: fe.Field(), Reason: describe(fe), Code: CodeInvalidMessage}
	}
	return &ValidationError{Kind: kind, Reason: err.Error(), Code: CodeInvalidMessage}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "cannot be empty"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "failed " + fe.Tag() + " check"
}
