// Package account implements the password change form: its typed state,
// validation, the submission runner and the HTTP handlers serving it.
package account

import (
	"errors"
	"net/url"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// Form field names as posted by the page.
const (
	FieldCurrentPassword         = "password"
	FieldNewPassword             = "newPassword"
	FieldNewPasswordConfirmation = "newPassword2"
)

// MsgPasswordsMismatch is attached to the new password field when the two entries differ.
const MsgPasswordsMismatch = "Passwords do not match"

// Form is the state of one password change form.
type Form struct {
	CurrentPassword         string `form:"password" json:"password"`
	NewPassword             string `form:"newPassword" json:"newPassword" validate:"eqfield=NewPasswordConfirmation"`
	NewPasswordConfirmation string `form:"newPassword2" json:"newPassword2"`
}

// FieldErrors maps a form field name to its error message.
type FieldErrors map[string]string

// Has reports whether the field carries an error.
func (e FieldErrors) Has(field string) bool {
	_, ok := e[field]
	return ok
}

var formValidator = newFormValidator()

func newFormValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("form"); name != "" && name != "-" {
			return name
		}
		return fld.Name
	})
	return v
}

// Validate checks the cross-field rules of the form. It has no side effects;
// an empty result means the form may be submitted.
func Validate(f Form) FieldErrors {
	errs := FieldErrors{}
	err := formValidator.Struct(f)
	if err == nil {
		return errs
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs[FieldNewPassword] = err.Error()
		return errs
	}
	for _, fieldErr := range verrs {
		errs[fieldErr.Field()] = messageFor(fieldErr)
	}
	return errs
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "eqfield":
		return MsgPasswordsMismatch
	default:
		return fe.Error()
	}
}

// Set assigns a single field by its posted name and re-runs validation.
// Unknown names leave the form untouched.
func (f *Form) Set(name, value string) FieldErrors {
	switch name {
	case FieldCurrentPassword:
		f.CurrentPassword = value
	case FieldNewPassword:
		f.NewPassword = value
	case FieldNewPasswordConfirmation:
		f.NewPasswordConfirmation = value
	}
	return Validate(*f)
}

// FormFromValues builds a Form from posted values.
func FormFromValues(values url.Values) Form {
	return Form{
		CurrentPassword:         values.Get(FieldCurrentPassword),
		NewPassword:             values.Get(FieldNewPassword),
		NewPasswordConfirmation: values.Get(FieldNewPasswordConfirmation),
	}
}
