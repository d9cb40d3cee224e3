package app

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"buglens/pkg/auth"
)

// RegisterInput is the registration form.
type RegisterInput struct {
	FullName        string `json:"fullName" validate:"required,min=2,max=100"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6,max=100,pwbytes"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

// AnalysisInput is one debugging request.
type AnalysisInput struct {
	Language   string `json:"language" validate:"max=50"`
	ErrorLogs  string `json:"errorLogs" validate:"required,max=50000"`
	SourceCode string `json:"sourceCode" validate:"required,max=100000"`
}

// keyed by "<Field>.<tag>"
var fieldMessages = map[string]string{
	"FullName.required":        "Full name is required",
	"FullName.min":             "Full name must be between 2 and 100 characters",
	"FullName.max":             "Full name must be between 2 and 100 characters",
	"Email.required":           "Email is required",
	"Email.email":              "Invalid email format",
	"Password.required":        "Password is required",
	"Password.min":             "Password must be at least 6 characters",
	"Password.max":             "Password must be at most 100 characters",
	"Password.pwbytes":         "Password must be at most 72 bytes",
	"ConfirmPassword.required": "Please confirm your password",
	"ConfirmPassword.eqfield":  "Passwords do not match",
	"Language.max":             "Language must be at most 50 characters",
	"ErrorLogs.required":       "Error logs cannot be empty",
	"ErrorLogs.max":            "Error logs exceed maximum size of 50000 characters",
	"SourceCode.required":      "Source code cannot be empty",
	"SourceCode.max":           "Source code exceeds maximum size of 100000 characters",
}

func newValidator() (*validator.Validate, error) {
	v := validator.New()
	err := v.RegisterValidation("pwbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= auth.MaxPasswordBytes
	})
	if err != nil {
		return nil, fmt.Errorf("register password validation: %w", err)
	}
	return v, nil
}

func (a *App) check(v any) error {
	err := a.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("%s is invalid", fe.Field())
		}
		problems = append(problems, msg)
	}
	return &ValidationError{Problems: problems}
}
