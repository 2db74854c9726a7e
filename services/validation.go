package services

import (
	"chat-presence/domain"
	"chat-presence/errors"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidatePostMessage trims the content and checks the command.
// The returned command is the one to persist.
func ValidatePostMessage(cmd domain.PostMessageCommand) (domain.PostMessageCommand, error) {
	cmd.Content = strings.TrimSpace(cmd.Content)
	if err := validate.Struct(cmd); err != nil {
		return cmd, fmt.Errorf("%w: %s", errors.ErrInvalidPayload, describe(err))
	}
	return cmd, nil
}

func describe(err error) string {
	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return err.Error()
	}
	fields := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		fields = append(fields, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(fields, ", ")
}
