package utils

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Type    string `validate:"required,oneof=private group"`
	Content string `validate:"max=5"`
	Email   string `validate:"required,email"`
}

func TestValidationErr(t *testing.T) {
	err := validator.New().Struct(sample{Type: "channel", Content: "too long", Email: "nope"})

	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))

	out := ValidationErr(verrs)
	require.Len(t, out, 3)
	assert.Equal(t, CustomErrorResponse{Field: "Type", Tag: "oneof", Message: "Must be one of: private group."}, out[0])
	assert.Equal(t, "May not be greater than 5.", out[1].Message)
	assert.Equal(t, "Must be a valid email address.", out[2].Message)
}

func TestFieldErr(t *testing.T) {
	out := FieldErr("attachments", "max", "Too many attachments.")
	assert.Equal(t, []CustomErrorResponse{{Field: "attachments", Tag: "max", Message: "Too many attachments."}}, out)
}
