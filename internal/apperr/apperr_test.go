package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBody(t *testing.T) {
	e := ExternalServer("https://other.example/olp")
	assert.Equal(t, http.StatusConflict, e.Status)
	assert.Equal(t, map[string]any{
		"error":             CodeExternalServer,
		"error_description": "license tokens are issued by an external server",
		"server_url":        "https://other.example/olp",
	}, e.Body())

	assert.Equal(t, map[string]any{"error": CodeNotFound}, New(404, CodeNotFound, "").Body())
}

func TestWithCopies(t *testing.T) {
	base := PaymentRequired("pay first")
	derived := base.WithHeader("Retry-After", "5").WithData("order", "o1")
	assert.Empty(t, base.Headers)
	assert.Empty(t, base.Data)
	assert.Equal(t, "5", derived.Headers["Retry-After"])
	assert.Equal(t, "o1", derived.Data["order"])
}

func TestAsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("issue: %w", InvalidClient("nope"))
	ae, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, ae.Status)
	assert.True(t, HasCode(err, CodeInvalidClient))
	assert.False(t, HasCode(errors.New("plain"), CodeInvalidClient))
	assert.Equal(t, "invalid_client: nope", ae.Error())
}
