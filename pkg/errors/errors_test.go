package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIncludesInternal(t *testing.T) {
	err := ErrInternalServer.WithInternal(stdErrors.New("broker down"))
	require.Equal(t, "Internal server error: broker down", err.Error())
	require.Equal(t, "Internal server error", ErrInternalServer.Error())
	require.Nil(t, ErrInternalServer.Internal, "sentinel must not be mutated")
}

func TestWithMessageCopies(t *testing.T) {
	err := ErrForbidden.WithMessage("Admin console access required")
	require.Equal(t, "Admin console access required", err.Message)
	require.Equal(t, http.StatusForbidden, err.StatusCode)
	require.Equal(t, "Permission denied", ErrForbidden.Message)
}

func TestFromError(t *testing.T) {
	require.Nil(t, FromError(nil))

	notFound := NewNotFound("Chat")
	require.Same(t, notFound, FromError(fmt.Errorf("chat service: %w", notFound)))

	generic := FromError(stdErrors.New("disk full"))
	require.Equal(t, ErrInternalServer.Code, generic.Code)
	require.EqualError(t, generic.Unwrap(), "disk full")
}

func TestNewBadRequest(t *testing.T) {
	err := NewBadRequest("content is required")
	require.Equal(t, "BAD_REQUEST", err.Code)
	require.Equal(t, http.StatusBadRequest, err.StatusCode)
	require.Equal(t, "content is required", err.Message)
}

func TestIsMatchesCopiesByCode(t *testing.T) {
	wrapped := fmt.Errorf("chat service: %w", NewNotFound("Chat"))
	require.ErrorIs(t, wrapped, ErrNotFound)
	require.NotErrorIs(t, wrapped, ErrForbidden)

	require.ErrorIs(t, Wrap(stdErrors.New("timeout"), "publish failed"), ErrInternalServer)
}
