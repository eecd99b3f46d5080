package graphql

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.uber.org/zap"

	apperrors "github.com/charlesng35/studyhub/pkg/errors"
	"github.com/charlesng35/studyhub/pkg/logger"
)

// ToGQLError converts err into a GraphQL error at path. AppErrors keep their code and
// caller facing message; anything else becomes an opaque internal error.
func ToGQLError(err error, path ast.Path) *gqlerror.Error {
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		cp := *gqlErr
		if cp.Path == nil {
			cp.Path = path
		}
		return &cp
	}

	appErr := apperrors.FromError(err)
	if appErr.Code == apperrors.ErrInternalServer.Code {
		logger.WithModule("graphql").Error("resolver failed",
			zap.String("path", path.String()),
			zap.Error(err))
	}

	return &gqlerror.Error{
		Message:    appErr.Message,
		Path:       path,
		Extensions: map[string]any{"code": appErr.Code},
	}
}

// ErrorCode returns extensions.code of err, or "" when absent.
func ErrorCode(err *gqlerror.Error) string {
	if err == nil || err.Extensions == nil {
		return ""
	}
	code, _ := err.Extensions["code"].(string)
	return code
}

func codedError(code, format string, args ...any) *gqlerror.Error {
	return &gqlerror.Error{
		Message:    fmt.Sprintf(format, args...),
		Extensions: map[string]any{"code": code},
	}
}

// fieldError is what resolvers hand back to graphql-go. Its extensions survive into
// the formatted error, so the code reaches the caller.
type fieldError struct {
	message    string
	extensions map[string]any
}

func (e *fieldError) Error() string { return e.message }

// Extensions implements gqlerrors.ExtendedError.
func (e *fieldError) Extensions() map[string]any {
	out := make(map[string]any, len(e.extensions))
	for k, v := range e.extensions {
		out[k] = v
	}
	return out
}

func resolverError(err error, path ast.Path) error {
	gqlErr := ToGQLError(err, path)
	return &fieldError{message: gqlErr.Message, extensions: gqlErr.Extensions}
}
