// Package generator talks to the remote infographic generation service.
package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/yangwenmai/infographer/internal/model"
)

// Generator abstracts the remote generation call. Implementations may block
// for as long as the service takes.
type Generator interface {
	Generate(ctx context.Context, address string, cred *model.Credential) (*Result, error)
}

// Result is a successful reply. ImageURL is empty when the service answered
// without an artifact reference.
type Result struct {
	ImageURL string `json:"image_url"`
}

// ErrUnauthorized reports that the service rejected the credential.
var ErrUnauthorized = errors.New("generator: credential rejected")

// StatusError is a non-success HTTP reply other than an auth rejection.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Backend error: %d %s", e.Code, e.Body)
}
