package model

import (
	"context"
	"errors"
	"fmt"
)

// RequestContext carries the authenticated caller and tracing information for
// the lifetime of a request. It is immutable after construction and safe for
// concurrent reads.
type RequestContext struct {
	UserID        string
	Email         string
	Role          Role
	CorrelationID string
	TraceID       string
}

// Validate checks that all mandatory fields are present.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.UserID == "" {
		errs = append(errs, fmt.Errorf("UserID is required"))
	}
	if !rc.Role.Valid() {
		errs = append(errs, fmt.Errorf("role %q is not recognised", rc.Role))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HasRole returns true if the caller holds one of the given roles.
func (rc *RequestContext) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if rc.Role == r {
			return true
		}
	}
	return false
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext extracts the RequestContext from the context, panicking if
// it is not present. Only call it from handlers mounted behind Authenticate.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: RequestContext not found in context")
	}
	return rctx
}
