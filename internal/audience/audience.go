// Package audience resolves, fills and derives Custom Audiences on the Ads API.
package audience

import (
	"context"
	"errors"
	"fmt"

	"audience-sync/internal/meta"
)

// Subtype of a remote audience.
type Subtype string

const (
	SubtypeCustom    Subtype = "CUSTOM"
	SubtypeLookalike Subtype = "LOOKALIKE"
)

// Origin records how an audience ID was obtained.
type Origin string

const (
	OriginResolved Origin = "resolved"
	OriginCreated  Origin = "created"
)

// Audience is a remote audience as seen by the pipeline.
type Audience struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Subtype          Subtype `json:"subtype"`
	SourceAudienceID string  `json:"source_audience_id,omitempty"`
	CreatedVia       Origin  `json:"created_via"`
	FromCache        bool    `json:"from_cache"`
}

// AudienceAPI is the slice of the Ads API the Resolver needs.
type AudienceAPI interface {
	ListCustomAudiences(ctx context.Context) ([]meta.CustomAudience, error)
	CreateCustomAudience(ctx context.Context, req meta.CreateAudienceRequest) (string, error)
}

// UsersAPI uploads hashed identifiers into an audience.
type UsersAPI interface {
	AddUsers(ctx context.Context, audienceID string, hashes []string) (*meta.UsersResponse, error)
}

// LookalikeAPI creates derived audiences.
type LookalikeAPI interface {
	CreateLookalike(ctx context.Context, name, originID string, spec meta.LookalikeSpec) (string, error)
}

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError rejects input before any remote call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
