package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Charitha2009/chronicle/internal/domain"
)

// Permissions checked before mutating a campaign.
const (
	PermCampaignHost   = "campaign.host"
	PermCharacterOwner = "character.owner"
)

// SystemActor is the identity used by supervisory processes such as the
// stalled-start recovery sweep. It bypasses host checks, so no caller
// identity may carry it; see Reserved.
const SystemActor = "system"

var (
	// ErrUnauthenticated is returned when an operation needs a verified identity.
	ErrUnauthenticated = errors.New("authenticated user required")
	// ErrReservedIdentity is returned when a caller presents the system actor's id.
	ErrReservedIdentity = errors.New("user id is reserved for supervisory processes")
)

// Reserved reports whether userID names the system actor. Identity
// boundaries (token validation, token signing, dev headers) refuse it.
func Reserved(userID string) bool {
	return strings.EqualFold(strings.TrimSpace(userID), SystemActor)
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
	Resource   string
}

func (e ForbiddenError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("permission %s required", e.Permission)
	}
	return fmt.Sprintf("permission %s required on %s", e.Permission, e.Resource)
}

func RequireActor(actorID string) error {
	if actorID == "" {
		return ErrUnauthenticated
	}
	return nil
}

// RequireHost allows the campaign host and the system actor.
func RequireHost(c domain.Campaign, actorID string) error {
	if err := RequireActor(actorID); err != nil {
		return err
	}
	if actorID == SystemActor || actorID == c.HostUserID {
		return nil
	}
	return ForbiddenError{Permission: PermCampaignHost, Resource: "campaign " + c.Code}
}

// RequireOwner allows only the user who claimed the character.
func RequireOwner(ch domain.Character, actorID string) error {
	if err := RequireActor(actorID); err != nil {
		return err
	}
	if actorID == ch.UserID {
		return nil
	}
	return ForbiddenError{Permission: PermCharacterOwner, Resource: fmt.Sprintf("character %d", ch.ID)}
}
