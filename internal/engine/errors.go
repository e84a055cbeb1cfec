package engine

import (
	"errors"
	"fmt"
)

// Kind classifies a rejected operation.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindInvalidState   Kind = "invalid_state"
	KindNameTaken      Kind = "name_taken"
	KindAlreadyLocked  Kind = "already_locked"
	KindCampaignFull   Kind = "campaign_full"
	KindAlreadyStarted Kind = "already_started"
)

// Rejection is a failed guard or validation. No write happens before one is
// returned.
type Rejection struct {
	Kind    Kind
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

func reject(kind Kind, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is a Rejection of the given kind.
func IsRejection(err error, kind Kind) bool {
	var r *Rejection
	return errors.As(err, &r) && r.Kind == kind
}

// AsRejection unwraps a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
