// Package xerr defines the error taxonomy shared by the ledger, the
// coordinator and the API layer.
package xerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and for HTTP status mapping.
type Kind int

const (
	Internal Kind = iota
	PermissionDenied
	InvalidRegistration
	InvalidOrder
	InvalidRequest
	Paused
	NotFound
)

func (k Kind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case InvalidRegistration:
		return "invalid_registration"
	case InvalidOrder:
		return "invalid_order"
	case InvalidRequest:
		return "invalid_request"
	case Paused:
		return "paused"
	case NotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error carries a Kind and the message surfaced to callers.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrPaused)
// holds for every paused failure regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// Sentinels for errors.Is checks.
var (
	ErrInternal            = &Error{Kind: Internal}
	ErrPermissionDenied    = &Error{Kind: PermissionDenied}
	ErrInvalidRegistration = &Error{Kind: InvalidRegistration}
	ErrInvalidOrder        = &Error{Kind: InvalidOrder}
	ErrInvalidRequest      = &Error{Kind: InvalidRequest}
	ErrPaused              = &Error{Kind: Paused}
	ErrNotFound            = &Error{Kind: NotFound}
)

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Messages carried verbatim from the original contracts.
const (
	MsgNotOwner          = "Ownable: caller is not the owner"
	MsgAssetNotApproved  = "caller is not owner nor approved"
	MsgPaymentShort      = "caller is not enough nor approved"
	MsgOrderMatchFailed  = "invalid order, fail OrderMatch"
	MsgNullExchange      = "exchange address can not null address"
	MsgNotMiniExchange   = "not a miniExchange"
	MsgNotMasterExchange = "not a masterExchange"
	MsgInvalidExchange   = "invalid exchange address"
	MsgInvalidMethodSig  = "invalid methodSig"
	MsgPaused            = "Pausable: paused"
	MsgNotPaused         = "Pausable: not paused"
	MsgMarketUnique      = "ERC721 Contract address can Not available."
)
