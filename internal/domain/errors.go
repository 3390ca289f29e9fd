package domain

import "errors"

// Kind classifies an Error for the transport boundary.
type Kind int

const (
	// KindValidation marks malformed input.
	KindValidation Kind = iota + 1
	// KindUnauthenticated marks a missing or invalid credential.
	KindUnauthenticated
	// KindForbidden marks an authenticated caller lacking role or ownership.
	KindForbidden
	// KindNotFound marks an id that does not resolve.
	KindNotFound
	// KindConflict marks an operation that would violate a state invariant.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by the group, auth and message services.
// Message is safe to show to end users.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Validation builds a one-off validation error with a user-facing message.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Code: "validation", Message: msg}
}

// Membership conflicts.
var (
	ErrAlreadyMember    = &Error{Kind: KindConflict, Code: "already_member", Message: "Already a member of this group"}
	ErrAlreadyPending   = &Error{Kind: KindConflict, Code: "already_pending", Message: "Already requested to join. Awaiting admin approval."}
	ErrNotAMember       = &Error{Kind: KindConflict, Code: "not_a_member", Message: "You are not a member of this group"}
	ErrNoSuchRequest    = &Error{Kind: KindConflict, Code: "no_such_request", Message: "No such pending request"}
	ErrNotSecure        = &Error{Kind: KindConflict, Code: "not_secure", Message: "Group does not accept join requests"}
	ErrAdminCannotLeave = &Error{Kind: KindConflict, Code: "admin_cannot_leave", Message: "The group admin cannot leave the group"}
)

// Authorization and lookup failures.
var (
	ErrUnauthenticated    = &Error{Kind: KindUnauthenticated, Code: "unauthenticated", Message: "Not authorized"}
	ErrInvalidCredentials = &Error{Kind: KindUnauthenticated, Code: "invalid_credentials", Message: "Invalid email or password"}
	ErrNotPrivileged      = &Error{Kind: KindForbidden, Code: "admin_only", Message: "Not authorized, admin only"}
	ErrNotGroupAdmin      = &Error{Kind: KindForbidden, Code: "not_group_admin", Message: "Not group admin"}
	ErrNotGroupMember     = &Error{Kind: KindForbidden, Code: "not_group_member", Message: "Not a member of this group"}
	ErrGroupNotFound      = &Error{Kind: KindNotFound, Code: "group_not_found", Message: "Group not found"}
	ErrNotFound           = &Error{Kind: KindNotFound, Code: "not_found", Message: "Not found"}
	ErrUserExists         = &Error{Kind: KindConflict, Code: "user_exists", Message: "User already exists"}
)

// KindOf reports the Kind of the first *Error in err's chain, or 0 when there is none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}
