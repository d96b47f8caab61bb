package errs

// RejectCode identifies a business rule violation.
type RejectCode string

const (
	CodeInvalidToken             RejectCode = "invalid_token"
	CodeEventNotFound            RejectCode = "event_not_found"
	CodeMealNotFound             RejectCode = "meal_not_found"
	CodeAlreadyCheckedIn         RejectCode = "already_checked_in"
	CodeNotCheckedIn             RejectCode = "not_checked_in"
	CodeAlreadyCheckedOut        RejectCode = "already_checked_out"
	CodeAlreadySubscribed        RejectCode = "already_subscribed"
	CodeNotSubscribed            RejectCode = "not_subscribed"
	CodeSecondPortionUnavailable RejectCode = "second_portion_unavailable"
	CodeSecondPortionClaimed     RejectCode = "second_portion_claimed"
	CodeSecondPortionReceived    RejectCode = "second_portion_received"
)

// Rejection is a non-fatal business outcome: the scan was understood but the
// requested transition is not legal in the current state.
type Rejection struct {
	Code    RejectCode
	Message string
}

func (r *Rejection) Error() string { return r.Message }

// Business rejections. Compare with errors.Is.
var (
	ErrInvalidToken             = &Rejection{CodeInvalidToken, "invalid code"}
	ErrEventNotFound            = &Rejection{CodeEventNotFound, "event not found"}
	ErrMealNotFound             = &Rejection{CodeMealNotFound, "meal not found"}
	ErrAlreadyCheckedIn         = &Rejection{CodeAlreadyCheckedIn, "already checked in"}
	ErrNotCheckedIn             = &Rejection{CodeNotCheckedIn, "must check in first"}
	ErrAlreadyCheckedOut        = &Rejection{CodeAlreadyCheckedOut, "already checked out"}
	ErrAlreadySubscribed        = &Rejection{CodeAlreadySubscribed, "already received first portion"}
	ErrNotSubscribed            = &Rejection{CodeNotSubscribed, "not subscribed, cannot claim second portion"}
	ErrSecondPortionUnavailable = &Rejection{CodeSecondPortionUnavailable, "second portion not available"}
	ErrSecondPortionClaimed     = &Rejection{CodeSecondPortionClaimed, "second portion already claimed"}
	ErrSecondPortionReceived    = &Rejection{CodeSecondPortionReceived, "second portion already received"}
)
