package errs

import "errors"

var ErrInvalidStatus = errors.New("invalid booking status")
var ErrNotOwner = errors.New("booking belongs to another customer")
var ErrForbidden = errors.New("operation forbidden for this user")
var ErrInsufficientFunds = errors.New("not enough balance")
var ErrDuplicateCandidate = errors.New("performer already applied")
var ErrUnknownCandidate = errors.New("performer is not among candidates")
var ErrNoProfile = errors.New("user has no account")
var ErrBookingNotFound = errors.New("booking not found")

var ErrUserNotFound = errors.New("user not found")
var ErrInvalidToken = errors.New("invalid token")
var ErrLoginAlreadyExists = errors.New("login already exists")
