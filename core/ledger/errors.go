package ledger

import "errors"

var (
	// ErrAgreementExists is returned when registering an address twice.
	ErrAgreementExists = errors.New("agreement already exists")
	// ErrAgreementNotFound is returned for unknown addresses.
	ErrAgreementNotFound = errors.New("agreement does not exist")
	// ErrZeroValue is returned for agreements without a positive value.
	ErrZeroValue = errors.New("agreement value must be positive")
	// ErrRequestNotFound is returned when no flexibility request matches.
	ErrRequestNotFound = errors.New("flexibility request not found")
	// ErrReceiptTimeout is returned when no receipt arrives in time.
	ErrReceiptTimeout = errors.New("timeout waiting for receipt")
	// ErrClosed is returned by a ledger that has been shut down.
	ErrClosed = errors.New("ledger closed")
)

// remoteErrors maps the error codes carried over the wire.
var remoteErrors = map[string]error{
	"agreement_exists":    ErrAgreementExists,
	"agreement_not_found": ErrAgreementNotFound,
	"zero_value":          ErrZeroValue,
	"request_not_found":   ErrRequestNotFound,
	"closed":              ErrClosed,
}

// ErrorCode returns the wire code of err, or "" for unknown errors.
func ErrorCode(err error) string {
	for code, e := range remoteErrors {
		if errors.Is(err, e) {
			return code
		}
	}
	return ""
}

// FromCode maps a wire code back to its sentinel. Unknown codes yield an
// error carrying msg.
func FromCode(code, msg string) error {
	if e, ok := remoteErrors[code]; ok {
		return e
	}
	if msg == "" {
		msg = "ledger error"
	}
	return errors.New(msg)
}
