package marketdata

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// Quote API business codes that mean the symbol itself is the problem,
// not the transport.
const (
	codeInvalidSymbol = 301600
	codeNoQuoteAccess = 301606
)

// APIError is a non-OK response from the quote API. It distinguishes
// "this symbol is bad / not entitled" from transport-level failures so the
// retry helper and the delisting classifier can react differently.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quote api: http %d code %d: %s", e.HTTPStatus, e.Code, e.Message)
}

// BadSymbol reports whether the error means the symbol cannot be served at
// all, as opposed to a transient failure.
func (e *APIError) BadSymbol() bool {
	if e.Code == codeInvalidSymbol || e.Code == codeNoQuoteAccess {
		return true
	}
	return e.HTTPStatus == http.StatusNotFound
}

// Retryable classifies an error from this package for retry.Policy.
// Rate limits and server errors are transient; bad symbols are not.
// Anything that is not an APIError is a transport failure and transient.
func Retryable(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		if ae.BadSymbol() {
			return false
		}
		return ae.HTTPStatus == http.StatusTooManyRequests || ae.HTTPStatus >= 500
	}
	return true
}

// IsBadSymbol reports whether err is an APIError for an unservable symbol.
func IsBadSymbol(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.BadSymbol()
}

func apiErr(resp *resty.Response, env envelope) error {
	if resp.IsError() || env.Code != 0 {
		return &APIError{
			HTTPStatus: resp.StatusCode(),
			Code:       env.Code,
			Message:    env.Message,
		}
	}
	return nil
}
