package producer

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"syscall"
)

var (
	// ErrBufferFull is returned by Send when the pending buffer is at
	// capacity. The record was not accepted.
	ErrBufferFull = errors.New("producer: buffer of records is full")

	// ErrUnauthorized is the cause of a FatalAuthError raised by a "0A"
	// reply to the authentication frame.
	ErrUnauthorized = errors.New("producer: invalid credentials; check the tenant id and token")

	// ErrSequenceExhausted forces a reconnect before the sequence counter
	// would wrap.
	ErrSequenceExhausted = errors.New("producer: sequence numbers exhausted")

	// ErrTerminated is returned once Terminate has closed the producer.
	ErrTerminated = errors.New("producer: terminated")

	// ErrAlreadyConnecting is returned by a second call to Connect.
	ErrAlreadyConnecting = errors.New("producer: connect already called")

	errWriteBacklog = errors.New("producer: write backlog full")
)

// FatalAuthError reports that the very first connection attempt was refused
// for authorization reasons, either by TLS certificate verification or by the
// service rejecting the tenant credentials. It is never retried.
type FatalAuthError struct {
	Err error
}

func (e *FatalAuthError) Error() string {
	return "producer: connection not authorized: " + e.Err.Error()
}

func (e *FatalAuthError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is a FatalAuthError.
func IsFatal(err error) bool {
	var fe *FatalAuthError
	return errors.As(err, &fe)
}

// isAuthorizationError reports whether a dial error came from certificate
// verification, on either side of the TLS handshake.
func isAuthorizationError(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		invalid     x509.CertificateInvalidError
		hostname    x509.HostnameError
		alert       tls.AlertError
	)
	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &invalid),
		errors.As(err, &hostname):
		return true
	case errors.As(err, &alert):
		// bad_certificate, certificate_unknown, unknown_ca, certificate_required
		switch alert {
		case 42, 46, 48, 116:
			return true
		}
	}
	return false
}

// isUnreachable reports a refused connection or a failed name lookup.
func isUnreachable(err error) bool {
	var dnsErr *net.DNSError
	return errors.Is(err, syscall.ECONNREFUSED) || errors.As(err, &dnsErr)
}

// isTimeout reports whether err is a deadline expiry.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
