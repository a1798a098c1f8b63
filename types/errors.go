package types

import (
	"errors"
	"fmt"
)

// BridgeError is a typed failure from the session/request layer.
type BridgeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bridge error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("bridge error [%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *BridgeError) Unwrap() error { return e.Err }

// NewBridgeError creates a new typed error wrapping an optional cause.
func NewBridgeError(code, message string, err error) *BridgeError {
	return &BridgeError{Code: code, Message: message, Err: err}
}

// IsCode reports whether err is a BridgeError carrying the given code.
func IsCode(err error, code string) bool {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// Bridge error codes
const (
	ErrCodeInvalidURI           = "INVALID_URI"
	ErrCodeSessionAlreadyActive = "SESSION_ALREADY_ACTIVE"
	ErrCodeSessionNotFound      = "SESSION_NOT_FOUND"
	ErrCodeHandshakeTimeout     = "HANDSHAKE_TIMEOUT"
	ErrCodeDecodeFailed         = "DECODE_FAILED"
	ErrCodePrepareFailed        = "PREPARE_FAILED"
	ErrCodeSignFailed           = "SIGN_FAILED"
	ErrCodeStoreFailed          = "STORE_FAILED"
	ErrCodeBridgeFailed         = "BRIDGE_FAILED"
	ErrCodeNoKeyMaterial        = "NO_KEY_MATERIAL"
)
