package fhevm

import "errors"

var (
	// ErrInvalidCredential is returned when a credential was not issued
	// by this package.
	ErrInvalidCredential = errors.New("credential is not a decryption " +
		"signature")

	// ErrCredentialExpired is returned when a decryption signature is
	// used past its validity window.
	ErrCredentialExpired = errors.New("decryption signature expired")

	// ErrScopeMismatch is returned when a decryption signature does not
	// cover the contract or user of a request.
	ErrScopeMismatch = errors.New("decryption signature does not cover " +
		"request")

	// ErrSignerMismatch is returned when the recovered signer of a
	// decryption signature differs from its user address.
	ErrSignerMismatch = errors.New("decryption signature signed by " +
		"another account")

	// ErrMalformedResponse is returned when the relayer answers with a
	// payload that cannot be decoded.
	ErrMalformedResponse = errors.New("malformed relayer response")
)
