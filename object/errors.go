package object

import "errors"

// Error kinds from spec §7. These are sentinel values so callers can use
// errors.Is against them even after a wrapping fmt.Errorf("...: %w", err).
var (
	ErrWrongHash        = errors.New("object: computed hash disagrees with declared hash")
	ErrBadSignature     = errors.New("object: signature verification failed")
	ErrMissingSignature = errors.New("object: authored object is missing a signature")
	ErrClassMismatch    = errors.New("object: stored class disagrees with declared class")
	ErrUnknownClass     = errors.New("object: class not found in registry")
	ErrInvalidLiteral   = errors.New("object: invalid literal")
	ErrValidationFailed = errors.New("object: validation failed")
)
