package types

import "errors"

// Domain errors for type validation
var (
	ErrMissingName     = errors.New("artifact name is required")
	ErrMissingFilePath = errors.New("artifact file path is required")
	ErrInvalidKind     = errors.New("artifact kind must be class, function, or method")
)
