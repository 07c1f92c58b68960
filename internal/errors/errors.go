package errors

import "errors"

// Code identifies a structured error type used across the application.
type Code string

const (
	// Generic codes
	CodeUnknown Code = "unknown"

	// Settings errors
	CodeConfigurationError Code = "configuration_error"

	// Network errors
	CodeDiscovery Code = "discovery_failed"
	CodeFetch     Code = "fetch_failed"

	// Version errors
	CodeVersionParse Code = "version_parse"

	// Apply errors
	CodePatchApply       Code = "patch_apply"
	CodeChecksumMismatch Code = "checksum_mismatch"
	CodeFilesystem       Code = "filesystem"

	// Post-update errors
	CodeTargetMissing Code = "target_missing"
)

// Kind groups codes into the failure classes reported to users.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindNetwork
	KindVersionParse
	KindPatchApply
	KindFilesystem
	KindTargetMissing
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindNetwork:
		return "NetworkError"
	case KindVersionParse:
		return "VersionParseError"
	case KindPatchApply:
		return "PatchApplyError"
	case KindFilesystem:
		return "FilesystemError"
	case KindTargetMissing:
		return "TargetMissingError"
	default:
		return "UnknownError"
	}
}

// ExitCode is the numeric result recorded after an update run.
type ExitCode int

const (
	ExitSuccess       ExitCode = 0
	ExitTargetMissing ExitCode = 1
	ExitDiscovery     ExitCode = 2
	ExitFetch         ExitCode = 3
	ExitFailure       ExitCode = 4
)

// Error represents a structured error with a machine-readable code plus message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

// Unwrap returns the wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// New wraps an error with a code/message.
func New(code Code, msg string, err error) Error {
	return Error{Code: code, Message: msg, Err: err}
}

// CodeOf walks the error chain and returns the first structured code found.
func CodeOf(err error) Code {
	var structured Error
	if errors.As(err, &structured) {
		return structured.Code
	}
	return CodeUnknown
}

// IsCode reports whether the error (or its unwrap chain) matches the provided code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// KindOf classifies an error by its structured code.
func KindOf(err error) Kind {
	switch CodeOf(err) {
	case CodeConfigurationError:
		return KindConfig
	case CodeDiscovery, CodeFetch:
		return KindNetwork
	case CodeVersionParse:
		return KindVersionParse
	case CodePatchApply, CodeChecksumMismatch:
		return KindPatchApply
	case CodeFilesystem:
		return KindFilesystem
	case CodeTargetMissing:
		return KindTargetMissing
	default:
		return KindUnknown
	}
}

// ExitCodeOf maps an error to the result code persisted after a run.
// A nil error is a success.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	switch CodeOf(err) {
	case CodeDiscovery:
		return ExitDiscovery
	case CodeFetch:
		return ExitFetch
	case CodeTargetMissing:
		return ExitTargetMissing
	default:
		return ExitFailure
	}
}
