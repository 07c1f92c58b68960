package patch

import (
	"fmt"

	appErrors "deltaup/internal/errors"
)

func checksumError(path string, err error) error {
	return appErrors.New(appErrors.CodeChecksumMismatch, fmt.Sprintf("verify %s: %v", path, err), err)
}

func applyError(path, last string, err error) error {
	return appErrors.New(appErrors.CodePatchApply, fmt.Sprintf("patch %s%s: %v", path, afterClause(last), err), err)
}

func filesystemError(op, path, last string, err error) error {
	return appErrors.New(appErrors.CodeFilesystem, fmt.Sprintf("%s %s%s: %v", op, path, afterClause(last), err), err)
}

func afterClause(last string) string {
	if last == "" {
		return ""
	}
	return " (after " + last + ")"
}
