package bmap

import "fmt"

// ParseError reports a malformed bmap document.
type ParseError struct {
	Field string // offending element, empty for document-level problems
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("bad bmap file: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("bad bmap file: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// VersionError reports a bmap format version newer than SupportedVersion.
type VersionError struct {
	Version string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("bmap format version %q is not supported (only major versions up to %d are)",
		e.Version, SupportedVersion)
}

// RangeError reports a Range element whose text is not a valid block range.
type RangeError struct {
	Spec string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("bad block range %q", e.Spec)
}
