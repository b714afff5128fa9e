// Package semver validates bundle versions against the SemVer 2.0.0 grammar
// and compares them by precedence.
package semver

import (
	"errors"
	"fmt"
	"regexp"

	msemver "github.com/Masterminds/semver/v3"
)

// ErrorCodeInvalidFormat is reported for strings outside the strict grammar.
const ErrorCodeInvalidFormat = "invalid_version_format"

// ErrInvalidFormat is matched by every *FormatError.
var ErrInvalidFormat = errors.New(ErrorCodeInvalidFormat)

// FormatError describes a rejected version string.
type FormatError struct {
	Input string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %q is not a valid semantic version", ErrorCodeInvalidFormat, e.Input)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrInvalidFormat
}

// Code returns the stable error code.
func (e *FormatError) Code() string {
	return ErrorCodeInvalidFormat
}

// strict is the regular expression published with SemVer 2.0.0.
var strict = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
	`(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?` +
	`(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// Version is a parsed version that remembers its original spelling.
type Version struct {
	raw string
	v   *msemver.Version
}

// Validate parses s with the strict grammar.
func Validate(s string) (*Version, error) {
	if !strict.MatchString(s) {
		return nil, &FormatError{Input: s}
	}
	v, err := msemver.StrictNewVersion(s)
	if err != nil {
		return nil, &FormatError{Input: s}
	}
	return &Version{raw: s, v: v}, nil
}

// IsValid reports whether s passes Validate.
func IsValid(s string) bool {
	_, err := Validate(s)
	return err == nil
}

// Coerce parses versions reported by devices, which may omit minor or patch
// or carry a leading "v". It must not be used for bundle names.
func Coerce(s string) (*Version, error) {
	v, err := msemver.NewVersion(s)
	if err != nil {
		return nil, &FormatError{Input: s}
	}
	return &Version{raw: s, v: v}, nil
}

// MustParse is Validate for constants; it panics on invalid input.
func MustParse(s string) *Version {
	v, err := Validate(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the exact input string.
func (v *Version) String() string { return v.raw }

func (v *Version) Major() uint64 { return v.v.Major() }
func (v *Version) Minor() uint64 { return v.v.Minor() }
func (v *Version) Patch() uint64 { return v.v.Patch() }

// Prerelease returns the prerelease part without the leading hyphen.
func (v *Version) Prerelease() string { return v.v.Prerelease() }

// Metadata returns the build metadata without the leading plus.
func (v *Version) Metadata() string { return v.v.Metadata() }

// Compare returns -1, 0 or 1 by SemVer precedence. Build metadata is ignored.
func (v *Version) Compare(o *Version) int {
	return v.v.Compare(o.v)
}

func (v *Version) LessThan(o *Version) bool    { return v.Compare(o) < 0 }
func (v *Version) GreaterThan(o *Version) bool { return v.Compare(o) > 0 }
func (v *Version) Equal(o *Version) bool       { return v.Compare(o) == 0 }
