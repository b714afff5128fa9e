package upload

import (
	"encoding/hex"
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/ManuelReschke/BundleFox/internal/pkg/semver"
)

var (
	ErrInvalidURL      = errors.New("bundle url must be an absolute https url")
	ErrInvalidChecksum = errors.New("checksum must be a hex encoded crc32 or sha256")
	ErrInvalidFileName = errors.New("manifest file name must be a relative path")
)

// Accepted checksum lengths in hex characters: crc32 and sha256.
var checksumLengths = map[int]bool{8: true, 64: true}

// ValidateBundleName requires a strict semantic version.
func ValidateBundleName(name string) error {
	_, err := semver.Validate(name)
	return err
}

// ValidateExternalURL accepts absolute https URLs without user info.
func ValidateExternalURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "https" || u.Host == "" || u.User != nil {
		return ErrInvalidURL
	}
	return nil
}

// ValidateChecksum accepts an empty checksum or a hex digest of a known length.
func ValidateChecksum(sum string) error {
	if sum == "" {
		return nil
	}
	if !checksumLengths[len(sum)] {
		return ErrInvalidChecksum
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return ErrInvalidChecksum
	}
	return nil
}

// ValidateManifestFileName rejects absolute paths and parent directory segments.
func ValidateManifestFileName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return ErrInvalidFileName
	}
	clean := path.Clean(name)
	if clean != name || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return ErrInvalidFileName
	}
	return nil
}
