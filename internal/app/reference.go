/**
 * @description
 * Payment reference decoding and sanitation. The gateway emits the
 * reference as an opaque payload field carrying hex- or base64-encoded
 * UTF-8 bytes; malformed payloads are permanent (the log is immutable), so
 * they are dropped rather than retried.
 *
 * @notes
 * - References shaped like a dashed UUID are the legacy checkout format and
 *   are re-normalized to the canonical `pay_` + 32 uppercase hex form. All
 *   other references pass through only trimmed and sanity-checked.
 */
package app

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxReferenceLength bounds accepted payment references.
const maxReferenceLength = 256

var (
	ErrEmptyReference   = errors.New("empty payment reference")
	ErrInvalidReference = errors.New("invalid payment reference")
)

var legacyReferencePattern = regexp.MustCompile(
	`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`,
)

// DecodePaymentReference decodes the raw payload into a canonical payment
// reference. Hex is tried first (with or without a 0x prefix), then
// standard base64; the decoded bytes must be valid UTF-8.
func DecodePaymentReference(payload string) (string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", ErrEmptyReference
	}

	decoded, err := decodePayloadBytes(payload)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(decoded) {
		return "", fmt.Errorf("%w: payload is not valid UTF-8", ErrInvalidReference)
	}
	return NormalizeReference(string(decoded))
}

func decodePayloadBytes(payload string) ([]byte, error) {
	hexPart := strings.TrimPrefix(strings.TrimPrefix(payload, "0x"), "0X")
	if decoded, err := hex.DecodeString(hexPart); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(payload); err == nil {
		return decoded, nil
	}
	return nil, fmt.Errorf("%w: payload is neither hex nor base64", ErrInvalidReference)
}

// NormalizeReference trims and sanity-checks a decoded reference, and
// rewrites legacy dashed-UUID references into the canonical form.
func NormalizeReference(reference string) (string, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", ErrEmptyReference
	}
	if strings.ContainsRune(reference, 0) {
		return "", fmt.Errorf("%w: reference contains NUL byte", ErrInvalidReference)
	}
	if len(reference) > maxReferenceLength {
		return "", fmt.Errorf("%w: reference longer than %d characters", ErrInvalidReference, maxReferenceLength)
	}
	if legacyReferencePattern.MatchString(reference) {
		return "pay_" + strings.ToUpper(strings.ReplaceAll(reference, "-", "")), nil
	}
	return reference, nil
}
