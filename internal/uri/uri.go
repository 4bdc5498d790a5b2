// Package uri implements the calendar resource URI grammar:
//
//	scheme://[account/]namespace/identifier
//
// scheme is "msgraph" or "local", namespace is the resource kind
// (presently always "calendars"), and identifier is either a
// provider-native id or a user-friendly calendar name. account, when
// present, pins the URI to a specific mailbox/user so a URI copied
// between users is rejected rather than silently resolved against the
// wrong calendar.
package uri

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// URIParseError is returned when a raw string does not conform to the
// resource URI grammar.
type URIParseError struct{ msg string }

func (e *URIParseError) Error() string { return e.msg }

func parseErr(format string, args ...any) error {
	return &URIParseError{msg: fmt.Sprintf(format, args...)}
}

// URIValidationError is returned when otherwise well-formed URI
// components fail validation (an empty component, a malformed
// account).
type URIValidationError struct{ msg string }

func (e *URIValidationError) Error() string { return e.msg }

func validationErr(format string, args ...any) error {
	return &URIValidationError{msg: fmt.Sprintf(format, args...)}
}

// ParsedURI is the decomposed form of a resource URI.
type ParsedURI struct {
	Scheme     string
	Namespace  string
	Identifier string
	RawURI     string
	Account    string // empty when the URI carries no account context
}

var technicalIDPattern = regexp.MustCompile(`^[A-Za-z0-9+/_-]+=*$`)

// IsFriendlyName reports whether Identifier looks like a human-chosen
// calendar name rather than a provider-native technical id (a numeric
// id, or a long base64-like token).
func (p ParsedURI) IsFriendlyName() bool {
	id := p.Identifier
	if id == "" {
		return false
	}
	if isAllDigits(id) {
		return false
	}
	if len(id) > 20 && technicalIDPattern.MatchString(id) && !strings.Contains(id, " ") {
		return false
	}
	return true
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseResourceURI parses a raw URI string into its components.
//
// A handful of legacy bare identifiers ("", "calendar", "primary")
// are accepted as shorthand for the primary MS Graph calendar.
func ParseResourceURI(raw string) (ParsedURI, error) {
	trimmed := strings.TrimSpace(raw)
	switch trimmed {
	case "", "calendar", "primary":
		return ParsedURI{Scheme: "msgraph", Namespace: "calendars", Identifier: "primary", RawURI: raw}, nil
	}

	idx := strings.Index(raw, "://")
	if idx < 0 {
		return ParsedURI{}, parseErr("URI missing scheme: %q", raw)
	}
	scheme := raw[:idx]
	rest := raw[idx+3:]

	if scheme == "" {
		return ParsedURI{}, parseErr("URI missing scheme: %q", raw)
	}
	if rest == "" {
		return ParsedURI{}, parseErr("URI missing path: %q", raw)
	}

	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return ParsedURI{}, parseErr("URI missing path: %q", raw)
	}

	segments, err := splitIdentifierAwarePath(rest)
	if err != nil {
		return ParsedURI{}, err
	}

	for _, seg := range segments {
		if seg == "" {
			return ParsedURI{}, parseErr("URI malformed (empty path segment): %q", raw)
		}
	}

	var account, namespace, rawIdentifier string
	switch len(segments) {
	case 1:
		return ParsedURI{}, parseErr("URI missing path: %q", raw)
	case 2:
		namespace, rawIdentifier = segments[0], segments[1]
	case 3:
		account, namespace, rawIdentifier = segments[0], segments[1], segments[2]
	default:
		return ParsedURI{}, parseErr("URI malformed (too many path segments): %q", raw)
	}

	if account != "" && !ValidateAccount(account) {
		return ParsedURI{}, parseErr("Invalid account format: %q", account)
	}

	identifier := decodeIdentifier(rawIdentifier)

	return ParsedURI{
		Scheme:     scheme,
		Namespace:  namespace,
		Identifier: identifier,
		RawURI:     raw,
		Account:    account,
	}, nil
}

// splitIdentifierAwarePath splits a path on "/", except within a
// double-quoted final segment (a user-friendly identifier may itself
// contain slashes in principle; in practice it contains spaces, which
// is why it is quoted at all).
func splitIdentifierAwarePath(rest string) ([]string, error) {
	if i := strings.Index(rest, `"`); i >= 0 {
		if !strings.HasSuffix(rest, `"`) || i == len(rest)-1 {
			return nil, parseErr("URI malformed (unterminated quoted identifier)")
		}
		head := rest[:i]
		quoted := rest[i+1 : len(rest)-1]
		head = strings.TrimSuffix(head, "/")
		segments := strings.Split(head, "/")
		return append(segments, quoted), nil
	}
	return strings.Split(rest, "/"), nil
}

func decodeIdentifier(raw string) string {
	if decoded, err := url.QueryUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// accountEmailLocal and accountEmailDomain validate the two halves of
// an email-shaped account identifier.
var (
	accountEmailLocalPattern  = regexp.MustCompile(`^[A-Za-z0-9._%+-]+$`)
	accountEmailDomainPattern = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)
	accountPlainPattern       = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// ValidateAccount reports whether an account identifier is a
// plausible email address, domain, or bare username. It is the same
// check applied during parsing and construction.
func ValidateAccount(account string) bool {
	trimmed := strings.TrimSpace(account)
	if trimmed == "" {
		return false
	}
	if strings.ContainsAny(trimmed, " \t\n\r") {
		return false
	}

	if at := strings.Index(trimmed, "@"); at >= 0 {
		local, domain := trimmed[:at], trimmed[at+1:]
		if local == "" || domain == "" {
			return false
		}
		if !strings.Contains(domain, ".") {
			return false
		}
		return accountEmailLocalPattern.MatchString(local) && accountEmailDomainPattern.MatchString(domain)
	}

	return accountPlainPattern.MatchString(trimmed)
}

// ValidateURIComponents rejects empty scheme/namespace/identifier
// components ahead of construction.
func ValidateURIComponents(scheme, namespace, identifier string) error {
	if scheme == "" {
		return validationErr("Scheme cannot be empty")
	}
	if namespace == "" {
		return validationErr("Namespace cannot be empty")
	}
	if identifier == "" {
		return validationErr("Identifier cannot be empty")
	}
	return nil
}

func formatIdentifier(identifier string, userFriendly bool) string {
	if userFriendly {
		if strings.ContainsAny(identifier, " ") {
			return `"` + identifier + `"`
		}
		return identifier
	}
	return url.PathEscape(identifier)
}

// ConstructResourceURI builds a URI string from its components.
// Identifiers containing spaces are quoted (user_friendly, the
// default) or percent-encoded.
func ConstructResourceURI(scheme, namespace, identifier string, userFriendly bool, account string) (string, error) {
	if scheme == "" || namespace == "" || identifier == "" {
		return "", fmt.Errorf("All components (scheme, namespace, identifier) are required")
	}
	if account != "" && !ValidateAccount(account) {
		return "", validationErr("Invalid account format: %q", account)
	}

	formatted := formatIdentifier(identifier, userFriendly)
	if account != "" {
		return fmt.Sprintf("%s://%s/%s/%s", scheme, account, namespace, formatted), nil
	}
	return fmt.Sprintf("%s://%s/%s", scheme, namespace, formatted), nil
}

// ConstructResourceURIEncoded is ConstructResourceURI with
// user_friendly=false (percent-encoded identifier).
func ConstructResourceURIEncoded(scheme, namespace, identifier, account string) (string, error) {
	return ConstructResourceURI(scheme, namespace, identifier, false, account)
}

// GetPrimaryCalendarURI returns the canonical URI for a user's
// primary calendar on the given scheme (default "msgraph" when
// scheme is empty).
func GetPrimaryCalendarURI(scheme, account string) string {
	if scheme == "" {
		scheme = "msgraph"
	}
	built, _ := ConstructResourceURI(scheme, "calendars", "primary", true, account)
	return built
}

// ConvertURIToUserFriendly re-renders a URI with a quoted, unescaped
// identifier. Unparsable input is returned unchanged.
func ConvertURIToUserFriendly(raw string) string {
	parsed, err := ParseResourceURI(raw)
	if err != nil {
		return raw
	}
	built, err := ConstructResourceURI(parsed.Scheme, parsed.Namespace, parsed.Identifier, true, parsed.Account)
	if err != nil {
		return raw
	}
	return built
}

// ConvertURIToEncoded re-renders a URI with a percent-encoded
// identifier. Unparsable input is returned unchanged.
func ConvertURIToEncoded(raw string) string {
	parsed, err := ParseResourceURI(raw)
	if err != nil {
		return raw
	}
	built, err := ConstructResourceURI(parsed.Scheme, parsed.Namespace, parsed.Identifier, false, parsed.Account)
	if err != nil {
		return raw
	}
	return built
}

var userFriendlyPrefix = "Calendar: "

// ParseUserFriendlyIdentifier extracts the identifier from a
// "Calendar: <name>" or 'Calendar: "<name>"' display string.
func ParseUserFriendlyIdentifier(s string) string {
	rest := strings.TrimPrefix(s, userFriendlyPrefix)
	rest = strings.TrimSpace(rest)
	if len(rest) >= 2 && strings.HasPrefix(rest, `"`) && strings.HasSuffix(rest, `"`) {
		return rest[1 : len(rest)-1]
	}
	return rest
}

// FormatUserFriendlyIdentifier renders an identifier for display,
// quoting (and escaping embedded quotes) when it contains whitespace
// or a quote character.
func FormatUserFriendlyIdentifier(identifier string) string {
	if strings.ContainsAny(identifier, " \t\"") {
		escaped := strings.ReplaceAll(identifier, `"`, `\"`)
		return userFriendlyPrefix + `"` + escaped + `"`
	}
	return userFriendlyPrefix + identifier
}

// MigrateLegacyURI upgrades a pre-account-context URI to the
// canonical account-scoped form. A URI that already carries an
// account, or a blank account argument, is returned unchanged; an
// unparsable URI is also returned unchanged.
func MigrateLegacyURI(raw, account string) (string, error) {
	if strings.TrimSpace(account) == "" {
		return raw, nil
	}
	parsed, err := ParseResourceURI(raw)
	if err != nil {
		return raw, nil
	}
	if parsed.Account != "" {
		return raw, nil
	}
	return ConstructResourceURI(parsed.Scheme, parsed.Namespace, parsed.Identifier, true, account)
}

// NormalizeCalendarNameForLookup loosely normalizes a calendar name
// for fuzzy matching against a provider's calendar list.
func NormalizeCalendarNameForLookup(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// CreateLegacyCompatibleLookupKey produces a matching key compatible
// with calendar names stored before the normalization rules above
// existed (spaces collapsed to underscores).
func CreateLegacyCompatibleLookupKey(name string) string {
	normalized := NormalizeCalendarNameForLookup(name)
	return strings.ReplaceAll(normalized, " ", "_")
}
