// Package address provides email address normalization, plus-suffix
// handling, and the bounce-address encoding used to correlate delivery
// failures back to a (list, recipient) pair.
package address

import "strings"

// plusEscape encodes a literal '+' inside the recipient local part of a
// bounce address, since '+' already delimits the list's own suffix.
const plusEscape = "---plus---"

// bounceMarker introduces the encoded recipient in a bounce address.
const bounceMarker = "bounces--"

// Normalize lowercases and trims an email address. All comparisons and
// stored subscriber emails use the normalized form.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Split separates an address into local part and domain. The last '@'
// wins so local parts containing '@' in quotes do not confuse callers.
func Split(email string) (local, domain string) {
	i := strings.LastIndex(email, "@")
	if i < 0 {
		return email, ""
	}
	return email[:i], email[i+1:]
}

// BuildBounceAddress derives the SMTP envelope-from for a delivery to
// recipient on behalf of listAddress. The recipient identity is encoded
// into the local part so a later bounce can be traced back:
//
//	list@example.com + jane.doe@gmail.com
//	-> list+bounces--jane.doe=gmail.com@example.com
func BuildBounceAddress(listAddress, recipient string) string {
	listLocal, listDomain := Split(listAddress)
	rcptLocal, rcptDomain := Split(recipient)
	rcptLocal = strings.ReplaceAll(rcptLocal, "+", plusEscape)
	return listLocal + "+" + bounceMarker + rcptLocal + "=" + rcptDomain + "@" + listDomain
}

// ParseBounceAddress reverses BuildBounceAddress, returning the original
// recipient address. It returns "" when addr does not carry the bounce
// encoding.
func ParseBounceAddress(addr string) string {
	local, _ := Split(addr)
	_, suffix, ok := strings.Cut(local, "+")
	if !ok || !strings.HasPrefix(suffix, bounceMarker) {
		return ""
	}
	encoded := strings.TrimPrefix(suffix, bounceMarker)
	rcptLocal, rcptDomain, ok := strings.Cut(encoded, "=")
	if !ok || rcptLocal == "" || rcptDomain == "" {
		return ""
	}
	rcptLocal = strings.ReplaceAll(rcptLocal, plusEscape, "+")
	return rcptLocal + "@" + rcptDomain
}

// StripAuthSuffix removes a plus-suffix from the local part:
// list+password@domain becomes list@domain. Addresses without a suffix
// are returned unchanged.
func StripAuthSuffix(addr string) string {
	local, domain := Split(addr)
	base, _, ok := strings.Cut(local, "+")
	if !ok || domain == "" {
		return addr
	}
	return base + "@" + domain
}

// ExtractAuthSuffix returns the plus-suffix of the local part, or ""
// when no suffix is present. The suffix is returned raw: sender-auth
// passwords are compared case-sensitively.
func ExtractAuthSuffix(addr string) string {
	local, domain := Split(addr)
	if domain == "" {
		return ""
	}
	_, suffix, ok := strings.Cut(local, "+")
	if !ok {
		return ""
	}
	return suffix
}

// SameList reports whether addr refers to listAddress, ignoring case
// and any plus-suffix on addr. This is how incoming To/Cc entries are
// matched against the list's own address.
func SameList(addr, listAddress string) bool {
	return Normalize(StripAuthSuffix(addr)) == Normalize(listAddress)
}

// FormatViaDisplay renders the display name used for rewritten From
// headers: "Sender Name via List Name".
func FormatViaDisplay(senderName, listName string) string {
	return senderName + " via " + listName
}
