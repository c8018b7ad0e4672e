package logger

import "strings"

// RedactEmail masks the local part of an address so logs never carry a
// full contact email: "jane.doe@example.com" becomes "ja***@example.com".
// Local parts of two characters or fewer are masked entirely.
func RedactEmail(email string) string {
	local, dom, ok := strings.Cut(email, "@")
	if !ok || dom == "" {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + dom
	}
	return local[:2] + "***@" + dom
}
