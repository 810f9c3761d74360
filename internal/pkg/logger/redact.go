package logger

import "strings"

// RedactEmail masks the local part of an address, keeping its first two
// characters: "john.doe@example.com" becomes "jo***@example.com".
// Local parts of two characters or fewer are masked entirely.
func RedactEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || strings.Count(email, "@") != 1 {
		return "***@***"
	}
	local, domain := email[:at], email[at+1:]
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}
