// Package templating expands variables in email templates.
//
// Two syntaxes are supported. The simple syntax replaces {{key}} with a
// variable's value and {{key|"fallback"}} with the value or, when the
// value is missing or empty, the quoted fallback. Anything else between
// braces is left exactly as written. Templates flagged as liquid run
// through the Liquid language instead, with a small set of extra filters.
package templating
