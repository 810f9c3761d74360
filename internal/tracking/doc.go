// Package tracking rewrites outgoing HTML for open and click tracking and
// serves the public endpoints those rewrites point at.
//
// Click links carry the destination as unpadded base64url in the u
// parameter. That is obfuscation, not protection: the redirect endpoint
// only follows http and https destinations.
package tracking
