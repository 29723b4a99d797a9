package logging

import "strings"

// MaskContact returns the last 4 characters of a phone number or email
// so log lines and audit records never carry the full identifier.
func MaskContact(contact string) string {
	contact = strings.TrimSpace(contact)
	if len(contact) <= 4 {
		return "****"
	}
	return "***" + contact[len(contact)-4:]
}
