// Package email normalizes recipient addresses.
package email

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// ErrInvalidAddress is returned for addresses that cannot receive a campaign
var ErrInvalidAddress = errors.New("invalid email address")

// Normalize parses an address in either bare or "Name <addr>" form and
// returns the address with a lowercased domain plus the display name, if any.
// The local part keeps its case.
func Normalize(raw string) (address, name string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}

	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	return addr.Address[:at+1] + strings.ToLower(addr.Address[at+1:]), addr.Name, nil
}
