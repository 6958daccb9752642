package validation

import "strings"

// NormalizeAddress lower-cases an EVM address so that checksum and plain
// spellings map to the same key.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// IsHexAddress accepts a 0x-prefixed, non-empty hex string. Length is not
// enforced: contract addresses arrive already decoded from the feed.
func IsHexAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if len(addr) < 3 || !(strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X")) {
		return false
	}
	for _, c := range addr[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// IsEVMAddress is the strict 20-byte form used by user-submitted data.
func IsEVMAddress(addr string) bool {
	return len(strings.TrimSpace(addr)) == 42 && IsHexAddress(addr)
}

// Address validates an optional address field.
func (r *Result) Address(field, value string) {
	if value == "" {
		return
	}
	if !IsHexAddress(value) {
		r.Add(field, "Invalid address")
	}
}
