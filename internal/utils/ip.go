package utils

import (
	"net/netip"
)

// IsAllowedIP reports whether ip falls into one of the CIDR blocks. Invalid
// blocks are skipped.
func IsAllowedIP(ip string, allowedCIDRs []string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, cidr := range allowedCIDRs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
