package ranges

import (
	"fmt"
	"strconv"
	"strings"
)

// AddressRange is an IPv4 CIDR block: a masked base address plus prefix
// length. Immutable once parsed.
type AddressRange struct {
	Base   uint32
	Prefix int
}

// Size returns the number of addresses covered by the range.
func (r AddressRange) Size() uint64 {
	return uint64(1) << uint(32-r.Prefix)
}

// Contains reports whether addr falls inside the range.
func (r AddressRange) Contains(addr uint32) bool {
	return uint64(addr-r.Base) < r.Size()
}

func (r AddressRange) String() string {
	return fmt.Sprintf("%s/%d", FormatAddr(r.Base), r.Prefix)
}

// ParseRange parses an IPv4 CIDR string. Host bits in the input are
// masked off, so "1.2.3.4/24" parses as "1.2.3.0/24".
func ParseRange(s string) (AddressRange, error) {
	slash := strings.IndexByte(s, '/')
	if slash < 0 {
		return AddressRange{}, fmt.Errorf("not a CIDR: %q", s)
	}

	base, err := ParseAddr(s[:slash])
	if err != nil {
		return AddressRange{}, fmt.Errorf("parse %q: %w", s, err)
	}

	prefix, err := strconv.Atoi(s[slash+1:])
	if err != nil || prefix < 0 || prefix > 32 {
		return AddressRange{}, fmt.Errorf("invalid prefix length in %q", s)
	}

	return AddressRange{Base: base & mask(prefix), Prefix: prefix}, nil
}

// ParseAddr parses a dotted-quad IPv4 address into its uint32 form.
func ParseAddr(s string) (uint32, error) {
	var addr uint32
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("invalid IPv4 address %q", s)
	}
	for _, p := range parts {
		octet, err := strconv.Atoi(p)
		if err != nil || octet < 0 || octet > 255 || (len(p) > 1 && p[0] == '0') {
			return 0, fmt.Errorf("invalid IPv4 address %q", s)
		}
		addr = addr<<8 | uint32(octet)
	}
	return addr, nil
}

// FormatAddr renders a uint32 address as a dotted quad.
func FormatAddr(addr uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", addr>>24, addr>>16&0xff, addr>>8&0xff, addr&0xff)
}

func mask(prefix int) uint32 {
	if prefix == 0 {
		return 0
	}
	return ^uint32(0) << uint(32-prefix)
}
