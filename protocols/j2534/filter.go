package j2534

// Filter is a mask/pattern pair. A frame passes when its leading bytes,
// masked, equal the pattern.
type Filter struct {
	Mask    []byte
	Pattern []byte
}

// VPWLoggingFilter passes physically addressed frames from the PCM (0x10)
// to the tool (0xF0) at priority 0x6C or 0x6D.
var VPWLoggingFilter = Filter{
	Mask:    []byte{0xFE, 0xFF, 0xFF},
	Pattern: []byte{0x6C, 0xF0, 0x10},
}

// Matches reports whether data passes the filter.
func (f Filter) Matches(data []byte) bool {
	if len(data) < len(f.Mask) || len(f.Pattern) != len(f.Mask) {
		return false
	}
	for i, m := range f.Mask {
		if data[i]&m != f.Pattern[i]&m {
			return false
		}
	}
	return true
}
