package core

// Itoa converts an integer to a string without using fmt package
// This is a lightweight alternative for embedded systems
func Itoa(n int) string {
	if n < 0 {
		return "-" + Utoa(uint32(-int64(n)))
	}
	return Utoa(uint32(n))
}

// Utoa converts an unsigned integer to a string
func Utoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

// FixedToa formats v/10^decimals with exactly decimals fractional digits,
// e.g. FixedToa(12345, 2) == "123.45"
func FixedToa(v int64, decimals int) string {
	neg := v < 0
	if neg {
		v = -v
	}
	div := int64(1)
	for i := 0; i < decimals; i++ {
		div *= 10
	}
	whole := v / div
	frac := v % div

	s := Utoa(uint32(whole))
	if decimals > 0 {
		fs := Utoa(uint32(frac))
		for len(fs) < decimals {
			fs = "0" + fs
		}
		s += "." + fs
	}
	if neg {
		s = "-" + s
	}
	return s
}
