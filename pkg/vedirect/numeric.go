package vedirect

import (
	"strconv"
	"strings"
)

// atoi parses the longest leading integer of s the way C atoi does:
// leading blanks are skipped, an optional sign is accepted and parsing stops
// at the first non digit. No digits means 0.
func atoi(s string) int {
	s = strings.TrimLeft(s, " \t\n\v\f\r")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		// out of range, saturate like strtol
		if s[0] == '-' {
			return -int(^uint(0)>>1) - 1
		}
		return int(^uint(0) >> 1)
	}
	return n
}

// atof is the float counterpart of atoi: the longest leading decimal number
// (sign, digits, fraction, exponent) is parsed, 0 when there is none.
func atof(s string) float64 {
	s = strings.TrimLeft(s, " \t\n\v\f\r")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	mantissa := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
		mantissa++
	}
	if end < len(s) && s[end] == '.' {
		end++
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
			mantissa++
		}
	}
	if mantissa == 0 {
		return 0
	}
	if end < len(s) && (s[end] == 'e' || s[end] == 'E') {
		exp := end + 1
		if exp < len(s) && (s[exp] == '+' || s[exp] == '-') {
			exp++
		}
		expDigits := exp
		for exp < len(s) && s[exp] >= '0' && s[exp] <= '9' {
			exp++
		}
		if exp > expDigits {
			end = exp
		}
	}
	// on range errors ParseFloat still returns ±Inf, same as strtod
	f, _ := strconv.ParseFloat(s[:end], 64)
	return f
}
