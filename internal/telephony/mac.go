package telephony

import "strings"

const macHexLength = 12

// NormalizeMAC converts a device MAC address to canonical colon-separated
// uppercase hex form. Values that do not look like a 12-digit MAC are
// returned cleaned but unsegmented.
func NormalizeMAC(raw string) string {
	cleaned := strings.ToUpper(raw)
	for _, sep := range []string{":", "-", "."} {
		cleaned = strings.ReplaceAll(cleaned, sep, "")
	}
	if len(cleaned) != macHexLength || !isHex(cleaned) {
		return cleaned
	}
	pairs := make([]string, 0, macHexLength/2)
	for i := 0; i < macHexLength; i += 2 {
		pairs = append(pairs, cleaned[i:i+2])
	}
	return strings.Join(pairs, ":")
}

func isHex(value string) bool {
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
