package gps

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// dmsPattern matches exiftool's default coordinate rendering, e.g.
// `41 deg 45' 32.95" N`. Minutes, seconds and hemisphere are optional.
var dmsPattern = regexp.MustCompile(
	`^\s*([0-9]+(?:\.[0-9]+)?)\s*deg` +
		`(?:\s*([0-9]+(?:\.[0-9]+)?)\s*')?` +
		`(?:\s*([0-9]+(?:\.[0-9]+)?)\s*")?` +
		`\s*([NSEWnsew])?\s*$`)

// DMSToDecimal converts a degrees/minutes/seconds coordinate to signed
// decimal degrees. A trailing S or W hemisphere letter negates the result.
func DMSToDecimal(s string) (float64, error) {
	value, _, err := parseDMS(s)
	return value, err
}

// parseDMS returns the signed decimal value and the hemisphere letter found,
// "" when absent.
func parseDMS(s string) (float64, string, error) {
	m := dmsPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, "", fmt.Errorf("invalid DMS coordinate %q", s)
	}

	degrees, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid degrees in %q: %w", s, err)
	}
	var minutes, seconds float64
	if m[2] != "" {
		if minutes, err = strconv.ParseFloat(m[2], 64); err != nil {
			return 0, "", fmt.Errorf("invalid minutes in %q: %w", s, err)
		}
	}
	if m[3] != "" {
		if seconds, err = strconv.ParseFloat(m[3], 64); err != nil {
			return 0, "", fmt.Errorf("invalid seconds in %q: %w", s, err)
		}
	}

	decimal := degrees + minutes/60 + seconds/3600
	hemisphere := strings.ToUpper(m[4])
	return applyHemisphere(decimal, hemisphere), hemisphere, nil
}

func applyHemisphere(v float64, hemisphere string) float64 {
	if hemisphere == "S" || hemisphere == "W" {
		return -v
	}
	return v
}

// hemisphereFromRef maps exiftool reference values ("North", "S", ...) to a
// single hemisphere letter.
func hemisphereFromRef(ref string) string {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	if ref == "" {
		return ""
	}
	switch ref[0] {
	case 'N', 'S', 'E', 'W':
		return ref[:1]
	}
	return ""
}
