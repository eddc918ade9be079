package gps

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Block parser keys, as printed by exiftool without -n.
const (
	keyDateTime     = "GPS Date/Time"
	keyLatitude     = "GPS Latitude"
	keyLongitude    = "GPS Longitude"
	keyLatitudeRef  = "GPS Latitude Ref"
	keyLongitudeRef = "GPS Longitude Ref"
)

const maxLineBytes = 1024 * 1024

// inlinePattern matches compact embedded-stream dumps where a UTC timestamp
// is immediately followed by latitude and longitude.
var inlinePattern = regexp.MustCompile(
	`(\d{4}:\d{2}:\d{2} \d{2}:\d{2}:\d{2}(?:\.\d+)?Z)[\s,]*([-+]?\d+(?:\.\d+)?)[\s,]*([-+]?\d+(?:\.\d+)?)`)

var timestampLayouts = []string{
	"2006:01:02 15:04:05Z07:00",
	"2006:01:02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// Parse extracts a track from an extractor dump. The labeled block format is
// tried first; the inline triple format is used only when it yields nothing.
// The result is never nil.
func Parse(dump string) Track {
	if track := ParseBlocks(dump); len(track) > 0 {
		return track
	}
	return ParseInline(dump)
}

// ParseBlocks reads "Key : Value" lines. Each GPS Date/Time line opens a new
// sample that collects latitude and longitude until the next GPS Date/Time
// line or the end of input. Incomplete or invalid samples are dropped.
func ParseBlocks(dump string) Track {
	var points []Point
	var cur *block

	flush := func() {
		if cur == nil {
			return
		}
		if p, err := cur.point(); err == nil {
			points = append(points, p)
		}
		cur = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(dump))
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		key, value, ok := splitKeyValue(scanner.Text())
		if !ok {
			continue
		}

		switch key {
		case keyDateTime:
			flush()
			cur = &block{dateTime: value}
		case keyLatitude:
			if cur != nil && cur.latitude == "" {
				cur.latitude = value
			}
		case keyLongitude:
			if cur != nil && cur.longitude == "" {
				cur.longitude = value
			}
		case keyLatitudeRef:
			if cur != nil {
				cur.latitudeRef = value
			}
		case keyLongitudeRef:
			if cur != nil {
				cur.longitudeRef = value
			}
		}
	}
	flush()

	return normalize(points)
}

// ParseInline scans for timestamp/latitude/longitude triples anywhere in the
// input, including binary dumps.
func ParseInline(dump string) Track {
	var points []Point
	for _, m := range inlinePattern.FindAllStringSubmatch(dump, -1) {
		ts, err := parseTimestamp(m[1])
		if err != nil {
			continue
		}
		lat, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		lon, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}
		points = append(points, Point{Time: ts, Latitude: lat, Longitude: lon})
	}
	return normalize(points)
}

type block struct {
	dateTime     string
	latitude     string
	longitude    string
	latitudeRef  string
	longitudeRef string
}

func (b *block) point() (Point, error) {
	if b.latitude == "" || b.longitude == "" {
		return Point{}, fmt.Errorf("incomplete sample at %q", b.dateTime)
	}
	ts, err := parseTimestamp(b.dateTime)
	if err != nil {
		return Point{}, err
	}
	lat, err := parseCoordinate(b.latitude, b.latitudeRef)
	if err != nil {
		return Point{}, err
	}
	lon, err := parseCoordinate(b.longitude, b.longitudeRef)
	if err != nil {
		return Point{}, err
	}
	return Point{Time: ts, Latitude: lat, Longitude: lon}, nil
}

// parseCoordinate accepts DMS or plain decimal degrees. ref supplies the
// hemisphere when the value itself carries none.
func parseCoordinate(value, ref string) (float64, error) {
	if v, hemisphere, err := parseDMS(value); err == nil {
		if hemisphere == "" {
			v = applyHemisphere(v, hemisphereFromRef(ref))
		}
		return v, nil
	}

	fields := strings.Fields(value)
	if len(fields) == 0 || len(fields) > 2 {
		return 0, fmt.Errorf("invalid coordinate %q", value)
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid coordinate %q: %w", value, err)
	}
	hemisphere := hemisphereFromRef(ref)
	if len(fields) == 2 {
		hemisphere = hemisphereFromRef(fields[1])
	}
	if v < 0 {
		return v, nil
	}
	return applyHemisphere(v, hemisphere), nil
}

// parseTimestamp normalizes exiftool and ISO timestamps to UTC. Values
// without a zone are taken as UTC, which is what GPS clocks report.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized GPS timestamp %q", s)
}

// splitKeyValue splits an exiftool line on its first colon and strips a
// leading group prefix such as "[Doc1]".
func splitKeyValue(line string) (string, string, bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	key := strings.TrimSpace(line[:idx])
	if strings.HasPrefix(key, "[") {
		if end := strings.Index(key, "]"); end >= 0 {
			key = strings.TrimSpace(key[end+1:])
		}
	}
	return key, strings.TrimSpace(line[idx+1:]), true
}
