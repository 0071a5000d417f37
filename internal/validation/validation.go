// Package validation checks query and path input before it reaches the catalog or
// the weather service. Errors map to 400 responses.
package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrCoordinatesMissing is returned when lat or lng is absent.
	ErrCoordinatesMissing = errors.New("lat and lng are required")
	// ErrCoordinatesInvalid is returned when a coordinate is not a finite number.
	ErrCoordinatesInvalid = errors.New("coordinates must be numbers")
	// ErrLatitudeRange is returned when lat is outside [-90, 90].
	ErrLatitudeRange = errors.New("lat must be between -90 and 90")
	// ErrLongitudeRange is returned when lng is outside [-180, 180].
	ErrLongitudeRange = errors.New("lng must be between -180 and 180")

	// ErrCityIDInvalid is returned when a city id is not a positive integer.
	ErrCityIDInvalid = errors.New("city id must be a positive integer")

	// ErrSearchTooLong is returned when a filter term exceeds the maximum length.
	ErrSearchTooLong = errors.New("search term too long")
	// ErrSearchInvalidChars is returned when a filter term contains disallowed characters.
	ErrSearchInvalidChars = errors.New("search term contains invalid characters")
)

// ParseCoordinates parses decimal degree strings and validates their range.
func ParseCoordinates(latStr, lngStr string) (lat, lng float64, err error) {
	latStr, lngStr = strings.TrimSpace(latStr), strings.TrimSpace(lngStr)
	if latStr == "" || lngStr == "" {
		return 0, 0, ErrCoordinatesMissing
	}
	lat, err = strconv.ParseFloat(latStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: lat %q", ErrCoordinatesInvalid, latStr)
	}
	lng, err = strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: lng %q", ErrCoordinatesInvalid, lngStr)
	}
	if err := ValidateCoordinates(lat, lng); err != nil {
		return 0, 0, err
	}
	return lat, lng, nil
}

// ValidateCoordinates rejects NaN, infinities and out-of-range values.
func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return ErrCoordinatesInvalid
	}
	if lat < -90 || lat > 90 {
		return ErrLatitudeRange
	}
	if lng < -180 || lng > 180 {
		return ErrLongitudeRange
	}
	return nil
}

// ParseCityID parses a catalog id path segment.
func ParseCityID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id <= 0 {
		return 0, ErrCityIDInvalid
	}
	return id, nil
}

// ValidateSearchTerm trims the filter term, enforces maxLen in runes (0 = no limit) and
// restricts it to letters, digits, space, comma, hyphen, period and apostrophe. An
// empty term is valid and means "no filter".
func ValidateSearchTerm(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrSearchTooLong
	}
	for _, c := range r {
		if !isAllowedSearchRune(c) {
			return "", ErrSearchInvalidChars
		}
	}
	return s, nil
}

func isAllowedSearchRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
