// Package catalog holds the fixed list of cities shown on the map.
package catalog

import (
	"math"
	"strings"

	"github.com/kjstillabower/weather-map-service/internal/models"
)

var cities = []models.City{
	{ID: 1, Name: "New York", Country: "USA", Lat: 40.7128, Lng: -74.006},
	{ID: 2, Name: "London", Country: "UK", Lat: 51.5074, Lng: -0.1278},
	{ID: 3, Name: "Tokyo", Country: "Japan", Lat: 35.6762, Lng: 139.6503},
	{ID: 4, Name: "Paris", Country: "France", Lat: 48.8566, Lng: 2.3522},
	{ID: 5, Name: "Sydney", Country: "Australia", Lat: -33.8688, Lng: 151.2093},
	{ID: 6, Name: "Dubai", Country: "UAE", Lat: 25.2048, Lng: 55.2708},
	{ID: 7, Name: "Singapore", Country: "Singapore", Lat: 1.3521, Lng: 103.8198},
	{ID: 8, Name: "Mumbai", Country: "India", Lat: 19.076, Lng: 72.8777},
	{ID: 9, Name: "São Paulo", Country: "Brazil", Lat: -23.5505, Lng: -46.6333},
	{ID: 10, Name: "Cairo", Country: "Egypt", Lat: 30.0444, Lng: 31.2357},
	{ID: 11, Name: "Moscow", Country: "Russia", Lat: 55.7558, Lng: 37.6176},
	{ID: 12, Name: "Beijing", Country: "China", Lat: 39.9042, Lng: 116.4074},
	{ID: 13, Name: "Mexico City", Country: "Mexico", Lat: 19.4326, Lng: -99.1332},
	{ID: 14, Name: "Lagos", Country: "Nigeria", Lat: 6.5244, Lng: 3.3792},
	{ID: 15, Name: "Istanbul", Country: "Turkey", Lat: 41.0082, Lng: 28.9784},
	{ID: 16, Name: "Bangkok", Country: "Thailand", Lat: 13.7563, Lng: 100.5018},
	{ID: 17, Name: "Buenos Aires", Country: "Argentina", Lat: -34.6118, Lng: -58.396},
	{ID: 18, Name: "Toronto", Country: "Canada", Lat: 43.6532, Lng: -79.3832},
	{ID: 19, Name: "Cape Town", Country: "South Africa", Lat: -33.9249, Lng: 18.4241},
	{ID: 20, Name: "Stockholm", Country: "Sweden", Lat: 59.3293, Lng: 18.0686},
}

// All returns a copy of the catalog in id order.
func All() []models.City {
	out := make([]models.City, len(cities))
	copy(out, cities)
	return out
}

// ByID returns the city with the given id.
func ByID(id int) (models.City, bool) {
	for _, c := range cities {
		if c.ID == id {
			return c, true
		}
	}
	return models.City{}, false
}

// Filter returns cities whose name or country contains term, case-insensitive.
// An empty or whitespace-only term returns the whole catalog.
func Filter(term string) []models.City {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return All()
	}
	var out []models.City
	for _, c := range cities {
		if strings.Contains(strings.ToLower(c.Name), term) || strings.Contains(strings.ToLower(c.Country), term) {
			out = append(out, c)
		}
	}
	return out
}

// Nearest returns the catalog city closest to (lat, lng) measured as straight-line
// distance in degree space. Ties go to the lower id.
func Nearest(lat, lng float64) models.City {
	nearest := cities[0]
	best := math.Inf(1)
	for _, c := range cities {
		d := math.Hypot(c.Lat-lat, c.Lng-lng)
		if d < best {
			best = d
			nearest = c
		}
	}
	return nearest
}
