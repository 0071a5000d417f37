package models

// WeatherSnapshot is the current conditions at a point. Temperatures are whole °C,
// wind speed whole km/h.
type WeatherSnapshot struct {
	Temp         int    `json:"temp"`
	Description  string `json:"description"`
	Icon         string `json:"icon"`
	Humidity     int    `json:"humidity"`
	WindSpeedKmh int    `json:"windSpeed"`
}

// DayForecast is the forecast entry chosen to represent one calendar day.
type DayForecast struct {
	TempMax     int    `json:"temp_max"`
	TempMin     int    `json:"temp_min"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type Forecast struct {
	Today    DayForecast `json:"today"`
	Tomorrow DayForecast `json:"tomorrow"`
}

// WeatherData is the normalized result of one fetch. Built once per fetch and never
// mutated afterwards.
type WeatherData struct {
	Current  WeatherSnapshot `json:"current"`
	Forecast Forecast        `json:"forecast"`
}

// CityWeather is the response body for a catalog city's weather.
type CityWeather struct {
	City    City        `json:"city"`
	Weather WeatherData `json:"weather"`
	Cached  bool        `json:"cached"`
}
