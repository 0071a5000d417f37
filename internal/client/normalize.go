package client

import (
	"fmt"
	"math"
	"time"

	"github.com/kjstillabower/weather-map-service/internal/models"
)

type conditions struct {
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type currentResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Weather []conditions `json:"weather"`
	Wind    *struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
}

type forecastEntry struct {
	Dt   int64 `json:"dt"`
	Main struct {
		TempMin float64 `json:"temp_min"`
		TempMax float64 `json:"temp_max"`
	} `json:"main"`
	Weather []conditions `json:"weather"`
}

type forecastResponse struct {
	List []forecastEntry `json:"list"`
	City *struct {
		// Timezone is the location's UTC offset in seconds.
		Timezone *int `json:"timezone"`
	} `json:"city"`
}

// normalize builds WeatherData from the two upstream bodies as of now.
func normalize(current currentResponse, forecast forecastResponse, now time.Time) (models.WeatherData, error) {
	if len(forecast.List) == 0 {
		return models.WeatherData{}, fmt.Errorf("%w: forecast list is empty", ErrMalformedResponse)
	}

	windMs := 0.0
	if current.Wind != nil && current.Wind.Speed != nil {
		windMs = *current.Wind.Speed
	}
	cond := firstConditions(current.Weather)

	loc := now.Location()
	if forecast.City != nil && forecast.City.Timezone != nil {
		loc = time.FixedZone("", *forecast.City.Timezone)
	}
	today, tomorrow := selectDays(forecast.List, now, loc)

	return models.WeatherData{
		Current: models.WeatherSnapshot{
			Temp:         roundHalfUp(current.Main.Temp),
			Description:  cond.Description,
			Icon:         cond.Icon,
			Humidity:     roundHalfUp(current.Main.Humidity),
			WindSpeedKmh: roundHalfUp(windMs * 3.6),
		},
		Forecast: models.Forecast{
			Today:    dayForecast(forecast.List[today]),
			Tomorrow: dayForecast(forecast.List[tomorrow]),
		},
	}, nil
}

// selectDays returns the indexes of the entries representing today and tomorrow in
// loc. Each is the first entry whose calendar date matches. Without a match, today
// is entry 0 and tomorrow is the entry roughly 24h after the first, derived from the
// spacing of the series. list must be non-empty.
func selectDays(list []forecastEntry, now time.Time, loc *time.Location) (today, tomorrow int) {
	nowLocal := now.In(loc)
	todayY, todayM, todayD := nowLocal.Date()
	tmrY, tmrM, tmrD := time.Date(todayY, todayM, todayD+1, 12, 0, 0, 0, loc).Date()

	today, tomorrow = -1, -1
	for i, e := range list {
		y, m, d := time.Unix(e.Dt, 0).In(loc).Date()
		if today < 0 && y == todayY && m == todayM && d == todayD {
			today = i
		}
		if tomorrow < 0 && y == tmrY && m == tmrM && d == tmrD {
			tomorrow = i
		}
	}
	if today < 0 {
		today = 0
	}
	if tomorrow < 0 {
		tomorrow = dayOffset(list)
	}
	return today, tomorrow
}

// defaultDayOffset is one day of the standard 3-hour forecast feed.
const defaultDayOffset = 8

// dayOffset returns the index one day after entry 0, measured from the interval
// between the first two entries and clamped to the list. A non-increasing pair gives
// no usable interval and falls back to defaultDayOffset.
func dayOffset(list []forecastEntry) int {
	last := len(list) - 1
	if last < 1 {
		return 0
	}
	offset := defaultDayOffset
	if interval := list[1].Dt - list[0].Dt; interval > 0 {
		offset = int(math.Round(float64(24*60*60) / float64(interval)))
	}
	if offset < 1 {
		offset = 1
	}
	if offset > last {
		offset = last
	}
	return offset
}

func dayForecast(e forecastEntry) models.DayForecast {
	cond := firstConditions(e.Weather)
	return models.DayForecast{
		TempMax:     roundHalfUp(e.Main.TempMax),
		TempMin:     roundHalfUp(e.Main.TempMin),
		Description: cond.Description,
		Icon:        cond.Icon,
	}
}

func firstConditions(w []conditions) conditions {
	if len(w) == 0 {
		return conditions{}
	}
	return w[0]
}

// roundHalfUp rounds to the nearest integer with .5 going toward +Inf (-2.5 → -2).
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
