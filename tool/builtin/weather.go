package builtin

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hupe1980/agenthub/tool"
)

var weatherConditions = []string{"Sunny", "Cloudy", "Rainy", "Partly Cloudy", "Snowy"}

// WeatherOptions configures the mock weather tool.
type WeatherOptions struct {
	// Rand drives the generated readings. Defaults to a time-seeded source.
	Rand *rand.Rand

	// Now returns the reading timestamp. Defaults to time.Now.
	Now func() time.Time
}

// NewWeather returns a weather tool that produces mock readings.
func NewWeather(optFns ...func(o *WeatherOptions)) *tool.FunctionTool {
	opts := WeatherOptions{
		Now: time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		opts.Rand = rand.New(rand.NewPCG(seed, seed>>1))
	}

	var mu sync.Mutex // *rand.Rand is not safe for concurrent use

	return tool.NewFunctionTool(tool.Metadata{
		Name:        "weather",
		Description: "Get current weather information for a location",
		Parameters: []tool.Parameter{
			{
				Name:        "location",
				Type:        "string",
				Description: "City name or location (e.g., 'Beijing', 'New York')",
				Required:    true,
			},
			{
				Name:        "units",
				Type:        "string",
				Description: "Temperature units: 'celsius' or 'fahrenheit'",
				Default:     "celsius",
				Enum:        []any{"celsius", "fahrenheit"},
			},
		},
		Category: "web",
	}, func(_ *tool.CallContext, args map[string]any) (any, error) {
		location, _ := args["location"].(string)
		units, _ := args["units"].(string)

		mu.Lock()
		tempC := 15 + opts.Rand.IntN(16)
		condition := weatherConditions[opts.Rand.IntN(len(weatherConditions))]
		humidity := 40 + opts.Rand.IntN(41)
		wind := 5 + opts.Rand.IntN(21)
		mu.Unlock()

		var (
			temperature any = tempC
			unitLabel       = "°C"
		)
		if units == "fahrenheit" {
			temperature = float64(tempC)*9/5 + 32
			unitLabel = "°F"
		}

		return map[string]any{
			"location":    location,
			"temperature": temperature,
			"units":       unitLabel,
			"condition":   condition,
			"humidity":    humidity,
			"wind_speed":  wind,
			"timestamp":   opts.Now().UTC().Format(time.RFC3339),
			"note":        "This is mock weather data for demonstration purposes",
		}, nil
	})
}
