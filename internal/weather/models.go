package weather

// PayloadSchemaVersion is stamped on persisted payloads. Bump it whenever the
// JSON shape of CurrentWeather, Forecast or City changes.
const PayloadSchemaVersion = 1

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Conditions keeps the provider's raw description next to the normalized Condition.
type Conditions struct {
	Main        string    `json:"main"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Condition   Condition `json:"condition"`
}

// Temperature values are in Celsius.
type Temperature struct {
	Current   float64 `json:"current"`
	FeelsLike float64 `json:"feelsLike"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
}

type Wind struct {
	Speed     float64 `json:"speed"`
	Direction float64 `json:"direction"`
}

// CurrentWeather is the normalized current-conditions view of a place.
// Times are unix seconds, as the provider reports them.
type CurrentWeather struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Country     string      `json:"country"`
	Coordinates Coordinates `json:"coordinates"`
	Weather     Conditions  `json:"weather"`
	Temperature Temperature `json:"temperature"`
	Humidity    float64     `json:"humidity"`
	Pressure    float64     `json:"pressure"`
	Visibility  int         `json:"visibility"`
	Wind        Wind        `json:"wind"`
	Clouds      int         `json:"clouds"`
	Sunrise     int64       `json:"sunrise"`
	Sunset      int64       `json:"sunset"`
	Timezone    int         `json:"timezone"`
	Timestamp   int64       `json:"timestamp"`
}

type ForecastCity struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Country     string      `json:"country"`
	Coordinates Coordinates `json:"coordinates"`
	Population  int64       `json:"population"`
	Timezone    int         `json:"timezone"`
	Sunrise     int64       `json:"sunrise"`
	Sunset      int64       `json:"sunset"`
}

// ForecastEntry is one 3-hour step of a forecast.
type ForecastEntry struct {
	Timestamp         int64       `json:"timestamp"`
	Time              string      `json:"time"`
	Temperature       Temperature `json:"temperature"`
	Humidity          float64     `json:"humidity"`
	Pressure          float64     `json:"pressure"`
	Weather           Conditions  `json:"weather"`
	Wind              Wind        `json:"wind"`
	Clouds            int         `json:"clouds"`
	PrecipProbability float64     `json:"pop"`
	RainMM            float64     `json:"rainMm"`
	SnowMM            float64     `json:"snowMm"`
}

// Forecast entries are ordered by Timestamp ascending. Daily is derived from
// List and omitted from the hourly view.
type Forecast struct {
	City  ForecastCity    `json:"city"`
	List  []ForecastEntry `json:"list"`
	Daily []DailySummary  `json:"daily,omitempty"`
}

// City is a geocoding search result.
type City struct {
	Name        string  `json:"name"`
	Country     string  `json:"country"`
	State       string  `json:"state,omitempty"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"displayName"`
}
