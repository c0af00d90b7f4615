// Package config loads threatwatch settings from built-in defaults, an
// optional YAML file and the environment, in that order of precedence.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	GRPC     GRPCConfig     `koanf:"grpc"`
	Auth     AuthConfig     `koanf:"auth"`
	Logging  LoggingConfig  `koanf:"logging"`
	Camera   CameraConfig   `koanf:"camera"`
	Motion   MotionConfig   `koanf:"motion"`
	Threat   ThreatConfig   `koanf:"threat"`
	Home     HomeConfig     `koanf:"home"`
	Breaker  BreakerConfig  `koanf:"breaker"`
	Sources  SourcesConfig  `koanf:"sources"`
	Schedule ScheduleConfig `koanf:"schedule"`
}

type ServerConfig struct {
	Host              string        `koanf:"host" validate:"required"`
	Port              int           `koanf:"port" validate:"min=1,max=65535"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	// Debug logs request and response bodies.
	Debug bool `koanf:"debug"`
}

type GRPCConfig struct {
	Enabled bool `koanf:"enabled"`
	Port    int  `koanf:"port" validate:"min=1,max=65535"`
}

type AuthConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Username string `koanf:"username" validate:"required_if=Enabled true"`
	// Password is either plaintext or an existing bcrypt hash.
	Password  string        `koanf:"password" validate:"required_if=Enabled true"`
	JWTSecret string        `koanf:"jwt_secret"`
	JWTExpiry time.Duration `koanf:"jwt_expiry" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

type CameraConfig struct {
	// URI is an rtsp/http stream, a still image URL or a local v4l2 device.
	URI string `koanf:"uri" validate:"required"`
	// Transport is ffmpeg or http.
	Transport      string        `koanf:"transport" validate:"oneof=ffmpeg http"`
	FFmpegPath     string        `koanf:"ffmpeg_path"`
	FrameGap       time.Duration `koanf:"frame_gap" validate:"gt=0"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"gt=0"`
	ReadTimeout    time.Duration `koanf:"read_timeout" validate:"gt=0"`
	// MaxWidth downscales frames wider than this. 0 keeps the native size.
	MaxWidth    int    `koanf:"max_width" validate:"min=0"`
	SnapshotDir string `koanf:"snapshot_dir" validate:"required"`
}

type MotionConfig struct {
	BlurKernel           int `koanf:"blur_kernel" validate:"min=1"`
	Threshold            int `koanf:"threshold" validate:"min=0,max=255"`
	DilateIterations     int `koanf:"dilate_iterations" validate:"min=0"`
	SensitivityThreshold int `koanf:"sensitivity_threshold" validate:"min=0"`
	MinContours          int `koanf:"min_contours" validate:"min=1"`
}

type ThreatConfig struct {
	// MotionWindow is how long a detection keeps the motion flag raised.
	MotionWindow time.Duration `koanf:"motion_window" validate:"gt=0"`
	// Timeout bounds one whole evaluation.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

type HomeConfig struct {
	Latitude  float64 `koanf:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `koanf:"longitude" validate:"min=-180,max=180"`
	// Timezone is used for display times in source summaries.
	Timezone string `koanf:"timezone"`
}

type BreakerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	MaxRequests  uint32        `koanf:"max_requests"`
	Interval     time.Duration `koanf:"interval"`
	Timeout      time.Duration `koanf:"timeout"`
	MinRequests  uint32        `koanf:"min_requests"`
	FailureRatio float64       `koanf:"failure_ratio" validate:"min=0,max=1"`
}

type SourcesConfig struct {
	UserAgent    string             `koanf:"user_agent" validate:"required"`
	Traffic      TrafficConfig      `koanf:"traffic"`
	Weather      WeatherConfig      `koanf:"weather"`
	Earthquake   EarthquakeConfig   `koanf:"earthquake"`
	Crime        CrimeConfig        `koanf:"crime"`
	Hazard       HazardConfig       `koanf:"hazard"`
	Geopolitical GeopoliticalConfig `koanf:"geopolitical"`
}

type HighwayConfig struct {
	Name     string   `koanf:"name" validate:"required"`
	Keywords []string `koanf:"keywords" validate:"min=1"`
}

type TrafficConfig struct {
	URL               string          `koanf:"url" validate:"required,url"`
	AccessCode        string          `koanf:"access_code"`
	Timeout           time.Duration   `koanf:"timeout" validate:"gt=0"`
	FirstLoadLookback time.Duration   `koanf:"first_load_lookback" validate:"gte=0"`
	Limit             int             `koanf:"limit" validate:"min=1"`
	Highways          []HighwayConfig `koanf:"highways" validate:"min=1,dive"`
	MajorKeywords     []string        `koanf:"major_keywords"`
}

type WeatherConfig struct {
	// PointsURL is a format string taking latitude and longitude.
	PointsURL      string        `koanf:"points_url" validate:"required"`
	ObservationURL string        `koanf:"observation_url" validate:"required,url"`
	AlertsURL      string        `koanf:"alerts_url" validate:"required,url"`
	PassURL        string        `koanf:"pass_url" validate:"omitempty,url"`
	Counties       []string      `koanf:"counties" validate:"min=1"`
	Timeout        time.Duration `koanf:"timeout" validate:"gt=0"`
	SubTimeout     time.Duration `koanf:"sub_timeout" validate:"gt=0"`
}

type EarthquakeConfig struct {
	QueryURL        string        `koanf:"query_url" validate:"required,url"`
	AlertsURL       string        `koanf:"alerts_url" validate:"required,url"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	DetailTimeout   time.Duration `koanf:"detail_timeout" validate:"gt=0"`
	Window          time.Duration `koanf:"window" validate:"gt=0"`
	MinMagnitude    float64       `koanf:"min_magnitude" validate:"min=0"`
	RadiusKm        float64       `koanf:"radius_km" validate:"gt=0"`
	Limit           int           `koanf:"limit" validate:"min=1"`
	SevereMagnitude float64       `koanf:"severe_magnitude" validate:"gt=0"`
	SevereMiles     float64       `koanf:"severe_miles" validate:"gt=0"`
}

type CrimeConfig struct {
	URL      string        `koanf:"url" validate:"required,url"`
	Timeout  time.Duration `koanf:"timeout" validate:"gt=0"`
	Limit    int           `koanf:"limit" validate:"min=1"`
	Keywords []string      `koanf:"keywords" validate:"min=1"`
}

type HazardConfig struct {
	ElectricURL     string        `koanf:"electric_url" validate:"required,url"`
	GasURL          string        `koanf:"gas_url" validate:"required,url"`
	InternetURL     string        `koanf:"internet_url" validate:"required,url"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	SubTimeout      time.Duration `koanf:"sub_timeout" validate:"gt=0"`
	OutageThreshold int           `koanf:"outage_threshold" validate:"min=0"`
}

type GeopoliticalConfig struct {
	NTASURL         string        `koanf:"ntas_url" validate:"required,url"`
	CAPURL          string        `koanf:"cap_url" validate:"required,url"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	SubTimeout      time.Duration `koanf:"sub_timeout" validate:"gt=0"`
	ExcludeKeywords []string      `koanf:"exclude_keywords"`
}

// ScheduleConfig holds push cadences used while websocket clients are
// connected.
type ScheduleConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Motion       time.Duration `koanf:"motion" validate:"gt=0"`
	Traffic      time.Duration `koanf:"traffic" validate:"gt=0"`
	Weather      time.Duration `koanf:"weather" validate:"gt=0"`
	Earthquake   time.Duration `koanf:"earthquake" validate:"gt=0"`
	Crime        time.Duration `koanf:"crime" validate:"gt=0"`
	Hazard       time.Duration `koanf:"hazard" validate:"gt=0"`
	Geopolitical time.Duration `koanf:"geopolitical" validate:"gt=0"`
	Threat       time.Duration `koanf:"threat" validate:"gt=0"`
}

// Default returns the built-in configuration, centred on Monroe, WA.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "localhost",
			Port:              8080,
			ReadHeaderTimeout: 60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		GRPC: GRPCConfig{Enabled: true, Port: 9090},
		Auth: AuthConfig{
			Username:  "admin",
			JWTExpiry: 24 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Camera: CameraConfig{
			URI:            "rtsp://127.0.0.1:8554/frontdoor",
			Transport:      "ffmpeg",
			FFmpegPath:     "ffmpeg",
			FrameGap:       time.Second,
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    10 * time.Second,
			SnapshotDir:    "static",
		},
		Motion: MotionConfig{
			BlurKernel:           21,
			Threshold:            25,
			DilateIterations:     3,
			SensitivityThreshold: 500,
			MinContours:          3,
		},
		Threat: ThreatConfig{
			MotionWindow: 5 * time.Minute,
			Timeout:      30 * time.Second,
		},
		Home: HomeConfig{Latitude: 47.8554, Longitude: -121.971, Timezone: "America/Los_Angeles"},
		Breaker: BreakerConfig{
			Enabled:      true,
			MaxRequests:  1,
			Interval:     10 * time.Minute,
			Timeout:      2 * time.Minute,
			MinRequests:  5,
			FailureRatio: 0.8,
		},
		Sources: SourcesConfig{
			UserAgent: "threatwatch/1.0 (personal monitor)",
			Traffic: TrafficConfig{
				URL:               "https://wsdot.wa.gov/Traffic/api/HighwayAlerts/HighwayAlertsREST.svc/GetAlertsAsJson",
				Timeout:           15 * time.Second,
				FirstLoadLookback: 14 * 24 * time.Hour,
				Limit:             10,
				Highways: []HighwayConfig{
					{Name: "SR 2", Keywords: []string{"sr 2", "us 2", "highway 2", "sr2", "us2", "sr-2", "us-2"}},
					{Name: "SR 522", Keywords: []string{"sr 522", "highway 522", "sr522", "sr-522"}},
				},
				MajorKeywords: []string{"closure", "blocked", "crash", "accident"},
			},
			Weather: WeatherConfig{
				PointsURL:      "https://api.weather.gov/points/%.4f,%.4f",
				ObservationURL: "https://api.weather.gov/stations/KPAE/observations/latest",
				AlertsURL:      "https://api.weather.gov/alerts/active?area=WA",
				PassURL:        "https://wsdot.com/Travel/Real-time/mountainpasses/Stevens",
				Counties:       []string{"Snohomish", "King", "Puget Sound"},
				Timeout:        15 * time.Second,
				SubTimeout:     10 * time.Second,
			},
			Earthquake: EarthquakeConfig{
				QueryURL:        "https://earthquake.usgs.gov/fdsnws/event/1/query",
				AlertsURL:       "https://api.weather.gov/alerts/active?area=WA",
				Timeout:         15 * time.Second,
				DetailTimeout:   5 * time.Second,
				Window:          24 * time.Hour,
				MinMagnitude:    1.0,
				RadiusKm:        400,
				Limit:           10,
				SevereMagnitude: 3.5,
				SevereMiles:     100,
			},
			Crime: CrimeConfig{
				URL:      "https://communitycrimemap.com/?address=98272&radius=5&days=30",
				Timeout:  15 * time.Second,
				Limit:    10,
				Keywords: []string{"assault", "robbery", "homicide", "weapon"},
			},
			Hazard: HazardConfig{
				ElectricURL:     "https://outage.snopud.com/",
				GasURL:          "https://www.pse.com/en/outage/outage-map",
				InternetURL:     "https://downdetector.com/status/xfinity/",
				Timeout:         15 * time.Second,
				SubTimeout:      10 * time.Second,
				OutageThreshold: 50,
			},
			Geopolitical: GeopoliticalConfig{
				NTASURL:         "https://www.dhs.gov/ntas/rss.xml",
				CAPURL:          "https://alerts.weather.gov/cap/wa.php?x=1",
				Timeout:         15 * time.Second,
				SubTimeout:      10 * time.Second,
				ExcludeKeywords: []string{"weather", "snow", "rain"},
			},
		},
		Schedule: ScheduleConfig{
			Enabled:      true,
			Motion:       30 * time.Second,
			Traffic:      120 * time.Second,
			Weather:      300 * time.Second,
			Earthquake:   300 * time.Second,
			Crime:        600 * time.Second,
			Hazard:       600 * time.Second,
			Geopolitical: 900 * time.Second,
			Threat:       60 * time.Second,
		},
	}
}
