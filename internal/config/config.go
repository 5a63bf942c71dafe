package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full probe configuration, loaded once at start and read-only
// afterwards.
type Config struct {
	Debug   bool   `yaml:"debug"`
	DataDir string `yaml:"data_dir"`

	GPS     GPSConfig     `yaml:"gps"`
	Fona    FonaConfig    `yaml:"fona"`
	Battery BatteryConfig `yaml:"battery"`
	Flight  FlightConfig  `yaml:"flight"`
	Video   VideoConfig   `yaml:"video"`
	Picture PictureConfig `yaml:"picture"`
}

// GPSConfig configures the positioning receiver. When Enable is false the
// probe flies the no-GPS phase graph.
type GPSConfig struct {
	Enable   bool   `yaml:"enable"`
	UART     string `yaml:"uart"`
	Baud     int    `yaml:"baud"`
	PowerPin int    `yaml:"power_pin"`
}

// FonaConfig configures the GSM modem.
type FonaConfig struct {
	UART            string `yaml:"uart"`
	Baud            int    `yaml:"baud"`
	PowerPin        int    `yaml:"power_pin"`
	StatusPin       int    `yaml:"status_pin"`
	SMSPhone        string `yaml:"sms_phone"`
	LocationService string `yaml:"location_service"`
}

// BatteryConfig holds the voltage windows and the minimum acceptable charge
// for the planned flight.
type BatteryConfig struct {
	MainMinV       float64 `yaml:"main_min_v"`
	MainMaxV       float64 `yaml:"main_max_v"`
	FonaMinV       float64 `yaml:"fona_min_v"`
	FonaMaxV       float64 `yaml:"fona_max_v"`
	MainMinPercent float64 `yaml:"main_min_percent"`
	FonaMinPercent float64 `yaml:"fona_min_percent"`
}

// FlightConfig describes the expected flight.
type FlightConfig struct {
	LengthMinutes int     `yaml:"length_minutes"`
	MaxHeightM    float64 `yaml:"max_height_m"`
}

// VideoConfig configures camera recording.
type VideoConfig struct {
	Width    int  `yaml:"width"`
	Height   int  `yaml:"height"`
	FPS      int  `yaml:"fps"`
	Bitrate  int  `yaml:"bitrate"`
	Rotation int  `yaml:"rotation"`
	Exif     bool `yaml:"exif"`
}

// PictureConfig configures still pictures.
type PictureConfig struct {
	Width    int  `yaml:"width"`
	Height   int  `yaml:"height"`
	Rotation int  `yaml:"rotation"`
	Exif     bool `yaml:"exif"`
}

// Load reads and validates the configuration file.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = 9600
	}
	if cfg.Fona.Baud == 0 {
		cfg.Fona.Baud = 9600
	}
	if cfg.Battery.FonaMinV == 0 {
		// 1S LiPo window.
		cfg.Battery.FonaMinV = 3.7
	}
	if cfg.Battery.FonaMaxV == 0 {
		cfg.Battery.FonaMaxV = 4.2
	}
	if cfg.Video.Width == 0 && cfg.Video.Height == 0 {
		cfg.Video.Width = 1920
		cfg.Video.Height = 1080
	}
	if cfg.Video.FPS == 0 {
		cfg.Video.FPS = 30
	}
	if cfg.Video.Bitrate == 0 {
		cfg.Video.Bitrate = 10_000_000
	}
	if cfg.Picture.Width == 0 && cfg.Picture.Height == 0 {
		cfg.Picture.Width = 3280
		cfg.Picture.Height = 2464
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.GPS.Enable && c.GPS.UART == "" {
		return fmt.Errorf("gps.uart is required when gps.enable is true")
	}
	if c.Fona.UART == "" {
		return fmt.Errorf("fona.uart is required")
	}
	if c.Fona.SMSPhone == "" {
		return fmt.Errorf("fona.sms_phone is required")
	}
	if c.Battery.MainMinV >= c.Battery.MainMaxV {
		return fmt.Errorf("battery.main_min_v must be below battery.main_max_v")
	}
	if c.Battery.FonaMinV >= c.Battery.FonaMaxV {
		return fmt.Errorf("battery.fona_min_v must be below battery.fona_max_v")
	}
	if c.Flight.LengthMinutes <= 0 {
		return fmt.Errorf("flight.length_minutes must be above 0")
	}

	if c.Picture.Width > 3280 {
		return fmt.Errorf("picture.width must be below or equal to 3280px, found %dpx", c.Picture.Width)
	}
	if c.Picture.Height > 2464 {
		return fmt.Errorf("picture.height must be below or equal to 2464px, found %dpx", c.Picture.Height)
	}
	if c.Video.FPS > 90 {
		return fmt.Errorf("video.fps must be below or equal to 90fps, found %dfps", c.Video.FPS)
	}

	// Supported sensor modes.
	switch {
	case c.Video.Width == 2592 && c.Video.Height == 1944 && c.Video.FPS <= 15:
	case c.Video.Width == 1920 && c.Video.Height == 1080 && c.Video.FPS <= 30:
	case c.Video.Width == 1296 && c.Video.Height == 972 && c.Video.FPS <= 42:
	case c.Video.Width == 1296 && c.Video.Height == 730 && c.Video.FPS <= 49:
	case c.Video.Width == 640 && c.Video.Height == 480 && c.Video.FPS <= 90:
	default:
		return fmt.Errorf(
			"video mode must be one of 2592x1944 1-15fps, 1920x1080 1-30fps, 1296x972 1-42fps, 1296x730 1-49fps, 640x480 1-90fps, found %dx%d %dfps",
			c.Video.Width, c.Video.Height, c.Video.FPS)
	}

	return nil
}
