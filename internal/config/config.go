package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration. Values come from an
// optional config.yaml plus environment variables; the environment wins.
type Config struct {
	Detection DetectionConfig `mapstructure:"detection"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Twilio    TwilioConfig    `mapstructure:"twilio"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Store     StoreConfig     `mapstructure:"store"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	API       APIConfig       `mapstructure:"api"`
}

// DetectionConfig tunes the detection loop.
type DetectionConfig struct {
	CameraIndex          int           `mapstructure:"camera_index"`
	TargetFPS            int           `mapstructure:"target_fps"`
	Cooldown             time.Duration `mapstructure:"cooldown"`
	MinInferenceInterval time.Duration `mapstructure:"min_inference_interval"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	ConfidenceThreshold  float64       `mapstructure:"confidence_threshold"`
	ModelPath            string        `mapstructure:"model_path"`
}

type SMTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
	From string `mapstructure:"from"`
}

// Addr returns the host:port dial address for the SMTP server.
func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type TwilioConfig struct {
	SID   string `mapstructure:"sid"`
	Token string `mapstructure:"token"`
	From  string `mapstructure:"phone"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

// StoreConfig selects the event store backend. An empty DatabaseURL
// means local-file mode from the start.
type StoreConfig struct {
	DatabaseURL   string `mapstructure:"database_url"`
	LocalDataPath string `mapstructure:"local_data_path"`
}

type SnapshotConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	UseSSL          bool          `mapstructure:"use_ssl"`
	Bucket          string        `mapstructure:"bucket"`
	URLExpiry       time.Duration `mapstructure:"url_expiry"`
	LocalDir        string        `mapstructure:"local_dir"`
}

type NotifyConfig struct {
	// DefaultEmail is the operator address used when a user has no
	// active channel of their own.
	DefaultEmail string `mapstructure:"default_email"`
	QueueSize    int    `mapstructure:"queue_size"`
}

type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from config.yaml (if present) and the
// environment. It never fails on a missing file; credentials that are
// absent simply leave the corresponding channel unavailable.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("detection.camera_index", 0)
	v.SetDefault("detection.target_fps", 25)
	v.SetDefault("detection.cooldown", 10*time.Second)
	v.SetDefault("detection.min_inference_interval", 5*time.Second)
	v.SetDefault("detection.max_consecutive_errors", 10)
	v.SetDefault("detection.confidence_threshold", 0.6)
	v.SetDefault("detection.model_path", "models/fall_detector.onnx")

	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)

	v.SetDefault("store.local_data_path", "data/local_db.json")

	v.SetDefault("snapshot.bucket", "fall-snapshots")
	v.SetDefault("snapshot.url_expiry", 24*time.Hour)
	v.SetDefault("snapshot.local_dir", "data/snapshots")

	v.SetDefault("notify.queue_size", 100)

	v.SetDefault("api.addr", ":8085")
}

// bindEnv wires the externally documented environment variables. The
// SMTP_*, TWILIO_* and TELEGRAM_BOT_TOKEN names are shared with the
// mobile companion app and must not change.
func bindEnv(v *viper.Viper) {
	v.BindEnv("smtp.host", "SMTP_HOST")
	v.BindEnv("smtp.port", "SMTP_PORT")
	v.BindEnv("smtp.user", "SMTP_USER")
	v.BindEnv("smtp.pass", "SMTP_PASS")
	v.BindEnv("smtp.from", "SMTP_FROM")

	v.BindEnv("twilio.sid", "TWILIO_SID")
	v.BindEnv("twilio.token", "TWILIO_TOKEN")
	v.BindEnv("twilio.phone", "TWILIO_PHONE")

	v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")

	v.BindEnv("detection.model_path", "MODEL_PATH")

	v.BindEnv("store.database_url", "DATABASE_URL")
	v.BindEnv("store.local_data_path", "LOCAL_DATA_PATH")

	v.BindEnv("snapshot.endpoint", "MINIO_ENDPOINT")
	v.BindEnv("snapshot.access_key_id", "MINIO_ACCESS_KEY_ID")
	v.BindEnv("snapshot.secret_access_key", "MINIO_SECRET_ACCESS_KEY")
	v.BindEnv("snapshot.use_ssl", "MINIO_USE_SSL")
	v.BindEnv("snapshot.bucket", "MINIO_BUCKET")

	v.BindEnv("notify.default_email", "DEFAULT_ALERT_EMAIL")

	v.BindEnv("api.addr", "API_ADDR")
}
