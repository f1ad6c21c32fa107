package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all the configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	SMTP      SMTPConfig
	SMS       SMSConfig
	Push      PushConfig
	Dispatch  DispatchConfig
	Sweeper   SweeperConfig
	JWTSecret string `env:"JWT_SECRET"`
}

// ServerConfig holds the server configuration.
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

// DatabaseConfig holds the database configuration.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig holds the Redis configuration.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type SMTPConfig struct {
	From     string `env:"SMTP_FROM"`
	Password string `env:"SMTP_PASSWORD"`
	Username string `env:"SMTP_USERNAME"`
	Port     int    `env:"SMTP_PORT"`
	Host     string `env:"SMTP_HOST"`
}

// SMSConfig holds the SMS gateway credentials. An empty AccountSID leaves
// the SMS channel unconfigured.
type SMSConfig struct {
	BaseURL    string `mapstructure:"baseurl"`
	AccountSID string `mapstructure:"accountsid"`
	AuthToken  string `mapstructure:"authtoken"`
	From       string `mapstructure:"from"`
}

// PushConfig holds the push gateway credentials. An empty ServerKey leaves
// the push channel unconfigured.
type PushConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	ServerKey string `mapstructure:"serverkey"`
}

// DispatchConfig tunes the dispatch worker pool.
type DispatchConfig struct {
	Workers     int `mapstructure:"workers"`
	QueueSize   int `mapstructure:"queuesize"`
	MaxAttempts int `mapstructure:"maxattempts"`
	// BackoffBase is the first retry delay; each further retry doubles it.
	BackoffBase time.Duration `mapstructure:"backoffbase"`
}

// SweeperConfig tunes the scheduled dispatch sweeper.
type SweeperConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batchsize"`
}

// Load creates a new Config object from environment variables.
func Load() *Config {
	// --- Set up Viper ---
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()
	// Use a replacer to map env vars like SERVER_PORT to Server.Port
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Load .env into process environment for BindEnv to work with file-based envs
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️ godotenv could not load .env: %v", err)
	}

	// Bind structured keys to environment variables
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("database.url", "DATABASE_URL")
	_ = viper.BindEnv("redis.url", "REDIS_URL")
	_ = viper.BindEnv("jwtsecret", "JWT_SECRET")
	_ = viper.BindEnv("smtp.host", "SMTP_HOST")
	_ = viper.BindEnv("smtp.port", "SMTP_PORT")
	_ = viper.BindEnv("smtp.username", "SMTP_USERNAME")
	_ = viper.BindEnv("smtp.password", "SMTP_PASSWORD")
	_ = viper.BindEnv("smtp.from", "SMTP_FROM")
	_ = viper.BindEnv("sms.baseurl", "SMS_BASE_URL")
	_ = viper.BindEnv("sms.accountsid", "SMS_ACCOUNT_SID")
	_ = viper.BindEnv("sms.authtoken", "SMS_AUTH_TOKEN")
	_ = viper.BindEnv("sms.from", "SMS_FROM")
	_ = viper.BindEnv("push.endpoint", "PUSH_ENDPOINT")
	_ = viper.BindEnv("push.serverkey", "PUSH_SERVER_KEY")
	_ = viper.BindEnv("dispatch.workers", "DISPATCH_WORKERS")
	_ = viper.BindEnv("dispatch.queuesize", "DISPATCH_QUEUE_SIZE")
	_ = viper.BindEnv("dispatch.maxattempts", "DISPATCH_MAX_ATTEMPTS")
	_ = viper.BindEnv("dispatch.backoffbase", "DISPATCH_BACKOFF_BASE")
	_ = viper.BindEnv("sweeper.interval", "SWEEPER_INTERVAL")
	_ = viper.BindEnv("sweeper.batchsize", "SWEEPER_BATCH_SIZE")

	// --- Read Configuration ---
	if err := viper.ReadInConfig(); err != nil {
		// Only log a warning if the .env file is not found.
		// We can still proceed if all config is set via environment variables.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("❌ Error reading config file: %s", err)
		} else {
			log.Printf("⚠️ .env file not found, relying on environment variables")
		}
	} else {
		log.Printf("ℹ️ Using config file: %s", viper.ConfigFileUsed())
	}

	// --- Unmarshal configuration into our struct ---
	var cfg Config
	err := viper.Unmarshal(&cfg)
	if err != nil {
		log.Fatalf("❌ Unable to decode config into struct: %v", err)
	}

	// --- Set default values ---
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.Env == "" {
		cfg.Server.Env = "development"
	}
	if cfg.SMS.BaseURL == "" {
		cfg.SMS.BaseURL = "https://api.twilio.com"
	}
	if cfg.Push.Endpoint == "" {
		cfg.Push.Endpoint = "https://fcm.googleapis.com/fcm/send"
	}
	if cfg.Dispatch.Workers <= 0 {
		cfg.Dispatch.Workers = 4
	}
	if cfg.Dispatch.QueueSize <= 0 {
		cfg.Dispatch.QueueSize = 1024
	}
	if cfg.Dispatch.MaxAttempts <= 0 {
		cfg.Dispatch.MaxAttempts = 3
	}
	if cfg.Dispatch.BackoffBase <= 0 {
		cfg.Dispatch.BackoffBase = time.Minute
	}
	if cfg.Sweeper.Interval <= 0 {
		cfg.Sweeper.Interval = 30 * time.Second
	}
	if cfg.Sweeper.BatchSize <= 0 {
		cfg.Sweeper.BatchSize = 500
	}

	log.Println("✅ Configuration loaded successfully")
	return &cfg
}
