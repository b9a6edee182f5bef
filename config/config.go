package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CONSOLE_REDIS_ADDR.
const EnvPrefix = "CONSOLE"

// Config is the process configuration.
type Config struct {
	Port  string
	Debug bool
	Seed  bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LocalStorePath string

	IdentityAPIKey   string
	IdentityEndpoint string
	IdentityTimeout  time.Duration

	JWTSecret string
	JWTTTL    time.Duration

	CORSOrigins     []string
	CookieSecure    bool
	ShutdownTimeout time.Duration
}

func defaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("debug", false)
	v.SetDefault("seed", true)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 8)
	v.SetDefault("localstore.path", "console.db")
	v.SetDefault("identity.apikey", "")
	v.SetDefault("identity.endpoint", "https://identitytoolkit.googleapis.com")
	v.SetDefault("identity.timeout", 10*time.Second)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.ttl", 24*time.Hour)
	v.SetDefault("cors.origins", []string{"http://localhost:5173"})
	v.SetDefault("shutdown.timeout", 10*time.Second)
}

// Load reads defaults, then the optional dotenv file, then CONSOLE_* environment variables.
func Load(dotEnvPath string) (*Config, error) {
	if dotEnvPath != "" {
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				return nil, fmt.Errorf("config.godotenv(%s): %w", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config.os.Stat(%s): %w", dotEnvPath, err)
		}
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Port:             v.GetString("port"),
		Debug:            v.GetBool("debug"),
		Seed:             v.GetBool("seed"),
		RedisAddr:        v.GetString("redis.addr"),
		RedisPassword:    v.GetString("redis.password"),
		RedisDB:          v.GetInt("redis.db"),
		LocalStorePath:   v.GetString("localstore.path"),
		IdentityAPIKey:   v.GetString("identity.apikey"),
		IdentityEndpoint: v.GetString("identity.endpoint"),
		IdentityTimeout:  v.GetDuration("identity.timeout"),
		JWTSecret:        v.GetString("jwt.secret"),
		JWTTTL:           v.GetDuration("jwt.ttl"),
		CORSOrigins:      v.GetStringSlice("cors.origins"),
		ShutdownTimeout:  v.GetDuration("shutdown.timeout"),
	}
	// cookie.secure has no default: unset means secure unless running in debug.
	cfg.CookieSecure = !cfg.Debug
	if v.GetString("cookie.secure") != "" {
		cfg.CookieSecure = v.GetBool("cookie.secure")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: %s_JWT_SECRET must not be empty", EnvPrefix)
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}
