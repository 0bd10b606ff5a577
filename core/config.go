package core

import (
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Address                   string        `mapstructure:"address"`
		DebugHost                 string        `mapstructure:"debugHost"`
		JWTExpirationDelta        time.Duration `mapstructure:"jwtExpirationDelta"`
		JWTRefreshExpirationDelta time.Duration `mapstructure:"jwtRefreshExpirationDelta"`
		DisableRequestLogs        bool          `mapstructure:"disableRequestLogs"`
		RateLimit                 int           `mapstructure:"rateLimit"`
		RateLimitWindow           time.Duration `mapstructure:"rateLimitWindow"`
		ShutdownTimeout           time.Duration `mapstructure:"shutdownTimeout"`
	}

	DatabaseConfig struct {
		Engine        string `mapstructure:"engine"` // postgres, sqlite
		Host          string `mapstructure:"host"`
		Port          string `mapstructure:"port"`
		User          string `mapstructure:"user"`
		Password      string `mapstructure:"password"`
		AdminUser     string `mapstructure:"adminUser"`
		AdminPassword string `mapstructure:"adminPassword"`
		Name          string `mapstructure:"name"`
		DisableTLS    bool   `mapstructure:"disableTLS"`
		Path          string `mapstructure:"path"` // sqlite file, ":memory:" allowed
	}

	EmailConfig struct {
		SendgridAPIKey string `mapstructure:"sendgridApiKey"`
	}

	RollbarConfig struct {
		Token string `mapstructure:"token"`
	}

	RedisConfig struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	}

	KafkaConfig struct {
		Brokers   []string      `mapstructure:"brokers"`
		PollEvery time.Duration `mapstructure:"pollEvery"`
		BatchSize int           `mapstructure:"batchSize"`
	}

	StripeConfig struct {
		SecretKey string `mapstructure:"secretKey"`
	}

	OtelConfig struct {
		Enabled     bool    `mapstructure:"enabled"`
		Endpoint    string  `mapstructure:"endpoint"`
		Insecure    bool    `mapstructure:"insecure"`
		SampleRatio float64 `mapstructure:"sampleRatio"`
	}

	LoyaltyConfig struct {
		OverridePolicy       string `mapstructure:"overridePolicy"` // one_shot, sticky
		ReferencePlan        string `mapstructure:"referencePlan"`
		ProMinUnits          int    `mapstructure:"proMinUnits"`
		EliteMinUnits        int    `mapstructure:"eliteMinUnits"`
		ProDiscountPercent   int    `mapstructure:"proDiscountPercent"`
		EliteDiscountPercent int    `mapstructure:"eliteDiscountPercent"`
		ProPointsPerMonth    int    `mapstructure:"proPointsPerMonth"`
		ElitePointsPerMonth  int    `mapstructure:"elitePointsPerMonth"`
	}

	// CurrencyRate overrides the built-in rate of a currency; zero values keep the default.
	CurrencyRate struct {
		FXRate       string `mapstructure:"fxRate"`
		CostOfLiving string `mapstructure:"costOfLiving"`
		Increment    string `mapstructure:"increment"`
	}

	PricingConfig struct {
		Rates map[string]CurrencyRate `mapstructure:"rates"`
	}

	Config struct {
		Env                       string        `mapstructure:"env"`
		AppName                   string        `mapstructure:"appName"`
		Build                     string        `mapstructure:"build"`
		Debug                     bool          `mapstructure:"debug"`
		TestMode                  bool          `mapstructure:"testMode"`
		SecretKey                 string        `mapstructure:"secretKey"`
		FrontendBaseURL           string        `mapstructure:"frontendBaseUrl"`
		DefaultFromEmail          string        `mapstructure:"defaultFromEmail"`
		PasswordResetTimeoutDelta time.Duration `mapstructure:"passwordResetTimeoutDelta"`
		DefaultTimeZone           string        `mapstructure:"defaultTimeZone"`

		Server   ServerConfig   `mapstructure:"server"`
		Database DatabaseConfig `mapstructure:"database"`
		Email    EmailConfig    `mapstructure:"email"`
		Rollbar  RollbarConfig  `mapstructure:"rollbar"`
		Redis    RedisConfig    `mapstructure:"redis"`
		Kafka    KafkaConfig    `mapstructure:"kafka"`
		Stripe   StripeConfig   `mapstructure:"stripe"`
		Otel     OtelConfig     `mapstructure:"otel"`
		Loyalty  LoyaltyConfig  `mapstructure:"loyalty"`
		Pricing  PricingConfig  `mapstructure:"pricing"`
	}
)

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Roofest")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "k2%d8n!x-7fq@r5w$zp1(m_v^e9c3#tj*hs0g&u6yb=a+lio4")
	v.SetDefault("frontendBaseUrl", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "Roofest <noreply@localhost>")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("defaultTimeZone", "Australia/Sydney")

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", "localhost:4000")
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("server.disableRequestLogs", false)
	v.SetDefault("server.rateLimit", 10)
	v.SetDefault("server.rateLimitWindow", time.Minute)
	v.SetDefault("server.shutdownTimeout", 5*time.Second)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "roofest")
	v.SetDefault("database.password", "roofest")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.name", "roofest")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.path", "roofest.db")

	v.SetDefault("email.sendgridApiKey", "")
	v.SetDefault("rollbar.token", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.pollEvery", 2*time.Second)
	v.SetDefault("kafka.batchSize", 50)

	v.SetDefault("stripe.secretKey", "")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.endpoint", "localhost:4317")
	v.SetDefault("otel.insecure", true)
	v.SetDefault("otel.sampleRatio", 1.0)

	v.SetDefault("loyalty.overridePolicy", "one_shot")
	v.SetDefault("loyalty.referencePlan", "Standard")
	v.SetDefault("loyalty.proMinUnits", 6)
	v.SetDefault("loyalty.eliteMinUnits", 11)
	v.SetDefault("loyalty.proDiscountPercent", 20)
	v.SetDefault("loyalty.eliteDiscountPercent", 30)
	v.SetDefault("loyalty.proPointsPerMonth", 5)
	v.SetDefault("loyalty.elitePointsPerMonth", 10)

	v.SetDefault("pricing.rates", map[string]interface{}{})
}

// NewConfig builds the app config from defaults, the optional `config/.env.<env>` file and the environment.
func NewConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetDefault("env", env)
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "getting working directory")
	}
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "checking %s", dotEnvPath)
	}
	v.AutomaticEnv()

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	return &conf, nil
}

// NewTestConfig returns a config suitable for tests: debug off, test mode on, no external services.
func NewTestConfig() *Config {
	v := viper.New()
	setDefaults(v)
	v.Set("env", "TEST")
	v.Set("debug", false)
	v.Set("testMode", true)
	v.Set("database.engine", "sqlite")
	v.Set("database.path", ":memory:")
	v.Set("server.disableRequestLogs", true)

	var conf Config
	_ = v.Unmarshal(&conf)
	return &conf
}

// DefaultFromAddress parses DefaultFromEmail; an unparsable value is used as the bare address.
func (c *Config) DefaultFromAddress() mail.Address {
	addr, err := mail.ParseAddress(c.DefaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: c.DefaultFromEmail}
	}
	return *addr
}
