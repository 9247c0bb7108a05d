package core

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host            string        `validate:"required"`
		DebugHost       string        `validate:"required"`
		ShutdownTimeout time.Duration `validate:"gt=0"`
	}

	FetchConfig struct {
		Timeout     time.Duration `validate:"gt=0"`
		MaxRetries  int           `validate:"gte=0,lte=10"`
		BackoffStep time.Duration `validate:"gte=0"`
		TokenLeeway time.Duration `validate:"gte=0"`
	}

	StoreConfig struct {
		Driver   string `validate:"oneof=memory postgres mongo"`
		URL      string `validate:"required_unless=Driver memory"`
		Database string `validate:"required_if=Driver mongo"`
	}

	AuthConfig struct {
		Subject  string
		TokenTTL time.Duration `validate:"gt=0"`
	}

	Config struct {
		Env          string
		Build        string
		Debug        bool
		TestMode     bool
		AppName      string `validate:"required"`
		SecretKey    string `validate:"required"`
		RollbarToken string
		WorkDir      string

		Server ServerConfig
		Fetch  FetchConfig
		Store  StoreConfig
		Auth   AuthConfig

		// Services maps a logical service name to its ordered candidate base URLs.
		Services map[string][]string `validate:"required,min=1,dive,min=1,dive,url"`
	}
)

// NewConfig loads the configuration from the environment, an optional .env file and an optional yaml file.
func NewConfig() *Config {
	conf, err := LoadConfig(Getwd())
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return conf
}

// LoadConfig loads the configuration, looking for config files under `workDir`/config.
func LoadConfig(workDir string) (*Config, error) {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Masomo")
	v.SetDefault("build", "dev")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("fetch.timeout", 5*time.Second)
	v.SetDefault("fetch.maxRetries", 2)
	v.SetDefault("fetch.backoffStep", time.Second)
	v.SetDefault("fetch.tokenLeeway", 30*time.Second)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("auth.subject", "portal")
	v.SetDefault("auth.tokenTTL", 10*time.Minute)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "checking %s", dotEnvPath)
	}

	// structured values (service candidates) live in an optional yaml file
	v.SetConfigName("portal")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(workDir, "config"))
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "reading portal.yaml")
		}
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:          env,
		Build:        v.GetString("build"),
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		AppName:      v.GetString("appName"),
		SecretKey:    v.GetString("secretKey"),
		RollbarToken: v.GetString("rollbarToken"),
		WorkDir:      workDir,
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			DebugHost:       v.GetString("server.debugHost"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
		},
		Fetch: FetchConfig{
			Timeout:     v.GetDuration("fetch.timeout"),
			MaxRetries:  v.GetInt("fetch.maxRetries"),
			BackoffStep: v.GetDuration("fetch.backoffStep"),
			TokenLeeway: v.GetDuration("fetch.tokenLeeway"),
		},
		Store: StoreConfig{
			Driver:   v.GetString("store.driver"),
			URL:      v.GetString("store.url"),
			Database: v.GetString("store.database"),
		},
		Auth: AuthConfig{
			Subject:  v.GetString("auth.subject"),
			TokenTTL: v.GetDuration("auth.tokenTTL"),
		},
		Services: loadServices(v, env),
	}
	return conf, nil
}

// loadServices reads the `services` map from the config file, then applies `<ENV>_SERVICES_<NAME>` overrides,
// each a comma-separated list of candidate base URLs in preference order.
func loadServices(v *viper.Viper, env string) map[string][]string {
	services := make(map[string][]string)
	for name, candidates := range v.GetStringMapStringSlice("services") {
		services[strings.ToLower(name)] = cleanCandidates(candidates)
	}

	prefix := env + "_SERVICES_"
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(parts[0], prefix))
		if name == "" {
			continue
		}
		services[name] = cleanCandidates(strings.Split(parts[1], ","))
	}
	return services
}

func cleanCandidates(raw []string) []string {
	candidates := make([]string, 0, len(raw))
	for _, c := range raw {
		if c = strings.TrimRight(CleanString(c), "/"); c != "" {
			candidates = append(candidates, c)
		}
	}
	return candidates
}

// Validate checks the loaded values against the struct constraints.
func (c *Config) Validate(validate *validator.Validate) error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "validating config")
	}
	return nil
}

// ServiceNames returns the configured logical service names, sorted.
func (c *Config) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
