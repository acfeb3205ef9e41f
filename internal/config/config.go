package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"vn.io.arda/identity/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Provider ProviderConfig `mapstructure:"provider"`
	Crowd    CrowdConfig    `mapstructure:"crowd"`
	Keycloak KeycloakConfig `mapstructure:"keycloak"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Cookie   CookieConfig   `mapstructure:"cookie"`
	Session  SessionConfig  `mapstructure:"session"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
	// CORSOrigins lists the browser origins allowed to call the API with credentials.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// HTTPConfig tunes the shared outbound client.
type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type ProviderConfig struct {
	Type string `mapstructure:"type"`
	// FileDirectory holds users.txt and user-groups.txt for the file provider.
	FileDirectory string `mapstructure:"file_directory"`
}

type CrowdConfig struct {
	URL         string `mapstructure:"url"`
	AppName     string `mapstructure:"app_name"`
	AppPassword string `mapstructure:"app_password"`
}

type KeycloakConfig struct {
	URL          string `mapstructure:"url"`
	Realm        string `mapstructure:"realm"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// AdminClientID and AdminClientSecret are credentials for the admin API client.
	AdminClientID     string `mapstructure:"admin_client_id"`
	AdminClientSecret string `mapstructure:"admin_client_secret"`
}

type CacheConfig struct {
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type CookieConfig struct {
	Name   string `mapstructure:"name"`
	Domain string `mapstructure:"domain"`
	MaxAge int    `mapstructure:"max_age"` // seconds
	Secure bool   `mapstructure:"secure"`
}

type SessionConfig struct {
	Store    string `mapstructure:"store"`
	Capacity int    `mapstructure:"capacity"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	// ConsumerGroupID is a prefix; each process joins its own group so every instance sees every record.
	ConsumerGroupID string `mapstructure:"consumer_group_id"`
	EventsTopic     string `mapstructure:"events_topic"`
	CommandsTopic   string `mapstructure:"commands_topic"`
	// TenantKey is stamped on every published event.
	TenantKey string `mapstructure:"tenant_key"`
}

type SecurityConfig struct {
	BasicAuth BasicAuthConfig `mapstructure:"basic_auth"`
}

// BasicAuthConfig gates every endpoint except sign-in, account, health and metrics.
type BasicAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

const (
	SessionStoreMemory   = "memory"
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// Load reads configuration from environment variables and config files.
// Environment variables override file values. Prefix: IDENTITY_
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("http.timeout", 10*time.Second)
	v.SetDefault("provider.type", string(domain.ProviderKeycloak))
	v.SetDefault("provider.file_directory", ".")
	v.SetDefault("keycloak.url", "http://localhost:8081")
	v.SetDefault("keycloak.realm", "snomed")
	v.SetDefault("keycloak.client_id", "ims")
	v.SetDefault("keycloak.client_secret", "")
	v.SetDefault("keycloak.admin_client_id", "ims-admin")
	v.SetDefault("keycloak.admin_client_secret", "")
	v.SetDefault("crowd.url", "")
	v.SetDefault("crowd.app_name", "")
	v.SetDefault("crowd.app_password", "")
	v.SetDefault("cache.capacity", 10_000)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cookie.name", "ims-session")
	v.SetDefault("cookie.domain", "")
	v.SetDefault("cookie.max_age", 86400)
	v.SetDefault("cookie.secure", true)
	v.SetDefault("session.store", SessionStoreMemory)
	v.SetDefault("session.capacity", 100_000)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "identity")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "identity:session:")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group_id", "identity-service")
	v.SetDefault("kafka.events_topic", "iam-events")
	v.SetDefault("kafka.commands_topic", "identity-cache-commands")
	v.SetDefault("kafka.tenant_key", "")
	v.SetDefault("security.basic_auth.enabled", false)
	v.SetDefault("security.basic_auth.username", "")
	v.SetDefault("security.basic_auth.password", "")

	// Environment variables (e.g. IDENTITY_KEYCLOAK_URL -> keycloak.url)
	v.SetEnvPrefix("IDENTITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also support simple env vars without prefix for Docker Compose convenience
	v.BindEnv("server.port", "PORT")
	v.BindEnv("provider.type", "IDENTITY_PROVIDER")
	v.BindEnv("keycloak.url", "KEYCLOAK_URL")
	v.BindEnv("keycloak.realm", "KEYCLOAK_REALM")
	v.BindEnv("keycloak.client_id", "KEYCLOAK_CLIENT_ID")
	v.BindEnv("keycloak.client_secret", "KEYCLOAK_CLIENT_SECRET")
	v.BindEnv("keycloak.admin_client_id", "KEYCLOAK_ADMIN_CLIENT_ID")
	v.BindEnv("keycloak.admin_client_secret", "KEYCLOAK_ADMIN_CLIENT_SECRET")
	v.BindEnv("crowd.url", "CROWD_URL")
	v.BindEnv("crowd.app_name", "CROWD_APP_NAME")
	v.BindEnv("crowd.app_password", "CROWD_APP_PASSWORD")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("security.basic_auth.enabled", "BASIC_AUTH_ENABLED")
	v.BindEnv("security.basic_auth.username", "BASIC_AUTH_USERNAME")
	v.BindEnv("security.basic_auth.password", "BASIC_AUTH_PASSWORD")

	// Try loading config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects unknown enum values. Missing backend credentials are reported by the
// backends themselves.
func (c *Config) Validate() error {
	var errs []error
	if _, err := domain.ParseProviderType(c.Provider.Type); err != nil {
		errs = append(errs, err)
	}
	switch c.Session.Store {
	case SessionStoreMemory, SessionStorePostgres, SessionStoreRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown session store %q", c.Session.Store))
	}
	if c.Cookie.MaxAge <= 0 {
		errs = append(errs, fmt.Errorf("cookie.max_age must be positive, got %d", c.Cookie.MaxAge))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is empty"))
	}
	if b := c.Security.BasicAuth; b.Enabled && (b.Username == "" || b.Password == "") {
		errs = append(errs, errors.New("security.basic_auth needs a username and password when enabled"))
	}
	return errors.Join(errs...)
}

// ProviderType returns the validated backend selector.
func (c *Config) ProviderType() domain.ProviderType {
	t, _ := domain.ParseProviderType(c.Provider.Type)
	return t
}

// SessionTTL is the lifetime of a session, equal to the cookie max-age.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Cookie.MaxAge) * time.Second
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" dbname=" + d.Name +
		" user=" + d.User +
		" password=" + d.Password +
		" sslmode=disable"
}
