package config

import (
	"fmt"
	"strings"

	"github.com/davidstormer/fdp-app-sub000/internal/db"
	"github.com/davidstormer/fdp-app-sub000/internal/domain"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// EngineConfig tunes the import engine.
type EngineConfig struct {
	Workers        int
	ReversalPolicy string
	MigrationsPath string
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string
	Format string
}

// Config is the full application configuration.
type Config struct {
	DB       db.Config
	Server   ServerConfig
	Engine   EngineConfig
	Log      LogConfig
	Registry []domain.TypeDef
}

type registryField struct {
	Name       string `mapstructure:"name"`
	Type       string `mapstructure:"type"`
	Required   bool   `mapstructure:"required"`
	Relation   string `mapstructure:"relation"`
	NaturalKey bool   `mapstructure:"naturalKey"`
}

type registryType struct {
	Name   string          `mapstructure:"name"`
	Fields []registryField `mapstructure:"fields"`
}

// Load reads config.yaml from the given path with environment overrides
// (IMPORTER_DATABASE_HOST and so on). A missing file falls back to defaults.
func Load(configPath string) (Config, error) {
	cfg := Config{
		DB: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Engine: EngineConfig{
			Workers:        4,
			ReversalPolicy: "refuse",
			MigrationsPath: "./migrations",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("IMPORTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if v.IsSet("database.host") {
		cfg.DB.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.DB.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.DB.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.DB.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DB.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.DB.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	if v.IsSet("engine.workers") {
		cfg.Engine.Workers = v.GetInt("engine.workers")
	}
	if v.IsSet("engine.reversal_policy") {
		cfg.Engine.ReversalPolicy = v.GetString("engine.reversal_policy")
	}
	if v.IsSet("engine.migrations_path") {
		cfg.Engine.MigrationsPath = v.GetString("engine.migrations_path")
	}

	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.format") {
		cfg.Log.Format = v.GetString("log.format")
	}

	if v.IsSet("registry") {
		var types []registryType
		if err := v.UnmarshalKey("registry", &types); err != nil {
			return Config{}, fmt.Errorf("failed to parse registry: %w", err)
		}
		cfg.Registry = convertRegistry(types)
	} else {
		cfg.Registry = DefaultRegistry()
	}

	return cfg, nil
}

func convertRegistry(types []registryType) []domain.TypeDef {
	defs := make([]domain.TypeDef, 0, len(types))
	for _, t := range types {
		def := domain.TypeDef{Name: t.Name}
		for _, f := range t.Fields {
			def.Fields = append(def.Fields, domain.Field{
				Name:       f.Name,
				Type:       domain.ValueType(f.Type),
				Required:   f.Required,
				Relation:   f.Relation,
				NaturalKey: f.NaturalKey,
			})
		}
		defs = append(defs, def)
	}
	return defs
}

// DefaultRegistry is the record catalog used when the config file declares
// none: people and organizations with memberships, plus self-nesting
// groups.
func DefaultRegistry() []domain.TypeDef {
	return []domain.TypeDef{
		{
			Name: "Person",
			Fields: []domain.Field{
				{Name: "name", Type: domain.ValueTypeString, Required: true},
				{Name: "email", Type: domain.ValueTypeString, NaturalKey: true},
				{Name: "birth_date", Type: domain.ValueTypeTimestamp},
				{Name: "active", Type: domain.ValueTypeBoolean},
			},
		},
		{
			Name: "Organization",
			Fields: []domain.Field{
				{Name: "name", Type: domain.ValueTypeString, Required: true, NaturalKey: true},
				{Name: "founded", Type: domain.ValueTypeTimestamp},
			},
		},
		{
			Name: "Membership",
			Fields: []domain.Field{
				{Name: "person", Type: domain.ValueTypeString, Required: true, Relation: "Person"},
				{Name: "organization", Type: domain.ValueTypeString, Required: true, Relation: "Organization"},
				{Name: "role", Type: domain.ValueTypeString},
				{Name: "since", Type: domain.ValueTypeTimestamp},
			},
		},
		{
			Name: "Group",
			Fields: []domain.Field{
				{Name: "name", Type: domain.ValueTypeString, Required: true, NaturalKey: true},
				{Name: "parent", Type: domain.ValueTypeString, Relation: "Group"},
			},
		},
	}
}
