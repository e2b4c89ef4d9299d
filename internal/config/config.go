// Package config loads and exposes application configuration (TOML, or YAML by extension).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default configuration values used when a field is missing in the config file.
const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultJWTExpiresIn      = "24h"
	DefaultPGHost            = "127.0.0.1"
	DefaultPGPort            = 5432
	DefaultPGUser            = "postgres"
	DefaultPGDatabase        = "adapt"
	DefaultPGSSLMode         = "disable"
	DefaultRecordsDriver     = "sqlite"
	DefaultSQLitePath        = "data/records.db"
	DefaultMasterDatabase    = "adapt-tenant-master"
	DefaultRepository        = "localfs"
	DefaultStorageRoot       = "data/assets"
	DefaultHashAlgorithm     = "sha1"
	DefaultStreamBufferSize  = 64 * 1024
	DefaultThumbnailHeight   = 200
	DefaultUploadDir         = "data/uploads"
	DefaultMaxUploadBytes    = 512 << 20
	DefaultOperationTimeout  = "60s"
	DefaultPackageExtension  = ".oam"
	DefaultMaxPackageFiles   = 10000
	DefaultMaxPackageBytes   = 2 << 30
	RecordsDriverMemory      = "memory"
	RecordsDriverSQLite      = "sqlite"
	RecordsDriverPostgres    = "postgres"
	StorageDriverLocalFS     = "localfs"
	configPathEnv            = "CONFIG_PATH"
	defaultMasterSQLiteShard = "master.db"
)

// Config is the root application configuration.
type Config struct {
	Log      LogConfig      `toml:"log" yaml:"log"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Auth     AuthConfig     `toml:"auth" yaml:"auth"`
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
	Records  RecordsConfig  `toml:"records" yaml:"records"`
	Tenancy  TenancyConfig  `toml:"tenancy" yaml:"tenancy"`
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`
	Assets   AssetsConfig   `toml:"assets" yaml:"assets"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
}

// AuthConfig holds JWT secret and token expiry (e.g. 24h).
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret" yaml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in" yaml:"jwt_expires_in"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host" yaml:"host"`
	Port     int    `toml:"port" yaml:"port"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`
	Database string `toml:"database" yaml:"database"`
	SSLMode  string `toml:"sslmode" yaml:"sslmode"`
}

// RecordsConfig selects the record store backend.
type RecordsConfig struct {
	Driver           string `toml:"driver" yaml:"driver"`
	SQLitePath       string `toml:"sqlite_path" yaml:"sqlite_path"`
	MasterSQLitePath string `toml:"master_sqlite_path" yaml:"master_sqlite_path"`
}

type TenancyConfig struct {
	MasterDatabase string `toml:"master_database" yaml:"master_database"`
}

// StorageConfig names the storage repositories assets can be written to.
type StorageConfig struct {
	DefaultRepository string                      `toml:"default_repository" yaml:"default_repository"`
	Repositories      map[string]RepositoryConfig `toml:"repositories" yaml:"repositories"`
}

type RepositoryConfig struct {
	Driver     string `toml:"driver" yaml:"driver"`
	Root       string `toml:"root" yaml:"root"`
	MasterRoot string `toml:"master_root" yaml:"master_root"`
}

// AssetsConfig tunes upload handling.
type AssetsConfig struct {
	HashAlgorithm     string   `toml:"hash_algorithm" yaml:"hash_algorithm"`
	StreamBufferSize  int      `toml:"stream_buffer_size" yaml:"stream_buffer_size"`
	ThumbnailWidth    int      `toml:"thumbnail_width" yaml:"thumbnail_width"`
	ThumbnailHeight   int      `toml:"thumbnail_height" yaml:"thumbnail_height"`
	UploadDir         string   `toml:"upload_dir" yaml:"upload_dir"`
	MaxUploadBytes    int64    `toml:"max_upload_bytes" yaml:"max_upload_bytes"`
	OperationTimeout  string   `toml:"operation_timeout" yaml:"operation_timeout"`
	PackageExtensions []string `toml:"package_extensions" yaml:"package_extensions"`
	GuardSharedPaths  bool     `toml:"guard_shared_paths" yaml:"guard_shared_paths"`
	MaxPackageFiles   int      `toml:"max_package_files" yaml:"max_package_files"`
	MaxPackageBytes   int64    `toml:"max_package_bytes" yaml:"max_package_bytes"`
	// UploadRate caps accepted uploads per second across the server; 0 disables the limit.
	UploadRate  float64 `toml:"upload_rate" yaml:"upload_rate"`
	UploadBurst int     `toml:"upload_burst" yaml:"upload_burst"`
}

// Timeout parses OperationTimeout. An empty value or "0" disables the deadline.
func (c AssetsConfig) Timeout() (time.Duration, error) {
	raw := strings.TrimSpace(c.OperationTimeout)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("assets.operation_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("assets.operation_timeout must not be negative")
	}
	return d, nil
}

// IsPackage reports whether filename has one of the package extensions (case-insensitive).
func (c AssetsConfig) IsPackage(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	for _, candidate := range c.PackageExtensions {
		if strings.ToLower(strings.TrimSpace(candidate)) == ext {
			return true
		}
	}
	return false
}

// JWTTTL parses JWTExpiresIn.
func (c AuthConfig) JWTTTL() (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(c.JWTExpiresIn))
	if err != nil {
		return 0, fmt.Errorf("auth.jwt_expires_in: %w", err)
	}
	return d, nil
}

// Defaults returns the configuration used for every field the file leaves unset.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Records: RecordsConfig{
			Driver:     DefaultRecordsDriver,
			SQLitePath: DefaultSQLitePath,
		},
		Tenancy: TenancyConfig{
			MasterDatabase: DefaultMasterDatabase,
		},
		Storage: StorageConfig{
			DefaultRepository: DefaultRepository,
		},
		Assets: AssetsConfig{
			HashAlgorithm:     DefaultHashAlgorithm,
			StreamBufferSize:  DefaultStreamBufferSize,
			ThumbnailHeight:   DefaultThumbnailHeight,
			UploadDir:         DefaultUploadDir,
			MaxUploadBytes:    DefaultMaxUploadBytes,
			OperationTimeout:  DefaultOperationTimeout,
			PackageExtensions: []string{DefaultPackageExtension},
			GuardSharedPaths:  true,
			MaxPackageFiles:   DefaultMaxPackageFiles,
			MaxPackageBytes:   DefaultMaxPackageBytes,
		},
	}
}

// PathFromEnv returns CONFIG_PATH, or the default path when unset.
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv(configPathEnv)); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Load reads and parses the config file at path and applies default values for missing fields.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = DefaultConfigPath
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg.finish(), nil
		}
		return cfg, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if _, err := toml.Decode(string(raw), &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg = cfg.finish()
	if _, err := cfg.Assets.Timeout(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// finish fills derived values: the default repository always exists.
func (c Config) finish() Config {
	if c.Storage.Repositories == nil {
		c.Storage.Repositories = map[string]RepositoryConfig{}
	}
	name := strings.ToLower(strings.TrimSpace(c.Storage.DefaultRepository))
	if name == "" {
		name = DefaultRepository
	}
	c.Storage.DefaultRepository = name
	if _, ok := c.Storage.Repositories[name]; !ok {
		c.Storage.Repositories[name] = RepositoryConfig{Driver: StorageDriverLocalFS, Root: DefaultStorageRoot}
	}
	for repoName, repo := range c.Storage.Repositories {
		if repo.Driver == "" {
			repo.Driver = StorageDriverLocalFS
		}
		if repo.Root == "" {
			repo.Root = filepath.Join(DefaultStorageRoot, repoName)
		}
		c.Storage.Repositories[repoName] = repo
	}
	if c.Records.Driver == RecordsDriverSQLite && c.Records.MasterSQLitePath == "" {
		c.Records.MasterSQLitePath = filepath.Join(filepath.Dir(c.Records.SQLitePath), defaultMasterSQLiteShard)
	}
	return c
}
