package mongodriver

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds connection and compiler settings.
type Config struct {
	// URI is the MongoDB connection string.
	URI string `yaml:"uri" json:"uri"`

	// Database is the database name.
	Database string `yaml:"database" json:"database"`

	// IDKey is the virtual identity key the ORM exposes; references to it
	// are rewritten to "_id". Defaults to "id".
	IDKey string `yaml:"id_key" json:"id_key"`

	// PoolSize caps the driver connection pool. Zero means driver default.
	PoolSize uint64 `yaml:"pool_size" json:"pool_size"`

	// CacheSize bounds the compiled-filter cache. Defaults to 1024.
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	// PrepareDelay is how long schema-extension declarations are held
	// before they are flushed in one round trip per collection. Zero
	// flushes on the next scheduler tick.
	PrepareDelay time.Duration `yaml:"prepare_delay" json:"prepare_delay"`

	// Debug enables human-readable console logging.
	Debug bool `yaml:"debug" json:"debug"`
}

// UnmarshalYAML decodes the config, parsing prepare_delay from duration
// strings like "50ms".
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		URI          string `yaml:"uri"`
		Database     string `yaml:"database"`
		IDKey        string `yaml:"id_key"`
		PoolSize     uint64 `yaml:"pool_size"`
		CacheSize    int    `yaml:"cache_size"`
		PrepareDelay string `yaml:"prepare_delay"`
		Debug        bool   `yaml:"debug"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	c.URI = aux.URI
	c.Database = aux.Database
	c.IDKey = aux.IDKey
	c.PoolSize = aux.PoolSize
	c.CacheSize = aux.CacheSize
	c.Debug = aux.Debug
	if aux.PrepareDelay != "" {
		d, err := time.ParseDuration(aux.PrepareDelay)
		if err != nil {
			return fmt.Errorf("prepare_delay: %w", err)
		}
		c.PrepareDelay = d
	}
	return nil
}

// ReadConfig loads a yaml config file and applies defaults.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mongodriver: read config: %w", err)
	}
	var conf Config
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, fmt.Errorf("mongodriver: parse config: %w", err)
	}
	conf.setDefaults()
	if conf.URI == "" {
		return nil, fmt.Errorf("mongodriver: config %s: uri is required", path)
	}
	if conf.Database == "" {
		return nil, fmt.Errorf("mongodriver: config %s: database is required", path)
	}
	return &conf, nil
}

func (c *Config) setDefaults() {
	if c.IDKey == "" {
		c.IDKey = "id"
	}
	if c.CacheSize == 0 {
		c.CacheSize = 1024
	}
}
