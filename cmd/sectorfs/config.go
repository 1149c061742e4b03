package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"github.com/weberc2/sectorfs/pkg/device"
	"github.com/weberc2/sectorfs/pkg/filesystem"
	"github.com/weberc2/sectorfs/pkg/objectstore"
	"github.com/weberc2/sectorfs/pkg/pgdevice"
	"github.com/weberc2/sectorfs/pkg/snapshot"
	. "github.com/weberc2/sectorfs/pkg/types"
	"gopkg.in/yaml.v2"
)

const (
	envVarPrefix = "SECTORFS"
	appName      = "sectorfs"

	DeviceFile     = "file"
	DeviceMemory   = "memory"
	DevicePostgres = "postgres"
)

type Config struct {
	Device         string `envconfig:"SECTORFS_DEVICE"          yaml:"device"`
	ImagePath      string `envconfig:"SECTORFS_IMAGE_PATH"      yaml:"imagePath"`
	Sectors        Sector `envconfig:"SECTORFS_SECTORS"         yaml:"sectors"`
	CacheCapacity  int    `envconfig:"SECTORFS_CACHE_CAPACITY"  yaml:"cacheCapacity"`
	Addr           string `envconfig:"SECTORFS_ADDR"            yaml:"addr"`
	Bucket         string `envconfig:"SECTORFS_BUCKET"          yaml:"bucket"`
	Region         string `envconfig:"SECTORFS_REGION"          yaml:"region"`
	Endpoint       string `envconfig:"SECTORFS_ENDPOINT"        yaml:"endpoint"`
	SnapshotPrefix string `envconfig:"SECTORFS_SNAPSHOT_PREFIX" yaml:"snapshotPrefix"`
	PGHost         string `envconfig:"SECTORFS_PG_HOST"         yaml:"pgHost"`
	PGPort         string `envconfig:"SECTORFS_PG_PORT"         yaml:"pgPort"`
	PGUser         string `envconfig:"SECTORFS_PG_USER"         yaml:"pgUser"`
	PGPass         string `envconfig:"SECTORFS_PG_PASS"         yaml:"pgPass"`
	PGDBName       string `envconfig:"SECTORFS_PG_DB_NAME"      yaml:"pgDBName"`
	PGSSLMode      string `envconfig:"SECTORFS_PG_SSL_MODE"     yaml:"pgSSLMode"`
	PGTable        string `envconfig:"SECTORFS_PG_TABLE"        yaml:"pgTable"`
}

// DefaultConfig holds the values used for anything neither the config file
// nor the environment sets.
func DefaultConfig() Config {
	return Config{
		Device:         DeviceFile,
		ImagePath:      appName + ".img",
		Sectors:        4096,
		CacheCapacity:  64,
		Addr:           "127.0.0.1:8080",
		SnapshotPrefix: "snapshots",
		PGTable:        pgdevice.DefaultTable,
	}
}

// LoadConfig layers the config file (`$SECTORFS_CONFIG_FILE`, else
// `$HOME/.config/sectorfs.yaml`) and then the environment over the defaults.
func LoadConfig() (*Config, error) {
	configFile := os.Getenv(envVarPrefix + "_CONFIG_FILE")
	if configFile == "" {
		configFile = filepath.Join(
			os.Getenv("HOME"),
			".config",
			appName+".yaml",
		)
	}

	c := DefaultConfig()
	data, err := ioutil.ReadFile(configFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshaling config file: %w", err)
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	return &c, nil
}

func (c *Config) Validate() error {
	if y, e := func() (string, string) {
		switch c.Device {
		case DeviceFile:
			if c.ImagePath == "" {
				return "imagePath", "IMAGE_PATH"
			}
		case DeviceMemory, DevicePostgres:
		default:
			return "device", "DEVICE"
		}
		if c.Sectors < filesystem.MinSectors {
			return "sectors", "SECTORS"
		}
		if c.CacheCapacity < 1 {
			return "cacheCapacity", "CACHE_CAPACITY"
		}
		return "", ""
	}(); y != "" {
		return fmt.Errorf(
			"missing or invalid configuration: %s / %s_%s",
			y,
			envVarPrefix,
			e,
		)
	}
	return nil
}

func (c *Config) options() filesystem.Options {
	return filesystem.Options{CacheCapacity: c.CacheCapacity}
}

func (c *Config) pgConfig() pgdevice.Config {
	return pgdevice.Config{
		Host:     c.PGHost,
		Port:     c.PGPort,
		User:     c.PGUser,
		Password: c.PGPass,
		DBName:   c.PGDBName,
		SSLMode:  c.PGSSLMode,
		Table:    c.PGTable,
		Sectors:  c.Sectors,
	}
}

// OpenDevice opens the configured block device. With `create`, an image
// file is created (or truncated) to the configured size, and a Postgres
// table is created if missing.
func (c *Config) OpenDevice(create bool) (device.BlockDevice, func() error, error) {
	switch c.Device {
	case DeviceFile:
		var (
			f   *device.File
			err error
		)
		if create {
			f, err = device.CreateFile(c.ImagePath, c.Sectors)
		} else {
			f, err = device.OpenFile(c.ImagePath)
		}
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	case DeviceMemory:
		return device.NewMemory(c.Sectors), func() error { return nil }, nil
	case DevicePostgres:
		dev, err := pgdevice.Open(c.pgConfig())
		if err != nil {
			return nil, nil, err
		}
		if create {
			if err := dev.EnsureTable(); err != nil {
				dev.Close()
				return nil, nil, err
			}
		}
		return dev, dev.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported device type `%s`", c.Device)
	}
}

func (c *Config) Snapshots() (*snapshot.Store, error) {
	if c.Bucket == "" {
		return nil, fmt.Errorf(
			"missing required configuration: bucket / %s_BUCKET",
			envVarPrefix,
		)
	}
	s3, err := objectstore.NewS3ObjectStore(c.Bucket, c.Region, c.Endpoint)
	if err != nil {
		return nil, err
	}
	return &snapshot.Store{
		Objects: &objectstore.GzipObjectStore{ObjectStore: s3},
		Prefix:  c.SnapshotPrefix,
	}, nil
}
