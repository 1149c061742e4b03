package main

import (
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "sectorfs.yaml")
	if err := ioutil.WriteFile(configFile, []byte(
		"device: postgres\n"+
			"sectors: 512\n"+
			"addr: 0.0.0.0:9000\n"+
			"pgTable: volume0\n",
	), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Setenv("SECTORFS_CONFIG_FILE", configFile)
	t.Setenv("SECTORFS_ADDR", "127.0.0.1:9001")

	c, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wanted := DefaultConfig()
	wanted.Device = DevicePostgres
	wanted.Sectors = 512
	wanted.PGTable = "volume0"
	wanted.Addr = "127.0.0.1:9001"
	if *c != wanted {
		t.Fatalf("wanted `%+v`; found `%+v`", wanted, *c)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadConfig_Strict(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "sectorfs.yaml")
	if err := ioutil.WriteFile(
		configFile,
		[]byte("sectorz: 512\n"),
		0644,
	); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Setenv("SECTORFS_CONFIG_FILE", configFile)
	if _, err := LoadConfig(); err == nil {
		t.Fatal("wanted error; found `nil`")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv(
		"SECTORFS_CONFIG_FILE",
		filepath.Join(t.TempDir(), "missing.yaml"),
	)
	c, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *c != DefaultConfig() {
		t.Fatalf("wanted `%+v`; found `%+v`", DefaultConfig(), *c)
	}
}

func TestConfig_Validate(t *testing.T) {
	type testCase struct {
		name   string
		modify func(c *Config)
		wanted string
	}

	testCases := []testCase{{
		name:   "defaults",
		modify: func(*Config) {},
	}, {
		name:   "unknown device",
		modify: func(c *Config) { c.Device = "floppy" },
		wanted: "SECTORFS_DEVICE",
	}, {
		name:   "file without path",
		modify: func(c *Config) { c.ImagePath = "" },
		wanted: "SECTORFS_IMAGE_PATH",
	}, {
		name: "memory without path",
		modify: func(c *Config) {
			c.Device = DeviceMemory
			c.ImagePath = ""
		},
	}, {
		name:   "too few sectors",
		modify: func(c *Config) { c.Sectors = 2 },
		wanted: "SECTORFS_SECTORS",
	}, {
		name:   "no cache",
		modify: func(c *Config) { c.CacheCapacity = 0 },
		wanted: "SECTORFS_CACHE_CAPACITY",
	}}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			c := DefaultConfig()
			testCase.modify(&c)
			err := c.Validate()
			if testCase.wanted == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), testCase.wanted) {
				t.Fatalf("wanted `%s` in error; found `%v`", testCase.wanted, err)
			}
		})
	}
}

func TestConfig_OpenDevice(t *testing.T) {
	c := DefaultConfig()
	c.ImagePath = filepath.Join(t.TempDir(), "volume.img")
	c.Sectors = 32

	dev, closeDev, err := c.OpenDevice(true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := closeDev(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dev, closeDev, err = c.OpenDevice(false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeDev()
	if dev.Sectors() != 32 {
		t.Fatalf("wanted `32`; found `%d`", dev.Sectors())
	}
}

func TestConfig_SnapshotsRequireBucket(t *testing.T) {
	c := DefaultConfig()
	if _, err := c.Snapshots(); err == nil ||
		!strings.Contains(err.Error(), "SECTORFS_BUCKET") {
		t.Fatalf("wanted a missing-bucket error; found `%v`", err)
	}
}
