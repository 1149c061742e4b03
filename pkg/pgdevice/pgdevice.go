// Package pgdevice stores a volume's sectors as rows of a Postgres table.
// Rows are created on first write; a sector with no row reads as zeros.
package pgdevice

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/lib/pq"
	"github.com/weberc2/sectorfs/pkg/device"
	. "github.com/weberc2/sectorfs/pkg/types"
)

const (
	DefaultTable = "sectors"

	NoTableErr       ConstError = "sector table does not exist"
	CorruptSectorErr ConstError = "stored sector has the wrong size"

	errUndefinedTable = "42P01"
)

// Config holds the connection settings. Empty fields take the same defaults
// as `OpenEnv`.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Table    string
	Sectors  Sector
}

func (c *Config) dataSource() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		orDefault(c.Host, "localhost"),
		orDefault(c.Port, "5432"),
		orDefault(c.User, "postgres"),
		c.Password,
		orDefault(c.DBName, "postgres"),
		orDefault(c.SSLMode, "disable"),
	)
}

type Device struct {
	db      *sql.DB
	table   string
	sectors Sector
}

var _ device.BlockDevice = (*Device)(nil)

// Open connects to the database and pings it. The table is not created; see
// `EnsureTable`.
func Open(c Config) (*Device, error) {
	db, err := sql.Open("postgres", c.dataSource())
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres database: %w", err)
	}
	return &Device{
		db:      db,
		table:   pq.QuoteIdentifier(orDefault(c.Table, DefaultTable)),
		sectors: c.Sectors,
	}, nil
}

// OpenEnv opens a device of `sectors` sectors using the PG_* environment
// variables.
func OpenEnv(sectors Sector) (*Device, error) {
	return Open(Config{
		Host:     os.Getenv("PG_HOST"),
		Port:     os.Getenv("PG_PORT"),
		User:     os.Getenv("PG_USER"),
		Password: os.Getenv("PG_PASS"),
		DBName:   os.Getenv("PG_DB_NAME"),
		SSLMode:  os.Getenv("PG_SSL_MODE"),
		Table:    os.Getenv("PG_TABLE"),
		Sectors:  sectors,
	})
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

func (dev *Device) Close() error { return dev.db.Close() }

func (dev *Device) Sectors() Sector { return dev.sectors }

func (dev *Device) EnsureTable() error {
	if _, err := dev.db.Exec(
		"CREATE TABLE IF NOT EXISTS " + dev.table + " (" +
			"sector BIGINT NOT NULL PRIMARY KEY, " +
			"data BYTEA NOT NULL)",
	); err != nil {
		return fmt.Errorf("creating table %s: %w", dev.table, err)
	}
	return nil
}

func (dev *Device) DropTable() error {
	if _, err := dev.db.Exec("DROP TABLE IF EXISTS " + dev.table); err != nil {
		return fmt.Errorf("dropping table %s: %w", dev.table, err)
	}
	return nil
}

func (dev *Device) ClearTable() error {
	if _, err := dev.db.Exec("DELETE FROM " + dev.table); err != nil {
		return fmt.Errorf("clearing table %s: %w", dev.table, err)
	}
	return nil
}

func (dev *Device) ResetTable() error {
	if err := dev.DropTable(); err != nil {
		return err
	}
	return dev.EnsureTable()
}

func (dev *Device) ReadSector(sector Sector, b *SectorBuffer) error {
	if sector >= dev.sectors {
		return fmt.Errorf(
			"reading sector `%d` from postgres: %w",
			sector,
			device.OutOfRangeErr,
		)
	}

	var data []byte
	if err := dev.db.QueryRow(
		"SELECT data FROM "+dev.table+" WHERE sector = $1",
		int64(sector),
	).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			*b = SectorBuffer{}
			return nil
		}
		return fmt.Errorf(
			"reading sector `%d` from postgres: %w",
			sector,
			translate(err),
		)
	}
	if Byte(len(data)) != SectorSize {
		return fmt.Errorf(
			"reading sector `%d` from postgres: found `%d` bytes: %w",
			sector,
			len(data),
			CorruptSectorErr,
		)
	}
	copy(b[:], data)
	return nil
}

func (dev *Device) WriteSector(sector Sector, b *SectorBuffer) error {
	if sector >= dev.sectors {
		return fmt.Errorf(
			"writing sector `%d` to postgres: %w",
			sector,
			device.OutOfRangeErr,
		)
	}
	if _, err := dev.db.Exec(
		"INSERT INTO "+dev.table+" (sector, data) VALUES($1, $2) "+
			"ON CONFLICT (sector) DO UPDATE SET data = EXCLUDED.data",
		int64(sector),
		b[:],
	); err != nil {
		return fmt.Errorf(
			"writing sector `%d` to postgres: %w",
			sector,
			translate(err),
		)
	}
	return nil
}

// StoredSectors returns the number of sectors that have a row.
func (dev *Device) StoredSectors() (int64, error) {
	var count int64
	if err := dev.db.QueryRow(
		"SELECT COUNT(*) FROM " + dev.table,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting stored sectors: %w", translate(err))
	}
	return count, nil
}

func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == errUndefinedTable {
		return fmt.Errorf("%v: %w", err, NoTableErr)
	}
	return err
}
