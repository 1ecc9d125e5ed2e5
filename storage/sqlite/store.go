// Package sqlite provides a SQLite implementation of the
// channelsync.ChannelProductStore.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commercekit/channelsync/channelsync"
	syncErrors "github.com/commercekit/channelsync/errors"
	"github.com/commercekit/channelsync/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Config holds configuration options for the Store.
//
// Production-ready defaults are applied by setDefaults including:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:channelsync.db"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, "?_journal_mode=WAL" is appended to DataSourceName.
	EnableWAL bool

	// TableName is the table storing channel products.
	// Defaults to "channel_products" if empty.
	TableName string

	// Logger is an optional structured logger. Nil discards.
	Logger *logging.Logger

	// Connection pool settings for production workloads.
	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 1h
	ConnMaxIdleTime time.Duration // Default: 5m
}

func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "channel_products"
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		sep := "?"
		if strings.Contains(c.DataSourceName, "?") {
			sep = "&"
		}
		c.DataSourceName += sep + "_journal_mode=WAL"
	}
}

// Store persists channel products in SQLite with optimistic concurrency.
type Store struct {
	db     *sql.DB
	config Config
	logger *logging.Logger
}

// NewStore opens the database, tunes the connection pool, and bootstraps the
// schema.
func NewStore(config Config) (*Store, error) {
	config.setDefaults()

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpStore, fmt.Errorf("opening database: %w", err))
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	s := &Store{
		db:     db,
		config: config,
		logger: config.Logger.WithComponent("sqlite"),
	}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Debug("sqlite store ready",
		"dsn", config.DataSourceName,
		"table", config.TableName)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			product_id          TEXT    NOT NULL,
			channel_id          TEXT    NOT NULL,
			available           INTEGER NOT NULL,
			base_price          TEXT    NOT NULL,
			price_override      TEXT,
			currency            TEXT    NOT NULL,
			multiplier          TEXT    NOT NULL,
			discount_percentage TEXT    NOT NULL,
			tax_rate            TEXT    NOT NULL,
			effective_price     TEXT    NOT NULL,
			inventory_override  INTEGER,
			stock_quantity      INTEGER NOT NULL,
			reserved_quantity   INTEGER NOT NULL,
			metadata            TEXT,
			last_synced_at      TIMESTAMP NOT NULL,
			version             INTEGER NOT NULL,
			PRIMARY KEY (product_id, channel_id)
		)`, s.config.TableName)
	if _, err := s.db.Exec(schema); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, fmt.Errorf("creating schema: %w", err))
	}
	return nil
}

func (s *Store) Get(ctx context.Context, productID, channelID string) (*channelsync.ChannelProduct, error) {
	query := fmt.Sprintf(`
		SELECT product_id, channel_id, available, base_price, price_override,
		       currency, multiplier, discount_percentage, tax_rate,
		       effective_price, inventory_override, stock_quantity,
		       reserved_quantity, metadata, last_synced_at, version
		FROM %s WHERE product_id = ? AND channel_id = ?`, s.config.TableName)

	cp, err := scanProduct(s.db.QueryRowContext(ctx, query, productID, channelID))
	if err == sql.ErrNoRows {
		return nil, channelsync.ErrNotFound
	}
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return cp, nil
}

func (s *Store) Put(ctx context.Context, cp *channelsync.ChannelProduct) error {
	metadata, err := encodeMetadata(cp.Metadata)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (product_id, channel_id, available, base_price,
			price_override, currency, multiplier, discount_percentage,
			tax_rate, effective_price, inventory_override, stock_quantity,
			reserved_quantity, metadata, last_synced_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		s.config.TableName)

	_, err = s.db.ExecContext(ctx, query,
		cp.ProductID, cp.ChannelID, cp.Available,
		cp.BasePrice.String(), decimalPtr(cp.PriceOverride), cp.Currency,
		cp.Multiplier.String(), cp.DiscountPercentage.String(),
		cp.TaxRate.String(), cp.EffectivePrice.String(),
		cp.InventoryOverride, cp.StockQuantity, cp.ReservedQuantity,
		metadata, cp.LastSyncedAt.UTC(),
	)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	cp.Version = 1
	return nil
}

// Update is the guarded write: the row is only touched when its stored
// version still matches expectedVersion, bumping the version in the same
// statement so the compare-and-bump is atomic.
func (s *Store) Update(ctx context.Context, cp *channelsync.ChannelProduct, expectedVersion int64) error {
	metadata, err := encodeMetadata(cp.Metadata)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET
			available = ?, base_price = ?, price_override = ?, currency = ?,
			multiplier = ?, discount_percentage = ?, tax_rate = ?,
			effective_price = ?, inventory_override = ?, stock_quantity = ?,
			reserved_quantity = ?, metadata = ?, last_synced_at = ?,
			version = version + 1
		WHERE product_id = ? AND channel_id = ? AND version = ?`,
		s.config.TableName)

	result, err := s.db.ExecContext(ctx, query,
		cp.Available, cp.BasePrice.String(), decimalPtr(cp.PriceOverride),
		cp.Currency, cp.Multiplier.String(), cp.DiscountPercentage.String(),
		cp.TaxRate.String(), cp.EffectivePrice.String(),
		cp.InventoryOverride, cp.StockQuantity, cp.ReservedQuantity,
		metadata, cp.LastSyncedAt.UTC(),
		cp.ProductID, cp.ChannelID, expectedVersion,
	)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	if affected == 0 {
		// Distinguish a stale version from a missing row.
		var stored int64
		existsQuery := fmt.Sprintf(
			`SELECT version FROM %s WHERE product_id = ? AND channel_id = ?`,
			s.config.TableName)
		err := s.db.QueryRowContext(ctx, existsQuery, cp.ProductID, cp.ChannelID).Scan(&stored)
		if err == sql.ErrNoRows {
			return channelsync.ErrNotFound
		}
		if err != nil {
			return syncErrors.NewStorageError(syncErrors.OpStore, err)
		}
		return syncErrors.ErrVersionConflict
	}
	cp.Version = expectedVersion + 1
	return nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpClose, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*channelsync.ChannelProduct, error) {
	var (
		cp            channelsync.ChannelProduct
		basePrice     string
		priceOverride sql.NullString
		multiplier    string
		discount      string
		taxRate       string
		effective     string
		invOverride   sql.NullInt64
		metadata      sql.NullString
	)
	err := row.Scan(
		&cp.ProductID, &cp.ChannelID, &cp.Available, &basePrice,
		&priceOverride, &cp.Currency, &multiplier, &discount, &taxRate,
		&effective, &invOverride, &cp.StockQuantity, &cp.ReservedQuantity,
		&metadata, &cp.LastSyncedAt, &cp.Version,
	)
	if err != nil {
		return nil, err
	}

	if cp.BasePrice, err = decimal.NewFromString(basePrice); err != nil {
		return nil, fmt.Errorf("parsing base_price: %w", err)
	}
	if cp.Multiplier, err = decimal.NewFromString(multiplier); err != nil {
		return nil, fmt.Errorf("parsing multiplier: %w", err)
	}
	if cp.DiscountPercentage, err = decimal.NewFromString(discount); err != nil {
		return nil, fmt.Errorf("parsing discount_percentage: %w", err)
	}
	if cp.TaxRate, err = decimal.NewFromString(taxRate); err != nil {
		return nil, fmt.Errorf("parsing tax_rate: %w", err)
	}
	if cp.EffectivePrice, err = decimal.NewFromString(effective); err != nil {
		return nil, fmt.Errorf("parsing effective_price: %w", err)
	}
	if priceOverride.Valid {
		d, err := decimal.NewFromString(priceOverride.String)
		if err != nil {
			return nil, fmt.Errorf("parsing price_override: %w", err)
		}
		cp.PriceOverride = &d
	}
	if invOverride.Valid {
		v := invOverride.Int64
		cp.InventoryOverride = &v
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("parsing metadata: %w", err)
		}
	}
	return &cp, nil
}

func encodeMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding metadata: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decimalPtr(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
