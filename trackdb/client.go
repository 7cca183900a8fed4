package trackdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"bustracker.campus.org/internal/appconf"
	"bustracker.campus.org/internal/logging"
)

// Config holds the settings used to open the tracking database.
type Config struct {
	DBPath  string
	Env     appconf.Environment
	verbose bool
}

func NewConfig(dbPath string, env appconf.Environment, verbose bool) Config {
	return Config{
		DBPath:  dbPath,
		Env:     env,
		verbose: verbose,
	}
}

// Client is the main entry point for the library
type Client struct {
	config        Config
	DB            *sql.DB
	Queries       *Queries
	importRuntime time.Duration
}

// NewClient opens the database, applies the schema and returns a ready Client.
func NewClient(config Config) (*Client, error) {
	db, err := createDB(config)
	if err != nil {
		return nil, fmt.Errorf("unable to open tracker database: %w", err)
	}
	return &Client{config: config, DB: db, Queries: New(db)}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) GetDBPath() string {
	return c.config.DBPath
}

// ImportRuntime reports how long the last GTFS import took.
func (c *Client) ImportRuntime() time.Duration {
	return c.importRuntime
}

// ImportFromFile seeds routes and stops from a local GTFS zip file.
func (c *Client) ImportFromFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return c.ImportGTFS(ctx, data, path)
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (c *Client) InTx(ctx context.Context, op string, fn func(q *Queries) error) error {
	logger := slog.Default().With(slog.String("component", "trackdb"))

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer logging.SafeRollbackWithLogging(tx, logger, op)

	if err := fn(c.Queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// DeleteStop removes a stop and compacts the stop_order values of the
// stops after it so the route keeps a dense 1..N sequence.
func (c *Client) DeleteStop(ctx context.Context, stopID string) error {
	return c.InTx(ctx, "delete_stop", func(q *Queries) error {
		stop, err := q.GetStop(ctx, stopID)
		if err != nil {
			return err
		}

		if _, err := q.DeleteStopRow(ctx, stopID); err != nil {
			return fmt.Errorf("error deleting stop %s: %w", stopID, err)
		}

		shift := ShiftStopOrdersParams{RouteID: stop.RouteID, StopOrder: stop.StopOrder}
		if err := q.NegateStopOrdersAfter(ctx, shift); err != nil {
			return fmt.Errorf("error shifting stop orders: %w", err)
		}
		if err := q.RestoreShiftedStopOrders(ctx, stop.RouteID); err != nil {
			return fmt.Errorf("error restoring stop orders: %w", err)
		}
		return nil
	})
}

// ListTripsForBus returns the most recent trips of a bus, newest first.
func (c *Client) ListTripsForBus(ctx context.Context, busID string, limit int) ([]Trip, error) {
	if limit <= 0 {
		limit = 20
	}
	return c.Queries.ListTripsForBus(ctx, ListTripsForBusParams{BusID: busID, Limit: int64(limit)})
}
