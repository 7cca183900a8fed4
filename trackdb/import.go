package trackdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/OneBusAway/go-gtfs"
	"bustracker.campus.org/internal/geo"
	"bustracker.campus.org/internal/logging"
)

// ImportGTFS seeds routes, their ordered stops and path geometry from a GTFS
// static feed. Each route takes its stop sequence from its longest trip.
// A feed whose hash and source match the last import is skipped.
func (c *Client) ImportGTFS(ctx context.Context, b []byte, source string) error {
	logger := slog.Default().With(slog.String("component", "gtfs_importer"))

	startTime := time.Now()
	defer func() {
		c.importRuntime = time.Since(startTime)
		logging.LogOperation(logger, "gtfs_seed_import_completed",
			slog.Duration("duration", c.importRuntime),
			slog.String("source", source))
	}()

	hash := sha256.Sum256(b)
	hashStr := hex.EncodeToString(hash[:])

	existing, err := c.Queries.GetImportMetadata(ctx)
	switch {
	case err == nil:
		if existing.FileHash == hashStr && existing.FileSource == source {
			logging.LogOperation(logger, "gtfs_seed_unchanged_skipping_import",
				slog.String("hash", hashStr[:8]))
			return nil
		}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("error checking import metadata: %w", err)
	}

	staticData, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return err
	}

	logging.LogOperation(logger, "gtfs_seed_parsed",
		slog.Int("warnings", len(staticData.Warnings)),
		slog.Int("routes", len(staticData.Routes)),
		slog.Int("stops", len(staticData.Stops)),
		slog.Int("trips", len(staticData.Trips)),
		slog.Int("shapes", len(staticData.Shapes)))

	longest := longestTripPerRoute(staticData.Trips)

	return c.InTx(ctx, "gtfs_seed_import", func(q *Queries) error {
		for _, r := range staticData.Routes {
			trip := longest[r.Id]

			var stops []CreateStopParams
			if trip != nil {
				stops = routeStops(r.Id, trip)
			}

			route := CreateRouteParams{
				ID:           r.Id,
				Name:         firstNonEmpty(r.LongName, r.ShortName, r.Id),
				Color:        r.Color,
				PathPolyline: routePath(trip, stops),
			}
			if _, err := q.CreateRoute(ctx, route); err != nil {
				return fmt.Errorf("unable to create route: %w", err)
			}

			if err := q.ClearStopsForRoute(ctx, r.Id); err != nil {
				return fmt.Errorf("error clearing stops for route %s: %w", r.Id, err)
			}
			for _, s := range stops {
				if _, err := q.CreateStop(ctx, s); err != nil {
					return fmt.Errorf("unable to create stop: %w", err)
				}
			}

			logging.LogOperation(logger, "route_seeded",
				slog.String("route_id", r.Id),
				slog.Int("stops", len(stops)))
		}

		return q.UpsertImportMetadata(ctx, UpsertImportMetadataParams{
			FileHash:   hashStr,
			FileSource: source,
			ImportTime: time.Now().Unix(),
		})
	})
}

func longestTripPerRoute(trips []gtfs.ScheduledTrip) map[string]*gtfs.ScheduledTrip {
	out := make(map[string]*gtfs.ScheduledTrip)
	for i := range trips {
		t := &trips[i]
		if t.Route == nil {
			continue
		}
		cur, ok := out[t.Route.Id]
		if !ok || len(t.StopTimes) > len(cur.StopTimes) ||
			(len(t.StopTimes) == len(cur.StopTimes) && t.ID < cur.ID) {
			out[t.Route.Id] = t
		}
	}
	return out
}

// routeStops numbers the trip's stops 1..N in stop_sequence order. Stop IDs
// are scoped by route since a feed stop can serve several routes.
func routeStops(routeID string, trip *gtfs.ScheduledTrip) []CreateStopParams {
	stopTimes := make([]gtfs.ScheduledStopTime, len(trip.StopTimes))
	copy(stopTimes, trip.StopTimes)
	sort.SliceStable(stopTimes, func(i, j int) bool {
		return stopTimes[i].StopSequence < stopTimes[j].StopSequence
	})

	var out []CreateStopParams
	seen := make(map[string]bool)
	for _, st := range stopTimes {
		s := st.Stop
		// Generic nodes and boarding areas may have no coordinates.
		if s == nil || s.Latitude == nil || s.Longitude == nil {
			continue
		}
		id := routeID + ":" + s.Id
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, CreateStopParams{
			ID:        id,
			RouteID:   routeID,
			Name:      firstNonEmpty(s.Name, s.Id),
			Lat:       *s.Latitude,
			Lng:       *s.Longitude,
			StopOrder: int64(len(out) + 1),
		})
	}
	return out
}

// routePath prefers the trip's shape and falls back to the stop sequence.
func routePath(trip *gtfs.ScheduledTrip, stops []CreateStopParams) sql.NullString {
	var points []geo.Point
	if trip != nil && trip.Shape != nil {
		for _, pt := range trip.Shape.Points {
			points = append(points, geo.Point{Lat: pt.Latitude, Lng: pt.Longitude})
		}
	}
	if len(points) < 2 {
		points = points[:0]
		for _, s := range stops {
			points = append(points, geo.Point{Lat: s.Lat, Lng: s.Lng})
		}
	}
	if len(points) < 2 {
		return sql.NullString{}
	}
	return ToNullString(geo.EncodePath(points))
}
