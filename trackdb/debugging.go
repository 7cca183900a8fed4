package trackdb

import (
	"context"
	"fmt"
)

// countedTables lists the tables reported on the debug page.
var countedTables = []string{
	"routes", "stops", "buses", "live_locations", "trips", "location_history", "import_metadata",
}

// TableCounts returns the row count of every tracker table.
func (c *Client) TableCounts() (map[string]int, error) {
	return c.TableCountsContext(context.Background())
}

func (c *Client) TableCountsContext(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(countedTables))
	for _, table := range countedTables {
		var n int
		// table names come from the fixed list above
		if err := c.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
