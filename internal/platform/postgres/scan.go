package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phrazzld/tasksync/internal/domain"
)

// sqliteTimeLayouts are tried in order when a timestamp arrives as text.
var sqliteTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// nullTime scans timestamps from either driver. pgx hands back time.Time;
// SQLite may hand back text.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(src any) error {
	n.Time, n.Valid = time.Time{}, false
	switch v := src.(type) {
	case nil:
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	case int64:
		n.Time, n.Valid = time.Unix(v, 0).UTC(), true
		return nil
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (n *nullTime) parse(s string) error {
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}

// Ptr returns nil for NULL.
func (n nullTime) Ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

// timeArg normalizes a timestamp argument to UTC.
func timeArg(t time.Time) time.Time {
	return t.UTC()
}

// nullTimeArg is timeArg for optional timestamps.
func nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// regionArg encodes an optional region as JSON text.
func regionArg(r *domain.Region) (any, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode region: %w", err)
	}
	return string(b), nil
}

// scanRegion decodes a region column.
func scanRegion(col sql.NullString) (*domain.Region, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var r domain.Region
	if err := json.Unmarshal([]byte(col.String), &r); err != nil {
		return nil, fmt.Errorf("failed to decode region: %w", err)
	}
	return &r, nil
}
