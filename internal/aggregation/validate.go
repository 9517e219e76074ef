package aggregation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidRequest wraps every validation failure.
var ErrInvalidRequest = errors.New("invalid aggregation request")

var columnNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Bucket aliases are reserved so they cannot collide with requested columns.
var reservedColumns = map[string]bool{
	bucketStartAlias: true,
	bucketHourAlias:  true,
}

// window is a validated, parsed time range.
type window struct {
	start time.Time
	end   time.Time
}

// Validate checks a request before any query is built. It has no side effects.
func Validate(req Request) error {
	_, err := validate(req)
	return err
}

func validate(req Request) (window, error) {
	// Only the zero value counts as missing; ids are otherwise opaque.
	if req.MeterElementID == 0 {
		return window{}, invalidRequestf("meterElementId is required")
	}
	if req.TenantID == 0 {
		return window{}, invalidRequestf("tenantId is required")
	}
	if len(req.SelectedColumns) == 0 {
		return window{}, invalidRequestf("selectedColumns must be a non-empty list")
	}

	seen := make(map[string]bool, len(req.SelectedColumns))
	for _, c := range req.SelectedColumns {
		if !columnNamePattern.MatchString(c) {
			return window{}, invalidRequestf("invalid column name %q", c)
		}
		if reservedColumns[strings.ToLower(c)] {
			return window{}, invalidRequestf("column name %q is reserved", c)
		}
		if seen[c] {
			return window{}, invalidRequestf("duplicate column %q", c)
		}
		seen[c] = true
	}

	if req.StartDate == "" {
		return window{}, invalidRequestf("startDate is required")
	}
	if req.EndDate == "" {
		return window{}, invalidRequestf("endDate is required")
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		return window{}, invalidRequestf("invalid startDate %q", req.StartDate)
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		return window{}, invalidRequestf("invalid endDate %q", req.EndDate)
	}
	if !start.Before(end) {
		return window{}, invalidRequestf("startDate must be before endDate")
	}

	return window{start: start, end: end}, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func invalidRequestf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
