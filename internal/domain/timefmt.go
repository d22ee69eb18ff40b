package domain

import (
	"fmt"
	"time"
)

const (
	// CatalogLayout is the UTC timestamp layout used by the time catalogs and tile paths.
	CatalogLayout = "20060102150405"
	// StoreLayout is the JST layout used for persisted timestamps.
	StoreLayout = "2006-01-02 15:04:05"
)

// JST is Japan Standard Time. Japan has no DST, so a fixed zone is exact.
var JST = time.FixedZone("JST", 9*60*60)

// ParseCatalogTime parses a catalog timestamp as UTC.
func ParseCatalogTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(CatalogLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse catalog time %q: %w", s, err)
	}
	return t, nil
}

// FormatCatalogTime formats t in the catalog layout (UTC).
func FormatCatalogTime(t time.Time) string {
	return t.UTC().Format(CatalogLayout)
}

// FormatStoreTime formats t as a JST store timestamp.
func FormatStoreTime(t time.Time) string {
	return t.In(JST).Format(StoreLayout)
}

// ParseStoreTime parses a JST store timestamp.
func ParseStoreTime(s string) (time.Time, error) {
	return time.ParseInLocation(StoreLayout, s, JST)
}
