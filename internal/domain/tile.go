package domain

import (
	"errors"
	"math"
)

// TileSize is the edge length of a map tile in pixels.
const TileSize = 256

// MaxLatitude is the Web-Mercator latitude limit.
const MaxLatitude = 85.05112878

// ErrLatitudeOutOfRange is returned for latitudes the projection cannot represent.
var ErrLatitudeOutOfRange = errors.New("latitude out of web mercator range")

// project returns the fractional tile coordinates of (lat, lon) at zoom.
func project(lat, lon float64, zoom int) (fx, fy float64, err error) {
	if math.IsNaN(lat) || math.Abs(lat) >= MaxLatitude {
		return 0, 0, ErrLatitudeOutOfRange
	}
	n := math.Exp2(float64(zoom))
	latRad := lat * math.Pi / 180
	fx = (lon + 180) / 360 * n
	fy = (1 - math.Asinh(math.Tan(latRad))/math.Pi) / 2 * n
	return fx, fy, nil
}

// TileIndex returns the slippy-map tile containing (lat, lon).
func TileIndex(lat, lon float64, zoom int) (x, y int, err error) {
	fx, fy, err := project(lat, lon, zoom)
	if err != nil {
		return 0, 0, err
	}
	return int(math.Floor(fx)), int(math.Floor(fy)), nil
}

// PixelInTile returns the pixel inside the tile from TileIndex that covers (lat, lon).
func PixelInTile(lat, lon float64, zoom int) (px, py int, err error) {
	fx, fy, err := project(lat, lon, zoom)
	if err != nil {
		return 0, 0, err
	}
	px = int((fx - math.Floor(fx)) * TileSize)
	py = int((fy - math.Floor(fy)) * TileSize)
	return px, py, nil
}

// PixelToLatLon returns the coordinate of the top-left corner of a pixel.
func PixelToLatLon(x, y, px, py, zoom int) (lat, lon float64) {
	n := math.Exp2(float64(zoom))
	gx := float64(x) + float64(px)/TileSize
	gy := float64(y) + float64(py)/TileSize
	lon = gx/n*360 - 180
	lat = math.Atan(math.Sinh(math.Pi*(1-2*gy/n))) * 180 / math.Pi
	return lat, lon
}
