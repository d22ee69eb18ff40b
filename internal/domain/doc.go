// Package domain models the JMA high-resolution precipitation nowcast feed
// and the monitoring records derived from it.
//
// # Data Source
//
// The Japan Meteorological Agency publishes nowcast radar composites as
// Web-Mercator PNG tiles under https://www.jma.go.jp/bosai/jmatile/data/nowc/.
// Two time catalogs describe which frames exist:
//
//	targetTimes_N1.json  latest analysis frames (lead 0)
//	targetTimes_N2.json  forecast frames (leads 5..60 minutes)
//
// Catalog entries are either bare timestamp strings or objects of the form
// {"basetime": "...", "validtime": "..."}. A bare string stands for both.
//
// # Time Conventions
//
// Catalog timestamps are UTC in the fixed layout YYYYMMDDhhmmss, e.g.
// "20240426061000". Everything the service persists or shows is converted to
// JST (UTC+9, no DST) and stored as "2006-01-02 15:04:05" so that string
// order equals time order in SQLite.
//
// # Tile Addressing
//
// Tiles follow the slippy-map scheme at a fixed zoom (10 by default):
//
//	x = floor((lon+180)/360 * 2^z)
//	y = floor((1 - asinh(tan(lat))/π)/2 * 2^z)
//
// Each tile is 256x256 pixels. The projection is undefined beyond
// |lat| ≈ 85.0511°, see [ErrLatitudeOutOfRange].
//
// # Rainfall Decoding
//
// A pixel is decoded in this order:
//
//  1. Transparent pixel: no echo, 0 mm/h.
//  2. RGB within ±2 per channel of a JMA legend colour: the legend's
//     representative rate (see [ColorToRate]).
//  3. Otherwise the largest step found in a small window around the pixel,
//     converted with [StepToRate]. Steps are palette indexes for paletted
//     tiles and 1 for any other opaque pixel.
//
// Opaque pixels that match no colour and carry a step outside 1..65 decode
// to 0 mm/h. This under-reports faint echoes and is kept on purpose so the
// stored series stays comparable with historical data.
//
// JMA intensity classes used for quantization:
//
//	1, 5, 10, 20, 30, 50, 80 mm/h (values at or above 80 pass through)
package domain
