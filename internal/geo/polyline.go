package geo

import (
	"strings"

	"github.com/example/ride-dispatch/internal/models"
)

// DecodePolyline decodes a Google encoded polyline (1e-5 precision) into
// coordinates. Malformed trailing bytes terminate the decode rather than
// erroring; routing providers never emit partial chunks mid-string.
func DecodePolyline(s string) []models.Coord {
	var coords []models.Coord
	var lat, lon int64
	i := 0
	for i < len(s) {
		dLat, n := decodeChunk(s, i)
		if n == 0 {
			break
		}
		i += n
		dLon, n := decodeChunk(s, i)
		if n == 0 {
			break
		}
		i += n
		lat += dLat
		lon += dLon
		coords = append(coords, models.Coord{Lat: float64(lat) / 1e5, Lon: float64(lon) / 1e5})
	}
	return coords
}

func decodeChunk(s string, start int) (int64, int) {
	var result int64
	var shift uint
	i := start
	for i < len(s) {
		b := int64(s[i]) - 63
		i++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			if result&1 != 0 {
				return ^(result >> 1), i - start
			}
			return result >> 1, i - start
		}
	}
	return 0, 0
}

// EncodePolyline is the inverse of DecodePolyline.
func EncodePolyline(coords []models.Coord) string {
	var sb strings.Builder
	var prevLat, prevLon int64
	for _, c := range coords {
		lat := int64(c.Lat * 1e5)
		lon := int64(c.Lon * 1e5)
		encodeChunk(&sb, lat-prevLat)
		encodeChunk(&sb, lon-prevLon)
		prevLat, prevLon = lat, lon
	}
	return sb.String()
}

func encodeChunk(sb *strings.Builder, v int64) {
	u := v << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		sb.WriteByte(byte((u&0x1f)|0x20) + 63)
		u >>= 5
	}
	sb.WriteByte(byte(u) + 63)
}
