// Package geo holds the pure geospatial math shared by the tracking
// components: great-circle distance and projection, bearing, and
// point-to-segment matching.
package geo

import (
	"math"

	"github.com/example/ride-dispatch/internal/models"
)

const earthRadiusM = 6371000.0

func toRad(deg float64) float64 { return deg * math.Pi / 180.0 }

func toDeg(rad float64) float64 { return rad * 180.0 / math.Pi }

// Haversine distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// Distance is Haversine over Coord values.
func Distance(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Bearing returns the initial great-circle bearing from a to b in degrees,
// normalized to [0, 360).
func Bearing(a, b models.Coord) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLon := toRad(b.Lon - a.Lon)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := toDeg(math.Atan2(y, x))
	return math.Mod(deg+360, 360)
}

// Destination computes the great-circle destination point from start along
// bearingDeg for distM meters.
func Destination(start models.Coord, bearingDeg, distM float64) models.Coord {
	lat1 := toRad(start.Lat)
	lon1 := toRad(start.Lon)
	brng := toRad(bearingDeg)
	ang := distM / earthRadiusM

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ang) + math.Cos(lat1)*math.Sin(ang)*math.Cos(brng))
	lon2 := lon1 + math.Atan2(
		math.Sin(brng)*math.Sin(ang)*math.Cos(lat1),
		math.Cos(ang)-math.Sin(lat1)*math.Sin(lat2),
	)
	return models.Coord{Lat: toDeg(lat2), Lon: toDeg(lon2)}
}

// PointToSegment projects p onto segment a-b and returns the nearest point
// on the segment, the distance to it in meters, and the fraction along the
// segment in [0,1]. The projection uses a local equirectangular plane, which
// is accurate for street-scale segments.
func PointToSegment(p, a, b models.Coord) (models.Coord, float64, float64) {
	latRef := toRad((a.Lat + b.Lat) / 2)
	cosRef := math.Cos(latRef)

	ax, ay := a.Lon*cosRef, a.Lat
	bx, by := b.Lon*cosRef, b.Lat
	px, py := p.Lon*cosRef, p.Lat

	dx, dy := bx-ax, by-ay
	segLenSq := dx*dx + dy*dy

	var t float64
	if segLenSq > 0 {
		t = ((px-ax)*dx + (py-ay)*dy) / segLenSq
		t = math.Max(0, math.Min(1, t))
	}

	nearest := models.Coord{
		Lat: a.Lat + t*(b.Lat-a.Lat),
		Lon: a.Lon + t*(b.Lon-a.Lon),
	}
	return nearest, Distance(p, nearest), t
}
