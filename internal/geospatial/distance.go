// Package geospatial selects and orders stations by great-circle distance.
package geospatial

import "math"

// EarthRadiusKm is the mean Earth radius used for all distances.
const EarthRadiusKm = 6371.0088

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceKm returns the haversine distance between a and b. Filtering,
// ordering and display all go through this function.
func DistanceKm(a, b Point) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// BBox represents a geographic bounding box.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
	// WrapsLng is set when the box crosses the antimeridian or a pole, in
	// which case longitude must not be used as a prefilter.
	WrapsLng bool `json:"wraps_lng"`
}

// BoundingBox returns a box containing every point within radiusKm of c.
// It is only a prefilter; DistanceKm decides membership.
func BoundingBox(c Point, radiusKm float64) BBox {
	// Padded by 1%: the box must contain every point DistanceKm accepts.
	r := radiusKm * 1.01
	dLat := r / EarthRadiusKm * 180 / math.Pi

	box := BBox{
		MinLat: math.Max(-90, c.Lat-dLat),
		MaxLat: math.Min(90, c.Lat+dLat),
	}

	cosLat := math.Cos(radians(math.Max(math.Abs(box.MinLat), math.Abs(box.MaxLat))))
	if cosLat < 1e-9 {
		box.WrapsLng = true
		box.MinLng, box.MaxLng = -180, 180
		return box
	}
	dLng := dLat / cosLat
	box.MinLng, box.MaxLng = c.Lng-dLng, c.Lng+dLng
	if box.MinLng < -180 || box.MaxLng > 180 {
		box.WrapsLng = true
		box.MinLng, box.MaxLng = -180, 180
	}
	return box
}
