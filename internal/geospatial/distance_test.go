package geospatial

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

var obelisco = Point{Lat: -34.6037, Lng: -58.3816}

func TestDistanceKm_KnownPairs(t *testing.T) {
	laPlata := Point{Lat: -34.9205, Lng: -57.9536}
	cordoba := Point{Lat: -31.4201, Lng: -64.1888}

	assert.InDelta(t, 0, DistanceKm(obelisco, obelisco), 1e-9)
	assert.InDelta(t, 52.5, DistanceKm(obelisco, laPlata), 1.0)
	assert.InDelta(t, 646, DistanceKm(obelisco, cordoba), 5.0)
	assert.InDelta(t, DistanceKm(obelisco, cordoba), DistanceKm(cordoba, obelisco), 1e-9)
}

func TestBoundingBox_ContainsEveryPointInRadius(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	centers := []Point{obelisco, {Lat: -54.8, Lng: -68.3}, {Lat: 0, Lng: 179.99}, {Lat: 89.99, Lng: 10}}

	for _, c := range centers {
		box := BoundingBox(c, 25)
		for range 2000 {
			p := Point{Lat: c.Lat + (rng.Float64()-0.5)*1.0, Lng: c.Lng + (rng.Float64()-0.5)*2.0}
			if p.Lat > 90 || p.Lat < -90 {
				continue
			}
			if DistanceKm(c, p) > 25 {
				continue
			}
			assert.True(t, p.Lat >= box.MinLat && p.Lat <= box.MaxLat, "lat %v outside box for %v", p, c)
			if !box.WrapsLng {
				assert.True(t, p.Lng >= box.MinLng && p.Lng <= box.MaxLng, "lng %v outside box for %v", p, c)
			}
		}
	}
}

func TestBoundingBox_Antimeridian(t *testing.T) {
	box := BoundingBox(Point{Lat: 0, Lng: 179.99}, 25)
	assert.True(t, box.WrapsLng)
}

func TestLimits(t *testing.T) {
	l := DefaultLimits()
	assert.Equal(t, 10.0, l.Radius(0))
	assert.Equal(t, 10.0, l.Radius(-3))
	assert.Equal(t, 5.5, l.Radius(5.5))
	assert.Equal(t, 25.0, l.Radius(100))

	assert.Equal(t, 50, l.PageSize(0))
	assert.Equal(t, 20, l.PageSize(20))
	assert.Equal(t, 200, l.PageSize(5000))
}
