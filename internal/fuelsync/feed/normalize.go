package feed

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/fuel-index/internal/model"
)

// RegionFallback is used when neither the region column nor the province
// lookup yields a region.
const RegionFallback = "SIN REGION"

// productTable maps folded feed product names to canonical fuel types.
var productTable = map[string]model.FuelType{
	"nafta (super) entre 92 y 95 ron":  model.FuelRegular,
	"nafta (premium) de mas de 95 ron": model.FuelPremium,
	"gas oil grado 2":                  model.FuelDiesel,
	"gas oil grado 3":                  model.FuelPremiumDiesel,
	"gnc":                              model.FuelCNG,
}

// provinceRegions maps folded province names to regions.
var provinceRegions = map[string]string{
	"jujuy":               "NOA",
	"salta":               "NOA",
	"tucuman":             "NOA",
	"catamarca":           "NOA",
	"santiago del estero": "NOA",
	"la rioja":            "NOA",

	"misiones":   "NEA",
	"corrientes": "NEA",
	"chaco":      "NEA",
	"formosa":    "NEA",

	"mendoza":  "CUYO",
	"san juan": "CUYO",
	"san luis": "CUYO",

	"buenos aires":                    "PAMPEANA",
	"capital federal":                 "PAMPEANA",
	"caba":                            "PAMPEANA",
	"ciudad autonoma de buenos aires": "PAMPEANA",
	"cordoba":                         "PAMPEANA",
	"santa fe":                        "PAMPEANA",
	"entre rios":                      "PAMPEANA",
	"la pampa":                        "PAMPEANA",

	"neuquen":          "PATAGONIA",
	"rio negro":        "PATAGONIA",
	"chubut":           "PATAGONIA",
	"santa cruz":       "PATAGONIA",
	"tierra del fuego": "PATAGONIA",
	"tierra del fuego, antartida e islas del atlantico sur": "PATAGONIA",
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

// Fold lower-cases s, strips diacritics and collapses internal whitespace.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// MapProduct resolves a feed product name. The bool is false for products
// outside the lookup table.
func MapProduct(name string) (model.FuelType, bool) {
	ft, ok := productTable[Fold(name)]
	return ft, ok
}

// MapSchedule returns night when the label mentions a night marker.
func MapSchedule(label string) model.Schedule {
	l := Fold(label)
	if strings.Contains(l, "noct") || strings.Contains(l, "night") {
		return model.ScheduleNight
	}
	return model.ScheduleDay
}

// ResolveRegion prefers the explicit region, then the province table.
func ResolveRegion(region, province string) string {
	if r := strings.TrimSpace(region); r != "" {
		return strings.ToUpper(Fold(r))
	}
	if r, ok := provinceRegions[Fold(province)]; ok {
		return r
	}
	return RegionFallback
}

// ParseDate parses a validity timestamp in any of the feed's layouts.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, eris.New("feed: empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("feed: unparseable date %q", s)
}

// normalizeNumber converts "1.234,56" and "1234,56" to "1234.56".
func normalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
		}
		s = strings.ReplaceAll(s, ",", ".")
	}
	return s
}

// ParsePrice parses a strictly positive decimal price.
func ParsePrice(s string) (decimal.Decimal, error) {
	n := normalizeNumber(s)
	if n == "" {
		return decimal.Zero, eris.New("feed: empty price")
	}
	d, err := decimal.NewFromString(n)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "feed: parse price %q", s)
	}
	if !d.IsPositive() {
		return decimal.Zero, eris.Errorf("feed: non-positive price %q", s)
	}
	return d, nil
}

// ParseCoords parses a latitude/longitude pair. Zero, missing, NaN or
// out-of-range coordinates are rejected.
func ParseCoords(latS, lngS string) (float64, float64, error) {
	lat, err := strconv.ParseFloat(normalizeNumber(latS), 64)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "feed: parse latitude %q", latS)
	}
	lng, err := strconv.ParseFloat(normalizeNumber(lngS), 64)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "feed: parse longitude %q", lngS)
	}
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return 0, 0, eris.Errorf("feed: coordinates not a number (%q, %q)", latS, lngS)
	}
	if lat == 0 || lng == 0 || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, eris.Errorf("feed: coordinates out of range (%v, %v)", lat, lng)
	}
	return lat, lng, nil
}
