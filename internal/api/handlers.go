package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/fuel-index/internal/consolidate"
	"github.com/sells-group/fuel-index/internal/geospatial"
	"github.com/sells-group/fuel-index/internal/model"
	"github.com/sells-group/fuel-index/internal/stations"
)

// requestError is a client mistake. Its message is returned in the 400 body.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// searchRequest is the raw query string after type conversion.
type searchRequest struct {
	Lat       *float64 `validate:"required_with=Lng,omitempty,latitude"`
	Lng       *float64 `validate:"required_with=Lat,omitempty,longitude"`
	Radius    float64  `validate:"gte=0"`
	Companies []string `validate:"dive,max=100"`
	Province  string   `validate:"max=100"`
	Locality  string   `validate:"max=100"`
	FuelType  string   `validate:"omitempty,oneof=regular premium diesel premium_diesel cng"`
	Schedule  string   `validate:"omitempty,oneof=day night"`
	MinPrice  string   `validate:"omitempty,numeric"`
	MaxPrice  string   `validate:"omitempty,numeric"`
	Limit     int      `validate:"gte=0"`
	Offset    int      `validate:"gte=0"`
}

type stationJSON struct {
	ID         string                  `json:"id"`
	Name       string                  `json:"name"`
	Company    string                  `json:"company"`
	TaxID      string                  `json:"tax_id,omitempty"`
	Address    string                  `json:"address"`
	Locality   string                  `json:"locality"`
	Province   string                  `json:"province"`
	Region     string                  `json:"region"`
	Location   *geojson.Geometry       `json:"location,omitempty"`
	DistanceKm *float64                `json:"distance_km,omitempty"`
	UpdatedAt  time.Time               `json:"updated_at"`
	Prices     []consolidate.PriceView `json:"prices"`
}

type searchResponse struct {
	Stations      []stationJSON   `json:"stations"`
	Pagination    geospatial.Page `json:"pagination"`
	RadiusKm      float64         `json:"radius_km,omitempty"`
	CrowdDegraded bool            `json:"crowd_degraded,omitempty"`
}

type detailResponse struct {
	Station       stationJSON               `json:"station"`
	Crowd         []consolidate.FuelSummary `json:"crowd"`
	CrowdDegraded bool                      `json:"crowd_degraded,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) searchStations(w http.ResponseWriter, r *http.Request) {
	params, err := s.parseSearch(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.Search(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := searchResponse{
		Stations:      make([]stationJSON, 0, len(res.Stations)),
		Pagination:    res.Page,
		RadiusKm:      res.RadiusKm,
		CrowdDegraded: res.CrowdDegraded,
	}
	for _, sv := range res.Stations {
		out.Stations = append(out.Stations, s.stationJSON(sv.Station, sv.DistanceKm, sv.Prices))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) stationDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		s.writeError(w, r, badRequest("missing station id"))
		return
	}

	d, err := s.svc.Detail(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	crowd := d.Crowd
	if crowd == nil {
		crowd = []consolidate.FuelSummary{}
	}
	writeJSON(w, http.StatusOK, detailResponse{
		Station:       s.stationJSON(d.Station, nil, d.Prices),
		Crowd:         crowd,
		CrowdDegraded: d.CrowdDegraded,
	})
}

func (s *Server) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.CacheStats())
}

func (s *Server) parseSearch(r *http.Request) (stations.SearchParams, error) {
	q := r.URL.Query()
	var req searchRequest
	var err error

	if req.Lat, err = optFloat(q.Get("lat"), "lat"); err != nil {
		return stations.SearchParams{}, err
	}
	if req.Lng, err = optFloat(q.Get("lng"), "lng"); err != nil {
		return stations.SearchParams{}, err
	}
	if v, err := optFloat(q.Get("radius"), "radius"); err != nil {
		return stations.SearchParams{}, err
	} else if v != nil {
		req.Radius = *v
	}
	if req.Limit, err = optInt(q.Get("limit"), "limit"); err != nil {
		return stations.SearchParams{}, err
	}
	if req.Offset, err = optInt(q.Get("offset"), "offset"); err != nil {
		return stations.SearchParams{}, err
	}
	for _, c := range strings.Split(q.Get("company"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			req.Companies = append(req.Companies, c)
		}
	}
	req.Province = strings.TrimSpace(q.Get("province"))
	req.Locality = strings.TrimSpace(q.Get("locality"))
	req.FuelType = strings.ToLower(strings.TrimSpace(q.Get("fuel_type")))
	req.Schedule = strings.ToLower(strings.TrimSpace(q.Get("schedule")))
	req.MinPrice = strings.TrimSpace(q.Get("min_price"))
	req.MaxPrice = strings.TrimSpace(q.Get("max_price"))

	if err := s.validate.Struct(req); err != nil {
		return stations.SearchParams{}, validationError(err)
	}

	p := stations.SearchParams{
		RadiusKm:  req.Radius,
		Companies: req.Companies,
		Province:  req.Province,
		Locality:  req.Locality,
		Schedule:  model.Schedule(req.Schedule),
		Limit:     req.Limit,
		Offset:    req.Offset,
	}
	if req.Lat != nil && req.Lng != nil {
		p.Center = &geospatial.Point{Lat: *req.Lat, Lng: *req.Lng}
	}
	if req.FuelType != "" {
		ft := model.FuelType(req.FuelType)
		p.FuelType = &ft
	}
	if req.MinPrice != "" {
		d := decimal.RequireFromString(req.MinPrice)
		p.MinPrice = &d
	}
	if req.MaxPrice != "" {
		d := decimal.RequireFromString(req.MaxPrice)
		p.MaxPrice = &d
	}
	if p.MinPrice != nil && p.MaxPrice != nil && p.MinPrice.GreaterThan(*p.MaxPrice) {
		return stations.SearchParams{}, badRequest("min_price is greater than max_price")
	}
	return p, nil
}

func optFloat(raw, name string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, badRequest("invalid %s", name)
	}
	return &v, nil
}

func optInt(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid %s", name)
	}
	return v, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return badRequest("invalid %s", queryName(verrs[0].Field()))
	}
	return badRequest("invalid query")
}

var queryNames = map[string]string{
	"Lat": "lat", "Lng": "lng", "Radius": "radius", "Companies": "company",
	"Province": "province", "Locality": "locality", "FuelType": "fuel_type",
	"Schedule": "schedule", "MinPrice": "min_price", "MaxPrice": "max_price",
	"Limit": "limit", "Offset": "offset",
}

func queryName(field string) string {
	if n, ok := queryNames[field]; ok {
		return n
	}
	return strings.ToLower(field)
}

func (s *Server) stationJSON(st model.Station, dist *float64, prices []consolidate.PriceView) stationJSON {
	if prices == nil {
		prices = []consolidate.PriceView{}
	}
	out := stationJSON{
		ID:         st.ID,
		Name:       st.Name,
		Company:    st.Company,
		TaxID:      st.TaxID,
		Address:    st.Address,
		Locality:   st.Locality,
		Province:   st.Province,
		Region:     st.Region,
		DistanceKm: dist,
		UpdatedAt:  st.UpdatedAt,
		Prices:     prices,
	}
	loc, err := geojson.Encode(geom.NewPointFlat(geom.XY, []float64{st.Longitude, st.Latitude}))
	if err != nil {
		s.log.Warn("encode station location", zap.String("station_id", st.ID), zap.Error(err))
	} else {
		out.Location = loc
	}
	return out
}

// writeError maps err to a status code. Bodies never carry internal detail
// except for 400s, which echo the offending parameter.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": reqErr.msg})
	case errors.Is(err, stations.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
