// Package feed parses the official price CSV into station and price candidates.
package feed

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fuel-index/internal/fetcher"
	"github.com/sells-group/fuel-index/internal/model"
)

// SkipReason classifies a non-fatal row rejection.
type SkipReason string

const (
	SkipInvalidCoordinates SkipReason = "invalid_coordinates"
	SkipInvalidDate        SkipReason = "invalid_date"
	SkipInvalidPrice       SkipReason = "invalid_price"
	SkipUnmappedProduct    SkipReason = "unmapped_product"
	SkipMissingStationID   SkipReason = "missing_station_id"
	SkipMalformedRow       SkipReason = "malformed_row"
)

// requiredColumns must be present in the header for the feed to be usable.
var requiredColumns = []string{"idempresa", "producto", "precio"}

// Record is one raw feed row bound by header name.
type Record struct {
	StationID string `csv:"idempresa"`
	Name      string `csv:"empresa"`
	TaxID     string `csv:"cuit"`
	Company   string `csv:"empresabandera"`
	Address   string `csv:"direccion"`
	Locality  string `csv:"localidad"`
	Province  string `csv:"provincia"`
	Region    string `csv:"region"`
	Product   string `csv:"producto"`
	Schedule  string `csv:"tipohorario"`
	Price     string `csv:"precio"`
	ValidFrom string `csv:"fecha_vigencia"`
	Latitude  string `csv:"latitud"`
	Longitude string `csv:"longitud"`
}

// Options configures Parse.
type Options struct {
	Delimiter rune
	Limit     int    // stop after this many data rows (0 = all)
	SourceTag string // stored on every station
	Now       func() time.Time
}

// ParseReport counts rows read and rows skipped by reason.
type ParseReport struct {
	RowsRead int                `json:"rows_read"`
	Skipped  map[SkipReason]int `json:"skipped"`
}

// SkippedTotal returns the number of skipped rows.
func (r ParseReport) SkippedTotal() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}

func (r *ParseReport) skip(reason SkipReason) {
	if r.Skipped == nil {
		r.Skipped = make(map[SkipReason]int)
	}
	r.Skipped[reason]++
}

// Batch is the normalized content of one feed.
type Batch struct {
	// Stations is keyed by station ID. Attributes come from the first row
	// seen for each station.
	Stations map[string]model.Station
	// StationOrder lists station IDs in first-seen order.
	StationOrder []string
	Prices       []model.Price
	Report       ParseReport
}

// StationList returns the stations in first-seen order.
func (b *Batch) StationList() []model.Station {
	out := make([]model.Station, 0, len(b.StationOrder))
	for _, id := range b.StationOrder {
		out = append(out, b.Stations[id])
	}
	return out
}

// Parse reads the feed and normalizes it. Row-level problems are counted in
// the report and logged; only an unreadable header or an I/O error fails.
func Parse(r io.Reader, opts Options) (*Batch, error) {
	log := zap.L().With(zap.String("component", "fuelsync.feed"))
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	reportedAt := now().UTC()

	cr := fetcher.NewCSVReader(r, fetcher.CSVOptions{Delimiter: opts.Delimiter})

	raw, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "feed: read header")
	}
	header := make([]string, len(raw))
	for i, h := range raw {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return nil, eris.Wrap(err, "feed: create decoder")
	}

	batch := &Batch{Stations: make(map[string]model.Station)}
	rep := &batch.Report

	for opts.Limit <= 0 || rep.RowsRead < opts.Limit {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		rep.RowsRead++
		if err != nil {
			var perr *csv.ParseError
			if errors.Is(err, csvutil.ErrFieldCount) || errors.As(err, &perr) {
				log.Debug("skipping row", zap.Int("row", rep.RowsRead), zap.String("reason", string(SkipMalformedRow)), zap.Error(err))
				rep.skip(SkipMalformedRow)
				continue
			}
			return nil, eris.Wrapf(err, "feed: decode row %d", rep.RowsRead)
		}

		station, price, reason := normalizeRecord(rec, opts.SourceTag, reportedAt)
		if reason != "" {
			log.Debug("skipping row",
				zap.Int("row", rep.RowsRead),
				zap.String("reason", string(reason)),
				zap.String("station_id", rec.StationID),
				zap.String("product", rec.Product),
			)
			rep.skip(reason)
			continue
		}

		if _, seen := batch.Stations[station.ID]; !seen {
			batch.Stations[station.ID] = station
			batch.StationOrder = append(batch.StationOrder, station.ID)
		}
		batch.Prices = append(batch.Prices, price)
	}

	if n := rep.Skipped[SkipUnmappedProduct]; n > 0 {
		log.Warn("rows with unmapped products skipped", zap.Int("count", n))
	}
	log.Info("feed parsed",
		zap.Int("rows_read", rep.RowsRead),
		zap.Int("rows_skipped", rep.SkippedTotal()),
		zap.Int("stations", len(batch.Stations)),
		zap.Int("prices", len(batch.Prices)),
	)
	return batch, nil
}

func checkHeader(header []string) error {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var missing []string
	for _, col := range requiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("feed: header missing required columns %s", strings.Join(missing, ", "))
	}
	return nil
}

// normalizeRecord converts one row. A non-empty reason means the row is skipped.
func normalizeRecord(rec Record, sourceTag string, reportedAt time.Time) (model.Station, model.Price, SkipReason) {
	id := strings.TrimSpace(rec.StationID)
	if id == "" {
		return model.Station{}, model.Price{}, SkipMissingStationID
	}

	lat, lng, err := ParseCoords(rec.Latitude, rec.Longitude)
	if err != nil {
		return model.Station{}, model.Price{}, SkipInvalidCoordinates
	}

	fuel, ok := MapProduct(rec.Product)
	if !ok {
		return model.Station{}, model.Price{}, SkipUnmappedProduct
	}

	validFrom, err := ParseDate(rec.ValidFrom)
	if err != nil {
		return model.Station{}, model.Price{}, SkipInvalidDate
	}

	amount, err := ParsePrice(rec.Price)
	if err != nil {
		return model.Station{}, model.Price{}, SkipInvalidPrice
	}

	station := model.Station{
		ID:        id,
		Name:      strings.TrimSpace(rec.Name),
		Company:   strings.TrimSpace(rec.Company),
		TaxID:     strings.TrimSpace(rec.TaxID),
		Address:   strings.TrimSpace(rec.Address),
		Locality:  strings.TrimSpace(rec.Locality),
		Province:  strings.TrimSpace(rec.Province),
		Region:    ResolveRegion(rec.Region, rec.Province),
		Latitude:  lat,
		Longitude: lng,
		Source:    sourceTag,
	}
	price := model.Price{
		StationID:  id,
		FuelType:   fuel,
		Schedule:   MapSchedule(rec.Schedule),
		Price:      amount,
		ValidFrom:  validFrom,
		Source:     model.SourceOfficial,
		Validated:  true,
		ReportedAt: reportedAt,
	}
	return station, price, ""
}
