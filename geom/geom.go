// Package geom prepares source geometries for spatial filtering:
// reprojection between layer CRSes, buffering with a bounded simplification
// fallback chain, and repair of invalid rings. The preparation is a pure
// transform; the only side effect is diagnostic logging of simplification
// decisions.
package geom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/project"
	"github.com/zeebo/xxh3"
)

// ErrGeometry indicates unrepairable geometry after the buffer fallback
// chain exhausted all attempts.
var ErrGeometry = errors.New("unrepairable geometry")

// SRIDWGS84 and SRIDWebMercator are the two CRSes the preparer can convert
// between. Other projected CRS pairs pass through untouched with a warning;
// interpreting them is the host geometry stack's job.
const (
	SRIDWGS84       = 4326
	SRIDWebMercator = 3857
)

// CRS identifies a coordinate reference system by EPSG code.
type CRS struct {
	SRID       int
	Geographic bool
}

// WGS84 is the geographic default CRS.
var WGS84 = CRS{SRID: SRIDWGS84, Geographic: true}

// WebMercator is the metric CRS used for buffering geographic sources.
var WebMercator = CRS{SRID: SRIDWebMercator}

// BufferSpec requests a buffer around the source geometry. Distance is in
// the units of a metric CRS; geographic sources are reprojected for the
// buffer step and back afterward.
type BufferSpec struct {
	// Distance is the buffer distance. Negative shrinks polygons; a negative
	// distance applied to points or lines yields an empty geometry.
	Distance float64

	// Segments is the number of segments per quarter circle used to
	// approximate round caps. Zero means the preparer default.
	Segments int
}

// Prepared is the shared, prepared source geometry a filter request runs
// against. It is immutable once returned.
type Prepared struct {
	// Geometry is the repaired, reprojected, optionally buffered geometry
	// in the target CRS. Nil when Empty.
	Geometry orb.Geometry

	// CRS is the target CRS the geometry is expressed in.
	CRS CRS

	// WKB is the well-known-binary encoding of Geometry.
	WKB []byte

	// Digest is a content hash of WKB, used in artifact fingerprints.
	Digest string

	// Empty reports that preparation produced no geometry (empty source or
	// a fully collapsed negative buffer). Builders turn this into an empty
	// match set plus a warning, never an aborting error.
	Empty bool

	// Warnings are recoverable per-feature issues (for example a feature
	// whose rings could not be repaired and was skipped).
	Warnings []string
}

// Preparer prepares source geometries. The zero value is not usable; call
// NewPreparer.
type Preparer struct {
	logger *slog.Logger

	// maxBufferAttempts bounds the simplification fallback chain.
	maxBufferAttempts int

	// segments is the default quarter-circle segment count for buffers.
	segments int
}

// PreparerConfig configures a Preparer.
type PreparerConfig struct {
	// Logger receives diagnostics about simplification decisions.
	// OPTIONAL: Uses slog.Default() if nil.
	Logger *slog.Logger

	// MaxBufferAttempts bounds the buffer fallback chain.
	// OPTIONAL: If 0, defaults to 4.
	MaxBufferAttempts int

	// Segments is the default quarter-circle segment count for buffers.
	// OPTIONAL: If 0, defaults to 8.
	Segments int
}

// NewPreparer creates a Preparer.
func NewPreparer(cfg PreparerConfig) *Preparer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBufferAttempts == 0 {
		cfg.MaxBufferAttempts = 4
	}
	if cfg.Segments == 0 {
		cfg.Segments = 8
	}
	return &Preparer{
		logger:            cfg.Logger,
		maxBufferAttempts: cfg.MaxBufferAttempts,
		segments:          cfg.Segments,
	}
}

// Prepare repairs, reprojects and optionally buffers the source geometries
// and returns the shared prepared geometry expressed in target.
//
// When source is geographic and a buffer is requested, the geometry is
// projected to a metric CRS for the buffer step and projected back to target
// afterward. Buffering retries at progressively coarser simplification
// tolerances when the offset result is invalid; exhausting the attempts
// fails with ErrGeometry.
func (p *Preparer) Prepare(ctx context.Context, source []orb.Geometry, srcCRS, dstCRS CRS, buf *BufferSpec) (*Prepared, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var warnings []string

	// Repair pass. Per-feature repair failure is recoverable: the feature is
	// skipped and reported as a warning.
	repaired := make([]orb.Geometry, 0, len(source))
	for i, g := range source {
		if g == nil {
			continue
		}
		fixed, err := MakeValid(g)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("feature %d: %v (skipped)", i, err))
			continue
		}
		repaired = append(repaired, fixed)
	}

	if len(repaired) == 0 {
		return &Prepared{CRS: dstCRS, Empty: true, Warnings: warnings}, nil
	}

	geometry := collapse(repaired)
	working := srcCRS

	// Reproject to the target CRS when they differ.
	if srcCRS.SRID != dstCRS.SRID {
		converted, ok := reproject(geometry, srcCRS, dstCRS)
		if !ok {
			warnings = append(warnings, fmt.Sprintf(
				"no conversion between EPSG:%d and EPSG:%d, geometry passed through", srcCRS.SRID, dstCRS.SRID))
		} else {
			geometry = converted
		}
		working = dstCRS
	}

	if buf != nil {
		segments := buf.Segments
		if segments == 0 {
			segments = p.segments
		}

		// Geographic CRSes use angular units; switch to a metric CRS for the
		// buffer step and reproject back afterward.
		metric := working
		if working.Geographic {
			geometry = project.Geometry(orb.Clone(geometry), project.WGS84.ToMercator)
			metric = WebMercator
			p.logger.Debug("buffer on geographic CRS, using metric CRS",
				"source_srid", working.SRID, "metric_srid", metric.SRID)
		}

		buffered, err := p.bufferWithFallback(ctx, geometry, buf.Distance, segments)
		if err != nil {
			return nil, err
		}

		if buffered == nil {
			// Negative buffer collapsed the geometry entirely.
			warnings = append(warnings, "buffer collapsed geometry to empty")
			return &Prepared{CRS: dstCRS, Empty: true, Warnings: warnings}, nil
		}

		if working.Geographic {
			buffered = project.Geometry(buffered, project.Mercator.ToWGS84)
		}
		geometry = buffered
	}

	data, err := wkb.Marshal(geometry)
	if err != nil {
		return nil, fmt.Errorf("encode prepared geometry: %w", err)
	}

	return &Prepared{
		Geometry: geometry,
		CRS:      dstCRS,
		WKB:      data,
		Digest:   fmt.Sprintf("%016x", xxh3.Hash(data)),
		Warnings: warnings,
	}, nil
}

// bufferWithFallback attempts the requested buffer and, on an invalid
// result, retries with progressively coarser simplification of the input.
func (p *Preparer) bufferWithFallback(ctx context.Context, g orb.Geometry, distance float64, segments int) (orb.Geometry, error) {
	input := g
	tolerance := 0.0

	for attempt := 0; attempt < p.maxBufferAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		buffered, empty := Buffer(input, distance, segments)
		if empty {
			return nil, nil
		}
		if Valid(buffered) {
			if attempt > 0 {
				p.logger.Debug("buffer succeeded after simplification",
					"attempt", attempt, "tolerance", tolerance)
			}
			return buffered, nil
		}

		// Coarser simplification for the next attempt. The first retry uses
		// 1% of the buffer distance and each subsequent one doubles it.
		tolerance = abs(distance) * 0.01 * float64(int(1)<<uint(attempt))
		input = simplifyGeometry(g, tolerance)
		p.logger.Debug("buffer produced invalid geometry, simplifying input",
			"attempt", attempt+1, "tolerance", tolerance)
	}

	return nil, fmt.Errorf("%w: buffer invalid after %d simplification attempts", ErrGeometry, p.maxBufferAttempts)
}

// reproject converts between the CRS pairs the engine understands. Returns
// ok=false when no conversion exists.
func reproject(g orb.Geometry, src, dst CRS) (orb.Geometry, bool) {
	switch {
	case src.SRID == SRIDWGS84 && dst.SRID == SRIDWebMercator:
		return project.Geometry(orb.Clone(g), project.WGS84.ToMercator), true
	case src.SRID == SRIDWebMercator && dst.SRID == SRIDWGS84:
		return project.Geometry(orb.Clone(g), project.Mercator.ToWGS84), true
	case src.SRID == dst.SRID:
		return g, true
	default:
		return g, false
	}
}

// collapse merges repaired features into one geometry: a single feature
// stays as is, several become a collection.
func collapse(gs []orb.Geometry) orb.Geometry {
	if len(gs) == 1 {
		return gs[0]
	}
	return orb.Collection(gs)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
