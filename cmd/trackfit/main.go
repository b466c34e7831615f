// Command trackfit fits synthetic straight-line tracks through a telescope of
// measurement planes and records the outcomes. It exists to exercise the fit
// pipeline end-to-end: generation, filtering, smoothing, persistence and
// residual reports.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/config"
	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/report"
	sqlitestore "github.com/banshee-data/trackfit/internal/storage/sqlite"
	"github.com/banshee-data/trackfit/internal/track"
	"github.com/banshee-data/trackfit/internal/track/fit"
	"github.com/banshee-data/trackfit/internal/track/fit/estimator"
	"github.com/banshee-data/trackfit/internal/track/linetrace"
)

func main() {
	var (
		dbPath     = flag.String("db", "trackfit.db", "sqlite database for fit results ('' disables persistence)")
		configPath = flag.String("config", "", "optional JSON tuning file")
		nTracks    = flag.Int("tracks", 10, "number of synthetic tracks to fit")
		nSurfaces  = flag.Int("surfaces", 6, "number of measurement planes")
		spacing    = flag.Float64("spacing", 100.0, "plane spacing in mm")
		sigma      = flag.Float64("sigma", 0.05, "measurement smearing in mm")
		thickness  = flag.Float64("x0", 0.01, "plane thickness in radiation lengths (0 disables material)")
		momentum   = flag.Float64("momentum", 1.0, "truth momentum in GeV")
		reverse    = flag.Bool("reverse", false, "smooth with a backward filter pass instead of the gain-matrix smoother")
		chi2Cut    = flag.Float64("outlier-cut", 0.0, "chi2 cut for outlier rejection (0 disables)")
		reportDir  = flag.String("report-dir", "", "directory for residual reports ('' disables)")
		seed       = flag.Int64("seed", 1, "random seed")
		verbose    = flag.Bool("verbose", false, "per-step debug logging")
	)
	flag.Parse()

	if err := run(*dbPath, *configPath, *reportDir, *nTracks, *nSurfaces,
		*spacing, *sigma, *thickness, *momentum, *chi2Cut, *seed, *reverse, *verbose); err != nil {
		log.Fatalf("trackfit: %v", err)
	}
}

func run(dbPath, configPath, reportDir string, nTracks, nSurfaces int,
	spacing, sigma, thickness, momentum, chi2Cut float64, seed int64, reverse, verbose bool) error {

	logger := zap.NewNop()
	if verbose {
		dev, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		logger = dev
		defer logger.Sync()
	}

	tuning, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if tuning.ReversedFiltering != nil {
		reverse = *tuning.ReversedFiltering
	}
	if tuning.OutlierChi2Cut != nil {
		chi2Cut = *tuning.OutlierChi2Cut
	}
	if tuning.MeasurementSigma != nil {
		sigma = *tuning.MeasurementSigma
	}
	if tuning.SurfaceSpacing != nil {
		spacing = *tuning.SurfaceSpacing
	}

	var store *sqlitestore.FitStore
	if dbPath != "" {
		db, err := sqlitestore.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		store = sqlitestore.NewFitStore(db)
	}

	surfaces, target := buildTelescope(nSurfaces, spacing, thickness)
	prop := linetrace.New(surfaces)
	fitter := fit.NewFitter(prop, logger)

	opts := fit.DefaultOptions()
	opts.TargetSurface = target
	opts.ReversedFiltering = reverse
	opts.MultipleScattering = thickness > 0
	opts.EnergyLoss = thickness > 0
	if tuning.MultipleScattering != nil {
		opts.MultipleScattering = *tuning.MultipleScattering
	}
	if tuning.EnergyLoss != nil {
		opts.EnergyLoss = *tuning.EnergyLoss
	}
	if tuning.ReversedFilteringCovarianceScaling != nil {
		opts.ReversedFilteringCovarianceScaling = *tuning.ReversedFilteringCovarianceScaling
	}
	opts.Extensions = fit.Extensions{
		Calibrator: fit.PassthroughCalibrator,
		Updater:    estimator.GainMatrixUpdater,
		Smoother:   estimator.GainMatrixSmoother,
	}
	if chi2Cut > 0 {
		opts.Extensions.OutlierFinder = estimator.Chi2OutlierFinder(chi2Cut)
	}
	if tuning.ReverseMomentumThreshold != nil {
		opts.Extensions.ReverseFilteringLogic = estimator.ReverseBelowMomentum(*tuning.ReverseMomentumThreshold)
	}

	rng := rand.New(rand.NewSource(seed))
	ctx := context.Background()

	fitted := 0
	for i := 0; i < nTracks; i++ {
		truth, sources := generateTrack(rng, surfaces, target, sigma, momentum)
		start := seedParams(truth, sigma)

		res, fitErr := fitter.Fit(ctx, sources, start, opts)

		outcome := "ok"
		if fitErr != nil {
			outcome = fitErr.Error()
		} else {
			fitted++
		}
		fmt.Printf("track %3d: states=%d holes=%d outliers=%d chi2=%.3f smoothed=%v reversed=%v outcome=%s\n",
			i, res.MeasurementStates, res.MeasurementHoles, res.Outliers(),
			res.Chi2(), res.Smoothed, res.Reversed, outcome)

		if store != nil {
			summary := &sqlitestore.FitSummary{
				TrackLabel:        fmt.Sprintf("synthetic-%03d", i),
				MeasurementStates: res.MeasurementStates,
				MeasurementHoles:  res.MeasurementHoles,
				ProcessedStates:   res.ProcessedStates,
				Outliers:          res.Outliers(),
				Chi2:              res.Chi2(),
				Smoothed:          res.Smoothed,
				Reversed:          res.Reversed,
				Finished:          res.Finished,
				Outcome:           outcome,
				ParamsJSON:        paramsJSON(res.FittedParams),
			}
			if err := store.Insert(summary); err != nil {
				return err
			}
		}

		if reportDir != "" && i == 0 {
			if err := writeReports(reportDir, res); err != nil {
				return err
			}
		}
	}

	fmt.Printf("fitted %d/%d tracks\n", fitted, nTracks)
	return nil
}

// buildTelescope lays out nSurfaces sensitive planes perpendicular to the x
// axis plus an insensitive reference plane in front of the first one, which
// serves as the fit target.
func buildTelescope(n int, spacing, thickness float64) ([]geom.Surface, geom.Surface) {
	var slab *geom.Slab
	if thickness > 0 {
		slab = &geom.Slab{ThicknessInX0: thickness}
	}

	surfaces := make([]geom.Surface, 0, n)
	normal := geom.Vec3{1, 0, 0}
	for i := 0; i < n; i++ {
		center := geom.Vec3{float64(i+1) * spacing, 0, 0}
		surfaces = append(surfaces, geom.NewPlaneSurface(geom.ID(i+1), center, normal, true, slab))
	}

	target := geom.NewPlaneSurface(geom.ID(1000), geom.Vec3{0, 0, 0}, normal, false, nil)
	return surfaces, target
}

// generateTrack shoots a straight truth line from the target plane through
// the telescope and smears the intersection points into measurements.
func generateTrack(rng *rand.Rand, surfaces []geom.Surface, origin geom.Surface, sigma, momentum float64) (track.BoundParams, []track.SourceLink) {
	phi := rng.NormFloat64() * 0.02
	theta := math.Pi/2 + rng.NormFloat64()*0.02
	loc0 := rng.NormFloat64() * 0.5
	loc1 := rng.NormFloat64() * 0.5

	truth := track.NewBoundParams(origin, []float64{
		loc0, loc1, phi, theta, 1 / momentum, 0,
	}, nil)

	pos := truth.Position()
	dir := truth.Direction()

	sources := make([]track.SourceLink, 0, len(surfaces))
	for _, srf := range surfaces {
		isect, ok := srf.Intersect(pos, dir)
		if !ok || isect.PathLength < 0 {
			continue
		}
		l0, l1 := srf.GlobalToLocal(isect.Position)
		m := track.NewPositionMeasurement(srf.GeometryID(),
			l0+rng.NormFloat64()*sigma,
			l1+rng.NormFloat64()*sigma,
			sigma, sigma)
		sources = append(sources, m)
	}
	return truth, sources
}

// seedParams broadens the truth into a deliberately loose starting estimate.
func seedParams(truth track.BoundParams, sigma float64) track.BoundParams {
	cov := mat.NewSymDense(track.BoundSize, nil)
	cov.SetSym(track.ParamLoc0, track.ParamLoc0, 100*sigma*sigma)
	cov.SetSym(track.ParamLoc1, track.ParamLoc1, 100*sigma*sigma)
	cov.SetSym(track.ParamPhi, track.ParamPhi, 0.01)
	cov.SetSym(track.ParamTheta, track.ParamTheta, 0.01)
	cov.SetSym(track.ParamQOverP, track.ParamQOverP, 0.01)
	cov.SetSym(track.ParamTime, track.ParamTime, 1)

	return track.NewBoundParams(truth.Surface, truth.Vector.RawVector().Data, cov)
}

func paramsJSON(p *track.BoundParams) string {
	if p == nil || p.Vector == nil {
		return ""
	}
	vals := map[string]float64{
		"loc0":   p.Vector.AtVec(track.ParamLoc0),
		"loc1":   p.Vector.AtVec(track.ParamLoc1),
		"phi":    p.Vector.AtVec(track.ParamPhi),
		"theta":  p.Vector.AtVec(track.ParamTheta),
		"qoverp": p.Vector.AtVec(track.ParamQOverP),
		"time":   p.Vector.AtVec(track.ParamTime),
	}
	data, err := json.Marshal(vals)
	if err != nil {
		return ""
	}
	return string(data)
}

func writeReports(dir string, res *fit.Result) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	residuals := report.Residuals(res)
	if err := report.WriteHTML(filepath.Join(dir, "residuals.html"), "Track Fit Residuals", residuals); err != nil {
		return err
	}
	return report.WritePNG(filepath.Join(dir, "residuals.png"), "Track Fit Residuals", residuals)
}
