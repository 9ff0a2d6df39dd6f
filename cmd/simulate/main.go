// Package main provides an offline replay harness. It parses a recorded GPX
// track, treats the recording as the planned trail, fabricates an ephemeris
// around the track's own timestamps, and replays the hike through the full
// guardian stack, printing the assessment timeline as it unfolds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/GalSened/RoamWise-sub002/internal/ephemeris"
	"github.com/GalSened/RoamWise-sub002/internal/fsm"
	"github.com/GalSened/RoamWise-sub002/internal/gpx"
	"github.com/GalSened/RoamWise-sub002/internal/guardian"
	"github.com/GalSened/RoamWise-sub002/internal/hikelog"
	"github.com/GalSened/RoamWise-sub002/internal/offtrail"
	"github.com/GalSened/RoamWise-sub002/internal/pack"
	"github.com/GalSened/RoamWise-sub002/internal/sunset"
	"github.com/GalSened/RoamWise-sub002/internal/trail"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// noDownloader satisfies the pack manager; a replay never touches the network.
type noDownloader struct{}

func (noDownloader) DownloadPackage(context.Context, string, pack.BoundingBox) (*pack.TrailPackage, error) {
	return nil, errors.New("replay runs offline")
}
func (noDownloader) Progress() float64 { return 0 }
func (noDownloader) Cancel()           {}

func main() {
	var (
		inputFile = flag.String("i", "", "Input GPX file")
		speedup   = flag.Float64("speed", 60, "Replay acceleration factor (0 replays without pacing)")
		sunsetIn  = flag.Duration("sunset-in", 0, "Sunset offset after the first fix (default: 80% of the recorded duration)")
		moon      = flag.Float64("moon", 0.5, "Moon phase in [0, 1): 0 new moon, 0.5 full moon")
		csvPath   = flag.String("csv", "", "Export the session as CSV to this path")
		xlsxPath  = flag.String("xlsx", "", "Export the session workbook to this path")
		verbose   = flag.Bool("v", false, "Log every assessment, not just level changes")
		version   = flag.Bool("version", false, "Show version information")
	)

	flag.Usage = func() {
		fmt.Printf("simulate - replay a GPX track through the field guardian\n\n")
		fmt.Printf("usage: simulate -i /path/to/track.gpx\n\n")
		fmt.Printf("examples:\n")
		fmt.Printf("  simulate -i sunday-hike.gpx\n")
		fmt.Printf("  simulate -i sunday-hike.gpx -sunset-in 2h -speed 300\n")
		fmt.Printf("  simulate -i sunday-hike.gpx -xlsx sunday-hike.xlsx\n\n")
		fmt.Printf("options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *version {
		fmt.Printf("simulate %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	if *inputFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	timeline := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().
		Timestamp().
		Logger()
	if *verbose {
		timeline = timeline.Level(zerolog.DebugLevel)
	} else {
		timeline = timeline.Level(zerolog.InfoLevel)
	}
	// Engines log through the same writer but only surface problems; the
	// timeline listeners below narrate the normal path.
	engineLog := timeline.Level(zerolog.WarnLevel)

	f, err := os.Open(*inputFile)
	if err != nil {
		timeline.Fatal().Err(err).Msg("opening gpx file")
	}
	track, err := gpx.Parse(f)
	f.Close()
	if err != nil {
		timeline.Fatal().Err(err).Msg("parsing gpx file")
	}

	points := ensureTimestamps(track.Points)
	name := track.Name
	if name == "" {
		name = strings.TrimSuffix(*inputFile, ".gpx")
	}

	td, err := trail.Build(slugify(name), name, points, nil)
	if err != nil {
		timeline.Fatal().Err(err).Msg("building trail from track")
	}

	first := points[0].Timestamp
	last := points[len(points)-1].Timestamp
	recorded := last.Sub(first)
	if *sunsetIn <= 0 {
		*sunsetIn = time.Duration(float64(recorded) * 0.8)
	}

	// The cached package carries the fabricated ephemeris; selecting the
	// trail then arms the full safety stack exactly as it would on-device.
	storage := pack.NewMemoryStorage(0)
	pkg := &pack.TrailPackage{
		ID:           td.ID,
		Version:      "replay",
		Trail:        td,
		BBox:         pack.ComputeBoundingBox(td, 2),
		Ephemeris:    fabricateDays(first, last, *sunsetIn, *moon),
		Checksum:     "replay",
		DownloadedAt: time.Now(),
		ExpiresAt:    time.Now().Add(7 * 24 * time.Hour),
	}
	if err := storage.Set(context.Background(), pkg); err != nil {
		timeline.Fatal().Err(err).Msg("seeding replay package")
	}
	packs := pack.NewManager(pack.ManagerConfig{
		DisableAutoDownload: true,
		Logger:              engineLog,
	}, storage, noDownloader{})

	var recorder *hikelog.Recorder
	if *csvPath != "" || *xlsxPath != "" {
		tmp, err := os.CreateTemp("", "replay-*.db")
		if err != nil {
			timeline.Fatal().Err(err).Msg("creating replay log")
		}
		tmp.Close()
		defer func() {
			os.Remove(tmp.Name())
			os.Remove(tmp.Name() + "-wal")
			os.Remove(tmp.Name() + "-shm")
		}()

		recorder, err = hikelog.NewRecorder(tmp.Name(), engineLog)
		if err != nil {
			timeline.Fatal().Err(err).Msg("opening replay log")
		}
		defer recorder.Close()
	}

	cfg := guardian.Config{
		Logger:   engineLog,
		Sunset:   sunset.New(sunset.Config{Logger: engineLog}),
		OffTrail: offtrail.New(offtrail.Config{Logger: engineLog}),
		Packs:    packs,
		Machine:  fsm.New(fsm.Config{Logger: engineLog}),
	}
	if recorder != nil {
		cfg.Recorder = recorder
	}
	g, err := guardian.New(cfg)
	if err != nil {
		timeline.Fatal().Err(err).Msg("assembling guardian")
	}

	// Listeners run on the actor loop, so the counters below need no
	// locking; main reads them only after Close returns.
	var (
		gate        = make(chan struct{}, 1)
		assessments int
		alerts      int
		lastLevel   = sunset.LevelSafe
		worstLevel  = sunset.LevelSafe
		lastMargin  time.Duration
	)
	signalGate := func() {
		select {
		case gate <- struct{}{}:
		default:
		}
	}

	g.OnLocation(func(trail.GeoPoint) { signalGate() })
	g.OnError(func(err error) {
		timeline.Error().Err(err).Msg("engine error")
		signalGate()
	})
	g.OnStateChange(func(from, to fsm.State, ev fsm.Event) {
		timeline.Info().
			Str("from", string(from)).
			Str("to", string(to)).
			Str("event", string(ev)).
			Msg("state change")
	})
	g.OnAssessment(func(a sunset.Assessment) {
		assessments++
		lastMargin = a.Margin
		ev := timeline.Debug()
		if a.Level != lastLevel {
			ev = timeline.Info()
			lastLevel = a.Level
			if rankLevel(a.Level) > rankLevel(worstLevel) {
				worstLevel = a.Level
			}
		}
		ev.Time("at", a.GeneratedAt).
			Str("level", string(a.Level)).
			Dur("margin", a.Margin).
			Time("eta", a.ETA).
			Float64("remaining_km", a.RemainingDistanceMeters/1000).
			Float64("probability", a.Probability).
			Float64("speed_mps", a.AverageSpeed).
			Msg("assessment")
	})
	g.OnOffTrail(func(s offtrail.Status) {
		timeline.Debug().
			Float64("deviation_m", s.DeviationMeters).
			Float64("threshold_m", s.ThresholdMeters).
			Bool("off_trail", s.OffTrail).
			Msg("corridor check")
	})
	g.OnAlert(func(a guardian.AlertEvent) {
		alerts++
		ev := timeline.Info()
		switch a.Severity {
		case guardian.SeverityWarning:
			ev = timeline.Warn()
		case guardian.SeverityCritical:
			ev = timeline.Error()
		}
		ev.Str("alert", string(a.Type)).
			Str("severity", string(a.Severity)).
			Str("title", a.Title).
			Msg(a.Message)
	})

	if err := g.Start(); err != nil {
		timeline.Fatal().Err(err).Msg("starting guardian")
	}
	if err := g.SelectTrail(context.Background(), td); err != nil {
		timeline.Fatal().Err(err).Msg("selecting trail")
	}
	if err := g.StartHike(); err != nil {
		timeline.Fatal().Err(err).Msg("starting hike")
	}
	sessionID := g.Status().SessionID

	timeline.Info().
		Str("trail", td.Name).
		Int("points", len(points)).
		Float64("distance_km", td.TotalDistanceMeters/1000).
		Dur("recorded", recorded).
		Dur("sunset_in", *sunsetIn).
		Float64("speedup", *speedup).
		Msg("replay started")

	prev := first
	for _, p := range points {
		if *speedup > 0 {
			if wait := p.Timestamp.Sub(prev); wait > 0 {
				time.Sleep(time.Duration(float64(wait) / *speedup))
			}
		}
		prev = p.Timestamp

		g.UpdateLocation(p)

		// Wait for the actor loop to finish the fix so the replay never
		// outruns the command queue.
		select {
		case <-gate:
		case <-time.After(2 * time.Second):
			timeline.Warn().Msg("fix processing timed out, continuing")
		}
	}

	if err := g.CompleteHike(); err != nil {
		timeline.Error().Err(err).Msg("completing hike")
	}
	if err := g.Close(); err != nil {
		timeline.Error().Err(err).Msg("closing guardian")
	}

	if recorder != nil && *csvPath != "" {
		out, err := os.Create(*csvPath)
		if err != nil {
			timeline.Fatal().Err(err).Msg("creating csv export")
		}
		err = recorder.WriteCSV(out, sessionID)
		out.Close()
		if err != nil {
			timeline.Fatal().Err(err).Msg("writing csv export")
		}
		timeline.Info().Str("path", *csvPath).Msg("csv exported")
	}
	if recorder != nil && *xlsxPath != "" {
		if err := recorder.WriteXLSX(*xlsxPath, sessionID); err != nil {
			timeline.Fatal().Err(err).Msg("writing xlsx export")
		}
		timeline.Info().Str("path", *xlsxPath).Msg("workbook exported")
	}

	timeline.Info().
		Int("assessments", assessments).
		Int("alerts", alerts).
		Str("worst_level", string(worstLevel)).
		Dur("final_margin", lastMargin).
		Msg("replay complete")
}

// ensureTimestamps returns the points with a synthesized time axis when the
// recording carries none, spacing fixes at the default walking pace.
func ensureTimestamps(points []trail.GeoPoint) []trail.GeoPoint {
	if len(points) == 0 {
		return points
	}
	if !points[0].Timestamp.IsZero() && !points[len(points)-1].Timestamp.IsZero() {
		return points
	}

	out := make([]trail.GeoPoint, len(points))
	copy(out, points)
	at := time.Now().Add(-time.Hour)
	out[0].Timestamp = at
	for i := 1; i < len(out); i++ {
		dist := out[i-1].DistanceTo(out[i])
		at = at.Add(time.Duration(dist / sunset.DefaultWalkingSpeed * float64(time.Second)))
		out[i].Timestamp = at
	}
	return out
}

// fabricateDays covers every calendar date the track touches, anchoring the
// first day's sunset at sunsetIn past the first fix and shifting whole days
// from there.
func fabricateDays(first, last time.Time, sunsetIn time.Duration, moon float64) []ephemeris.Day {
	set := first.Add(sunsetIn)
	firstDate := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, first.Location())
	lastDate := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, last.Location())

	var days []ephemeris.Day
	for d := firstDate; !d.After(lastDate.AddDate(0, 0, 1)); d = d.AddDate(0, 0, 1) {
		shift := d.Sub(firstDate)
		days = append(days, ephemeris.Day{
			Date:             d,
			Sunrise:          set.Add(shift - 13*time.Hour),
			Sunset:           set.Add(shift),
			CivilTwilightEnd: set.Add(shift + 30*time.Minute),
			MoonPhase:        moon,
		})
	}
	return days
}

func rankLevel(l sunset.AlertLevel) int {
	switch l {
	case sunset.LevelCaution:
		return 1
	case sunset.LevelWarning:
		return 2
	case sunset.LevelCritical:
		return 3
	default:
		return 0
	}
}

// slugify turns a display name into a trail id.
func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
