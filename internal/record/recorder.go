// Package record samples telemetry on a fixed rate and appends it to a CSV
// flight log.
package record

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/airdeck/telloctl/internal/telemetry"
)

const (
	// MinSampleRateSec and MaxSampleRateSec bound the sampling period.
	MinSampleRateSec = 0.05
	MaxSampleRateSec = 10.0

	// pollStep keeps the scheduler loop from busy-waiting.
	pollStep = time.Millisecond

	progressEvery = 10
)

// Headers is the CSV column order, fixed so logs from different sessions
// line up in analysis tooling.
var Headers = []string{
	"timestamp",
	"elapsed_time",
	"battery",
	"temperature",
	"temp_low",
	"temp_high",
	"flight_time",
	"height",
	"barometer",
	"tof_distance",
	"pitch",
	"roll",
	"yaw",
	"speed_x",
	"speed_y",
	"speed_z",
	"accel_x",
	"accel_y",
	"accel_z",
}

// Source yields the telemetry snapshot for one sample.
type Source interface {
	State() (telemetry.Snapshot, error)
}

// Options configure one recording session. Zero values mean unlimited.
type Options struct {
	SampleRateSec float64
	Duration      time.Duration
	MaxSamples    int
}

// Recorder writes timestamped telemetry rows to a CSV stream.
type Recorder struct {
	src      Source
	rate     time.Duration
	duration time.Duration
	maxN     int
	progress io.Writer

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New creates a Recorder. The sample rate is clamped to the supported range;
// a non-positive MaxSamples means unlimited. Progress lines go to progress
// (may be nil).
func New(src Source, opts Options, progress io.Writer) *Recorder {
	rate := opts.SampleRateSec
	if rate < MinSampleRateSec {
		rate = MinSampleRateSec
	}
	if rate > MaxSampleRateSec {
		rate = MaxSampleRateSec
	}
	if progress == nil {
		progress = io.Discard
	}
	return &Recorder{
		src:      src,
		rate:     time.Duration(rate * float64(time.Second)),
		duration: opts.Duration,
		maxN:     opts.MaxSamples,
		progress: progress,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// DefaultFileName returns the conventional log file name for a session
// starting at t.
func DefaultFileName(t time.Time) string {
	return "tello_log_" + t.Format("20060102_150405") + ".csv"
}

// RecordTo runs a session writing to path. It returns the number of samples
// written.
func (r *Recorder) RecordTo(ctx context.Context, path string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create log file: %w", err)
	}
	defer f.Close()

	n, err := r.Record(ctx, f)
	if err != nil {
		return n, err
	}
	if err := f.Sync(); err != nil {
		return n, fmt.Errorf("sync log file: %w", err)
	}
	return n, nil
}

// Record samples until ctx is cancelled or a configured limit is reached.
// Cancellation is the normal way to stop an unlimited session and is not an
// error. The scheduler advances the next sample time by the rate rather than
// resetting it, so the average rate holds even when a sample runs long.
func (r *Recorder) Record(ctx context.Context, out io.Writer) (int, error) {
	w := csv.NewWriter(out)
	if err := w.Write(Headers); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	start := r.now()
	count := 0
	nextSample := start

	for {
		now := r.now()

		if r.duration > 0 && now.Sub(start) >= r.duration {
			fmt.Fprintln(r.progress, "\nLogging duration reached.")
			break
		}
		if r.maxN > 0 && count >= r.maxN {
			fmt.Fprintln(r.progress, "\nMaximum samples reached.")
			break
		}

		if !now.Before(nextSample) {
			snap, err := r.src.State()
			if err == nil {
				if err := w.Write(row(snap, now, now.Sub(start))); err != nil {
					return count, fmt.Errorf("write sample: %w", err)
				}
				count++
				if count%progressEvery == 0 {
					w.Flush()
					fmt.Fprintf(r.progress, "Samples: %4d | Elapsed: %6.1fs | Battery: %3d%%\n",
						count, now.Sub(start).Seconds(), snap.Battery)
				}
			}
			nextSample = nextSample.Add(r.rate)
		}

		if err := r.sleep(ctx, pollStep); err != nil {
			fmt.Fprintln(r.progress, "\n\nLogging stopped.")
			break
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return count, fmt.Errorf("flush csv: %w", err)
	}
	return count, nil
}

// row renders one snapshot in header order.
func row(snap telemetry.Snapshot, now time.Time, elapsed time.Duration) []string {
	return []string{
		now.Format(time.RFC3339Nano),
		strconv.FormatFloat(round3(elapsed.Seconds()), 'f', -1, 64),
		strconv.Itoa(snap.Battery),
		strconv.FormatFloat(snap.Temperature(), 'f', 2, 64),
		strconv.Itoa(snap.TempLow),
		strconv.Itoa(snap.TempHigh),
		strconv.Itoa(snap.FlightTime),
		strconv.Itoa(snap.Height),
		strconv.FormatFloat(snap.Barometer, 'f', -1, 64),
		strconv.Itoa(snap.TOFDistance),
		strconv.Itoa(snap.Pitch),
		strconv.Itoa(snap.Roll),
		strconv.Itoa(snap.Yaw),
		strconv.Itoa(snap.SpeedX),
		strconv.Itoa(snap.SpeedY),
		strconv.Itoa(snap.SpeedZ),
		strconv.FormatFloat(round3(snap.AccelX), 'f', -1, 64),
		strconv.FormatFloat(round3(snap.AccelY), 'f', -1, 64),
		strconv.FormatFloat(round3(snap.AccelZ), 'f', -1, 64),
	}
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
