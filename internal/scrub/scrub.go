// Package scrub periodically re-verifies the page checksums of database
// files on a cron schedule.
package scrub

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/FocuswithJustin/pagekit/core/errors"
	"github.com/FocuswithJustin/pagekit/core/vfs"
	"github.com/FocuswithJustin/pagekit/internal/logging"
)

// scheduleParser accepts five-field expressions, six-field expressions with
// a leading seconds field, and descriptors such as @hourly or @every 10m.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, errors.NewValidation("schedule", err.Error())
	}
	return sched, nil
}

// Result is the outcome of scrubbing one file.
type Result struct {
	Path     string
	Pages    int
	Faults   []vfs.Fault
	Skipped  string // Reason the file was not verified
	Err      error
	Started  time.Time
	Duration time.Duration
}

// OK reports whether the file was verified without faults.
func (r Result) OK() bool {
	return r.Err == nil && r.Skipped == "" && len(r.Faults) == 0
}

// File verifies every page checksum of the database at path. Files whose
// header does not reserve 8 bytes per page are skipped.
func File(ctx context.Context, path string) Result {
	res := Result{Path: path, Started: time.Now()}
	defer func() { res.Duration = time.Since(res.Started) }()

	f, err := vfs.Open(path, os.O_RDONLY)
	if err != nil {
		res.Err = err
		return res
	}
	defer f.Close()

	h, err := vfs.ReadHeader(f)
	if err != nil {
		res.Err = err
		return res
	}
	if !h.HasChecksums() {
		res.Skipped = "no checksum reserve"
		return res
	}
	size, err := f.Size()
	if err != nil {
		res.Err = err
		return res
	}
	res.Pages = int(size / int64(h.GetPageSize()))
	res.Faults, res.Err = vfs.VerifyAll(ctx, f, h.GetPageSize())
	return res
}

// Scrubber runs File over a fixed set of paths.
type Scrubber struct {
	spec     string
	schedule cron.Schedule
	files    []string
	onResult func(Result)

	mu   sync.Mutex
	runs int
}

// New creates a Scrubber. onResult, if not nil, receives every Result.
func New(spec string, files []string, onResult func(Result)) (*Scrubber, error) {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.NewValidation("files", "nothing to scrub")
	}
	return &Scrubber{spec: spec, schedule: sched, files: files, onResult: onResult}, nil
}

// Next returns the first scheduled run after t.
func (s *Scrubber) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Runs returns how many passes have completed.
func (s *Scrubber) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// RunOnce scrubs every file once. Passes never overlap.
func (s *Scrubber) RunOnce(ctx context.Context) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]Result, 0, len(s.files))
	for _, path := range s.files {
		if ctx.Err() != nil {
			break
		}
		r := File(ctx, path)
		switch {
		case r.Err != nil:
			logging.ErrorContext(ctx, "scrub failed", "file", path, "error", r.Err)
		case r.Skipped != "":
			logging.WarnContext(ctx, "scrub skipped", "file", path, "reason", r.Skipped)
		case len(r.Faults) > 0:
			logging.WarnContext(ctx, "scrub found checksum faults", "file", path, "faults", len(r.Faults))
		default:
			logging.InfoContext(ctx, "scrub clean", "file", path, "pages", r.Pages, "duration", r.Duration)
		}
		if s.onResult != nil {
			s.onResult(r)
		}
		results = append(results, r)
	}
	s.runs++
	return results
}

// Run schedules RunOnce and blocks until ctx is cancelled. A pass in
// progress is allowed to finish before Run returns.
func (s *Scrubber) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(scheduleParser), cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return errors.NewValidation("schedule", err.Error())
	}
	c.Start()
	logging.InfoContext(ctx, "scrub scheduler started", "schedule", s.spec, "files", len(s.files),
		"next", s.Next(time.Now().UTC()))

	<-ctx.Done()
	<-c.Stop().Done()
	logging.InfoContext(ctx, "scrub scheduler stopped", "runs", s.Runs())
	return nil
}
