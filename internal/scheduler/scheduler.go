package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

type Kind string

const (
	KindOpen   Kind = "open"
	KindClosed Kind = "closed"
)

// Job is one upload file picked up from the inbox.
type Job struct {
	Path string
	Kind Kind
}

// Handler processes one upload. A returned error moves the file to the
// failed directory; context cancellation leaves it in the inbox.
type Handler func(ctx context.Context, job Job) error

type Config struct {
	// Schedule is a 5-field cron expression, e.g. "0 7 * * 1-5".
	Schedule string
	InboxDir string
	Location *time.Location
}

type Scheduler struct {
	cfg     Config
	sched   cron.Schedule
	handler Handler
	now     func() time.Time
}

func New(cfg Config, handler Handler) (*Scheduler, error) {
	schedule := strings.TrimSpace(cfg.Schedule)
	if schedule == "" {
		return nil, errors.New("schedule is empty")
	}
	if strings.TrimSpace(cfg.InboxDir) == "" {
		return nil, errors.New("inbox dir is empty")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Scheduler{cfg: cfg, sched: sched, handler: handler, now: time.Now}, nil
}

func (s *Scheduler) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.cfg.Location))
}

// Run processes the inbox on every scheduled tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("scheduler started cron=%q inbox=%s", s.cfg.Schedule, s.cfg.InboxDir)
	for {
		now := s.now().In(s.cfg.Location)
		next := s.Next(now)
		wait := next.Sub(now)
		log.Printf("scheduler next run at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}

		result, err := s.Tick(ctx)
		if err != nil {
			log.Printf("WARNING: scheduler tick: %v", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		log.Printf("scheduler tick complete processed=%d failed=%d", result.Processed, result.Failed)
	}
}

type TickResult struct {
	Processed int
	Failed    int
}

// Tick processes every upload currently in the inbox: closed uploads first,
// then open uploads, each group in file name order. Files whose name starts
// with "closed" are closed uploads; every other .json file is an open upload.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult
	jobs, err := s.scan()
	if err != nil {
		return result, err
	}
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		herr := s.handler(ctx, job)
		if herr != nil && ctx.Err() != nil {
			return result, ctx.Err()
		}
		dest := processedDir
		if herr != nil {
			dest = failedDir
			result.Failed++
			log.Printf("WARNING: scheduler job kind=%s file=%s failed: %v", job.Kind, filepath.Base(job.Path), herr)
		} else {
			result.Processed++
			log.Printf("scheduler job kind=%s file=%s done", job.Kind, filepath.Base(job.Path))
		}
		if err := s.move(job.Path, dest); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (s *Scheduler) scan() ([]Job, error) {
	entries, err := os.ReadDir(s.cfg.InboxDir)
	if err != nil {
		return nil, fmt.Errorf("read inbox %s: %w", s.cfg.InboxDir, err)
	}
	var closed, open []Job
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name := strings.ToLower(e.Name())
		path := filepath.Join(s.cfg.InboxDir, e.Name())
		switch {
		case strings.HasPrefix(name, "closed"):
			closed = append(closed, Job{Path: path, Kind: KindClosed})
		case strings.HasSuffix(name, ".json"):
			open = append(open, Job{Path: path, Kind: KindOpen})
		}
	}
	byName := func(jobs []Job) {
		sort.Slice(jobs, func(i, j int) bool { return jobs[i].Path < jobs[j].Path })
	}
	byName(closed)
	byName(open)
	return append(closed, open...), nil
}

// move files a handled upload under a timestamp prefix so repeated uploads
// with the same name do not collide.
func (s *Scheduler) move(path, dir string) error {
	target := filepath.Join(s.cfg.InboxDir, dir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	stamp := s.now().UTC().Format("20060102T150405")
	dest := filepath.Join(target, stamp+"-"+filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("move %s: %w", path, err)
	}
	return nil
}
