package sweep

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
)

const (
	progressInterval = 2 * time.Second
	logInterval      = 10 * time.Second
)

// startProgress launches the stderr progress line and the periodic PROGRESS
// log line. The returned func stops both and prints a final line.
func (r *Runner) startProgress(start time.Time) func() {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(24), progress.WithoutPercentage())

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(progressInterval)
		logTicker := time.NewTicker(logInterval)
		defer ticker.Stop()
		defer logTicker.Stop()
		for {
			select {
			case <-ticker.C:
				if !r.opts.SuppressProgress {
					fmt.Fprint(r.opts.Progress, "\r"+r.progressLine(bar, start))
				}
			case <-logTicker.C:
				r.logProgress(start)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
		if !r.opts.SuppressProgress {
			fmt.Fprintln(r.opts.Progress, "\r"+r.progressLine(bar, start))
		}
	}
}

func (r *Runner) progressLine(bar progress.Model, start time.Time) string {
	s := r.stats
	done := s.AreasDone.Load() + s.AreasSkipped.Load()
	pct := 0.0
	if s.AreasTotal > 0 {
		pct = float64(done) / float64(s.AreasTotal)
	}

	line := fmt.Sprintf("%s [%d/%d areas] %d found | %d kept | %d searches | $%.2f | %s",
		bar.ViewAs(pct), done, s.AreasTotal,
		s.PlacesFound.Load(), s.PlacesKept.Load(), s.SearchRequests.Load(),
		s.EstimatedCost(r.opts.Pricing), time.Since(start).Truncate(time.Second))
	if rl := s.RateLimits.Load(); rl > 0 {
		line += fmt.Sprintf(" | %d rate-limited", rl)
	}
	return line
}

func (r *Runner) logProgress(start time.Time) {
	s := r.stats
	r.logger.Info("PROGRESS",
		"areas", fmt.Sprintf("%d/%d", s.AreasDone.Load(), s.AreasTotal),
		"found", s.PlacesFound.Load(),
		"kept", s.PlacesKept.Load(),
		"stored", s.PlacesStored.Load(),
		"search_requests", s.SearchRequests.Load(),
		"search_failures", s.SearchFailures.Load(),
		"detail_calls", s.DetailCalls.Load(),
		"rate_limits", s.RateLimits.Load(),
		"estimated_cost", fmt.Sprintf("%.2f", s.EstimatedCost(r.opts.Pricing)),
		"elapsed", time.Since(start).Truncate(time.Second))
}
