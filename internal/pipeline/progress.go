package pipeline

import (
	"fmt"
	"sync/atomic"
	"time"
)

// progressReporter prints a single, carriage-return-driven status line
// once a second, the same shape as the indexing driver's reporting
// goroutine: a ticker, a stop channel, one final newline on stop.
type progressReporter struct {
	phase      atomic.Value // string
	processed  int64
	total      int64
	start      time.Time
	stop       chan struct{}
	verbose    bool
}

func newProgressReporter(verbose bool, total int64) *progressReporter {
	p := &progressReporter{start: time.Now(), stop: make(chan struct{}), verbose: verbose, total: total}
	p.phase.Store("starting")
	return p
}

func (p *progressReporter) setPhase(name string) { p.phase.Store(name) }

func (p *progressReporter) add(n int64) { atomic.AddInt64(&p.processed, n) }

func (p *progressReporter) run() {
	if !p.verbose {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.print()
			case <-p.stop:
				fmt.Println()
				return
			}
		}
	}()
}

func (p *progressReporter) close() {
	if !p.verbose {
		return
	}
	close(p.stop)
}

func (p *progressReporter) print() {
	processed := atomic.LoadInt64(&p.processed)
	elapsed := time.Since(p.start)
	rate := float64(processed) / elapsed.Seconds()
	phase, _ := p.phase.Load().(string)

	if p.total > 0 {
		pct := float64(processed) / float64(p.total) * 100
		fmt.Printf("\r\033[K[%s] %.1f%% | %.0f rec/s | elapsed %s",
			phase, pct, rate, elapsed.Round(time.Second))
	} else {
		fmt.Printf("\r\033[K[%s] %d records | %.0f rec/s | elapsed %s",
			phase, processed, rate, elapsed.Round(time.Second))
	}
}
