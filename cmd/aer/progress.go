package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"aer/internal/download"
	"aer/internal/logging"
)

type progressReporter interface {
	Update(p download.Progress)
	Finish(id string, err error)
}

// newProgressReporter draws a live bar when a single transfer writes to a
// terminal and falls back to sampled lines otherwise.
func newProgressReporter(w io.Writer, transfers int) progressReporter {
	if transfers == 1 && isTerminal(w) {
		return &barReporter{w: w, bars: make(map[string]*progressbar.ProgressBar)}
	}
	return &lineReporter{w: w, samplers: make(map[string]*logging.ProgressSampler)}
}

type barReporter struct {
	w    io.Writer
	mu   sync.Mutex
	bars map[string]*progressbar.ProgressBar
}

func (r *barReporter) Update(p download.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bar, ok := r.bars[p.AssetID]
	if !ok {
		limit := p.TotalBytes
		if limit <= 0 {
			limit = -1
		}
		bar = progressbar.NewOptions64(limit,
			progressbar.OptionSetWriter(r.w),
			progressbar.OptionSetDescription(p.AssetID),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(r.w) }),
		)
		r.bars[p.AssetID] = bar
	}
	_ = bar.Set64(p.DownloadedBytes)
}

func (r *barReporter) Finish(id string, err error) {
	r.mu.Lock()
	bar, ok := r.bars[id]
	delete(r.bars, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		_ = bar.Exit()
		fmt.Fprintln(r.w)
		return
	}
	_ = bar.Finish()
}

type lineReporter struct {
	w        io.Writer
	mu       sync.Mutex
	samplers map[string]*logging.ProgressSampler
}

func (r *lineReporter) Update(p download.Progress) {
	if p.TotalBytes <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sampler, ok := r.samplers[p.AssetID]
	if !ok {
		sampler = logging.NewProgressSampler(10)
		r.samplers[p.AssetID] = sampler
	}
	if p.Progress >= 100 || !sampler.ShouldLog(p.Progress) {
		return
	}
	fmt.Fprintf(r.w, "%s: %3d%% (%s / %s)\n",
		p.AssetID, p.Progress,
		humanize.Bytes(uint64(p.DownloadedBytes)), humanize.Bytes(uint64(p.TotalBytes)))
}

func (r *lineReporter) Finish(id string, _ error) {
	r.mu.Lock()
	delete(r.samplers, id)
	r.mu.Unlock()
}
