package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
)

// progressObserver renders segment progress on a terminal. Video and audio
// tracks fetch concurrently, so both feed the same bar.
type progressObserver struct {
	mu    sync.Mutex
	w     io.Writer
	bar   *progressbar.ProgressBar
	bytes uint64
}

func newProgressObserver(w io.Writer) *progressObserver {
	return &progressObserver{w: w}
}

func (p *progressObserver) Queued(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil || p.bar.IsFinished() {
		p.bytes = 0
		p.bar = progressbar.NewOptions(n,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription("segments"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		return
	}
	p.bar.ChangeMax(p.bar.GetMax() + n)
}

func (p *progressObserver) Fetched(bytes int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		return
	}
	p.bytes += uint64(bytes)
	p.bar.Describe(fmt.Sprintf("segments %s", humanize.Bytes(p.bytes)))
	p.bar.Add(1)
}
