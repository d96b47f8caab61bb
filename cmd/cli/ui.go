package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/and161185/cc42-scan/internal/model"
)

// termUI renders session output as text lines.
type termUI struct {
	mu     sync.Mutex
	out    io.Writer
	cue    io.Writer
	modals chan model.Modal
}

func newTermUI(out, cue io.Writer) *termUI {
	return &termUI{out: out, cue: cue, modals: make(chan model.Modal, 1)}
}

func (u *termUI) printf(w io.Writer, format string, args ...any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintf(w, format, args...)
}

func (u *termUI) ShowModal(m model.Modal) {
	u.printf(u.out, "[%s] %s: %s\n", m.Severity, m.Title, m.Message)
	u.modals <- m
}

func (u *termUI) SetLoading(on bool) {
	if on {
		u.printf(u.cue, "...\n")
	}
}

func (u *termUI) Leave() { u.printf(u.out, "screen closed\n") }

func (u *termUI) Beep() { u.printf(u.cue, "\a") }

// Buzz has no terminal equivalent.
func (u *termUI) Buzz() {}

// newLineReader streams lines of r until EOF or ctx is done. A read already
// blocked on r returns with the next line.
func newLineReader(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			if ctx.Err() != nil {
				return
			}
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
