//go:build gui

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"github.com/reflowkit/reflow/internal/config"
	"github.com/reflowkit/reflow/internal/logger"
	"github.com/reflowkit/reflow/internal/position"
	"github.com/reflowkit/reflow/internal/render"
	"github.com/reflowkit/reflow/internal/session"
	"github.com/reflowkit/reflow/internal/tts"
)

// Version info (injected via ldflags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type guiState struct {
	mu     sync.Mutex
	pos    position.Position
	cursor tts.Cursor
}

func (g *guiState) set(pos *position.Position, cursor *tts.Cursor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pos != nil {
		g.pos = *pos
	}
	if cursor != nil {
		g.cursor = *cursor
	}
}

func (g *guiState) get() (position.Position, tts.Cursor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pos, g.cursor
}

func main() {
	showVersion := flag.Bool("v", false, "Show version information")
	showTOC := flag.Bool("toc", false, "Show table of contents at startup")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Reflow - GUI reader for reflowable documents\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  reflow [options] book.epub\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("reflow %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: No document provided.")
		fmt.Fprintln(os.Stderr, "Try: reflow -h")
		os.Exit(1)
	}

	cfg := config.Load()
	logPath := cfg.App.LogFilePath
	if logPath == "" {
		logPath = logger.DefaultPath()
	}
	log := logger.New(logPath, cfg.App.Debug)
	defer log.Sync()

	ctx := context.Background()
	state := &guiState{}

	var updateDisplay func()
	refresh := func() {
		if updateDisplay != nil {
			fyne.Do(updateDisplay)
		}
	}

	var toc []render.TOCItem
	sess, err := session.Open(ctx, flag.Arg(0), session.Options{
		Config: cfg,
		Logger: log,
		Slot:   tts.NewSlot(),
		OnProgress: func(_ float64, pos position.Position) {
			state.set(&pos, nil)
			refresh()
		},
		OnTOC: func(items []render.TOCItem) { toc = items },
		OnCursor: func(c tts.Cursor) {
			state.set(nil, &c)
			refresh()
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open '%s': %v\n", flag.Arg(0), err)
		os.Exit(1)
	}

	a := app.New()
	w := a.NewWindow("Reflow")

	statusLabel := widget.NewLabel("")
	statusLabel.Alignment = fyne.TextAlignCenter

	controlsLabel := widget.NewLabel("←/→: page  S: speak  [/]: paragraph  T: contents  F: fullscreen  Q: quit")
	controlsLabel.Alignment = fyne.TextAlignCenter

	pageLabel := widget.NewLabel("")
	pageLabel.Wrapping = fyne.TextWrapWord
	pageScroll := container.NewVScroll(pageLabel)

	progressBar := widget.NewProgressBar()

	tocVisible := *showTOC && len(toc) > 0

	var tocPanel *container.Split
	tocList := widget.NewList(
		func() int { return len(toc) },
		func() fyne.CanvasObject { return widget.NewLabel("Title") },
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			item := toc[id]
			obj.(*widget.Label).SetText(strings.Repeat("  ", item.Level) + item.Title)
		},
	)
	tocList.OnSelected = func(id widget.ListItemID) {
		if id < len(toc) {
			sess.JumpToPosition(ctx, position.Position{ChapterIndex: toc[id].ChapterIndex})
			tocVisible = false
			tocPanel.Leading.Hide()
			tocPanel.Refresh()
		}
	}

	updateDisplay = func() {
		pos, cursor := state.get()
		speaking := ""
		if cursor.IsPlaying {
			speaking = fmt.Sprintf("  [SPEAKING %d/%d]", cursor.ParagraphIndex+1, cursor.TotalParagraphs)
		}
		statusLabel.SetText(fmt.Sprintf("%s | Page %d/%d | %.1f%%%s",
			pos.ChapterTitle, pos.CurrentPage, pos.TotalPages, pos.Progress*100, speaking))
		progressBar.SetValue(pos.Progress)

		if pt, err := sess.PageText(); err == nil {
			pageLabel.SetText(strings.Join(pt.Blocks, "\n\n"))
		}
	}

	readingContent := container.NewBorder(
		statusLabel,
		container.NewVBox(progressBar, controlsLabel),
		nil, nil,
		pageScroll,
	)

	tocContainer := container.NewBorder(
		widget.NewLabel("Table of Contents"),
		widget.NewLabel("Click to jump • T to close"),
		nil, nil,
		tocList,
	)
	tocPanel = container.NewHSplit(tocContainer, readingContent)
	tocPanel.Offset = 0.33
	if !tocVisible {
		tocContainer.Hide()
	}

	w.Canvas().SetOnTypedKey(func(key *fyne.KeyEvent) {
		switch key.Name {
		case fyne.KeyRight, fyne.KeySpace:
			sess.TurnPage(ctx, session.Forward)
			updateDisplay()

		case fyne.KeyLeft:
			sess.TurnPage(ctx, session.Backward)
			updateDisplay()

		case fyne.KeyF:
			w.SetFullScreen(!w.FullScreen())

		case fyne.KeyQ:
			sess.Close()
			a.Quit()
		}
	})

	w.Canvas().SetOnTypedRune(func(r rune) {
		switch r {
		case 't', 'T':
			tocVisible = !tocVisible
			if tocVisible {
				tocPanel.Leading.Show()
			} else {
				tocPanel.Leading.Hide()
			}
			tocPanel.Refresh()

		case 's', 'S':
			_, cursor := state.get()
			if cursor.IsPlaying {
				sess.StopTTS()
			} else {
				sess.StartTTS(ctx)
			}

		case ']':
			sess.NextParagraph(ctx)
			updateDisplay()

		case '[':
			sess.PrevParagraph(ctx)
			updateDisplay()
		}
	})

	w.SetOnClosed(func() {
		sess.Close()
	})

	w.Resize(fyne.NewSize(800, 600))
	w.SetContent(tocPanel)
	updateDisplay()
	w.ShowAndRun()
}
