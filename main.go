//go:build !gui

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

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

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Padding(0, 1)

	controlsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			Italic(true)

	speakingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFAA00")).
			Bold(true)

	playingParaStyle = lipgloss.NewStyle().
				Underline(true)

	tocSelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00AAFF"))
)

type progressMsg struct {
	progress float64
	pos      position.Position
}

type cursorMsg tts.Cursor

type model struct {
	sess      *session.Session
	prog      progress.Model
	events    chan tea.Msg
	toc       []render.TOCItem
	tocOpen   bool
	tocSel    int
	pos       position.Position
	cursor    tts.Cursor
	fontScale float64
	width     int
	height    int
	quitting  bool
}

func newModel(sess *session.Session, toc []render.TOCItem, events chan tea.Msg, fontScale float64) model {
	return model{
		sess:      sess,
		prog:      progress.New(progress.WithDefaultGradient()),
		events:    events,
		toc:       toc,
		fontScale: fontScale,
		width:     80,
		height:    24,
	}
}

func waitForEvent(ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-ch }
}

func (m model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	ctx := context.Background()

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.tocOpen {
			return m.updateTOC(ctx, msg)
		}
		switch msg.String() {
		case "right", "l", " ":
			m.sess.TurnPage(ctx, session.Forward)

		case "left", "h":
			m.sess.TurnPage(ctx, session.Backward)

		case "+", "=":
			if m.fontScale < 3.0 {
				m.fontScale += 0.25
				m.sess.SetFontScale(ctx, m.fontScale)
			}

		case "-":
			if m.fontScale > 0.5 {
				m.fontScale -= 0.25
				m.sess.SetFontScale(ctx, m.fontScale)
			}

		case "t":
			m.tocOpen = true
			m.tocSel = 0

		case "s":
			if m.cursor.IsPlaying {
				m.sess.StopTTS()
			} else if err := m.sess.StartTTS(ctx); err != nil {
				m.cursor.IsPlaying = false
			}

		case "]":
			m.sess.NextParagraph(ctx)

		case "[":
			m.sess.PrevParagraph(ctx)

		case "q", "Q", "ctrl+c":
			m.quitting = true
			m.sess.Close()
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.prog.Width = msg.Width - 4
		// Reserve rows for status, progress bar, and controls.
		rows := msg.Height - 4
		if rows < 3 {
			rows = 3
		}
		m.sess.Resize(ctx, msg.Width, rows)
		return m, nil

	case progressMsg:
		m.pos = msg.pos
		return m, waitForEvent(m.events)

	case cursorMsg:
		m.cursor = tts.Cursor(msg)
		return m, waitForEvent(m.events)
	}

	return m, nil
}

func (m model) updateTOC(ctx context.Context, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.tocSel > 0 {
			m.tocSel--
		}
	case "down", "j":
		if m.tocSel < len(m.toc)-1 {
			m.tocSel++
		}
	case "enter":
		if m.tocSel < len(m.toc) {
			m.sess.JumpToPosition(ctx, position.Position{
				ChapterIndex: m.toc[m.tocSel].ChapterIndex,
			})
		}
		m.tocOpen = false
	case "t", "esc", "q":
		m.tocOpen = false
	}
	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	if m.tocOpen {
		return m.viewTOC()
	}

	var sb strings.Builder

	status := fmt.Sprintf("%s | Page %d/%d | %.1f%%",
		m.pos.ChapterTitle, m.pos.CurrentPage, m.pos.TotalPages, m.pos.Progress*100)
	if m.cursor.IsPlaying {
		status += speakingStyle.Render(
			fmt.Sprintf(" [SPEAKING %d/%d]", m.cursor.ParagraphIndex+1, m.cursor.TotalParagraphs))
	}
	sb.WriteString(statusStyle.Render(status))
	sb.WriteString("\n\n")

	pt, err := m.sess.PageText()
	if err == nil {
		highlighted := m.sess.HighlightedText()
		for i, blk := range pt.Blocks {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			if m.cursor.IsPlaying && highlighted != "" && strings.HasPrefix(highlighted, blk) {
				sb.WriteString(playingParaStyle.Render(blk))
			} else {
				sb.WriteString(blk)
			}
		}
	}
	sb.WriteString("\n\n")

	sb.WriteString(m.prog.ViewAs(m.pos.Progress))
	sb.WriteString("\n")
	sb.WriteString(controlsStyle.Render(
		"←/→: page  T: contents  S: speak  [/]: paragraph  +/-: font  Q: quit"))

	return sb.String()
}

func (m model) viewTOC() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Table of Contents"))
	sb.WriteString("\n\n")
	for i, item := range m.toc {
		line := strings.Repeat("  ", item.Level) + item.Title
		if i == m.tocSel {
			line = tocSelStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(controlsStyle.Render("↑/↓: select  ENTER: jump  T: close"))
	return sb.String()
}

func main() {
	showVersion := flag.Bool("v", false, "Show version information")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Reflow - Reader for reflowable documents\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  reflow [options] book.epub\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nControls:\n")
		fmt.Fprintf(os.Stderr, "  ←/→      Turn page\n")
		fmt.Fprintf(os.Stderr, "  T        Table of contents\n")
		fmt.Fprintf(os.Stderr, "  S        Start/stop speech\n")
		fmt.Fprintf(os.Stderr, "  [ / ]    Previous/next spoken paragraph\n")
		fmt.Fprintf(os.Stderr, "  +/-      Font scale\n")
		fmt.Fprintf(os.Stderr, "  Q        Quit\n")
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

	events := make(chan tea.Msg, 32)
	push := func(msg tea.Msg) {
		select {
		case events <- msg:
		default:
		}
	}

	var toc []render.TOCItem
	sess, err := session.Open(context.Background(), flag.Arg(0), session.Options{
		Config: cfg,
		Logger: log,
		Slot:   tts.NewSlot(),
		OnProgress: func(p float64, pos position.Position) {
			push(progressMsg{progress: p, pos: pos})
		},
		OnTOC:    func(items []render.TOCItem) { toc = items },
		OnCursor: func(c tts.Cursor) { push(cursorMsg(c)) },
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open '%s': %v\n", flag.Arg(0), err)
		os.Exit(1)
	}

	m := newModel(sess, toc, events, cfg.Viewport.FontScale)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		log.Error("program exited", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
