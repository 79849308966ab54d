// Package ui renders the reading view: chapter text with the narrated
// segment highlighted, driven entirely by coordinator events.
package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chaptervoice/internal/book"
	"github.com/dgnsrekt/chaptervoice/internal/engines"
	"github.com/dgnsrekt/chaptervoice/internal/playback"
	"github.com/dgnsrekt/chaptervoice/internal/upgrade"
)

const statusBarHeight = 1

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#AD58B4")).Padding(0, 1)

	segmentStyle   = lipgloss.NewStyle().PaddingLeft(2)
	highlightStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("#ECFD65")).Bold(true)
	selectedStyle  = lipgloss.NewStyle().PaddingLeft(0).Foreground(lipgloss.Color("#AD58B4"))
	erroredStyle   = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("#ED567A"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#5C5C5C"))

	promptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2)
)

// cycle order for the model switch key.
var modelCycle = []engines.Model{
	engines.ModelKokoro,
	engines.ModelPiper,
	engines.ModelEdge,
	engines.ModelWebSpeech,
}

// Reader is the Bubble Tea model for the reading session.
type Reader struct {
	coord    *playback.Coordinator
	upgrader *upgrade.Upgrader
	logger   *log.Logger

	book       *book.Book
	chapterIdx int

	viewport viewport.Model
	spinner  spinner.Model
	status   statusBar

	selected   int // cursor for keyboard segment selection
	active     int // segment currently audible, -1 when none
	generating map[int]bool
	errored    map[int]string
	modelIdx   int

	// resume prompt shown once when a checkpoint exists
	prompting  bool
	checkpoint resumeTarget

	ready  bool
	width  int
	height int
}

type resumeTarget struct {
	chapterID string
	index     int
}

// checkpointMsg carries the result of the startup checkpoint lookup.
type checkpointMsg struct {
	target *resumeTarget
}

// NewReader builds the reading view for a book. upgrader may be nil.
func NewReader(coord *playback.Coordinator, upgrader *upgrade.Upgrader, b *book.Book, logger *log.Logger) *Reader {
	if logger == nil {
		logger = log.Default()
	}
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot

	return &Reader{
		coord:      coord,
		upgrader:   upgrader,
		logger:     logger.WithPrefix("ui"),
		book:       b,
		spinner:    sp,
		active:     -1,
		generating: make(map[int]bool),
		errored:    make(map[int]string),
	}
}

// Init implements tea.Model.
func (r *Reader) Init() tea.Cmd {
	return tea.Batch(
		r.spinner.Tick,
		playback.WaitForEvent(r.coord.Events()),
		r.lookupCheckpoint(),
	)
}

func (r *Reader) lookupCheckpoint() tea.Cmd {
	return func() tea.Msg {
		cp, err := r.coord.Checkpoint(context.Background(), r.book.ID)
		if err != nil {
			r.logger.Warn("checkpoint lookup failed", "error", err)
		}
		if cp == nil || r.book.Chapter(cp.ChapterID) == nil {
			return checkpointMsg{}
		}
		return checkpointMsg{target: &resumeTarget{chapterID: cp.ChapterID, index: cp.SegmentIndex}}
	}
}

// Update implements tea.Model.
func (r *Reader) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		r.width = msg.Width
		r.height = msg.Height
		vpHeight := msg.Height - statusBarHeight - 2
		if !r.ready {
			r.viewport = viewport.New(msg.Width, vpHeight)
			r.ready = true
		} else {
			r.viewport.Width = msg.Width
			r.viewport.Height = vpHeight
		}
		r.refreshContent()
		return r, nil

	case tea.KeyMsg:
		return r.handleKey(msg)

	case checkpointMsg:
		if msg.target != nil {
			r.prompting = true
			r.checkpoint = *msg.target
			return r, nil
		}
		return r, r.loadChapter(0, 0)

	case spinner.TickMsg:
		var cmd tea.Cmd
		r.spinner, cmd = r.spinner.Update(msg)
		if len(r.generating) > 0 {
			r.refreshContent()
		}
		return r, cmd
	}

	if cmd := r.handleCoordinatorMsg(msg); cmd != nil {
		return r, cmd
	}
	return r, nil
}

func (r *Reader) handleCoordinatorMsg(msg tea.Msg) tea.Cmd {
	rearm := playback.WaitForEvent(r.coord.Events())

	switch msg := msg.(type) {
	case playback.ChapterLoadedMsg:
		r.active = -1
		r.selected = 0
		r.generating = make(map[int]bool)
		r.errored = make(map[int]string)
		r.status.onChapterLoaded(msg)
		r.refreshContent()
		r.viewport.GotoTop()
		r.startUpgradeWalk()

	case playback.SegmentGeneratingMsg:
		r.generating[msg.Index] = true
		r.status.onGenerating(msg)
		r.refreshContent()

	case playback.SegmentActiveMsg:
		delete(r.generating, msg.Index)
		delete(r.errored, msg.Index)
		r.active = msg.Index
		r.selected = msg.Index
		r.status.onActive(msg)
		r.refreshContent()
		r.scrollToActive()

	case playback.SegmentErroredMsg:
		delete(r.generating, msg.Index)
		r.errored[msg.Index] = msg.Err.Error()
		r.status.onErrored(msg)
		r.refreshContent()

	case playback.PlaybackStateMsg:
		r.status.onState(msg)
		if msg.State == playback.StateStopped {
			r.active = -1
			r.refreshContent()
		}

	case playback.ChapterCompleteMsg:
		r.active = -1
		r.status.onComplete()
		r.refreshContent()

	case playback.ModelChangedMsg:
		r.status.onModelChanged(msg)

	case playback.UpgradeAppliedMsg:
		r.status.onUpgrade(msg)

	case playback.SpeedChangedMsg:
		r.status.speed = msg.Speed

	default:
		return nil // not a coordinator message; do not re-arm the wait
	}
	return rearm
}

func (r *Reader) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if r.prompting {
		switch msg.String() {
		case "r", "enter":
			r.prompting = false
			idx := r.chapterIndexByID(r.checkpoint.chapterID)
			return r, r.loadChapter(idx, r.checkpoint.index)
		case "s", "esc":
			r.prompting = false
			return r, r.loadChapter(0, 0)
		case "q", "ctrl+c":
			return r, tea.Quit
		}
		return r, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return r, tea.Quit

	case " ":
		if err := r.coord.TogglePlayPause(); err != nil && !playback.IsInvalidRequest(err) {
			r.logger.Warn("toggle failed", "error", err)
		}

	case "enter":
		if err := r.coord.PlayFrom(r.selected); err != nil {
			r.logger.Warn("play failed", "index", r.selected, "error", err)
		}

	case "up", "k":
		if r.selected > 0 {
			r.selected--
			r.refreshContent()
		}

	case "down", "j":
		if r.selected < r.segmentCount()-1 {
			r.selected++
			r.refreshContent()
		}

	case "right", "l":
		if err := r.coord.Skip(1); err != nil && !playback.IsInvalidRequest(err) {
			r.status.flash(err.Error())
		}

	case "left", "h":
		if err := r.coord.Skip(-1); err != nil && !playback.IsInvalidRequest(err) {
			r.status.flash(err.Error())
		}

	case "n":
		if r.chapterIdx < len(r.book.Chapters)-1 {
			return r, r.loadChapter(r.chapterIdx+1, 0)
		}

	case "p":
		if r.chapterIdx > 0 {
			return r, r.loadChapter(r.chapterIdx-1, 0)
		}

	case "m":
		r.modelIdx = (r.modelIdx + 1) % len(modelCycle)
		if err := r.coord.SwitchModel(modelCycle[r.modelIdx], ""); err != nil {
			r.status.flash(err.Error())
		}

	case "+", "=":
		r.adjustSpeed(0.25)

	case "-":
		r.adjustSpeed(-0.25)

	case "pgup", "b":
		r.viewport.HalfViewUp()

	case "pgdown", "f":
		r.viewport.HalfViewDown()
	}
	return r, nil
}

func (r *Reader) adjustSpeed(delta float64) {
	st := r.coord.Status()
	speed := st.Speed + delta
	if err := r.coord.SetSpeed(speed); err != nil {
		r.status.flash(err.Error())
	}
}

func (r *Reader) loadChapter(idx, startIndex int) tea.Cmd {
	if idx < 0 || idx >= len(r.book.Chapters) {
		idx = 0
	}
	if r.upgrader != nil && r.chapterID() != "" {
		r.upgrader.Cancel(r.chapterID())
	}
	r.chapterIdx = idx
	ch := &r.book.Chapters[idx]

	return func() tea.Msg {
		err := r.coord.LoadChapter(r.book, ch.ID, playback.LoadOptions{StartIndex: startIndex})
		if err != nil {
			r.logger.Error("chapter load failed", "chapter", ch.ID, "error", err)
			return playback.SegmentErroredMsg{ChapterID: ch.ID, Index: startIndex, Err: err}
		}
		return nil
	}
}

// startUpgradeWalk kicks off background quality upgrades for the loaded
// chapter once its session is up.
func (r *Reader) startUpgradeWalk() {
	if r.upgrader == nil || r.segmentCount() == 0 {
		return
	}
	ladder, ok := r.coord.Ladder()
	if !ok {
		return
	}
	ch := &r.book.Chapters[r.chapterIdx]
	if err := r.upgrader.Start(r.book, ch, ladder); err != nil {
		r.logger.Warn("upgrade walk not started", "chapter", ch.ID, "error", err)
	}
}

func (r *Reader) chapterID() string {
	if r.chapterIdx < 0 || r.chapterIdx >= len(r.book.Chapters) {
		return ""
	}
	return r.book.Chapters[r.chapterIdx].ID
}

func (r *Reader) segmentCount() int {
	if r.chapterIdx < 0 || r.chapterIdx >= len(r.book.Chapters) {
		return 0
	}
	return len(r.book.Chapters[r.chapterIdx].Segments)
}

func (r *Reader) chapterIndexByID(id string) int {
	for i := range r.book.Chapters {
		if r.book.Chapters[i].ID == id {
			return i
		}
	}
	return 0
}

// refreshContent re-renders the chapter text into the viewport.
func (r *Reader) refreshContent() {
	if !r.ready || r.segmentCount() == 0 {
		return
	}
	ch := &r.book.Chapters[r.chapterIdx]

	var sb strings.Builder
	for i := range ch.Segments {
		text := ch.Segments[i].Text

		var line string
		switch {
		case r.errored[i] != "":
			line = erroredStyle.Render("✗ " + text)
		case r.generating[i]:
			line = segmentStyle.Render(r.spinner.View() + " " + dimStyle.Render(text))
		case i == r.active:
			line = highlightStyle.Render("▶ " + text)
		default:
			line = segmentStyle.Render(text)
		}
		if i == r.selected && i != r.active {
			line = selectedStyle.Render("› ") + line
		}
		sb.WriteString(line)
		sb.WriteString("\n\n")
	}
	r.viewport.SetContent(sb.String())
}

// scrollToActive keeps the audible segment visible.
func (r *Reader) scrollToActive() {
	if r.active < 0 || r.segmentCount() == 0 {
		return
	}
	// Two rendered lines per segment (text + blank).
	line := r.active * 2
	top := r.viewport.YOffset
	bottom := top + r.viewport.Height - 1
	if line < top || line > bottom {
		r.viewport.SetYOffset(line - r.viewport.Height/3)
	}
}

// View implements tea.Model.
func (r *Reader) View() string {
	if !r.ready {
		return "\n  loading…"
	}

	if r.prompting {
		prompt := fmt.Sprintf(
			"Resume where you left off?\n\n%s\n\n[r] resume   [s] start over",
			dimStyle.Render(fmt.Sprintf("segment %d of a saved chapter", r.checkpoint.index+1)),
		)
		return lipgloss.Place(r.width, r.height, lipgloss.Center, lipgloss.Center,
			promptStyle.Render(prompt))
	}

	header := titleStyle.Render(r.book.Title)
	if r.segmentCount() > 0 {
		header += dimStyle.Render(fmt.Sprintf(" · %s (%d/%d)",
			r.book.Chapters[r.chapterIdx].Title, r.chapterIdx+1, len(r.book.Chapters)))
	}

	return header + "\n" + r.viewport.View() + "\n" + r.status.render(r.width)
}
