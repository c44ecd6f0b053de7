// Package watch renders a run's live progress in the terminal and, once the
// run is done, lists the postings it found.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/amishk599/careerscan/internal/model"
)

const (
	spinnerInterval = 80 * time.Millisecond
	pollInterval    = 400 * time.Millisecond
	jobItemHeight   = 3 // title + subtitle + blank separator
)

// Source reads live run snapshots.
type Source interface {
	Progress(ctx context.Context, runID string) (model.RunProgress, error)
}

// PostingLister loads the postings a run created.
type PostingLister interface {
	Postings(ctx context.Context, runID string) ([]model.JobPosting, error)
}

type snapshotMsg struct {
	progress model.RunProgress
	err      error
}

type postingsMsg struct {
	postings []model.JobPosting
	err      error
}

type spinnerTickMsg struct{}

type watchModel struct {
	runID    string
	source   Source
	postings PostingLister

	frame    int
	snap     model.RunProgress
	done     bool
	err      error
	jobs     []model.JobPosting
	cursor   int
	viewport viewport.Model
	width    int
	height   int
	ready    bool
}

func newModel(runID string, source Source, postings PostingLister) watchModel {
	return watchModel{runID: runID, source: source, postings: postings}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.poll(0), m.tick())
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(spinnerInterval, func(time.Time) tea.Msg {
		return spinnerTickMsg{}
	})
}

func (m watchModel) poll(after time.Duration) tea.Cmd {
	source, runID := m.source, m.runID
	fetch := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p, err := source.Progress(ctx, runID)
		return snapshotMsg{progress: p, err: err}
	}
	if after == 0 {
		return fetch
	}
	return tea.Tick(after, func(time.Time) tea.Msg { return fetch() })
}

func (m watchModel) loadPostings() tea.Cmd {
	lister, runID := m.postings, m.runID
	return func() tea.Msg {
		if lister == nil {
			return postingsMsg{}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		postings, err := lister.Postings(ctx, runID)
		return postingsMsg{postings: postings, err: err}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport = viewport.New(max(m.width-4, 20), max(m.height-6, 5))
		m.ready = true
		m.viewport.SetContent(m.renderBody())
		return m, nil

	case spinnerTickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		m.viewport.SetContent(m.renderBody())
		return m, m.tick()

	case snapshotMsg:
		if msg.err != nil && !errors.Is(msg.err, model.ErrRunNotFound) {
			m.err = msg.err
			return m, m.poll(pollInterval)
		}
		if msg.err == nil {
			m.err = nil
			m.snap = msg.progress
		}
		m.viewport.SetContent(m.renderBody())
		if m.snap.Done && !m.done {
			m.done = true
			return m, m.loadPostings()
		}
		return m, m.poll(pollInterval)

	case postingsMsg:
		m.jobs = msg.postings
		m.err = msg.err
		m.viewport.SetContent(m.renderBody())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			m.moveCursor(-1)
			return m, nil
		case "down", "j":
			m.moveCursor(1)
			return m, nil
		case "o", "enter":
			if m.cursor < len(m.jobs) {
				openURL(m.jobs[m.cursor].URL)
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *watchModel) moveCursor(delta int) {
	if len(m.jobs) == 0 {
		return
	}
	m.cursor = clamp(m.cursor+delta, 0, len(m.jobs)-1)
	m.viewport.SetContent(m.renderBody())

	// Keep the selected posting on screen; postings start after the site table.
	top := len(m.snap.Sites) + 3 + m.cursor*jobItemHeight
	if top < m.viewport.YOffset {
		m.viewport.SetYOffset(top)
	} else if bottom := top + jobItemHeight - 1; bottom >= m.viewport.YOffset+m.viewport.Height {
		m.viewport.SetYOffset(bottom - m.viewport.Height + 1)
	}
}

func (m watchModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	header := headerStyle.Render("careerscan · run " + m.runID)
	body := borderStyle.Width(m.viewport.Width).Render(m.viewport.View())
	return header + "\n" + body + "\n" + statusBarStyle.Width(m.width).Render(m.statusLine())
}

func (m watchModel) statusLine() string {
	c := summarize(m.snap.Sites)
	line := fmt.Sprintf("%d/%d sites · %d new postings · %d failed", c.finished, len(m.snap.Sites), c.newPostings, c.failed)
	if m.err != nil {
		line += " · " + m.err.Error()
	}
	if m.done {
		return line + " · ↑/↓ select · o open · q quit"
	}
	return line + " · q quit"
}

func (m watchModel) renderBody() string {
	var b strings.Builder
	b.WriteString(renderSites(m.snap.Sites, m.frame))
	if m.done {
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf("New postings (%d)\n\n", len(m.jobs)))
		b.WriteString(renderPostings(m.jobs, m.cursor))
	}
	return b.String()
}

type counts struct {
	finished    int
	failed      int
	newPostings int
}

func summarize(sites []model.SiteProgress) counts {
	var c counts
	for _, s := range sites {
		if s.State.Terminal() {
			c.finished++
		}
		if s.State == model.StateError {
			c.failed++
		}
		c.newPostings += s.NewPostings
	}
	return c
}

func renderSites(sites []model.SiteProgress, frame int) string {
	if len(sites) == 0 {
		return "  Waiting for run to start..."
	}

	var b strings.Builder
	for i, s := range sites {
		b.WriteString("  ")
		b.WriteString(stateIcon(s.State, frame))
		b.WriteByte(' ')
		b.WriteString(siteNameStyle.Render(s.SiteName))
		b.WriteString(stateLabel(s))
		if i < len(sites)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func stateIcon(state model.SiteState, frame int) string {
	switch state {
	case model.StateScraping, model.StateProcessing:
		return spinnerStyle.Render(spinnerFrames[frame%len(spinnerFrames)])
	case model.StateComplete:
		return completeStyle.Render("✓")
	case model.StateError:
		return errorStyle.Render("✗")
	default:
		return pendingStyle.Render("·")
	}
}

func stateLabel(s model.SiteProgress) string {
	switch s.State {
	case model.StateScraping:
		return activeStyle.Render("fetching page")
	case model.StateProcessing:
		return activeStyle.Render("extracting postings")
	case model.StateComplete:
		if s.Result == model.TaskHashExists {
			return pendingStyle.Render("unchanged")
		}
		return completeStyle.Render(fmt.Sprintf("%d new", s.NewPostings))
	case model.StateError:
		return errorStyle.Render(s.Error)
	default:
		return pendingStyle.Render("waiting")
	}
}

func renderPostings(jobs []model.JobPosting, cursor int) string {
	if len(jobs) == 0 {
		return "  (no postings)"
	}

	var b strings.Builder
	for i, j := range jobs {
		titleSt, subtitleSt, prefix := jobTitleStyle, jobSubtitleStyle, "  "
		if i == cursor {
			titleSt, subtitleSt, prefix = selectedJobTitleStyle, selectedJobSubtitleStyle, "> "
		}

		b.WriteString(prefix)
		b.WriteString(titleSt.Render(j.Title))
		if j.DuplicateStatus == model.DuplicateSuspected {
			b.WriteString(" " + duplicateBadgeStyle.Render("possible duplicate"))
		}
		b.WriteByte('\n')

		posted := "n/a"
		if j.PostedDate != nil {
			posted = *j.PostedDate
		}
		match := "not recommended"
		if j.Recommended {
			match = "recommended"
		}
		b.WriteString(prefix)
		b.WriteString(subtitleSt.Render(fmt.Sprintf("%s · %s · %s", j.Location, posted, match)))
		b.WriteByte('\n')

		if i < len(jobs)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// openURL opens url in the default system browser, fire-and-forget.
func openURL(url string) {
	if url == "" {
		return
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}
	_ = cmd.Start()
}

// Run shows the live view for runID until the user quits.
func Run(runID string, source Source, postings PostingLister) error {
	p := tea.NewProgram(newModel(runID, source, postings), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
