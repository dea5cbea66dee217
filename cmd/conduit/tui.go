package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/cuemby/conduit/pkg/types"
	"golang.org/x/sync/errgroup"
)

const barWidth = 40

var titleStyle = lipgloss.NewStyle().Bold(true).MarginBottom(1)

type jobMsg types.MigrationJob

// progressModel renders one bar per migration
type progressModel struct {
	jobs    map[string]types.MigrationJob
	order   []string
	bar     progress.Model
	spinner spinner.Model
	width   int
}

func newProgressModel(jobs []*types.MigrationJob) progressModel {
	m := progressModel{
		jobs:    make(map[string]types.MigrationJob, len(jobs)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth)),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
	for _, j := range jobs {
		m.jobs[j.ID] = *j
		m.order = append(m.order, j.ID)
	}
	sort.Strings(m.order)
	return m
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(barWidth, max(10, msg.Width-40))
	case jobMsg:
		m.jobs[msg.ID] = types.MigrationJob(msg)
		if m.finished() {
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) finished() bool {
	for _, j := range m.jobs {
		if !j.Status.Terminal() {
			return false
		}
	}
	return true
}

func (m progressModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Migrations"))
	b.WriteString("\n")
	for _, id := range m.order {
		j := m.jobs[id]
		ev := types.ProgressEvent{
			IsCompleted:    j.Status.Terminal(),
			ProcessedCount: j.ProcessedCount,
			TotalCount:     j.TotalCount,
		}
		marker := m.spinner.View()
		if j.Status.Terminal() {
			marker = statusText(j.Status)
		}
		fmt.Fprintf(&b, "%s %s %s\n", mutedStyle.Render(shortID(id)), m.bar.ViewAs(ev.Percent()/100), marker)
		if j.Message != "" {
			fmt.Fprintf(&b, "  %s\n", mutedStyle.Render(j.Message))
		}
	}
	b.WriteString(mutedStyle.Render("\nq to stop watching"))
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// runTUI drives w under a bubbletea program. Quitting the program stops
// the watch.
func runTUI(ctx context.Context, w *watcher, out *printer, jobs []*types.MigrationJob) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(jobs), tea.WithContext(ctx), tea.WithOutput(out.w))
	w.onUpdate = func(j types.MigrationJob) { p.Send(jobMsg(j)) }

	var watchErr error
	var g errgroup.Group
	g.Go(func() error {
		_, err := p.Run()
		cancel()
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		watchErr = w.run(ctx)
		p.Quit()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return watchErr
}
