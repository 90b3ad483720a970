package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nuuslees/models"
	"nuuslees/ui"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"
)

// Scheduler is the part of the pipeline the interface triggers
type Scheduler interface {
	Refresh(urls ...string)
	Extract(itemKey string)
	Notifications() <-chan models.Notification
}

// Writer persists read state changes made in the interface
type Writer interface {
	SetReadState(ctx context.Context, state models.ReadState) error
	MarkFeedRead(ctx context.Context, feedURL string) (int64, error)
}

type notificationMsg models.Notification

type writeDoneMsg struct {
	err error
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("12"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	unreadStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
)

// Model adapts a ui.Controller to bubbletea. All controller access happens
// on the bubbletea update loop.
type Model struct {
	ctx        context.Context
	controller *ui.Controller
	scheduler  Scheduler
	writer     Writer
	keys       keyMap
	spinner    spinner.Model

	width  int
	height int
	view   string
}

func NewModel(ctx context.Context, controller *ui.Controller, scheduler Scheduler, writer Writer) *Model {
	return &Model{
		ctx:        ctx,
		controller: controller,
		scheduler:  scheduler,
		writer:     writer,
		keys:       defaultKeyMap(),
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

func (m *Model) Init() tea.Cmd {
	m.sync()
	return tea.Batch(m.waitForNotification(), m.spinner.Tick)
}

// waitForNotification delivers the next pipeline event as a message. It is
// re-armed after every delivery.
func (m *Model) waitForNotification() tea.Cmd {
	notifications := m.scheduler.Notifications()
	return func() tea.Msg {
		select {
		case n := <-notifications:
			return notificationMsg(n)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.controller.Resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		k := m.keys.lookup(msg)
		if k == ui.KeyNone {
			return m, nil
		}
		cmds = append(cmds, m.execute(m.controller.HandleKey(k))...)

	case notificationMsg:
		m.controller.HandleNotification(models.Notification(msg))
		cmds = append(cmds, m.waitForNotification())

	case writeDoneMsg:
		if msg.err != nil {
			m.controller.SetStatus("Saving failed: %v", msg.err)
		}
		m.controller.Invalidate()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
		if !m.controller.Refreshing() {
			return m, tea.Batch(cmds...)
		}
	}

	if m.controller.Quitting() {
		return m, tea.Quit
	}

	m.sync()
	m.view = m.render()
	m.controller.ClearDirty()
	return m, tea.Batch(cmds...)
}

// sync reloads store data when the controller asks for it
func (m *Model) sync() {
	if err := m.controller.Sync(m.ctx); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("Failed to load from store")
		m.controller.SetStatus("Loading failed: %v", err)
	}
}

// execute turns controller commands into scheduler calls and store writes
func (m *Model) execute(commands []ui.Command) []tea.Cmd {
	var cmds []tea.Cmd
	for _, command := range commands {
		switch command := command.(type) {
		case ui.RefreshCmd:
			m.scheduler.Refresh(command.FeedURLs...)
		case ui.ExtractCmd:
			m.scheduler.Extract(command.ItemKey)
		case ui.SetReadStateCmd:
			state := command.State
			cmds = append(cmds, func() tea.Msg {
				return writeDoneMsg{err: m.writer.SetReadState(m.ctx, state)}
			})
		case ui.MarkFeedReadCmd:
			feedURL := command.FeedURL
			cmds = append(cmds, func() tea.Msg {
				_, err := m.writer.MarkFeedRead(m.ctx, feedURL)
				return writeDoneMsg{err: err}
			})
		case ui.QuitCmd:
			cmds = append(cmds, tea.Quit)
		}
	}
	return cmds
}

func (m *Model) View() string {
	if m.view == "" || m.controller.Dirty() {
		m.view = m.render()
	}
	return m.view
}

func (m *Model) render() string {
	frame := m.controller.Frame()

	var b strings.Builder
	b.WriteString(titleStyle.Width(max(m.width, 1)).Render(frame.Title))
	b.WriteString("\n")

	for _, line := range frame.Lines {
		b.WriteString(style(line.Style).Render(line.Text))
		b.WriteString("\n")
	}
	// Keep the status line at the bottom
	for i := len(frame.Lines); i < m.height-2; i++ {
		b.WriteString("\n")
	}

	status := frame.Status
	if frame.Busy {
		status = fmt.Sprintf("%s %s", m.spinner.View(), status)
	}
	b.WriteString(statusStyle.Render(status))
	return b.String()
}

func style(s ui.Style) lipgloss.Style {
	switch s {
	case ui.StyleSelected:
		return selectedStyle
	case ui.StyleHeader:
		return headerStyle
	case ui.StyleUnread:
		return unreadStyle
	case ui.StyleDim:
		return dimStyle
	case ui.StyleError:
		return errorStyle
	default:
		return lipgloss.NewStyle()
	}
}

// Run shows the interface until the user quits or ctx is canceled
func Run(ctx context.Context, controller *ui.Controller, scheduler Scheduler, writer Writer) error {
	program := tea.NewProgram(
		NewModel(ctx, controller, scheduler, writer),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
