package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	assistant "github.com/koscakluka/ada-core/core"
	"github.com/koscakluka/ada-core/core/bus"
	"github.com/koscakluka/ada-core/core/events"
	"github.com/koscakluka/ada-core/core/module"
)

// consoleName is the source stamped on utterances typed into the console.
const consoleName = "console"

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	alertStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	inputStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).Padding(0, 1)
)

// runConsole runs the assistant alongside an interactive terminal: typed
// lines publish as utterances, and the transcript mirrors every event the
// bus carries. Quitting the console shuts the assistant down.
func runConsole(ctx context.Context, a *assistant.Assistant, eventBus *bus.Bus) error {
	program := tea.NewProgram(newConsoleModel(eventBus),
		tea.WithAltScreen(), tea.WithContext(ctx))

	topics := []events.Topic{
		events.TopicUtterance,
		events.TopicResponse,
		events.TopicDetection,
		events.TopicLifecycle,
		events.TopicHealth,
	}
	for _, topic := range topics {
		subscription, err := eventBus.Subscribe(topic, consoleName, func(_ context.Context, delivery bus.Delivery) error {
			program.Send(eventMsg{event: delivery.Event})
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe console to %s: %w", topic, err)
		}
		defer subscription.Unsubscribe()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	_, teaErr := program.Run()
	a.Close()

	err := <-runErr
	if teaErr != nil && !errors.Is(teaErr, tea.ErrProgramKilled) {
		return teaErr
	}
	return err
}

type eventMsg struct {
	event events.Event
}

type consoleModel struct {
	bus *bus.Bus

	viewport viewport.Model
	input    textinput.Model
	lines    []string
	ready    bool
}

func newConsoleModel(eventBus *bus.Bus) consoleModel {
	input := textinput.New()
	input.Placeholder = "say something"
	input.Focus()

	return consoleModel{
		bus:   eventBus,
		input: input,
	}
}

func (m consoleModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			// The echo comes back through the utterance subscription.
			if err := m.bus.Publish(events.NewUtterance(consoleName, text)); err != nil {
				m.append(alertStyle.Render("failed to send: " + err.Error()))
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		inputHeight := lipgloss.Height(inputStyle.Render(""))
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - inputHeight
		}
		m.refresh()
		return m, nil

	case eventMsg:
		if line, ok := formatEvent(msg.event); ok {
			m.append(line)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m consoleModel) View() string {
	if !m.ready {
		return "starting..."
	}
	return m.viewport.View() + "\n" + inputStyle.Width(m.viewport.Width-2).Render(m.input.View())
}

func (m *consoleModel) append(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *consoleModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(wordwrap.String(strings.Join(m.lines, "\n"), m.viewport.Width))
	m.viewport.GotoBottom()
}

func formatEvent(event events.Event) (string, bool) {
	switch typed := event.(type) {
	case events.Utterance:
		label := userStyle.Render("you")
		if typed.Transcribed {
			label = userStyle.Render("you (voice)")
		}
		return label + ": " + typed.Text, true

	case events.Response:
		label := assistantStyle.Render("ada")
		if typed.Fallback {
			label = alertStyle.Render("ada (fallback)")
		}
		return label + ": " + typed.Text, true

	case events.Detection:
		return noticeStyle.Render(typed.Summary()), true

	case events.Lifecycle:
		line := "assistant " + string(typed.Phase)
		if typed.Module != "" {
			line = fmt.Sprintf("%s: %s", typed.Module, typed.Phase)
		}
		if typed.Detail != "" {
			line += " (" + typed.Detail + ")"
		}
		if typed.Phase == events.LifecycleDegraded {
			return alertStyle.Render(line), true
		}
		return noticeStyle.Render(line), true

	case events.Health:
		if typed.State == string(module.StateRunning) {
			return "", false
		}
		line := fmt.Sprintf("%s is %s", typed.Source(), typed.State)
		if typed.Message != "" {
			line += ": " + typed.Message
		}
		return alertStyle.Render(line), true
	}

	return "", false
}
