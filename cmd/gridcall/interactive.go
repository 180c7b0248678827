package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/voltmesh/gridlink/grid"
	"github.com/voltmesh/gridlink/isolate"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	opStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#98FB98"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type paramSpec struct {
	name        string
	placeholder string
}

type opInfo struct {
	name   string
	params []paramSpec
	call   func(ctx context.Context, args []string) (string, error)
}

type modelState int

const (
	stateSelectOp modelState = iota
	stateInputArgs
	stateShowResult
)

type interactiveModel struct {
	err      error
	filename string
	result   string
	ops      []opInfo
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
	ready    bool
}

func newInteractiveModel(filename string) *interactiveModel {
	return &interactiveModel{
		filename: filename,
		state:    stateSelectOp,
		ops:      operations(),
	}
}

type loadedMsg struct {
	err error
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadEngine
}

func (m *interactiveModel) loadEngine() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}
	if err := isolate.Init(context.Background(), isolate.Config{Module: data}); err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if isolate.Active() {
				_ = isolate.Shutdown(context.Background())
			}
			return m, tea.Quit

		case "up", "k":
			if m.state == stateSelectOp && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectOp && m.selected < len(m.ops)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectOp:
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callOperation
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callOperation

			case stateShowResult:
				m.state = stateSelectOp
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectOp
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectOp
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.ready = true

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	op := m.ops[m.selected]
	m.inputs = make([]textinput.Model, len(op.params))
	for i, p := range op.params {
		ti := textinput.New()
		ti.Placeholder = p.placeholder
		ti.Prompt = p.name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callOperation() tea.Msg {
	op := m.ops[m.selected]
	args := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		args[i] = input.Value()
	}
	result, err := op.call(context.Background(), args)
	if err != nil {
		return callResultMsg{err: err}
	}
	return callResultMsg{result: result}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if !m.ready {
		return "Loading engine..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Grid Engine"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectOp:
		b.WriteString("Select an operation:\n\n")
		for i, op := range m.ops {
			line := m.formatOp(op)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter run • q quit"))

	case stateInputArgs:
		op := m.ops[m.selected]
		b.WriteString(fmt.Sprintf("Running %s\n\n", opStyle.Render(op.name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(hintStyle.Render(op.params[i].placeholder))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter run • esc back"))

	case stateShowResult:
		op := m.ops[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", opStyle.Render(op.name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatOp(op opInfo) string {
	var params []string
	for _, p := range op.params {
		params = append(params, p.name)
	}
	return opStyle.Render(op.name) + "(" + strings.Join(params, ", ") + ")"
}

// operations is the closed catalog the TUI offers. Each runs a complete
// facade scenario so engine-side objects never outlive the call.
func operations() []opInfo {
	return []opInfo{
		{
			name: "version",
			call: func(ctx context.Context, _ []string) (string, error) {
				return grid.Version(ctx)
			},
		},
		{
			name: "providers",
			call: func(ctx context.Context, _ []string) (string, error) {
				names, err := grid.LoadFlowProviderNames(ctx)
				if err != nil {
					return "", err
				}
				return strings.Join(names, "\n"), nil
			},
		},
		{
			name: "loadflow",
			params: []paramSpec{
				{name: "network", placeholder: "file.xiidm (empty for demo)"},
				{name: "provider", placeholder: "OpenLoadFlow"},
			},
			call: func(ctx context.Context, args []string) (string, error) {
				net, err := openNetwork(ctx, args[0])
				if err != nil {
					return "", err
				}
				defer net.Release(ctx)

				provider := args[1]
				if provider == "" {
					provider = "OpenLoadFlow"
				}
				results, err := grid.RunLoadFlow(ctx, net, false, nil, provider)
				if err != nil {
					return "", err
				}
				var b strings.Builder
				for _, r := range results {
					fmt.Fprintf(&b, "component %d: status=%d iterations=%d slack=%s\n",
						r.ConnectedComponentNum, r.Status, r.IterationCount, r.SlackBusID)
				}
				return b.String(), nil
			},
		},
		{
			name: "elements",
			params: []paramSpec{
				{name: "network", placeholder: "file.xiidm (empty for demo)"},
			},
			call: func(ctx context.Context, args []string) (string, error) {
				net, err := openNetwork(ctx, args[0])
				if err != nil {
					return "", err
				}
				defer net.Release(ctx)

				ids, err := grid.NetworkElementIDs(ctx, net, grid.ElementLine, nil, nil)
				if err != nil {
					return "", err
				}
				return strings.Join(ids, "\n"), nil
			},
		},
		{
			name: "save",
			params: []paramSpec{
				{name: "network", placeholder: "file.xiidm (empty for demo)"},
				{name: "format", placeholder: "XIIDM"},
			},
			call: func(ctx context.Context, args []string) (string, error) {
				net, err := openNetwork(ctx, args[0])
				if err != nil {
					return "", err
				}
				defer net.Release(ctx)

				format := args[1]
				if format == "" {
					format = "XIIDM"
				}
				return grid.SaveNetworkToString(ctx, net, format, nil)
			},
		},
	}
}

func runInteractive(filename string) error {
	p := tea.NewProgram(newInteractiveModel(filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
