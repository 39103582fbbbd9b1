// Command cli is the coterm interactive console: a line-oriented shell
// over the execution engine with history, tab completion and the
// extension loader.
//
// Usage:
//
//	go run cmd/cli/main.go
//
// Keys:
//
//	Enter   - submit the current line
//	Up/Down - recall history
//	Tab     - complete the trailing identifier
//	Ctrl+C  - interrupt the running turn / clear the line
//	Ctrl+D  - exit
//	Ctrl+L  - clear the transcript
//	Ctrl+R  - re-download the extension pack
//	Ctrl+U  - clear the line
//	F1      - show the extension pack notes
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/coterm/coterm/pkg/console"
	"github.com/coterm/coterm/pkg/engine"
	"github.com/coterm/coterm/pkg/extensions"
)

const primaryPrompt = ">>> "

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#0A0A0A")).
			Background(lipgloss.Color("#33FF33")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#33FF33")).
			Bold(true)

	echoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7CFC00"))

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Italic(true)

	interruptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)
)

type engineEventMsg engine.Event
type fetchDoneMsg struct{ err error }
type errMsg struct{ err error }

type model struct {
	eng     *engine.Engine
	sess    *console.Session
	fetcher *extensions.Fetcher
	cfgDir  string

	events <-chan engine.Event

	transcript string
	fetching   bool
	width      int
	height     int
	err        error

	// UI Components
	viewport  viewport.Model
	textinput textinput.Model
	spinner   spinner.Model
	renderer  *glamour.TermRenderer
}

func initialModel(eng *engine.Engine, cfgDir, banner string) model {
	ti := textinput.New()
	ti.Prompt = promptStyle.Render(primaryPrompt)
	ti.Focus()
	ti.Width = 76

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = promptStyle

	// Use "light" style to avoid terminal queries that leak into input
	r, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(80),
	)

	m := model{
		eng:       eng,
		sess:      console.NewSession(eng),
		fetcher:   extensions.NewFetcher(),
		cfgDir:    cfgDir,
		events:    eng.Events(),
		viewport:  vp,
		textinput: ti,
		spinner:   sp,
		renderer:  r,
	}
	if banner != "" {
		m.transcript += banner + "\n"
	}

	if !extensions.ScriptInstalled(cfgDir) {
		m.sess.RequestConfirm("Download the extension pack? [y/n] ")
		m.appendSystem("No extension pack installed.")
		m.textinput.Prompt = promptStyle.Render(m.sess.ConfirmPrompt())
	}
	m.viewport.SetContent(m.transcript)
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.events))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd tea.Cmd
	m.textinput, tiCmd = m.textinput.Update(msg)
	cmds = append(cmds, tiCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 4 // Header + prompt + margin
		if m.viewport.Height < 0 {
			m.viewport.Height = 0
		}
		m.textinput.Width = msg.Width - len(primaryPrompt) - 1

		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("light"),
			glamour.WithWordWrap(m.width-4),
		)
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			return m.submitLine()
		case tea.KeyUp:
			if line, ok := m.sess.RecallPrev(); ok {
				m.textinput.SetValue(line)
				m.textinput.CursorEnd()
			}
			return m, nil
		case tea.KeyDown:
			if line, ok := m.sess.RecallNext(); ok {
				m.textinput.SetValue(line)
				m.textinput.CursorEnd()
			}
			return m, nil
		case tea.KeyTab:
			m.completeLine()
			return m, nil
		case tea.KeyCtrlC:
			return m.interrupt()
		case tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyCtrlL:
			m.transcript = ""
			m.refresh()
			return m, nil
		case tea.KeyCtrlU:
			m.textinput.SetValue("")
			return m, nil
		case tea.KeyCtrlR:
			return m.startFetch("Re-downloading extension pack...")
		case tea.KeyF1:
			m.showNotes()
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var vpCmd tea.Cmd
			m.viewport, vpCmd = m.viewport.Update(msg)
			cmds = append(cmds, vpCmd)
		}

	case engineEventMsg:
		m.handleEngineEvent(engine.Event(msg))
		cmds = append(cmds, waitForEvent(m.events))

	case fetchDoneMsg:
		m.fetching = false
		if msg.err != nil {
			m.appendSystem(fmt.Sprintf("Download failed: %v", msg.err))
		} else {
			m.appendSystem("Extension pack installed.")
			out, err := extensions.Load(m.eng, m.cfgDir)
			if out != "" {
				m.transcript += out
				if !strings.HasSuffix(out, "\n") {
					m.transcript += "\n"
				}
			}
			if err != nil {
				m.appendSystem(fmt.Sprintf("Extension load failed: %v", err))
			}
		}
		m.refresh()

	case spinner.TickMsg:
		if m.fetching {
			var spCmd tea.Cmd
			m.spinner, spCmd = m.spinner.Update(msg)
			cmds = append(cmds, spCmd)
		}

	case errMsg:
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

// submitLine routes the entered line through the session controller.
func (m model) submitLine() (tea.Model, tea.Cmd) {
	line := m.textinput.Value()
	m.transcript += m.textinput.Prompt + echoStyle.Render(line) + "\n"

	switch m.sess.SubmitLine(line) {
	case console.DispSubmitted, console.DispEmpty:
		m.textinput.SetValue("")
	case console.DispBusy:
		m.appendSystem("A turn is still running; Ctrl+C to interrupt it.")
	case console.DispInputReply:
		m.textinput.SetValue("")
		m.textinput.Prompt = promptStyle.Render(primaryPrompt)
	case console.DispConfirmYes:
		m.textinput.SetValue("")
		m.textinput.Prompt = promptStyle.Render(primaryPrompt)
		m.refresh()
		return m.startFetch("Downloading extension pack...")
	case console.DispConfirmNo:
		m.textinput.SetValue("")
		m.textinput.Prompt = promptStyle.Render(primaryPrompt)
		m.appendSystem("Skipped. Ctrl+R downloads it later.")
	case console.DispConfirmRetry:
		m.textinput.SetValue("")
		m.appendSystem("Please answer y or n.")
	}
	m.refresh()
	return m, nil
}

func (m model) interrupt() (tea.Model, tea.Cmd) {
	if m.sess.Cancel() == console.CancelLocal {
		// Nothing running: just abandon the half-typed line.
		m.transcript += m.textinput.Prompt + echoStyle.Render(m.textinput.Value()) + "\n"
		m.appendSystem("^C")
		m.textinput.SetValue("")
		m.textinput.Prompt = promptStyle.Render(primaryPrompt)
		m.refresh()
	}
	return m, nil
}

func (m *model) completeLine() {
	width := m.width
	if width <= 0 {
		width = 80
	}
	c := m.sess.Complete(m.textinput.Value(), width)
	if c.Insert != "" {
		m.textinput.SetValue(m.textinput.Value() + c.Insert)
		m.textinput.CursorEnd()
		return
	}
	if c.Listing != "" {
		m.transcript += m.textinput.Prompt + echoStyle.Render(m.textinput.Value()) + "\n"
		m.transcript += c.Listing + "\n"
		m.refresh()
	}
}

func (m model) startFetch(note string) (tea.Model, tea.Cmd) {
	if m.fetching {
		return m, nil
	}
	m.fetching = true
	m.appendSystem(note)
	m.refresh()
	fetcher, dir := m.fetcher, m.cfgDir
	fetch := func() tea.Msg {
		return fetchDoneMsg{err: fetcher.Fetch(dir)}
	}
	return m, tea.Batch(m.spinner.Tick, fetch)
}

func (m *model) handleEngineEvent(ev engine.Event) {
	m.sess.HandleEvent(ev)
	switch ev.Kind {
	case engine.EventOutput:
		m.transcript += ev.Text

	case engine.EventInputRequest:
		m.textinput.Prompt = promptStyle.Render(ev.Prompt)
		m.textinput.SetValue("")

	case engine.EventFinished:
		if ev.IsError {
			m.transcript += errorStyle.Render(strings.TrimRight(ev.Text, "\n")) + "\n"
		} else if ev.Text != "" {
			m.transcript += colorize(ev.Text)
		}
		m.textinput.Prompt = promptStyle.Render(primaryPrompt)

	case engine.EventInterrupted:
		m.transcript += interruptStyle.Render("^C") + "\n" +
			interruptStyle.Render("KeyboardInterrupt") + "\n"
		m.textinput.Prompt = promptStyle.Render(primaryPrompt)
		m.textinput.SetValue("")
	}
	m.refresh()
}

// showNotes renders the extension pack's README into the transcript.
func (m *model) showNotes() {
	raw, err := os.ReadFile(m.cfgDir + "/" + extensions.ReadmeName)
	if err != nil {
		m.appendSystem("No extension notes installed. Ctrl+R downloads the pack.")
		m.refresh()
		return
	}
	content, err := m.renderer.Render(string(raw))
	if err != nil {
		content = string(raw)
	}
	m.transcript += content
	m.refresh()
}

// colorize highlights result text when it reads back as valid source,
// which result echoes mostly do. The text itself is never altered beyond
// color.
func colorize(text string) string {
	if !engine.ValidSource(strings.TrimSpace(text)) {
		return text
	}
	var sb strings.Builder
	if err := quick.Highlight(&sb, text, "python", "terminal256", "monokai"); err != nil {
		return text
	}
	return sb.String()
}

func (m *model) appendSystem(text string) {
	m.transcript += systemStyle.Render(text) + "\n"
}

func (m *model) refresh() {
	m.viewport.SetContent(m.transcript)
	m.viewport.GotoBottom()
}

func (m model) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	}

	header := titleStyle.Render("coterm")
	inputView := m.textinput.View()
	if m.fetching {
		inputView = m.spinner.View() + " downloading..."
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		m.viewport.View(),
		errorView,
		inputView,
	)
}

func waitForEvent(ch <-chan engine.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return engineEventMsg(ev)
	}
}

// --- Main ---

func main() {
	// 1. Setup Logging
	f, err := os.OpenFile("coterm.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer f.Close()

	logLevel := slog.LevelInfo
	if lv := os.Getenv("LOG_LEVEL"); lv != "" {
		switch strings.ToUpper(lv) {
		case "DEBUG":
			logLevel = slog.LevelDebug
		case "INFO":
			logLevel = slog.LevelInfo
		case "WARN":
			logLevel = slog.LevelWarn
		case "ERROR":
			logLevel = slog.LevelError
		}
	}
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
	slog.Info("Logging initialized", "level", logLevel)

	// 2. Resolve the extension directory
	cfgDir, err := extensions.ConfigDir()
	if err != nil {
		slog.Error("Failed to resolve config dir", "error", err)
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	// 3. Build the engine and run the extension script before the first
	// prompt so its bindings are visible immediately.
	eng := engine.New(engine.Config{})
	banner, loadErr := extensions.Load(eng, cfgDir)
	banner = strings.TrimRight(banner, "\n")
	if loadErr != nil {
		slog.Error("Extension load failed", "error", loadErr)
		if banner != "" {
			banner += "\n"
		}
		banner += "Extension load failed: " + loadErr.Error()
	}

	// 4. Start Program
	p := tea.NewProgram(initialModel(eng, cfgDir, banner))
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
