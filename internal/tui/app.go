// internal/tui/app.go
//
// The watch TUI follows a running codeforge worker. It renders the job queue,
// lets the user start/stop/retry jobs and previews generated files as they
// stream in. Like every bubbletea program it is Model -> Update -> View.

package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"

	"github.com/kingrea/codeforge/internal/jobs"
	"github.com/kingrea/codeforge/internal/wire"
)

const defaultMaxEvents = 8

// Conn is the connection the TUI drives. *client.Client satisfies it.
type Conn interface {
	Send(msg wire.ClientMsg) error
	Receive(ctx context.Context) (wire.ServerMsg, error)
}

type serverMsg struct {
	msg wire.ServerMsg
}

type connLostMsg struct {
	err error
}

type sentMsg struct {
	command string
	err     error
}

type focus int

const (
	focusJobs focus = iota
	focusFilter
	focusPreview
)

type jobRow struct {
	job      jobs.Job
	pipeline jobs.Status
}

func (r jobRow) filterValue() string {
	return fmt.Sprintf("%s %s %s", r.job.Name, r.job.Type, r.pipeline)
}

// rows adapts []jobRow to fuzzy.Source.
type rows []jobRow

func (r rows) String(i int) string { return r[i].filterValue() }
func (r rows) Len() int            { return len(r) }

// App is the watch model.
type App struct {
	conn      Conn
	ctx       context.Context
	language  string
	now       func() time.Time
	maxEvents int

	queue     *jobs.JobSet
	all       rows
	visible   rows
	selection int

	files       map[string]string
	streaming   string
	previewFile string
	events      []string
	statusMsg   string
	err         error
	connected   bool

	filter  textinput.Model
	preview viewport.Model
	spinner spinner.Model
	focus   focus

	width  int
	height int
}

// Option customizes App construction.
type Option func(*App)

// WithLanguage picks the highlighter used when a filename is not enough.
func WithLanguage(language string) Option {
	return func(a *App) {
		a.language = strings.TrimSpace(language)
	}
}

// WithClock allows tests to control relative timestamps.
func WithClock(clock func() time.Time) Option {
	return func(a *App) {
		if clock != nil {
			a.now = clock
		}
	}
}

// WithContext bounds the receive loop.
func WithContext(ctx context.Context) Option {
	return func(a *App) {
		if ctx != nil {
			a.ctx = ctx
		}
	}
}

// New builds a watch model over conn.
func New(conn Conn, opts ...Option) *App {
	filter := textinput.New()
	filter.Placeholder = "filter jobs"
	filter.Prompt = "/ "
	filter.CharLimit = 64

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	a := &App{
		conn:      conn,
		ctx:       context.Background(),
		language:  "Rust",
		now:       func() time.Time { return time.Now().UTC() },
		maxEvents: defaultMaxEvents,
		queue:     jobs.NewJobSet(),
		files:     map[string]string{},
		connected: true,
		filter:    filter,
		preview:   viewport.New(40, 12),
		spinner:   spin,
		statusMsg: "Waiting for the worker...",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Init starts the receive loop and the spinner.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.listen(), a.spinner.Tick)
}

func (a *App) listen() tea.Cmd {
	return func() tea.Msg {
		msg, err := a.conn.Receive(a.ctx)
		if err != nil {
			return connLostMsg{err: err}
		}
		return serverMsg{msg: msg}
	}
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.preview.Width = max(20, msg.Width/2-6)
		a.preview.Height = max(5, msg.Height-14)
		return a, nil

	case serverMsg:
		a.apply(msg.msg)
		return a, a.listen()

	case connLostMsg:
		a.connected = false
		a.err = msg.err
		a.statusMsg = "Connection to the worker lost. Press q to quit."
		return a, nil

	case sentMsg:
		if msg.err != nil {
			a.err = msg.err
			a.statusMsg = fmt.Sprintf("%s failed", msg.command)
		} else {
			a.statusMsg = fmt.Sprintf("Sent %s", msg.command)
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return a, tea.Quit
	}
	switch a.focus {
	case focusFilter:
		switch key {
		case "esc":
			a.filter.SetValue("")
			a.filter.Blur()
			a.focus = focusJobs
			a.refilter()
			return a, nil
		case "enter":
			a.filter.Blur()
			a.focus = focusJobs
			return a, nil
		}
		var cmd tea.Cmd
		a.filter, cmd = a.filter.Update(msg)
		a.refilter()
		return a, cmd
	case focusPreview:
		switch key {
		case "esc", "q", "enter":
			a.focus = focusJobs
			return a, nil
		}
		var cmd tea.Cmd
		a.preview, cmd = a.preview.Update(msg)
		return a, cmd
	}

	switch key {
	case "q":
		return a, tea.Quit
	case "up", "k":
		if a.selection > 0 {
			a.selection--
		}
	case "down", "j":
		if a.selection < len(a.visible)-1 {
			a.selection++
		}
	case "/":
		a.focus = focusFilter
		return a, a.filter.Focus()
	case "esc":
		if a.filter.Value() != "" {
			a.filter.SetValue("")
			a.refilter()
		}
	case "enter":
		if row, ok := a.selected(); ok {
			if _, has := a.files[row.job.Name]; has {
				a.openPreview(row.job.Name)
				a.focus = focusPreview
			}
		}
	case "s":
		return a, a.jobCommand("startJob", func(id string) wire.ClientMsg {
			return wire.ClientMsg{StartJob: &wire.StartJob{JobID: id}}
		})
	case "x":
		return a, a.jobCommand("stopJob", func(id string) wire.ClientMsg {
			return wire.ClientMsg{StopJob: &wire.StopJob{JobID: id}}
		})
	case "r":
		return a, a.jobCommand("retryJob", func(id string) wire.ClientMsg {
			return wire.ClientMsg{RetryJob: &wire.RetryJob{JobID: id}}
		})
	}
	return a, nil
}

func (a *App) jobCommand(command string, build func(id string) wire.ClientMsg) tea.Cmd {
	row, ok := a.selected()
	if !ok {
		a.statusMsg = "No job selected"
		return nil
	}
	msg := build(row.job.ID.String())
	conn := a.conn
	return func() tea.Msg {
		return sentMsg{command: command, err: conn.Send(msg)}
	}
}

// apply folds one worker message into the model.
func (a *App) apply(msg wire.ServerMsg) {
	switch {
	case msg.UpdateJobQueue != nil:
		if msg.UpdateJobQueue.Jobs != nil {
			a.queue = msg.UpdateJobQueue.Jobs
		}
		a.rebuild()
		a.statusMsg = fmt.Sprintf("%d job(s) in queue", a.queue.Len())
	case msg.CreateFile != nil:
		a.files[msg.CreateFile.Filename] = ""
		a.event("created %s", msg.CreateFile.Filename)
	case msg.BeginStream != nil:
		a.streaming = msg.BeginStream.Filename
		a.files[a.streaming] = ""
	case msg.StreamToken != nil:
		if a.streaming == "" {
			return
		}
		a.files[a.streaming] += msg.StreamToken.Token
		if a.previewFile == a.streaming {
			a.openPreview(a.streaming)
		}
	case msg.EndStream != nil:
		if a.streaming != "" {
			a.event("received %s (%d bytes)", a.streaming, len(a.files[a.streaming]))
			if a.previewFile == "" {
				a.openPreview(a.streaming)
			}
		}
		a.streaming = ""
	case msg.InitPromptAck != nil:
		a.event("prompt accepted")
	case msg.AddInterfaceAck != nil:
		a.event("interface %s added", msg.AddInterfaceAck.InterfaceName)
	case msg.AddSchemaAck != nil:
		a.event("schema %s added", msg.AddSchemaAck.SchemaName)
	case msg.CommandAck != nil:
		a.event("%s ok", msg.CommandAck.Command)
	case msg.CommandError != nil:
		ce := msg.CommandError
		a.err = fmt.Errorf("%s: %s (%s)", ce.Command, ce.Message, ce.Kind)
		a.event("%s rejected: %s", ce.Command, ce.Kind)
	case msg.JobFailed != nil:
		a.event("job %s failed: %s", a.jobName(msg.JobFailed.JobID), msg.JobFailed.Error)
	}
}

func (a *App) jobName(rawID string) string {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return rawID
	}
	if job, ok := a.queue.Get(id); ok {
		return job.Name
	}
	return rawID
}

func (a *App) event(format string, args ...any) {
	line := fmt.Sprintf("%s  %s", a.now().Format("15:04:05"), fmt.Sprintf(format, args...))
	a.events = append(a.events, line)
	if len(a.events) > a.maxEvents {
		a.events = a.events[len(a.events)-a.maxEvents:]
	}
}

// rebuild flattens the queue in pipeline order: running, todo, stopped, done.
func (a *App) rebuild() {
	var selectedID uuid.UUID
	if row, ok := a.selected(); ok {
		selectedID = row.job.ID
	}
	var out rows
	groups := []struct {
		status jobs.Status
		list   []jobs.Job
	}{
		{jobs.StatusInProgress, a.queue.InProgress()},
		{jobs.StatusTodo, a.queue.Todo()},
		{jobs.StatusStopped, a.queue.Stopped()},
		{jobs.StatusDone, a.queue.Done()},
	}
	for _, g := range groups {
		for _, job := range g.list {
			out = append(out, jobRow{job: job, pipeline: g.status})
		}
	}
	a.all = out
	a.refilter()
	if selectedID != uuid.Nil {
		for i, row := range a.visible {
			if row.job.ID == selectedID {
				a.selection = i
				break
			}
		}
	}
}

func (a *App) refilter() {
	pattern := strings.TrimSpace(a.filter.Value())
	if pattern == "" {
		a.visible = a.all
	} else {
		matches := fuzzy.FindFrom(pattern, a.all)
		filtered := make(rows, 0, len(matches))
		for _, m := range matches {
			filtered = append(filtered, a.all[m.Index])
		}
		a.visible = filtered
	}
	if a.selection >= len(a.visible) {
		a.selection = max(0, len(a.visible)-1)
	}
}

func (a *App) selected() (jobRow, bool) {
	if a.selection < 0 || a.selection >= len(a.visible) {
		return jobRow{}, false
	}
	return a.visible[a.selection], true
}

func (a *App) openPreview(filename string) {
	a.previewFile = filename
	a.preview.SetContent(highlightFile(filename, a.language, a.files[filename]))
}

func (a *App) running() int {
	if a.queue == nil {
		return 0
	}
	return len(a.queue.InProgress())
}
