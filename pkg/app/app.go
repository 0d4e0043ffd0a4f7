package app

import (
	"context"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kerbaras/mfdl/pkg/app/screens"
	"github.com/kerbaras/mfdl/pkg/services"
)

// App renders the progress of one download run in the terminal.
type App struct {
	program *tea.Program
	screen  *screens.DownloadScreen
}

// NewApp builds the view of a run over work. cancel is called when the
// user asks to stop.
func NewApp(work string, cancel context.CancelFunc, opts ...tea.ProgramOption) *App {
	screen := screens.NewDownloadScreen(work, nil, cancel)
	// Signals cancel the run context instead; the view exits when the
	// run closes the progress channel.
	opts = append([]tea.ProgramOption{tea.WithoutSignalHandler()}, opts...)
	return &App{
		program: tea.NewProgram(screen, opts...),
		screen:  screen,
	}
}

// Run follows progress until the channel is closed or the program is
// killed.
func (a *App) Run(progress <-chan services.DownloadProgress) error {
	a.screen.Follow(progress)
	_, err := a.program.Run()
	return err
}

// LogWriter returns a writer that prints each written log record above
// the view. Writes block until Run has started; writes after the program
// has exited are dropped.
func (a *App) LogWriter() io.Writer {
	return teaWriter{program: a.program}
}

type teaWriter struct {
	program *tea.Program
}

func (w teaWriter) Write(p []byte) (int, error) {
	w.program.Send(screens.LogLineMsg(strings.TrimRight(string(p), "\n")))
	return len(p), nil
}
