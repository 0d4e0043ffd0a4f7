package screens

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kerbaras/mfdl/pkg/app/components"
	"github.com/kerbaras/mfdl/pkg/app/styles"
	"github.com/kerbaras/mfdl/pkg/services"
)

// LogLineMsg carries one formatted log record to print above the view.
type LogLineMsg string

// runFinishedMsg is sent when the progress channel is closed.
type runFinishedMsg struct{}

// DownloadScreen follows the progress channel of one run until it closes.
type DownloadScreen struct {
	work     string
	progress <-chan services.DownloadProgress
	cancel   context.CancelFunc

	tracker     *components.ProgressTracker
	interrupted bool
	finished    bool
}

func NewDownloadScreen(work string, progress <-chan services.DownloadProgress, cancel context.CancelFunc) *DownloadScreen {
	return &DownloadScreen{
		work:     work,
		progress: progress,
		cancel:   cancel,
		tracker:  components.NewProgressTracker(80),
	}
}

// Follow sets the channel the screen listens on. It must be called
// before the program starts.
func (s *DownloadScreen) Follow(progress <-chan services.DownloadProgress) {
	s.progress = progress
}

func (s *DownloadScreen) Init() tea.Cmd {
	return s.listenForProgress
}

func (s *DownloadScreen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.tracker.SetWidth(msg.Width)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			// Keep listening: the run still cleans up the current chapter
			// and closes the channel.
			if !s.interrupted && s.cancel != nil {
				s.interrupted = true
				s.cancel()
			}
		}

	case LogLineMsg:
		return s, tea.Println(string(msg))

	case services.DownloadProgress:
		s.tracker.Update(msg)
		return s, s.listenForProgress

	case runFinishedMsg:
		s.finished = true
		return s, tea.Quit
	}

	return s, nil
}

func (s *DownloadScreen) View() string {
	if s.finished {
		// Final frame stays on screen after the program exits.
		return s.tracker.View() + "\n"
	}

	help := styles.HelpStyle.Render("q/ctrl+c: cancel")
	if s.interrupted {
		help = styles.StatusError.Render("cancelling, cleaning up current chapter...")
	}

	return fmt.Sprintf("%s\n\n%s\n%s\n",
		styles.TitleStyle.Render(fmt.Sprintf("Downloading %s", s.work)),
		s.tracker.View(),
		help,
	)
}

func (s *DownloadScreen) listenForProgress() tea.Msg {
	p, ok := <-s.progress
	if !ok {
		return runFinishedMsg{}
	}
	return p
}
