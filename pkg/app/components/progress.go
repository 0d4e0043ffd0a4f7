package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/kerbaras/mfdl/pkg/app/styles"
	"github.com/kerbaras/mfdl/pkg/services"
)

// ProgressTracker keeps the latest event of every chapter of a run and
// renders the unfinished ones as progress bars.
type ProgressTracker struct {
	downloads map[string]*services.DownloadProgress
	order     []string
	bar       progress.Model
	width     int

	completed int
	skipped   int
	failed    int
}

func NewProgressTracker(width int) *ProgressTracker {
	p := &ProgressTracker{
		downloads: make(map[string]*services.DownloadProgress),
		bar:       progress.New(progress.WithDefaultGradient()),
	}
	p.SetWidth(width)
	return p
}

func (p *ProgressTracker) SetWidth(width int) {
	p.width = width
	p.bar.Width = max(width-4, 10)
}

func key(progress services.DownloadProgress) string {
	return progress.Work + ":" + progress.Chapter
}

func (p *ProgressTracker) Update(progress services.DownloadProgress) {
	k := key(progress)
	if _, ok := p.downloads[k]; !ok {
		p.order = append(p.order, k)
	}

	switch progress.Status {
	case services.StatusComplete:
		p.completed++
		p.remove(k)
		return
	case services.StatusSkipped:
		p.skipped++
		p.remove(k)
		return
	case services.StatusError:
		p.failed++
	case services.StatusRetrying:
		// A retry event carries no page count of its own.
		if prev, ok := p.downloads[k]; ok {
			progress.CurrentPage = prev.CurrentPage
		}
	}

	prog := progress // Copy
	p.downloads[k] = &prog
}

func (p *ProgressTracker) remove(k string) {
	delete(p.downloads, k)
	for i, o := range p.order {
		if o == k {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

func (p *ProgressTracker) HasActive() bool {
	return len(p.downloads) > 0
}

// Counts returns the number of completed, skipped and failed chapters seen.
func (p *ProgressTracker) Counts() (completed, skipped, failed int) {
	return p.completed, p.skipped, p.failed
}

func (p *ProgressTracker) View() string {
	var b strings.Builder

	if p.HasActive() {
		b.WriteString(styles.TitleStyle.Render("Active Downloads"))
		b.WriteString("\n")
	}

	for _, k := range p.order {
		progress := p.downloads[k]

		b.WriteString(styles.TextStyle.Render(fmt.Sprintf("%s %s", progress.Work, progress.Chapter)))
		b.WriteString("\n")

		statusText := progress.Status
		if progress.TotalPages > 0 {
			percentage := float64(progress.CurrentPage) / float64(progress.TotalPages)
			statusText = fmt.Sprintf("%s (%d/%d pages)", progress.Status, progress.CurrentPage, progress.TotalPages)
			b.WriteString(p.bar.ViewAs(percentage))
			b.WriteString("\n")
		}
		if progress.Status == services.StatusRetrying {
			statusText = fmt.Sprintf("%s page %d (retry %d)", statusText, progress.Page, progress.Retries)
		}

		b.WriteString(styles.StatusStyle(progress.Status).Render(statusText))
		b.WriteString("\n")

		if progress.Error != nil {
			b.WriteString(styles.StatusError.Render(fmt.Sprintf("Error: %s", progress.Error)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	completed, skipped, failed := p.Counts()
	b.WriteString(styles.MutedStyle.Render(fmt.Sprintf("%d done • %d skipped • %d failed", completed, skipped, failed)))
	return b.String()
}
