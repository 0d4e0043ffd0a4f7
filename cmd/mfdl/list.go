package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/kerbaras/mfdl/pkg/app/styles"
	"github.com/kerbaras/mfdl/pkg/data"
	"github.com/spf13/cobra"
)

func newListCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "list [work]",
		Short: "List downloaded chapters",
		Long:  "Display the archives recorded in the download ledger, optionally for one work",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return &usageError{err}
			}
			if cfg.LedgerPath == "" {
				return &usageError{fmt.Errorf("the download ledger is disabled")}
			}

			repo, err := data.NewDuckDBRepository(cfg.LedgerPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			work := ""
			if len(args) == 1 {
				work = args[0]
			}
			records, err := repo.ListArchives(work)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No archives recorded yet.")
				return nil
			}

			fmt.Fprintf(out, "\n%s\n\n", styles.TitleStyle.Render(fmt.Sprintf("Library (%d archives)", len(records))))
			fmt.Fprintln(out, ledgerTable(records).View())
			return nil
		},
	}
}

func ledgerTable(records []*data.ArchiveRecord) table.Model {
	columns := []table.Column{
		{Title: "Work", Width: 24},
		{Title: "Chapter", Width: 10},
		{Title: "Pages", Width: 6},
		{Title: "Format", Width: 6},
		{Title: "Downloaded", Width: 16},
		{Title: "Path", Width: 48},
	}

	rows := make([]table.Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, table.Row{
			truncateString(rec.Work, 22),
			rec.Name,
			strconv.Itoa(rec.Pages),
			rec.Format,
			rec.CreatedAt.Local().Format("2006-01-02 15:04"),
			truncateString(rec.Path, 46),
		})
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(false),
	)

	s := table.DefaultStyles()
	s.Header = styles.TableHeaderStyle.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.Muted).
		BorderBottom(true)
	s.Cell = styles.TableCellStyle
	s.Selected = styles.TableCellStyle
	t.SetStyles(s)
	// Header line plus its bottom border.
	t.SetHeight(len(rows) + 2)
	return t
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
