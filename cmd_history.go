package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"lumen/storage"
)

const (
	historyNameWidth    = 36
	historyPreviewWidth = 60
	historyTimeLayout   = "Jan 2 15:04"
)

var (
	historySearch string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved conversations",
	Long: `Lists saved conversations, most recent first. With --search, conversation
names are matched fuzzily and message text is searched for the query.
Resume one with lumen chat --session <id>.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historySearch, "search", "s", "", "Search names and messages")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum rows per section (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sessions, err := storage.NewSessionStorage(cfg.DataDir())
	if err != nil {
		return fmt.Errorf("failed to initialize session storage: %w", err)
	}

	list, err := sessions.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	query := strings.TrimSpace(historySearch)

	if query == "" {
		if len(list) == 0 {
			fmt.Fprintln(out, "No saved conversations yet")
			return nil
		}
		writeSessionTable(out, limitRows(list, historyLimit))
		return nil
	}

	named := storage.FindSessions(list, query)
	matches, err := sessions.SearchMessages(query)
	if err != nil {
		return err
	}

	if len(named) == 0 && len(matches) == 0 {
		fmt.Fprintf(out, "Nothing matches %q\n", query)
		return nil
	}

	if len(named) > 0 {
		fmt.Fprintln(out, "Conversations")
		writeSessionTable(out, limitRows(named, historyLimit))
	}
	if len(matches) > 0 {
		if len(named) > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, "Messages")
		writeMessageMatches(out, limitRows(matches, historyLimit))
	}
	return nil
}

func writeSessionTable(w io.Writer, list []storage.SessionMetadata) {
	for _, s := range list {
		fmt.Fprintln(w, formatSessionRow(s))
	}
}

// formatSessionRow renders one aligned listing line. Names are padded by
// display width so wide characters keep the columns straight.
func formatSessionRow(s storage.SessionMetadata) string {
	name := runewidth.FillRight(runewidth.Truncate(s.Name, historyNameWidth, "…"), historyNameWidth)

	counts := fmt.Sprintf("%3d msgs", s.MessageCount)
	if s.EventCount > 0 {
		counts += fmt.Sprintf(", %d events", s.EventCount)
	}

	return fmt.Sprintf("%-11s  %s  %s  %s", formatListTime(s.UpdatedAt), name, s.ID, counts)
}

func writeMessageMatches(w io.Writer, matches []storage.MessageMatch) {
	for _, m := range matches {
		name := runewidth.Truncate(m.SessionName, historyNameWidth, "…")
		fmt.Fprintf(w, "%-11s  %s (%s) #%d %s\n", formatListTime(m.Timestamp), name, m.SessionID, m.MessageIndex, m.Role)
		fmt.Fprintf(w, "    %s\n", runewidth.Truncate(m.Preview, historyPreviewWidth, "…"))
	}
}

func formatListTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(historyTimeLayout)
}

func limitRows[T any](rows []T, limit int) []T {
	if limit <= 0 || len(rows) <= limit {
		return rows
	}
	return rows[:limit]
}
