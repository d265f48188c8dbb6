package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/model"
)

const timeFormat = "2006-01-02 15:04:05"

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal output")
	}
	fmt.Fprintf(w, "%s\n", string(data))
	return nil
}

func writeRows(w io.Writer, rows *model.Rows) {
	if rows == nil || len(rows.Columns) == 0 {
		fmt.Fprintln(w, "(no columns)")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(rows.Columns, "\t"))
	for _, row := range rows.Values {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "(%d rows)\n", rows.Len())
}

func formatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	s := fmt.Sprint(v)
	return strings.NewReplacer("\t", " ", "\n", " ").Replace(s)
}

// writeSession prints the outcome of a question for humans.
func writeSession(w io.Writer, session *model.Session) {
	fmt.Fprintf(w, "Session: %s (%s, %d attempts)\n", session.ID, session.Status, len(session.History))
	if session.UsedFullSchema {
		fmt.Fprintln(w, "Context: full schema (no relevant table found)")
	} else if len(session.Tables) > 0 {
		names := make([]string, len(session.Tables))
		for i, t := range session.Tables {
			names[i] = string(t)
		}
		fmt.Fprintf(w, "Context: %s\n", strings.Join(names, ", "))
	}

	switch session.Status {
	case model.SessionStatusSucceeded:
		fmt.Fprintf(w, "\n%s\n\n", session.FinalQuery)
		writeRows(w, session.Rows)
		if session.Explanation != "" {
			fmt.Fprintf(w, "\n%s\n", session.Explanation)
		}

	case model.SessionStatusExhausted:
		fmt.Fprintln(w, "\nNo query succeeded. Errors:")
		for _, e := range session.Errors() {
			fmt.Fprintf(w, "  [%s] %s\n", e.Kind, e.Message)
		}

	case model.SessionStatusFatalAborted:
		fmt.Fprintf(w, "\nAborted: %s\n", session.AbortReason)
	}
}

func writeAttempts(w io.Writer, session *model.Session) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tDURATION\tRESULT\tQUERY")
	for _, a := range session.History {
		result := fmt.Sprintf("%d rows", a.RowCount)
		if a.Error != nil {
			result = string(a.Error.Kind)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", a.Number, a.Duration.Round(time.Millisecond), result, formatCell(a.Query))
	}
	_ = tw.Flush()
}

func writeRetrieval(w io.Writer, result *model.RetrievalResult) {
	if result.Empty() {
		fmt.Fprintln(w, "No relevant table found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tTABLE")
	for _, item := range result.Items {
		fmt.Fprintf(tw, "%.4f\t%s\n", item.Score, item.Chunk.TableName)
	}
	_ = tw.Flush()
}

func writeTables(w io.Writer, snap *model.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tCOLUMNS")
	for _, c := range snap.Chunks {
		names := make([]string, len(c.Columns))
		for i, col := range c.Columns {
			names[i] = col.Name
		}
		fmt.Fprintf(tw, "%s\t%s\n", c.TableName, strings.Join(names, ", "))
	}
	_ = tw.Flush()
}

func writeSessionList(w io.Writer, sessions []*model.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tATTEMPTS\tQUESTION")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			s.ID,
			s.StartedAt.Format(timeFormat),
			s.Status,
			len(s.History),
			formatCell(s.Question),
		)
	}
	_ = tw.Flush()
}
