package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportMarkdown renders executions as a markdown table.
func ExportMarkdown(execs []Execution) string {
	var b strings.Builder

	b.WriteString("# Execution history\n\n")
	if len(execs) == 0 {
		b.WriteString("_No executions recorded._\n")
		return b.String()
	}

	b.WriteString("| ID | Created | Language | Outcome | Exit | Duration | Code bytes | Network |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, e := range execs {
		b.WriteString(fmt.Sprintf("| `%s` | %s | %s | %s | %d | %dms | %d | %t |\n",
			tableCell(e.ID),
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			tableCell(e.Language),
			e.Outcome,
			e.ExitCode,
			e.DurationMS,
			e.CodeBytes,
			e.EnableNetwork,
		))
	}

	return b.String()
}

var cellReplacer = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ", "\r", " ")

// tableCell keeps a caller-supplied value inside a single markdown cell.
func tableCell(s string) string {
	return cellReplacer.Replace(s)
}

// ExportJSON renders executions as formatted JSON.
func ExportJSON(execs []Execution) ([]byte, error) {
	if execs == nil {
		execs = []Execution{}
	}
	export := struct {
		Executions []Execution `json:"executions"`
	}{
		Executions: execs,
	}
	return json.MarshalIndent(export, "", "  ")
}
