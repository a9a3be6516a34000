package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"text/template"

	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/stackvity/bqbatch/pkg/batch/aggregate"
)

//go:embed templates/*
var templateFS embed.FS

var textFuncs = template.FuncMap{
	"table":   textTable,
	"mdtable": markdownTable,
	"title":   toolTitle,
}

var htmlFuncs = htmltemplate.FuncMap{
	"title": toolTitle,
}

// Render writes the report of run in opts.Format to w. The whole document is
// produced in memory first, so a failing sink never sees partial output from
// a template error. Every error wraps batch.ErrRender.
func Render(w io.Writer, run *batch.BatchRun, report *aggregate.Report, strategy aggregate.Strategy, opts Options) error {
	if run == nil || report == nil || strategy == nil {
		return fmt.Errorf("%w: run, report and strategy are required", batch.ErrRender)
	}
	doc := NewDocument(run, report, strategy, opts.Quiet)

	var buf bytes.Buffer
	if err := encode(&buf, doc, opts.Format); err != nil {
		return err
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: writing %s report: %w", batch.ErrRender, formatName(opts.Format), err)
	}
	return nil
}

func encode(buf *bytes.Buffer, doc *Document, format batch.OutputFormat) error {
	switch format {
	case batch.FormatJSON:
		enc := json.NewEncoder(buf)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("%w: encoding json report: %w", batch.ErrRender, err)
		}
		return nil
	case batch.FormatText, "":
		return execText(buf, "text.tmpl", doc)
	case batch.FormatMarkdown:
		return execText(buf, "markdown.tmpl", doc)
	case batch.FormatHTML:
		tmpl, err := htmltemplate.New("html.tmpl").Funcs(htmlFuncs).ParseFS(templateFS, "templates/html.tmpl")
		if err != nil {
			return fmt.Errorf("%w: parsing html template: %w", batch.ErrRender, err)
		}
		if err := tmpl.Execute(buf, doc); err != nil {
			return fmt.Errorf("%w: executing html template: %w", batch.ErrRender, err)
		}
		return nil
	}
	return fmt.Errorf("%w: unsupported format %q", batch.ErrRender, format)
}

func execText(buf *bytes.Buffer, name string, doc *Document) error {
	tmpl, err := template.New(name).Funcs(textFuncs).ParseFS(templateFS, "templates/"+name)
	if err != nil {
		return fmt.Errorf("%w: parsing %s: %w", batch.ErrRender, name, err)
	}
	if err := tmpl.Execute(buf, doc); err != nil {
		return fmt.Errorf("%w: executing %s: %w", batch.ErrRender, name, err)
	}
	return nil
}

// textTable aligns a section with a tabwriter.
func textTable(sec aggregate.Section) (string, error) {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  "+strings.Join(sec.Columns, "\t"))
	for _, row := range sec.Rows {
		fmt.Fprintln(tw, "  "+strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// markdownTable renders a section as a GitHub-flavored table.
func markdownTable(sec aggregate.Section) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(escapeCells(sec.Columns), " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(sec.Columns)) + "\n")
	for _, row := range sec.Rows {
		b.WriteString("| " + strings.Join(escapeCells(row), " | ") + " |\n")
	}
	return b.String()
}

func escapeCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		c = strings.ReplaceAll(c, "|", `\|`)
		out[i] = strings.ReplaceAll(c, "\n", " ")
	}
	return out
}

func toolTitle(tool batch.Tool) string {
	switch tool {
	case batch.ToolProfile:
		return "Batch profile report"
	case batch.ToolCompare:
		return "Batch schema comparison report"
	case batch.ToolOptimize:
		return "Batch query optimization report"
	}
	return "Batch report"
}

func formatName(f batch.OutputFormat) string {
	if f == "" {
		return string(batch.FormatText)
	}
	return string(f)
}

func itoa(i int) string { return strconv.Itoa(i) }
