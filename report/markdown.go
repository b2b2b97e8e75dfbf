package report

import (
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"

	"github.com/traces-scraper/model"
)

// WriteMarkdown writes a human readable summary of the batch
func WriteMarkdown(w io.Writer, r *model.Report) error {
	md := markdown.NewMarkdown(w)

	md.H1("TRACES Certificate Download Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Started", r.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Finished", r.FinishedAt.Format("2006-01-02 15:04:05 MST")},
			{"Output", "`" + r.OutputDir + "`"},
			{"Status", statusText(r)},
		},
	})
	md.PlainText("")
	if r.Aborted != "" {
		md.Warningf("The batch stopped early (%s); remaining suppliers were not searched.", r.Aborted)
		md.PlainText("")
	}

	md.H2("Summary")
	md.PlainText("")
	s := r.Summary
	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows: [][]string{
			{"Downloaded", strconv.Itoa(s.Success)},
			{"Not found", strconv.Itoa(s.NotFound)},
			{"Ambiguous", strconv.Itoa(s.Ambiguous)},
			{"Timed out", strconv.Itoa(s.TimedOut)},
			{"Error", strconv.Itoa(s.Errors)},
			{"**Total**", "**" + strconv.Itoa(s.Total) + "**"},
		},
	})
	md.PlainText("")

	md.H2("Suppliers")
	md.PlainText("")
	if len(r.Outcomes) == 0 {
		md.PlainText("No suppliers were processed.")
		md.PlainText("")
	} else {
		rows := make([][]string, 0, len(r.Outcomes))
		for i, o := range r.Outcomes {
			rows = append(rows, []string{strconv.Itoa(i + 1), cell(o.Supplier), string(o.Kind), cell(details(o))})
		}
		md.Table(markdown.TableSet{
			Header: []string{"#", "Supplier", "Status", "Details"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	if amb := ambiguous(r); len(amb) > 0 {
		md.H2("Needs review")
		md.PlainText("")
		md.BulletList(amb...)
		md.PlainText("")
	}

	md.HorizontalRule()
	md.PlainText("*Generated by tracesdl*")

	return md.Build()
}

func statusText(r *model.Report) string {
	if r.Aborted != "" {
		return "Aborted - " + r.Aborted
	}
	return "Complete"
}

func details(o model.Outcome) string {
	switch o.Kind {
	case model.OutcomeSuccess:
		return filepath.Base(o.FilePath)
	case model.OutcomeAmbiguous:
		return strings.Join(o.Candidates, ", ")
	}
	return o.Detail
}

func ambiguous(r *model.Report) []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Kind == model.OutcomeAmbiguous {
			out = append(out, o.Supplier+": "+strings.Join(o.Candidates, " / "))
		}
	}
	return out
}

// cell keeps table rows on one line
func cell(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
