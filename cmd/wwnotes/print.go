package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"wwnotes-sync/internal/domain"
)

func printDocuments(w io.Writer, docs []domain.Document, asJSON bool) error {
	if asJSON {
		out := make([]domain.DocumentResponse, len(docs))
		for i, d := range docs {
			out[i] = d.Response()
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(docs) == 0 {
		_, err := fmt.Fprintln(w, "No documents found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSUBJECT\tTYPE\tYEAR\tSIZE\tUPLOADED")
	for _, d := range docs {
		uploaded := "-"
		if !d.UploadedAt.IsZero() {
			uploaded = humanize.Time(d.UploadedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			d.ID,
			truncate(d.Title, 40),
			d.Subject,
			d.DocType,
			d.Year,
			d.File.DisplaySize(),
			uploaded,
		)
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
