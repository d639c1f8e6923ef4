package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/aluiziolira/go-scrape-reactions/models"
)

func printSummary(result *models.ScraperResult, duration time.Duration, outputFile string, metrics map[string]interface{}) {
	batches := table.NewWriter()
	batches.SetOutputMirror(os.Stdout)
	batches.SetTitle("Batches")
	batches.AppendHeader(table.Row{"Batch", "Origin", "Pages", "Stop", "Attempted", "Succeeded", "Dup", "Failed"})
	for _, b := range result.Batches {
		batches.AppendRow(table.Row{shortID(b.ID), b.Origin, b.Pages, b.StopReason, b.Attempted, b.Succeeded, b.Duplicates, b.Failed})
	}
	batches.AppendFooter(table.Row{"", "", result.PageCount, "", "", result.TotalCount, result.DuplicateCount, result.ErrorCount})
	batches.SetStyle(table.StyleRounded)
	batches.Render()

	exported := int64(0)
	if processed, ok := metrics["processed_records"].(int64); ok {
		exported = processed
	}
	recordsPerSec := 0.0
	if duration.Seconds() > 0 {
		recordsPerSec = float64(exported) / duration.Seconds()
	}

	totals := table.NewWriter()
	totals.SetOutputMirror(os.Stdout)
	totals.SetTitle("Run")
	totals.AppendRows([]table.Row{
		{"Exported records", exported},
		{"Retries", result.RetryCount},
		{"Duration", duration.Round(time.Millisecond)},
		{"Records/sec", fmt.Sprintf("%.2f", recordsPerSec)},
		{"Output file", outputFile},
	})
	for _, kind := range sortedKeys(result.ErrorsByType) {
		totals.AppendRow(table.Row{"Errors: " + kind, result.ErrorsByType[kind]})
	}
	if validation, ok := metrics["validation_errors"].(map[string]int); ok {
		for _, kind := range sortedKeys(validation) {
			totals.AppendRow(table.Row{"Rejected: " + kind, validation[kind]})
		}
	}
	totals.SetStyle(table.StyleRounded)
	totals.Render()

	if failed := result.FailedURLs(); len(failed) > 0 {
		failures := table.NewWriter()
		failures.SetOutputMirror(os.Stdout)
		failures.SetTitle("Failures")
		failures.AppendHeader(table.Row{"Reference", "Kind", "Reason"})
		for _, b := range result.Batches {
			for _, f := range b.Failures {
				failures.AppendRow(table.Row{f.Ref.URL, f.Kind, f.Reason})
			}
		}
		failures.SetStyle(table.StyleRounded)
		failures.Render()
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
