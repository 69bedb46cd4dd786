package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"

	"cae-forge/internal/runstore"
)

// listRuns prints the registry at path, newest first.
func listRuns(ctx context.Context, w io.Writer, path, architecture string) error {
	store, err := runstore.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(ctx, architecture)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tARCH\tLOSS\tSTATUS\tEPOCHS\tMAX_LR\tVAL_LOSS\tDIRECTORY")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%.3g\t%.5f\t%s\n",
			r.ID, r.StartedAt.Format(time.DateTime), r.Architecture, r.Loss, r.Status, r.Epochs, r.MaxLR, r.FinalValLoss, r.Directory)
	}
	return tw.Flush()
}

// showRun prints every field of one run.
func showRun(ctx context.Context, w io.Writer, path, id string) error {
	store, err := runstore.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	finished := "-"
	if r.FinishedAt != nil {
		finished = r.FinishedAt.Format(time.DateTime)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, row := range [][2]string{
		{"run", r.ID},
		{"directory", r.Directory},
		{"architecture", r.Architecture},
		{"loss", r.Loss},
		{"color", r.Color},
		{"batch size", fmt.Sprint(r.BatchSize)},
		{"epochs", fmt.Sprint(r.Epochs)},
		{"max lr", fmt.Sprintf("%.3g", r.MaxLR)},
		{"tag", r.Tag},
		{"save dir", r.SaveDir},
		{"status", r.Status},
		{"final loss", fmt.Sprintf("%.5f", r.FinalLoss)},
		{"final val loss", fmt.Sprintf("%.5f", r.FinalValLoss)},
		{"started", r.StartedAt.Format(time.DateTime)},
		{"finished", finished},
	} {
		fmt.Fprintf(tw, "%s:\t%s\n", row[0], row[1])
	}
	return errors.Wrap(tw.Flush(), "print run")
}
