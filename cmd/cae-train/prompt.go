package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"cae-forge/internal/lrfind"
	"cae-forge/internal/trainer"
)

// consoleMaxLR prints the range test suggestions and reads the maximum
// learning rate from in. Invalid answers are asked again.
func consoleMaxLR(in io.Reader, out io.Writer) trainer.MaxLRFunc {
	sc := bufio.NewScanner(in)
	return func(ctx context.Context, res lrfind.Result) (float64, error) {
		fmt.Fprintf(out, "learning rate finder stopped after %d steps (%s)\n", len(res.LRs), res.StopReason)
		fmt.Fprintf(out, "  steepest descent at lr=%.3g\n", res.SteepestLR)
		fmt.Fprintf(out, "  minimum loss / 10 at lr=%.3g\n", res.MinLossLR)
		fmt.Fprintln(out, "inspect lr_find_plot.png in the save directory before choosing.")

		answers := make(chan string, 1)
		errCh := make(chan error, 1)
		ask := func() {
			fmt.Fprint(out, "max learning rate: ")
			go func() {
				if sc.Scan() {
					answers <- sc.Text()
					return
				}
				err := sc.Err()
				if err == nil {
					err = io.ErrUnexpectedEOF
				}
				errCh <- errors.Wrap(err, "read max learning rate")
			}()
		}

		ask()
		for {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case err := <-errCh:
				return 0, err
			case a := <-answers:
				v, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
				if err == nil && v > 0 {
					return v, nil
				}
				fmt.Fprintf(out, "%q is not a positive number\n", a)
				ask()
			}
		}
	}
}
