package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/example/rms-availability/internal/availability"
	"github.com/example/rms-availability/internal/router"
)

// runRequest wires the engine, serves one request and prints the response.
func runRequest(ctx context.Context, out io.Writer, req router.Request, after func(a *app, resp router.Response) router.Response) error {
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	resp := a.router.Do(ctx, req)
	if after != nil && resp.Success {
		resp = after(a, resp)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}
	return nil
}

func newStockCmd() *cobra.Command {
	var item int64

	c := &cobra.Command{
		Use:   "stock",
		Short: "Print held stock for an item at each enabled location",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd.Context(), cmd.OutOrStdout(), router.Request{
				Capability: router.FetchStock,
				ItemID:     item,
			}, nil)
		},
	}
	c.Flags().Int64Var(&item, "item", 0, "item id")
	_ = c.MarkFlagRequired("item")
	return c
}

func newAvailabilityCmd() *cobra.Command {
	var (
		item              int64
		start, end        string
		excludeJob        int64
		overrideLocation  int64
		overrideAvailable float64
		waitSoft          bool
	)

	c := &cobra.Command{
		Use:   "availability",
		Short: "Print net availability for an item over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := router.Request{
				Capability:    router.FetchAvailability,
				ItemID:        item,
				Start:         start,
				End:           end,
				ExcludedJobID: excludeJob,
			}
			if cmd.Flags().Changed("override-location") {
				req.Override = &availability.Override{LocationID: overrideLocation, Available: overrideAvailable}
			}

			var after func(*app, router.Response) router.Response
			if waitSoft {
				// re-read once provisional jobs are in
				after = func(a *app, _ router.Response) router.Response {
					a.cache.Wait()
					return a.router.Do(cmd.Context(), req)
				}
			}
			return runRequest(cmd.Context(), cmd.OutOrStdout(), req, after)
		},
	}
	c.Flags().Int64Var(&item, "item", 0, "item id")
	c.Flags().StringVar(&start, "start", "", "range start (RFC 3339 or YYYY-MM-DD)")
	c.Flags().StringVar(&end, "end", "", "range end (RFC 3339 or YYYY-MM-DD)")
	c.Flags().Int64Var(&excludeJob, "exclude-job", 0, "job id whose own lines are not counted")
	c.Flags().Int64Var(&overrideLocation, "override-location", 0, "location whose availability is supplied")
	c.Flags().Float64Var(&overrideAvailable, "override-available", 0, "authoritative availability for --override-location")
	c.Flags().BoolVar(&waitSoft, "wait-soft", false, "wait for provisional jobs before printing")
	_ = c.MarkFlagRequired("item")
	_ = c.MarkFlagRequired("start")
	_ = c.MarkFlagRequired("end")
	c.MarkFlagsRequiredTogether("override-location", "override-available")
	return c
}

func newPrewarmCmd() *cobra.Command {
	var (
		start, end string
		excludeJob int64
	)

	c := &cobra.Command{
		Use:   "prewarm",
		Short: "Build firm commitments for a range ahead of availability queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd.Context(), cmd.OutOrStdout(), router.Request{
				Capability:    router.Prewarm,
				Start:         start,
				End:           end,
				ExcludedJobID: excludeJob,
			}, nil)
		},
	}
	c.Flags().StringVar(&start, "start", "", "range start")
	c.Flags().StringVar(&end, "end", "", "range end")
	c.Flags().Int64Var(&excludeJob, "exclude-job", 0, "job id to leave out")
	_ = c.MarkFlagRequired("start")
	_ = c.MarkFlagRequired("end")
	return c
}

func newJobCmd() *cobra.Command {
	var id int64

	c := &cobra.Command{
		Use:   "job",
		Short: "Print a job's dates and location, ready for availability or prewarm",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd.Context(), cmd.OutOrStdout(), router.Request{
				Capability: router.FetchJob,
				JobID:      id,
			}, nil)
		},
	}
	c.Flags().Int64Var(&id, "id", 0, "job id")
	_ = c.MarkFlagRequired("id")
	return c
}
