package main

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"ballast/infra/events"
	"ballast/infra/outbox"
	"ballast/infra/watermark"
	"ballast/service"
)

var inspectPending bool

func init() {
	cmd := newInspectCmd()
	cmd.Flags().BoolVar(&inspectPending, "pending", false, "Also print every unpublished event")
	rootCmd.AddCommand(cmd)
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show stored watermarks and outbox state of a stopped runtime",
		Long: `The inspect command prints each pool's stored high-water mark and how many
events sit in the outbox per state. The server must not be running.

Example:
  ballastd inspect --data-dir /var/lib/ballast --pending`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runInspect(cmd.OutOrStdout(), runtimeConfig(log))
		},
	}
}

type inspectResult struct {
	Watermarks map[string]int `json:"watermarks"`
	Outbox     map[string]int `json:"outbox"`
	Pending    []events.Event `json:"pending,omitempty"`
}

func runInspect(w io.Writer, cfg service.Config) error {
	marks, err := watermark.Open(cfg.WatermarkDir())
	if err != nil {
		return err
	}
	defer marks.Close()
	ob, err := outbox.Open(cfg.OutboxDir())
	if err != nil {
		return err
	}
	defer ob.Close()

	res := inspectResult{Outbox: make(map[string]int)}
	if res.Watermarks, err = marks.All(); err != nil {
		return err
	}
	counts, err := ob.Counts()
	if err != nil {
		return err
	}
	for state, n := range counts {
		res.Outbox[state.String()] = n
	}
	if inspectPending {
		for _, state := range []outbox.State{outbox.StateNew, outbox.StateSent, outbox.StateFailed} {
			err := ob.ScanByState(state, func(_ uint64, rec outbox.Record) error {
				e, err := events.Decode(rec.Payload)
				if err != nil {
					return err
				}
				res.Pending = append(res.Pending, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
	}

	if jsonOut {
		return printJSON(w, res)
	}
	fmt.Fprintln(w, "watermarks:")
	for _, name := range slices.Sorted(maps.Keys(res.Watermarks)) {
		fmt.Fprintf(w, "  %-20s %d\n", name, res.Watermarks[name])
	}
	fmt.Fprintln(w, "outbox:")
	for _, state := range slices.Sorted(maps.Keys(res.Outbox)) {
		fmt.Fprintf(w, "  %-20s %d\n", state, res.Outbox[state])
	}
	for _, e := range res.Pending {
		fmt.Fprintf(w, "  #%d %s %s %s\n", e.Seq, e.Kind, e.Pool, e.Detail)
	}
	return nil
}
