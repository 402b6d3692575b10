package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mangawatch/internal/app"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <url>",
		Short: "Start tracking a work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOffline(func(o *app.Offline) error {
				w, err := o.RegisterWork(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tracking %s\n", w.URL)
				return nil
			})
		},
	}
}

func newWorksCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "works",
		Short: "List tracked works",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOffline(func(o *app.Offline) error {
				works, err := o.Store.ListWorks(cmd.Context())
				if err != nil {
					return err
				}
				if len(works) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No works tracked")
					return nil
				}
				now := time.Now()
				rows := make([][]string, 0, len(works))
				for _, w := range works {
					rows = append(rows, []string{
						w.Title,
						strconv.Itoa(w.LatestInstallment),
						humanize.RelTime(w.UpdatedAt, now, "ago", "from now"),
						w.URL,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Title", "Latest", "Updated", "URL"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newChannelsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List registered notification destinations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOffline(func(o *app.Offline) error {
				ds, err := o.Store.ListDestinations(cmd.Context())
				if err != nil {
					return err
				}
				if len(ds) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No destinations registered")
					return nil
				}
				rows := make([][]string, 0, len(ds))
				for _, d := range ds {
					thread := ""
					if d.ThreadID != 0 {
						thread = strconv.Itoa(d.ThreadID)
					}
					rows = append(rows, []string{d.Platform, d.GroupName, d.ChannelName, d.ChannelID, thread})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Platform", "Group", "Channel", "Chat ID", "Thread"},
					rows,
					nil,
				))
				return nil
			})
		},
	}
}
