package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/conductor/internal/gateway"
	"github.com/haasonsaas/conductor/internal/sessions"
	"github.com/haasonsaas/conductor/pkg/events"
)

func openStore(configPath string) (sessions.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return gateway.BuildStore(cfg)
}

func runSessionsList(ctx context.Context, cmd *cobra.Command, configPath string) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	list, err := store.List(ctx, sessions.ListOptions{Limit: 200})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWORKSPACE\tTITLE\tUPDATED")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			s.ID, s.WorkspaceRoot, s.Title, s.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runSessionsShow(ctx context.Context, cmd *cobra.Command, configPath, id string) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	log, checkpoint, err := store.Load(ctx, id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, ev := range log {
		data, err := events.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", ev.Header().ID, err)
		}
		fmt.Fprintln(out, string(data))
	}
	if checkpoint != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "state: %s, next event id: %d\n",
			checkpoint.AgentState, checkpoint.NextEventID)
	}
	return nil
}

func runSessionsDelete(ctx context.Context, cmd *cobra.Command, configPath, id string) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted session %s\n", id)
	return nil
}
