package main

import (
	"errors"
	"fmt"

	"github.com/anonto42/nano-midea/engagement/internal/models"
	"github.com/anonto42/nano-midea/engagement/internal/optimistic"
	"github.com/anonto42/nano-midea/engagement/internal/toggle"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "status <like|repost> <postId>",
		Short: "Show whether you hold a relation and the post's counter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := models.ParseRelationKind(args[0])
			if err != nil {
				return err
			}
			res, err := newClient(cmd).Status(cmd.Context(), args[1], kind)
			if err != nil {
				return explain(err)
			}
			printState(cmd, kind, optimistic.State{Phase: optimistic.Known, Active: res.Active, Count: res.Count})
			return nil
		},
	}
}

func newToggleCmd(newClient clientFactory, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toggle <like|repost> <postId>",
		Short: "Toggle a like or repost, showing the prediction before the server confirms",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := models.ParseRelationKind(args[0])
			if err != nil {
				return err
			}
			targetID := args[1]
			c := newClient(cmd)
			coord := optimistic.NewCoordinator(c, c, optimistic.WithTimeout(v.GetDuration("timeout")))

			if _, err := coord.Load(cmd.Context(), targetID, kind); err != nil {
				return explain(err)
			}

			predicted, done, err := coord.Toggle(cmd.Context(), targetID, kind)
			if err != nil {
				return explain(err)
			}
			fmt.Fprint(out(cmd), color.YellowString("predicted  "))
			printState(cmd, kind, predicted)

			result := <-done
			if result.Err != nil {
				fmt.Fprint(out(cmd), color.RedString("rolled back "))
				printState(cmd, kind, result.State)
				return explain(result.Err)
			}
			fmt.Fprint(out(cmd), color.GreenString("confirmed  "))
			printState(cmd, kind, result.State)
			return nil
		},
	}
	return cmd
}

func printState(cmd *cobra.Command, kind models.RelationKind, st optimistic.State) {
	mark := "○"
	if st.Active {
		mark = color.New(color.FgMagenta, color.Bold).Sprint("●")
	}
	fmt.Fprintf(out(cmd), "%s %s  %d\n", mark, kind, st.Count)
}

// explain adds a hint to errors a user can act on
func explain(err error) error {
	switch {
	case errors.Is(err, toggle.ErrUnauthenticated):
		return fmt.Errorf("sign in first (set --token or RELCTL_TOKEN): %w", err)
	case errors.Is(err, toggle.ErrTargetNotFound):
		return fmt.Errorf("post no longer exists: %w", err)
	case errors.Is(err, toggle.ErrToggleConflict):
		return fmt.Errorf("busy post, try again: %w", err)
	}
	return err
}
