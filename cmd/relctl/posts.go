package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newPostCmd(newClient clientFactory) *cobra.Command {
	postCmd := &cobra.Command{
		Use:   "post",
		Short: "Create and delete posts",
	}

	var images []string
	createCmd := &cobra.Command{
		Use:   "create <content>",
		Short: "Create a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			post, err := newClient(cmd).CreatePost(cmd.Context(), args[0], images)
			if err != nil {
				return explain(err)
			}
			fmt.Fprintf(out(cmd), "%s %s\n", color.GreenString("created"), post.ID)
			return nil
		},
	}
	createCmd.Flags().StringSliceVar(&images, "image", nil, "Image URL (repeatable)")

	deleteCmd := &cobra.Command{
		Use:   "delete <postId>",
		Short: "Delete one of your posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(cmd).DeletePost(cmd.Context(), args[0]); err != nil {
				return explain(err)
			}
			fmt.Fprintf(out(cmd), "%s %s\n", color.GreenString("deleted"), args[0])
			return nil
		},
	}

	postCmd.AddCommand(createCmd, deleteCmd)
	return postCmd
}
