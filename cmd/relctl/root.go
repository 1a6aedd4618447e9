package main

import (
	"io"
	"strings"
	"time"

	"github.com/anonto42/nano-midea/engagement/internal/client"
	"github.com/anonto42/nano-midea/engagement/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("relctl")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "relctl",
		Short:         "Like and repost posts from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("server", "http://localhost:8080", "API base URL (env RELCTL_SERVER)")
	root.PersistentFlags().String("token", "", "Bearer token (env RELCTL_TOKEN)")
	root.PersistentFlags().Duration("timeout", 10*time.Second, "Request timeout")
	root.PersistentFlags().BoolP("verbose", "v", false, "Log HTTP requests")
	_ = v.BindPFlags(root.PersistentFlags())

	newClient := func(cmd *cobra.Command) *client.Client {
		log := zap.NewNop()
		if v.GetBool("verbose") {
			log = logger.New("debug", "")
		}
		return client.New(client.Config{
			BaseURL: v.GetString("server"),
			Token:   v.GetString("token"),
			Timeout: v.GetDuration("timeout"),
		}, log)
	}

	root.AddCommand(newStatusCmd(newClient))
	root.AddCommand(newToggleCmd(newClient, v))
	root.AddCommand(newPostCmd(newClient))
	return root
}

type clientFactory func(cmd *cobra.Command) *client.Client

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
