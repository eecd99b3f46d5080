// Command studyhub runs the StudyHub gateway and subgraph services.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	port       int
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "studyhub",
		Short:         "StudyHub federated graph services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to configuration directory or file")
	root.PersistentFlags().IntVar(&flags.port, "port", 0, "Listen port, overriding server.port and the service default")

	for _, c := range components() {
		root.AddCommand(serviceCommand(c, flags))
	}
	root.AddCommand(allCommand(flags))
	return root
}

func serviceCommand(c component, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   c.name,
		Short: c.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags, []component{c})
		},
	}
}

func allCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run every subgraph and the gateway in one process on their default ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags, components())
		},
	}
}
