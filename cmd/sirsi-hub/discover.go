package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"text/tabwriter"

	"sirsi-hub/internal/adapter/discovery"
)

// runDiscover browses the local network for announced hub services.
func runDiscover() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	services, err := discovery.Scan(ctx, log)
	if err != nil {
		return err
	}
	return printServices(os.Stdout, services)
}

func printServices(w io.Writer, services []discovery.Service) error {
	if len(services) == 0 {
		_, err := fmt.Fprintln(w, "no sirsi services found")
		return err
	}
	slices.SortFunc(services, func(a, b discovery.Service) int {
		return strings.Compare(a.Instance, b.Instance)
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tADDRESS\tTYPE\tID")
	for _, s := range services {
		fmt.Fprintf(tw, "%s\t%s:%d\t%s\t%s\n", s.Instance, s.Address, s.Port, s.Metadata["type"], s.Metadata["id"])
	}
	return tw.Flush()
}
