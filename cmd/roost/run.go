package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dcrodman/roost/internal"
	"github.com/dcrodman/roost/internal/core"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Runs the replication server",
	RunE:  ServerCommand,
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connects a demo client to a server",
	RunE:  ClientCommand,
}

var AddressFlag string

func ServerCommand(cmd *cobra.Command, args []string) error {
	controller, err := newController()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	if err := controller.RunServer(ctx); err != nil {
		return errors.Wrap(err, "server stopped")
	}
	fmt.Println("shut down")
	return nil
}

func ClientCommand(cmd *cobra.Command, args []string) error {
	controller, err := newController()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	if err := controller.RunClient(ctx, AddressFlag); err != nil {
		return errors.Wrap(err, "client stopped")
	}
	fmt.Println("disconnected")
	return nil
}

func loadConfig() (*core.Config, error) {
	cfg, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		return nil, errors.Wrapf(err, "loading configuration from %s", ConfigFlag)
	}

	// Change to the same directory as the config file so that any relative
	// paths in the config file will resolve.
	if err := os.Chdir(filepath.Clean(ConfigFlag)); err != nil {
		return nil, errors.Wrap(err, "changing to config directory")
	}
	return cfg, nil
}

func newController() (*internal.Controller, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return &internal.Controller{Config: cfg}, nil
}

// signalContext is cancelled on the first Ctrl-C or SIGTERM. A second one
// exits right away.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
		case <-ctx.Done():
			return
		}
		fmt.Println("waiting to shut down gracefully...")
		cancel()

		<-c
		fmt.Println("hard exiting (killed)")
		os.Exit(1)
	}()
	return ctx, cancel
}
