// Copyright 2025 Joseph Cumines
//
// Command line client for the device inspector server

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/joeycumines/DeviceInspector/internal/client"
	"github.com/joeycumines/DeviceInspector/internal/config"
)

func main() {
	cfg, err := config.LoadClient(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	conn, err := client.Dial(cfg.ServerAddr, client.DialOptions{TLS: cfg.ServerTLS, CertFile: cfg.ServerCertFile})
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	c := client.New(conn)
	switch cfg.Command {
	case config.CommandTree:
		tree, err := c.Tree(ctx, cfg.DeviceID)
		if err != nil {
			fail(err, "GetAccessibilityTree")
		}
		if _, err := os.Stdout.Write(tree); err != nil {
			log.Fatalf("Failed to write tree: %v", err)
		}

	case config.CommandWindow:
		info, err := c.Window(ctx, cfg.DeviceID)
		if err != nil {
			fail(err, "GetCurrentWindowInfo")
		}
		fmt.Printf("package:   %s\nactivity:  %s\ntimestamp: %d\nsource:    %s\n",
			info.PackageName, info.ActivityName, info.Timestamp, info.Source)
	}
}

func fail(err error, op string) {
	fmt.Fprintln(os.Stderr, client.FormatError(err, op))
	os.Exit(1)
}
