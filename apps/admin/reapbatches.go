package main

import (
	"context"
	"fmt"
)

// reapBatches expires the staged import batches past their TTL, like the API's reaper does on each tick.
func (cli *commandLine) reapBatches() error {
	c, err := cli.newContainer()
	if err != nil {
		return err
	}
	defer c.Close()

	n, err := c.Imports.ReapExpired(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d import batch(es) expired\n", n)
	return nil
}
