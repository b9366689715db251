package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/userdir/internal/cli"
)

func main() {

	ctx := context.Background()
	app := cli.NewApp(os.Stdin, os.Stdout)

	if err := app.Run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

}
