// Command codemare-executor is the entry point baked into every language
// image. The sandbox execs it once per invocation.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/itstheanurag/codemare/internal/bootstrap"
	"github.com/itstheanurag/codemare/internal/languages"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "codemare-executor",
		Usage: "run a submission inside a sandbox container",
		Commands: []*cli.Command{
			{
				Name:  "function",
				Usage: "read a JSON envelope from stdin and report one result line",
				Flags: []cli.Flag{
					languageFlag(),
					budgetFlag(),
				},
				Action: runFunction,
			},
			{
				Name:  "raw",
				Usage: "run a source file with stdin and stdout passed through",
				Flags: []cli.Flag{
					languageFlag(),
					&cli.StringFlag{Name: "source", Usage: "path of the source file", Required: true},
					budgetFlag(),
				},
				Action: runRaw,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func languageFlag() cli.Flag {
	return &cli.StringFlag{Name: "language", Aliases: []string{"l"}, Usage: "submission language", Required: true}
}

func budgetFlag() cli.Flag {
	return &cli.DurationFlag{Name: "budget", Usage: "execution budget", Value: bootstrap.DefaultBudget}
}

func runFunction(ctx context.Context, cmd *cli.Command) error {
	lang, err := languages.Parse(cmd.String("language"))
	if err != nil {
		return err
	}
	return bootstrap.RunFunction(ctx, lang, os.Stdin, os.Stdout, cmd.Duration("budget"))
}

func runRaw(ctx context.Context, cmd *cli.Command) error {
	lang, err := languages.Parse(cmd.String("language"))
	if err != nil {
		return err
	}
	source, err := os.ReadFile(cmd.String("source"))
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	return bootstrap.RunRaw(ctx, lang, string(source), os.Stdin, os.Stdout, cmd.Duration("budget"))
}
