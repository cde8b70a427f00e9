package main

import (
	"context"
	"fmt"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/rollover"
)

type rolloverOptions struct {
	source  string
	name    string
	start   string
	end     string
	notes   string
	current bool
	preview bool
}

// rollover previews or commits the rollover of the session named opts.source.
func (cli *commandLine) rollover(opts rolloverOptions) error {
	c, err := cli.newContainer()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	src, err := c.Periods.FindSessionByName(ctx, opts.source)
	if err != nil {
		return err
	}

	if opts.preview {
		prop, err := c.Planner.Preview(ctx, rollover.PreviewRequest{
			SourceSessionID: src.ID,
			NewSessionName:  opts.name,
			NewSessionStart: opts.start,
			NewSessionEnd:   opts.end,
			Notes:           opts.notes,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "%s: %s\n", prop.Status, prop.Message)
		for _, t := range prop.Terms {
			if !t.ProposedStart.Valid {
				fmt.Fprintf(cli.out, "  %s\n", t.Name)
				continue
			}
			fmt.Fprintf(cli.out, "  %s: %s -> %s\n", t.Name, t.ProposedStart.Time.Format("2006-01-02"), t.ProposedEnd.Time.Format("2006-01-02"))
		}
		for _, w := range prop.Warnings {
			fmt.Fprintf(cli.out, "warning: %s\n", w)
		}
		return nil
	}

	res, err := c.Planner.Commit(ctx, rollover.CommitRequest{
		SourceSessionID: src.ID,
		NewSessionName:  opts.name,
		NewSessionStart: opts.start,
		NewSessionEnd:   opts.end,
		Notes:           opts.notes,
		MakeCurrent:     opts.current,
	}, core.Actor{ID: cliOperatorID, Name: "Admin CLI"})
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, res.Message)
	return nil
}
