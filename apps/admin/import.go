package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/core/studentimport"
)

const cliOperatorID = "admin-cli"

type importOptions struct {
	path     string
	operator string
	commit   bool
	yes      bool
}

// importStudents stages a file, prints its preview and, if asked, commits its valid rows.
func (cli *commandLine) importStudents(opts importOptions) error {
	file, err := os.Open(opts.path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	c, err := cli.newContainer()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	actor := core.Actor{ID: cliOperatorID, Name: "Admin CLI", Email: opts.operator}
	b, err := c.Imports.Preview(ctx, studentimport.Upload{
		Filename:    filepath.Base(opts.path),
		ContentType: mime.TypeByExtension(filepath.Ext(opts.path)),
		Body:        file,
	}, actor)
	if err != nil {
		return err
	}

	fmt.Fprintf(cli.out, "batch %s: %d row(s), %d valid, %d invalid\n", b.ID, b.Summary.Total, b.Summary.Valid, b.Summary.Invalid)
	for _, w := range b.Warnings {
		fmt.Fprintf(cli.out, "warning: %s\n", w)
	}
	for _, e := range b.Errors() {
		if e.Column == "" {
			fmt.Fprintf(cli.out, "row %d: %s\n", e.Row, e.Message)
			continue
		}
		fmt.Fprintf(cli.out, "row %d, %s: %s\n", e.Row, e.Column, e.Message)
	}

	if !opts.commit {
		fmt.Fprintf(cli.out, "batch staged until %s\n", b.ExpiresAt.Format("2006-01-02 15:04 MST"))
		return nil
	}
	if b.Summary.Valid == 0 {
		fmt.Fprintln(cli.out, "nothing to commit")
		return c.Imports.Discard(ctx, b.ID, actor)
	}
	if !opts.yes {
		ok, err := cli.confirm(fmt.Sprintf("Commit %d valid row(s)?", b.Summary.Valid))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cli.out, "import discarded")
			return c.Imports.Discard(ctx, b.ID, actor)
		}
	}

	res, err := c.Imports.Commit(ctx, b.ID, actor)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, res.Message)
	for _, f := range res.Failed {
		fmt.Fprintf(cli.out, "failed row %d (%s): %s\n", f.Row, f.AdmissionNo, f.Reason)
	}
	return nil
}
