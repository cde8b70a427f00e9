package main

import (
	"bufio"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/Incrisz/school-nextjs-sub002/apps/container"
	"github.com/Incrisz/school-nextjs-sub002/core"
)

var (
	isTerminalFunc = term.IsTerminal // mockable
	readLineFunc   = readLine        // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf *core.Config
	out  io.Writer

	openDB       func() (*sql.DB, error)
	newContainer func() (*container.Container, error)
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, down, status, ...) against the database")
	fmt.Fprintln(cli.out, "  reapbatches - expire the staged import batches past their TTL")
	fmt.Fprintln(cli.out, "  import -file PATH [-operator EMAIL] [-commit] [-yes] - preview (and commit) a student import file")
	fmt.Fprintln(cli.out, "  rollover -source NAME -name NAME -start DATE -end DATE [-notes TEXT] [-current] [-preview] - roll a session over")
	fmt.Fprintln(cli.out, "  token -id ID [-name NAME] [-email EMAIL] - issue an API token for an operator")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	importCmd := flag.NewFlagSet("import", flag.ContinueOnError)
	importFile := importCmd.String("file", "", "The .csv or .xlsx file to import.")
	importOperator := importCmd.String("operator", "", "The email of the operator, who receives the import report.")
	importCommit := importCmd.Bool("commit", false, "Commit the valid rows after the preview.")
	importYes := importCmd.Bool("yes", false, "Do not ask for confirmation before committing.")

	rolloverCmd := flag.NewFlagSet("rollover", flag.ContinueOnError)
	rolloverSource := rolloverCmd.String("source", "", "The name of the session to roll over.")
	rolloverName := rolloverCmd.String("name", "", "The name of the new session.")
	rolloverStart := rolloverCmd.String("start", "", "The start date of the new session (YYYY-MM-DD).")
	rolloverEnd := rolloverCmd.String("end", "", "The end date of the new session (YYYY-MM-DD).")
	rolloverNotes := rolloverCmd.String("notes", "", "Free notes kept in the rollover ledger.")
	rolloverCurrent := rolloverCmd.Bool("current", false, "Make the new session the current one.")
	rolloverPreview := rolloverCmd.Bool("preview", false, "Only print the proposal.")

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenID := tokenCmd.String("id", "", "The id of the operator.")
	tokenName := tokenCmd.String("name", "", "The name of the operator.")
	tokenEmail := tokenCmd.String("email", "", "The email of the operator.")

	for _, cmd := range []*flag.FlagSet{importCmd, rolloverCmd, tokenCmd} {
		cmd.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "reapbatches":
		return cli.reapBatches()

	case "import":
		if err := importCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *importFile == "" {
			importCmd.Usage()
			return errHelp
		}
		return cli.importStudents(importOptions{
			path:     *importFile,
			operator: *importOperator,
			commit:   *importCommit,
			yes:      *importYes,
		})

	case "rollover":
		if err := rolloverCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *rolloverSource == "" || (!*rolloverPreview && *rolloverName == "") {
			rolloverCmd.Usage()
			return errHelp
		}
		return cli.rollover(rolloverOptions{
			source:  *rolloverSource,
			name:    *rolloverName,
			start:   *rolloverStart,
			end:     *rolloverEnd,
			notes:   *rolloverNotes,
			current: *rolloverCurrent,
			preview: *rolloverPreview,
		})

	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *tokenID == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(core.Actor{ID: *tokenID, Name: *tokenName, Email: *tokenEmail})

	default:
		cli.printUsage()
		return errHelp
	}
}

// confirm asks a yes/no question on the terminal. Without a terminal the answer is no.
func (cli *commandLine) confirm(question string) (bool, error) {
	if !isTerminalFunc(int(os.Stdin.Fd())) {
		return false, nil
	}
	fmt.Fprintf(cli.out, "%s [y/N]: ", question)
	answer, err := readLineFunc()
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

func readLine() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return line, nil
}
