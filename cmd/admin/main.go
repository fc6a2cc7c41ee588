package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/harrylevesque/controlx/internal/store"
	"github.com/harrylevesque/controlx/internal/utils"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries what every subcommand needs to reach the database.
type app struct {
	v          *viper.Viper
	configFile string
	in         io.Reader
	out        io.Writer
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), in: in, out: out}

	cmd := &cobra.Command{
		Use:          "controlx-admin",
		Short:        "Manage controlx users and endpoints",
		SilenceUsage: true,
	}
	cmd.SetIn(in)
	cmd.SetOut(out)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "config file (default ./controlx.yaml or ~/controlx.yaml)")
	flags.String("db", "controlx.db", "SQLite database path")
	_ = a.v.BindPFlag("database.path", flags.Lookup("db"))

	cmd.AddCommand(newUserCmd(a), newEndpointCmd(a))
	return cmd
}

// withStore opens the configured database, runs fn and closes it again.
func (a *app) withStore(ctx context.Context, fn func(db *store.DB) error) error {
	cfg, err := utils.LoadConfig(a.v, a.configFile)
	if err != nil {
		return err
	}
	db, err := store.Open(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func (a *app) table(headers ...any) *tablewriter.Table {
	t := tablewriter.NewTable(a.out)
	t.Header(headers...)
	return t
}

// readPassword prompts on a terminal, or reads one line from a pipe.
func (a *app) readPassword(prompt string) (string, error) {
	if f, ok := a.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.out, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("password is required")
	}
	return line, nil
}
