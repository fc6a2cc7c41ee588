package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrylevesque/controlx/internal/dispatch"
	"github.com/harrylevesque/controlx/internal/models"
	"github.com/harrylevesque/controlx/internal/store"
)

func newEndpointCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "endpoint",
		Aliases: []string{"ep"},
		Short:   "Manage command endpoints served under /api/",
	}
	cmd.AddCommand(
		newEndpointAddCmd(a),
		newEndpointEditCmd(a),
		newEndpointListCmd(a),
		newEndpointRemoveCmd(a),
		newEndpointImportCmd(a),
		newEndpointExportCmd(a),
	)
	return cmd
}

// endpointFlags are shared by add and edit.
type endpointFlags struct {
	name, route, method, command, description string
	params                                    []string
	display                                   int
}

func (f *endpointFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.name, "name", "", "display name")
	fs.StringVar(&f.route, "route", "", "route under /api, e.g. /volume/up")
	fs.StringVar(&f.method, "method", "GET", "HTTP method: GET, POST, PUT or DELETE")
	fs.StringVar(&f.command, "command", "", "command template with {placeholders}")
	fs.StringSliceVar(&f.params, "param", nil, "declared parameter name (repeatable)")
	fs.StringVar(&f.description, "description", "", "free-form description")
	fs.IntVar(&f.display, "display", -1, "X display slot exported as DISPLAY=:N (-1 for none)")
}

// apply copies the flags the user set onto ep.
func (f *endpointFlags) apply(cmd *cobra.Command, ep *models.Endpoint) {
	fs := cmd.Flags()
	if fs.Changed("name") {
		ep.Name = f.name
	}
	if fs.Changed("route") {
		ep.Route = f.route
	}
	if fs.Changed("method") || ep.Method == "" {
		ep.Method = f.method
	}
	if fs.Changed("command") {
		ep.Command = f.command
	}
	if fs.Changed("param") {
		ep.Parameters = f.params
	}
	if fs.Changed("description") {
		ep.Description = f.description
	}
	if fs.Changed("display") {
		ep.Display = nil
		if f.display >= 0 {
			slot := f.display
			ep.Display = &slot
		}
	}
}

// warnUndeclared notes placeholders the endpoint does not list as parameters.
// Declarations are informational, so this never fails.
func warnUndeclared(w io.Writer, ep *models.Endpoint) {
	declared := make(map[string]bool, len(ep.Parameters))
	for _, p := range ep.Parameters {
		declared[p] = true
	}
	for _, name := range dispatch.Placeholders(ep.Command) {
		if !declared[name] {
			fmt.Fprintf(w, "warning: placeholder {%s} is not a declared parameter\n", name)
		}
	}
}

func newEndpointAddCmd(a *app) *cobra.Command {
	var f endpointFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Bind a command template to a route and method",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ep := &models.Endpoint{}
			f.apply(cmd, ep)
			return a.withStore(cmd.Context(), func(db *store.DB) error {
				if err := db.Endpoints().Create(cmd.Context(), ep); err != nil {
					return err
				}
				warnUndeclared(a.out, ep)
				fmt.Fprintf(a.out, "Created endpoint %d: %s /api%s\n", ep.ID, ep.Method, ep.Route)
				return nil
			})
		},
	}
	f.register(cmd)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("route")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func newEndpointEditCmd(a *app) *cobra.Command {
	var f endpointFlags
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change fields of an existing endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(db *store.DB) error {
				ep, err := db.Endpoints().Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				f.apply(cmd, ep)
				if err := db.Endpoints().Update(cmd.Context(), ep); err != nil {
					return err
				}
				warnUndeclared(a.out, ep)
				fmt.Fprintf(a.out, "Updated endpoint %d: %s /api%s\n", ep.ID, ep.Method, ep.Route)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newEndpointListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List endpoints",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(db *store.DB) error {
				eps, err := db.Endpoints().List(cmd.Context())
				if err != nil {
					return err
				}
				t := a.table("ID", "Name", "Method", "Route", "Command", "Parameters", "Display")
				for _, ep := range eps {
					display := ""
					if ep.Display != nil {
						display = ":" + strconv.Itoa(*ep.Display)
					}
					if err := t.Append(
						strconv.FormatInt(ep.ID, 10), ep.Name, ep.Method, "/api"+ep.Route,
						ep.Command, strings.Join(ep.Parameters, ", "), display,
					); err != nil {
						return err
					}
				}
				return t.Render()
			})
		},
	}
}

func newEndpointRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove"},
		Short:   "Delete an endpoint",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(db *store.DB) error {
				if err := db.Endpoints().Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Deleted endpoint %d\n", id)
				return nil
			})
		},
	}
}

func newEndpointImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml|->",
		Short: "Bulk-load endpoints, skipping names or routes that already exist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := a.in
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return a.withStore(cmd.Context(), func(db *store.DB) error {
				res, err := db.Endpoints().ImportYAML(cmd.Context(), r)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Imported %d endpoints. Skipped %d due to duplicates.\n", res.Imported, res.Skipped)
				return nil
			})
		},
	}
}

func newEndpointExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file.yaml]",
		Short: "Write every endpoint as YAML (stdout when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(db *store.DB) error {
				if len(args) == 0 || args[0] == "-" {
					return db.Endpoints().ExportYAML(cmd.Context(), a.out)
				}
				f, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
				if err != nil {
					return err
				}
				if err := db.Endpoints().ExportYAML(cmd.Context(), f); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid endpoint id %q", s)
	}
	return id, nil
}
