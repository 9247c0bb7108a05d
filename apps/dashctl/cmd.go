package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/fetch"
	"github.com/trezcool/masomo-portal/core/reconcile"
	"github.com/trezcool/masomo-portal/storage/database"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type (
	resourceFetcher interface {
		FetchResource(ctx context.Context, name string, params fetch.Params) fetch.Result
		Resources() fetch.Resources
	}

	dashboardService interface {
		View(ctx context.Context, domain, userID string) (reconcile.Dashboard, error)
		Domains() []string
	}

	commandLine struct {
		conf       *core.Config
		db         *sql.DB // nil unless the store is postgres
		store      database.DocumentStore
		fetcher    resourceFetcher
		dashboards dashboardService
		out        io.Writer
	}
)

// paramsFlag collects repeated `-param key=value` flags.
type paramsFlag fetch.Params

func (p paramsFlag) String() string {
	pairs := make([]string, 0, len(p))
	for k, v := range p {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (p paramsFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 || core.CleanString(parts[0]) == "" {
		return fmt.Errorf("param %q must be of form key=value", value)
	}
	p[core.CleanString(parts[0])] = core.CleanString(parts[1])
	return nil
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  fetch -resource NAME [-param KEY=VALUE]... [-token] - fetch one resource and print its records")
	fmt.Fprintln(cli.out, "  dashboard -domain DOMAIN -user USER_ID [-token] [-titles] - print the reconciled dashboard of a user")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS...] - run a goose migration command against the postgres store")
	fmt.Fprintln(cli.out, "  seed -collection NAME -file PATH - load a JSON payload into the secondary store")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	fetchCmd := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fetchResource := fetchCmd.String("resource", "", "The resource to fetch, e.g. jobs.")
	fetchParams := paramsFlag{}
	fetchCmd.Var(fetchParams, "param", "A resource param (repeatable), e.g. userId=42.")
	fetchToken := fetchCmd.Bool("token", false, "Prompt for a bearer token to forward instead of signing a service token.")

	dashboardCmd := flag.NewFlagSet("dashboard", flag.ContinueOnError)
	dashboardDomain := dashboardCmd.String("domain", "", "The dashboard domain, e.g. jobs.")
	dashboardUser := dashboardCmd.String("user", "", "The id of the user the dashboard is built for.")
	dashboardToken := dashboardCmd.Bool("token", false, "Prompt for the user's bearer token.")
	dashboardTitles := dashboardCmd.Bool("titles", false, "Only list the titles of the listings the user applied to.")

	seedCmd := flag.NewFlagSet("seed", flag.ContinueOnError)
	seedCollection := seedCmd.String("collection", "", "The store collection to load the records into.")
	seedFile := seedCmd.String("file", "", "A JSON file holding the records, in any accepted envelope.")

	for _, fs := range []*flag.FlagSet{fetchCmd, dashboardCmd, seedCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "fetch":
		if err := fetchCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *fetchResource == "" {
			fetchCmd.Usage()
			return errHelp
		}
		ctx, err := cli.context(*fetchToken)
		if err != nil {
			return err
		}
		return cli.fetch(ctx, *fetchResource, fetch.Params(fetchParams))
	case "dashboard":
		if err := dashboardCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *dashboardDomain == "" || *dashboardUser == "" {
			dashboardCmd.Usage()
			return errHelp
		}
		ctx, err := cli.context(*dashboardToken)
		if err != nil {
			return err
		}
		return cli.dashboard(ctx, *dashboardDomain, *dashboardUser, *dashboardTitles)
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "seed":
		if err := seedCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *seedCollection == "" || *seedFile == "" {
			seedCmd.Usage()
			return errHelp
		}
		return cli.seed(context.Background(), *seedCollection, *seedFile)
	default:
		cli.printUsage()
		return errHelp
	}
}

// context prompts for a bearer token to forward when `prompt` is set.
func (cli *commandLine) context(prompt bool) (context.Context, error) {
	ctx := context.Background()
	if !prompt {
		return ctx, nil
	}
	fmt.Fprint(cli.out, "Enter token:")
	token, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return nil, err
	}
	if len(token) == 0 {
		return nil, errHelp
	}
	return fetch.WithBearer(ctx, core.CleanString(string(token))), nil
}

func (cli *commandLine) printJSON(v interface{}) error {
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
