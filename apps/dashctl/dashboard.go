package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/reconcile"
)

func (cli *commandLine) dashboard(ctx context.Context, domain, userID string, titles bool) error {
	domain = core.CleanString(domain, true /* lower */)
	dash, err := cli.dashboards.View(ctx, domain, core.CleanString(userID))
	if err != nil {
		if errors.Is(err, reconcile.ErrUnknownDomain) {
			return withSuggestion(err, domain, cli.dashboards.Domains())
		}
		return err
	}
	if titles {
		cli.printTitles(dash.AppliedListings)
		return nil
	}
	return errors.Wrap(cli.printJSON(dash), "printing dashboard")
}

// printTitles prints one "<id>\t<title>" line per applied listing; placeholders are marked.
func (cli *commandLine) printTitles(listings []reconcile.AppliedListing) {
	for _, l := range listings {
		line := l.ListingID() + "\t" + l.DisplayTitle()
		if l.IsPlaceholder() {
			line += "\t(no longer listed)"
		}
		fmt.Fprintln(cli.out, line)
	}
}
