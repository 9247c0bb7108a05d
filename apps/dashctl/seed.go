package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/fetch"
)

// seed loads a JSON payload into `collection`. The payload may use any envelope an upstream may answer with,
// so captured responses can be replayed as is. Records without an id are skipped.
func (cli *commandLine) seed(ctx context.Context, collection, path string) error {
	collection = core.CleanString(collection)
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}

	n, err := fetch.Normalize(raw, cli.domainKeys(collection)...)
	if err != nil {
		return errors.Wrapf(err, "decoding %s", path)
	}

	docs := make([]fetch.Record, 0, len(n.Records))
	for _, rec := range n.Records {
		if rec.ID() != "" {
			docs = append(docs, rec)
		}
	}
	if err = cli.store.Put(ctx, collection, docs...); err != nil {
		return errors.Wrapf(err, "seeding %s", collection)
	}
	fmt.Fprintf(cli.out, "seeded %d/%d records into %q\n", len(docs), len(n.Records), collection)
	return nil
}

// domainKeys returns the envelope keys of the resources stored in `collection`, plus the collection name itself.
func (cli *commandLine) domainKeys(collection string) []string {
	keys := make([]string, 0)
	resources := cli.fetcher.Resources()
	for _, name := range resources.Names() {
		r, _ := resources.Get(name)
		if r.Collection == collection {
			keys = append(keys, r.DomainKey)
		}
	}
	return append(keys, collection)
}
