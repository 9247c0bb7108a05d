package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core/fetch"
)

type fetchOutput struct {
	Resource string          `json:"resource"`
	Source   string          `json:"source"`
	Shape    string          `json:"shape"`
	Attempts []fetch.Attempt `json:"attempts"`
	Error    string          `json:"error,omitempty"`
	Records  []fetch.Record  `json:"records"`
}

// fetch prints the records of one resource, whichever source served them.
func (cli *commandLine) fetch(ctx context.Context, name string, params fetch.Params) error {
	resources := cli.fetcher.Resources()
	if _, err := resources.Get(name); err != nil {
		return withSuggestion(err, name, resources.Names())
	}

	res := cli.fetcher.FetchResource(ctx, name, params)
	out := fetchOutput{
		Resource: res.Resource,
		Source:   res.Source.String(),
		Shape:    res.Shape.String(),
		Attempts: res.Attempts,
		Records:  res.Records,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return errors.Wrap(cli.printJSON(out), "printing records")
}
