package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/wolfeidau/entitlements/internal/catalog"
)

// CatalogCmd groups catalog inspection commands.
type CatalogCmd struct {
	Check CatalogCheckCmd `cmd:"" help:"Validate a definitions file"`
	Show  CatalogShowCmd  `cmd:"" help:"Print features and plan inclusion"`
}

// CatalogCheckCmd loads and validates definitions, exiting non-zero on any error.
type CatalogCheckCmd struct {
	Catalog CatalogFlags `embed:"" prefix:"catalog-"`
}

func (c *CatalogCheckCmd) Run(globals *Globals) error {
	features, plans, err := c.Catalog.load()
	if err != nil {
		return err
	}

	fmt.Printf("catalog ok: %d features, %d plans\n", features.Len(), len(plans.All()))
	return nil
}

// CatalogShowCmd prints each feature and which plans include it.
type CatalogShowCmd struct {
	Catalog CatalogFlags `embed:"" prefix:"catalog-"`
	Cycle   string       `help:"billing cycle for the price summary" default:"monthly" enum:"monthly,annual"`
}

func (c *CatalogShowCmd) Run(globals *Globals) error {
	features, plans, err := c.Catalog.load()
	if err != nil {
		return err
	}

	all := plans.All()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprint(w, "FEATURE\tCATEGORY\tMATURITY\tDEPENDS ON")
	for _, p := range all {
		fmt.Fprintf(w, "\t%s", p.ID)
	}
	fmt.Fprintln(w)

	for _, f := range features.All() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s", f.ID, f.Category, f.Maturity, dependsOn(f))
		for _, p := range all {
			in, _ := plans.Includes(p.ID, f.ID)
			mark := "-"
			if in {
				mark = "yes"
			}
			fmt.Fprintf(w, "\t%s", mark)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "PRICE (%s)\t\t\t", c.Cycle)
	for _, p := range all {
		price, err := plans.Price(p.ID, catalog.BillingCycle(c.Cycle))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\t%d.%02d", price/100, price%100)
	}
	fmt.Fprintln(w)

	return w.Flush()
}

func dependsOn(f catalog.Feature) string {
	if len(f.DependsOn) == 0 {
		return "-"
	}
	return strings.Join(f.DependsOn, " | ")
}
