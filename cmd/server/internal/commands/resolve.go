package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/wolfeidau/entitlements/internal/catalog"
	"github.com/wolfeidau/entitlements/internal/entitlement"
	"github.com/wolfeidau/entitlements/internal/logger"
)

// ResolveCmd prints the effective features of one organization, optionally as if it were on
// a different plan.
type ResolveCmd struct {
	OrgID string `arg:"" help:"organization id"`
	Plan  string `help:"preview against this plan instead of the organization's current one"`

	Catalog CatalogFlags `embed:"" prefix:"catalog-"`
	Store   StoreFlags   `embed:""`
}

func (c *ResolveCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	orgID, err := uuid.Parse(c.OrgID)
	if err != nil {
		return fmt.Errorf("invalid organization id: %w", err)
	}

	features, plans, err := c.Catalog.load()
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	st, err := c.Store.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	resolver := entitlement.NewResolver(features, plans, st.overrides, st.audit, st.orgs, entitlement.WithLogger(log))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	if c.Plan != "" {
		preview, err := resolver.PreviewPlan(ctx, orgID, catalog.PlanID(c.Plan))
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "Organization %s: %s -> %s\n\n", orgID, preview.FromPlan, preview.ToPlan)
		fmt.Fprintln(w, "FEATURE\tFROM\tTO")
		for _, ch := range preview.Changes {
			fmt.Fprintf(w, "%s\t%t\t%t\n", ch.FeatureID, ch.From, ch.To)
		}
		if len(preview.Changes) == 0 {
			fmt.Fprintln(w, "(no changes)")
		}
		printUnmet(w, preview.Proposed.Unmet)
		return w.Flush()
	}

	res, err := resolver.ResolveOrg(ctx, orgID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Organization %s (plan: %s)\n\n", orgID, res.PlanID)
	fmt.Fprintln(w, "FEATURE\tENABLED\tSOURCE")
	for _, e := range res.Entries() {
		fmt.Fprintf(w, "%s\t%t\t%s\n", e.FeatureID, e.Enabled, e.Provenance)
	}
	printUnmet(w, res.Unmet)

	return w.Flush()
}

func printUnmet(w *tabwriter.Writer, unmet []entitlement.UnmetDependency) {
	if len(unmet) == 0 {
		return
	}

	fmt.Fprintln(w, "\nWARNINGS")
	for _, u := range unmet {
		fmt.Fprintf(w, "%s\tneeds one of: %s\n", u.FeatureID, strings.Join(u.Missing, ", "))
	}
}
