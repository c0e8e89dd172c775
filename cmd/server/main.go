package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/entitlements/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool             `help:"Enable debug mode." env:"ENTITLEMENTS_DEBUG"`
		Version kong.VersionFlag `help:"Print version and exit."`

		Serve   commands.ServeCmd   `cmd:"" help:"Start the entitlements API server"`
		Catalog commands.CatalogCmd `cmd:"" help:"Inspect feature and plan definitions"`
		Resolve commands.ResolveCmd `cmd:"" help:"Resolve the effective features of one organization"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("entitlements"),
		kong.Description("Feature entitlement resolution for recruiting organizations."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
