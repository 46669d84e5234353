// Command eventhooks runs the webhook delivery engine behind its HTTP API.
package main

import (
	"github.com/alecthomas/kong"
)

type cli struct {
	EnvFile string `name:"env-file" default:".env" help:"Dotenv file loaded before EVENTHOOKS_* variables are read."`
	Addr    string `help:"Override http.addr."`

	Serve   serveCmd   `cmd:"" default:"1" help:"Run the HTTP API, webhook dispatcher and digest scheduler."`
	Migrate migrateCmd `cmd:"" help:"Apply database migrations and exit."`
}

func main() {
	var root cli
	kctx := kong.Parse(&root,
		kong.Name("eventhooks"),
		kong.Description("Event notification and webhook delivery engine."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(kctx.Run(&root))
}
