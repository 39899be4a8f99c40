package app

// Command is the mode the binary runs in.
type Command string

const (
	// CommandServe runs the HTTP API, including the cron trigger endpoint.
	CommandServe Command = "serve"
	// CommandWorker runs the in-process sync scheduler and the daily cleanup.
	CommandWorker Command = "worker"
	// CommandSync runs one sync over all active accounts and exits.
	CommandSync Command = "sync"
	// CommandMigrate applies pending database migrations.
	CommandMigrate Command = "migrate"
	// CommandHealthcheck checks /health of a running server. Used by the container health check.
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand reads the subcommand from args. Empty or unknown means serve.
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "sync":
		return CommandSync
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
