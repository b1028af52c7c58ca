// Command flowsheet-mcp serves model-diagnostic tools over MCP streamable
// HTTP for one in-memory flowsheet model.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"flowsheetmcp/dispatch"
	"flowsheetmcp/flowsheet"
	"flowsheetmcp/solver"
	"flowsheetmcp/tools"
)

var (
	host        = flag.String("host", "127.0.0.1", "listen host")
	port        = flag.Int("port", 8005, "listen port")
	modelName   = flag.String("model", "heater-loop", "demo model to serve ("+builderNames()+")")
	allowRemote = flag.Bool("allow-remote", false,
		"disable DNS-rebinding host validation (also FLOWSHEET_MCP_ALLOW_REMOTE=1)")
)

func builderNames() string {
	names := make([]string, 0, len(flowsheet.Builders))
	for n := range flowsheet.Builders {
		names = append(names, n)
	}
	sort.Strings(names)
	out := ""
	for i, n := range names {
		if i > 0 {
			out += "|"
		}
		out += n
	}
	return out
}

func main() {
	flag.Parse()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	build, ok := flowsheet.Builders[*modelName]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown model %q (valid: %s)\n", *modelName, builderNames())
		os.Exit(2)
	}
	m := build()

	relaxed := *allowRemote || os.Getenv("FLOWSHEET_MCP_ALLOW_REMOTE") == "1"

	queue := dispatch.New(context.Background())
	defer queue.Close()

	toolbox := tools.NewToolbox(m, map[string]solver.Solver{
		tools.DefaultSolverName: solver.NewNewton(),
	}, log)

	srv := tools.NewServer(toolbox, queue)
	log.Info("model ready",
		"model", *modelName,
		"degrees_of_freedom", m.DegreesOfFreedom(),
		"variables", len(m.Vars()),
		"constraints", len(m.Cons()))

	if err := tools.Serve(srv, tools.ShellConfig{
		Host:        *host,
		Port:        *port,
		AllowRemote: relaxed,
		Log:         log,
	}); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}
