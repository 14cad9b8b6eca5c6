package main

import (
	"github.com/scholargraph/scholargraph/internal/server"
	"github.com/scholargraph/scholargraph/internal/util"
	"github.com/scholargraph/scholargraph/pkg/logger"
	"github.com/scholargraph/scholargraph/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleBackend := console.NewConsoleBackend(console.ConsoleBackendParams{
		Debug: debug,
	})
	logger.Init(consoleBackend)

	server.Init()
}
