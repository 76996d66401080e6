package main

import (
	cfg "dermalyze/src/configuration"
	"dermalyze/src/logging"
	server "dermalyze/src/server"
)

func main() {
	config := cfg.ReadProperties()
	logging.Setup(config.LogLevel)
	server.RunServer(config)
}
