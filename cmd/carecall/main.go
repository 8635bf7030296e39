package main

import (
	"github.com/BioHazard786/carecall/internal/commands"
	"github.com/BioHazard786/carecall/internal/logging"
)

func main() {
	logger := logging.Init()
	defer logger.Sync()
	commands.Execute()
}
