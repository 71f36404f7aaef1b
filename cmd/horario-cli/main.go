package main

import (
	"horario-backend/cmd/horario-cli/commands"
	"horario-backend/lib/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
