// Command x-shelld runs the multiplexed terminal gateway, and also ships
// a thin client mode (sessions list/close) that talks to a running
// gateway over its own WebSocket wire protocol. Structured as a cobra
// command tree the way lnilluv-openai-accounts-cli and sa6mwa-centaurx lay
// out their cmd/ packages: one file per subcommand under package main.
package main

import (
	"log"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.SetFlags(0)
		log.Println(err)
		os.Exit(1)
	}
}
