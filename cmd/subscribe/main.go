// Command subscribe manages the bot's EventSub webhook subscriptions through
// the Helix API.
//
//	subscribe create [--type channel.cheer ...]
//	subscribe list [--status enabled]
//	subscribe delete <id>...
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(loadApp).Execute(); err != nil {
		os.Exit(1)
	}
}
