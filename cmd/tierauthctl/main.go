// Command tierauthctl provisions and inspects a tierauth deployment: schema
// migrations, tier catalogs, owner and service seeding, key generation and
// the mail worker.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
