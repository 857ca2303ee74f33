package main

import (
	"log"

	"synthvault/services/vaultd"
)

func main() {
	if err := vaultd.Main(); err != nil {
		log.Fatalf("vaultd: %v", err)
	}
}
