package main

import (
	"log"

	"brewstore/internal/app"
)

func main() {
	if err := app.RunAPI(); err != nil {
		log.Fatalf("storefront api failed: %v", err)
	}
}
