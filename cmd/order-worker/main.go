package main

import (
	"log"

	"brewstore/internal/app"
)

func main() {
	if err := app.RunWorker(); err != nil {
		log.Fatalf("order worker failed: %v", err)
	}
}
