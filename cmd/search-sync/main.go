package main

import (
	"flag"
	"log"
	"os"

	"brewstore/internal/app"
)

func main() {
	index := flag.String("index", "products", "search index to maintain")
	rebuild := flag.Bool("rebuild", false, "recreate the index and load every catalog product")
	wait := flag.Bool("wait", false, "refresh the index before exiting (with -rebuild)")
	flag.Parse()

	err := app.RunSearchSync(app.SearchSyncOptions{
		Index:   *index,
		Rebuild: *rebuild,
		Wait:    *wait,
		Out:     os.Stdout,
	})
	if err != nil {
		log.Fatalf("search sync failed: %v", err)
	}
}
