// nshadows-mcp serves persisted calibration results over the Model
// Context Protocol on stdio, for agent tooling that wants to query
// ranked quantization candidates.
package main

import (
	"flag"
	"log"

	"github.com/rmax-ai/nshadows/pkg/mcp"
	"github.com/rmax-ai/nshadows/pkg/store"
)

func main() {
	dbPath := flag.String("db", "nshadows.db", "path to the calibration results database")
	flag.Parse()

	st, err := store.NewStore(*dbPath)
	if err != nil {
		log.Fatalf("opening results store: %v", err)
	}
	defer st.Close()

	if err := mcp.NewServer(st).Serve(); err != nil {
		log.Fatalf("mcp server: %v", err)
	}
}
