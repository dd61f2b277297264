package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"chatloom/pkg/logger"
	"chatloom/pkg/store"
)

// Offline inspection of a chatloom database: list threads, or dump one
// thread's message tree as JSON. The server must not hold the DB open.
func main() {
	dbPath := flag.String("db", "", "path to the pebble database")
	threadID := flag.String("thread", "", "dump this thread's messages instead of listing")
	flag.Parse()
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}

	logger.Init("error")
	if err := store.Open(*dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer store.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *threadID != "" {
		th, err := store.GetThreadByID(*threadID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "thread %s: %v\n", *threadID, err)
			os.Exit(1)
		}
		msgs, err := store.GetMessagesByThreadID(*threadID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "messages for %s: %v\n", *threadID, err)
			os.Exit(1)
		}
		_ = enc.Encode(map[string]any{"thread": th, "messages": msgs})
		return
	}

	threads, err := store.ListThreads()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list threads: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d threads\n", len(threads))
	for _, th := range threads {
		state := "live"
		if th.Deleted {
			state = "deleted"
		}
		title := ""
		if th.Title != nil {
			title = *th.Title
		}
		fmt.Printf("%s  ws=%s  %s  %q\n", th.ID, th.WorkspaceID, state, title)
	}
}
