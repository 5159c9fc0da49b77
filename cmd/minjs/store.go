package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/minjs/lib/store"
	"github.com/chazu/minjs/manifest"
	"github.com/chazu/minjs/vm"
)

// handleStoreCommand processes the `minjs store` subcommand.
// Usage:
//
//	minjs store add file.js      # store by content hash
//	minjs store list
//	minjs store cat <hash>
//	minjs store run <hash>
//	minjs store rm <hash>
func handleStoreCommand(args []string, verbose bool, interp *vm.Interp) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: minjs store <add|list|cat|run|rm> [args...]")
		os.Exit(1)
	}

	st, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	switch args[0] {
	case "add":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: minjs store add <file.js>")
			os.Exit(1)
		}
		source, err := os.ReadFile(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		hash, err := st.Add(filepath.Base(args[1]), string(source))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)

	case "list":
		scripts, err := st.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, sc := range scripts {
			fmt.Printf("%s  %s  %s\n", sc.Hash[:12], sc.AddedAt.Format("2006-01-02 15:04"), sc.Name)
		}

	case "cat":
		sc := mustGet(st, args)
		fmt.Print(sc.Source)

	case "run":
		sc := mustGet(st, args)
		if verbose {
			fmt.Printf("Running %s (%s)\n", sc.Name, sc.Hash[:12])
		}
		result, err := interp.RunSource(sc.Name, sc.Source)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		result.Release()

	case "rm":
		sc := mustGet(st, args)
		if err := st.Delete(sc.Hash); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown store command %q\n", args[0])
		os.Exit(1)
	}
}

func openStore() (*store.Store, error) {
	if m, err := manifest.FindAndLoad("."); err == nil && m != nil && m.Store.Path != "" {
		return store.Open(filepath.Join(m.Dir, m.Store.Path))
	}
	return store.OpenDefault()
}

func mustGet(st *store.Store, args []string) *store.Script {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: minjs store", args[0], "<hash>")
		os.Exit(1)
	}
	sc, err := st.Get(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return sc
}
