package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/peterh/liner"

	"github.com/chazu/minjs/vm"
)

const historyFile = ".minjs_history"

// runREPL starts an interactive read-eval-print loop.
func runREPL(interp *vm.Interp) {
	fmt.Println("minjs REPL - type a statement, or Ctrl-D to exit")

	var histPath string
	if home, err := os.UserHomeDir(); err == nil {
		histPath = filepath.Join(home, historyFile)
	}

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	// Load history (best-effort)
	if histPath != "" {
		if f, err := os.Open(histPath); err == nil {
			_, _ = ln.ReadHistory(f)
			_ = f.Close()
		}
	}

	for {
		line, err := ln.Prompt("> ")
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			break
		}
		if line == "" {
			continue
		}
		ln.AppendHistory(line)

		result, err := interp.RunSource("<repl>", line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			continue
		}
		printResult(interp, result)
		result.Release()
	}

	// Save history (best-effort)
	if histPath != "" {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}
	fmt.Println()
}
