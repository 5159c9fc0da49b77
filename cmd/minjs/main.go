// minjs CLI - the main entry point for running scripts
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chazu/minjs/compiler"
	"github.com/chazu/minjs/manifest"
	"github.com/chazu/minjs/server"
	"github.com/chazu/minjs/vm"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	interactive := flag.Bool("i", false, "Start interactive REPL")
	evalExpr := flag.String("e", "", "Evaluate the given source and print the result")
	dumpAST := flag.Bool("dump-ast", false, "Parse the given files and dump their ASTs instead of running them")
	heapSlots := flag.Uint("heap-slots", 0, "Heap capacity in slots (overrides minjs.toml)")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: minjs [options] [script...]\n")
		fmt.Fprintf(os.Stderr, "       minjs store <add|list|cat|run|rm> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Runs scripts with a fresh heap and global object.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  minjs -i                 # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  minjs app.js             # Run a script\n")
		fmt.Fprintf(os.Stderr, "  minjs -e '1+2*3'         # Evaluate an expression\n")
		fmt.Fprintf(os.Stderr, "  minjs -dump-ast app.js   # Show the parsed AST\n")
		fmt.Fprintf(os.Stderr, "  minjs store add app.js   # Store a script by content hash\n")
		fmt.Fprintf(os.Stderr, "  minjs -lsp               # Language server for editors\n")
	}
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 && args[0] == "store" {
		handleStoreCommand(args[1:], *verbose, newInterp(*heapSlots, *verbose))
		return
	}

	if *lspMode {
		if err := server.NewLSP().Run(); err != nil {
			fmt.Fprintf(os.Stderr, "LSP error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *dumpAST {
		for _, path := range args {
			if err := dumpFile(path); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
		return
	}

	interp := newInterp(*heapSlots, *verbose)

	if *evalExpr != "" {
		result, err := interp.RunSource("<eval>", *evalExpr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(interp, result)
		result.Release()
		return
	}

	for _, path := range args {
		source, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		result, err := interp.RunSource(path, string(source))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		result.Release()
	}

	if *interactive || len(args) == 0 {
		runREPL(interp)
	}
}

// newInterp builds a heap and interpreter from flags and the manifest.
func newInterp(heapSlots uint, verbose bool) *vm.Interp {
	slots := uint32(heapSlots)
	if slots == 0 {
		slots = manifest.DefaultHeapSlots
		if m, err := manifest.FindAndLoad("."); err == nil && m != nil {
			slots = m.Runtime.HeapSlots
			if verbose {
				fmt.Printf("Loaded %s/minjs.toml (heap-slots=%d)\n", m.Dir, slots)
			}
		}
	}
	heap := vm.NewHeap(slots)
	interp, err := vm.NewInterp(heap, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return interp
}

func printResult(interp *vm.Interp, result vm.Value) {
	if result.Kind() == vm.KindUndefined {
		return
	}
	s, err := vm.ToString(result, interp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Println(s)
}

func dumpFile(path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	file := compiler.NewSourceFile(path, string(source))
	prog, err := compiler.Parse(file)
	if err != nil {
		return err
	}
	dumpNode(prog, 0)
	return nil
}

func dumpNode(n compiler.Node, depth int) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	switch n := n.(type) {
	case *compiler.Block:
		fmt.Printf("%sBlock [%d,%d)\n", indent, n.ExtentVal.Start, n.ExtentVal.End)
		for _, s := range n.Stmts {
			dumpNode(s, depth+1)
		}
	case *compiler.VarStmt:
		fmt.Printf("%sVar\n", indent)
		for _, d := range n.Decls {
			fmt.Printf("%s  %s\n", indent, d.Name)
			if d.Init != nil {
				dumpNode(d.Init, depth+2)
			}
		}
	case *compiler.ExprStmt:
		fmt.Printf("%sExprStmt\n", indent)
		dumpNode(n.X, depth+1)
	case *compiler.IfStmt:
		fmt.Printf("%sIf\n", indent)
		dumpNode(n.Cond, depth+1)
		dumpNode(n.Then, depth+1)
		if n.Else != nil {
			dumpNode(n.Else, depth+1)
		}
	case *compiler.WhileStmt:
		fmt.Printf("%sWhile\n", indent)
		dumpNode(n.Cond, depth+1)
		dumpNode(n.Body, depth+1)
	case *compiler.ForStmt:
		fmt.Printf("%sFor\n", indent)
		dumpNode(n.Body, depth+1)
	case *compiler.ForInStmt:
		fmt.Printf("%sForIn\n", indent)
		dumpNode(n.Object, depth+1)
		dumpNode(n.Body, depth+1)
	case *compiler.ReturnStmt:
		fmt.Printf("%sReturn\n", indent)
		if n.X != nil {
			dumpNode(n.X, depth+1)
		}
	case *compiler.WithStmt:
		fmt.Printf("%sWith\n", indent)
		dumpNode(n.Object, depth+1)
		dumpNode(n.Body, depth+1)
	case *compiler.FuncDecl:
		fmt.Printf("%sFunction %s(%v)\n", indent, n.Name, n.Params)
		dumpNode(n.Body, depth+1)
	case *compiler.EmptyStmt:
		fmt.Printf("%sEmpty\n", indent)
	case *compiler.ContinueStmt:
		fmt.Printf("%sContinue\n", indent)
	case *compiler.BreakStmt:
		fmt.Printf("%sBreak\n", indent)
	case *compiler.Identifier:
		fmt.Printf("%sIdentifier %s\n", indent, n.Name)
	case *compiler.Literal:
		switch n.Kind {
		case compiler.LitNull:
			fmt.Printf("%sLiteral null\n", indent)
		case compiler.LitBool:
			fmt.Printf("%sLiteral %v\n", indent, n.Bool)
		case compiler.LitNumber:
			fmt.Printf("%sLiteral %v\n", indent, n.Num)
		case compiler.LitString:
			fmt.Printf("%sLiteral %q\n", indent, n.Str)
		}
	case *compiler.Binary:
		fmt.Printf("%sBinary %s\n", indent, n.Op)
		dumpNode(n.L, depth+1)
		dumpNode(n.R, depth+1)
	case *compiler.Conditional:
		fmt.Printf("%sConditional\n", indent)
		dumpNode(n.Cond, depth+1)
		dumpNode(n.Then, depth+1)
		dumpNode(n.Else, depth+1)
	case *compiler.Prefix:
		fmt.Printf("%sPrefix %s\n", indent, n.Op)
		dumpNode(n.Operand, depth+1)
	case *compiler.Postfix:
		fmt.Printf("%sPostfix %s\n", indent, n.Op)
		dumpNode(n.Operand, depth+1)
	case *compiler.Call:
		fmt.Printf("%sCall\n", indent)
		dumpNode(n.Fn, depth+1)
		for _, a := range n.Args {
			dumpNode(a, depth+1)
		}
	default:
		fmt.Printf("%s%T\n", indent, n)
	}
}
