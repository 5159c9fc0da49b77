// Package server exposes the parser to editors over the Language Server
// Protocol.
package server

import (
	"errors"
	"sync"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/minjs/compiler"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "minjs-lsp"

// LspServer publishes syntax diagnostics and document symbols for open
// script files.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentDocumentSymbol: s.textDocumentDocumentSymbol,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "minjs LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.DocumentSymbolProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			text := whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := Diagnose(string(uri), text)
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// Diagnose parses the text and converts the first syntax error, if any, to
// an LSP diagnostic with the offending token's range.
func Diagnose(path, text string) []protocol.Diagnostic {
	file := compiler.NewSourceFile(path, text)
	_, err := compiler.Parse(file)
	if err == nil {
		return []protocol.Diagnostic{}
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	rng := protocol.Range{}
	var syntaxErr *compiler.SyntaxError
	if errors.As(err, &syntaxErr) {
		start, end := syntaxErr.Extent.Positions()
		rng = protocol.Range{
			Start: protocol.Position{Line: uint32(start.Line - 1), Character: uint32(start.Column - 1)},
			End:   protocol.Position{Line: uint32(end.Line - 1), Character: uint32(end.Column - 1)},
		}
	}
	return []protocol.Diagnostic{{
		Range:    rng,
		Severity: &severity,
		Source:   &source,
		Message:  err.Error(),
	}}
}

// --- Document symbols ---

func (s *LspServer) textDocumentDocumentSymbol(ctx *glsp.Context, params *protocol.DocumentSymbolParams) (any, error) {
	uri := params.TextDocument.URI

	s.mu.Lock()
	text, ok := s.docs[string(uri)]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	return DocumentSymbols(string(uri), text), nil
}

// DocumentSymbols returns one symbol per top-level function declaration.
func DocumentSymbols(path, text string) []protocol.SymbolInformation {
	file := compiler.NewSourceFile(path, text)
	prog, err := compiler.Parse(file)
	if err != nil {
		return nil
	}

	kind := protocol.SymbolKindFunction
	var symbols []protocol.SymbolInformation
	for _, stmt := range prog.Stmts {
		fn, ok := stmt.(*compiler.FuncDecl)
		if !ok {
			continue
		}
		start, end := fn.Extent().Positions()
		symbols = append(symbols, protocol.SymbolInformation{
			Name: fn.Name,
			Kind: kind,
			Location: protocol.Location{
				URI: protocol.DocumentUri(path),
				Range: protocol.Range{
					Start: protocol.Position{Line: uint32(start.Line - 1), Character: uint32(start.Column - 1)},
					End:   protocol.Position{Line: uint32(end.Line - 1), Character: uint32(end.Column - 1)},
				},
			},
		})
	}
	return symbols
}

func boolPtr(b bool) *bool {
	return &b
}
