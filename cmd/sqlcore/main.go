// Command sqlcore is a thin stdio harness over core.Service: one JSON
// command per line in, one JSON result per line out. It exists to smoke-test
// and script the 8 operations without standing up a network surface (an
// HTTP/REST surface is explicitly out of scope; see spec.md Non-goals).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nl2sql/sqlcore/internal/agent"
	"github.com/nl2sql/sqlcore/internal/core"
	"github.com/nl2sql/sqlcore/internal/dialect"
	"github.com/nl2sql/sqlcore/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cc, err := core.NewCoreContext(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to construct core context: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("shutting down sqlcore...")
		cancel()
	}()

	svc := core.NewService(cc)
	runLoop(ctx, svc)

	if err := cc.Close(); err != nil {
		log.Printf("error closing core context: %v", err)
	}
}

// command is one line of stdin: {"op": "...", "payload": {...}}.
type command struct {
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

type response struct {
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func runLoop(ctx context.Context, svc *core.Service) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	out := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd command
		if err := json.Unmarshal(line, &cmd); err != nil {
			out.Encode(response{Error: fmt.Sprintf("invalid command: %v", err)})
			continue
		}
		result, err := dispatch(ctx, svc, cmd)
		if err != nil {
			out.Encode(response{Error: err.Error()})
			continue
		}
		out.Encode(response{OK: true, Result: result})
	}
}

func dispatch(ctx context.Context, svc *core.Service, cmd command) (interface{}, error) {
	switch cmd.Op {
	case "connect":
		var params dialect.ConnectionParams
		if err := json.Unmarshal(cmd.Payload, &params); err != nil {
			return nil, err
		}
		return svc.Connect(ctx, params)

	case "list_schemas":
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, err
		}
		return svc.ListSchemas(ctx, req.SessionID)

	case "snapshot":
		var req struct {
			SessionID  string `json:"session_id"`
			SchemaName string `json:"schema_name"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, err
		}
		return svc.Snapshot(ctx, req.SessionID, req.SchemaName)

	case "select_tables":
		var req struct {
			SessionID string   `json:"session_id"`
			Tables    []string `json:"tables"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, err
		}
		return nil, svc.SelectTables(req.SessionID, req.Tables)

	case "ask":
		var req struct {
			SessionID string        `json:"session_id"`
			Question  string        `json:"question"`
			Options   agent.Options `json:"options"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, err
		}
		return svc.Ask(ctx, req.SessionID, req.Question, req.Options)

	case "build_ontology":
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, err
		}
		return svc.BuildOntology(ctx, req.SessionID)

	case "rag.import":
		var req struct {
			CSVPath string `json:"csv_path"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, err
		}
		f, err := os.Open(req.CSVPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		imported, err := svc.RAGImportCSV(ctx, f)
		if err != nil {
			return nil, err
		}
		return struct {
			Imported int `json:"imported"`
		}{Imported: imported}, nil

	case "rag.search":
		var req struct {
			Question   string `json:"question"`
			Dialect    string `json:"dialect"`
			SchemaName string `json:"schema_name"`
			TopK       int    `json:"top_k"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, err
		}
		return svc.RAGSearch(ctx, req.Question, req.Dialect, req.SchemaName, req.TopK)

	case "rag.clear":
		return nil, svc.RAGClear(ctx)

	case "disconnect":
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, err
		}
		return nil, svc.Disconnect(req.SessionID)

	default:
		return nil, fmt.Errorf("unknown op %q", cmd.Op)
	}
}
