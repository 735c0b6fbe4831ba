package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/google/subcommands"

	"ipe/builtins"
	"ipe/engine"
	"ipe/rar"
	"ipe/store"
	"ipe/value"
)

// serveDemoCmd exposes the engine over a minimal HTTP endpoint. Spec §6
// explicitly leaves transport and wire format out of the core ("no
// transport, auth, or wire format is prescribed here"), so this is one
// possible driver demonstrating the engine behind a process boundary, not
// a contract other code depends on — hence plain net/http rather than a
// routing library: nothing in the corpus brought one that the core or
// any other driver needed, and a single POST endpoint doesn't warrant
// importing one just for this demo.
type serveDemoCmd struct {
	file string
	addr string
}

func (*serveDemoCmd) Name() string     { return "serve-demo" }
func (*serveDemoCmd) Synopsis() string { return "Serve predicate evaluation over HTTP for demos" }
func (*serveDemoCmd) Usage() string {
	return `serve-demo -file <predicates.ipe> [-addr :8080]:
  Load predicates from <file> into a store and serve POST /evaluate,
  accepting a JSON RAR context and returning the resulting Decision.
`
}

func (cmd *serveDemoCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&cmd.file, "file", "", "predicate source file")
	f.StringVar(&cmd.addr, "addr", ":8080", "listen address")
}

func (cmd *serveDemoCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if cmd.file == "" {
		fmt.Fprintf(os.Stderr, "💥 -file is required\n")
		return subcommands.ExitUsageError
	}

	data, err := os.ReadFile(cmd.file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "💥 failed to read file: %v\n", err)
		return subcommands.ExitFailure
	}

	s := store.New()
	if err := s.SubmitUpdate(store.AddPredicate(string(data))); err != nil {
		fmt.Fprintf(os.Stderr, "💥 failed to load predicates: %v\n", err)
		return subcommands.ExitFailure
	}
	e := engine.New(s, builtins.NewDefaultRegistry())

	mux := http.NewServeMux()
	mux.HandleFunc("/evaluate", evaluateHandler(e))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	fmt.Printf("serving %d predicate(s) on %s\n", len(s.Current().Entries), cmd.addr)
	if err := http.ListenAndServe(cmd.addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "💥 server error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// evaluateRequest is the wire shape for POST /evaluate: a flattened RAR
// context with untyped JSON attribute values.
type evaluateRequest struct {
	ResourceType  string                 `json:"resource_type"`
	PrincipalID   string                 `json:"principal_id"`
	Operation     string                 `json:"operation"`
	ResourceAttrs map[string]interface{} `json:"resource_attrs"`
	RequestAttrs  map[string]interface{} `json:"request_attrs"`
}

type evaluateResponse struct {
	Decision string   `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
	Matched  []string `json:"matched,omitempty"`
}

func evaluateHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req evaluateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
			return
		}

		ctx := &rar.EvaluationContext{
			Resource: rar.Resource{TypeID: req.ResourceType, Attributes: jsonToValues(req.ResourceAttrs)},
			Action:   rar.Action{Operation: req.Operation},
			Request:  rar.Request{Principal: rar.Principal{ID: req.PrincipalID}, Attributes: jsonToValues(req.RequestAttrs)},
		}

		decision := e.Evaluate(ctx)
		w.Header().Set("Content-Type", "application/json")
		if decision.Kind == engine.Deny {
			w.WriteHeader(http.StatusForbidden)
		}
		json.NewEncoder(w).Encode(evaluateResponse{
			Decision: decision.Kind.String(),
			Reason:   decision.Reason,
			Matched:  decision.Matched,
		})
	}
}

func jsonToValues(attrs map[string]interface{}) map[string]value.Value {
	out := make(map[string]value.Value, len(attrs))
	for k, v := range attrs {
		out[k] = jsonToValue(v)
	}
	return out
}

func jsonToValue(v interface{}) value.Value {
	switch t := v.(type) {
	case bool:
		return value.Bool(t)
	case float64:
		if t == float64(int64(t)) {
			return value.Int(int64(t))
		}
		return value.Float(t)
	case string:
		return value.String(t)
	case []interface{}:
		elems := make([]value.Value, len(t))
		for i, e := range t {
			elems[i] = jsonToValue(e)
		}
		return value.Array(elems)
	default:
		return value.String(fmt.Sprintf("%v", t))
	}
}
