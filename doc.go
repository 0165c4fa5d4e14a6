// Package kepler is an autonomous research agent that pursues a long-running
// goal through scheduled action and reflection cycles, keeping everything it
// knows in a single human-readable memory file.
//
// Each action cycle builds a prompt from the agent's identity, goal, and full
// memory, sends it to a language model, enriches the response with web search
// analyses, records any findings, connections, or discovery declarations the
// response contains, and folds the result back into memory under a strict
// character budget. Reflection cycles periodically step back and reassess
// strategy. Because the memory file is the only state the model ever sees,
// the agent can be stopped and restarted at any point without losing context.
//
// Key Components:
//
//   - Agent: the cycle coordinator (pkg/agent). Builds prompts, queries the
//     model, runs bounded-concurrency search enrichment, extracts artifacts,
//     and folds responses into memory. Cycles are strictly sequential.
//
//   - Memory: the file-backed memory document (pkg/memory). Routes response
//     sections into named memory sections, appends action and reflection
//     entries, and compacts the document when it exceeds its budget.
//
//   - Sections: the marker-delimited document parser (pkg/sections) that
//     memory, artifact extraction, and the status report are built on.
//
//   - Artifacts: timestamped finding and connection records plus the
//     single-slot discovery declaration (pkg/artifacts).
//
//   - LLM clients: Anthropic over the official SDK and OpenAI-compatible
//     endpoints over raw HTTP, behind one Client interface (pkg/llm).
//
//   - Search: pluggable search providers for HTTP JSON backends and MCP
//     stdio tool servers (pkg/search).
//
//   - Articles: a SQLite store that deduplicates search hits by URL and
//     aggregates daily statistics (pkg/articles).
//
//   - Fine-tuning: a JSONL example accumulator and a job lifecycle service
//     that submits, polls, and applies fine-tuning jobs, swapping the live
//     model when one succeeds (pkg/finetune).
//
//   - Dashboard: a read-only web view of memory, interactions, artifacts,
//     and articles (pkg/dashboard).
//
//   - Scheduler: a single-goroutine interval scheduler that guarantees jobs
//     never overlap (pkg/scheduler).
//
// Simple Example:
//
//	import (
//	    "context"
//	    "fmt"
//	    "log"
//
//	    "github.com/keplerlab/kepler/pkg/agent"
//	    "github.com/keplerlab/kepler/pkg/artifacts"
//	    "github.com/keplerlab/kepler/pkg/config"
//	    "github.com/keplerlab/kepler/pkg/llm"
//	    "github.com/keplerlab/kepler/pkg/memory"
//	)
//
//	func main() {
//	    cfg := config.Default()
//
//	    client, err := llm.New(cfg.Model)
//	    if err != nil {
//	        log.Fatalf("Failed to create model client: %v", err)
//	    }
//
//	    mem := memory.New(cfg.Memory.Path,
//	        memory.WithBudget(cfg.Memory.MaxChars, cfg.Memory.KeepLines))
//
//	    art := agent.Artifacts{
//	        Findings:    artifacts.NewRecorder(cfg.Artifacts.Dir, artifacts.Findings),
//	        Connections: artifacts.NewRecorder(cfg.Artifacts.Dir, artifacts.Connections),
//	    }
//
//	    coordinator := agent.NewCoordinator(cfg.Agent, mem, client, art)
//	    response := coordinator.RunActionCycle(context.Background())
//	    fmt.Println(response)
//	}
//
// The kepler binary under cmd/kepler wires all of this from a YAML config
// file and runs the cycles on their configured intervals; see `kepler run`
// and `kepler status`.
package kepler
