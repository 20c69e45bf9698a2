package wasmhost

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

// guest adapts one instantiated wasm module to the handler contract.
// Instantiated modules are not safe for concurrent calls, so every
// entry into the guest takes the mutex.
type guest struct {
	host     *Host
	id       string
	instance uint32

	mu  sync.Mutex
	mod api.Module
}

// HandleRequest calls the guest's handle_request export. Traps and
// malformed results degrade to ModifiedJumpToError so a broken module
// fails the request, not the server.
func (g *guest) HandleRequest(ctx context.Context, st *pipeline.State) pipeline.HandlerResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx = WithState(ctx, st)
	ret, err := g.mod.ExportedFunction("handle_request").Call(ctx, uint64(g.instance))
	if err != nil {
		g.host.logger.Error("module trapped", "module", g.id, "error", err)
		return pipeline.ModifiedJumpToError()
	}
	if len(ret) == 0 || ret[0] == 0 {
		g.host.logger.Error("module returned no result", "module", g.id)
		return pipeline.ModifiedJumpToError()
	}

	raw, ok := readGuest(g.mod, ret[0])
	if !ok {
		g.host.logger.Error("module result out of memory range", "module", g.id)
		return pipeline.ModifiedJumpToError()
	}
	res, err := parseResult(raw)
	if err != nil {
		g.host.logger.Error("module returned malformed result", "module", g.id, "error", err)
		return pipeline.ModifiedJumpToError()
	}
	return res
}

// Config calls the optional get_config export for the aggregated
// config report.
func (g *guest) Config() (json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fn := g.mod.ExportedFunction("get_config")
	if fn == nil {
		return nil, fmt.Errorf("module %s exports no config", g.id)
	}
	ctx := context.Background()
	ret, err := fn.Call(ctx, uint64(g.instance))
	if err != nil {
		return nil, fmt.Errorf("get_config trapped: %w", err)
	}
	if len(ret) == 0 || ret[0] == 0 {
		return nil, fmt.Errorf("module %s returned no config", g.id)
	}
	raw, ok := readGuest(g.mod, ret[0])
	if !ok {
		return nil, fmt.Errorf("config buffer out of range")
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("module %s returned invalid config JSON", g.id)
	}
	return json.RawMessage(append([]byte(nil), raw...)), nil
}

// Close releases the guest instance.
func (g *guest) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mod.Close(context.Background())
}

// writeGuest copies b into the guest's memory via its allocator.
func (g *guest) writeGuest(ctx context.Context, b []byte) (uint64, error) {
	return writeToGuest(ctx, g.mod, b)
}
