// Package wasmhost loads dynamic extension modules compiled to
// WebAssembly and bridges them to the pipeline. Guests export
// allocate, initialize_module, handle_request, and optionally
// get_config; the host exposes log_message, get_state, and set_state
// under the "ox_host" import namespace.
package wasmhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/oxlabs/ox-webservice/internal/hostapi"
	"github.com/oxlabs/ox-webservice/internal/module"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

type ctxKey struct{}

// WithState attaches the request state host functions operate on.
func WithState(ctx context.Context, st *pipeline.State) context.Context {
	return context.WithValue(ctx, ctxKey{}, st)
}

func stateFrom(ctx context.Context) *pipeline.State {
	st, _ := ctx.Value(ctxKey{}).(*pipeline.State)
	return st
}

// Host owns the shared wazero runtime and the host function module.
// One Host serves every dynamic module for the process lifetime.
type Host struct {
	runtime wazero.Runtime
	logger  *slog.Logger
	server  hostapi.ServerInfo
}

var _ module.DynamicLoader = (*Host)(nil)

// New builds the runtime and instantiates the host function module.
func New(ctx context.Context, logger *slog.Logger, server hostapi.ServerInfo) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		runtime: wazero.NewRuntime(ctx),
		logger:  logger,
		server:  server,
	}
	wasi_snapshot_preview1.MustInstantiate(ctx, h.runtime)

	_, err := h.runtime.NewHostModuleBuilder("ox_host").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.logMessage),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI64},
			nil).
		Export("log_message").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.getState),
			[]api.ValueType{api.ValueTypeI64},
			[]api.ValueType{api.ValueTypeI64}).
		Export("get_state").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.setState),
			[]api.ValueType{api.ValueTypeI64, api.ValueTypeI64},
			[]api.ValueType{api.ValueTypeI32}).
		Export("set_state").
		Instantiate(ctx)
	if err != nil {
		h.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiating host module: %w", err)
	}
	return h, nil
}

// Close tears down the runtime and every guest instantiated from it.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// Load compiles and instantiates the library at path, then runs its
// initialize_module export with the module's params and id.
func (h *Host) Load(ctx context.Context, id, path string, params map[string]any) (module.Handler, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading module library: %w", err)
	}

	compiled, err := h.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", path, err)
	}

	inst, err := h.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(id).WithStartFunctions("_initialize"))
	if err != nil {
		return nil, fmt.Errorf("instantiating %s: %w", path, err)
	}

	g := &guest{host: h, id: id, mod: inst}
	for _, name := range []string{"allocate", "initialize_module", "handle_request"} {
		if inst.ExportedFunction(name) == nil {
			inst.Close(ctx)
			return nil, fmt.Errorf("module %s does not export %s", path, name)
		}
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		inst.Close(ctx)
		return nil, fmt.Errorf("encoding module params: %w", err)
	}
	paramsRef, err := g.writeGuest(ctx, paramsJSON)
	if err != nil {
		inst.Close(ctx)
		return nil, err
	}
	idRef, err := g.writeGuest(ctx, []byte(id))
	if err != nil {
		inst.Close(ctx)
		return nil, err
	}

	ret, err := inst.ExportedFunction("initialize_module").Call(ctx, paramsRef, idRef)
	if err != nil {
		inst.Close(ctx)
		return nil, fmt.Errorf("initialize_module trapped: %w", err)
	}
	if len(ret) == 0 || uint32(ret[0]) == 0 {
		inst.Close(ctx)
		return nil, fmt.Errorf("module %s refused initialization", path)
	}
	g.instance = uint32(ret[0])

	return g, nil
}

// Host function implementations. Each reads its arguments out of the
// guest's linear memory via the calling module handle.

func (h *Host) logMessage(ctx context.Context, mod api.Module, stack []uint64) {
	level := uint32(stack[0])
	msg, ok := readGuest(mod, stack[1])
	if !ok {
		return
	}
	slogLevel := slog.LevelInfo
	switch level {
	case 0:
		slogLevel = slog.LevelDebug
	case 2:
		slogLevel = slog.LevelWarn
	case 3:
		slogLevel = slog.LevelError
	}
	h.logger.Log(ctx, slogLevel, string(msg), "module", mod.Name())
}

func (h *Host) getState(ctx context.Context, mod api.Module, stack []uint64) {
	st := stateFrom(ctx)
	key, ok := readGuest(mod, stack[0])
	if st == nil || !ok {
		stack[0] = 0
		return
	}

	value, found := hostapi.Get(st, h.server, string(key))
	if !found {
		stack[0] = 0
		return
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		h.logger.Error("encoding state value", "key", string(key), "error", err)
		stack[0] = 0
		return
	}

	ref, err := writeToGuest(ctx, mod, encoded)
	if err != nil {
		h.logger.Error("writing state value to guest", "module", mod.Name(), "error", err)
		stack[0] = 0
		return
	}
	stack[0] = ref
}

func (h *Host) setState(ctx context.Context, mod api.Module, stack []uint64) {
	st := stateFrom(ctx)
	key, okKey := readGuest(mod, stack[0])
	raw, okVal := readGuest(mod, stack[1])
	if st == nil || !okKey || !okVal {
		stack[0] = 1
		return
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		h.logger.Warn("module sent undecodable state value", "module", mod.Name(), "key", string(key))
		stack[0] = 1
		return
	}
	if err := hostapi.Set(st, string(key), value); err != nil {
		h.logger.Warn("state write rejected", "module", mod.Name(), "key", string(key), "error", err)
		stack[0] = 1
		return
	}
	stack[0] = 0
}

// readGuest copies a packed ptr/len buffer out of guest memory.
func readGuest(mod api.Module, ref uint64) ([]byte, bool) {
	if ref == 0 {
		return nil, false
	}
	ptr, length := unpackPtrLen(ref)
	return mod.Memory().Read(ptr, length)
}

// writeToGuest allocates guest memory through the allocate export and
// copies b into it.
func writeToGuest(ctx context.Context, mod api.Module, b []byte) (uint64, error) {
	alloc := mod.ExportedFunction("allocate")
	if alloc == nil {
		return 0, fmt.Errorf("module %s does not export allocate", mod.Name())
	}
	ret, err := alloc.Call(ctx, uint64(len(b)))
	if err != nil {
		return 0, fmt.Errorf("allocate trapped: %w", err)
	}
	ptr := uint32(ret[0])
	if !mod.Memory().Write(ptr, b) {
		return 0, fmt.Errorf("allocate returned out-of-range pointer %d", ptr)
	}
	return packPtrLen(ptr, uint32(len(b))), nil
}
