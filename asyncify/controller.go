// Package asyncify implements the suspend/resume trampoline described in
// spec.md §4.C: it turns blocking WASI calls issued by a guest into
// cooperative await points on the host, by driving the guest's
// Binaryen-style Asyncify hooks (asyncify_start_unwind / asyncify_stop_unwind
// / asyncify_start_rewind / asyncify_stop_rewind / asyncify_get_state).
//
// No repo in the retrieved example pack implements Asyncify; this package is
// built directly from spec.md's algorithm against wazero's public api.Module
// surface, which is the closest the corpus comes to a host embedding a wasm
// guest's exported functions (see DESIGN.md).
package asyncify

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
)

// State mirrors the guest's asyncify_get_state result.
type State uint32

const (
	StateNone State = iota
	StateUnwinding
	StateRewinding
)

// DataAddr is the fixed address of the two-word (stack_begin, stack_end)
// asyncify descriptor within the guest's linear memory.
const DataAddr uint32 = 16

// DefaultStackBegin and DefaultStackEnd bound the default asyncify stack
// region carved out of linear memory, per spec.md §4.C / §6.1.
const (
	DefaultStackBegin = DataAddr + 8
	DefaultStackEnd   = 1024
)

// PendingResult is returned by an import implementation that cannot
// complete synchronously. Resolve is awaited by the export wrapper's
// unwind/rewind loop; it must itself respect ctx cancellation.
type PendingResult struct {
	Resolve func(ctx context.Context) (uint64, error)
}

// ImportFunc is a host import body: it either returns a value synchronously
// (pending == nil) or a PendingResult describing how to obtain it later.
type ImportFunc func(ctx context.Context, mod api.Module, args []uint64) (result uint64, pending *PendingResult, err error)

// Controller drives the unwind/rewind loop for a single guest instance.
// Asyncify state is a singleton per instance (spec.md §5): a Controller
// must never be shared or interleaved across concurrent invocations of the
// same module instance.
type Controller struct {
	mod     api.Module
	mu      sync.Mutex    // guards state transitions against re-entrant export calls
	pending *PendingResult // set by WrapImport, resolved by the export wrapper's loop
	stash   uint64        // the value an import will return once rewound
	err     error         // a pending import's error, replayed on rewind

	memo sync.Map // "import:"/"export:" + name -> wrapped handle, for idempotent re-wrapping
}

// NewController builds a Controller not yet bound to any guest module. It
// is constructed before the guest is instantiated (its WrapImport calls are
// what wasihost's host module builder exports, and only the instantiation
// that resolves those imports produces the module Init needs — spec.md
// §9's cyclic-references note), then bound once the module exists via Init.
func NewController() *Controller {
	return &Controller{}
}

// Init binds the Controller to an instantiated guest module and writes the
// default asyncify stack bounds into its descriptor. The module must
// already export memory and the five asyncify_* hooks. Init must run
// before any wrapped import is actually invoked by the guest.
func (c *Controller) Init(ctx context.Context, mod api.Module) error {
	mem := mod.Memory()
	if mem == nil {
		return fmt.Errorf("asyncify: guest module does not export memory")
	}
	if !mem.WriteUint32Le(DataAddr, DefaultStackBegin) || !mem.WriteUint32Le(DataAddr+4, DefaultStackEnd) {
		return fmt.Errorf("asyncify: guest memory too small for asyncify descriptor")
	}
	for _, name := range []string{"asyncify_get_state", "asyncify_start_unwind", "asyncify_stop_unwind", "asyncify_start_rewind", "asyncify_stop_rewind"} {
		if mod.ExportedFunction(name) == nil {
			return fmt.Errorf("asyncify: guest module missing required export %q", name)
		}
	}
	c.mod = mod
	return nil
}

// New is a convenience that allocates and Inits a Controller in one call,
// for callers (tests, simple embeddings) that already have an instantiated
// module and don't need the two-phase construction invoke.Run requires.
func New(ctx context.Context, mod api.Module) (*Controller, error) {
	c := NewController()
	if err := c.Init(ctx, mod); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Controller) getState(ctx context.Context) (State, error) {
	res, err := c.mod.ExportedFunction("asyncify_get_state").Call(ctx)
	if err != nil {
		return 0, err
	}
	return State(res[0]), nil
}

func (c *Controller) startUnwind(ctx context.Context) error {
	_, err := c.mod.ExportedFunction("asyncify_start_unwind").Call(ctx, uint64(DataAddr))
	return err
}

func (c *Controller) stopUnwind(ctx context.Context) error {
	_, err := c.mod.ExportedFunction("asyncify_stop_unwind").Call(ctx)
	return err
}

func (c *Controller) startRewind(ctx context.Context) error {
	_, err := c.mod.ExportedFunction("asyncify_start_rewind").Call(ctx, uint64(DataAddr))
	return err
}

func (c *Controller) stopRewind(ctx context.Context) error {
	_, err := c.mod.ExportedFunction("asyncify_stop_rewind").Call(ctx)
	return err
}

// WrapImport wraps a host import per spec.md §4.C's import-wrapping
// algorithm: on rewind it replays the stashed result; otherwise it invokes
// fn, and if fn is pending, starts an unwind and stashes the resolution.
// The wrapper is memoised by name so repeated wrapping of the same import
// returns the same handle.
func (c *Controller) WrapImport(name string, fn ImportFunc) api.GoModuleFunc {
	if v, ok := c.memo.Load("import:" + name); ok {
		return v.(api.GoModuleFunc)
	}
	wrapped := api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		state, err := c.getState(ctx)
		if err != nil {
			panic(err)
		}
		if state == StateRewinding {
			if err := c.stopRewind(ctx); err != nil {
				panic(err)
			}
			if c.err != nil {
				stashedErr := c.err
				c.err = nil
				panic(stashedErr)
			}
			stack[0] = c.stash
			return
		}

		result, pending, err := fn(ctx, mod, stack)
		if err != nil {
			panic(err)
		}
		if pending == nil {
			stack[0] = result
			return
		}

		// Stash the pending resolution itself (not yet resolved); the
		// export wrapper's unwind/rewind loop resolves it between
		// asyncify_stop_unwind and asyncify_start_rewind, matching
		// spec.md §4.C's "await happens here" step.
		c.pending = pending
		if err := c.startUnwind(ctx); err != nil {
			panic(err)
		}
		stack[0] = 0
	})
	c.memo.Store("import:"+name, wrapped)
	return wrapped
}

// WrapExport wraps a non-asyncify guest export per spec.md §4.C's
// export-wrapping algorithm: invoke, then loop while Unwinding, stopping
// the unwind, calling the pending result's Resolve that WrapImport stashed
// (its value or error is what the import returns on rewind), starting a
// rewind, and re-invoking the export with no arguments. The wrapper is
// memoised by export name.
func (c *Controller) WrapExport(name string) (func(ctx context.Context, args ...uint64) ([]uint64, error), error) {
	if v, ok := c.memo.Load("export:" + name); ok {
		return v.(func(ctx context.Context, args ...uint64) ([]uint64, error)), nil
	}
	fn := c.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("asyncify: no such export %q", name)
	}
	wrapped := func(ctx context.Context, args ...uint64) ([]uint64, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		state, err := c.getState(ctx)
		if err != nil {
			return nil, err
		}
		if state != StateNone {
			return nil, fmt.Errorf("asyncify: export %q invoked while controller is not idle", name)
		}

		results, err := fn.Call(ctx, args...)
		for {
			if err != nil {
				return nil, err
			}
			state, stateErr := c.getState(ctx)
			if stateErr != nil {
				return nil, stateErr
			}
			if state != StateUnwinding {
				break
			}
			if err := c.stopUnwind(ctx); err != nil {
				return nil, err
			}

			pending := c.pending
			c.pending = nil
			if pending == nil {
				return nil, fmt.Errorf("asyncify: guest unwound with no pending host resolution")
			}
			if v, resolveErr := pending.Resolve(ctx); resolveErr != nil {
				c.err = resolveErr
			} else {
				c.stash = v
			}

			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err := c.startRewind(ctx); err != nil {
				return nil, err
			}
			results, err = fn.Call(ctx) // no arguments: the guest recovers them from its saved stack
		}
		return results, nil
	}
	c.memo.Store("export:"+name, wrapped)
	return wrapped, nil
}
