// Package invoke is the Invocation Driver (spec.md §4.E): it assembles a
// fd table, a WASI binding, and an Asyncify controller around one guest
// module instantiation, calls the requested export, and turns proc_exit
// or a natural return into a process exit code.
//
// Grounded on the teacher's cmd/wazero/wazero.go (compile/instantiate
// shape, *sys.ExitError handling), restructured as a reusable library call
// rather than a main function.
package invoke

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"

	"github.com/wasihost/runtime/asyncify"
	"github.com/wasihost/runtime/fdtable"
	"github.com/wasihost/runtime/hostfs"
	"github.com/wasihost/runtime/hostfs/osfs"
	"github.com/wasihost/runtime/wasip1"
	"github.com/wasihost/runtime/wasihost"
)

// Mount binds a guest-visible absolute path to a host filesystem
// collaborator (spec.md §6.3's FS contract; hostfs/osfs is the one
// in-repo implementation of a real OS directory).
type Mount struct {
	GuestPath string
	FS        hostfs.FS
}

// Config is everything one invocation needs. It is a plain struct rather
// than CLI-flag-bound so invoke.Run is usable as a library independent of
// cmd/wasihost.
type Config struct {
	Wasm    []byte
	Mounts  []Mount
	Argv    []string
	Environ []string

	Stdin  wasihost.Stdin
	Stdout wasihost.Stdout
	Stderr wasihost.Stdout

	Clock wasihost.Clock
	Rand  io.Reader
	Log   *logrus.Logger

	// Export, if non-empty, names the guest export to invoke instead of
	// the default "_start".
	Export string
}

// Run instantiates the guest, wires its WASI imports through an Asyncify
// controller, invokes the requested export, and reports the process's exit
// code. A *wasip1.ExitStatus raised by proc_exit is the ordinary way this
// returns a nonzero code; any other error is a host or guest failure.
func Run(ctx context.Context, cfg Config) (exitCode int, err error) {
	log := cfg.Log
	if log == nil {
		log = logrus.New()
	}
	entry := log.WithField("run_id", uuid.NewString())

	clock := cfg.Clock
	if clock == nil {
		clock = osfs.NewSystemClock()
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.Reader
	}

	preOpens := make([]*fdtable.PreOpen, 0, len(cfg.Mounts))
	for _, m := range cfg.Mounts {
		root, rerr := m.FS.Root(ctx)
		if rerr != nil {
			return 1, errors.Wrapf(rerr, "mounting %s", m.GuestPath)
		}
		preOpens = append(preOpens, &fdtable.PreOpen{Path: m.GuestPath, Root: root, FS: m.FS})
	}
	table := fdtable.NewTable(preOpens)

	streams := wasihost.Streams{Stdin: cfg.Stdin, Stdout: cfg.Stdout, Stderr: cfg.Stderr}
	binding := wasihost.NewBinding(table, streams, cfg.Argv, cfg.Environ, clock, rnd, entry)

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	compiled, cerr := r.CompileModule(ctx, cfg.Wasm)
	if cerr != nil {
		return 1, errors.Wrap(cerr, "compiling guest module")
	}

	// The controller must exist before the guest is instantiated: its
	// WrapImport calls are what the host module builder exports, and the
	// guest's instantiation is what resolves those imports (spec.md §9's
	// cyclic-references note). It is bound to the real module via Init
	// once instantiation produces one.
	ctrl := asyncify.NewController()
	if _, ierr := wasihost.Instantiate(ctx, r, binding, ctrl); ierr != nil {
		return 1, errors.Wrap(ierr, "registering wasi host module")
	}

	mod, merr := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if merr != nil {
		return 1, errors.Wrap(merr, "instantiating guest module")
	}

	if ierr := ctrl.Init(ctx, mod); ierr != nil {
		return 1, errors.Wrap(ierr, "initializing asyncify controller")
	}

	exportName := cfg.Export
	if exportName == "" {
		exportName = "_start"
	}

	exitCode, err = invokeExport(ctx, ctrl, exportName)
	entry.WithField("exit_code", exitCode).Debug("invocation complete")
	return exitCode, err
}

// invokeExport calls the named export through the controller's
// unwind/rewind loop and translates a *wasip1.ExitStatus — however it
// surfaces, as a recovered panic or as a wrapped error — into a process
// exit code. Any other failure is returned as-is.
func invokeExport(ctx context.Context, ctrl *asyncify.Controller, name string) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			if exit, ok := r.(*wasip1.ExitStatus); ok {
				code, err = int(exit.Code), nil
				return
			}
			panic(r)
		}
	}()

	wrapped, werr := ctrl.WrapExport(name)
	if werr != nil {
		return 1, werr
	}
	_, callErr := wrapped(ctx)
	if callErr == nil {
		return 0, nil
	}
	var exit *wasip1.ExitStatus
	if errors.As(callErr, &exit) {
		return int(exit.Code), nil
	}
	return 1, fmt.Errorf("invoking %q: %w", name, callErr)
}
