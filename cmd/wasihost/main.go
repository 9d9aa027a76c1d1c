// Command wasihost runs a WASI snapshot_preview1 guest module against the
// Asyncify host runtime, per spec.md §4.F's process entry point.
//
// Grounded on the teacher's cmd/wazero/wazero.go for the overall
// compile/mount/run/exit-code shape, restructured around invoke.Run and the
// urfave/cli/v3 command surface seen in bytecodealliance-wasm-tools-go's
// cmd/wit-bindgen-go.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/wasihost/runtime/hostfs/osfs"
	"github.com/wasihost/runtime/internal/buildinfo"
	"github.com/wasihost/runtime/invoke"
	"github.com/wasihost/runtime/wasihost"
)

func main() {
	cmd := &cli.Command{
		Name:      "wasihost",
		Usage:     "run a WASI preview1 guest module against an asyncify host filesystem",
		ArgsUsage: "<module.wasm> [guest args...]",
		Version:   buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "dir",
				Aliases: []string{"mount"},
				Usage:   "expose a host directory to the guest, as <host path>[:<guest path>]; may be repeated",
			},
			&cli.StringSliceFlag{
				Name:  "env",
				Usage: "key=value pair to expose in the guest's environ; may be repeated",
			},
			&cli.StringFlag{
				Name:  "export",
				Usage: "guest export to invoke instead of _start",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
			&cli.BoolFlag{
				Name:    "vv",
				Usage:   "enable trace-level logging",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "wasihost:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() < 1 {
		return cli.Exit("missing path to wasm module", 1)
	}
	wasmPath := cmd.Args().First()
	guestArgs := cmd.Args().Slice()[1:]

	wasm, err := os.ReadFile(wasmPath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("reading wasm module: %v", err), 1)
	}

	log := logrus.New()
	switch {
	case cmd.Bool("vv"):
		log.SetLevel(logrus.TraceLevel)
	case cmd.Bool("verbose"):
		log.SetLevel(logrus.DebugLevel)
	default:
		log.SetLevel(logrus.WarnLevel)
	}

	mounts, err := parseMounts(cmd.StringSlice("dir"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	env := os.Environ()
	for _, kv := range cmd.StringSlice("env") {
		env = append(env, kv)
	}

	exitCode, err := invoke.Run(ctx, invoke.Config{
		Wasm:    wasm,
		Mounts:  mounts,
		Argv:    append([]string{wasmPath}, guestArgs...),
		Environ: env,
		Stdin:   stdio{os.Stdin},
		Stdout:  stdio{os.Stdout},
		Stderr:  stdio{os.Stderr},
		Log:     log,
		Export:  cmd.String("export"),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "wasihost:", err)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

// parseMounts turns repeated --dir flags of the form "<host>[:<guest>]"
// into invoke.Mount values. A spec without ":" is mounted at guest path
// "/"; a guest path without a leading "/" gets one prepended.
func parseMounts(specs []string) ([]invoke.Mount, error) {
	var mounts []invoke.Mount
	for _, spec := range specs {
		host, guest := spec, "/"
		if i := strings.LastIndexByte(spec, ':'); i >= 0 {
			host, guest = spec[:i], spec[i+1:]
		}
		if !strings.HasPrefix(guest, "/") {
			guest = "/" + guest
		}
		fs, err := osfs.New(host)
		if err != nil {
			return nil, fmt.Errorf("mounting %s: %w", spec, err)
		}
		mounts = append(mounts, invoke.Mount{GuestPath: guest, FS: fs})
	}
	return mounts, nil
}

// stdio adapts an *os.File to wasihost's ctx-aware Stdin/Stdout, per
// spec.md §6.4: a real file's Read/Write already only blocks the calling
// goroutine, so ctx cancellation is honored best-effort before the call
// rather than by interrupting an in-flight syscall.
type stdio struct{ f *os.File }

func (s stdio) Read(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.f.Read(p)
}

func (s stdio) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.f.Write(p)
}

var _ wasihost.Stdin = stdio{}
var _ wasihost.Stdout = stdio{}
