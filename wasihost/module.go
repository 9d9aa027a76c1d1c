package wasihost

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wasihost/runtime/asyncify"
	"github.com/wasihost/runtime/wasip1"
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// call is one WASI import's body: decode args out of the raw param stack,
// run the Binding method, and report the resulting errno. mod.Memory() is
// looked up once per call rather than cached, since a guest may grow its
// memory between calls.
type call func(ctx context.Context, b *Binding, mod api.Module, args []uint64) wasip1.Errno

// imports enumerates the full wasi_snapshot_preview1 ABI surface (spec.md
// §4.D): name, parameter layout, and the glue that drives the Binding
// method. Every entry returns exactly one i32 result (the errno); proc_exit
// never returns because its Binding method panics.
var imports = []struct {
	name   string
	params []api.ValueType
	call   call
}{
	{"args_get", []api.ValueType{i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "args_get", func() error { return b.ArgsGet(mod.Memory(), u32(a[0]), u32(a[1])) })
	}},
	{"args_sizes_get", []api.ValueType{i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "args_sizes_get", func() error { return b.ArgsSizesGet(mod.Memory(), u32(a[0]), u32(a[1])) })
	}},
	{"environ_get", []api.ValueType{i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "environ_get", func() error { return b.EnvironGet(mod.Memory(), u32(a[0]), u32(a[1])) })
	}},
	{"environ_sizes_get", []api.ValueType{i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "environ_sizes_get", func() error { return b.EnvironSizesGet(mod.Memory(), u32(a[0]), u32(a[1])) })
	}},

	{"clock_res_get", []api.ValueType{i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "clock_res_get", func() error {
			return b.ClockResGet(ctx, mod.Memory(), wasip1.ClockID(u32(a[0])), u32(a[1]))
		})
	}},
	{"clock_time_get", []api.ValueType{i32, i64, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "clock_time_get", func() error {
			return b.ClockTimeGet(ctx, mod.Memory(), wasip1.ClockID(u32(a[0])), a[1], u32(a[2]))
		})
	}},

	{"fd_advise", []api.ValueType{i32, i64, i64, i32}, nosys("fd_advise")},
	{"fd_allocate", []api.ValueType{i32, i64, i64}, nosys("fd_allocate")},
	{"fd_close", []api.ValueType{i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_close", func() error { return b.FdClose(ctx, u32(a[0])) })
	}},
	{"fd_datasync", []api.ValueType{i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_datasync", func() error { return b.FdDatasync(ctx, u32(a[0])) })
	}},
	{"fd_fdstat_get", []api.ValueType{i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_fdstat_get", func() error { return b.FdFdstatGet(ctx, mod.Memory(), u32(a[0]), u32(a[1])) })
	}},
	{"fd_fdstat_set_flags", []api.ValueType{i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_fdstat_set_flags", func() error {
			return b.FdFdstatSetFlags(ctx, u32(a[0]), wasip1.Fdflags(u32(a[1])))
		})
	}},
	{"fd_fdstat_set_rights", []api.ValueType{i32, i64, i64}, nosys("fd_fdstat_set_rights")},
	{"fd_filestat_get", []api.ValueType{i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_filestat_get", func() error { return b.FdFilestatGet(ctx, mod.Memory(), u32(a[0]), u32(a[1])) })
	}},
	{"fd_filestat_set_size", []api.ValueType{i32, i64}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_filestat_set_size", func() error { return b.FdFilestatSetSize(ctx, u32(a[0]), a[1]) })
	}},
	{"fd_filestat_set_times", []api.ValueType{i32, i64, i64, i32}, nosys("fd_filestat_set_times")},
	{"fd_pread", []api.ValueType{i32, i32, i32, i64, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_pread", func() error {
			return b.FdPread(ctx, mod.Memory(), u32(a[0]), u32(a[1]), u32(a[2]), a[3], u32(a[4]))
		})
	}},
	{"fd_prestat_get", []api.ValueType{i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_prestat_get", func() error { return b.FdPrestatGet(ctx, mod.Memory(), u32(a[0]), u32(a[1])) })
	}},
	{"fd_prestat_dir_name", []api.ValueType{i32, i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_prestat_dir_name", func() error {
			return b.FdPrestatDirName(ctx, mod.Memory(), u32(a[0]), u32(a[1]), u32(a[2]))
		})
	}},
	{"fd_pwrite", []api.ValueType{i32, i32, i32, i64, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_pwrite", func() error {
			return b.FdPwrite(ctx, mod.Memory(), u32(a[0]), u32(a[1]), u32(a[2]), a[3], u32(a[4]))
		})
	}},
	{"fd_read", []api.ValueType{i32, i32, i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_read", func() error {
			return b.FdRead(ctx, mod.Memory(), u32(a[0]), u32(a[1]), u32(a[2]), u32(a[3]))
		})
	}},
	{"fd_readdir", []api.ValueType{i32, i32, i32, i64, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_readdir", func() error {
			return b.FdReaddir(ctx, mod.Memory(), u32(a[0]), u32(a[1]), u32(a[2]), wasip1.Dircookie(a[3]), u32(a[4]))
		})
	}},
	{"fd_renumber", []api.ValueType{i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_renumber", func() error { return b.FdRenumber(ctx, u32(a[0]), u32(a[1])) })
	}},
	{"fd_seek", []api.ValueType{i32, i64, i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_seek", func() error {
			return b.FdSeek(ctx, mod.Memory(), u32(a[0]), int64(a[1]), wasip1.Whence(u32(a[2])), u32(a[3]))
		})
	}},
	{"fd_sync", []api.ValueType{i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_sync", func() error { return b.FdSync(ctx, u32(a[0])) })
	}},
	{"fd_tell", []api.ValueType{i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_tell", func() error { return b.FdTell(ctx, mod.Memory(), u32(a[0]), u32(a[1])) })
	}},
	{"fd_write", []api.ValueType{i32, i32, i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "fd_write", func() error {
			return b.FdWrite(ctx, mod.Memory(), u32(a[0]), u32(a[1]), u32(a[2]), u32(a[3]))
		})
	}},

	{"path_create_directory", []api.ValueType{i32, i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "path_create_directory", func() error {
			return b.PathCreateDirectory(ctx, mod.Memory(), u32(a[0]), u32(a[1]), u32(a[2]))
		})
	}},
	{"path_filestat_get", []api.ValueType{i32, i32, i32, i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "path_filestat_get", func() error {
			return b.PathFilestatGet(ctx, mod.Memory(), u32(a[0]), wasip1.Lookupflags(u32(a[1])), u32(a[2]), u32(a[3]), u32(a[4]))
		})
	}},
	{"path_filestat_set_times", []api.ValueType{i32, i32, i32, i32, i64, i64, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "path_filestat_set_times", func() error { return b.PathFilestatSetTimes(ctx) })
	}},
	{"path_link", []api.ValueType{i32, i32, i32, i32, i32, i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "path_link", func() error { return b.PathLink(ctx) })
	}},
	{"path_open", []api.ValueType{i32, i32, i32, i32, i32, i64, i64, i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "path_open", func() error {
			return b.PathOpen(ctx, mod.Memory(), u32(a[0]), wasip1.Lookupflags(u32(a[1])), u32(a[2]), u32(a[3]),
				wasip1.Oflags(u32(a[4])), wasip1.Rights(a[5]), wasip1.Rights(a[6]), wasip1.Fdflags(u32(a[7])), u32(a[8]))
		})
	}},
	{"path_readlink", []api.ValueType{i32, i32, i32, i32, i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "path_readlink", func() error { return b.PathReadlink(ctx) })
	}},
	{"path_remove_directory", []api.ValueType{i32, i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "path_remove_directory", func() error {
			return b.PathRemoveDirectory(ctx, mod.Memory(), u32(a[0]), u32(a[1]), u32(a[2]))
		})
	}},
	{"path_rename", []api.ValueType{i32, i32, i32, i32, i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "path_rename", func() error { return b.PathRename(ctx) })
	}},
	{"path_symlink", []api.ValueType{i32, i32, i32, i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "path_symlink", func() error { return b.PathSymlink(ctx) })
	}},
	{"path_unlink_file", []api.ValueType{i32, i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "path_unlink_file", func() error {
			return b.PathUnlinkFile(ctx, mod.Memory(), u32(a[0]), u32(a[1]), u32(a[2]))
		})
	}},

	{"poll_oneoff", []api.ValueType{i32, i32, i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "poll_oneoff", func() error {
			return b.PollOneoff(ctx, mod.Memory(), u32(a[0]), u32(a[1]), u32(a[2]), u32(a[3]))
		})
	}},
	{"random_get", []api.ValueType{i32, i32}, func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, "random_get", func() error { return b.RandomGet(ctx, mod.Memory(), u32(a[0]), u32(a[1])) })
	}},

	// sock_* is out of scope for this host: spec.md's pre-opens model a
	// filesystem tree, not a network namespace.
	{"sock_accept", []api.ValueType{i32, i32, i32}, nosys("sock_accept")},
	{"sock_recv", []api.ValueType{i32, i32, i32, i32, i32, i32}, nosys("sock_recv")},
	{"sock_send", []api.ValueType{i32, i32, i32, i32, i32}, nosys("sock_send")},
	{"sock_shutdown", []api.ValueType{i32, i32}, nosys("sock_shutdown")},
}

func u32(v uint64) uint32 { return uint32(v) }

func nosys(name string) call {
	return func(ctx context.Context, b *Binding, mod api.Module, a []uint64) wasip1.Errno {
		return dispatch(ctx, b.Log, name, func() error { return wasip1.NewSystemError(wasip1.ENOSYS) })
	}
}

// Instantiate registers every wasi_snapshot_preview1 import under
// ModuleName, each wrapped through ctrl so that a blocking Binding call
// suspends the guest via the asyncify trampoline (package asyncify) instead
// of blocking the host's call into wazero. proc_exit is deliberately
// excluded from this uniform table: it never returns a value, and its
// Binding method panics an *wasip1.ExitStatus instead.
func Instantiate(ctx context.Context, r wazero.Runtime, b *Binding, ctrl *asyncify.Controller) (api.Module, error) {
	builder := r.NewHostModuleBuilder(ModuleName)
	for _, imp := range imports {
		imp := imp
		body := asyncify.ImportFunc(func(ctx context.Context, mod api.Module, args []uint64) (uint64, *asyncify.PendingResult, error) {
			return 0, &asyncify.PendingResult{
				Resolve: func(ctx context.Context) (uint64, error) {
					return uint64(imp.call(ctx, b, mod, args)), nil
				},
			}, nil
		})
		builder.NewFunctionBuilder().
			WithGoModuleFunction(ctrl.WrapImport(imp.name, body), imp.params, []api.ValueType{i32}).
			Export(imp.name)
	}
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			b.ProcExit(ctx, u32(stack[0]))
		}), []api.ValueType{i32}, nil).
		Export("proc_exit")

	return builder.Instantiate(ctx)
}
