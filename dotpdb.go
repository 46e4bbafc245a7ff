// Package dotpdb reconstructs the compiler invocation that produced a
// compiled .NET assembly from its Portable PDB: argument list, metadata
// references, embedded resources, and source files (embedded, Source Link,
// or a decompiled skeleton).
//
// The heavy lifting lives in the sub-packages; this package is the
// one-import surface for embedders.
package dotpdb

import (
	"context"

	"github.com/blacktop/dotpdb/internal/commands/rebuild"
)

// Options configures a reconstruction run. See rebuild.Options.
type Options = rebuild.Options

// CompilationRecord aggregates everything recovered for one assembly.
type CompilationRecord = rebuild.CompilationRecord

// ArchiveWriter receives completed records.
type ArchiveWriter = rebuild.ArchiveWriter

// Rebuild processes one assembly and returns its compilation record.
func Rebuild(ctx context.Context, assemblyPath string, opts Options) (*CompilationRecord, error) {
	return rebuild.Run(ctx, assemblyPath, opts)
}
