// Package rebuild runs the full reconstruction pipeline for one assembly:
// classify its debug configuration, locate the matching Portable PDB, decode
// the custom-debug-information records, rebuild the compiler invocation, and
// resolve sources and embedded resources into a CompilationRecord.
package rebuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/blacktop/dotpdb/internal/download"
	"github.com/blacktop/dotpdb/internal/extract"
	"github.com/blacktop/dotpdb/internal/locate"
	"github.com/blacktop/dotpdb/internal/utils"
	"github.com/blacktop/dotpdb/pkg/args"
	"github.com/blacktop/dotpdb/pkg/identity"
	"github.com/blacktop/dotpdb/pkg/metadata"
	"github.com/blacktop/dotpdb/pkg/pe"
	"github.com/blacktop/dotpdb/pkg/ppdb"
	"github.com/blacktop/dotpdb/pkg/sourcelink"
)

// ResourceBlob is one embedded manifest resource.
type ResourceBlob struct {
	Name   string
	Public bool
	Data   []byte
}

// CompilationRecord aggregates everything recovered for one assembly.
// Reference and source ordering mirrors the binary encoding order exactly;
// ownership passes to the caller (typically an archive writer) once built.
type CompilationRecord struct {
	AssemblyPath string

	Classification pe.Classification
	Identity       *identity.Identity

	CompilerArguments  []string
	MetadataReferences []ppdb.Reference
	TargetFramework    string
	SourceFiles        []extract.Document
	EmbeddedResources  []ResourceBlob

	PdbPath string // external PDB path, "" when embedded or absent

	// Diagnostics collects per-record decode problems and missing-data
	// explanations; none of them abort the pipeline.
	Diagnostics []string
}

// ArchiveWriter receives completed records. The container format itself is
// somebody else's problem.
type ArchiveWriter interface {
	WriteRecord(ctx context.Context, rec *CompilationRecord) error
}

// Options configures a pipeline run.
type Options struct {
	SymbolsDir   string // symbols-extraction tree ("symbols/")
	ExtractedDir string // package-extraction tree ("extracted/")
	SourcesDir   string // where resolved sources get written; "" = in memory
	PackageName  string

	ExtractSources bool
	Decompile      bool

	Proxy    string
	Insecure bool
}

// Run processes one assembly. Only a non-PE input aborts; everything else
// degrades to partial results with diagnostics.
func Run(ctx context.Context, assemblyPath string, opts Options) (*CompilationRecord, error) {
	data, err := os.ReadFile(assemblyPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %s", assemblyPath)
	}

	f, err := pe.Parse(data)
	if err != nil {
		return nil, err // ErrNotPE wraps the detail; caller skips this assembly
	}

	rec := &CompilationRecord{
		AssemblyPath:   assemblyPath,
		Classification: f.Classify(),
	}

	log.WithFields(log.Fields{
		"assembly": filepath.Base(assemblyPath),
		"debug":    rec.Classification.Kind.String(),
	}).Info("classified")

	if id, err := identity.Analyze(f); err != nil {
		rec.diag("identity: %v", err)
	} else {
		rec.Identity = id
	}

	// resources live in the assembly itself, so they survive a missing PDB
	rec.EmbeddedResources = readResources(f)

	loc, err := locate.Find(f, assemblyPath, opts.SymbolsDir, opts.ExtractedDir)
	if err != nil {
		rec.diag("pdb: %v", err)
	}
	if loc == nil {
		// absence of symbols is the common case, but it must be explained
		rec.diag("no portable PDB found for %s (no embedded stream, no %s)",
			filepath.Base(assemblyPath), filepath.Base(assemblyPath)+".pdb")
		rec.CompilerArguments = args.Reconstruct(nil, rec.Classification, "").Arguments
		return rec, nil
	}
	if loc.Kind == locate.KindFile {
		rec.PdbPath = loc.Path
	}

	pdb, err := ppdb.Open(loc.Data)
	if err != nil {
		rec.diag("pdb: %v", err)
		rec.CompilerArguments = args.Reconstruct(nil, rec.Classification, "").Arguments
		return rec, nil
	}
	if id := pdb.ID(); id != nil && f.HasCodeView {
		cv := metadata.GUIDBytes(f.CodeViewGUID)
		for i := range cv {
			if id[i] != cv[i] {
				rec.diag("PDB identity does not match the CodeView record (stale symbols?)")
				break
			}
		}
	}

	var tokens []string
	var sl *sourcelink.SourceLink
	for _, r := range pdb.ModuleRecords() {
		switch r.Kind {
		case ppdb.KindCompilationOptions:
			tokens = ppdb.DecodeCompilationOptions(r.Blob)
		case ppdb.KindMetadataReferences:
			refs, err := ppdb.ParseReferences(r.Blob, ppdb.RefBlobNulTerminated)
			if err != nil {
				rec.diag("metadata references: %v", err)
			}
			rec.MetadataReferences = refs
		case ppdb.KindSourceLink:
			parsed, err := sourcelink.Parse(r.Blob)
			if err != nil {
				rec.diag("source link: %v", err)
				continue
			}
			sl = parsed
		}
	}

	res := args.Reconstruct(tokens, rec.Classification, rec.PdbPath)
	rec.CompilerArguments = res.Arguments
	rec.TargetFramework = res.TargetFramework

	utils.Indent(log.WithFields(log.Fields{
		"args": len(rec.CompilerArguments),
		"refs": len(rec.MetadataReferences),
	}).Info, 1)("reconstructed compiler invocation")

	docs, err := pdb.Documents()
	if err != nil {
		rec.diag("documents: %v", err)
	}
	if opts.ExtractSources && len(docs) > 0 {
		sources, err := extract.Run(ctx, docs, extract.Options{
			DestDir:          opts.SourcesDir,
			PackageName:      opts.PackageName,
			SourceLink:       sl,
			Fetcher:          download.NewFetcher(opts.Proxy, opts.Insecure),
			Decompile:        opts.Decompile,
			AssemblyMetadata: f.Metadata(),
		})
		if err != nil {
			return rec, err
		}
		rec.SourceFiles = sources
	} else {
		for _, d := range docs {
			rec.SourceFiles = append(rec.SourceFiles, extract.Document{
				Path:       d.Name,
				DestPath:   extract.NormalizeDestPath(d.Name, opts.PackageName),
				IsEmbedded: d.EmbeddedSource != nil,
			})
		}
	}

	return rec, nil
}

func (r *CompilationRecord) diag(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	r.Diagnostics = append(r.Diagnostics, msg)
	log.Debug(msg)
}

// readResources pulls embedded manifest resources out of the assembly's own
// metadata; linked (file-based) resources are left alone.
func readResources(f *pe.File) []ResourceBlob {
	raw := f.Metadata()
	if raw == nil {
		return nil
	}
	md, err := metadata.Parse(raw)
	if err != nil || md.Tables == nil {
		return nil
	}

	var out []ResourceBlob
	t := md.Tables
	for row := uint32(1); row <= t.RowCount(metadata.TblManifestResource); row++ {
		impl, err := t.Uint(metadata.TblManifestResource, 3, row)
		if err != nil || impl != 0 {
			continue // not embedded in this image
		}
		off, err := t.Uint(metadata.TblManifestResource, 0, row)
		if err != nil {
			continue
		}
		flags, _ := t.Uint(metadata.TblManifestResource, 1, row)
		nameOff, _ := t.Uint(metadata.TblManifestResource, 2, row)

		data, err := f.ResourceAt(off)
		if err != nil {
			log.WithError(err).Warn("skipping unreadable manifest resource")
			continue
		}
		out = append(out, ResourceBlob{
			Name:   md.String(nameOff),
			Public: flags&0x1 != 0,
			Data:   data,
		})
	}
	return out
}
