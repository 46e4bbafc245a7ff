// Package extract resolves the content of every PDB document: embedded
// source is inflated in place, external documents go through Source Link and
// the bounded download pool, and anything left over falls back to the
// decompiled skeleton when that is enabled. Document order always mirrors the
// PDB document table.
package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/blacktop/dotpdb/internal/download"
	"github.com/blacktop/dotpdb/internal/utils"
	"github.com/blacktop/dotpdb/pkg/decompile"
	"github.com/blacktop/dotpdb/pkg/ppdb"
	"github.com/blacktop/dotpdb/pkg/sourcelink"
)

// Document is one resolved source document.
type Document struct {
	Path        string // original compiled-in path
	DestPath    string // normalized path relative to the destination root
	Content     []byte // nil when unresolved
	IsEmbedded  bool
	ResolvedURL string
	Decompiled  bool   // content regenerated from metadata, lower fidelity
	Error       string // why the document stayed unresolved
}

// Options configures an extraction pass.
type Options struct {
	DestDir     string // "" keeps content in memory only
	PackageName string // leading path segment to strip during normalization

	SourceLink *sourcelink.SourceLink // nil when the PDB had no Source Link record
	Fetcher    *download.Fetcher

	// Decompile enables the metadata-skeleton fallback; it is off by default
	// because the output is explicitly lower fidelity.
	Decompile        bool
	AssemblyMetadata []byte
}

// Run resolves all documents. Failures are isolated per document; the only
// error returned is a destination-write failure or a cancelled context.
func Run(ctx context.Context, docs []ppdb.Document, opts Options) ([]Document, error) {
	out := make([]Document, len(docs))

	var pending []int // indexes awaiting download
	var urls []string

	for i, d := range docs {
		out[i] = Document{
			Path:     d.Name,
			DestPath: NormalizeDestPath(d.Name, opts.PackageName),
		}
		if d.EmbeddedSource != nil {
			content, err := ppdb.DecodeEmbeddedSource(d.EmbeddedSource)
			if err != nil {
				// corrupt record: skip it, keep the rest
				out[i].Error = err.Error()
				log.WithError(err).WithField("document", d.Name).Warn("bad embedded source record")
				continue
			}
			out[i].IsEmbedded = true
			out[i].Content = content
			continue
		}
		if opts.SourceLink != nil {
			if url := opts.SourceLink.Resolve(d.Name); url != "" {
				out[i].ResolvedURL = url
				pending = append(pending, i)
				urls = append(urls, url)
				continue
			}
		}
		out[i].Error = "no embedded source and no Source Link pattern matched"
	}

	if len(urls) > 0 && opts.Fetcher != nil {
		utils.Indent(log.Info, 1)("downloading Source Link documents")
		for j, res := range opts.Fetcher.FetchAll(ctx, urls) {
			i := pending[j]
			if res.Err != nil {
				out[i].Error = res.Err.Error()
				continue
			}
			out[i].Content = res.Data
		}
	}

	if opts.Decompile && opts.AssemblyMetadata != nil {
		fillDecompiled(out, opts.AssemblyMetadata)
	}

	for i := range out {
		if out[i].Content == nil {
			log.WithFields(log.Fields{
				"document": out[i].Path,
				"reason":   out[i].Error,
			}).Warn("source document unresolved")
		}
	}

	if opts.DestDir != "" {
		if err := writeAll(out, opts.DestDir); err != nil {
			return out, err
		}
	}
	return out, ctx.Err()
}

// fillDecompiled regenerates skeleton source for still-unresolved documents.
// The skeleton is per namespace; a document is matched to the namespace unit
// that defines a type named like the file, falling back to the global unit.
func fillDecompiled(out []Document, metadataImage []byte) {
	units, err := decompile.Skeleton(metadataImage)
	if err != nil {
		log.WithError(err).Warn("decompilation fallback failed")
		return
	}
	for i := range out {
		if out[i].Content != nil {
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(out[i].DestPath), filepath.Ext(out[i].DestPath))
		content := units[""]
		for _, unit := range units {
			if strings.Contains(unit, " "+stem+"\n") || strings.Contains(unit, " "+stem+" ") {
				content = unit
				break
			}
		}
		if content == "" {
			continue
		}
		out[i].Content = []byte(content)
		out[i].Decompiled = true
		out[i].Error = ""
	}
}

func writeAll(docs []Document, destDir string) error {
	for _, d := range docs {
		if d.Content == nil || d.DestPath == "" {
			continue
		}
		dest := filepath.Join(destDir, filepath.FromSlash(d.DestPath))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return errors.Wrapf(err, "cannot create %s", filepath.Dir(dest))
		}
		// content is fully in memory; a single WriteFile keeps cancellation
		// from leaving partial files
		if err := os.WriteFile(dest, d.Content, 0o644); err != nil {
			return errors.Wrapf(err, "cannot write %s", dest)
		}
	}
	return nil
}

// knownRoots are compiled-in path prefixes stripped during normalization.
var knownRoots = []string{"_/src/", "/_/src/", "src/"}

// NormalizeDestPath maps a compiled-in document path to a destination-
// relative one: separators normalized, known root prefixes and the leading
// package-name segment stripped, drive letters and leading slashes dropped.
func NormalizeDestPath(docPath, packageName string) string {
	p := strings.ReplaceAll(docPath, `\`, "/")
	if len(p) > 2 && p[1] == ':' {
		p = p[2:]
	}
	p = strings.TrimPrefix(p, "/")

	lower := strings.ToLower(p)
	for _, root := range knownRoots {
		root = strings.TrimPrefix(root, "/")
		if strings.HasPrefix(lower, root) {
			p = p[len(root):]
			lower = lower[len(root):]
			break
		}
	}

	if packageName != "" {
		first, rest, ok := strings.Cut(p, "/")
		if ok && strings.EqualFold(first, packageName) {
			p = rest
		}
	}

	return strings.TrimPrefix(p, "/")
}
