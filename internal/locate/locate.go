// Package locate finds the Portable PDB that matches an assembly: the
// embedded stream, the CodeView-recorded file, or a candidate from the
// symbols/extracted directory trees. Not finding one is the common case and
// is not an error.
package locate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/blacktop/dotpdb/pkg/pe"
	"github.com/blacktop/dotpdb/pkg/tfm"
)

// Kind says where the PDB came from.
type Kind int

const (
	KindEmbedded Kind = iota
	KindFile
)

// Location is a found PDB, already read into memory.
type Location struct {
	Kind Kind
	Path string
	Data []byte
}

// Find resolves the PDB for an assembly. Resolution order: embedded stream,
// CodeView-recorded filename next to the assembly, assembly-base-name+".pdb",
// then the symbols and extracted trees (TFM-matched path first, bare filename
// second). Returns (nil, nil) when nothing matches.
func Find(f *pe.File, assemblyPath, symbolsDir, extractedDir string) (*Location, error) {
	if data, err := f.EmbeddedPdb(); err != nil {
		return nil, errors.Wrap(err, "embedded PDB is corrupt")
	} else if data != nil {
		log.WithField("assembly", filepath.Base(assemblyPath)).Debug("using embedded PDB stream")
		return &Location{Kind: KindEmbedded, Path: assemblyPath, Data: data}, nil
	}

	pdbName := pdbFileName(f, assemblyPath)
	asmDir := filepath.Dir(assemblyPath)

	for _, candidate := range []string{
		filepath.Join(asmDir, pdbName),
		filepath.Join(asmDir, baseName(assemblyPath)+".pdb"),
	} {
		if loc := tryRead(candidate); loc != nil {
			return loc, nil
		}
	}

	hint := frameworkHint(assemblyPath)
	for _, dir := range []string{symbolsDir, extractedDir} {
		if dir == "" {
			continue
		}
		if loc := searchTree(dir, pdbName, hint); loc != nil {
			return loc, nil
		}
	}

	return nil, nil
}

func pdbFileName(f *pe.File, assemblyPath string) string {
	if f.CodeViewPath != "" {
		p := strings.ReplaceAll(f.CodeViewPath, `\`, "/")
		return filepath.Base(p)
	}
	return baseName(assemblyPath) + ".pdb"
}

func baseName(path string) string {
	b := filepath.Base(path)
	return strings.TrimSuffix(b, filepath.Ext(b))
}

// frameworkHint pulls the TFM segment out of a lib/<tfm>/Foo.dll style path.
func frameworkHint(assemblyPath string) string {
	for _, seg := range strings.Split(filepath.ToSlash(assemblyPath), "/") {
		if tfm.IsMoniker(seg) {
			return strings.ToLower(seg)
		}
	}
	return ""
}

// searchTree walks dir for pdbName, preferring candidates whose relative path
// contains the TFM hint over bare filename matches.
func searchTree(dir, pdbName, hint string) *Location {
	var tfmMatch, nameMatch string
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !strings.EqualFold(d.Name(), pdbName) {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		if hint != "" && strings.Contains(strings.ToLower(filepath.ToSlash(rel)), hint) {
			if tfmMatch == "" {
				tfmMatch = path
			}
		} else if nameMatch == "" {
			nameMatch = path
		}
		return nil
	})

	if tfmMatch != "" {
		return tryRead(tfmMatch)
	}
	if nameMatch != "" {
		return tryRead(nameMatch)
	}
	return nil
}

func tryRead(path string) *Location {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	log.WithField("pdb", path).Debug("found external PDB")
	return &Location{Kind: KindFile, Path: path, Data: data}
}
