// Package decompile regenerates approximate C# source from an assembly's
// type-system tables. It is the last-resort document fallback when a PDB
// document has neither embedded source nor a resolvable Source Link URL:
// namespaces, type and member names survive, bodies do not. Output is
// explicitly lower fidelity and is labeled as such.
package decompile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/blacktop/dotpdb/pkg/metadata"
)

// Header prefixes every regenerated file so nobody mistakes it for the
// compiled source.
const Header = "// Decompiled skeleton: regenerated from metadata, lower fidelity than original source.\n"

const (
	typeAttrInterface     = 0x0020
	typeAttrVisibilityPub = 0x0001
	methodAttrStatic      = 0x0010
)

// Skeleton renders one approximate C# compilation unit per namespace from
// the TypeDef/MethodDef tables of the assembly metadata. Keys of the result
// are namespace names ("" for the global namespace).
func Skeleton(metadataImage []byte) (map[string]string, error) {
	md, err := metadata.Parse(metadataImage)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse assembly metadata")
	}
	t := md.Tables
	if t == nil {
		return nil, errors.New("assembly metadata has no table stream")
	}

	nTypes := t.RowCount(metadata.TblTypeDef)
	nMethods := t.RowCount(metadata.TblMethodDef)

	byNamespace := make(map[string][]string)
	for row := uint32(1); row <= nTypes; row++ {
		flags, err := t.Uint(metadata.TblTypeDef, 0, row)
		if err != nil {
			continue
		}
		nameOff, _ := t.Uint(metadata.TblTypeDef, 1, row)
		nsOff, _ := t.Uint(metadata.TblTypeDef, 2, row)
		name := md.String(nameOff)
		if name == "" || name == "<Module>" {
			continue
		}
		ns := md.String(nsOff)

		methods := methodRange(t, row, nTypes, nMethods)

		var b strings.Builder
		vis := "internal"
		if flags&typeAttrVisibilityPub != 0 {
			vis = "public"
		}
		kw := "class"
		if flags&typeAttrInterface != 0 {
			kw = "interface"
		}
		fmt.Fprintf(&b, "%s %s %s\n{\n", vis, kw, name)
		for _, m := range methods {
			mName := methodName(md, t, m)
			if mName == "" || strings.HasPrefix(mName, ".") {
				continue // skip .ctor/.cctor noise in a skeleton
			}
			static := ""
			if mflags, err := t.Uint(metadata.TblMethodDef, 2, m); err == nil && mflags&methodAttrStatic != 0 {
				static = "static "
			}
			fmt.Fprintf(&b, "    %sobject %s(...) => throw null;\n", static, mName)
		}
		b.WriteString("}\n")

		byNamespace[ns] = append(byNamespace[ns], b.String())
	}

	out := make(map[string]string, len(byNamespace))
	for ns, types := range byNamespace {
		sort.Strings(types)
		var b strings.Builder
		b.WriteString(Header)
		if ns != "" {
			fmt.Fprintf(&b, "namespace %s;\n\n", ns)
		}
		b.WriteString(strings.Join(types, "\n"))
		out[ns] = b.String()
	}
	return out, nil
}

// methodRange resolves the [MethodList, next.MethodList) row span of a type.
func methodRange(t *metadata.TableStream, row, nTypes, nMethods uint32) []uint32 {
	start, err := t.Uint(metadata.TblTypeDef, 5, row)
	if err != nil || start == 0 {
		return nil
	}
	end := nMethods + 1
	if row < nTypes {
		if next, err := t.Uint(metadata.TblTypeDef, 5, row+1); err == nil && next != 0 {
			end = next
		}
	}
	var rows []uint32
	for m := start; m < end && m <= nMethods; m++ {
		rows = append(rows, m)
	}
	return rows
}

func methodName(md *metadata.Root, t *metadata.TableStream, row uint32) string {
	off, err := t.Uint(metadata.TblMethodDef, 3, row)
	if err != nil {
		return ""
	}
	return md.String(off)
}
