/*
Copyright © 2026 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/blacktop/dotpdb/internal/locate"
	"github.com/blacktop/dotpdb/pkg/identity"
	"github.com/blacktop/dotpdb/pkg/pe"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <ASSEMBLY>",
	Short: "Show debug classification and deterministic identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, cliArgs []string) error {
		if Verbose {
			log.SetLevel(log.DebugLevel)
		}

		assemblyPath := filepath.Clean(cliArgs[0])
		data, err := os.ReadFile(assemblyPath)
		if err != nil {
			return fmt.Errorf("cannot read %s: %v", assemblyPath, err)
		}

		f, err := pe.Parse(data)
		if err != nil {
			return err
		}
		class := f.Classify()

		fmt.Printf("Assembly:        %s\n", filepath.Base(assemblyPath))
		fmt.Printf("Debug type:      %s\n", class.Kind)
		fmt.Printf("Reproducible:    %t\n", class.HasReproducibleMarker)
		fmt.Printf("PDB checksum:    %t", class.HasPdbChecksum)
		if class.ChecksumAlgorithm != "" {
			fmt.Printf(" (%s)", class.ChecksumAlgorithm)
		}
		fmt.Println()
		if class.ReferencedPdbPath != "" {
			fmt.Printf("CodeView PDB:    %s\n", class.ReferencedPdbPath)
		}
		fmt.Printf("HighEntropyVA:   %t\n", class.HighEntropyVA)
		fmt.Printf("Compiler flags:  %s\n", strings.Join(class.ToCompilerFlags(""), " "))

		id, err := identity.Analyze(f)
		if err != nil {
			log.WithError(err).Warn("no deterministic identity (native image?)")
			return nil
		}
		fmt.Printf("MVID:            %s\n", id.MVID)
		fmt.Printf("PE timestamp:    %#08x\n", id.PETimestamp)
		if id.PublicKeyToken != nil {
			fmt.Printf("PublicKeyToken:  %s\n", hex.EncodeToString(id.PublicKeyToken))
		}

		switch loc, err := locate.Find(f, assemblyPath, "symbols", "extracted"); {
		case err != nil:
			log.WithError(err).Warn("PDB lookup failed")
		case loc == nil:
			fmt.Println("Portable PDB:    not found")
		case loc.Kind == locate.KindEmbedded:
			fmt.Println("Portable PDB:    embedded")
		default:
			fmt.Printf("Portable PDB:    %s\n", loc.Path)
		}

		return nil
	},
}
