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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blacktop/dotpdb/internal/commands/rebuild"
	"github.com/blacktop/dotpdb/pkg/pe"
)

func init() {
	rootCmd.AddCommand(rebuildCmd)

	rebuildCmd.Flags().String("symbols", "symbols", "Symbols-extraction directory to search for PDBs")
	rebuildCmd.Flags().String("extracted", "extracted", "Package-extraction directory to search for PDBs")
	rebuildCmd.Flags().StringP("output", "o", "", "Directory to write resolved sources to")
	rebuildCmd.Flags().Bool("sources", true, "Resolve source documents (embedded/Source Link)")
	rebuildCmd.Flags().Bool("decompile", false, "Regenerate skeleton source for unresolved documents (lower fidelity)")
	rebuildCmd.Flags().String("package", "", "Package name (strips the leading path segment of document paths)")
	rebuildCmd.Flags().String("proxy", "", "HTTP(s) proxy for Source Link downloads")
	rebuildCmd.Flags().Bool("insecure", false, "Do not verify TLS certificates")
	rebuildCmd.Flags().Bool("json", false, "Print the compilation record as JSON")
	viper.BindPFlag("rebuild.proxy", rebuildCmd.Flags().Lookup("proxy"))
	viper.BindPFlag("rebuild.insecure", rebuildCmd.Flags().Lookup("insecure"))
	rebuildCmd.MarkZshCompPositionalArgumentFile(1)
}

// rebuildCmd represents the rebuild command
var rebuildCmd = &cobra.Command{
	Use:   "rebuild <ASSEMBLY|EXTRACTED_DIR>",
	Short: "Reconstruct the compiler invocation that built an assembly",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, cliArgs []string) error {
		if Verbose {
			log.SetLevel(log.DebugLevel)
		}

		opts := rebuild.Options{
			SymbolsDir:   viperOrFlag(cmd, "symbols"),
			ExtractedDir: viperOrFlag(cmd, "extracted"),
			Proxy:        viper.GetString("rebuild.proxy"),
			Insecure:     viper.GetBool("rebuild.insecure"),
		}
		opts.SourcesDir, _ = cmd.Flags().GetString("output")
		opts.ExtractSources, _ = cmd.Flags().GetBool("sources")
		opts.Decompile, _ = cmd.Flags().GetBool("decompile")
		opts.PackageName, _ = cmd.Flags().GetString("package")
		asJSON, _ := cmd.Flags().GetBool("json")

		target := filepath.Clean(cliArgs[0])
		fi, err := os.Stat(target)
		if err != nil {
			return fmt.Errorf("%s does not exist", target)
		}

		var assemblies []string
		if fi.IsDir() {
			group, err := rebuild.SelectFramework(target)
			if err != nil {
				return err
			}
			log.Infof("processing %s group (%d assemblies)", group.Moniker, len(group.Assemblies))
			assemblies = group.Assemblies
			opts.ExtractedDir = target
		} else {
			assemblies = []string{target}
		}

		for _, asm := range assemblies {
			rec, err := rebuild.Run(cmd.Context(), asm, opts)
			if err != nil {
				if errors.Is(err, pe.ErrNotPE) {
					log.WithError(err).Errorf("skipping %s", filepath.Base(asm))
					continue
				}
				return err
			}
			if asJSON {
				if err := json.NewEncoder(os.Stdout).Encode(rec); err != nil {
					return err
				}
				continue
			}
			printRecord(rec)
		}

		return nil
	},
}

func viperOrFlag(cmd *cobra.Command, name string) string {
	if v := viper.GetString("rebuild." + name); v != "" {
		return v
	}
	v, _ := cmd.Flags().GetString(name)
	return v
}

func printRecord(rec *rebuild.CompilationRecord) {
	fmt.Printf("\n%s\n", filepath.Base(rec.AssemblyPath))
	if rec.TargetFramework != "" {
		fmt.Printf("  framework: %s\n", rec.TargetFramework)
	}
	fmt.Printf("  csc %s\n", strings.Join(rec.CompilerArguments, " "))
	if len(rec.MetadataReferences) > 0 {
		fmt.Printf("  references (%d):\n", len(rec.MetadataReferences))
		for _, ref := range rec.MetadataReferences {
			fmt.Printf("    %s\n", ref.FileName)
		}
	}
	if len(rec.SourceFiles) > 0 {
		embedded, downloaded, decompiled := 0, 0, 0
		for _, s := range rec.SourceFiles {
			switch {
			case s.IsEmbedded:
				embedded++
			case s.Decompiled:
				decompiled++
			case s.Content != nil:
				downloaded++
			}
		}
		fmt.Printf("  sources: %d (%d embedded, %d downloaded, %d decompiled)\n",
			len(rec.SourceFiles), embedded, downloaded, decompiled)
	}
	for _, d := range rec.Diagnostics {
		fmt.Printf("  ! %s\n", d)
	}
}
