package rebuild

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/blacktop/dotpdb/internal/utils"
	"github.com/blacktop/dotpdb/pkg/tfm"
)

// SelectFramework walks an extracted package tree, groups the assemblies by
// their TFM path segment, and picks one group to process. A single-framework
// package is returned as-is; multi-targeted packages rank per pkg/tfm.
func SelectFramework(extractedDir string) (tfm.Group, error) {
	groups := make(map[string][]string)

	err := filepath.WalkDir(extractedDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !utils.StrSliceHas([]string{".dll", ".exe"}, filepath.Ext(d.Name())) {
			return nil
		}
		moniker := ""
		for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
			if tfm.IsMoniker(seg) {
				moniker = strings.ToLower(seg)
			}
		}
		groups[moniker] = append(groups[moniker], path)
		return nil
	})
	if err != nil {
		return tfm.Group{}, errors.Wrapf(err, "failed to walk %s", extractedDir)
	}

	group, ok := tfm.Select(groups)
	if !ok {
		return tfm.Group{}, errors.Errorf("no assemblies found under %s", extractedDir)
	}
	if len(groups) > 1 {
		log.WithFields(log.Fields{
			"framework":  group.Moniker,
			"candidates": len(groups),
		}).Info("selected framework group")
	}
	return group, nil
}
