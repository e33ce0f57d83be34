// Package jsp (JSON persistence) provides utilities to store and load arbitrary
// JSON- or YAML-encoded structures.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package jsp

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Save writes v (JSON, indented) via temp file + rename
func Save(fpath string, v any) (err error) {
	var (
		file *os.File
		tmp  = fpath + ".tmp." + strconv.FormatInt(time.Now().UnixNano(), 36)
	)
	if err = os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
		return errors.Wrapf(err, "jsp: failed to create %q", filepath.Dir(fpath))
	}
	if file, err = os.Create(tmp); err != nil {
		return errors.Wrapf(err, "jsp: failed to create %q", tmp)
	}
	defer func() {
		if err != nil {
			if errRm := os.Remove(tmp); errRm != nil {
				klog.Errorf("jsp: failed to remove %q: %v", tmp, errRm)
			}
		}
	}()
	if err = Encode(file, v, FormatJSON); err != nil {
		file.Close()
		return
	}
	if err = file.Close(); err != nil {
		return
	}
	err = os.Rename(tmp, fpath)
	return
}

// Load decodes fpath into v; the format is selected by file extension
func Load(fpath string, v any) error {
	file, err := os.Open(fpath)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := Decode(file, v, FormatOf(fpath)); err != nil {
		return errors.Wrapf(err, "jsp: failed to load %q", fpath)
	}
	return nil
}
