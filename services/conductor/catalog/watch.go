// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the catalog whenever the file at path is written or
// replaced.
//
// Description:
//
//	Watches the parent directory so editors that save through a rename
//	are still seen. A file that fails to parse or validate leaves the
//	previous entries active. onReload, when non-nil, is called after every
//	reload attempt with its error (nil on success). Blocks until ctx is
//	done; run it in a goroutine.
//
// Inputs:
//
//	ctx - Stops the watcher when cancelled.
//	path - Catalog file to watch.
//	onReload - Optional callback per reload attempt.
//
// Outputs:
//
//	error - Non-nil only if the watcher cannot be started.
func (c *Catalog) Watch(ctx context.Context, path string, onReload func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve catalog path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	c.logger.Debug("watching catalog", slog.String("path", abs))

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			err := c.LoadFile(abs)
			if err != nil {
				c.logger.Error("catalog reload failed, keeping previous entries",
					slog.String("path", abs),
					slog.String("error", err.Error()),
				)
			}
			if onReload != nil {
				onReload(err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("catalog watcher error", slog.String("error", err.Error()))

		case <-ctx.Done():
			return nil
		}
	}
}
