package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/patrickwarner/openadview/internal/models"
)

// SlotFile is a YAML slot config source for deployments without Postgres.
//
//	slots:
//	  - slot_id: recipe-hero
//	    position: hero-banner
//	    ...
type SlotFile struct {
	Path string
	// Debounce coalesces the burst of events editors produce on save.
	Debounce time.Duration
}

type slotDocument struct {
	Slots []models.AdSlotConfig `yaml:"slots"`
}

// Load reads and validates every slot in the file. Any invalid or duplicate
// slot fails the whole load.
func (f *SlotFile) Load() ([]models.AdSlotConfig, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	var doc slotDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.Path, err)
	}

	var errs []error
	seen := make(map[string]bool, len(doc.Slots))
	for _, s := range doc.Slots {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("slot %q: %w", s.SlotID, err))
			continue
		}
		if seen[s.SlotID] {
			errs = append(errs, fmt.Errorf("slot %q: %w", s.SlotID, models.ErrDuplicate))
		}
		seen[s.SlotID] = true
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return doc.Slots, nil
}

// Watch calls apply with the reloaded slots whenever the file changes, until
// ctx is done. The parent directory is watched so atomic renames are seen.
// A failed load keeps the previous configs and is logged.
func (f *SlotFile) Watch(ctx context.Context, apply func([]models.AdSlotConfig) error, logger *zap.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	dir := filepath.Dir(f.Path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Clean(f.Path)
	debounce := f.Debounce
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.After(debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("slot file watch error", zap.Error(err))
		case <-pending:
			pending = nil
			slots, err := f.Load()
			if err != nil {
				logger.Error("slot file reload failed", zap.String("path", f.Path), zap.Error(err))
				continue
			}
			if err := apply(slots); err != nil {
				logger.Error("apply slot file", zap.String("path", f.Path), zap.Error(err))
				continue
			}
			logger.Info("slot file reloaded", zap.String("path", f.Path), zap.Int("count", len(slots)))
		}
	}
}
