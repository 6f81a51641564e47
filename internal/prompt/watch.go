package prompt

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"threadbot/internal/logger"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 300 * time.Millisecond

// Watch reloads the catalog from dir into h whenever a .yaml or .md file in
// dir or dir/templates changes. A reload that fails validation is logged and
// the previous catalog stays in place. Watch blocks until ctx is done.
func Watch(ctx context.Context, dir string, h *Holder) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	tdir := filepath.Join(dir, templatesDir)
	if st, err := os.Stat(tdir); err == nil && st.IsDir() {
		if err := w.Add(tdir); err != nil {
			logger.Warn("prompt watch: cannot watch templates", map[string]interface{}{"dir": tdir, "error": err})
		}
	}
	logger.Info("prompt watch: started", map[string]interface{}{"dir": dir})

	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			logger.Debug("prompt watch: change", map[string]interface{}{"file": ev.Name, "op": ev.Op.String()})
			timer.Reset(reloadDebounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("prompt watch: watcher error", map[string]interface{}{"error": err})

		case <-timer.C:
			c, err := Load(dir)
			if err != nil {
				logger.Error("prompt watch: reload failed, keeping previous catalog", map[string]interface{}{"error": err})
				continue
			}
			h.Store(c)
			logger.Info("prompt watch: catalog reloaded", map[string]interface{}{"templates": len(c.templates)})
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := strings.ToLower(ev.Name)
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".md")
}
