package config

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ManifestWatcher monitors the precache manifest file and invokes the supplied
// callback whenever its URL list changes. Stop must be called to release
// filesystem resources.
type ManifestWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *ManifestWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// ReadManifest parses a precache manifest file: one root-relative path per
// line, blank lines and #-comments skipped.
func ReadManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open manifest %s: %w", path, err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read manifest %s: %w", path, err)
	}
	return urls, nil
}

// ManifestURLs merges the inline precache list with the manifest file
// contents, preserving order and dropping duplicates.
func (c Config) ManifestURLs() ([]string, error) {
	urls := append([]string(nil), c.Server.Precache.URLs...)
	if path := c.Server.Precache.ManifestFile; path != "" {
		fromFile, err := ReadManifest(path)
		if err != nil {
			return nil, err
		}
		urls = append(urls, fromFile...)
	}
	seen := make(map[string]struct{}, len(urls))
	deduped := urls[:0]
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		deduped = append(deduped, u)
	}
	return deduped, nil
}

// WatchManifest wires fsnotify around the configured manifest file and emits
// the merged URL list on any relevant change. The callback fires once with the
// current contents before the watcher goroutine starts.
func (l *Loader) WatchManifest(ctx context.Context, cfg Config, onChange func([]string), onError func(error)) (*ManifestWatcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config: watch manifest requires a change callback")
	}
	if cfg.Server.Precache.ManifestFile == "" {
		return nil, fmt.Errorf("config: no manifest file configured for watching")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch manifest: %w", err)
	}

	urls, err := cfg.ManifestURLs()
	if err != nil {
		if closeErr := watcher.Close(); closeErr != nil && onError != nil {
			onError(fmt.Errorf("config: watch manifest close: %w", closeErr))
		}
		cancel()
		return nil, err
	}
	onChange(urls)

	targetFile := cfg.Server.Precache.ManifestFile
	if resolved, err := filepath.Abs(targetFile); err == nil {
		targetFile = resolved
	} else if onError != nil {
		onError(fmt.Errorf("config: resolve manifest file: %w", err))
	}
	targetFile = filepath.Clean(targetFile)
	if err := watcher.Add(filepath.Dir(targetFile)); err != nil {
		if closeErr := watcher.Close(); closeErr != nil && onError != nil {
			onError(fmt.Errorf("config: watch manifest close: %w", closeErr))
		}
		cancel()
		return nil, fmt.Errorf("config: watch add %s: %w", filepath.Dir(targetFile), err)
	}

	done := make(chan struct{})
	watch := &ManifestWatcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("config: watch manifest close: %w", err))
			}
		}()

		reload := func() {
			urls, err := cfg.ManifestURLs()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			onChange(urls)
		}

		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}
		flushTimer := func() {
			if reloadTimer == nil {
				return
			}
			if !reloadTimer.Stop() {
				select {
				case <-reloadTimer.C:
				default:
				}
			}
			reloadSignal = nil
		}
		defer flushTimer()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				flushTimer()
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != targetFile {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && onError != nil {
					onError(fmt.Errorf("config: manifest file %s removed", targetFile))
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config: watch error: %w", err))
				}
			}
		}
	}()

	return watch, nil
}
