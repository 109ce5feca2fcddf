package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gamma-omg/rag-search/docstore"
	"github.com/gamma-omg/rag-search/pipeline"
	"github.com/gamma-omg/rag-search/readers"
)

type docIngester interface {
	IngestAs(ctx context.Context, path, name string) (*pipeline.IngestReport, error)
}

type docCatalog interface {
	Documents(ctx context.Context) ([]docstore.DocumentInfo, error)
	DeleteDocument(ctx context.Context, name string) error
}

// DocRegistry keeps the index in line with the files under root. Documents
// are named by their slash-separated path relative to root.
type DocRegistry struct {
	log              *slog.Logger
	root             string
	mergeEventsDelay time.Duration
	ingester         docIngester
	catalog          docCatalog
	readers          []readers.Reader
	files            pipeline.Validator

	mu     sync.Mutex
	timers map[string]*time.Timer
}

type DiskDoc struct {
	Path string
	Name string
	Crc  uint32
}

type diskDocs map[string]DiskDoc
type dbDocs map[string]docstore.DocumentInfo

// Sync ingests new and changed files and forgets documents whose files are
// gone. A file that fails to ingest is logged and skipped.
func (dr *DocRegistry) Sync(ctx context.Context) error {
	disk, err := dr.collectDocs()
	if err != nil {
		return err
	}

	diskMap := make(diskDocs)
	for _, d := range disk {
		diskMap[d.Name] = d
	}

	db, err := dr.catalog.Documents(ctx)
	if err != nil {
		return err
	}

	dbMap := make(dbDocs)
	for _, d := range db {
		dbMap[d.Name] = d
	}

	dr.ingestNewDocuments(ctx, diskMap, dbMap)

	return dr.forgetRemovedDocuments(ctx, diskMap, dbMap)
}

func (dr *DocRegistry) collectDocs() (docs []DiskDoc, err error) {
	err = filepath.WalkDir(dr.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		name, ok := dr.docName(path)
		if !ok {
			dr.log.Warn("unsupported file", slog.String("path", path))
			return nil
		}

		crc, e := pipeline.Checksum(path)
		if e != nil {
			return fmt.Errorf("failed to checksum %s: %w", path, e)
		}

		docs = append(docs, DiskDoc{Path: path, Name: name, Crc: crc})
		return nil
	})

	return
}

func (dr *DocRegistry) ingestNewDocuments(ctx context.Context, disk diskDocs, db dbDocs) {
	for _, diskDoc := range disk {
		dbDoc, ok := db[diskDoc.Name]
		if ok && dbDoc.Checksum == diskDoc.Crc {
			continue
		}

		if _, err := dr.ingester.IngestAs(ctx, diskDoc.Path, diskDoc.Name); err != nil {
			dr.log.Warn("failed to ingest document", slog.String("document", diskDoc.Name), slog.Any("error", err))
		}
	}
}

func (dr *DocRegistry) forgetRemovedDocuments(ctx context.Context, disk diskDocs, db dbDocs) error {
	for _, dbDoc := range db {
		if _, ok := disk[dbDoc.Name]; ok {
			continue
		}

		if err := dr.catalog.DeleteDocument(ctx, dbDoc.Name); err != nil {
			return fmt.Errorf("failed to remove document %s from store: %w", dbDoc.Name, err)
		}
		dr.log.Info("document forgotten", slog.String("document", dbDoc.Name))
	}

	return nil
}

// docName maps a path under root to a document name. Hidden files, files
// without a reader and file types the validator rejects are skipped.
func (dr *DocRegistry) docName(path string) (string, bool) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return "", false
	}
	if !dr.files.Extension(path) {
		return "", false
	}
	if readers.Find(path, dr.readers...) == nil {
		return "", false
	}

	rel, err := filepath.Rel(dr.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}

	return filepath.ToSlash(rel), true
}

// Watch starts applying file system changes under root until ctx is done.
// Bursts of events for the same file are merged over mergeEventsDelay.
func (dr *DocRegistry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	err = filepath.WalkDir(dr.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", dr.root, err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				dr.stopTimers()
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				dr.handleEvent(ctx, w, ev)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				dr.log.Error("watcher error", slog.Any("error", err))
			}
		}
	}()

	return nil
}

func (dr *DocRegistry) handleEvent(ctx context.Context, w *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			dr.watchNewDir(ctx, w, ev.Name)
			return
		}
	}

	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}

	name, ok := dr.docName(ev.Name)
	if !ok {
		return
	}

	dr.schedule(ctx, ev.Name, name)
}

// watchNewDir watches a directory created after Watch started. Files written
// before the watch was added get no events, so they are scheduled directly.
func (dr *DocRegistry) watchNewDir(ctx context.Context, w *fsnotify.Watcher, dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}

		if name, ok := dr.docName(path); ok {
			dr.schedule(ctx, path, name)
		}
		return nil
	})
	if err != nil {
		dr.log.Warn("failed to watch directory", slog.String("path", dir), slog.Any("error", err))
	}
}

func (dr *DocRegistry) schedule(ctx context.Context, path, name string) {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	if dr.timers == nil {
		dr.timers = make(map[string]*time.Timer)
	}

	if t, ok := dr.timers[path]; ok {
		t.Stop()
	}

	dr.timers[path] = time.AfterFunc(dr.mergeEventsDelay, func() {
		dr.mu.Lock()
		delete(dr.timers, path)
		dr.mu.Unlock()

		dr.apply(ctx, path, name)
	})
}

func (dr *DocRegistry) apply(ctx context.Context, path, name string) {
	if ctx.Err() != nil {
		return
	}

	info, err := os.Stat(path)
	if err == nil && info.Mode().IsRegular() {
		if dr.unchanged(ctx, path, name) {
			return
		}
		if _, err := dr.ingester.IngestAs(ctx, path, name); err != nil {
			dr.log.Warn("failed to ingest document", slog.String("document", name), slog.Any("error", err))
		}
		return
	}

	if err := dr.catalog.DeleteDocument(ctx, name); err != nil {
		dr.log.Error("failed to forget document", slog.String("document", name), slog.Any("error", err))
		return
	}
	dr.log.Info("document forgotten", slog.String("document", name))
}

// unchanged reports whether the index already holds name with the checksum
// of the file at path, as after an upload into root.
func (dr *DocRegistry) unchanged(ctx context.Context, path, name string) bool {
	crc, err := pipeline.Checksum(path)
	if err != nil {
		return false
	}

	docs, err := dr.catalog.Documents(ctx)
	if err != nil {
		dr.log.Warn("failed to list documents", slog.Any("error", err))
		return false
	}

	for _, d := range docs {
		if d.Name == name {
			return d.Checksum == crc
		}
	}

	return false
}

func (dr *DocRegistry) stopTimers() {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	for path, t := range dr.timers {
		t.Stop()
		delete(dr.timers, path)
	}
}
