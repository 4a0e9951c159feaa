package shuttle

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/s3shuttle/shuttle/errors"
	"github.com/s3shuttle/shuttle/internal/store"
)

// RemoteFile describes one file entry returned by ListPrefix.
type RemoteFile struct {
	// Key is the full object key.
	Key string

	// Name is the base name relative to the listed prefix.
	Name string

	Size         int64
	LastModified time.Time
}

// Listing is the content of one remote folder level.
type Listing struct {
	// Dirs holds folder names with a trailing slash, sorted.
	Dirs []string

	Files []RemoteFile
}

// ListPrefix lists one folder level under prefix, separating folders
// from files the way S3-compatible browsers expect.
//
// Folders come from three places: CommonPrefixes of the delimited
// listing, explicit zero-byte folder markers (keys with a trailing
// slash), and nested keys some providers return despite the delimiter.
// A zero-size extensionless object at the top level is treated as a
// folder marker too, matching providers that omit the trailing slash.
func (e *Engine) ListPrefix(ctx context.Context, prefix string) (*Listing, error) {
	prefix = normalizeFolderPrefix(prefix)

	dirs := make(map[string]struct{})
	var files []RemoteFile

	err := e.forEachPage(ctx, prefix, "/", func(page *store.ListPage) {
		for _, cp := range page.CommonPrefixes {
			name := strings.Trim(strings.TrimPrefix(cp, prefix), "/")
			if name != "" {
				dirs[name+"/"] = struct{}{}
			}
		}

		for _, obj := range page.Objects {
			// Skip the prefix's own folder marker.
			if obj.Key == prefix {
				continue
			}

			name := strings.TrimPrefix(obj.Key, prefix)
			if name == "" {
				continue
			}

			if strings.HasSuffix(name, "/") {
				dirs[name] = struct{}{}
				continue
			}

			// Nested path despite the delimiter: surface the first level.
			if idx := strings.Index(name, "/"); idx >= 0 {
				if first := strings.TrimSpace(name[:idx]); first != "" {
					dirs[first+"/"] = struct{}{}
				}
				continue
			}

			if obj.Size == 0 && !strings.Contains(name, ".") {
				dirs[name+"/"] = struct{}{}
				continue
			}

			files = append(files, RemoteFile{
				Key:          obj.Key,
				Name:         name,
				Size:         obj.Size,
				LastModified: obj.LastModified,
			})
		}
	})
	if err != nil {
		return nil, err
	}

	listing := &Listing{Files: files}
	for d := range dirs {
		listing.Dirs = append(listing.Dirs, d)
	}
	sort.Strings(listing.Dirs)
	return listing, nil
}

// ListAllKeys returns every object key under prefix, recursively,
// including folder markers.
func (e *Engine) ListAllKeys(ctx context.Context, prefix string) ([]string, error) {
	prefix = normalizeFolderPrefix(prefix)

	var keys []string
	err := e.forEachPage(ctx, prefix, "", func(page *store.ListPage) {
		for _, obj := range page.Objects {
			if obj.Key != "" {
				keys = append(keys, obj.Key)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ListTree returns every file key under prefix by walking folder
// levels breadth-first with ListPrefix semantics. Folder markers are
// excluded; use ListAllKeys when they are wanted.
func (e *Engine) ListTree(ctx context.Context, prefix string) ([]string, error) {
	pending := []string{strings.Trim(prefix, "/")}
	visited := make(map[string]struct{})
	var fileKeys []string

	for len(pending) > 0 {
		current := strings.Trim(pending[0], "/")
		pending = pending[1:]
		if _, ok := visited[current]; ok {
			continue
		}
		visited[current] = struct{}{}

		listing, err := e.ListPrefix(ctx, current)
		if err != nil {
			return nil, err
		}

		for _, f := range listing.Files {
			fileKeys = append(fileKeys, f.Key)
		}
		for _, d := range listing.Dirs {
			dname := strings.Trim(d, "/")
			if dname == "" {
				continue
			}
			child := dname
			if current != "" {
				child = current + "/" + dname
			}
			if _, ok := visited[child]; !ok {
				pending = append(pending, child)
			}
		}
	}

	return fileKeys, nil
}

// Exists reports whether an object exists under key.
func (e *Engine) Exists(ctx context.Context, key string) (bool, error) {
	var head store.HeadInfo
	_, err := e.governor.Do(ctx, func(ctx context.Context) error {
		h, herr := e.store.HeadObject(ctx, key)
		if herr != nil {
			return herr
		}
		head = h
		return nil
	})
	if err != nil {
		return false, err
	}
	return head.Exists, nil
}

// Rename moves an object to a new key via copy-then-delete, holding
// the destination locks of both keys so a concurrent transfer to
// either cannot interleave.
func (e *Engine) Rename(ctx context.Context, oldKey, newKey string) error {
	if oldKey == newKey {
		return nil
	}

	return e.sched.WithKeyLocks([]string{oldKey, newKey}, func() error {
		_, err := e.governor.Do(ctx, func(ctx context.Context) error {
			return e.store.CopyObject(ctx, oldKey, newKey)
		})
		if err != nil {
			return err
		}

		_, err = e.governor.Do(ctx, func(ctx context.Context) error {
			return e.store.DeleteObjects(ctx, []string{oldKey})
		})
		if err != nil {
			// The copy stands; surface the dangling source.
			e.logger.Warn("rename left source behind", "old", oldKey, "new", newKey, "error", err)
			return err
		}

		e.logger.Debug("renamed object", "old", oldKey, "new", newKey)
		return nil
	})
}

// DeleteObjects removes the given keys, batching per the store's
// delete limit. Each batch holds the destination locks of its keys.
func (e *Engine) DeleteObjects(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	return e.sched.WithKeyLocks(keys, func() error {
		_, err := e.governor.Do(ctx, func(ctx context.Context) error {
			return e.store.DeleteObjects(ctx, keys)
		})
		return err
	})
}

// DeleteTree removes every object under prefix, including folder
// markers and the prefix's own marker.
func (e *Engine) DeleteTree(ctx context.Context, prefix string) error {
	keys, err := e.ListAllKeys(ctx, prefix)
	if err != nil {
		return err
	}

	marker := normalizeFolderPrefix(prefix)
	if marker != "" && !containsKey(keys, marker) {
		keys = append(keys, marker)
	}

	return e.DeleteObjects(ctx, keys)
}

// CreateFolder writes a zero-byte folder marker so the prefix shows up
// as a folder in listings.
func (e *Engine) CreateFolder(ctx context.Context, key string) error {
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}
	_, err := e.governor.Do(ctx, func(ctx context.Context) error {
		return e.store.PutObject(ctx, key, strings.NewReader(""), 0)
	})
	return err
}

// EnsureFolderPath makes sure every level of prefix exists as a
// folder. A level occupied by a file fails with ErrPathIsFile; callers
// wanting the replace-it behavior delete the file and retry.
func (e *Engine) EnsureFolderPath(ctx context.Context, prefix string) error {
	parts := strings.Split(strings.Trim(prefix, "/"), "/")
	current := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		if current == "" {
			current = part
		} else {
			current = current + "/" + part
		}

		exists, err := e.Exists(ctx, current)
		if err != nil {
			return err
		}
		if exists {
			return errors.NewError("ensureFolderPath", errors.ErrPathIsFile).WithKey(current)
		}

		if err := e.CreateFolder(ctx, current); err != nil {
			return err
		}
	}
	return nil
}

// forEachPage drives a resilient paginated listing. Some providers
// occasionally return a repeated continuation token; when that
// happens the listing falls back to advancing by StartAfter marker
// instead of giving up or looping forever.
func (e *Engine) forEachPage(
	ctx context.Context,
	prefix, delimiter string,
	visit func(*store.ListPage),
) error {
	token := ""
	startAfter := ""
	seenTokens := make(map[string]struct{})
	seenMarkers := make(map[string]struct{})

	for {
		var (
			page *store.ListPage
			next string
		)
		_, err := e.governor.Do(ctx, func(ctx context.Context) error {
			p, n, lerr := e.store.ListPage(ctx, prefix, delimiter, token, startAfter)
			if lerr != nil {
				return lerr
			}
			page, next = p, n
			return nil
		})
		if err != nil {
			return err
		}

		visit(page)

		if !page.Truncated {
			return nil
		}

		if _, repeated := seenTokens[next]; next == "" || repeated {
			marker := maxMarker(page)
			if marker == "" {
				return nil
			}
			if _, ok := seenMarkers[marker]; ok {
				return nil
			}
			seenMarkers[marker] = struct{}{}
			token = ""
			startAfter = marker
			continue
		}

		seenTokens[next] = struct{}{}
		token = next
		startAfter = ""
	}
}

// maxMarker picks the lexically largest key or prefix on the page, the
// point to continue from when falling back to StartAfter pagination.
func maxMarker(page *store.ListPage) string {
	marker := ""
	for _, obj := range page.Objects {
		if obj.Key > marker {
			marker = obj.Key
		}
	}
	for _, cp := range page.CommonPrefixes {
		if cp > marker {
			marker = cp
		}
	}
	return marker
}

// normalizeFolderPrefix appends the trailing slash folder prefixes
// carry; the bucket root stays empty.
func normalizeFolderPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
