// Package fsbox is the filesystem drop-box permission transport.
//
// Each session gets its own directory. The permission companion of the
// supervised process writes {id}.request; the Box reports it to the broker
// and answers with {id}.response. Answered requests have their request file
// removed at once and their response file removed after a linger period if
// the companion has not already taken it. An expired request has both files
// removed and no response written. The directory also holds the session's
// permissions.json, kept current with WriteRules.
//
// Requests reach the broker with an ID from RequestKey, so two sessions may
// use the same file name.
package fsbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/randalmurphal/agentdeck/claudecontract"
	"github.com/randalmurphal/agentdeck/permission"
)

// TransportName tags requests that arrived through a Box.
const TransportName = "fs"

// RequestKey is the Request.ID of the drop-box request named stem. File
// names are only unique within one session's directory.
func RequestKey(sessionID, stem string) string {
	return sessionID + ":" + stem
}

// RequestRecord is the content of a .request file.
type RequestRecord struct {
	ID        string          `json:"id" jsonschema:"description=Request id; the file is named {id}.request"`
	ToolName  string          `json:"toolName"`
	Input     json.RawMessage `json:"input,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty" jsonschema:"description=Unix milliseconds"`
}

// ResponseRecord is the content of a .response file.
type ResponseRecord struct {
	ID        string `json:"id"`
	Approved  bool   `json:"approved"`
	Timestamp int64  `json:"timestamp"`
}

// Option configures a Box.
type Option func(*Box)

// WithTimeout sets how long a request may wait for a verdict. Default 60s.
func WithTimeout(d time.Duration) Option {
	return func(b *Box) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithResponseLinger sets how long an unconsumed response file is kept. Default 30s.
func WithResponseLinger(d time.Duration) Option {
	return func(b *Box) {
		if d > 0 {
			b.linger = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Box) {
		if l != nil {
			b.logger = l
		}
	}
}

// Box watches one session's drop-box directory.
type Box struct {
	dir       string
	sessionID string
	timeout   time.Duration
	linger    time.Duration
	logger    *slog.Logger
	now       func() time.Time

	watcher *fsnotify.Watcher
	reqs    chan permission.Request
	closed  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]bool // request file names
	timers   map[string]*time.Timer
}

// Open creates dir if needed and starts watching it. Request files already
// present are picked up.
func Open(dir, sessionID string, opts ...Option) (*Box, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create drop-box %s: %w", dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	b := &Box{
		dir:       dir,
		sessionID: sessionID,
		timeout:   60 * time.Second,
		linger:    30 * time.Second,
		logger:    slog.Default(),
		now:       time.Now,
		watcher:   watcher,
		reqs:      make(chan permission.Request),
		closed:    make(chan struct{}),
		inflight:  make(map[string]bool),
		timers:    make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("session", sessionID, "dir", dir)

	b.wg.Add(1)
	go b.watch()
	return b, nil
}

// Dir returns the watched directory.
func (b *Box) Dir() string {
	return b.dir
}

func (b *Box) watch() {
	defer b.wg.Done()

	b.scan()
	for {
		select {
		case <-b.closed:
			return
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if strings.HasSuffix(event.Name, claudecontract.ExtRequest) {
				b.consider(event.Name)
			}
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("drop-box watcher error", "err", err)
		}
	}
}

// scan picks up requests written before the watch started.
func (b *Box) scan() {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		b.logger.Warn("scanning drop-box", "err", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), claudecontract.ExtRequest) {
			b.consider(filepath.Join(b.dir, e.Name()))
		}
	}
}

func (b *Box) consider(path string) {
	name := filepath.Base(path)
	id := claudecontract.RequestID(name)
	if id == "" {
		return
	}

	b.mu.Lock()
	if b.inflight[name] {
		b.mu.Unlock()
		b.logger.Debug("duplicate drop-box notification", "file", name)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		b.mu.Unlock()
		if !errors.Is(err, os.ErrNotExist) {
			b.logger.Warn("reading permission request", "file", name, "err", err)
		}
		return
	}
	var rec RequestRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		b.mu.Unlock()
		// Possibly a partial write; the next write event retries.
		b.logger.Debug("permission request not yet parseable", "file", name, "err", err)
		return
	}
	b.inflight[name] = true
	b.mu.Unlock()

	if rec.ID != "" && rec.ID != id {
		b.logger.Warn("request id does not match file name", "file", name, "id", rec.ID)
	}
	now := b.now()
	created := now
	if rec.Timestamp > 0 {
		created = time.UnixMilli(rec.Timestamp)
	}
	req := permission.Request{
		ID:        RequestKey(b.sessionID, id),
		SessionID: b.sessionID,
		ToolName:  rec.ToolName,
		Target:    claudecontract.ToolTarget(rec.ToolName, rec.Input),
		Input:     rec.Input,
		CreatedAt: created,
		Deadline:  now.Add(b.timeout),
		Transport: TransportName,
	}

	select {
	case b.reqs <- req:
	case <-b.closed:
	}
}

// Receive returns the next request.
func (b *Box) Receive(ctx context.Context) (permission.Request, error) {
	select {
	case req := <-b.reqs:
		return req, nil
	case <-ctx.Done():
		return permission.Request{}, ctx.Err()
	case <-b.closed:
		return permission.Request{}, permission.ErrTransportClosed
	}
}

// Respond writes the verdict, or removes both files of an expired request.
// id is a RequestKey or the bare file-name stem.
func (b *Box) Respond(_ context.Context, id string, v permission.Verdict) error {
	id = strings.TrimPrefix(id, b.sessionID+":")
	reqName := claudecontract.RequestFileName(id)
	respPath := filepath.Join(b.dir, claudecontract.ResponseFileName(id))

	defer func() {
		b.mu.Lock()
		delete(b.inflight, reqName)
		b.mu.Unlock()
	}()

	if v.Expired {
		b.logger.Info("permission request expired", "request", id)
		return errors.Join(
			removeIfExists(filepath.Join(b.dir, reqName)),
			removeIfExists(respPath),
		)
	}

	data, err := json.Marshal(ResponseRecord{ID: id, Approved: v.Allow, Timestamp: b.now().UnixMilli()})
	if err != nil {
		return err
	}
	if err := writeAtomic(respPath, data); err != nil {
		return fmt.Errorf("write response %s: %w", id, err)
	}
	if err := removeIfExists(filepath.Join(b.dir, reqName)); err != nil {
		return err
	}
	b.scheduleCleanup(respPath)
	return nil
}

// scheduleCleanup removes path after the linger period, or at once if the
// box is already closed.
func (b *Box) scheduleCleanup(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.closed:
		if err := removeIfExists(path); err != nil {
			b.logger.Warn("removing response after close", "file", filepath.Base(path), "err", err)
		}
		return
	default:
	}
	if t, ok := b.timers[path]; ok {
		t.Stop()
	}
	b.timers[path] = time.AfterFunc(b.linger, func() {
		b.mu.Lock()
		delete(b.timers, path)
		b.mu.Unlock()
		if err := removeIfExists(path); err != nil {
			b.logger.Warn("removing stale response", "file", filepath.Base(path), "err", err)
		}
	})
}

// Close stops watching and removes response files still lingering.
func (b *Box) Close() error {
	var err error
	b.once.Do(func() {
		close(b.closed)
		err = b.watcher.Close()
		b.wg.Wait()

		b.mu.Lock()
		timers := b.timers
		b.timers = make(map[string]*time.Timer)
		b.mu.Unlock()
		for path, t := range timers {
			t.Stop()
			_ = removeIfExists(path)
		}
	})
	return err
}

// WriteRules rewrites permissions.json in dir from the session's rules.
func WriteRules(dir string, rules []permission.Rule) error {
	data, err := permission.EncodeAllowFile(rules)
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, claudecontract.FilePermissions), data)
}

// ReadRules loads permissions.json from dir. A missing file yields no rules.
func ReadRules(dir string) ([]permission.Rule, error) {
	data, err := os.ReadFile(filepath.Join(dir, claudecontract.FilePermissions))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return permission.DecodeAllowFile(data)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
