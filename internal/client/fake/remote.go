// Package fake provides an in-memory RemoteClient with a change feed, call
// recording and failure injection.
package fake

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"docsync/internal/client"
	"docsync/internal/model"
)

const RootRef = "root"

type doc struct {
	ref       string
	parent    string
	name      string
	folderish bool
	content   []byte
	modTime   time.Time
	root      bool
}

type change struct {
	ref string
	at  time.Time
}

type Remote struct {
	mu       sync.Mutex
	docs     map[string]*doc
	changes  []change
	clock    time.Time
	seq      int
	calls    []string
	failures map[string][]error

	// MaxChanges truncates GetChanges when more entries are pending.
	MaxChanges int
}

func NewRemote() *Remote {
	r := &Remote{
		docs:       map[string]*doc{},
		clock:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		failures:   map[string][]error{},
		MaxChanges: 1000,
	}
	r.docs[RootRef] = &doc{ref: RootRef, name: "Drive", folderish: true, modTime: r.clock}
	return r
}

func (r *Remote) tick() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

func (r *Remote) touch(d *doc) {
	d.modTime = r.tick()
	r.changes = append(r.changes, change{ref: d.ref, at: d.modTime})
}

// FailNext makes the next call of op return err. Ops are method names such
// as "MakeFile" or "GetChanges".
func (r *Remote) FailNext(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = append(r.failures[op], err)
}

func (r *Remote) call(op string, args ...string) error {
	r.calls = append(r.calls, strings.TrimSpace(op+" "+strings.Join(args, " ")))
	if errs := r.failures[op]; len(errs) > 0 {
		r.failures[op] = errs[1:]
		return errs[0]
	}
	return nil
}

// Calls returns the recorded mutating and reading calls.
func (r *Remote) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func (r *Remote) ResetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// CallsOf returns the recorded calls of one operation.
func (r *Remote) CallsOf(op string) []string {
	var out []string
	for _, c := range r.Calls() {
		if c == op || strings.HasPrefix(c, op+" ") {
			out = append(out, c)
		}
	}
	return out
}

func (r *Remote) newRef() string {
	r.seq++
	return "doc-" + strconv.Itoa(r.seq)
}

func (r *Remote) add(parent, name string, folderish bool, content []byte) (string, error) {
	p, ok := r.docs[parent]
	if !ok || !p.folderish {
		return "", fmt.Errorf("parent %s: %w", parent, client.ErrNotFound)
	}

	d := &doc{ref: r.newRef(), parent: parent, name: name, folderish: folderish, content: content}
	r.docs[d.ref] = d
	r.touch(d)
	return d.ref, nil
}

// AddFolder and AddFile create documents as another user would.
func (r *Remote) AddFolder(parent, name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, err := r.add(parent, name, true, nil)
	if err != nil {
		panic(err)
	}
	return ref
}

func (r *Remote) AddFile(parent, name, content string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, err := r.add(parent, name, false, []byte(content))
	if err != nil {
		panic(err)
	}
	return ref
}

func (r *Remote) SetContent(ref, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.docs[ref]
	d.content = []byte(content)
	r.touch(d)
}

func (r *Remote) MoveDoc(ref, parent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.docs[ref]
	d.parent = parent
	r.touch(d)
}

func (r *Remote) RemoveDoc(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(ref)
}

func (r *Remote) remove(ref string) {
	for _, d := range r.docs {
		if d.parent == ref {
			r.remove(d.ref)
		}
	}
	delete(r.docs, ref)
	r.changes = append(r.changes, change{ref: ref, at: r.tick()})
}

// Lookup finds a child by name.
func (r *Remote) Lookup(parent, name string) (*model.RemoteInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.parent == parent && d.name == name {
			return r.info(d), true
		}
	}
	return nil, false
}

// Content returns the bytes of a document.
func (r *Remote) Content(ref string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.docs[ref]; ok {
		return string(d.content)
	}
	return ""
}

func (r *Remote) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs) - 1
}

func Digest(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (r *Remote) info(d *doc) *model.RemoteInfo {
	info := &model.RemoteInfo{
		Ref:       d.ref,
		ParentRef: d.parent,
		Name:      d.name,
		Folderish: d.folderish,
		ModTime:   d.modTime,
		Repo:      "default",
	}
	if !d.folderish {
		info.Digest = Digest(string(d.content))
	}
	return info
}

func (r *Remote) GetInfo(_ context.Context, ref string, raiseIfMissing bool) (*model.RemoteInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("GetInfo", ref); err != nil {
		return nil, err
	}

	d, ok := r.docs[ref]
	if !ok {
		if raiseIfMissing {
			return nil, fmt.Errorf("document %s: %w", ref, client.ErrNotFound)
		}
		return nil, nil
	}
	return r.info(d), nil
}

func (r *Remote) GetChildrenInfo(_ context.Context, ref string) ([]model.RemoteInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("GetChildrenInfo", ref); err != nil {
		return nil, err
	}

	var children []model.RemoteInfo
	for _, d := range r.docs {
		if d.parent == ref && d.ref != RootRef {
			children = append(children, *r.info(d))
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	return children, nil
}

func (r *Remote) GetContent(_ context.Context, ref string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("GetContent", ref); err != nil {
		return nil, err
	}

	d, ok := r.docs[ref]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", ref, client.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(slices.Clone(d.content))), nil
}

func (r *Remote) UpdateContent(_ context.Context, ref string, rd io.Reader) error {
	data, err := io.ReadAll(rd)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("UpdateContent", ref); err != nil {
		return err
	}

	d, ok := r.docs[ref]
	if !ok {
		return fmt.Errorf("document %s: %w", ref, client.ErrNotFound)
	}
	d.content = data
	r.touch(d)
	return nil
}

func (r *Remote) MakeFile(_ context.Context, parentRef, name string, rd io.Reader) (string, error) {
	var data []byte
	if rd != nil {
		var err error
		if data, err = io.ReadAll(rd); err != nil {
			return "", err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("MakeFile", parentRef, name); err != nil {
		return "", err
	}
	return r.add(parentRef, name, false, data)
}

func (r *Remote) MakeFolder(_ context.Context, parentRef, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("MakeFolder", parentRef, name); err != nil {
		return "", err
	}
	return r.add(parentRef, name, true, nil)
}

func (r *Remote) Delete(_ context.Context, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("Delete", ref); err != nil {
		return err
	}
	if _, ok := r.docs[ref]; ok {
		r.remove(ref)
	}
	return nil
}

func (r *Remote) Move(_ context.Context, ref, newParentRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("Move", ref, newParentRef); err != nil {
		return err
	}

	d, ok := r.docs[ref]
	if !ok {
		return fmt.Errorf("document %s: %w", ref, client.ErrNotFound)
	}
	d.parent = newParentRef
	r.touch(d)
	return nil
}

func (r *Remote) Rename(_ context.Context, ref, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("Rename", ref, newName); err != nil {
		return err
	}

	d, ok := r.docs[ref]
	if !ok {
		return fmt.Errorf("document %s: %w", ref, client.ErrNotFound)
	}
	d.name = newName
	r.touch(d)
	return nil
}

// GetChanges returns every change after cursor, the position in the change
// log. An empty cursor starts a fresh feed.
func (r *Remote) GetChanges(_ context.Context, cursor, _ string) (*model.ChangeSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("GetChanges", cursor); err != nil {
		return nil, err
	}

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		start = n
	}

	summary := &model.ChangeSummary{
		Cursor:          strconv.Itoa(len(r.changes)),
		RootDefinitions: r.rootDefinitions(),
	}
	pending := r.changes[min(start, len(r.changes)):]
	if len(pending) > r.MaxChanges {
		summary.TooManyChanges = true
		return summary, nil
	}
	for i, c := range pending {
		summary.Changes = append(summary.Changes, model.Change{
			Ref:       c.ref,
			EventTime: c.at,
			EventID:   strconv.Itoa(start + i),
		})
	}
	return summary, nil
}

func (r *Remote) rootDefinitions() string {
	var refs []string
	for _, d := range r.docs {
		if d.root {
			refs = append(refs, d.ref)
		}
	}
	sort.Strings(refs)
	return strings.Join(refs, ",")
}

func (r *Remote) GetRoots(_ context.Context) ([]model.RemoteInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call("GetRoots"); err != nil {
		return nil, err
	}

	var roots []model.RemoteInfo
	for _, d := range r.docs {
		if d.root {
			roots = append(roots, *r.info(d))
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].Ref < roots[j].Ref })
	return roots, nil
}

func (r *Remote) RegisterAsRoot(_ context.Context, ref string) error {
	return r.setRoot(ref, true)
}

func (r *Remote) UnregisterAsRoot(_ context.Context, ref string) error {
	return r.setRoot(ref, false)
}

func (r *Remote) setRoot(ref string, root bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op := "UnregisterAsRoot"
	if root {
		op = "RegisterAsRoot"
	}
	if err := r.call(op, ref); err != nil {
		return err
	}

	d, ok := r.docs[ref]
	if !ok {
		return fmt.Errorf("document %s: %w", ref, client.ErrNotFound)
	}
	d.root = root
	return nil
}

var _ client.RemoteClient = (*Remote)(nil)
