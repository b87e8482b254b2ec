package crawl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"coursedump/pkg/checkpoint"
	"coursedump/pkg/config"
	errs "coursedump/pkg/errors"
	"coursedump/pkg/logger"
	"coursedump/pkg/models"
	"coursedump/pkg/paginate"
	"coursedump/pkg/policy"
	"coursedump/pkg/ratelimit"
	"coursedump/pkg/storage"
)

// ErrAborted is returned by Traverse when the failure policy or the caller
// stopped the run
var ErrAborted = errors.New("crawl aborted")

// Writer persists payload targets
type Writer interface {
	Write(t storage.Target) (storage.Written, error)
}

// Options tune a traversal
type Options struct {
	// StartIndex skips top-level entries below this index
	StartIndex int
	// Scope filters top-level entries, one of the config.Scope* values
	Scope         string
	TextExtension string
	MaxPages      int
	MaxEmptyPages int
}

// Config wires the engine to its collaborators. Lister, Registry and
// Writer are required.
type Config struct {
	Lister      Lister
	Registry    *Registry
	Writer      Writer
	Checkpoints checkpoint.Store
	Limiter     ratelimit.Limiter
	Policy      policy.Policy
	Observer    Observer
	Logger      logger.Logger
	Options     Options
}

// Result summarizes a traversal
type Result struct {
	// Complete is true when every top-level entry was walked without abort
	Complete bool
	Aborted  bool

	Containers int
	Leaves     int
	Files      int
	Overflowed int
	Failures   int
	Skipped    int
	Unknown    int

	// LastPosition is the last position dispatched
	LastPosition checkpoint.Position
	// CheckpointDisabled is set when a checkpoint save failed and
	// checkpointing was switched off for the rest of the run
	CheckpointDisabled bool
}

// Counts returns the counters keyed for logging
func (r *Result) Counts() map[string]int {
	return map[string]int{
		"containers": r.Containers,
		"leaves":     r.Leaves,
		"files":      r.Files,
		"overflowed": r.Overflowed,
		"failures":   r.Failures,
		"skipped":    r.Skipped,
		"unknown":    r.Unknown,
	}
}

// Engine walks a remote content tree depth first
type Engine struct {
	lister      Lister
	registry    *Registry
	writer      Writer
	checkpoints checkpoint.Store
	limiter     ratelimit.Limiter
	policy      policy.Policy
	observer    Observer
	logger      logger.Logger
	opts        Options
}

// New creates an engine
func New(cfg Config) (*Engine, error) {
	if cfg.Lister == nil {
		return nil, fmt.Errorf("lister is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Writer == nil {
		return nil, fmt.Errorf("writer is required")
	}

	e := &Engine{
		lister:      cfg.Lister,
		registry:    cfg.Registry,
		writer:      cfg.Writer,
		checkpoints: cfg.Checkpoints,
		limiter:     cfg.Limiter,
		policy:      cfg.Policy,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
		opts:        cfg.Options,
	}
	if e.checkpoints == nil {
		e.checkpoints = checkpoint.Disabled{}
	}
	if e.limiter == nil {
		e.limiter = ratelimit.Unlimited{}
	}
	if e.policy == nil {
		e.policy = policy.Fixed{Decision: policy.Continue}
	}
	if e.observer == nil {
		e.observer = Observers(nil)
	}
	if e.logger == nil {
		e.logger = logger.NewNopLogger()
	}
	if e.opts.Scope == "" {
		e.opts.Scope = config.ScopeAll
	}
	e.opts.TextExtension = normalizeExtension(e.opts.TextExtension)
	return e, nil
}

// run holds the state of one traversal
type run struct {
	*Engine
	resume        checkpoint.Position
	result        *Result
	checkpointing bool
	aborted       bool
	// truncated is set when the top-level listing could not be read to the end
	truncated bool
}

// Traverse walks the tree below root. resume, when set, is the position
// recorded by an earlier run; entries before it are skipped and the entry
// at it is dispatched again.
func (e *Engine) Traverse(ctx context.Context, root models.Node, resume checkpoint.Position) (*Result, error) {
	r := &run{
		Engine:        e,
		resume:        resume,
		result:        &Result{},
		checkpointing: true,
	}

	if len(resume) > 0 {
		e.logger.InfoWithFields("Resuming from saved position", map[string]interface{}{
			"position": resume.String(),
		})
	}

	page, err := e.list(ctx, root)
	if err != nil {
		if ctx.Err() != nil {
			r.result.Aborted = true
			return r.result, ErrAborted
		}
		return r.result, fmt.Errorf("failed to list %s: %w", root.Label(), err)
	}

	if err := r.walk(ctx, root, page, nil, "", len(resume) > 0); err != nil {
		r.result.Aborted = true
		return r.result, err
	}

	r.result.Complete = !r.truncated
	return r.result, nil
}

// walk enumerates one container. active means the live position still
// matches the resume position down to this depth.
func (r *run) walk(ctx context.Context, container models.Node, page paginate.Page, parent checkpoint.Position, dir string, active bool) error {
	depth := len(parent)
	it := paginate.NewIterator(page, paginate.Options{
		MaxPages:      r.opts.MaxPages,
		MaxEmptyPages: r.opts.MaxEmptyPages,
		OnAdvance:     r.limiter.Wait,
	})

	for it.Next(ctx) {
		if err := r.interrupted(ctx); err != nil {
			return err
		}

		i := it.Index()
		node := it.Node()
		pos := parent.Child(i)

		childActive := false
		if active && depth < len(r.resume) {
			if i < r.resume[depth] {
				r.skip(node, pos, SkipResume)
				continue
			}
			childActive = i == r.resume[depth]
		}

		if depth == 0 {
			if reason, skip := r.topLevelFilter(i, node); skip {
				r.skip(node, pos, reason)
				continue
			}
		}

		if err := r.dispatch(ctx, node, pos, dir, childActive); err != nil {
			return err
		}
	}

	if err := it.Err(); err != nil {
		if depth == 0 {
			r.truncated = true
		}
		return r.fail(ctx, container, parent, err)
	}
	return r.interrupted(ctx)
}

func (r *run) dispatch(ctx context.Context, node models.Node, pos checkpoint.Position, dir string, active bool) error {
	if node.Kind.IsContainer() {
		r.save(pos)
		return r.container(ctx, node, pos, dir, active)
	}

	ex, ok := r.registry.Lookup(node.Kind)
	if !ok {
		r.logger.WarnWithFields("Skipping entry of unknown kind", map[string]interface{}{
			"kind":     string(node.Kind),
			"name":     node.Label(),
			"locator":  node.Locator,
			"position": pos.String(),
		})
		r.result.Unknown++
		r.skip(node, pos, SkipUnknownKind)
		return nil
	}

	r.save(pos)
	return r.leaf(ctx, ex, node, pos, dir)
}

func (r *run) container(ctx context.Context, node models.Node, pos checkpoint.Position, dir string, active bool) error {
	childDir := filepath.Join(dir, localName(node))
	r.logger.InfoWithFields("Dumping container", map[string]interface{}{
		"kind":     string(node.Kind),
		"path":     childDir,
		"position": pos.String(),
	})

	page, err := r.list(ctx, node)
	if err != nil {
		return r.fail(ctx, node, pos, err)
	}
	r.result.Containers++
	r.succeeded()
	return r.walk(ctx, node, page, pos, childDir, active)
}

func (r *run) leaf(ctx context.Context, ex Extractor, node models.Node, pos checkpoint.Position, dir string) error {
	r.logger.DebugWithFields("Extracting entry", map[string]interface{}{
		"kind":     string(node.Kind),
		"name":     node.Label(),
		"position": pos.String(),
	})

	payload, err := ex.Extract(ctx, node, dir)
	var waitErr error
	if !node.Local() {
		waitErr = r.limiter.Wait(ctx)
	}
	if err != nil {
		return r.fail(ctx, node, pos, err)
	}
	if waitErr != nil {
		r.aborted = true
		return ErrAborted
	}

	if err := r.persist(node, pos, dir, payload); err != nil {
		return r.fail(ctx, node, pos, err)
	}

	r.result.Leaves++
	r.succeeded()
	return nil
}

func (r *run) succeeded() {
	if rec, ok := r.policy.(policy.SuccessRecorder); ok {
		rec.Succeeded()
	}
}

// persist writes the text payload and every attachment. The first failing
// write fails the entry.
func (r *run) persist(node models.Node, pos checkpoint.Position, dir string, payload *Payload) error {
	if payload == nil {
		return nil
	}

	var targets []storage.Target
	if len(payload.Text) > 0 {
		targets = append(targets, storage.Target{
			Dir:     dir,
			Name:    localName(node) + r.opts.TextExtension,
			Content: payload.Text,
		})
	}
	for _, a := range payload.Attachments {
		targets = append(targets, storage.Target{
			Dir:     filepath.Join(dir, safeRelative(a.Dir)),
			Name:    a.Name,
			Content: a.Content,
		})
	}

	for _, t := range targets {
		written, err := r.writer.Write(t)
		if err != nil {
			if errs.KindOf(err) == errs.KindUnknown {
				err = errs.Persistence("write", filepath.Join(t.Dir, t.Name), err)
			}
			return err
		}
		r.result.Files++
		if written.Overflowed {
			r.result.Overflowed++
		}
		r.observer.OnWrite(WriteEvent{Node: node, Position: pos, Written: written})
	}
	return nil
}

// fail funnels a per-entry failure through the policy
func (r *run) fail(ctx context.Context, node models.Node, pos checkpoint.Position, err error) error {
	if ctx.Err() != nil {
		r.aborted = true
		return ErrAborted
	}

	r.result.Failures++
	decision := r.policy.OnFailure(ctx, policy.Failure{Node: node, Position: pos, Err: err})

	fields := map[string]interface{}{
		"kind":       string(node.Kind),
		"name":       node.Label(),
		"remote_id":  node.RemoteID,
		"locator":    node.Locator,
		"position":   pos.String(),
		"error_kind": string(errs.KindOf(err)),
		"decision":   decision.String(),
	}
	if decision == policy.Abort {
		r.logger.WithError(err).ErrorWithFields("Entry failed, aborting crawl", fields)
	} else {
		r.logger.WithError(err).WarnWithFields("Entry failed, skipping", fields)
	}
	r.observer.OnFailure(FailureEvent{Node: node, Position: pos, Err: err, Decision: decision})

	if decision == policy.Abort {
		r.aborted = true
		return ErrAborted
	}
	return nil
}

func (r *run) skip(node models.Node, pos checkpoint.Position, reason SkipReason) {
	r.result.Skipped++
	r.logger.DebugWithFields("Skipping entry", map[string]interface{}{
		"name":     node.Label(),
		"position": pos.String(),
		"reason":   string(reason),
	})
	r.observer.OnSkip(SkipEvent{Node: node, Position: pos, Reason: reason})
}

// save records pos before a dispatch. A failing store disables
// checkpointing for the rest of the run.
func (r *run) save(pos checkpoint.Position) {
	r.result.LastPosition = pos
	if !r.checkpointing {
		return
	}
	if err := r.checkpoints.Save(pos); err != nil {
		r.checkpointing = false
		r.result.CheckpointDisabled = true
		r.logger.WithError(err).ErrorWithFields("Failed to save checkpoint, resuming this run will not be possible", map[string]interface{}{
			"position": pos.String(),
		})
	}
}

func (r *run) interrupted(ctx context.Context) error {
	if r.aborted || ctx.Err() != nil {
		r.aborted = true
		return ErrAborted
	}
	return nil
}

func (r *run) topLevelFilter(i int, node models.Node) (SkipReason, bool) {
	if i < r.opts.StartIndex {
		return SkipStartIndex, true
	}
	if !InScope(r.opts.Scope, node.Kind) {
		return SkipScope, true
	}
	return "", false
}

// list opens a listing and waits on the limiter for the fetch. Nodes whose
// first page arrived inline are listed without a request.
func (e *Engine) list(ctx context.Context, node models.Node) (paginate.Page, error) {
	page, err := e.lister.List(ctx, node)
	if node.Local() {
		return page, err
	}
	if waitErr := e.limiter.Wait(ctx); waitErr != nil && err == nil {
		err = waitErr
	}
	return page, err
}

// InScope reports whether a top-level entry of kind is crawled under scope
func InScope(scope string, kind models.Kind) bool {
	switch scope {
	case config.ScopeContainersOnly:
		return kind != models.KindMessaging
	case config.ScopeLeafMessagesOnly:
		return kind == models.KindMessaging
	}
	return true
}

// localName is the sanitized local name of a node, falling back to its id
func localName(node models.Node) string {
	if strings.TrimSpace(node.DisplayName) == "" && node.RemoteID != "" {
		return storage.Sanitize(node.RemoteID)
	}
	return storage.Sanitize(node.DisplayName)
}

func normalizeExtension(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" {
		return ".md"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// safeRelative cleans an attachment directory so it stays below the leaf
func safeRelative(dir string) string {
	if dir == "" {
		return ""
	}
	var kept []string
	for _, seg := range strings.Split(filepath.ToSlash(storage.SanitizePath(dir)), "/") {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		kept = append(kept, seg)
	}
	return filepath.Join(kept...)
}
