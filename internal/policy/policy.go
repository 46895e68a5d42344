// Package policy decides what a failed remote or local operation means for
// the binding and the pair it happened on.
package policy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"docsync/internal/client"
	"docsync/internal/executor"
	"docsync/internal/logger"
	"docsync/internal/model"
	"docsync/internal/notify"
	"docsync/internal/repository"

	"go.uber.org/zap"
)

type Kind int

const (
	KindNone Kind = iota
	KindAuth
	KindQuota
	KindMaintenance
	KindTransient
	KindStructural
	KindConflict
	KindConcurrentAccess
	KindCanceled
	KindStore
	KindUnexpected
)

var kindNames = map[Kind]string{
	KindNone:             "none",
	KindAuth:             "auth",
	KindQuota:            "quota",
	KindMaintenance:      "maintenance",
	KindTransient:        "transient",
	KindStructural:       "structural",
	KindConflict:         "conflict",
	KindConcurrentAccess: "concurrent_access",
	KindCanceled:         "canceled",
	KindStore:            "store",
	KindUnexpected:       "unexpected",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// BindingScoped kinds suspend the whole binding for this pass.
func (k Kind) BindingScoped() bool {
	switch k {
	case KindAuth, KindMaintenance, KindTransient:
		return true
	}
	return false
}

// DefaultMaintenanceDelay applies when the server gives no retry-after.
const DefaultMaintenanceDelay = 5 * time.Minute

func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	if _, ok := errors.AsType[*repository.StoreError](err); ok {
		return KindStore
	}
	if _, ok := errors.AsType[*client.AuthError](err); ok {
		return KindAuth
	}
	if _, ok := errors.AsType[*client.QuotaExceededError](err); ok {
		return KindQuota
	}
	if _, ok := errors.AsType[*client.MaintenanceError](err); ok {
		return KindMaintenance
	}
	if _, ok := errors.AsType[*executor.ConflictError](err); ok {
		return KindConflict
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, executor.ErrParentNotLinked):
		return KindStructural
	case errors.Is(err, client.ErrConcurrentAccess):
		return KindConcurrentAccess
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}

	if _, ok := errors.AsType[*client.NetworkError](err); ok {
		return KindTransient
	}
	if _, ok := errors.AsType[net.Error](err); ok {
		return KindTransient
	}

	return KindUnexpected
}

type Options struct {
	Cooldown    time.Duration
	NagInterval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Handler applies the error policy. Binding changes are persisted through
// the repositories; user-facing conditions go to the notifier.
type Handler struct {
	repos    *repository.Repositories
	rebinder client.Rebinder
	notifier notify.Notifier
	opts     Options
	now      func() time.Time

	mu        sync.Mutex
	conflicts map[string]bool
}

func NewHandler(repos *repository.Repositories, rebinder client.Rebinder, notifier notify.Notifier, opts Options) *Handler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		repos:     repos,
		rebinder:  rebinder,
		notifier:  notifier,
		opts:      opts,
		now:       now,
		conflicts: map[string]bool{},
	}
}

// InCooldown reports whether a pair failed too recently to be retried.
func (h *Handler) InCooldown(p *model.Pair, now time.Time) bool {
	return p.LastSyncErrorAt != nil && now.Sub(*p.LastSyncErrorAt) < h.opts.Cooldown
}

// HandleBinding handles a failure that concerns the whole binding. Only
// state store failures are returned.
func (h *Handler) HandleBinding(ctx context.Context, b *model.Binding, err error) error {
	kind := Classify(err)
	switch kind {
	case KindNone, KindCanceled:
		return nil

	case KindStore:
		return err

	case KindAuth:
		return h.reauthenticate(ctx, b, err)

	case KindMaintenance:
		me, _ := errors.AsType[*client.MaintenanceError](err)
		retryAfter := me.RetryAfter
		if retryAfter <= 0 {
			retryAfter = DefaultMaintenanceDelay
		}
		now := h.now()
		due := b.EnterMaintenance(retryAfter, h.opts.NagInterval, now)
		logger.Log.Warn("server in maintenance, binding suspended",
			zap.String("local_folder", b.LocalFolder),
			zap.Duration("retry_after", retryAfter),
			zap.String("schedule", me.Schedule))
		if err := h.repos.Bindings.SaveMaintenance(b); err != nil {
			if stale(b, err) {
				return nil
			}
			return err
		}
		if due {
			msg := fmt.Sprintf("server in maintenance until %s", b.MaintenanceUntil.Format(time.RFC3339))
			if me.Schedule != "" {
				msg += " (" + me.Schedule + ")"
			}
			return h.notice(b, model.NoticeMaintenance, notify.EventMaintenance, msg, b.MaintenanceUntil)
		}
		return nil

	case KindQuota:
		return h.quota(b, err)

	case KindTransient:
		logger.Log.Warn("remote unreachable, binding offline for this pass",
			zap.String("local_folder", b.LocalFolder),
			zap.Error(err))
		h.notifier.Notify(notify.Event{Type: notify.EventOffline, LocalFolder: b.LocalFolder, Message: err.Error()})
		return nil

	default:
		logger.Log.Error("binding pass failed",
			zap.String("local_folder", b.LocalFolder),
			zap.String("kind", kind.String()),
			zap.Error(err))
		return nil
	}
}

func (h *Handler) reauthenticate(ctx context.Context, b *model.Binding, cause error) error {
	previous := *b
	b.InvalidateCredentials()

	var token string
	var err error
	if h.rebinder != nil {
		token, err = h.rebinder.Rebind(ctx, &previous)
	} else {
		err = errors.New("no credential provider")
	}

	if err == nil && token != "" {
		b.SetToken(token)
		if err := h.repos.Bindings.ReplaceCredentials(&previous, b); err != nil {
			if stale(b, err) {
				return nil
			}
			return err
		}
		logger.Log.Info("credentials renewed",
			zap.String("local_folder", b.LocalFolder))
		return nil
	}

	b.NeedsSignIn = true
	if err := h.repos.Bindings.ReplaceCredentials(&previous, b); err != nil {
		// credentials stored by someone else in the meantime are tried first
		if stale(b, err) {
			return nil
		}
		return err
	}
	logger.Log.Warn("credentials rejected, sign-in needed",
		zap.String("local_folder", b.LocalFolder),
		zap.NamedError("cause", cause),
		zap.Error(err))
	return h.notice(b, model.NoticeSignIn, notify.EventSignInNeeded, "sign-in needed", nil)
}

func (h *Handler) quota(b *model.Binding, err error) error {
	due := b.MarkQuotaExceeded(h.opts.NagInterval, h.now())
	logger.Log.Warn("storage quota exceeded",
		zap.String("local_folder", b.LocalFolder),
		zap.Error(err))
	if err := h.repos.Bindings.SaveQuota(b); err != nil {
		if stale(b, err) {
			return nil
		}
		return err
	}
	if due {
		return h.notice(b, model.NoticeQuota, notify.EventQuota, "storage quota exceeded", nil)
	}
	return nil
}

// stale reports a binding update dropped because the binding was removed or
// its credentials replaced since the pass loaded it.
func stale(b *model.Binding, err error) bool {
	if !errors.Is(err, repository.ErrBindingGone) && !errors.Is(err, repository.ErrCredentialsChanged) {
		return false
	}
	logger.Log.Info("binding changed during pass, update dropped",
		zap.String("local_folder", b.LocalFolder),
		zap.Error(err))
	return true
}

func (h *Handler) notice(b *model.Binding, kind model.NoticeKind, event notify.EventType, msg string, until *time.Time) error {
	h.notifier.Notify(notify.Event{Type: event, LocalFolder: b.LocalFolder, Message: msg})
	return h.repos.Notices.Save(&model.Notice{
		LocalFolder: b.LocalFolder,
		Kind:        kind,
		Message:     msg,
		Until:       until,
	})
}

// HandlePair handles the failure of one pair. abort stops the batch of the
// binding; a returned error is fatal to the process.
func (h *Handler) HandlePair(ctx context.Context, b *model.Binding, p *model.Pair, err error) (abort bool, fatal error) {
	kind := Classify(err)
	switch kind {
	case KindNone:
		return false, nil

	case KindStructural:
		logger.Log.Debug("parent not synchronized yet, deferring",
			zap.String("path", p.Path),
			zap.String("remote_ref", p.RemoteRef))
		return false, nil

	case KindConcurrentAccess:
		logger.Log.Debug("file in use, deferring",
			zap.String("path", p.Path),
			zap.Error(err))
		return false, nil

	case KindConflict:
		conflict, _ := errors.AsType[*executor.ConflictError](err)
		key := fmt.Sprintf("%d:%s:%s", p.ID, conflict.LocalDigest, conflict.RemoteDigest)
		h.mu.Lock()
		seen := h.conflicts[key]
		h.conflicts[key] = true
		h.mu.Unlock()

		if !seen {
			logger.Log.Warn("conflict needs manual resolution",
				zap.String("local_root", p.LocalRoot),
				zap.String("path", p.Path),
				zap.String("remote_ref", p.RemoteRef))
			if err := h.notice(b, model.NoticeConflict, notify.EventConflict, "conflict on "+p.Path, nil); err != nil {
				return true, err
			}
		}
		return false, h.cooldown(p)

	case KindQuota:
		if err := h.quota(b, err); err != nil {
			return true, err
		}
		return false, h.cooldown(p)

	case KindAuth, KindMaintenance, KindTransient:
		return true, h.HandleBinding(ctx, b, err)

	case KindCanceled:
		return true, nil

	case KindStore:
		return true, err

	default:
		logger.Log.Error("failed to synchronize pair",
			zap.Uint("id", p.ID),
			zap.String("local_root", p.LocalRoot),
			zap.String("path", p.Path),
			zap.String("remote_ref", p.RemoteRef),
			zap.String("pair_state", string(p.PairState)),
			zap.String("local_state", string(p.LocalState)),
			zap.String("remote_state", string(p.RemoteState)),
			zap.Error(err))
		return false, h.cooldown(p)
	}
}

func (h *Handler) cooldown(p *model.Pair) error {
	if p.ID == 0 {
		return nil
	}
	at := h.now()
	p.LastSyncErrorAt = new(at)
	return h.repos.Pairs.MarkError(p.ID, at)
}
