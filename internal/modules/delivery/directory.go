// README: Rider directory: active-rider lookups with a cache in front of the user store.
package delivery

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"dukani/internal/modules/order"
	"dukani/internal/types"
)

type UserStore interface {
	Get(ctx context.Context, id types.ID) (User, error)
	List(ctx context.Context, role types.Role, activeOnly bool) ([]User, error)
	Save(ctx context.Context, u User) error
}

// ActiveCache is the rider list cache; RiderCache is the Redis one.
type ActiveCache interface {
	Active(ctx context.Context) ([]User, bool, error)
	IsActive(ctx context.Context, id types.ID) (active, ok bool, err error)
	Store(ctx context.Context, riders []User) error
	Invalidate(ctx context.Context) error
}

// Directory resolves rider references and serves the active rider list.
type Directory struct {
	users UserStore
	cache ActiveCache
	log   *zap.Logger
}

// NewDirectory builds a directory; cache may be nil.
func NewDirectory(users UserStore, cache ActiveCache, log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{users: users, cache: cache, log: log}
}

// ListUsers serves the user directory. Active riders come from the cache.
func (d *Directory) ListUsers(ctx context.Context, role types.Role, activeOnly bool) ([]User, error) {
	if !role.Valid() {
		return nil, errors.Wrapf(order.ErrBadRequest, "unknown role %q", role)
	}
	if role == types.RoleDelivery && activeOnly {
		return d.ActiveRiders(ctx)
	}
	return d.users.List(ctx, role, activeOnly)
}

func (d *Directory) ActiveRiders(ctx context.Context) ([]User, error) {
	if d.cache != nil {
		riders, ok, err := d.cache.Active(ctx)
		if err != nil {
			d.log.Warn("rider cache read", zap.Error(err))
		} else if ok {
			return riders, nil
		}
	}
	riders, err := d.users.List(ctx, types.RoleDelivery, true)
	if err != nil {
		return nil, err
	}
	if d.cache != nil {
		if err := d.cache.Store(ctx, riders); err != nil {
			d.log.Warn("rider cache write", zap.Error(err))
		}
	}
	return riders, nil
}

// IsActiveRider implements order.RiderChecker.
func (d *Directory) IsActiveRider(ctx context.Context, id types.ID) (bool, error) {
	if d.cache != nil {
		active, ok, err := d.cache.IsActive(ctx, id)
		if err != nil {
			d.log.Warn("rider cache lookup", zap.Error(err))
		} else if ok {
			return active, nil
		}
	}
	u, err := d.users.Get(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Role == types.RoleDelivery && u.IsActive, nil
}

// Resolve turns a rider reference into contact details.
func (d *Directory) Resolve(ctx context.Context, ref order.RiderRef) (RiderDetail, error) {
	u, err := d.users.Get(ctx, ref.ID)
	if err != nil {
		return RiderDetail{}, errors.Wrapf(err, "resolve rider %s", ref.ID)
	}
	if u.Role != types.RoleDelivery {
		return RiderDetail{}, errors.Wrapf(ErrUserNotFound, "%s is not a rider", ref.ID)
	}
	return u.Rider(), nil
}

// SaveUser writes a directory entry and drops the cached rider list.
func (d *Directory) SaveUser(ctx context.Context, u User) error {
	if u.ID == "" || !u.Role.Valid() {
		return errors.Wrap(order.ErrBadRequest, "user id and a valid role are required")
	}
	if err := d.users.Save(ctx, u); err != nil {
		return err
	}
	d.Invalidate(ctx)
	return nil
}

// Invalidate drops the cached rider list after a directory change.
func (d *Directory) Invalidate(ctx context.Context) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Invalidate(ctx); err != nil {
		d.log.Warn("rider cache invalidate", zap.Error(err))
	}
}
