// Package resolver picks the bundle a device should run, applying device
// overrides, channel selection and channel compatibility policy.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BundleFox/app/models"
	"github.com/ManuelReschke/BundleFox/app/repository"
)

// Store provides the indexed point lookups resolution depends on.
type Store interface {
	GetBundleOverride(appID, deviceID string) (*models.DeviceBundleOverride, error)
	GetChannelAssignment(appID, deviceID string) (*models.ChannelDevice, error)
	GetChannelByName(appID, name string) (*models.Channel, error)
	GetChannelByID(id uint) (*models.Channel, error)
}

// Resolver loads a snapshot and evaluates the strategies against it.
type Resolver struct {
	store      Store
	strategies []Strategy
}

// New creates a resolver with the default precedence order.
func New(store Store) *Resolver {
	return &Resolver{store: store, strategies: DefaultStrategies}
}

// NewFromRepositories adapts the repository layer to Store.
func NewFromRepositories(repos *repository.Repositories) *Resolver {
	return New(&repositoryStore{repos: repos})
}

// Resolve returns the outcome for a device of app.
func (r *Resolver) Resolve(ctx context.Context, app *models.App, device Device) (Outcome, error) {
	snap, err := r.Load(ctx, app, device)
	if err != nil {
		return Outcome{}, err
	}
	return Evaluate(snap, device, r.strategies), nil
}

// Load performs the lookups in parallel. Missing records are left nil.
func (r *Resolver) Load(ctx context.Context, app *models.App, device Device) (Snapshot, error) {
	snap := Snapshot{App: app}
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		pin, err := r.store.GetBundleOverride(device.AppID, device.DeviceID)
		if err != nil {
			return ignoreNotFound(err, "bundle override")
		}
		snap.PinnedBundle = pin.Bundle
		return nil
	})
	g.Go(func() error {
		assignment, err := r.store.GetChannelAssignment(device.AppID, device.DeviceID)
		if err != nil {
			return ignoreNotFound(err, "channel override")
		}
		snap.AssignedChannel = assignment.Channel
		return nil
	})
	if device.DefaultChannel != "" {
		g.Go(func() error {
			ch, err := r.store.GetChannelByName(device.AppID, device.DefaultChannel)
			if err != nil {
				return ignoreNotFound(err, "self set channel")
			}
			snap.SelfSetChannel = ch
			return nil
		})
	}
	if id := app.DefaultChannelFor(device.Platform); id != nil {
		g.Go(func() error {
			ch, err := r.store.GetChannelByID(*id)
			if err != nil {
				return ignoreNotFound(err, "platform default channel")
			}
			snap.PlatformDefault = ch
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func ignoreNotFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return fmt.Errorf("load %s: %w", what, err)
}

type repositoryStore struct {
	repos *repository.Repositories
}

func (s *repositoryStore) GetBundleOverride(appID, deviceID string) (*models.DeviceBundleOverride, error) {
	return s.repos.Device.GetBundleOverride(appID, deviceID)
}

func (s *repositoryStore) GetChannelAssignment(appID, deviceID string) (*models.ChannelDevice, error) {
	return s.repos.Device.GetChannelAssignment(appID, deviceID)
}

func (s *repositoryStore) GetChannelByName(appID, name string) (*models.Channel, error) {
	return s.repos.Channel.GetByName(appID, name)
}

func (s *repositoryStore) GetChannelByID(id uint) (*models.Channel, error) {
	return s.repos.Channel.GetByID(id)
}
