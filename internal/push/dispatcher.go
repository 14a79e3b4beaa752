// Package push reaches technicians who are not connected: it resolves the
// offline technicians covering a new job's zone and fans a push message out to
// their registered devices.
package push

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/repairgrid/dispatch/internal/cache"
	"github.com/repairgrid/dispatch/internal/store"
	"github.com/repairgrid/dispatch/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Dispatcher sends claim-opportunity pushes for newly claimable jobs.
type Dispatcher struct {
	store        store.Store
	cache        cache.Cache
	gateway      Gateway
	concurrency  int
	deepLinkBase string
}

// NewDispatcher creates a Dispatcher. concurrency bounds parallel gateway calls.
func NewDispatcher(st store.Store, ca cache.Cache, gw Gateway, concurrency int, deepLinkBase string) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		store:        st,
		cache:        ca,
		gateway:      gw,
		concurrency:  concurrency,
		deepLinkBase: deepLinkBase,
	}
}

// Dispatch pushes the job to offline technicians covering its zone. Delivery
// is fire-and-forget: individual gateway failures are logged, never retried,
// and a push that lands after the job is claimed is acceptable because the
// claim path rejects stale attempts. Jobs already on the claimed skip list are
// not pushed at all.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.Job) error {
	claimed, err := d.cache.IsJobClaimed(ctx, job.ID)
	if err != nil {
		slog.Warn("skip-list check failed, continuing with dispatch", "job_id", job.ID, "error", err)
	}
	if claimed {
		slog.Info("skipping push for claimed job", "job_id", job.ID)
		return nil
	}

	techs, err := d.store.ListOfflineTechniciansInZone(ctx, job.ServiceZone)
	if err != nil {
		return fmt.Errorf("resolve offline technicians: %w", err)
	}
	if len(techs) == 0 {
		return nil
	}

	msg := d.message(job)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	sent := 0
	for _, tech := range techs {
		endpoints, err := d.store.ListPushEndpoints(ctx, tech.ID)
		if err != nil {
			slog.Warn("list push endpoints failed", "technician_id", tech.ID, "error", err)
			continue
		}
		for _, ep := range endpoints {
			sent++
			m := msg
			m.Endpoint = ep.Endpoint
			g.Go(func() error {
				if err := d.gateway.Send(gctx, m); err != nil {
					slog.Warn("push send failed", "job_id", job.ID, "endpoint", m.Endpoint, "error", err)
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("push fan-out complete", "job_id", job.ID, "technicians", len(techs), "messages", sent)
	return nil
}

func (d *Dispatcher) message(job *models.Job) models.PushMessage {
	return models.PushMessage{
		Title: fmt.Sprintf("New job in %s", job.ServiceZone),
		Body: fmt.Sprintf("%s · %s · $%.2f", job.Device, job.Service,
			float64(job.PriceCents)/100),
		DeepLink: fmt.Sprintf("%sjobs/%s", d.deepLinkBase, job.ID),
	}
}
