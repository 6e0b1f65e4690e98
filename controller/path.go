/*
Copyright 2022 Tinkerbell.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-logr/logr"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/clock"

	"github.com/tinkerbell/aqtctl/api/v1alpha1"
)

// FCPDiskLister queries the disks known behind an FCP device.
type FCPDiskLister interface {
	FCPDisks(ctx context.Context, busID string) (*v1alpha1.FCPDiskList, error)
}

// PathCandidate is one active path to a disk, valid only for the scan that found it.
type PathCandidate struct {
	TargetID string
	LUN      string
	// Device is the normalized bus id of the FCP device owning the path.
	Device string
	Status v1alpha1.PathStatus
}

// PathResolver finds an active path to a SCSI disk across one or more FCP devices.
type PathResolver struct {
	lister            FCPDiskLister
	address           string
	clock             clock.Clock
	rand              *rand.Rand
	log               logr.Logger
	discoveryAttempts int
	discoveryDelay    time.Duration
}

// NewPathResolver returns a PathResolver querying lister. address is only used in errors and logs.
func NewPathResolver(lister FCPDiskLister, address string, log logr.Logger, opts Options) *PathResolver {
	opts = opts.withDefaults()

	return &PathResolver{
		lister:            lister,
		address:           address,
		clock:             opts.Clock,
		rand:              opts.Rand,
		log:               log.WithName("path-resolver").WithValues("address", address),
		discoveryAttempts: opts.DiscoveryAttempts,
		discoveryDelay:    opts.DiscoveryDelay,
	}
}

// Resolve returns one active path to the disk udid. Every scan re-queries all devices, since
// paths come and go while the appliance reboots. When a scan finds several active paths, one is
// picked uniformly at random to spread load across the FCP adapters.
func (r *PathResolver) Resolve(ctx context.Context, devices []Device, udid string, scanBudget int, scanInterval time.Duration) (PathCandidate, error) {
	if len(devices) == 0 {
		return PathCandidate{}, errors.New("resolve path: no devices given")
	}
	target, lun, err := SplitUDID(udid)
	if err != nil {
		return PathCandidate{}, fmt.Errorf("resolve path: %w", err)
	}
	want := target + lun
	log := r.log.WithValues("udid", want)

	for scan := 1; scan <= scanBudget; scan++ {
		if err := ctx.Err(); err != nil {
			return PathCandidate{}, fmt.Errorf("resolve path: %w", err)
		}
		discoveryScans.Inc()
		pool, err := r.scan(ctx, devices, want)
		if err != nil {
			return PathCandidate{}, err
		}
		if len(pool) > 0 {
			path := pool[r.rand.IntN(len(pool))]
			log.Info("path resolved", "device", path.Device, "target", path.TargetID, "lun", path.LUN, "candidates", len(pool), "scan", scan)
			return path, nil
		}
		log.Info("no active path found", "scan", scan, "scanBudget", scanBudget)
		if scan < scanBudget {
			if err := sleep(ctx, r.clock, scanInterval); err != nil {
				return PathCandidate{}, fmt.Errorf("resolve path: %w", err)
			}
		}
	}

	busIDs := make([]string, 0, len(devices))
	for _, d := range devices {
		busIDs = append(busIDs, NormalizeBusID(d.BusID))
	}

	return PathCandidate{}, &NoPathError{UDID: want, Address: r.address, Devices: busIDs, Scans: scanBudget}
}

// scan collects the active paths of the first free instance matching udid on every device.
func (r *PathResolver) scan(ctx context.Context, devices []Device, udid string) ([]PathCandidate, error) {
	var pool []PathCandidate
	for _, d := range devices {
		busID := NormalizeBusID(d.BusID)
		list, err := r.discover(ctx, busID)
		if err != nil {
			return nil, err
		}

		instance, ok := firstFreeInstance(list.Instances, udid)
		if !ok {
			r.log.V(1).Info("no free instance for udid", "device", busID, "instances", len(list.Instances))
			continue
		}
		for _, p := range instance.Paths {
			if p.Status != v1alpha1.PathActive {
				continue
			}
			pool = append(pool, PathCandidate{TargetID: p.Target, LUN: p.LUN, Device: busID, Status: p.Status})
		}
	}

	return pool, nil
}

// discover queries the disks of one device, retrying while the appliance reports
// no instances or fails the request.
func (r *PathResolver) discover(ctx context.Context, busID string) (*v1alpha1.FCPDiskList, error) {
	var errs []error
	for attempt := 1; attempt <= r.discoveryAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, r.clock, r.discoveryDelay); err != nil {
				return nil, fmt.Errorf("no FCP data for device %s: %w", busID, err)
			}
		}
		list, err := r.lister.FCPDisks(ctx, busID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("no FCP data for device %s: %w", busID, ctxErr)
		}
		if err == nil && (list == nil || len(list.Instances) == 0) {
			err = errors.New("received no instances")
		}
		if err == nil {
			discoveryQueries.WithLabelValues("ok").Inc()
			r.log.V(1).Info("fcp disks discovered", "device", busID, "instances", len(list.Instances))
			return list, nil
		}
		discoveryQueries.WithLabelValues("retry").Inc()
		r.log.V(1).Info("fcp disk query failed", "device", busID, "attempt", attempt, "error", err.Error())
		errs = append(errs, fmt.Errorf("attempt %d: %w", attempt, err))
	}

	return nil, fmt.Errorf("no FCP data for device %s: %w", busID, utilerrors.NewAggregate(errs))
}

func firstFreeInstance(instances []v1alpha1.FCPInstance, udid string) (v1alpha1.FCPInstance, bool) {
	for _, in := range instances {
		if in.Status == v1alpha1.PathFree && sameUDID(in.ID, udid) {
			return in, true
		}
	}
	return v1alpha1.FCPInstance{}, false
}
