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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-logr/logr"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/clock"

	"github.com/tinkerbell/aqtctl/api/v1alpha1"
	"github.com/tinkerbell/aqtctl/pkg/zaci"
)

// Wait budgets of the appliance lifecycle transitions.
var (
	// AcceleratorAPIBudget covers the accelerator API coming up after a configuration import.
	AcceleratorAPIBudget = PollBudget{MaxAttempts: 30, Interval: 15 * time.Second, RefreshCadence: 15}
	// OperationalBudget covers license acceptance propagating through the appliance.
	OperationalBudget = PollBudget{MaxAttempts: 20, Interval: 5 * time.Second, RefreshCadence: 20}
	// CredentialsBudget covers a cluster update reaching UPDATE_CLUSTER_WAIT_CREDENTIALS.
	CredentialsBudget = PollBudget{MaxAttempts: 100, Interval: 40 * time.Second, RefreshCadence: 15}
	// StartingBudget covers the accelerator reaching STARTING after setup or update.
	StartingBudget = PollBudget{MaxAttempts: 160, Interval: 40 * time.Second, RefreshCadence: 15}
	// ReadyBudget covers the accelerator base reaching READY.
	ReadyBudget = PollBudget{MaxAttempts: 160, Interval: 40 * time.Second, RefreshCadence: 15}
	// ServerRunningBudget covers the accelerator server reaching RUNNING.
	ServerRunningBudget = PollBudget{MaxAttempts: 120, Interval: 40 * time.Second, RefreshCadence: 15}
)

// Synthetic states of the tolerant status accessors.
const (
	stateOperational    = "operational"
	stateNotOperational = "not-operational"
	stateAPIAvailable   = "accelerator-api-available"
	stateAPIUnavailable = "accelerator-api-unavailable"
)

// Appliance drives one appliance through its session.
type Appliance struct {
	session  *Session
	poller   *Poller
	resolver *PathResolver
	retrier  *Retrier
	clock    clock.Clock
	log      logr.Logger
	opts     Options
}

// NewAppliance returns an Appliance operating through session.
func NewAppliance(session *Session, log logr.Logger, opts Options) *Appliance {
	opts = opts.withDefaults()
	a := &Appliance{
		session: session,
		poller:  NewPoller(session, log, opts),
		retrier: NewRetrier(log, opts),
		clock:   opts.Clock,
		log:     log.WithName("appliance").WithValues("address", session.Address()),
		opts:    opts,
	}
	a.resolver = NewPathResolver(a, session.Address(), log, opts)

	return a
}

// Session returns the session of the appliance.
func (a *Appliance) Session() *Session {
	return a.session
}

// Info returns the properties of the running appliance.
func (a *Appliance) Info(ctx context.Context) (v1alpha1.ApplianceProperties, error) {
	var out v1alpha1.ApplianceResponse
	if err := a.session.Get(ctx, zaci.PathAppliance, nil, &out); err != nil {
		return v1alpha1.ApplianceProperties{}, err
	}
	if out.Properties.Name == "" {
		return v1alpha1.ApplianceProperties{}, &zaci.ProtocolError{Path: zaci.PathAppliance, Reason: "missing appliance name"}
	}

	return out.Properties, nil
}

// Identify returns the properties of the appliance and logs which machine and LPAR it runs on.
func (a *Appliance) Identify(ctx context.Context) (v1alpha1.ApplianceProperties, error) {
	props, err := a.Info(ctx)
	if err != nil {
		return v1alpha1.ApplianceProperties{}, err
	}
	a.log.Info("appliance", "name", props.Name, "version", props.Version,
		"physicalServer", props.PhysicalServerName, "virtualServer", props.VirtualServerName)

	return props, nil
}

// LicenseAccepted reports whether the software license is accepted on the appliance.
func (a *Appliance) LicenseAccepted(ctx context.Context) (bool, error) {
	var out v1alpha1.LicenseResponse
	if err := a.session.Get(ctx, zaci.PathSoftwareLicense, nil, &out); err != nil {
		return false, err
	}

	return out.Properties.Accepted, nil
}

// AcceptLicense accepts the software license and waits until the appliance is operational again.
func (a *Appliance) AcceptLicense(ctx context.Context) error {
	resp, err := a.session.Put(ctx, zaci.PathSoftwareLicense, v1alpha1.NewRequest(v1alpha1.LicenseAcceptParameters{Accept: true}), nil)
	if err != nil {
		return fmt.Errorf("accept license: %w", err)
	}
	if err := resp.Expect(http.StatusOK); err != nil {
		return fmt.Errorf("accept license: %w", err)
	}
	a.log.Info("license accepted")

	return a.poller.WaitFor(ctx, a.operationalStatus, stateOperational, OperationalBudget)
}

// Operational reports whether the appliance answers its operational probe with 204.
func (a *Appliance) Operational(ctx context.Context) (bool, error) {
	resp, err := a.session.Do(ctx, zaci.Request{Method: http.MethodGet, Path: zaci.PathApplianceOperation})
	if err != nil {
		return false, err
	}

	return resp.StatusCode == http.StatusNoContent, nil
}

func (a *Appliance) operationalStatus(ctx context.Context) (string, error) {
	ok, err := a.Operational(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return stateNotOperational, nil
	}
	return stateOperational, nil
}

// LicenseTexts downloads the license and the non-IBM license texts.
func (a *Appliance) LicenseTexts(ctx context.Context) (license, nonIBM []byte, err error) {
	if license, err = a.download(ctx, zaci.PathLicenseText); err != nil {
		return nil, nil, err
	}
	if nonIBM, err = a.download(ctx, zaci.PathNonIBMLicenseText); err != nil {
		return nil, nil, err
	}

	return license, nonIBM, nil
}

func (a *Appliance) download(ctx context.Context, path string) ([]byte, error) {
	resp, err := a.session.Do(ctx, zaci.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	if err := resp.Expect(); err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}

	return resp.Body, nil
}

// AcceleratorStatus returns the status of the accelerator appliance component.
func (a *Appliance) AcceleratorStatus(ctx context.Context) (string, error) {
	return a.componentStatus(ctx, zaci.PathAcceleratorStatus)
}

// ServerStatus returns the status of the accelerator server component.
func (a *Appliance) ServerStatus(ctx context.Context) (string, error) {
	return a.componentStatus(ctx, zaci.PathServerStatus)
}

func (a *Appliance) componentStatus(ctx context.Context, path string) (string, error) {
	var out v1alpha1.ComponentStatus
	if err := a.session.Get(ctx, path, nil, &out); err != nil {
		return "", err
	}
	if out.Status == "" {
		return "", &zaci.ProtocolError{Path: path, Reason: "missing status"}
	}

	return out.Status, nil
}

// WaitForAccelerator waits for the accelerator component to report state.
func (a *Appliance) WaitForAccelerator(ctx context.Context, state v1alpha1.ApplianceState, budget PollBudget) error {
	return a.poller.WaitFor(ctx, a.AcceleratorStatus, state.String(), budget)
}

// WaitForServer waits for the accelerator server component to report state.
func (a *Appliance) WaitForServer(ctx context.Context, state v1alpha1.ApplianceState, budget PollBudget) error {
	return a.poller.WaitFor(ctx, a.ServerStatus, state.String(), budget)
}

// WaitForAcceleratorAPI waits until the accelerator status endpoint answers at all.
// Failing status queries count as not yet available.
func (a *Appliance) WaitForAcceleratorAPI(ctx context.Context, budget PollBudget) error {
	status := func(ctx context.Context) (string, error) {
		if _, err := a.AcceleratorStatus(ctx); err != nil {
			var authErr *zaci.AuthError
			if errors.As(err, &authErr) {
				return "", err
			}
			a.log.Info("waiting for accelerator API", "error", err.Error())
			return stateAPIUnavailable, nil
		}
		return stateAPIAvailable, nil
	}

	return a.poller.WaitFor(ctx, status, stateAPIAvailable, budget)
}

// FCPDisks returns the free disks discovered behind the FCP device busID.
func (a *Appliance) FCPDisks(ctx context.Context, busID string) (*v1alpha1.FCPDiskList, error) {
	var out v1alpha1.FCPDiskList
	q := url.Values{"fcp-device": {busID}, "status": {string(v1alpha1.PathFree)}}
	if err := a.session.Get(ctx, zaci.PathFCPDisks, q, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// triggerDiscovery starts an asynchronous FCP discovery on busID.
func (a *Appliance) triggerDiscovery(ctx context.Context, busID string) error {
	resp, err := a.session.Do(ctx, zaci.Request{Method: http.MethodGet, Path: zaci.PathFCPDisks, Query: url.Values{"fcp-device": {busID}}})
	if err != nil {
		return fmt.Errorf("trigger FCP discovery on %s: %w", busID, err)
	}
	if err := resp.Expect(); err != nil {
		return fmt.Errorf("trigger FCP discovery on %s: %w", busID, err)
	}

	return nil
}

// ECKDDevices returns the DASD devices assigned to the LPAR.
func (a *Appliance) ECKDDevices(ctx context.Context) (v1alpha1.StorageDeviceList, error) {
	var out v1alpha1.StorageDeviceList
	if err := a.session.Get(ctx, zaci.PathStorageDevices, url.Values{"type": {"ECKD"}}, &out); err != nil {
		return v1alpha1.StorageDeviceList{}, err
	}

	return out, nil
}

// ResolvePath resolves an active path to the disk of the FCP device dev.
func (a *Appliance) ResolvePath(ctx context.Context, dev Device) (PathCandidate, error) {
	return a.resolver.Resolve(ctx, []Device{dev}, dev.UDID, a.opts.ScanBudget, a.opts.ScanInterval)
}

// SwitchToInstaller reboots the appliance into the installer.
func (a *Appliance) SwitchToInstaller(ctx context.Context) error {
	resp, err := a.session.Do(ctx, zaci.Request{Method: http.MethodPost, Path: zaci.PathSwitchToInstaller})
	if err != nil {
		return fmt.Errorf("switch to installer: %w", err)
	}
	if err := resp.Expect(http.StatusAccepted); err != nil {
		return fmt.Errorf("switch to installer, the license may not be accepted: %w", err)
	}
	a.log.Info("switch to installer submitted")

	return nil
}

// Reboot selects dev as boot disk and reboots into it. For an FCP device a fresh path is resolved.
func (a *Appliance) Reboot(ctx context.Context, dev Device) error {
	disk := v1alpha1.Disk{ID: dev.BusID}
	if dev.IsFCP() {
		path, err := a.ResolvePath(ctx, dev)
		if err != nil {
			return fmt.Errorf("cannot activate %s using udid %s with device %s: %w", a.session.Address(), dev.UDID, dev.BusID, err)
		}
		disk = v1alpha1.Disk{ID: path.Device, WWPN: path.TargetID, LUN: path.LUN}
	}

	in := v1alpha1.NewRequest(v1alpha1.SelectParameters{Disk: disk, RebootAfter: true})
	resp, err := a.session.Put(ctx, zaci.PathSelect, in, nil)
	if err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	if err := resp.Expect(http.StatusAccepted); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	a.log.Info("reboot submitted", "disk", disk.ID, "wwpn", disk.WWPN, "lun", disk.LUN)

	return nil
}

// WaitForReboot waits until the rebooting appliance answers again, logs in again and returns
// the properties of the appliance that came up. 503 responses mean it is still rebooting.
func (a *Appliance) WaitForReboot(ctx context.Context) (v1alpha1.ApplianceProperties, error) {
	a.log.Info("the appliance is rebooting", "attempts", a.opts.RebootAttempts)
	for remaining := a.opts.RebootAttempts; remaining > 0; remaining-- {
		if err := sleep(ctx, a.clock, a.opts.RebootInterval); err != nil {
			return v1alpha1.ApplianceProperties{}, fmt.Errorf("waiting for reboot: %w", err)
		}
		if !a.session.Client().Probe(ctx) {
			a.log.Info("appliance not reachable yet", "remaining", remaining-1)
			continue
		}

		// The token does not survive a reboot.
		if err := a.session.Renew(ctx); err != nil {
			var authErr *zaci.AuthError
			if errors.As(err, &authErr) && authErr.Rejected() {
				return v1alpha1.ApplianceProperties{}, err
			}
			a.log.Info("appliance not accepting logins yet", "remaining", remaining-1, "error", err.Error())
			continue
		}

		props, err := a.Info(ctx)
		switch {
		case zaci.StatusCode(err) == http.StatusServiceUnavailable, zaci.IsTransport(err):
			a.log.Info("appliance still rebooting", "remaining", remaining-1)
			continue
		case err != nil:
			return v1alpha1.ApplianceProperties{}, err
		}
		a.log.Info("reboot completed", "name", props.Name, "version", props.Version)

		return props, nil
	}

	return v1alpha1.ApplianceProperties{}, &TimeoutError{Awaited: "reboot to complete", Attempts: a.opts.RebootAttempts}
}

// UploadImage installs image, size bytes long, to dev. For an FCP device the disk is discovered
// first, which can take several minutes per round.
func (a *Appliance) UploadImage(ctx context.Context, dev Device, image io.Reader, size int64) error {
	query := url.Values{"id": {dev.BusID}}
	if dev.IsFCP() {
		path, err := a.discoverPath(ctx, dev)
		if err != nil {
			return err
		}
		query.Set("wwpn", path.TargetID)
		query.Set("lun", path.LUN)
	}

	a.log.Info("uploading image", "device", dev.BusID, "wwpn", dev.WWPN(), "lun", dev.LUN(), "size", size)
	resp, err := a.session.Do(ctx, zaci.Request{
		Method:        http.MethodPost,
		Path:          zaci.PathInstall,
		Query:         query,
		Body:          image,
		ContentType:   zaci.OctetStream,
		ContentLength: size,
	})
	if err != nil {
		return fmt.Errorf("upload image: %w", err)
	}
	if err := resp.Expect(); err != nil {
		return fmt.Errorf("upload image: %w", err)
	}
	a.log.Info("image uploaded")

	return nil
}

// discoverPath triggers FCP discovery rounds until a path to dev is resolved.
func (a *Appliance) discoverPath(ctx context.Context, dev Device) (PathCandidate, error) {
	var errs []error
	for round := 1; round <= a.opts.DiscoveryRounds; round++ {
		if err := ctx.Err(); err != nil {
			return PathCandidate{}, fmt.Errorf("FCP discovery: %w", err)
		}
		a.log.Info("FCP discovery", "round", round, "device", dev.BusID, "udid", dev.UDID)
		path, err := a.discoveryRound(ctx, dev)
		if err == nil {
			a.log.Info("FCP discovery successful", "round", round)
			return path, nil
		}
		var authErr *zaci.AuthError
		if errors.As(err, &authErr) && authErr.Rejected() {
			return PathCandidate{}, err
		}
		a.log.Info("FCP discovery failed", "round", round, "error", err.Error())
		errs = append(errs, err)
	}

	return PathCandidate{}, fmt.Errorf("cannot upload image to %s with udid %s, device %s: %w",
		a.session.Address(), dev.UDID, dev.BusID, utilerrors.NewAggregate(errs))
}

func (a *Appliance) discoveryRound(ctx context.Context, dev Device) (PathCandidate, error) {
	if err := a.session.Renew(ctx); err != nil {
		return PathCandidate{}, err
	}
	if err := a.triggerDiscovery(ctx, NormalizeBusID(dev.BusID)); err != nil {
		return PathCandidate{}, err
	}
	if err := sleep(ctx, a.clock, a.opts.DiscoveryWait); err != nil {
		return PathCandidate{}, err
	}

	return a.ResolvePath(ctx, dev)
}

// ValidateConfiguration validates an accelerator configuration without applying it.
func (a *Appliance) ValidateConfiguration(ctx context.Context, config json.RawMessage) error {
	var out v1alpha1.ValidationResponse
	if _, err := a.session.Put(ctx, zaci.PathValidateConfig, v1alpha1.NewRequest(config), &out); err != nil {
		return fmt.Errorf("validate configuration: %w", err)
	}
	if out.Validation != v1alpha1.ValidationOK {
		return fmt.Errorf("configuration validation failed with status %s. Message %q", out.Validation, out.FirstMessage())
	}
	a.log.Info("configuration validation successful")

	return nil
}

// FirstTimeSetup triggers the initial configuration of the accelerator.
// credentials are only required for multiple node deployments.
func (a *Appliance) FirstTimeSetup(ctx context.Context, config, credentials json.RawMessage) error {
	in := v1alpha1.NewRequest(v1alpha1.SetupParameters{Configuration: config, Credentials: nullIfEmpty(credentials)})
	if _, err := a.retrier.Trigger(ctx, "first time setup", a.trigger(zaci.PathConfiguration, in)); err != nil {
		return err
	}
	a.log.Info("first time setup triggered")

	return nil
}

// CompleteUpdate hands the data node credentials to a waiting cluster update.
func (a *Appliance) CompleteUpdate(ctx context.Context, credentials json.RawMessage) error {
	in := v1alpha1.NewRequest(v1alpha1.CredentialsParameters{Credentials: nullIfEmpty(credentials)})
	if _, err := a.retrier.Trigger(ctx, "complete update", a.trigger(zaci.PathCompleteUpdate, in)); err != nil {
		return err
	}
	a.log.Info("complete update triggered")

	return nil
}

// trigger returns a TriggerFunc putting in to path.
func (a *Appliance) trigger(path string, in any) TriggerFunc {
	return func(ctx context.Context) (int, string, error) {
		var out v1alpha1.TriggerResponse
		resp, err := a.session.Put(ctx, path, in, &out)
		switch {
		case resp == nil:
			return 0, "", err
		case zaci.StatusCode(err) != 0:
			return resp.StatusCode, "", nil
		case err != nil:
			return resp.StatusCode, "", err
		}

		return resp.StatusCode, out.Status, nil
	}
}

func nullIfEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
