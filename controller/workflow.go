package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tinkerbell/aqtctl/api/v1alpha1"
)

// LicenseStore records which appliance versions had their license accepted by an operator.
type LicenseStore interface {
	Accepted(version string) (bool, error)
}

// EnsureLicense accepts the license on the appliance when it is not accepted yet and the
// operator accepted it for version before. A nil store means no acceptance was recorded.
func (a *Appliance) EnsureLicense(ctx context.Context, store LicenseStore, version string) error {
	if err := a.session.Renew(ctx); err != nil {
		return err
	}
	accepted, err := a.LicenseAccepted(ctx)
	if err != nil {
		return err
	}
	if accepted {
		a.log.Info("license has been accepted already")
		return nil
	}
	if store == nil {
		return errors.New("license has not been accepted before and no license path provided")
	}

	recorded, err := store.Accepted(version)
	if err != nil {
		return fmt.Errorf("check license acceptance for version %s: %w", version, err)
	}
	if !recorded {
		return fmt.Errorf("license for version %s has not been accepted previously", version)
	}
	if err := a.AcceptLicense(ctx); err != nil {
		return err
	}
	a.log.Info("license successfully accepted", "version", version)

	return nil
}

// InstallImage installs image, size bytes long, to dev and reboots the appliance into it.
// A running accelerator is switched to the installer first.
func (a *Appliance) InstallImage(ctx context.Context, store LicenseStore, dev Device, image io.Reader, size int64) error {
	props, err := a.Identify(ctx)
	if err != nil {
		return err
	}

	if props.IsInstaller() {
		a.log.V(1).Info("already in installer")
	} else {
		if err := a.EnsureLicense(ctx, store, props.Version); err != nil {
			return err
		}
		if err := a.SwitchToInstaller(ctx); err != nil {
			return err
		}
		if _, err := a.WaitForReboot(ctx); err != nil {
			return err
		}
	}

	if !dev.IsFCP() {
		eckd, err := a.ECKDDevices(ctx)
		if err != nil {
			return err
		}
		if !eckd.Has(dev.BusID) {
			return fmt.Errorf("missing boot DASD %s", dev.BusID)
		}
	}

	if err := a.UploadImage(ctx, dev, image, size); err != nil {
		return err
	}
	// Uploading may outlive the token.
	if err := a.session.Renew(ctx); err != nil {
		return err
	}
	if err := a.Reboot(ctx, dev); err != nil {
		return err
	}
	_, err = a.WaitForReboot(ctx)

	return err
}

// RunFirstTimeSetup validates and applies the initial accelerator configuration and waits
// until the accelerator is starting. extraMinutes extends the wait, large disk setups need it.
func (a *Appliance) RunFirstTimeSetup(ctx context.Context, store LicenseStore, config, credentials json.RawMessage, extraMinutes int) error {
	props, err := a.Identify(ctx)
	if err != nil {
		return err
	}
	a.log.Info("waiting for license acceptance to become available", "delay", a.opts.SettleDelay)
	if err := sleep(ctx, a.clock, a.opts.SettleDelay); err != nil {
		return err
	}
	if err := a.EnsureLicense(ctx, store, props.Version); err != nil {
		return err
	}

	if err := a.ValidateConfiguration(ctx, config); err != nil {
		return err
	}
	if err := a.FirstTimeSetup(ctx, config, credentials); err != nil {
		return err
	}

	return a.WaitForAccelerator(ctx, v1alpha1.StateStarting, StartingBudget.WithExtraMinutes(extraMinutes))
}

// RunCompleteUpdate completes a multiple node update: it waits for the cluster to ask for the
// data node credentials, hands them over and waits until the accelerator server runs.
func (a *Appliance) RunCompleteUpdate(ctx context.Context, store LicenseStore, credentials json.RawMessage) error {
	props, err := a.Identify(ctx)
	if err != nil {
		return err
	}
	if err := a.EnsureLicense(ctx, store, props.Version); err != nil {
		return err
	}

	// Called right after a configuration import the accelerator API may not be up yet.
	if err := a.WaitForAcceleratorAPI(ctx, AcceleratorAPIBudget); err != nil {
		return err
	}
	if err := a.WaitForAccelerator(ctx, v1alpha1.StateUpdateClusterWaitCredentials, CredentialsBudget); err != nil {
		return err
	}
	if err := a.CompleteUpdate(ctx, credentials); err != nil {
		return err
	}
	if err := a.WaitForAccelerator(ctx, v1alpha1.StateStarting, StartingBudget); err != nil {
		return err
	}

	return a.WaitForServer(ctx, v1alpha1.StateRunning, ServerRunningBudget)
}
