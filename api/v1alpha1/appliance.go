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

package v1alpha1

// ApplianceState represents a lifecycle status reported by the appliance.
// It is never cached locally; every comparison uses a freshly fetched value.
type ApplianceState string

const (
	// StateStarting is reported while the accelerator components boot.
	StateStarting ApplianceState = "STARTING"
	// StateReady is reported once the accelerator base is operational.
	StateReady ApplianceState = "READY"
	// StateUpdateClusterWaitCredentials is reported while a multi-node update
	// waits for the data node credentials.
	StateUpdateClusterWaitCredentials ApplianceState = "UPDATE_CLUSTER_WAIT_CREDENTIALS"
	// StateRunning is reported by the accelerator server once it accepts work.
	StateRunning ApplianceState = "RUNNING"
)

// String returns the state as sent on the wire.
func (s ApplianceState) String() string {
	return string(s)
}

// Appliance names reported in ApplianceProperties.Name.
const (
	AcceleratorApplianceName = "Db2 Analytics Accelerator for z/OS"
	InstallerApplianceName   = "Secure Service Container Installer"
)

// ApplianceProperties describes the software appliance currently running in the LPAR.
type ApplianceProperties struct {
	// Name is the appliance name, either the accelerator or the installer.
	Name string `json:"name"`

	// Version is the installed appliance version. License acceptance is tracked per version.
	Version string `json:"version"`

	// PhysicalServerName is the name of the hosting machine.
	// +optional
	PhysicalServerName string `json:"physical-server-name,omitempty"`

	// VirtualServerName is the name of the LPAR.
	// +optional
	VirtualServerName string `json:"virtual-server-name,omitempty"`
}

// IsInstaller reports whether the installer, rather than the accelerator, is running.
func (p ApplianceProperties) IsInstaller() bool {
	return p.Name == InstallerApplianceName
}

// ApplianceResponse is the body of the appliance info endpoint.
type ApplianceResponse struct {
	Properties ApplianceProperties `json:"properties"`
}

// LicenseResponse is the body of the software license endpoint.
type LicenseResponse struct {
	Properties struct {
		Accepted bool `json:"accepted"`
	} `json:"properties"`
}

// ComponentStatus is the body of the accelerator component status endpoints.
type ComponentStatus struct {
	Status string `json:"status"`
}
