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

// PathStatus represents the status of an FCP disk instance or of one of its paths.
type PathStatus string

const (
	// PathFree marks a disk instance that is not in use by the appliance.
	PathFree PathStatus = "free"
	// PathActive marks a path that can currently carry I/O.
	PathActive PathStatus = "active"
)

// FCPPath is one physical route, target port plus logical unit, to an FCP disk.
type FCPPath struct {
	// Target is the target port WWPN.
	Target string `json:"target"`

	// LUN is the logical unit number.
	LUN string `json:"lun"`

	// Status is the path status, only PathActive paths are usable.
	Status PathStatus `json:"status,omitempty"`
}

// FCPInstance is a SCSI disk discovered behind an FCP device.
type FCPInstance struct {
	// ID is the unique device identifier of the disk. The appliance may prefix the
	// 32 hex digit UDID with a single type digit.
	ID string `json:"id"`

	// Status is the instance status, only PathFree instances can be installed to.
	Status PathStatus `json:"status,omitempty"`

	// Paths lists every known route to the disk.
	Paths []FCPPath `json:"paths,omitempty"`
}

// FCPDiskList is the body of the FCP disk discovery endpoint.
type FCPDiskList struct {
	Instances []FCPInstance `json:"instances"`
}

// StorageDevice is an ECKD (DASD) storage device assigned to the LPAR.
type StorageDevice struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// StorageDeviceList is the body of the storage device endpoint.
type StorageDeviceList struct {
	Instances []StorageDevice `json:"instances"`
}

// Has reports whether a device with the given id is in the list.
func (l StorageDeviceList) Has(id string) bool {
	for _, d := range l.Instances {
		if d.ID == id {
			return true
		}
	}
	return false
}

// Disk describes the boot disk of a select request.
// DASD disks only carry an ID, FCP disks carry the ID of the FCP device plus the path.
type Disk struct {
	ID string `json:"id"`
	// +optional
	WWPN string `json:"wwpn,omitempty"`
	// +optional
	LUN string `json:"lun,omitempty"`
}

// SelectParameters select the boot disk and optionally reboot into it.
type SelectParameters struct {
	Disk        Disk `json:"disk"`
	RebootAfter bool `json:"reboot-after"`
}
