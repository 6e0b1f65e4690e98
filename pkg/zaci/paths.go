package zaci

// REST endpoints of the appliance used by aqtctl.
const (
	PathAPITokens          = "/api/com.ibm.zaci.system/api-tokens"
	PathAppliance          = "/api/com.ibm.zaci.system/appliance"
	PathApplianceOperation = "/api/com.ibm.zaci.system/appliance/is-operational"
	PathSoftwareLicense    = "/api/com.ibm.zaci.system/software-license"
	PathFCPDisks           = "/api/com.ibm.zaci.system/fcp-disks"
	PathStorageDevices     = "/api/com.ibm.zaci.system/storage-devices"
	PathInstall            = "/api/com.ibm.zaci.system/sw-appliances/install"
	PathSelect             = "/api/com.ibm.zaci.system/sw-appliances/select"
	PathSwitchToInstaller  = "/api/com.ibm.zaci.system/maintenance-actions/switch-to-installer"

	PathAcceleratorStatus = "/api/com.ibm.aqt/components/appliance"
	PathServerStatus      = "/api/com.ibm.aqt/components/accelerator_server"
	PathConfiguration     = "/api/com.ibm.aqt/configuration"
	PathValidateConfig    = "/api/com.ibm.aqt/configuration/validate_config"
	PathCompleteUpdate    = "/api/com.ibm.aqt/cluster/update_data_nodes_with_credentials"

	PathLicenseText       = "/License/Lic_en-US.txt"
	PathNonIBMLicenseText = "/Non_IBM_License/non_ibm_license.txt"
)
