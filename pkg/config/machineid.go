package config

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// AppID scopes the protected machine ID to this application.
const AppID = "uartlink"

// MachineID retrieves the ID identifying the machine, falling back to the
// host name when it's not available.
func MachineID() string {
	id, err := machineid.ProtectedID(AppID)
	if err == nil {
		return id
	}
	glog.Warningf("machine ID not available: %v", err)
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return AppID
}
