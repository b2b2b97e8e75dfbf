package service

import "github.com/kardianos/service"

const (
	ServiceName        = "tracesdl"
	ServiceDisplayName = "TRACES Certificate Downloader"
	ServiceDescription = "Web UI that downloads organic operator certificates from TRACES for uploaded supplier lists"
)

// NewServiceConfig creates the service registration for the given arguments
func NewServiceConfig(args []string) *service.Config {
	cfg := &service.Config{
		Name:        ServiceName,
		DisplayName: ServiceDisplayName,
		Description: ServiceDescription,
		Arguments:   args,
	}

	// Windows-specific options
	cfg.Option = service.KeyValue{
		"StartType": "automatic",
	}

	return cfg
}
