package models

import "runtime/debug"

type BuildProperties struct {
	GoVersion   string `json:"go.version"`
	ModulePath  string `json:"module.path"`
	VCSRevision string `json:"vcs.revision,omitempty"`
	VCSTime     string `json:"vcs.time,omitempty"`
	VCSModified string `json:"vcs.modified,omitempty"`
}

// ConfigModel is the public, non-secret view of the running configuration.
type ConfigModel struct {
	Build                BuildProperties `json:"buildProperties"`
	Id                   string          `json:"id"`
	Name                 string          `json:"name"`
	Env                  string          `json:"env"`
	StaleAfterSeconds    int64           `json:"staleAfterSeconds"`
	AutoStopAfterSeconds int64           `json:"autoStopAfterSeconds"`
	SpeedHistorySize     int             `json:"speedHistorySize"`
	RateLimit            int             `json:"rateLimit"`
	NATSRelay            bool            `json:"natsRelay"`
}

// NewBuildProperties reads the build metadata embedded by the go tool.
func NewBuildProperties() BuildProperties {
	props := BuildProperties{GoVersion: "unknown", ModulePath: "unknown"}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return props
	}
	props.GoVersion = info.GoVersion
	props.ModulePath = info.Main.Path
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			props.VCSRevision = s.Value
		case "vcs.time":
			props.VCSTime = s.Value
		case "vcs.modified":
			props.VCSModified = s.Value
		}
	}
	return props
}
