package config

// Environment variables understood by the adapter resolver.
const (
	EnvInputPath    = "RPA_INPUT_WORKITEM_PATH"
	EnvOutputPath   = "RPA_OUTPUT_WORKITEM_PATH"
	EnvRemoteHost   = "RC_API_WORKITEM_HOST"
	EnvRemoteToken  = "RC_API_WORKITEM_TOKEN"
	EnvWorkspaceID  = "RC_WORKSPACE_ID"
	EnvProcessRunID = "RC_PROCESS_RUN_ID"
	EnvAdapterKind  = "RPA_WORKITEMS_ADAPTER"
	EnvAllowDefault = "RPA_WORKITEMS_ALLOW_DEFAULT"
)

// ApplyEnv copies environment settings into empty adapter fields. Values
// already present in the configuration file win.
func (a *AdapterConfig) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		return
	}
	setIfEmpty(&a.Kind, getenv(EnvAdapterKind))
	setIfEmpty(&a.File.InputPath, getenv(EnvInputPath))
	setIfEmpty(&a.File.OutputPath, getenv(EnvOutputPath))
	setIfEmpty(&a.Remote.Host, getenv(EnvRemoteHost))
	setIfEmpty(&a.Remote.Token, getenv(EnvRemoteToken))
	setIfEmpty(&a.Remote.Workspace, getenv(EnvWorkspaceID))
	if v := getenv(EnvProcessRunID); v != "" && (a.Remote.RunID == "" || a.Remote.RunID == "default") {
		a.Remote.RunID = v
	}
	switch getenv(EnvAllowDefault) {
	case "1", "true", "TRUE", "yes":
		a.AllowDefault = true
	}
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}
