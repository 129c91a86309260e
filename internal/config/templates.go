package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "agent", "inventory":
		return agentTemplate, nil
	case "module":
		return moduleTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const agentTemplate = `agent_name = "CFEngine"
agent_version = "3.16.0"
log_level = "info"

[[modules]]
name = "file"
path = "/var/cfengine/modules/promises/file-promise"
timeout = "30s"

[[modules]]
name = "json_merge"
path = "/var/cfengine/modules/promises/json-merge-promise"
record_file = "/var/cfengine/state/json_merge.log"

[[modules]]
name = "gpg_keys"
path = "/var/cfengine/modules/promises/gpg-keys-promise"
env = ["GNUPGHOME=/var/cfengine/gnupg"]
`

const moduleTemplate = `# Read from the file named by PROMISE_MODULE_CONFIG.
record_file = ""
metrics_textfile = ""
metrics_listen = ""
evaluate_timeout = "60s"
log_level = "warn"
`
