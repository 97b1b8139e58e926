package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "kernel":
		return kernelTemplate, nil
	case "client":
		return clientTemplate, nil
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

const kernelTemplate = `name = "echokernel"
log_level = "info"
poll_interval = "50ms"
heartbeat_interval = "500ms"
stdin_timeout = "0s"
banner = "echokernel: every cell evaluates to its own source"
history_limit = 1000

# admin surface, disabled when empty
admin_addr = ""
admin_token = ""
# https when cert and key are set, mutual tls when client_ca is also set
admin_tls_cert = ""
admin_tls_key = ""
admin_tls_client_ca = ""
cors_origins = ["http://localhost:8888"]
`

const clientTemplate = `username = "kernelctl"
timeout = "30s"
await_idle = true
heartbeat_interval = "1s"
heartbeat_dead_after = "1s"
# consecutive missed echoes that declare the kernel dead
heartbeat_allowed_failures = 3
`
