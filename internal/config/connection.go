package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

var (
	ErrMissingIP            = errors.New("config: connection missing ip")
	ErrInvalidPort          = errors.New("config: connection port out of range")
	ErrUnsupportedTransport = errors.New("config: unsupported transport")
)

// ConnectionProperties is the Jupyter connection file.
type ConnectionProperties struct {
	IP              string `json:"ip"`
	Transport       string `json:"transport"`
	SignatureScheme string `json:"signature_scheme"`
	Key             string `json:"key"`
	ShellPort       int    `json:"shell_port"`
	ControlPort     int    `json:"control_port"`
	StdinPort       int    `json:"stdin_port"`
	HBPort          int    `json:"hb_port"`
	IOPubPort       int    `json:"iopub_port"`
	KernelName      string `json:"kernel_name,omitempty"`
}

func LoadConnectionFile(path string) (ConnectionProperties, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ConnectionProperties{}, fmt.Errorf("connection file load failed (%s): %w", path, err)
	}
	props, err := ParseConnection(data)
	if err != nil {
		return ConnectionProperties{}, fmt.Errorf("connection file %s: %w", path, err)
	}
	return props, nil
}

// ParseConnection decodes and validates a connection file. Transport
// defaults to tcp and signature_scheme to hmac-sha256.
func ParseConnection(data []byte) (ConnectionProperties, error) {
	var props ConnectionProperties
	if err := json.Unmarshal(data, &props); err != nil {
		return ConnectionProperties{}, fmt.Errorf("connection parse failed: %w", err)
	}
	if strings.TrimSpace(props.Transport) == "" {
		props.Transport = "tcp"
	}
	if strings.TrimSpace(props.SignatureScheme) == "" {
		props.SignatureScheme = "hmac-sha256"
	}
	if err := ValidateConnection(props); err != nil {
		return ConnectionProperties{}, err
	}
	return props, nil
}

func ValidateConnection(props ConnectionProperties) error {
	if strings.TrimSpace(props.IP) == "" {
		return ErrMissingIP
	}
	switch strings.ToLower(props.Transport) {
	case "tcp", "ipc":
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedTransport, props.Transport)
	}
	ports := map[string]int{
		"shell_port":   props.ShellPort,
		"control_port": props.ControlPort,
		"stdin_port":   props.StdinPort,
		"hb_port":      props.HBPort,
		"iopub_port":   props.IOPubPort,
	}
	for _, name := range []string{"shell_port", "control_port", "stdin_port", "hb_port", "iopub_port"} {
		if p := ports[name]; p <= 0 || p > 65535 {
			return fmt.Errorf("%w: %s=%d", ErrInvalidPort, name, p)
		}
	}
	return nil
}

// NewConnectionProperties allocates free tcp ports on ip and a random
// 32-byte hex key.
func NewConnectionProperties(ip string) (ConnectionProperties, error) {
	if strings.TrimSpace(ip) == "" {
		ip = "127.0.0.1"
	}
	ports, err := freePorts(ip, 5)
	if err != nil {
		return ConnectionProperties{}, err
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return ConnectionProperties{}, fmt.Errorf("generate key: %w", err)
	}
	return ConnectionProperties{
		IP:              ip,
		Transport:       "tcp",
		SignatureScheme: "hmac-sha256",
		Key:             hex.EncodeToString(key),
		ShellPort:       ports[0],
		ControlPort:     ports[1],
		StdinPort:       ports[2],
		HBPort:          ports[3],
		IOPubPort:       ports[4],
	}, nil
}

func WriteConnectionFile(path string, props ConnectionProperties, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("connection file already exists: %s", path)
		}
	}
	data, err := json.MarshalIndent(props, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func freePorts(ip string, n int) ([]int, error) {
	listeners := make([]net.Listener, 0, n)
	defer func() {
		for _, l := range listeners {
			_ = l.Close()
		}
	}()
	ports := make([]int, 0, n)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", net.JoinHostPort(ip, "0"))
		if err != nil {
			return nil, fmt.Errorf("allocate port: %w", err)
		}
		listeners = append(listeners, l)
		ports = append(ports, l.Addr().(*net.TCPAddr).Port)
	}
	return ports, nil
}
