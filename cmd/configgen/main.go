package main

import (
	"flag"
	"log"

	"github.com/danmuck/jupyterwire/internal/config"
)

func main() {
	kind := flag.String("kind", "kernel", "config kind: kernel|client|connection")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind path)")
	ip := flag.String("ip", "127.0.0.1", "bind address for -kind connection")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		switch *kind {
		case "kernel":
			if _, err := config.LoadKernelConfig(path); err != nil {
				log.Fatal(err)
			}
		case "connection":
			if _, err := config.LoadConnectionFile(path); err != nil {
				log.Fatal(err)
			}
		default:
			log.Fatalf("cannot validate kind: %s", *kind)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}

	if *kind == "connection" {
		props, err := config.NewConnectionProperties(*ip)
		if err != nil {
			log.Fatal(err)
		}
		if err := config.WriteConnectionFile(target, props, *force); err != nil {
			log.Fatal(err)
		}
		log.Printf("Wrote connection file to %s (shell=%d iopub=%d hb=%d)", target, props.ShellPort, props.IOPubPort, props.HBPort)
		return
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}

func defaultPath(kind string) string {
	switch kind {
	case "kernel":
		return "cmd/echokernel/config.toml"
	case "client":
		return "cmd/kernelctl/config.toml"
	case "connection":
		return "kernel.json"
	default:
		log.Fatalf("unknown kind: %s", kind)
		return ""
	}
}
