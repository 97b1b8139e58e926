// Package tools runs host commands for evaluators that shell out.
package tools
