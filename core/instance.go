package core

import (
	"fmt"
	"os"

	"github.com/oklog/ulid/v2"
)

// NewInstanceID builds a process identifier from hostname, pid and a ULID,
// used to tell replicas apart in logs.
func NewInstanceID(role string) string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = role
	}
	return fmt.Sprintf("%s:%s:%d:%s", role, hostname, os.Getpid(), ulid.Make().String())
}
