// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"

	"golang.org/x/sys/unix"
)

// ID returns the id of the calling process. Unlike a value captured at
// startup, it changes in a forked child.
func ID() int {
	return unix.Getpid()
}

// cgroupPath is the cgroup membership file of the calling process.
const cgroupPath = "/proc/self/cgroup"

var (
	// containerIDPattern matches the 64-hex-digit ids used by Docker,
	// containerd and CRI-O, with or without a runtime prefix such as
	// "docker-" or "cri-containerd-" and a ".scope" suffix.
	containerIDPattern = regexp.MustCompile(`([0-9a-f]{64})(?:\.scope)?$`)

	// taskIDPattern matches ECS Fargate task ids: 32 hex digits
	// followed by a dash and a numeric suffix.
	taskIDPattern = regexp.MustCompile(`([0-9a-f]{32}-[0-9]+)$`)
)

// ContainerID returns the id of the container the process runs in, or
// "" if it cannot be determined.
func ContainerID() string {
	file, err := os.Open(cgroupPath)
	if err != nil {
		return ""
	}
	defer file.Close()
	return containerIDFrom(file)
}

// containerIDFrom scans cgroup lines of the form
// "hierarchy-id:controllers:path" and returns the first container id
// found in a path.
func containerIDFrom(reader io.Reader) string {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), ":", 3)
		if len(fields) != 3 {
			continue
		}
		path := fields[2]
		if match := containerIDPattern.FindStringSubmatch(path); match != nil {
			return match[1]
		}
		if match := taskIDPattern.FindStringSubmatch(path); match != nil {
			return match[1]
		}
	}
	return ""
}
