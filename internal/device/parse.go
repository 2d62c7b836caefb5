// Copyright 2025 Joseph Cumines

package device

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var topActivityPattern = regexp.MustCompile(`topActivity=ComponentInfo\{([^/]+)/([^}]+)\}`)

// uiautomator appends this notice after the XML when dumping to a tty.
// The misspelling is the tool's.
var dumpNotice = []byte("UI hierchary dumped to")

// parseDevices extracts serials from "adb devices" output, skipping the
// header line and daemon start-up notices.
func parseDevices(out []byte) []string {
	var devices []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	header := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "*") {
			continue
		}
		if header {
			header = false
			if strings.HasPrefix(line, "List of devices") {
				continue
			}
		}
		if fields := strings.Fields(line); len(fields) > 0 {
			devices = append(devices, fields[0])
		}
	}
	return devices
}

func parseActivity(out []byte) (Activity, error) {
	m := topActivityPattern.FindSubmatch(out)
	if m == nil {
		return Activity{}, fmt.Errorf("failed to parse activity info from: %s", bytes.TrimSpace(out))
	}
	pkg := string(m[1])
	return Activity{PackageName: pkg, ActivityName: relativeActivity(pkg, string(m[2]))}, nil
}

// relativeActivity expresses activity relative to pkg, always with a leading
// dot.
func relativeActivity(pkg, activity string) string {
	activity = strings.TrimPrefix(activity, pkg)
	if !strings.HasPrefix(activity, ".") {
		activity = "." + activity
	}
	return activity
}

func trimDumpNotice(out []byte) ([]byte, error) {
	if i := bytes.Index(out, dumpNotice); i >= 0 {
		out = out[:i]
	}
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, errors.New("uiautomator produced an empty dump")
	}
	return out, nil
}
