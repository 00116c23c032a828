// Package launchd schedules periodic cache refreshes as a macOS user agent.
package launchd

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const (
	DefaultLabel           = "com.secnews.refresh"
	DefaultIntervalMinutes = 10
)

var ErrUnsupported = errors.New("launchd is only available on macOS")

// Schedule describes a launchd agent that runs the refresh command every
// IntervalMinutes.
type Schedule struct {
	Label           string
	IntervalMinutes int
	ProgramPath     string   // absolute path to the secnews binary
	ProgramArgs     []string // args after ProgramPath
	LogPath         string   // stdout and stderr of each run
	PlistPath       string   // optional; defaults to ~/Library/LaunchAgents/<label>.plist
}

func DefaultAgentPath(label string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "LaunchAgents", label+".plist"), nil
}

func defaultLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "secnews-refresh.log")
	}
	return filepath.Join(home, "Library", "Logs", "secnews", "refresh.log")
}

func (s Schedule) withDefaults() Schedule {
	if strings.TrimSpace(s.Label) == "" {
		s.Label = DefaultLabel
	}
	if s.IntervalMinutes <= 0 {
		s.IntervalMinutes = DefaultIntervalMinutes
	}
	if strings.TrimSpace(s.LogPath) == "" {
		s.LogPath = defaultLogPath()
	}
	return s
}

// BuildPlist renders the agent definition. Each run is a one-shot refresh, so
// the agent is not kept alive between intervals.
func BuildPlist(s Schedule) ([]byte, error) {
	s = s.withDefaults()
	if s.ProgramPath == "" {
		return nil, errors.New("program path required")
	}

	escape := func(v string) string {
		var b bytes.Buffer
		_ = xml.EscapeText(&b, []byte(v))
		return b.String()
	}
	str := func(buf *bytes.Buffer, key, val string) {
		fmt.Fprintf(buf, "    <key>%s</key>\n    <string>%s</string>\n", key, escape(val))
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<!DOCTYPE plist PUBLIC \"-//Apple//DTD PLIST 1.0//EN\" \"http://www.apple.com/DTDs/PropertyList-1.0.dtd\">\n")
	buf.WriteString("<plist version=\"1.0\">\n  <dict>\n")
	str(&buf, "Label", s.Label)
	buf.WriteString("    <key>ProgramArguments</key>\n    <array>\n")
	for _, a := range append([]string{s.ProgramPath}, s.ProgramArgs...) {
		fmt.Fprintf(&buf, "      <string>%s</string>\n", escape(a))
	}
	buf.WriteString("    </array>\n")
	fmt.Fprintf(&buf, "    <key>StartInterval</key>\n    <integer>%d</integer>\n", s.IntervalMinutes*60)
	buf.WriteString("    <key>RunAtLoad</key>\n    <true/>\n")
	str(&buf, "StandardOutPath", s.LogPath)
	str(&buf, "StandardErrorPath", s.LogPath)
	buf.WriteString("  </dict>\n</plist>\n")
	return buf.Bytes(), nil
}

// Install writes the plist and loads it via launchctl. It returns the plist path.
func Install(s Schedule) (string, error) {
	if runtime.GOOS != "darwin" {
		return "", ErrUnsupported
	}
	s = s.withDefaults()
	plistPath := s.PlistPath
	if strings.TrimSpace(plistPath) == "" {
		var err error
		plistPath, err = DefaultAgentPath(s.Label)
		if err != nil {
			return "", err
		}
	}
	data, err := BuildPlist(s)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(plistPath), 0o755); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(s.LogPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(plistPath, data, 0o644); err != nil {
		return "", err
	}

	lctl := launchctlPath()
	if lctl == "" {
		return plistPath, errors.New("launchctl not found in /bin, /usr/bin, or PATH")
	}
	domain := fmt.Sprintf("gui/%d", os.Getuid())
	if err := exec.Command(lctl, "bootstrap", domain, plistPath).Run(); err != nil {
		if err2 := exec.Command(lctl, "load", "-w", plistPath).Run(); err2 != nil {
			return plistPath, fmt.Errorf("launchctl bootstrap/load failed: %v / %v", err, err2)
		}
	} else {
		_ = exec.Command(lctl, "enable", domain+"/"+s.Label).Run()
	}
	return plistPath, nil
}

// Uninstall unloads the agent and removes its plist.
func Uninstall(label, plistPath string) error {
	if runtime.GOOS != "darwin" {
		return ErrUnsupported
	}
	if strings.TrimSpace(label) == "" {
		label = DefaultLabel
	}
	if strings.TrimSpace(plistPath) == "" {
		var err error
		plistPath, err = DefaultAgentPath(label)
		if err != nil {
			return err
		}
	}
	lctl := launchctlPath()
	if lctl == "" {
		return errors.New("launchctl not found")
	}
	domain := fmt.Sprintf("gui/%d", os.Getuid())
	if err := exec.Command(lctl, "bootout", domain, plistPath).Run(); err != nil {
		_ = exec.Command(lctl, "unload", "-w", plistPath).Run()
	}
	if err := os.Remove(plistPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Status reports whether the agent is loaded and its launchd state line.
func Status(label string) (bool, string) {
	if runtime.GOOS != "darwin" {
		return false, "unsupported"
	}
	if strings.TrimSpace(label) == "" {
		label = DefaultLabel
	}
	lctl := launchctlPath()
	if lctl == "" {
		return false, "launchctl not found"
	}
	out, err := exec.Command(lctl, "print", fmt.Sprintf("gui/%d/%s", os.Getuid(), label)).CombinedOutput()
	if err != nil {
		return false, "not loaded"
	}
	for _, ln := range strings.Split(string(out), "\n") {
		if strings.Contains(ln, "state = ") {
			return true, strings.TrimSpace(ln)
		}
	}
	return true, "loaded"
}

func launchctlPath() string {
	for _, c := range []string{"/bin/launchctl", "/usr/bin/launchctl"} {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	if p, err := exec.LookPath("launchctl"); err == nil {
		return p
	}
	return ""
}

// IntervalMinutes reads StartInterval back from an installed plist.
func IntervalMinutes(plistPath string) (int, error) {
	f, err := os.Open(plistPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return startInterval(f)
}

// startInterval walks the top-level dict looking for the integer that follows
// the StartInterval key.
func startInterval(r io.Reader) (int, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	var lastKey string
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return 0, errors.New("StartInterval not found")
		}
		if err != nil {
			return 0, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "key":
			if err := dec.DecodeElement(&lastKey, &start); err != nil {
				return 0, err
			}
		case "integer":
			var v string
			if err := dec.DecodeElement(&v, &start); err != nil {
				return 0, err
			}
			if lastKey == "StartInterval" {
				secs, err := strconv.Atoi(strings.TrimSpace(v))
				if err != nil {
					return 0, fmt.Errorf("StartInterval: %w", err)
				}
				return secs / 60, nil
			}
		}
	}
}
