package wifi

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrSSID is returned for SSIDs outside 1..32 bytes.
	ErrSSID = errors.New("invalid SSID")
	// ErrPassphrase is returned for passphrases WPA2 would reject.
	ErrPassphrase = errors.New("invalid passphrase")
)

const (
	maxSSIDLen      = 32
	minPassphrase   = 8
	maxPassphrase   = 63
	rawPSKHexLength = 64
)

// Credentials are the access-point settings compiled into the firmware.
type Credentials struct {
	SSID       string `yaml:"ssid" json:"ssid"`
	Passphrase string `yaml:"pass" json:"pass,omitempty"`
}

// Open reports whether the network has no passphrase.
func (c Credentials) Open() bool {
	return c.Passphrase == ""
}

// Validate checks the credentials against what an 802.11 station accepts.
// An empty passphrase means an open network.
func (c Credentials) Validate() error {
	if n := len(c.SSID); n == 0 || n > maxSSIDLen {
		return fmt.Errorf("%w: must be 1-%d bytes, got %d", ErrSSID, maxSSIDLen, n)
	}
	if c.Open() {
		return nil
	}
	if len(c.Passphrase) == rawPSKHexLength && isHex(c.Passphrase) {
		return nil
	}
	if n := len(c.Passphrase); n < minPassphrase || n > maxPassphrase {
		return fmt.Errorf("%w: must be %d-%d characters or %d hex digits, got %d characters",
			ErrPassphrase, minPassphrase, maxPassphrase, rawPSKHexLength, n)
	}
	for _, r := range c.Passphrase {
		if r < 0x20 || r > 0x7e {
			return fmt.Errorf("%w: only printable ASCII is allowed", ErrPassphrase)
		}
	}
	return nil
}

func isHex(s string) bool {
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F') {
			return false
		}
	}
	return true
}

// CommandRunner runs an external command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Scanner checks which networks are visible from this machine via
// NetworkManager.
type Scanner struct {
	logger *logrus.Logger
	run    CommandRunner
}

// NewScanner creates a Scanner. A nil runner executes commands for real.
func NewScanner(logger *logrus.Logger, run CommandRunner) *Scanner {
	if run == nil {
		run = execRunner
	}
	return &Scanner{logger: logger, run: run}
}

// VisibleSSIDs lists the SSIDs NetworkManager currently sees.
func (s *Scanner) VisibleSSIDs(ctx context.Context) ([]string, error) {
	// nmcli may trigger a rescan; do not let it hang the caller.
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := s.run(ctx, "nmcli", "-t", "-f", "SSID", "dev", "wifi", "list")
	if err != nil {
		return nil, fmt.Errorf("nmcli wifi list: %w", err)
	}

	var ssids []string
	seen := map[string]bool{}
	for _, line := range strings.Split(string(out), "\n") {
		// terse mode escapes ':' and '\' with a backslash
		ssid := strings.NewReplacer(`\:`, ":", `\\`, `\`).Replace(strings.TrimRight(line, "\r"))
		if ssid == "" || seen[ssid] {
			continue
		}
		seen[ssid] = true
		ssids = append(ssids, ssid)
	}
	return ssids, nil
}

// IsVisible reports whether ssid is among the visible networks.
func (s *Scanner) IsVisible(ctx context.Context, ssid string) (bool, error) {
	ssids, err := s.VisibleSSIDs(ctx)
	if err != nil {
		return false, err
	}
	for _, v := range ssids {
		if v == ssid {
			s.logger.WithField("ssid", ssid).Debug("Access point is visible")
			return true, nil
		}
	}
	s.logger.WithFields(logrus.Fields{
		"ssid":    ssid,
		"visible": len(ssids),
	}).Debug("Access point not in scan results")
	return false, nil
}
