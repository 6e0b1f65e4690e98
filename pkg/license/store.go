// Package license keeps the local record of which appliance versions an operator
// accepted the license for.
package license

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"k8s.io/utils/clock"
)

const (
	acceptSuffix      = ".accept"
	licenseFile       = "Lic_en-US.txt"
	nonIBMLicenseFile = "non_ibm_license.txt"
)

// Store is a directory holding one <version>.accept file per accepted version.
type Store struct {
	dir   string
	clock clock.PassiveClock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock of the timestamps written to accept files.
func WithClock(c clock.PassiveClock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// NewStore returns a Store rooted at dir. The directory is created on first write.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Accepted reports whether the license of version was accepted before.
func (s *Store) Accepted(version string) (bool, error) {
	if version == "" {
		return false, errors.New("appliance version is empty")
	}
	_, err := os.Stat(s.acceptPath(version))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("check license accept file: %w", err)
	}
}

// Record marks the license of version as accepted and returns the written file.
func (s *Store) Record(version string) (string, error) {
	if version == "" {
		return "", errors.New("appliance version is empty")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create license path: %w", err)
	}
	name := s.acceptPath(version)
	if err := os.WriteFile(name, []byte(s.clock.Now().String()), 0o644); err != nil { //nolint:gosec // not a secret.
		return "", fmt.Errorf("write license accept file: %w", err)
	}

	return name, nil
}

// SaveTexts writes the license texts for review and returns their file names.
func (s *Store) SaveTexts(license, nonIBM []byte) (string, string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create license path: %w", err)
	}
	lic := filepath.Join(s.dir, licenseFile)
	if err := os.WriteFile(lic, license, 0o644); err != nil { //nolint:gosec // license text.
		return "", "", fmt.Errorf("write license file: %w", err)
	}
	non := filepath.Join(s.dir, nonIBMLicenseFile)
	if err := os.WriteFile(non, nonIBM, 0o644); err != nil { //nolint:gosec // license text.
		return "", "", fmt.Errorf("write non-IBM license file: %w", err)
	}

	return lic, non, nil
}

func (s *Store) acceptPath(version string) string {
	return filepath.Join(s.dir, version+acceptSuffix)
}
