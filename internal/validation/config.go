package validation

import (
	"log"
	"os"

	"github.com/goccy/go-yaml"
)

// ErrorType identifies one QC check failure kind. The string values appear
// verbatim in error-report CSVs, so treat them as a stable contract.
type ErrorType string

const (
	// Field-validity errors (blocking).
	ErrMissingCode         ErrorType = "Missing Default Code"
	ErrMissingName         ErrorType = "Missing Default Name"
	ErrInvalidParentCode   ErrorType = "Invalid Parent Code"
	ErrInvalidPrivacyLevel ErrorType = "Invalid Privacy Level"

	// Geometry-integrity errors (blocking).
	ErrDegeneratePolygon ErrorType = "Degenerate Polygon"
	ErrSelfIntersects    ErrorType = "Self Intersects"
	ErrSelfContacts      ErrorType = "Self Contacts"
	ErrDuplicatedNodes   ErrorType = "Duplicated Nodes"

	// Topology errors (blocking).
	ErrDuplicatedGeometry  ErrorType = "Duplicated Geometries"
	ErrOverlaps            ErrorType = "Overlaps"
	ErrWithinOther         ErrorType = "Within Other Features"
	ErrGeometryHierarchy   ErrorType = "Geometry Hierarchy"
	ErrParentCodeHierarchy ErrorType = "Parent Code Hierarchy"
	ErrGaps                ErrorType = "Gaps"

	// Non-blocking notices.
	ErrUpgradedPrivacyLevel ErrorType = "Upgraded Privacy Level"
)

// AllErrorTypes fixes the column order of error-report CSVs.
var AllErrorTypes = []ErrorType{
	ErrMissingCode,
	ErrMissingName,
	ErrInvalidParentCode,
	ErrInvalidPrivacyLevel,
	ErrDegeneratePolygon,
	ErrSelfIntersects,
	ErrSelfContacts,
	ErrDuplicatedNodes,
	ErrDuplicatedGeometry,
	ErrOverlaps,
	ErrWithinOther,
	ErrGeometryHierarchy,
	ErrParentCodeHierarchy,
	ErrGaps,
	ErrUpgradedPrivacyLevel,
}

// Config holds the deployment-tunable error classification sets. The defaults
// mirror the shipped behavior; a YAML file pointed at by QC_CONFIG_PATH can
// override either set per deployment.
type Config struct {
	AllowableErrors        []ErrorType `yaml:"allowable_errors"`
	SuperadminBypassErrors []ErrorType `yaml:"superadmin_bypass_errors"`
}

// DefaultConfig returns the built-in classification sets.
func DefaultConfig() *Config {
	return &Config{
		AllowableErrors: []ErrorType{
			ErrUpgradedPrivacyLevel,
		},
		SuperadminBypassErrors: []ErrorType{
			ErrSelfContacts,
			ErrDuplicatedNodes,
			ErrOverlaps,
			ErrGaps,
		},
	}
}

// LoadConfig reads QC_CONFIG_PATH if set, falling back to defaults. A broken
// config file is a deployment error worth failing loudly over.
func LoadConfig() *Config {
	path := os.Getenv("QC_CONFIG_PATH")
	if path == "" {
		return DefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("[validation] cannot read QC_CONFIG_PATH %s: %v", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Fatalf("[validation] cannot parse QC_CONFIG_PATH %s: %v", path, err)
	}
	return cfg
}

// IsAllowable reports whether an error type is a non-blocking notice.
func (c *Config) IsAllowable(t ErrorType) bool {
	for _, a := range c.AllowableErrors {
		if a == t {
			return true
		}
	}
	return false
}

// IsBypassable reports whether a superadmin may force an import past this
// blocking error type.
func (c *Config) IsBypassable(t ErrorType) bool {
	for _, b := range c.SuperadminBypassErrors {
		if b == t {
			return true
		}
	}
	return false
}
