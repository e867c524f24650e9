package model

import (
	"strings"

	"github.com/package-url/packageurl-go"
	"github.com/pkg/errors"
)

// purl types whose namespace and name are case-insensitive per the purl spec.
var caseInsensitiveTypes = map[string]bool{
	"apk":       true,
	"bitbucket": true,
	"composer":  true,
	"deb":       true,
	"github":    true,
	"golang":    true,
	"hex":       true,
	"npm":       true,
	"pypi":      true,
	"rpm":       true,
}

// PURL wraps a parsed package URL in its canonical form: lowercased type,
// case-folded namespace/name where the type demands it, and deterministic
// qualifier ordering. Two spellings that canonicalize equal are the same
// package identity.
type PURL struct {
	packageurl.PackageURL
}

func ParsePURL(raw string) (PURL, error) {
	p, err := packageurl.FromString(strings.TrimSpace(raw))
	if err != nil {
		return PURL{}, errors.Wrapf(err, "parse purl %q", raw)
	}

	p.Type = strings.ToLower(p.Type)
	if caseInsensitiveTypes[p.Type] {
		p.Namespace = strings.ToLower(p.Namespace)
		p.Name = strings.ToLower(p.Name)
	}
	if p.Type == "pypi" {
		p.Name = strings.ReplaceAll(p.Name, "_", "-")
	}
	if p.Name == "" {
		return PURL{}, errors.Errorf("purl %q has no name", raw)
	}

	return PURL{p}, nil
}

// SynthesizePURL builds a deterministic canonical identity for sources that
// declare a component without a package URL. The same (name, version) always
// yields the same identity regardless of which document asserted it.
func SynthesizePURL(name, version string) (PURL, error) {
	if strings.TrimSpace(name) == "" {
		return PURL{}, errors.New("cannot synthesize purl without a name")
	}
	p := packageurl.NewPackageURL(packageurl.TypeGeneric, "", strings.TrimSpace(name), strings.TrimSpace(version), nil, "")
	return ParsePURL(p.ToString())
}

// Identity is the full canonical purl string, qualifiers sorted.
func (p PURL) Identity() string {
	return p.ToString()
}

// Base is the canonical purl without version, qualifiers and subpath. Range
// statements attach at this level.
func (p PURL) Base() string {
	b := packageurl.NewPackageURL(p.Type, p.Namespace, p.Name, "", nil, "")
	return b.ToString()
}

// Package materializes the canonical Package entity for this purl.
func (p PURL) Package() Package {
	var qualifiers map[string]string
	if len(p.Qualifiers) > 0 {
		qualifiers = p.Qualifiers.Map()
	}
	return Package{
		Identity:   p.Identity(),
		Base:       p.Base(),
		Type:       p.Type,
		Namespace:  p.Namespace,
		Name:       p.Name,
		Version:    p.Version,
		Qualifiers: qualifiers,
	}
}
