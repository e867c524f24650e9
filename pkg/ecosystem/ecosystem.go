package ecosystem

import (
	"strings"

	gem "github.com/aquasecurity/go-gem-version"
	npm "github.com/aquasecurity/go-npm-version/pkg"
	pep440 "github.com/aquasecurity/go-pep440-version"
	generic "github.com/aquasecurity/go-version/pkg/version"
	hashiver "github.com/hashicorp/go-version"
	apkver "github.com/knqyf263/go-apk-version"
	debver "github.com/knqyf263/go-deb-version"
	rpmver "github.com/knqyf263/go-rpm-version"
	mvnver "github.com/masahiro331/go-mvn-version"
	"github.com/pkg/errors"

	"github.com/crsche/trustify/pkg/model"
)

// Scheme names a version comparison rule set. Every package carries the
// scheme implied by its purl type; statements inherit it from the package
// they constrain.
const (
	SchemeSemver = "semver"
	SchemeNPM    = "npm"
	SchemePyPI   = "pypi"
	SchemeGem    = "gem"
	SchemeMaven  = "maven"
	SchemeDeb    = "deb"
	SchemeRPM    = "rpm"
	SchemeAPK    = "apk"
	SchemeGolang = "golang"
)

var purlTypeScheme = map[string]string{
	"npm":      SchemeNPM,
	"pypi":     SchemePyPI,
	"gem":      SchemeGem,
	"maven":    SchemeMaven,
	"deb":      SchemeDeb,
	"rpm":      SchemeRPM,
	"apk":      SchemeAPK,
	"golang":   SchemeGolang,
	"cargo":    SchemeSemver,
	"composer": SchemeSemver,
	"nuget":    SchemeSemver,
	"hex":      SchemeSemver,
}

// SchemeFor maps a canonical purl type to its version scheme. Unknown types
// get the generic semver-ish comparison.
func SchemeFor(purlType string) string {
	if s, ok := purlTypeScheme[strings.ToLower(purlType)]; ok {
		return s
	}
	return SchemeSemver
}

// Compare orders two version strings under the given scheme. It returns an
// error when either version does not parse under that scheme; callers must
// not fall back to lexical comparison.
func Compare(scheme, a, b string) (int, error) {
	switch scheme {
	case SchemeNPM:
		va, err := npm.NewVersion(a)
		if err != nil {
			return 0, errors.Wrapf(err, "parse npm version %q", a)
		}
		vb, err := npm.NewVersion(b)
		if err != nil {
			return 0, errors.Wrapf(err, "parse npm version %q", b)
		}
		return cmp(va.GreaterThan(vb), va.Equal(vb)), nil
	case SchemePyPI:
		va, err := pep440.Parse(a)
		if err != nil {
			return 0, errors.Wrapf(err, "parse pep440 version %q", a)
		}
		vb, err := pep440.Parse(b)
		if err != nil {
			return 0, errors.Wrapf(err, "parse pep440 version %q", b)
		}
		return cmp(va.GreaterThan(vb), va.Equal(vb)), nil
	case SchemeGem:
		va, err := gem.NewVersion(a)
		if err != nil {
			return 0, errors.Wrapf(err, "parse gem version %q", a)
		}
		vb, err := gem.NewVersion(b)
		if err != nil {
			return 0, errors.Wrapf(err, "parse gem version %q", b)
		}
		return cmp(va.GreaterThan(vb), va.Equal(vb)), nil
	case SchemeMaven:
		va, err := mvnver.NewVersion(a)
		if err != nil {
			return 0, errors.Wrapf(err, "parse maven version %q", a)
		}
		vb, err := mvnver.NewVersion(b)
		if err != nil {
			return 0, errors.Wrapf(err, "parse maven version %q", b)
		}
		return cmp(va.GreaterThan(vb), va.Equal(vb)), nil
	case SchemeDeb:
		va, err := debver.NewVersion(a)
		if err != nil {
			return 0, errors.Wrapf(err, "parse deb version %q", a)
		}
		vb, err := debver.NewVersion(b)
		if err != nil {
			return 0, errors.Wrapf(err, "parse deb version %q", b)
		}
		return cmp(va.GreaterThan(vb), va.Equal(vb)), nil
	case SchemeRPM:
		va := rpmver.NewVersion(a)
		vb := rpmver.NewVersion(b)
		return cmp(va.GreaterThan(vb), va.Equal(vb)), nil
	case SchemeAPK:
		va, err := apkver.NewVersion(a)
		if err != nil {
			return 0, errors.Wrapf(err, "parse apk version %q", a)
		}
		vb, err := apkver.NewVersion(b)
		if err != nil {
			return 0, errors.Wrapf(err, "parse apk version %q", b)
		}
		return cmp(va.GreaterThan(vb), va.Equal(vb)), nil
	case SchemeGolang:
		va, err := hashiver.NewVersion(strings.TrimPrefix(a, "v"))
		if err != nil {
			return 0, errors.Wrapf(err, "parse golang version %q", a)
		}
		vb, err := hashiver.NewVersion(strings.TrimPrefix(b, "v"))
		if err != nil {
			return 0, errors.Wrapf(err, "parse golang version %q", b)
		}
		return cmp(va.GreaterThan(vb), va.Equal(vb)), nil
	case SchemeSemver, "":
		va, err := generic.Parse(a)
		if err != nil {
			return 0, errors.Wrapf(err, "parse version %q", a)
		}
		vb, err := generic.Parse(b)
		if err != nil {
			return 0, errors.Wrapf(err, "parse version %q", b)
		}
		return cmp(va.GreaterThan(vb), va.Equal(vb)), nil
	default:
		return 0, errors.Errorf("unknown version scheme %q", scheme)
	}
}

func cmp(greater, equal bool) int {
	switch {
	case equal:
		return 0
	case greater:
		return 1
	default:
		return -1
	}
}

// Match reports whether version falls inside the range under its scheme.
// Enumerations are matched by scheme equality, not string equality, so
// "1.0" and "1.0.0" collapse where the scheme says they do.
func Match(r model.VersionRange, version string) (bool, error) {
	if r.IsEnumeration() {
		for _, v := range r.Versions {
			c, err := Compare(r.Scheme, version, v)
			if err != nil {
				continue
			}
			if c == 0 {
				return true, nil
			}
		}
		return false, nil
	}

	if r.Introduced != "" && r.Introduced != "0" {
		c, err := Compare(r.Scheme, version, r.Introduced)
		if err != nil {
			return false, err
		}
		if c < 0 {
			return false, nil
		}
	}
	if r.Fixed != "" {
		c, err := Compare(r.Scheme, version, r.Fixed)
		if err != nil {
			return false, err
		}
		return c < 0, nil
	}
	if r.LastAffected != "" {
		c, err := Compare(r.Scheme, version, r.LastAffected)
		if err != nil {
			return false, err
		}
		return c <= 0, nil
	}
	return true, nil
}
