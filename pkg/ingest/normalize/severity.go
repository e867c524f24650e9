package normalize

import (
	"strings"

	gocvss20 "github.com/pandatix/go-cvss/20"
	gocvss30 "github.com/pandatix/go-cvss/30"
	gocvss31 "github.com/pandatix/go-cvss/31"
	gocvss40 "github.com/pandatix/go-cvss/40"
	"github.com/pkg/errors"

	"github.com/crsche/trustify/pkg/model"
)

// parseSeverity computes the numeric score and rating for a CVSS vector.
// CVSS 2.0 has no rating of its own, so the 3.0 bands are used for it.
func parseSeverity(vector string) (*model.Severity, error) {
	switch {
	case strings.HasPrefix(vector, "CVSS:3.0/"):
		vec, err := gocvss30.ParseVector(vector)
		if err != nil {
			return nil, errors.Wrap(err, "parse cvss v3.0 vector")
		}
		score := vec.BaseScore()
		rating, err := gocvss30.Rating(score)
		if err != nil {
			rating = "UNKNOWN"
		}
		return &model.Severity{Score: score, Rating: rating, Vector: vector}, nil
	case strings.HasPrefix(vector, "CVSS:3.1/"):
		vec, err := gocvss31.ParseVector(vector)
		if err != nil {
			return nil, errors.Wrap(err, "parse cvss v3.1 vector")
		}
		score := vec.BaseScore()
		rating, err := gocvss31.Rating(score)
		if err != nil {
			rating = "UNKNOWN"
		}
		return &model.Severity{Score: score, Rating: rating, Vector: vector}, nil
	case strings.HasPrefix(vector, "CVSS:4.0/"):
		vec, err := gocvss40.ParseVector(vector)
		if err != nil {
			return nil, errors.Wrap(err, "parse cvss v4.0 vector")
		}
		score := vec.Score()
		rating, err := gocvss40.Rating(score)
		if err != nil {
			rating = "UNKNOWN"
		}
		return &model.Severity{Score: score, Rating: rating, Vector: vector}, nil
	default:
		vec, err := gocvss20.ParseVector(vector)
		if err != nil {
			return nil, errors.Wrap(err, "parse cvss vector")
		}
		score := vec.BaseScore()
		rating, err := gocvss30.Rating(score)
		if err != nil {
			rating = "UNKNOWN"
		}
		return &model.Severity{Score: score, Rating: rating, Vector: vector}, nil
	}
}
