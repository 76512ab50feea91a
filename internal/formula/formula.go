package formula

import (
	"fmt"
	"strings"
)

// Spec holds the pieces of one model formula. Covariates come before the
// predictor of interest; the grouping term (repeated measures) and the
// strata term (matched designs) are appended after it.
type Spec struct {
	Outcome    string
	Predictor  string
	Covariates []string
	Group      string
	Strata     string
}

// Build renders the formula string and returns it together with the
// predictor's term name. Fitters extract the coefficient of interest by
// that name, so the rendered term order carries no hidden contract.
// No validation happens here; malformed names surface as fit failures.
func Build(s Spec) (string, string) {
	var b strings.Builder
	b.WriteString(s.Outcome)
	b.WriteString(" ~ ")
	for _, c := range s.Covariates {
		b.WriteString(c)
		b.WriteString(" + ")
	}
	b.WriteString(s.Predictor)
	if s.Group != "" {
		fmt.Fprintf(&b, " + (1 | %s)", s.Group)
	}
	if s.Strata != "" {
		fmt.Fprintf(&b, " + strata(%s)", s.Strata)
	}
	return b.String(), s.Predictor
}

// BuildMixture renders the joint formula for a quantile g-computation fit,
// where every exposure enters the model together.
func BuildMixture(outcome string, exposures, covariates []string) string {
	var b strings.Builder
	b.WriteString(outcome)
	b.WriteString(" ~ ")
	terms := make([]string, 0, len(covariates)+len(exposures))
	terms = append(terms, covariates...)
	terms = append(terms, exposures...)
	b.WriteString(strings.Join(terms, " + "))
	return b.String()
}
