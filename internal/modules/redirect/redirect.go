// Package redirect answers matching requests with an HTTP redirect.
// Configure it as a content module so the redirect counts as the
// response.
package redirect

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/go-viper/mapstructure/v2"

	"github.com/oxlabs/ox-webservice/internal/module"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

type ruleParams struct {
	Match     string `mapstructure:"match"`
	Target    string `mapstructure:"target"`
	Permanent bool   `mapstructure:"permanent"`
}

type params struct {
	Rules []ruleParams `mapstructure:"rules"`
}

type rule struct {
	re        *regexp.Regexp
	target    string
	permanent bool
}

type Redirect struct {
	rules []rule
}

// New compiles the configured rules. Each rule's target may reference
// capture groups from its match expression ($1, ${name}).
func New(deps module.Deps) (module.Handler, error) {
	var p params
	if err := mapstructure.Decode(deps.Params, &p); err != nil {
		return nil, fmt.Errorf("decoding redirect params: %w", err)
	}
	if len(p.Rules) == 0 {
		return nil, fmt.Errorf("redirect module needs at least one rule")
	}

	r := &Redirect{}
	for _, rp := range p.Rules {
		re, err := regexp.Compile(rp.Match)
		if err != nil {
			return nil, fmt.Errorf("redirect rule %q: %w", rp.Match, err)
		}
		r.rules = append(r.rules, rule{re: re, target: rp.Target, permanent: rp.Permanent})
	}
	return r, nil
}

func (r *Redirect) HandleRequest(_ context.Context, st *pipeline.State) pipeline.HandlerResult {
	for _, rule := range r.rules {
		if !rule.re.MatchString(st.Path) {
			continue
		}
		location := rule.re.ReplaceAllString(st.Path, rule.target)
		st.StatusCode = http.StatusFound
		if rule.permanent {
			st.StatusCode = http.StatusMovedPermanently
		}
		st.ResponseHeaders.Set("Location", location)
		st.ResponseBody = nil
		return pipeline.ModifiedNextPhase()
	}
	return pipeline.UnmodifiedContinue()
}
