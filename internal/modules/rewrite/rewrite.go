// Package rewrite rewrites request paths before routing happens. It
// belongs in the early-request phases.
package rewrite

import (
	"context"
	"fmt"
	"regexp"

	"github.com/go-viper/mapstructure/v2"

	"github.com/oxlabs/ox-webservice/internal/module"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

type ruleParams struct {
	Match   string `mapstructure:"match"`
	Replace string `mapstructure:"replace"`
	// Last stops rule evaluation after this rule rewrites.
	Last bool `mapstructure:"last"`
}

type params struct {
	Rules []ruleParams `mapstructure:"rules"`
}

type rule struct {
	re      *regexp.Regexp
	replace string
	last    bool
}

type Rewrite struct {
	rules []rule
}

func New(deps module.Deps) (module.Handler, error) {
	var p params
	if err := mapstructure.Decode(deps.Params, &p); err != nil {
		return nil, fmt.Errorf("decoding rewrite params: %w", err)
	}
	if len(p.Rules) == 0 {
		return nil, fmt.Errorf("rewrite module needs at least one rule")
	}

	r := &Rewrite{}
	for _, rp := range p.Rules {
		re, err := regexp.Compile(rp.Match)
		if err != nil {
			return nil, fmt.Errorf("rewrite rule %q: %w", rp.Match, err)
		}
		r.rules = append(r.rules, rule{re: re, replace: rp.Replace, last: rp.Last})
	}
	return r, nil
}

func (r *Rewrite) HandleRequest(_ context.Context, st *pipeline.State) pipeline.HandlerResult {
	rewritten := false
	for _, rule := range r.rules {
		if !rule.re.MatchString(st.Path) {
			continue
		}
		st.Path = st.Arena().AllocString(rule.re.ReplaceAllString(st.Path, rule.replace))
		rewritten = true
		if rule.last {
			break
		}
	}
	if rewritten {
		return pipeline.ModifiedContinue()
	}
	return pipeline.UnmodifiedContinue()
}
