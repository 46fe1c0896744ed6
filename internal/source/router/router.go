/*
Copyright 2017 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package router extracts DesiredSpecs from a reverse-proxy's dynamic
// configuration tree: one spec per concrete host literal found in a
// router's Host()/HostRegexp()/HostSNI() rule.
package router

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
)

// ruleConfig is the subset of a Traefik-style dynamic configuration file
// this extractor understands.
type ruleConfig struct {
	HTTP struct {
		Routers map[string]routerEntry `yaml:"routers"`
	} `yaml:"http"`
	TCP struct {
		Routers map[string]routerEntry `yaml:"routers"`
	} `yaml:"tcp"`
}

type routerEntry struct {
	Rule   string            `yaml:"rule"`
	Labels map[string]string `yaml:"labels"`
}

// Config configures the extractor.
type Config struct {
	// ConfigPath is the dynamic configuration file to read on each
	// Extract call.
	ConfigPath string
	DefaultTTL endpoint.TTL
}

// Extractor reads a reverse-proxy dynamic configuration file from disk. The
// A specs it emits carry no Content: it does not consult the public IP
// resolver, so a router-only host reaches the adapter without content.
type Extractor struct {
	cfg Config
}

func New(cfg Config) *Extractor { return &Extractor{cfg: cfg} }

func (e *Extractor) Name() string { return "router" }

var hostRulePattern = regexp.MustCompile(`(?i)(Host|HostRegexp|HostSNI)\(([^)]*)\)`)
var quotedLiteral = regexp.MustCompile(`` + "`" + `([^` + "`" + `]+)` + "`" + `|"([^"]+)"`)

func (e *Extractor) Extract(ctx context.Context) ([]endpoint.DesiredSpec, error) {
	if e.cfg.ConfigPath == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(e.cfg.ConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("router: read %s: %w", e.cfg.ConfigPath, err)
	}

	var cfg ruleConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("router: parse %s: %w", e.cfg.ConfigPath, err)
	}

	var out []endpoint.DesiredSpec
	out = append(out, e.specsFromRouters(cfg.HTTP.Routers)...)
	out = append(out, e.specsFromRouters(cfg.TCP.Routers)...)
	return out, nil
}

func (e *Extractor) specsFromRouters(routers map[string]routerEntry) []endpoint.DesiredSpec {
	var out []endpoint.DesiredSpec
	for name, r := range routers {
		if strings.EqualFold(r.Labels["skip"], "true") {
			continue
		}
		for _, host := range extractHosts(r.Rule) {
			out = append(out, endpoint.DesiredSpec{
				Hostname: host,
				Type:     endpoint.RecordTypeA,
				TTL:      e.cfg.DefaultTTL,
				Source:   endpoint.SourceRouter,
				Managed:  true,
				Origin:   name,
			})
		}
	}
	return out
}

// extractHosts pulls the concrete host literals out of a rule expression
// like `Host(`app.example.com`) && PathPrefix(`/api`)` or
// `HostSNI(`app.example.com`, `alt.example.com`)`. A quoted argument that
// contains any regexp metacharacter is skipped whole, so a HostRegexp
// argument yields a spec only when it is a plain host name.
func extractHosts(rule string) []string {
	var hosts []string
	for _, m := range hostRulePattern.FindAllStringSubmatch(rule, -1) {
		args := m[2]
		for _, lit := range quotedLiteral.FindAllStringSubmatch(args, -1) {
			host := lit[1]
			if host == "" {
				host = lit[2]
			}
			if looksLikeRegexp(host) {
				continue
			}
			hosts = append(hosts, host)
		}
	}
	return hosts
}

func looksLikeRegexp(s string) bool {
	return strings.ContainsAny(s, `^$*+?[](){}|\`)
}
