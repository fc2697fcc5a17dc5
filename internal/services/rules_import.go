/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aminederouich/pfe-back-sub000/internal/domain"
	"gopkg.in/yaml.v3"
)

// RulePresets is the YAML layout of a rules file:
//
//	rules:
//	  - ownerId: acc-1
//	    priority: {high: {checked: true, value: 10}}
//	    deadline: {rule1: {checked: true, value: 5}, rule2: {checked: true, value: "3"}}
type RulePresets struct {
	Rules []domain.RuleInput `yaml:"rules"`
}

// ImportResult reports one upserted preset.
type ImportResult struct {
	OwnerID   string           `json:"ownerId"`
	Operation domain.Operation `json:"operation,omitempty"`
	Error     string           `json:"error,omitempty"`
}

func ParseRulePresets(r io.Reader) (RulePresets, error) {
	var p RulePresets
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return RulePresets{}, fmt.Errorf("parse rules: %w", err)
	}
	for i, in := range p.Rules {
		if err := in.Validate(); err != nil {
			return RulePresets{}, fmt.Errorf("rule #%d: %w", i+1, err)
		}
	}
	return p, nil
}

// ImportRules upserts every preset of the file. The file is validated as a
// whole first; store failures are reported per owner.
func (s *Service) ImportRules(ctx context.Context, path string) ([]ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p, err := ParseRulePresets(f)
	if err != nil {
		return nil, err
	}
	out := make([]ImportResult, 0, len(p.Rules))
	for _, in := range p.Rules {
		_, op, err := s.UpsertRule(ctx, in)
		res := ImportResult{OwnerID: in.OwnerID, Operation: op}
		if err != nil {
			s.log.Error().Err(err).Str("owner", in.OwnerID).Msg("rule import failed")
			res.Error = err.Error()
		}
		out = append(out, res)
	}
	return out, nil
}
