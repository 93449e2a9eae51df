// Package taxonomy supplies the fixed assessment-domain list and the
// DSM-5-style criterion table the extraction and scoring prompts embed. Both
// are static and small; they ship embedded and can be overridden with
// ASSESSMENT_TAXONOMY_YAML for clinical review without a rebuild.
package taxonomy

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const taxonomyEnv = "ASSESSMENT_TAXONOMY_YAML"

//go:embed assessment.yaml
var taxonomyFS embed.FS

type Domain struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
}

type CriterionItem struct {
	Code        string `yaml:"code"`
	Description string `yaml:"description"`
}

type CriterionGroup struct {
	Code  string          `yaml:"code"`
	Name  string          `yaml:"name"`
	Items []CriterionItem `yaml:"items"`
}

type Differential struct {
	Code     string   `yaml:"code"`
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type taxonomyFile struct {
	Version       int              `yaml:"version"`
	Domains       []Domain         `yaml:"domains"`
	Criteria      []CriterionGroup `yaml:"criteria"`
	Differentials []Differential   `yaml:"differentials"`
}

type Provider struct {
	domains       []Domain
	domainByCode  map[string]Domain
	criteria      []CriterionGroup
	criterionDesc map[string]string
	differentials []Differential
}

func Load() (*Provider, error) {
	data, err := readTaxonomy()
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}
	var file taxonomyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}
	if err := validateTaxonomy(&file); err != nil {
		return nil, fmt.Errorf("invalid taxonomy: %w", err)
	}

	p := &Provider{
		domains:       file.Domains,
		domainByCode:  make(map[string]Domain, len(file.Domains)),
		criteria:      file.Criteria,
		criterionDesc: map[string]string{},
		differentials: file.Differentials,
	}
	for _, d := range file.Domains {
		p.domainByCode[d.Code] = d
	}
	for _, g := range file.Criteria {
		for _, item := range g.Items {
			p.criterionDesc[item.Code] = item.Description
		}
	}
	return p, nil
}

func readTaxonomy() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(taxonomyEnv)); path != "" {
		return os.ReadFile(path)
	}
	return taxonomyFS.ReadFile("assessment.yaml")
}

func validateTaxonomy(file *taxonomyFile) error {
	if file == nil {
		return errors.New("missing taxonomy")
	}
	if len(file.Domains) == 0 {
		return errors.New("no domains defined")
	}
	if len(file.Criteria) == 0 {
		return errors.New("no criteria defined")
	}
	seenDomain := map[string]bool{}
	for _, d := range file.Domains {
		code := strings.TrimSpace(d.Code)
		if code == "" {
			return errors.New("domain code is required")
		}
		if seenDomain[code] {
			return fmt.Errorf("duplicate domain code: %s", code)
		}
		seenDomain[code] = true
		if strings.TrimSpace(d.Category) == "" {
			return fmt.Errorf("domain %s: category is required", code)
		}
	}
	seenCriterion := map[string]bool{}
	for _, g := range file.Criteria {
		if strings.TrimSpace(g.Code) == "" {
			return errors.New("criterion group code is required")
		}
		if len(g.Items) == 0 {
			return fmt.Errorf("criterion group %s: no items", g.Code)
		}
		for _, item := range g.Items {
			code := strings.TrimSpace(item.Code)
			if code == "" {
				return fmt.Errorf("criterion group %s: item code is required", g.Code)
			}
			if seenCriterion[code] {
				return fmt.Errorf("duplicate criterion code: %s", code)
			}
			seenCriterion[code] = true
			if !strings.HasPrefix(code, g.Code) {
				return fmt.Errorf("criterion %s: code does not belong to group %s", code, g.Code)
			}
		}
	}
	for _, d := range file.Differentials {
		if strings.TrimSpace(d.Code) == "" {
			return errors.New("differential code is required")
		}
		if len(d.Keywords) == 0 {
			return fmt.Errorf("differential %s: no keywords", d.Code)
		}
	}
	return nil
}

func (p *Provider) Domains() []Domain {
	return p.domains
}

func (p *Provider) DomainByCode(code string) (Domain, bool) {
	d, ok := p.domainByCode[code]
	return d, ok
}

func (p *Provider) Criteria() []CriterionGroup {
	return p.criteria
}

// CriterionCodes returns every leaf criterion code (A1..B4) in table order.
func (p *Provider) CriterionCodes() []string {
	out := make([]string, 0, len(p.criterionDesc))
	for _, g := range p.criteria {
		for _, item := range g.Items {
			out = append(out, item.Code)
		}
	}
	return out
}

func (p *Provider) CriterionDescription(code string) (string, bool) {
	desc, ok := p.criterionDesc[code]
	return desc, ok
}

func (p *Provider) Differentials() []Differential {
	return p.differentials
}

// RenderDomains renders the domain table as prompt text.
func (p *Provider) RenderDomains() string {
	var b strings.Builder
	for _, d := range p.domains {
		fmt.Fprintf(&b, "- %s (%s, category %s): %s\n", d.Code, d.Name, d.Category, strings.TrimSpace(d.Description))
	}
	return b.String()
}

// RenderCriteria renders the criterion table as prompt text.
func (p *Provider) RenderCriteria() string {
	var b strings.Builder
	for _, g := range p.criteria {
		fmt.Fprintf(&b, "%s. %s\n", g.Code, g.Name)
		for _, item := range g.Items {
			fmt.Fprintf(&b, "  %s: %s\n", item.Code, item.Description)
		}
	}
	return b.String()
}
