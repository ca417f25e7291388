package common

import (
	"context"
	"embed"
	"fmt"
	"os"
	"strings"

	vpapi "github.com/aws/aws-sdk-go-v2/service/verifiedpermissions"
	vpapiTypes "github.com/aws/aws-sdk-go-v2/service/verifiedpermissions/types"
	"gopkg.in/yaml.v3"

	"github.com/mikecbrant/connectiv-portal/internal/awssdk"
)

//go:embed assets/canaries/*.yaml
var canaryFS embed.FS

type yamlCase struct {
	Principal  map[string]string `yaml:"principal"`
	Attributes map[string]string `yaml:"attributes"`
	Action     string            `yaml:"action"`
	Resource   map[string]string `yaml:"resource"`
	Expect     string            `yaml:"expect"`
}

type canaryDoc struct {
	Cases []yamlCase `yaml:"cases"`
}

// CanaryCase is one post-deploy authorization check: a principal (optionally
// with attributes), an action, a resource, and the expected decision.
type CanaryCase struct {
	PrincipalType string
	PrincipalId   string
	Attributes    map[string]string
	Action        string
	ResourceType  string
	ResourceId    string
	Expect        string
}

func toCanaryCase(c yamlCase) CanaryCase {
	return CanaryCase{
		PrincipalType: c.Principal["entityType"],
		PrincipalId:   c.Principal["entityId"],
		Attributes:    c.Attributes,
		Action:        c.Action,
		ResourceType:  c.Resource["entityType"],
		ResourceId:    c.Resource["entityId"],
		Expect:        c.Expect,
	}
}

// AuthDecider is the Verified Permissions surface canaries run against.
type AuthDecider interface {
	IsAuthorized(ctx context.Context, in *vpapi.IsAuthorizedInput, optFns ...func(*vpapi.Options)) (*vpapi.IsAuthorizedOutput, error)
}

// RunCombinedCanaries merges the embedded baseline canaries with an optional consumer
// canary file and executes them against the policy store. The namespace interpolates
// ${NAMESPACE} placeholders in the embedded baseline.
func RunCombinedCanaries(ctx context.Context, region string, policyStoreId string, consumerPath string, namespace string) error {
	cfg, err := awssdk.LoadDefault(ctx, region)
	if err != nil {
		return err
	}
	cases, err := LoadCanaryCases(consumerPath, namespace)
	if err != nil {
		return err
	}
	return RunCanaries(ctx, vpapi.NewFromConfig(cfg), policyStoreId, cases)
}

// RunCanaries executes each case against the policy store and fails on the first
// decision mismatch.
func RunCanaries(ctx context.Context, client AuthDecider, policyStoreId string, cases []CanaryCase) error {
	for i, c := range cases {
		p := vpapiTypes.EntityIdentifier{EntityType: &c.PrincipalType, EntityId: &c.PrincipalId}
		r := vpapiTypes.EntityIdentifier{EntityType: &c.ResourceType, EntityId: &c.ResourceId}
		act := c.Action
		actionType := c.PrincipalType
		if idx := strings.LastIndex(c.PrincipalType, "::"); idx > 0 {
			actionType = c.PrincipalType[:idx] + "::Action"
		}
		in := &vpapi.IsAuthorizedInput{
			PolicyStoreId: &policyStoreId,
			Principal:     &p,
			Resource:      &r,
			Action:        &vpapiTypes.ActionIdentifier{ActionType: &actionType, ActionId: &act},
		}
		if len(c.Attributes) > 0 {
			attrs := map[string]vpapiTypes.AttributeValue{}
			for name, value := range c.Attributes {
				attrs[name] = &vpapiTypes.AttributeValueMemberString{Value: value}
			}
			in.Entities = &vpapiTypes.EntitiesDefinitionMemberEntityList{
				Value: []vpapiTypes.EntityItem{{Identifier: &p, Attributes: attrs}},
			}
		}
		out, err := client.IsAuthorized(ctx, in)
		if err != nil {
			return fmt.Errorf("canary #%d failed to execute: %w", i+1, err)
		}
		got := string(out.Decision)
		if !strings.EqualFold(got, c.Expect) {
			return fmt.Errorf("canary #%d unexpected decision: got %s, want %s (principal=%s:%s, action=%s, resource=%s:%s)", i+1, got, c.Expect, c.PrincipalType, c.PrincipalId, c.Action, c.ResourceType, c.ResourceId)
		}
	}
	return nil
}

// LoadCanaryCases merges an optional consumer canary file with the embedded baseline.
// ${NAMESPACE} placeholders in the embedded baseline are replaced with namespace.
func LoadCanaryCases(consumerPath string, namespace string) ([]CanaryCase, error) {
	allCases := []CanaryCase{}
	if b, err := os.ReadFile(consumerPath); err == nil {
		doc, err := readCanaryDoc(b, consumerPath)
		if err != nil {
			return nil, err
		}
		for _, c := range doc.Cases {
			allCases = append(allCases, toCanaryCase(c))
		}
	}

	allCases = append(allCases, readEmbeddedCanaryCases("assets/canaries/base-deny.yaml", namespace)...)

	return allCases, nil
}

func readEmbeddedCanaryCases(assetPath string, namespace string) []CanaryCase {
	b, err := canaryFS.ReadFile(assetPath)
	if err != nil {
		return nil
	}
	text := strings.ReplaceAll(string(b), "${NAMESPACE}", namespace)
	doc, err := readCanaryDoc([]byte(text), assetPath)
	if err != nil {
		return nil
	}
	cases := make([]CanaryCase, 0, len(doc.Cases))
	for _, c := range doc.Cases {
		cases = append(cases, toCanaryCase(c))
	}
	return cases
}

func readCanaryDoc(b []byte, src string) (canaryDoc, error) {
	var doc canaryDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return canaryDoc{}, fmt.Errorf("invalid canary YAML %s: %w", src, err)
	}
	return doc, nil
}
