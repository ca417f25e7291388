package verify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdaTypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmTypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	vpapi "github.com/aws/aws-sdk-go-v2/service/verifiedpermissions"
	vpapiTypes "github.com/aws/aws-sdk-go-v2/service/verifiedpermissions/types"
)

type fakeSSM struct {
	out *ssm.GetParametersOutput
	err error
}

func (f *fakeSSM) GetParameters(context.Context, *ssm.GetParametersInput, ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	return f.out, f.err
}

type fakeLambda struct {
	outs map[string]*lambda.GetFunctionConfigurationOutput
	err  error
}

func (f *fakeLambda) GetFunctionConfiguration(_ context.Context, in *lambda.GetFunctionConfigurationInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	out, ok := f.outs[*in.FunctionName]
	if !ok {
		return nil, fmt.Errorf("function %s not found", *in.FunctionName)
	}
	return out, nil
}

type fakeIAM struct {
	policies map[string]string
}

func (f *fakeIAM) ListRolePolicies(context.Context, *iam.ListRolePoliciesInput, ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error) {
	names := make([]string, 0, len(f.policies))
	for n := range f.policies {
		names = append(names, n)
	}
	return &iam.ListRolePoliciesOutput{PolicyNames: names}, nil
}

func (f *fakeIAM) GetRolePolicy(_ context.Context, in *iam.GetRolePolicyInput, _ ...func(*iam.Options)) (*iam.GetRolePolicyOutput, error) {
	doc, ok := f.policies[*in.PolicyName]
	if !ok {
		return nil, fmt.Errorf("policy %s not found", *in.PolicyName)
	}
	return &iam.GetRolePolicyOutput{PolicyDocument: &doc}, nil
}

type allowAllDecider struct{}

func (allowAllDecider) IsAuthorized(context.Context, *vpapi.IsAuthorizedInput, ...func(*vpapi.Options)) (*vpapi.IsAuthorizedOutput, error) {
	return &vpapi.IsAuthorizedOutput{Decision: vpapiTypes.DecisionAllow}, nil
}

func goodParameters(project string) *ssm.GetParametersOutput {
	mk := func(key, value string) ssmTypes.Parameter {
		name := fmt.Sprintf("/%s/%s", project, key)
		return ssmTypes.Parameter{Name: &name, Value: &value}
	}
	return &ssm.GetParametersOutput{Parameters: []ssmTypes.Parameter{
		mk("REACT_APP_COGNITO_USER_POOL_ID", "us-east-1_POOL"),
		mk("REACT_APP_COGNITO_USER_POOL_CLIENT_ID", "client123"),
		mk("REACT_APP_API_GATEWAY_URL", "https://api.example.com/prod"),
	}}
}

func goodFunction(timeout int32) *lambda.GetFunctionConfigurationOutput {
	return &lambda.GetFunctionConfigurationOutput{
		Runtime: lambdaTypes.RuntimeProvidedal2023,
		Handler: aws.String("bootstrap"),
		Role:    aws.String("arn:aws:iam::123456789012:role/Connectiv-authorizer-role"),
		Timeout: aws.Int32(timeout),
		Environment: &lambdaTypes.EnvironmentResponse{Variables: map[string]string{
			"USER_POOL_ID":    "us-east-1_POOL",
			"CLIENT_ID":       "client123",
			"POLICY_STORE_ID": "store-1",
		}},
	}
}

func findCheck(t *testing.T, r *Report, name string) Check {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %s not present in report: %+v", name, r.Checks)
	return Check{}
}

func TestDoctor_AllChecksPass(t *testing.T) {
	t.Parallel()
	d := &Doctor{
		Project: "Connectiv",
		SSM:     &fakeSSM{out: goodParameters("Connectiv")},
		Lambda: &fakeLambda{outs: map[string]*lambda.GetFunctionConfigurationOutput{
			"Connectiv-HelloFunction":    goodFunction(420),
			"Connectiv-LambdaAuthorizer": goodFunction(10),
		}},
		IAM: &fakeIAM{policies: map[string]string{
			"vp-access": `{"Statement":[{"Action":["verifiedpermissions:IsAuthorized"]}]}`,
		}},
		VP: allowAllDecider{},
	}
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Passed() {
		t.Fatalf("expected all checks to pass: %+v", report.Checks)
	}
	for _, name := range []string{"ssm-parameters", "function-Connectiv-HelloFunction", "function-Connectiv-LambdaAuthorizer", "authorizer-role"} {
		if c := findCheck(t, report, name); !c.OK {
			t.Fatalf("check %s failed: %s", name, c.Detail)
		}
	}
}

func TestDoctor_MissingParameter(t *testing.T) {
	t.Parallel()
	d := &Doctor{
		Project: "Connectiv",
		SSM:     &fakeSSM{out: &ssm.GetParametersOutput{InvalidParameters: []string{"/Connectiv/REACT_APP_API_GATEWAY_URL"}}},
		Lambda: &fakeLambda{outs: map[string]*lambda.GetFunctionConfigurationOutput{
			"Connectiv-HelloFunction":    goodFunction(420),
			"Connectiv-LambdaAuthorizer": goodFunction(10),
		}},
		IAM: &fakeIAM{policies: map[string]string{}},
	}
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	c := findCheck(t, report, "ssm-parameters")
	if c.OK || !strings.Contains(c.Detail, "REACT_APP_API_GATEWAY_URL") {
		t.Fatalf("expected missing-parameter failure, got %+v", c)
	}
	if report.Passed() {
		t.Fatalf("report should not pass")
	}
}

func TestDoctor_HelloTimeoutTooShort(t *testing.T) {
	t.Parallel()
	d := &Doctor{
		Project: "Connectiv",
		SSM:     &fakeSSM{out: goodParameters("Connectiv")},
		Lambda: &fakeLambda{outs: map[string]*lambda.GetFunctionConfigurationOutput{
			"Connectiv-HelloFunction":    goodFunction(30),
			"Connectiv-LambdaAuthorizer": goodFunction(10),
		}},
		IAM: &fakeIAM{policies: map[string]string{
			"vp-access": `{"Statement":[{"Action":["verifiedpermissions:IsAuthorized"]}]}`,
		}},
	}
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	c := findCheck(t, report, "function-Connectiv-HelloFunction")
	if c.OK || !strings.Contains(c.Detail, "below 420") {
		t.Fatalf("expected timeout failure, got %+v", c)
	}
}

func TestDoctor_AuthorizerRoleMissingGrant(t *testing.T) {
	t.Parallel()
	d := &Doctor{
		Project: "Connectiv",
		SSM:     &fakeSSM{out: goodParameters("Connectiv")},
		Lambda: &fakeLambda{outs: map[string]*lambda.GetFunctionConfigurationOutput{
			"Connectiv-HelloFunction":    goodFunction(420),
			"Connectiv-LambdaAuthorizer": goodFunction(10),
		}},
		IAM: &fakeIAM{policies: map[string]string{
			"logs-only": `{"Statement":[{"Action":["logs:PutLogEvents"]}]}`,
		}},
	}
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	c := findCheck(t, report, "authorizer-role")
	if c.OK || !strings.Contains(c.Detail, "IsAuthorized") {
		t.Fatalf("expected role grant failure, got %+v", c)
	}
}

func TestDoctor_RuntimeConfigComparison(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/config.json" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"REACT_APP_COGNITO_USER_POOL_ID":"us-east-1_POOL","REACT_APP_COGNITO_USER_POOL_CLIENT_ID":"client123","REACT_APP_API_GATEWAY_URL":"https://api.example.com/prod"}`)
	}))
	defer srv.Close()

	d := &Doctor{
		Project:   "Connectiv",
		PortalURL: srv.URL,
		SSM:       &fakeSSM{out: goodParameters("Connectiv")},
		Lambda: &fakeLambda{outs: map[string]*lambda.GetFunctionConfigurationOutput{
			"Connectiv-HelloFunction":    goodFunction(420),
			"Connectiv-LambdaAuthorizer": goodFunction(10),
		}},
		IAM: &fakeIAM{policies: map[string]string{
			"vp-access": `{"Statement":[{"Action":["verifiedpermissions:IsAuthorized"]}]}`,
		}},
		HTTP: srv.Client(),
	}
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	c := findCheck(t, report, "runtime-config")
	if !c.OK {
		t.Fatalf("runtime config check failed: %s", c.Detail)
	}
}

func TestDoctor_RuntimeConfigMismatch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"REACT_APP_COGNITO_USER_POOL_ID":"us-east-1_OTHER","REACT_APP_COGNITO_USER_POOL_CLIENT_ID":"client123","REACT_APP_API_GATEWAY_URL":"https://api.example.com/prod"}`)
	}))
	defer srv.Close()

	d := &Doctor{
		Project:   "Connectiv",
		PortalURL: srv.URL,
		SSM:       &fakeSSM{out: goodParameters("Connectiv")},
		Lambda: &fakeLambda{outs: map[string]*lambda.GetFunctionConfigurationOutput{
			"Connectiv-HelloFunction":    goodFunction(420),
			"Connectiv-LambdaAuthorizer": goodFunction(10),
		}},
		IAM: &fakeIAM{policies: map[string]string{
			"vp-access": `{"Statement":[{"Action":["verifiedpermissions:IsAuthorized"]}]}`,
		}},
		HTTP: srv.Client(),
	}
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	c := findCheck(t, report, "runtime-config")
	if c.OK || !strings.Contains(c.Detail, "REACT_APP_COGNITO_USER_POOL_ID") {
		t.Fatalf("expected mismatch failure, got %+v", c)
	}
}

func TestDoctor_RequiresProject(t *testing.T) {
	t.Parallel()
	d := &Doctor{}
	if _, err := d.Run(context.Background()); err == nil {
		t.Fatalf("expected error for empty project")
	}
}
