// Package verify performs post-deploy checks against a live portal
// deployment: SSM parameters, Lambda configuration, authorizer permissions,
// the published runtime config, and the canary authorization decisions.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	awserrs "github.com/mikecbrant/connectiv-portal/internal/awssdk/errors"
	"github.com/mikecbrant/connectiv-portal/internal/common"
	"github.com/mikecbrant/connectiv-portal/internal/utils/logging"
)

const (
	helloFunctionSuffix      = "-HelloFunction"
	authorizerFunctionSuffix = "-LambdaAuthorizer"

	// The hello endpoint long-polls downstream processing.
	helloTimeoutFloor = 420

	expectedRuntime = "provided.al2023"
	expectedHandler = "bootstrap"
)

var requiredEnvVars = []string{"USER_POOL_ID", "CLIENT_ID", "POLICY_STORE_ID"}

var configKeys = []string{
	"REACT_APP_COGNITO_USER_POOL_ID",
	"REACT_APP_COGNITO_USER_POOL_CLIENT_ID",
	"REACT_APP_API_GATEWAY_URL",
}

// Check is one verification result.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Report collects the checks of one verification run.
type Report struct {
	Checks []Check
}

// Passed reports whether every check succeeded.
func (r *Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

func (r *Report) add(name string, ok bool, detail string) {
	r.Checks = append(r.Checks, Check{Name: name, OK: ok, Detail: detail})
}

// SSMAPI is the subset of the SSM client the doctor uses.
type SSMAPI interface {
	GetParameters(ctx context.Context, in *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// LambdaAPI is the subset of the Lambda client the doctor uses.
type LambdaAPI interface {
	GetFunctionConfiguration(ctx context.Context, in *lambda.GetFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error)
}

// IAMAPI is the subset of the IAM client the doctor uses.
type IAMAPI interface {
	ListRolePolicies(ctx context.Context, in *iam.ListRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error)
	GetRolePolicy(ctx context.Context, in *iam.GetRolePolicyInput, optFns ...func(*iam.Options)) (*iam.GetRolePolicyOutput, error)
}

// Doctor runs the verification checks for one project.
type Doctor struct {
	Project string
	// PortalURL enables the live config.json comparison when set.
	PortalURL string
	// CanaryFile and Namespace enable post-deploy canary decisions when set.
	CanaryFile string
	Namespace  string

	SSM    SSMAPI
	Lambda LambdaAPI
	IAM    IAMAPI
	VP     common.AuthDecider
	HTTP   *http.Client
	Logger logging.Logger
}

// Run executes every check and returns the report. Run only errors on
// invalid inputs; failing checks are reported, not returned.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	if strings.TrimSpace(d.Project) == "" {
		return nil, fmt.Errorf("project name is required")
	}
	if d.Logger == nil {
		d.Logger = logging.NopLogger{}
	}
	if d.HTTP == nil {
		d.HTTP = &http.Client{Timeout: 30 * time.Second}
	}

	report := &Report{}

	params := d.checkParameters(ctx, report)
	d.checkFunction(ctx, report, d.Project+helloFunctionSuffix, true)
	authorizerCfg := d.checkFunction(ctx, report, d.Project+authorizerFunctionSuffix, false)

	var roleArn, storeID string
	if authorizerCfg != nil {
		if authorizerCfg.Role != nil {
			roleArn = *authorizerCfg.Role
		}
		if authorizerCfg.Environment != nil {
			storeID = authorizerCfg.Environment.Variables["POLICY_STORE_ID"]
		}
	}
	d.checkAuthorizerRole(ctx, report, roleArn)
	d.checkRuntimeConfig(ctx, report, params)
	d.checkCanaries(ctx, report, storeID)

	return report, nil
}

// checkParameters reads the three runtime parameters and returns their values
// keyed by config key.
func (d *Doctor) checkParameters(ctx context.Context, report *Report) map[string]string {
	names := make([]string, 0, len(configKeys))
	for _, k := range configKeys {
		names = append(names, fmt.Sprintf("/%s/%s", d.Project, k))
	}
	out, err := d.SSM.GetParameters(ctx, &ssm.GetParametersInput{Names: names})
	if err != nil {
		report.add("ssm-parameters", false, awserrs.Classify(err).Error())
		return nil
	}
	if len(out.InvalidParameters) > 0 {
		report.add("ssm-parameters", false, fmt.Sprintf("missing parameters: %s", strings.Join(out.InvalidParameters, ", ")))
		return nil
	}
	values := map[string]string{}
	for _, p := range out.Parameters {
		if p.Name == nil || p.Value == nil {
			continue
		}
		key := (*p.Name)[strings.LastIndex(*p.Name, "/")+1:]
		values[key] = *p.Value
	}
	for _, k := range configKeys {
		if values[k] == "" {
			report.add("ssm-parameters", false, fmt.Sprintf("parameter /%s/%s is empty", d.Project, k))
			return nil
		}
	}
	report.add("ssm-parameters", true, "all three runtime parameters present")
	return values
}

func (d *Doctor) checkFunction(ctx context.Context, report *Report, name string, enforceTimeout bool) *lambda.GetFunctionConfigurationOutput {
	check := "function-" + name
	out, err := d.Lambda.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{FunctionName: &name})
	if err != nil {
		report.add(check, false, awserrs.Classify(err).Error())
		return nil
	}

	var problems []string
	if got := string(out.Runtime); got != expectedRuntime {
		problems = append(problems, fmt.Sprintf("runtime %q (want %s)", got, expectedRuntime))
	}
	if out.Handler == nil || *out.Handler != expectedHandler {
		problems = append(problems, fmt.Sprintf("handler %v (want %s)", out.Handler, expectedHandler))
	}
	if out.Environment == nil {
		problems = append(problems, "no environment variables")
	} else {
		for _, k := range requiredEnvVars {
			if out.Environment.Variables[k] == "" {
				problems = append(problems, fmt.Sprintf("env var %s missing", k))
			}
		}
	}
	if enforceTimeout {
		if out.Timeout == nil || *out.Timeout < helloTimeoutFloor {
			problems = append(problems, fmt.Sprintf("timeout %v below %d", out.Timeout, helloTimeoutFloor))
		}
	}

	if len(problems) > 0 {
		report.add(check, false, strings.Join(problems, "; "))
		return out
	}
	report.add(check, true, "configuration matches expectations")
	return out
}

func (d *Doctor) checkAuthorizerRole(ctx context.Context, report *Report, roleArn string) {
	const check = "authorizer-role"
	if roleArn == "" {
		report.add(check, false, "authorizer role unknown (function check failed)")
		return
	}
	roleName := roleArn[strings.LastIndex(roleArn, "/")+1:]

	list, err := d.IAM.ListRolePolicies(ctx, &iam.ListRolePoliciesInput{RoleName: &roleName})
	if err != nil {
		report.add(check, false, awserrs.Classify(err).Error())
		return
	}
	for _, policyName := range list.PolicyNames {
		policyName := policyName
		pol, err := d.IAM.GetRolePolicy(ctx, &iam.GetRolePolicyInput{RoleName: &roleName, PolicyName: &policyName})
		if err != nil {
			report.add(check, false, awserrs.Classify(err).Error())
			return
		}
		if pol.PolicyDocument == nil {
			continue
		}
		doc, err := url.QueryUnescape(*pol.PolicyDocument)
		if err != nil {
			doc = *pol.PolicyDocument
		}
		if strings.Contains(doc, "verifiedpermissions:IsAuthorized") {
			report.add(check, true, fmt.Sprintf("inline policy %s grants verifiedpermissions:IsAuthorized", policyName))
			return
		}
	}
	report.add(check, false, fmt.Sprintf("no inline policy on role %s grants verifiedpermissions:IsAuthorized", roleName))
}

func (d *Doctor) checkRuntimeConfig(ctx context.Context, report *Report, params map[string]string) {
	const check = "runtime-config"
	if d.PortalURL == "" {
		d.Logger.Debug("portal url not provided, skipping runtime config check", nil)
		return
	}
	if params == nil {
		report.add(check, false, "SSM parameter values unavailable for comparison")
		return
	}

	configURL := strings.TrimSuffix(d.PortalURL, "/") + "/config.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, configURL, nil)
	if err != nil {
		report.add(check, false, err.Error())
		return
	}
	resp, err := d.HTTP.Do(req)
	if err != nil {
		report.add(check, false, fmt.Sprintf("fetch %s: %v", configURL, err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		report.add(check, false, fmt.Sprintf("fetch %s: status %d", configURL, resp.StatusCode))
		return
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		report.add(check, false, err.Error())
		return
	}
	var live map[string]string
	if err := json.Unmarshal(body, &live); err != nil {
		report.add(check, false, fmt.Sprintf("config.json is not valid JSON: %v", err))
		return
	}
	var mismatches []string
	for _, k := range configKeys {
		if live[k] != params[k] {
			mismatches = append(mismatches, fmt.Sprintf("%s: site %q vs parameter %q", k, live[k], params[k]))
		}
	}
	if len(mismatches) > 0 {
		report.add(check, false, strings.Join(mismatches, "; "))
		return
	}
	report.add(check, true, "config.json matches the SSM parameters")
}

func (d *Doctor) checkCanaries(ctx context.Context, report *Report, storeID string) {
	const check = "canaries"
	if d.CanaryFile == "" {
		d.Logger.Debug("no canary file provided, skipping canary check", nil)
		return
	}
	if storeID == "" {
		report.add(check, false, "policy store id unknown (authorizer function check failed)")
		return
	}
	cases, err := common.LoadCanaryCases(d.CanaryFile, d.Namespace)
	if err != nil {
		report.add(check, false, err.Error())
		return
	}
	if err := common.RunCanaries(ctx, d.VP, storeID, cases); err != nil {
		report.add(check, false, err.Error())
		return
	}
	report.add(check, true, fmt.Sprintf("%d canary decisions matched", len(cases)))
}
