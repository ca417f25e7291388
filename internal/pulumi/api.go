package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	awsapigateway "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/apigateway"
	awscloudwatch "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cloudwatch"
	awsiam "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	awslambda "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lambda"
	awsvp "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/verifiedpermissions"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// LambdaConfig exposes tuning knobs for the hello and authorizer functions.
// Both functions are provided.al2023 arm64 binaries packaged as zip files.
type LambdaConfig struct {
	// Path to the hello handler zip (default ./dist/hello-handler.zip).
	HelloZip *string `pulumi:"helloZip,optional"`
	// Path to the authorizer handler zip (default ./dist/authorizer-handler.zip).
	AuthorizerZip *string `pulumi:"authorizerZip,optional"`
	MemorySize    *int    `pulumi:"memorySize,optional"`
	// The hello endpoint long-polls downstream processing, hence the generous default.
	HelloTimeoutSeconds *int `pulumi:"helloTimeoutSeconds,optional"`
}

// JSON access-log format mirroring API Gateway's standard field set.
const accessLogFormat = `{"requestId":"$context.requestId","ip":"$context.identity.sourceIp","caller":"$context.identity.caller","user":"$context.identity.user","requestTime":"$context.requestTime","httpMethod":"$context.httpMethod","resourcePath":"$context.resourcePath","protocol":"$context.protocol","status":"$context.status","responseLength":"$context.responseLength"}`

type apiResources struct {
	store        *awsvp.PolicyStore
	stage        *awsapigateway.Stage
	url          pulumi.StringOutput
	helloFn      *awslambda.Function
	authorizerFn *awslambda.Function
}

// createApi provisions the policy store, both Lambda functions, and the REST
// API with its token authorizer and CORS preflight.
func createApi(ctx *pulumi.Context, name string, project string, auth *authResources, cfg *LambdaConfig, opts []pulumi.ResourceOption) (*apiResources, error) {
	store, err := awsvp.NewPolicyStore(ctx, fmt.Sprintf("%s-store", name), &awsvp.PolicyStoreArgs{
		ValidationSettings: awsvp.PolicyStoreValidationSettingsArgs{Mode: pulumi.String("STRICT")},
		Description:        pulumi.StringPtr(fmt.Sprintf("%s-PolicyStore", project)),
	}, opts...)
	if err != nil {
		return nil, err
	}

	env := pulumi.StringMap{
		"USER_POOL_ID":    auth.pool.ID().ToStringOutput(),
		"CLIENT_ID":       auth.client.ID().ToStringOutput(),
		"POLICY_STORE_ID": store.ID().ToStringOutput(),
	}

	memory := 128
	if cfg.MemorySize != nil {
		memory = *cfg.MemorySize
	}
	helloTimeout := 420
	if cfg.HelloTimeoutSeconds != nil {
		helloTimeout = *cfg.HelloTimeoutSeconds
	}
	helloZip := valueOrDefault(cfg.HelloZip, "./dist/hello-handler.zip")
	authorizerZip := valueOrDefault(cfg.AuthorizerZip, "./dist/authorizer-handler.zip")

	_, helloFn, err := createFunction(ctx, name+"-hello", fmt.Sprintf("%s-HelloFunction", project), helloZip, helloTimeout, memory, env, opts)
	if err != nil {
		return nil, err
	}
	authorizerRole, authorizerFn, err := createFunction(ctx, name+"-authorizer", fmt.Sprintf("%s-LambdaAuthorizer", project), authorizerZip, 10, memory, env, opts)
	if err != nil {
		return nil, err
	}

	if err := grantIsAuthorized(ctx, name, authorizerRole, store); err != nil {
		return nil, err
	}

	api, err := awsapigateway.NewRestApi(ctx, fmt.Sprintf("%s-api", name), &awsapigateway.RestApiArgs{
		Name: pulumi.String(fmt.Sprintf("%s-RestAPI", project)),
	}, opts...)
	if err != nil {
		return nil, err
	}

	authorizer, err := awsapigateway.NewAuthorizer(ctx, fmt.Sprintf("%s-token-authorizer", name), &awsapigateway.AuthorizerArgs{
		RestApi:                      api.ID(),
		Name:                         pulumi.String(fmt.Sprintf("%s-LambdaTokenAuthorizer", project)),
		Type:                         pulumi.String("TOKEN"),
		AuthorizerUri:                authorizerFn.InvokeArn,
		IdentitySource:               pulumi.String("method.request.header.Authorization"),
		AuthorizerResultTtlInSeconds: pulumi.Int(300),
	}, pulumi.Parent(api))
	if err != nil {
		return nil, err
	}

	helloMethods, err := createHelloResource(ctx, name, api, helloFn, authorizer)
	if err != nil {
		return nil, err
	}

	for fname, fn := range map[string]*awslambda.Function{"hello": helloFn, "authorizer": authorizerFn} {
		if _, err := awslambda.NewPermission(ctx, fmt.Sprintf("%s-%s-invoke", name, fname), &awslambda.PermissionArgs{
			Action:    pulumi.String("lambda:InvokeFunction"),
			Function:  fn.Name,
			Principal: pulumi.String("apigateway.amazonaws.com"),
			SourceArn: pulumi.Sprintf("%s/*", api.ExecutionArn),
		}, pulumi.Parent(api)); err != nil {
			return nil, err
		}
	}

	accessLogs, err := awscloudwatch.NewLogGroup(ctx, fmt.Sprintf("%s-access-logs", name), &awscloudwatch.LogGroupArgs{
		Name:            pulumi.String(fmt.Sprintf("/aws/apigateway/%s-AccessLogs", project)),
		RetentionInDays: pulumi.Int(30),
	}, opts...)
	if err != nil {
		return nil, err
	}

	deployment, err := awsapigateway.NewDeployment(ctx, fmt.Sprintf("%s-deployment", name), &awsapigateway.DeploymentArgs{
		RestApi: api.ID(),
	}, pulumi.Parent(api), pulumi.DependsOn(helloMethods))
	if err != nil {
		return nil, err
	}

	stage, err := awsapigateway.NewStage(ctx, fmt.Sprintf("%s-prod", name), &awsapigateway.StageArgs{
		RestApi:    api.ID(),
		Deployment: deployment.ID(),
		StageName:  pulumi.String("prod"),
		AccessLogSettings: &awsapigateway.StageAccessLogSettingsArgs{
			DestinationArn: accessLogs.Arn,
			Format:         pulumi.String(accessLogFormat),
		},
	}, pulumi.Parent(api))
	if err != nil {
		return nil, err
	}

	if _, err := awsapigateway.NewMethodSettings(ctx, fmt.Sprintf("%s-method-settings", name), &awsapigateway.MethodSettingsArgs{
		RestApi:    api.ID(),
		StageName:  stage.StageName,
		MethodPath: pulumi.String("*/*"),
		Settings: &awsapigateway.MethodSettingsSettingsArgs{
			MetricsEnabled:   pulumi.Bool(true),
			LoggingLevel:     pulumi.String("INFO"),
			DataTraceEnabled: pulumi.Bool(true),
		},
	}, pulumi.Parent(stage)); err != nil {
		return nil, err
	}

	url := stage.InvokeUrl.ApplyT(func(u string) string { return strings.TrimSuffix(u, "/") }).(pulumi.StringOutput)

	return &apiResources{store: store, stage: stage, url: url, helloFn: helloFn, authorizerFn: authorizerFn}, nil
}

func createFunction(ctx *pulumi.Context, name string, functionName string, zipPath string, timeoutSeconds int, memory int, env pulumi.StringMap, opts []pulumi.ResourceOption) (*awsiam.Role, *awslambda.Function, error) {
	role, err := awsiam.NewRole(ctx, fmt.Sprintf("%s-role", name), &awsiam.RoleArgs{
		AssumeRolePolicy: pulumi.String(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"Service":["lambda.amazonaws.com"]},"Action":["sts:AssumeRole"]}]}`),
	}, opts...)
	if err != nil {
		return nil, nil, err
	}

	if _, err := awsiam.NewRolePolicyAttachment(ctx, fmt.Sprintf("%s-role-basic", name), &awsiam.RolePolicyAttachmentArgs{
		PolicyArn: pulumi.String("arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"),
		Role:      role.Name,
	}, pulumi.Parent(role)); err != nil {
		return nil, nil, err
	}

	logs, err := awscloudwatch.NewLogGroup(ctx, fmt.Sprintf("%s-logs", name), &awscloudwatch.LogGroupArgs{
		Name:            pulumi.String("/aws/lambda/" + functionName),
		RetentionInDays: pulumi.Int(30),
	}, opts...)
	if err != nil {
		return nil, nil, err
	}

	fn, err := awslambda.NewFunction(ctx, fmt.Sprintf("%s-fn", name), &awslambda.FunctionArgs{
		Name:          pulumi.String(functionName),
		Role:          role.Arn,
		Runtime:       pulumi.String("provided.al2023"),
		Handler:       pulumi.String("bootstrap"),
		Architectures: pulumi.ToStringArray([]string{"arm64"}),
		Timeout:       pulumi.Int(timeoutSeconds),
		MemorySize:    pulumi.Int(memory),
		Environment:   &awslambda.FunctionEnvironmentArgs{Variables: env},
		Code:          pulumi.NewFileArchive(zipPath),
		Publish:       pulumi.Bool(true),
	}, append([]pulumi.ResourceOption{pulumi.DependsOn([]pulumi.Resource{logs})}, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	return role, fn, nil
}

// grantIsAuthorized limits the authorizer role to IsAuthorized on the one store.
func grantIsAuthorized(ctx *pulumi.Context, name string, role *awsiam.Role, store *awsvp.PolicyStore) error {
	policy := store.Arn.ApplyT(func(arn string) (string, error) {
		b, err := json.Marshal(map[string]any{
			"Version": "2012-10-17",
			"Statement": []map[string]any{{
				"Effect":   "Allow",
				"Action":   []string{"verifiedpermissions:IsAuthorized"},
				"Resource": arn,
			}},
		})
		return string(b), err
	}).(pulumi.StringOutput)
	_, err := awsiam.NewRolePolicy(ctx, fmt.Sprintf("%s-authorizer-vp", name), &awsiam.RolePolicyArgs{
		Role:   role.ID(),
		Policy: policy,
	}, pulumi.Parent(role))
	return err
}

func createHelloResource(ctx *pulumi.Context, name string, api *awsapigateway.RestApi, helloFn *awslambda.Function, authorizer *awsapigateway.Authorizer) ([]pulumi.Resource, error) {
	hello, err := awsapigateway.NewResource(ctx, fmt.Sprintf("%s-hello-resource", name), &awsapigateway.ResourceArgs{
		RestApi:  api.ID(),
		ParentId: api.RootResourceId,
		PathPart: pulumi.String("hello"),
	}, pulumi.Parent(api))
	if err != nil {
		return nil, err
	}

	getMethod, err := awsapigateway.NewMethod(ctx, fmt.Sprintf("%s-hello-get", name), &awsapigateway.MethodArgs{
		RestApi:       api.ID(),
		ResourceId:    hello.ID(),
		HttpMethod:    pulumi.String("GET"),
		Authorization: pulumi.String("CUSTOM"),
		AuthorizerId:  authorizer.ID(),
	}, pulumi.Parent(hello))
	if err != nil {
		return nil, err
	}

	getIntegration, err := awsapigateway.NewIntegration(ctx, fmt.Sprintf("%s-hello-get-integration", name), &awsapigateway.IntegrationArgs{
		RestApi:               api.ID(),
		ResourceId:            hello.ID(),
		HttpMethod:            getMethod.HttpMethod,
		IntegrationHttpMethod: pulumi.String("POST"),
		Type:                  pulumi.String("AWS_PROXY"),
		Uri:                   helloFn.InvokeArn,
	}, pulumi.Parent(hello))
	if err != nil {
		return nil, err
	}

	corsResources, err := createCorsPreflight(ctx, name, api, hello)
	if err != nil {
		return nil, err
	}

	return append([]pulumi.Resource{getMethod, getIntegration}, corsResources...), nil
}

func createCorsPreflight(ctx *pulumi.Context, name string, api *awsapigateway.RestApi, res *awsapigateway.Resource) ([]pulumi.Resource, error) {
	options, err := awsapigateway.NewMethod(ctx, fmt.Sprintf("%s-hello-options", name), &awsapigateway.MethodArgs{
		RestApi:       api.ID(),
		ResourceId:    res.ID(),
		HttpMethod:    pulumi.String("OPTIONS"),
		Authorization: pulumi.String("NONE"),
	}, pulumi.Parent(res))
	if err != nil {
		return nil, err
	}

	integration, err := awsapigateway.NewIntegration(ctx, fmt.Sprintf("%s-hello-options-integration", name), &awsapigateway.IntegrationArgs{
		RestApi:          api.ID(),
		ResourceId:       res.ID(),
		HttpMethod:       options.HttpMethod,
		Type:             pulumi.String("MOCK"),
		RequestTemplates: pulumi.StringMap{"application/json": pulumi.String(`{"statusCode": 200}`)},
	}, pulumi.Parent(res))
	if err != nil {
		return nil, err
	}

	methodResponse, err := awsapigateway.NewMethodResponse(ctx, fmt.Sprintf("%s-hello-options-response", name), &awsapigateway.MethodResponseArgs{
		RestApi:    api.ID(),
		ResourceId: res.ID(),
		HttpMethod: options.HttpMethod,
		StatusCode: pulumi.String("200"),
		ResponseParameters: pulumi.BoolMap{
			"method.response.header.Access-Control-Allow-Headers": pulumi.Bool(true),
			"method.response.header.Access-Control-Allow-Methods": pulumi.Bool(true),
			"method.response.header.Access-Control-Allow-Origin":  pulumi.Bool(true),
		},
	}, pulumi.Parent(res))
	if err != nil {
		return nil, err
	}

	integrationResponse, err := awsapigateway.NewIntegrationResponse(ctx, fmt.Sprintf("%s-hello-options-integration-response", name), &awsapigateway.IntegrationResponseArgs{
		RestApi:    api.ID(),
		ResourceId: res.ID(),
		HttpMethod: options.HttpMethod,
		StatusCode: methodResponse.StatusCode,
		ResponseParameters: pulumi.StringMap{
			"method.response.header.Access-Control-Allow-Headers": pulumi.String("'Authorization,Content-Type'"),
			"method.response.header.Access-Control-Allow-Methods": pulumi.String("'GET,OPTIONS'"),
			"method.response.header.Access-Control-Allow-Origin":  pulumi.String("'*'"),
		},
	}, pulumi.Parent(res), pulumi.DependsOn([]pulumi.Resource{integration}))
	if err != nil {
		return nil, err
	}

	return []pulumi.Resource{options, integration, methodResponse, integrationResponse}, nil
}
