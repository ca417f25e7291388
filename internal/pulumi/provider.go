package provider

import (
	"fmt"
	"strings"

	aws "github.com/pulumi/pulumi-aws/sdk/v6/go/aws"
	awsssm "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ssm"
	p "github.com/pulumi/pulumi-go-provider"
	"github.com/pulumi/pulumi-go-provider/infer"
	"github.com/pulumi/pulumi/sdk/v3/go/common/tokens"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// NewProvider exposes construction so the resource plugin binary and tests share one entry point.
func NewProvider() (p.Provider, error) {
	return infer.NewProviderBuilder().
		WithComponents(infer.ComponentF(NewPortal)).
		Build()
}

// PortalArgs defines the inputs for the component resource.
type PortalArgs struct {
	// Prefix for every resource name, function name, and SSM parameter path.
	ProjectName string `pulumi:"projectName"`
	// When true, resources are retained on delete and protected from deletion (where supported).
	RetainOnDelete *bool `pulumi:"retainOnDelete,optional"`
	// Optional Cognito tuning (sign-in aliases, SES email sending).
	Cognito *CognitoConfig `pulumi:"cognito,optional"`
	// Settings for the hello and authorizer Lambda functions.
	Lambda *LambdaConfig `pulumi:"lambda,optional"`
	// Verified Permissions schema & policy asset ingestion and validation settings.
	VerifiedPermissions *VerifiedPermissionsConfig `pulumi:"verifiedPermissions,optional"`
	// Optional static site hosting (S3 + CloudFront + Route53).
	Site *SiteConfig `pulumi:"site,optional"`
}

// Portal is the component implementing the full portal deployment: Cognito
// user pool, Verified Permissions policy store, the API with its token
// authorizer, and (optionally) the static site that serves the client.
type Portal struct {
	pulumi.ResourceState

	// Grouped outputs
	Cognito    CognitoOutputs         `pulumi:"cognito"`
	Api        ApiOutputs             `pulumi:"api"`
	Site       *SiteOutputs           `pulumi:"site,optional"`
	Parameters pulumi.StringMapOutput `pulumi:"parameters"`
}

// CognitoOutputs groups user-pool outputs under the `cognito` object.
type CognitoOutputs struct {
	UserPoolId       pulumi.StringOutput `pulumi:"userPoolId"`
	UserPoolClientId pulumi.StringOutput `pulumi:"userPoolClientId"`
	HostedDomain     pulumi.StringOutput `pulumi:"hostedDomain"`
}

// ApiOutputs groups API Gateway and policy store outputs under the `api` object.
type ApiOutputs struct {
	Url            pulumi.StringOutput `pulumi:"url"`
	PolicyStoreId  pulumi.StringOutput `pulumi:"policyStoreId"`
	PolicyStoreArn pulumi.StringOutput `pulumi:"policyStoreArn"`
}

// SiteOutputs groups static-site outputs under the `site` object.
type SiteOutputs struct {
	Bucket             pulumi.StringOutput `pulumi:"bucket"`
	DistributionDomain pulumi.StringOutput `pulumi:"distributionDomain"`
	Url                pulumi.StringOutput `pulumi:"url"`
}

// Annotate attaches schema metadata used for provider docs and code generation.
func (c *Portal) Annotate(a infer.Annotator) {
	a.Describe(&c, "Provision the Connectiv portal: Cognito auth, a Verified Permissions policy store, the hello API with its token authorizer, and optional static site hosting.")
	a.SetToken(tokens.ModuleName("connectiv-portal"), tokens.TypeName("Portal"))
}

// NewPortal is the component constructor used by infer.Component.
func NewPortal(
	ctx *pulumi.Context,
	name string,
	args PortalArgs,
	opts ...pulumi.ResourceOption,
) (*Portal, error) {
	project := strings.TrimSpace(args.ProjectName)
	if project == "" {
		return nil, fmt.Errorf("projectName is required")
	}

	comp := &Portal{}
	const portalType = "connectiv-portal:index:Portal"
	if err := ctx.RegisterComponentResource(portalType, name, comp, opts...); err != nil {
		return nil, err
	}

	normalizePortalArgs(&args)
	childOpts, retOpts := buildChildOptions(comp, opts, *args.RetainOnDelete)

	reg, err := aws.GetRegion(ctx, nil)
	if err != nil {
		return nil, err
	}

	auth, err := createAuth(ctx, name, project, args.Cognito, reg.Name, retOpts)
	if err != nil {
		return nil, err
	}

	api, err := createApi(ctx, name, project, auth, args.Lambda, childOpts)
	if err != nil {
		return nil, err
	}

	if args.VerifiedPermissions != nil {
		if err := applySchemaAndPolicies(ctx, name, api.store, *args.VerifiedPermissions); err != nil {
			return nil, err
		}
	}

	params, err := createParameters(ctx, name, project, auth, api.url, childOpts)
	if err != nil {
		return nil, err
	}

	comp.Cognito = CognitoOutputs{
		UserPoolId:       auth.pool.ID().ToStringOutput(),
		UserPoolClientId: auth.client.ID().ToStringOutput(),
		HostedDomain:     pulumi.String(auth.hostedUI).ToStringOutput(),
	}
	comp.Api = ApiOutputs{Url: api.url, PolicyStoreId: api.store.ID().ToStringOutput(), PolicyStoreArn: api.store.Arn}
	comp.Parameters = params

	if args.Site != nil {
		site, err := createSite(ctx, name, project, *args.Site, auth, api.url, childOpts)
		if err != nil {
			return nil, err
		}
		comp.Site = site
	}

	return comp, nil
}

func normalizePortalArgs(args *PortalArgs) {
	if args.RetainOnDelete == nil {
		b := false
		args.RetainOnDelete = &b
	}
	if args.Lambda == nil {
		args.Lambda = &LambdaConfig{}
	}
}

func buildChildOptions(comp pulumi.Resource, opts []pulumi.ResourceOption, retainOnDelete bool) (childOpts []pulumi.ResourceOption, retainOpts []pulumi.ResourceOption) {
	childOpts = append([]pulumi.ResourceOption{}, opts...)
	childOpts = append(childOpts, pulumi.Parent(comp))
	retainOpts = append([]pulumi.ResourceOption{}, childOpts...)
	if retainOnDelete {
		retainOpts = append(retainOpts, pulumi.RetainOnDelete(true))
	}
	return childOpts, retainOpts
}

// Parameter names consumed by the client at runtime; the site's config.json is
// assembled from the same three values.
func parameterNames(project string) (poolID string, clientID string, apiURL string) {
	return fmt.Sprintf("/%s/REACT_APP_COGNITO_USER_POOL_ID", project),
		fmt.Sprintf("/%s/REACT_APP_COGNITO_USER_POOL_CLIENT_ID", project),
		fmt.Sprintf("/%s/REACT_APP_API_GATEWAY_URL", project)
}

func createParameters(ctx *pulumi.Context, name string, project string, auth *authResources, apiURL pulumi.StringOutput, opts []pulumi.ResourceOption) (pulumi.StringMapOutput, error) {
	poolParam, clientParam, urlParam := parameterNames(project)
	var zero pulumi.StringMapOutput

	if _, err := awsssm.NewParameter(ctx, fmt.Sprintf("%s-param-user-pool-id", name), &awsssm.ParameterArgs{
		Name:        pulumi.String(poolParam),
		Type:        pulumi.String("String"),
		Value:       auth.pool.ID().ToStringOutput(),
		Description: pulumi.String("Cognito User Pool ID for the frontend configuration"),
	}, opts...); err != nil {
		return zero, err
	}
	if _, err := awsssm.NewParameter(ctx, fmt.Sprintf("%s-param-user-pool-client-id", name), &awsssm.ParameterArgs{
		Name:        pulumi.String(clientParam),
		Type:        pulumi.String("String"),
		Value:       auth.client.ID().ToStringOutput(),
		Description: pulumi.String("Cognito User Pool Client ID for the frontend configuration"),
	}, opts...); err != nil {
		return zero, err
	}
	if _, err := awsssm.NewParameter(ctx, fmt.Sprintf("%s-param-api-url", name), &awsssm.ParameterArgs{
		Name:        pulumi.String(urlParam),
		Type:        pulumi.String("String"),
		Value:       apiURL,
		Description: pulumi.String("The API Gateway URL for the frontend configuration"),
	}, opts...); err != nil {
		return zero, err
	}

	return pulumi.StringMap{
		poolParam:   auth.pool.ID().ToStringOutput(),
		clientParam: auth.client.ID().ToStringOutput(),
		urlParam:    apiURL,
	}.ToStringMapOutput(), nil
}
