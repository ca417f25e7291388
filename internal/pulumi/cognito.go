package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	awscognito "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cognito"
	awssesv2 "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/sesv2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// CognitoConfig captures optional Cognito-related settings for the component.
type CognitoConfig struct {
	// Optional SES settings for configuring Cognito email sending.
	SesConfig *CognitoSesConfig `pulumi:"sesConfig,optional"`
	// Optional sign-in aliases beyond the username (e.g. email, preferred_username).
	SignInAliases []string `pulumi:"signInAliases,optional"`
}

// Custom attributes carried on every user and surfaced to the authorizer as
// custom: claims on the ID token.
var customAttributes = []string{"dataProductAccess", "department"}

type authResources struct {
	pool     *awscognito.UserPool
	client   *awscognito.UserPoolClient
	domain   *awscognito.UserPoolDomain
	hostedUI string
}

// createAuth provisions the user pool, hosted domain, app client, and the
// default Admin group.
func createAuth(ctx *pulumi.Context, name string, project string, cfg *CognitoConfig, region string, opts []pulumi.ResourceOption) (*authResources, error) {
	if cfg == nil {
		cfg = &CognitoConfig{}
	}

	poolArgs := &awscognito.UserPoolArgs{
		Name: pulumi.String(fmt.Sprintf("%s-CognitoUserPool", project)),
		AdminCreateUserConfig: &awscognito.UserPoolAdminCreateUserConfigArgs{
			AllowAdminCreateUserOnly: pulumi.Bool(false),
		},
		PasswordPolicy: &awscognito.UserPoolPasswordPolicyArgs{
			MinimumLength:    pulumi.Int(6),
			RequireLowercase: pulumi.Bool(false),
			RequireUppercase: pulumi.Bool(false),
			RequireNumbers:   pulumi.Bool(false),
			RequireSymbols:   pulumi.Bool(false),
		},
		Schemas: customAttributeSchemas(),
	}
	if len(cfg.SignInAliases) > 0 {
		poolArgs.AliasAttributes = pulumi.ToStringArray(cfg.SignInAliases)
	}

	var sesAccount, sesIdentity, sesIdentityRegion string
	if cfg.SesConfig != nil {
		var err error
		sesAccount, sesIdentity, sesIdentityRegion, err = validateSesConfig(*cfg.SesConfig, region)
		if err != nil {
			return nil, err
		}
		emailConf := &awscognito.UserPoolEmailConfigurationArgs{
			EmailSendingAccount: pulumi.String("DEVELOPER"),
			SourceArn:           pulumi.String(cfg.SesConfig.SourceArn),
			FromEmailAddress:    pulumi.String(cfg.SesConfig.From),
		}
		if cfg.SesConfig.ReplyToEmail != nil {
			emailConf.ReplyToEmailAddress = pulumi.StringPtr(*cfg.SesConfig.ReplyToEmail)
		}
		if cfg.SesConfig.ConfigurationSet != nil {
			emailConf.ConfigurationSet = pulumi.StringPtr(*cfg.SesConfig.ConfigurationSet)
		}
		poolArgs.EmailConfiguration = emailConf
	}

	pool, err := awscognito.NewUserPool(ctx, fmt.Sprintf("%s-userpool", name), poolArgs, opts...)
	if err != nil {
		return nil, err
	}

	if cfg.SesConfig != nil {
		if err := createSesIdentityPolicy(ctx, name, pool, sesAccount, sesIdentityRegion, sesIdentity, opts); err != nil {
			return nil, err
		}
	}

	// Hosted domain prefixes must be globally unique and lowercase.
	domainPrefix := strings.ToLower(fmt.Sprintf("%s-connectiv-domain", project))
	domain, err := awscognito.NewUserPoolDomain(ctx, fmt.Sprintf("%s-userpool-domain", name), &awscognito.UserPoolDomainArgs{
		Domain:     pulumi.String(domainPrefix),
		UserPoolId: pool.ID(),
	}, opts...)
	if err != nil {
		return nil, err
	}

	readAttrs := []string{"email", "username"}
	for _, attr := range customAttributes {
		readAttrs = append(readAttrs, "custom:"+attr)
	}
	client, err := awscognito.NewUserPoolClient(ctx, fmt.Sprintf("%s-app-client", name), &awscognito.UserPoolClientArgs{
		Name:           pulumi.String(fmt.Sprintf("%s-AppClient", project)),
		UserPoolId:     pool.ID(),
		GenerateSecret: pulumi.Bool(false),
		ExplicitAuthFlows: pulumi.ToStringArray([]string{
			"ALLOW_USER_PASSWORD_AUTH",
			"ALLOW_USER_SRP_AUTH",
			"ALLOW_REFRESH_TOKEN_AUTH",
		}),
		ReadAttributes: pulumi.ToStringArray(readAttrs),
	}, opts...)
	if err != nil {
		return nil, err
	}

	if _, err := awscognito.NewUserGroup(ctx, fmt.Sprintf("%s-admin-group", name), &awscognito.UserGroupArgs{
		Name:        pulumi.String("Admin"),
		UserPoolId:  pool.ID(),
		Precedence:  pulumi.Int(1),
		Description: pulumi.String("Default Admin group for elevated permissions"),
	}, opts...); err != nil {
		return nil, err
	}

	return &authResources{
		pool:     pool,
		client:   client,
		domain:   domain,
		hostedUI: fmt.Sprintf("https://%s.auth.%s.amazoncognito.com", domainPrefix, region),
	}, nil
}

func customAttributeSchemas() awscognito.UserPoolSchemaArray {
	schemas := awscognito.UserPoolSchemaArray{}
	for _, attr := range customAttributes {
		schemas = append(schemas, awscognito.UserPoolSchemaArgs{
			Name:              pulumi.String(attr),
			AttributeDataType: pulumi.String("String"),
			Mutable:           pulumi.Bool(true),
			StringAttributeConstraints: &awscognito.UserPoolSchemaStringAttributeConstraintsArgs{
				MinLength: pulumi.StringPtr("1"),
				MaxLength: pulumi.StringPtr("256"),
			},
		})
	}
	return schemas
}

func createSesIdentityPolicy(ctx *pulumi.Context, name string, up *awscognito.UserPool, account string, identityRegion string, identityName string, opts []pulumi.ResourceOption) error {
	policy := up.Arn.ApplyT(func(userPoolArn string) string {
		pol := map[string]any{
			"Version": "2012-10-17",
			"Statement": []map[string]any{{
				"Effect":    "Allow",
				"Action":    []string{"ses:SendEmail", "ses:SendRawEmail"},
				"Principal": map[string]any{"Service": "cognito-idp.amazonaws.com"},
				"Resource":  fmt.Sprintf("arn:%s:ses:%s:%s:identity/%s", partitionForRegion(identityRegion), identityRegion, account, identityName),
				"Condition": map[string]any{"StringEquals": map[string]any{"AWS:SourceArn": userPoolArn}},
			}},
		}
		b, _ := json.Marshal(pol)
		return string(b)
	}).(pulumi.StringOutput)
	_, err := awssesv2.NewEmailIdentityPolicy(ctx, fmt.Sprintf("%s-ses-policy", name), &awssesv2.EmailIdentityPolicyArgs{
		EmailIdentity: pulumi.String(identityName),
		Policy:        policy,
		PolicyName:    pulumi.String(fmt.Sprintf("%s-cognito-send", name)),
	}, opts...)
	return err
}
