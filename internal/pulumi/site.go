package provider

import (
	"encoding/json"
	"fmt"
	"mime"
	"path/filepath"
	"sort"
	"strings"

	awscloudfront "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cloudfront"
	awsroute53 "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/route53"
	awss3 "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/s3"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/mikecbrant/connectiv-portal/internal/utils"
)

// SiteConfig enables static site hosting for the portal client.
type SiteConfig struct {
	// Site domain, also used to locate the Route53 hosted zone.
	DomainName string `pulumi:"domainName"`
	// ARN of an existing ACM certificate in us-east-1. When omitted the
	// distribution falls back to the default CloudFront certificate and no
	// alias is attached.
	CertificateArn *string `pulumi:"certificateArn,optional"`
	// Hosted zone ID; looked up from domainName when omitted.
	HostedZoneId *string `pulumi:"hostedZoneId,optional"`
	// Local directory with the built site to upload.
	SiteDir *string `pulumi:"siteDir,optional"`
}

// createSite provisions the log and site buckets, the CloudFront distribution
// in front of them, the DNS alias, and the runtime config.json assembled from
// the live pool, client, and API outputs.
func createSite(ctx *pulumi.Context, name string, project string, cfg SiteConfig, auth *authResources, apiURL pulumi.StringOutput, opts []pulumi.ResourceOption) (*SiteOutputs, error) {
	logBucket, err := awss3.NewBucketV2(ctx, fmt.Sprintf("%s-site-logs", name), &awss3.BucketV2Args{
		Bucket:       pulumi.String(strings.ToLower(fmt.Sprintf("%s-website-logs", project))),
		ForceDestroy: pulumi.Bool(true),
	}, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := awss3.NewBucketLifecycleConfigurationV2(ctx, fmt.Sprintf("%s-site-logs-expiry", name), &awss3.BucketLifecycleConfigurationV2Args{
		Bucket: logBucket.ID(),
		Rules: awss3.BucketLifecycleConfigurationV2RuleArray{
			awss3.BucketLifecycleConfigurationV2RuleArgs{
				Id:         pulumi.String("expire-logs"),
				Status:     pulumi.String("Enabled"),
				Expiration: &awss3.BucketLifecycleConfigurationV2RuleExpirationArgs{Days: pulumi.Int(90)},
			},
		},
	}, pulumi.Parent(logBucket)); err != nil {
		return nil, err
	}

	siteBucket, err := awss3.NewBucketV2(ctx, fmt.Sprintf("%s-site", name), &awss3.BucketV2Args{
		Bucket:       pulumi.String(strings.ToLower(fmt.Sprintf("%s-website", project))),
		ForceDestroy: pulumi.Bool(true),
	}, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := awss3.NewBucketLoggingV2(ctx, fmt.Sprintf("%s-site-logging", name), &awss3.BucketLoggingV2Args{
		Bucket:       siteBucket.ID(),
		TargetBucket: logBucket.ID(),
		TargetPrefix: pulumi.String("website-bucket-logs/"),
	}, pulumi.Parent(siteBucket)); err != nil {
		return nil, err
	}
	if _, err := awss3.NewBucketPublicAccessBlock(ctx, fmt.Sprintf("%s-site-public-access", name), &awss3.BucketPublicAccessBlockArgs{
		Bucket:                siteBucket.ID(),
		BlockPublicAcls:       pulumi.Bool(true),
		BlockPublicPolicy:     pulumi.Bool(true),
		IgnorePublicAcls:      pulumi.Bool(true),
		RestrictPublicBuckets: pulumi.Bool(true),
	}, pulumi.Parent(siteBucket)); err != nil {
		return nil, err
	}

	oai, err := awscloudfront.NewOriginAccessIdentity(ctx, fmt.Sprintf("%s-oai", name), &awscloudfront.OriginAccessIdentityArgs{
		Comment: pulumi.String(fmt.Sprintf("%s site access", project)),
	}, opts...)
	if err != nil {
		return nil, err
	}

	bucketPolicy := pulumi.All(siteBucket.Arn, oai.IamArn).ApplyT(func(args []interface{}) (string, error) {
		bucketArn := args[0].(string)
		oaiArn := args[1].(string)
		b, err := json.Marshal(map[string]any{
			"Version": "2012-10-17",
			"Statement": []map[string]any{{
				"Effect":    "Allow",
				"Action":    []string{"s3:GetObject"},
				"Principal": map[string]any{"AWS": oaiArn},
				"Resource":  bucketArn + "/*",
			}},
		})
		return string(b), err
	}).(pulumi.StringOutput)
	if _, err := awss3.NewBucketPolicy(ctx, fmt.Sprintf("%s-site-policy", name), &awss3.BucketPolicyArgs{
		Bucket: siteBucket.ID(),
		Policy: bucketPolicy,
	}, pulumi.Parent(siteBucket)); err != nil {
		return nil, err
	}

	dist, err := createDistribution(ctx, name, cfg, siteBucket, logBucket, oai, opts)
	if err != nil {
		return nil, err
	}

	if err := createAliasRecord(ctx, name, cfg, dist, opts); err != nil {
		return nil, err
	}

	if cfg.SiteDir != nil && strings.TrimSpace(*cfg.SiteDir) != "" {
		if err := uploadSiteDir(ctx, name, *cfg.SiteDir, siteBucket); err != nil {
			return nil, err
		}
	}

	configJSON := pulumi.All(auth.pool.ID().ToStringOutput(), auth.client.ID().ToStringOutput(), apiURL).ApplyT(func(args []interface{}) (string, error) {
		b, err := json.Marshal(map[string]string{
			"REACT_APP_COGNITO_USER_POOL_ID":        args[0].(string),
			"REACT_APP_COGNITO_USER_POOL_CLIENT_ID": args[1].(string),
			"REACT_APP_API_GATEWAY_URL":             args[2].(string),
		})
		return string(b), err
	}).(pulumi.StringOutput)
	if _, err := awss3.NewBucketObjectv2(ctx, fmt.Sprintf("%s-site-config", name), &awss3.BucketObjectv2Args{
		Bucket:      siteBucket.ID(),
		Key:         pulumi.String("config.json"),
		Content:     configJSON,
		ContentType: pulumi.String("application/json"),
	}, pulumi.Parent(siteBucket)); err != nil {
		return nil, err
	}

	return &SiteOutputs{
		Bucket:             siteBucket.Bucket,
		DistributionDomain: dist.DomainName,
		Url:                pulumi.Sprintf("https://%s", cfg.DomainName),
	}, nil
}

func createDistribution(ctx *pulumi.Context, name string, cfg SiteConfig, siteBucket *awss3.BucketV2, logBucket *awss3.BucketV2, oai *awscloudfront.OriginAccessIdentity, opts []pulumi.ResourceOption) (*awscloudfront.Distribution, error) {
	const originID = "site"
	args := &awscloudfront.DistributionArgs{
		Enabled:           pulumi.Bool(true),
		DefaultRootObject: pulumi.String("index.html"),
		Origins: awscloudfront.DistributionOriginArray{
			awscloudfront.DistributionOriginArgs{
				DomainName: siteBucket.BucketRegionalDomainName,
				OriginId:   pulumi.String(originID),
				S3OriginConfig: &awscloudfront.DistributionOriginS3OriginConfigArgs{
					OriginAccessIdentity: oai.CloudfrontAccessIdentityPath,
				},
			},
		},
		DefaultCacheBehavior: &awscloudfront.DistributionDefaultCacheBehaviorArgs{
			TargetOriginId:       pulumi.String(originID),
			ViewerProtocolPolicy: pulumi.String("redirect-to-https"),
			AllowedMethods:       pulumi.ToStringArray([]string{"GET", "HEAD"}),
			CachedMethods:        pulumi.ToStringArray([]string{"GET", "HEAD"}),
			ForwardedValues: &awscloudfront.DistributionDefaultCacheBehaviorForwardedValuesArgs{
				QueryString: pulumi.Bool(false),
				Cookies:     &awscloudfront.DistributionDefaultCacheBehaviorForwardedValuesCookiesArgs{Forward: pulumi.String("none")},
			},
		},
		// The client routes in-app; unknown paths must fall through to it.
		CustomErrorResponses: awscloudfront.DistributionCustomErrorResponseArray{
			awscloudfront.DistributionCustomErrorResponseArgs{
				ErrorCode:        pulumi.Int(403),
				ResponseCode:     pulumi.Int(200),
				ResponsePagePath: pulumi.String("/index.html"),
			},
			awscloudfront.DistributionCustomErrorResponseArgs{
				ErrorCode:        pulumi.Int(404),
				ResponseCode:     pulumi.Int(200),
				ResponsePagePath: pulumi.String("/index.html"),
			},
		},
		Restrictions: &awscloudfront.DistributionRestrictionsArgs{
			GeoRestriction: &awscloudfront.DistributionRestrictionsGeoRestrictionArgs{RestrictionType: pulumi.String("none")},
		},
		LoggingConfig: &awscloudfront.DistributionLoggingConfigArgs{
			Bucket: logBucket.BucketDomainName,
			Prefix: pulumi.String("cloudfront-logs/"),
		},
	}
	if cfg.CertificateArn != nil && *cfg.CertificateArn != "" {
		args.Aliases = pulumi.ToStringArray([]string{cfg.DomainName})
		args.ViewerCertificate = &awscloudfront.DistributionViewerCertificateArgs{
			AcmCertificateArn:      pulumi.StringPtr(*cfg.CertificateArn),
			SslSupportMethod:       pulumi.StringPtr("sni-only"),
			MinimumProtocolVersion: pulumi.StringPtr("TLSv1.2_2021"),
		}
	} else {
		args.ViewerCertificate = &awscloudfront.DistributionViewerCertificateArgs{
			CloudfrontDefaultCertificate: pulumi.BoolPtr(true),
		}
	}
	return awscloudfront.NewDistribution(ctx, fmt.Sprintf("%s-distribution", name), args, opts...)
}

func createAliasRecord(ctx *pulumi.Context, name string, cfg SiteConfig, dist *awscloudfront.Distribution, opts []pulumi.ResourceOption) error {
	zoneID := valueOrDefault(cfg.HostedZoneId, "")
	if zoneID == "" {
		zone, err := awsroute53.LookupZone(ctx, &awsroute53.LookupZoneArgs{Name: pulumi.StringRef(cfg.DomainName)})
		if err != nil {
			return err
		}
		zoneID = zone.ZoneId
	}
	_, err := awsroute53.NewRecord(ctx, fmt.Sprintf("%s-site-alias", name), &awsroute53.RecordArgs{
		ZoneId: pulumi.String(zoneID),
		Name:   pulumi.String(cfg.DomainName),
		Type:   pulumi.String("A"),
		Aliases: awsroute53.RecordAliasArray{
			awsroute53.RecordAliasArgs{
				Name:                 dist.DomainName,
				ZoneId:               dist.HostedZoneId,
				EvaluateTargetHealth: pulumi.Bool(false),
			},
		},
	}, opts...)
	return err
}

func uploadSiteDir(ctx *pulumi.Context, name string, dir string, bucket *awss3.BucketV2) error {
	files, err := utils.GlobRecursive(dir, "**/*")
	if err != nil {
		return fmt.Errorf("failed to enumerate site files under %s: %w", dir, err)
	}
	sort.Strings(files)
	for _, f := range files {
		rel, err := filepath.Rel(dir, f)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		contentType := mime.TypeByExtension(filepath.Ext(f))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		resName := fmt.Sprintf("%s-site-object-%s", name, strings.NewReplacer("/", "-", ".", "-").Replace(key))
		if _, err := awss3.NewBucketObjectv2(ctx, resName, &awss3.BucketObjectv2Args{
			Bucket:      bucket.ID(),
			Key:         pulumi.String(key),
			Source:      pulumi.NewFileAsset(f),
			ContentType: pulumi.String(contentType),
		}, pulumi.Parent(bucket)); err != nil {
			return err
		}
	}
	return nil
}
