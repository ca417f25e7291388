// The authorizer-handler binary is the API Gateway token authorizer Lambda.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	vpapi "github.com/aws/aws-sdk-go-v2/service/verifiedpermissions"
	"github.com/rs/zerolog"

	"github.com/mikecbrant/connectiv-portal/internal/authorizer"
	"github.com/mikecbrant/connectiv-portal/internal/awssdk"
	"github.com/mikecbrant/connectiv-portal/internal/utils/logging"
)

var auth *authorizer.Authorizer

func init() {
	logger := logging.NewZerolog(zerolog.ErrorLevel, false)

	cfg, err := authorizer.ConfigFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := context.Background()
	awsCfg, err := awssdk.LoadDefault(ctx, cfg.Region)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading AWS config: %v\n", err)
		os.Exit(1)
	}
	keys, err := authorizer.NewKeySource(ctx, cfg.JWKSURL())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	auth = authorizer.New(cfg, keys, vpapi.NewFromConfig(awsCfg), logger)
}

func handler(ctx context.Context, event events.APIGatewayCustomAuthorizerRequest) (events.APIGatewayCustomAuthorizerResponse, error) {
	return auth.Authorize(ctx, event), nil
}

func main() {
	lambda.Start(handler)
}
