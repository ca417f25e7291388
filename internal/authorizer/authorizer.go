// Package authorizer implements the API Gateway token authorizer: it verifies
// a Cognito-issued JWT against the pool's JWKS, forwards the principal's
// claims to Verified Permissions for a decision, and answers with an IAM
// policy. Signature verification is delegated to jwx; policy evaluation is
// delegated to the managed policy engine. Every failure maps to Deny.
package authorizer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	vpapi "github.com/aws/aws-sdk-go-v2/service/verifiedpermissions"
	vpapiTypes "github.com/aws/aws-sdk-go-v2/service/verifiedpermissions/types"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	awserrs "github.com/mikecbrant/connectiv-portal/internal/awssdk/errors"
	"github.com/mikecbrant/connectiv-portal/internal/utils/logging"
)

// Cedar entity model of the policy store.
const (
	principalType = "ExampleCo::Connectiv::User"
	actionType    = "ExampleCo::Connectiv::Action"
	resourceType  = "ExampleCo::Connectiv::Resource"
	actionID      = "access"
	resourceID    = "my-resource"
)

// Config is the authorizer's cold-start configuration.
type Config struct {
	Region        string
	UserPoolID    string
	ClientID      string
	PolicyStoreID string
}

// ConfigFromEnv reads and validates the required environment variables.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Region:        os.Getenv("AWS_REGION"),
		UserPoolID:    os.Getenv("USER_POOL_ID"),
		ClientID:      os.Getenv("CLIENT_ID"),
		PolicyStoreID: os.Getenv("POLICY_STORE_ID"),
	}
	var missing []string
	for name, v := range map[string]string{
		"AWS_REGION":      cfg.Region,
		"USER_POOL_ID":    cfg.UserPoolID,
		"CLIENT_ID":       cfg.ClientID,
		"POLICY_STORE_ID": cfg.PolicyStoreID,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

// Issuer returns the user pool's token issuer URL.
func (c Config) Issuer() string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
}

// JWKSURL returns the user pool's JWKS endpoint.
func (c Config) JWKSURL() string {
	return c.Issuer() + "/.well-known/jwks.json"
}

// KeySource supplies the pool's signing keys. Refresh forces a re-fetch, used
// once after a verification failure to cover key rotation.
type KeySource interface {
	Get(ctx context.Context) (jwk.Set, error)
	Refresh(ctx context.Context) (jwk.Set, error)
}

type cachedKeySource struct {
	cache *jwk.Cache
	url   string
}

// NewKeySource returns an auto-refreshing key source for the given JWKS URL.
func NewKeySource(ctx context.Context, jwksURL string) (KeySource, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("registering JWKS endpoint: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetching signing keys from %s: %w", jwksURL, err)
	}
	return &cachedKeySource{cache: cache, url: jwksURL}, nil
}

func (s *cachedKeySource) Get(ctx context.Context) (jwk.Set, error) {
	return s.cache.Get(ctx, s.url)
}

func (s *cachedKeySource) Refresh(ctx context.Context) (jwk.Set, error) {
	return s.cache.Refresh(ctx, s.url)
}

// Decider is the Verified Permissions surface used for decisions.
type Decider interface {
	IsAuthorized(ctx context.Context, in *vpapi.IsAuthorizedInput, optFns ...func(*vpapi.Options)) (*vpapi.IsAuthorizedOutput, error)
}

// Authorizer validates tokens and asks the policy store for a decision.
type Authorizer struct {
	cfg    Config
	keys   KeySource
	vp     Decider
	logger logging.Logger
}

// New returns an Authorizer. A nil logger discards logs.
func New(cfg Config, keys KeySource, vp Decider, logger logging.Logger) *Authorizer {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Authorizer{cfg: cfg, keys: keys, vp: vp, logger: logger}
}

// Authorize handles one token-authorizer invocation. It never surfaces an
// error to API Gateway; every failure becomes a Deny policy.
func (a *Authorizer) Authorize(ctx context.Context, event events.APIGatewayCustomAuthorizerRequest) events.APIGatewayCustomAuthorizerResponse {
	principalID := "unknown"
	effect := "Deny"

	token := strings.TrimPrefix(event.AuthorizationToken, "Bearer ")

	claims, err := a.verify(ctx, token)
	if err != nil {
		a.logger.Error("authorizer.verify", logging.Fields{"error": err.Error()})
		return policyResponse(principalID, effect, event.MethodArn)
	}

	principalID = claims.Username
	allowed, err := a.decide(ctx, claims)
	if err != nil {
		a.logger.Error("authorizer.decide", logging.Fields{"error": awserrs.Classify(err).Error()})
		return policyResponse(principalID, effect, event.MethodArn)
	}
	if allowed {
		effect = "Allow"
	}
	return policyResponse(principalID, effect, event.MethodArn)
}

// Claims is the validated subset of the token used for the decision.
type Claims struct {
	Username string
	Group    string
	Custom   map[string]string
}

// verify checks the token signature, issuer, audience, and expiry. A key
// lookup miss against the cached set triggers one refresh and retry, covering
// pool key rotation; expired or malformed tokens fail without a re-fetch.
func (a *Authorizer) verify(ctx context.Context, token string) (Claims, error) {
	set, err := a.keys.Get(ctx)
	if err != nil {
		return Claims{}, fmt.Errorf("loading key set: %w", err)
	}
	parsed, err := a.parse(token, set)
	if err != nil && keyLookupMiss(err) {
		fresh, rerr := a.keys.Refresh(ctx)
		if rerr == nil {
			parsed, err = a.parse(token, fresh)
		}
	}
	if err != nil {
		return Claims{}, fmt.Errorf("validating token: %w", err)
	}
	return extractClaims(parsed), nil
}

// keyLookupMiss reports whether the parse failed because the token's kid is
// absent from the key set. jwx surfaces this only as message text, from the
// jws key-set provider.
func keyLookupMiss(err error) bool {
	return strings.Contains(err.Error(), "failed to find key")
}

func (a *Authorizer) parse(token string, set jwk.Set) (jwt.Token, error) {
	return jwt.ParseString(token,
		jwt.WithKeySet(set),
		jwt.WithIssuer(a.cfg.Issuer()),
		jwt.WithAudience(a.cfg.ClientID),
		jwt.WithRequiredClaim("exp"),
		jwt.WithValidate(true),
	)
}

func extractClaims(token jwt.Token) Claims {
	claims := Claims{Username: "unknown", Group: "Unknown", Custom: map[string]string{}}
	private := token.PrivateClaims()
	if u, ok := private["cognito:username"].(string); ok && u != "" {
		claims.Username = u
	}
	if groups, ok := private["cognito:groups"].([]any); ok && len(groups) > 0 {
		if g, ok := groups[0].(string); ok && g != "" {
			claims.Group = g
		}
	}
	for name, value := range private {
		if !strings.HasPrefix(name, "custom:") {
			continue
		}
		if s, ok := value.(string); ok {
			claims.Custom[strings.TrimPrefix(name, "custom:")] = s
		}
	}
	return claims
}

// decide asks the policy store whether the principal may access the resource.
// The principal entity carries the group and custom attributes as string
// values for the shape-based Cedar schema.
func (a *Authorizer) decide(ctx context.Context, claims Claims) (bool, error) {
	attributes := map[string]vpapiTypes.AttributeValue{
		"group": &vpapiTypes.AttributeValueMemberString{Value: claims.Group},
	}
	for name, value := range claims.Custom {
		attributes[name] = &vpapiTypes.AttributeValueMemberString{Value: value}
	}

	pType, pID := principalType, claims.Username
	aType, aID := actionType, actionID
	rType, rID := resourceType, resourceID
	out, err := a.vp.IsAuthorized(ctx, &vpapi.IsAuthorizedInput{
		PolicyStoreId: &a.cfg.PolicyStoreID,
		Principal:     &vpapiTypes.EntityIdentifier{EntityType: &pType, EntityId: &pID},
		Action:        &vpapiTypes.ActionIdentifier{ActionType: &aType, ActionId: &aID},
		Resource:      &vpapiTypes.EntityIdentifier{EntityType: &rType, EntityId: &rID},
		Entities: &vpapiTypes.EntitiesDefinitionMemberEntityList{
			Value: []vpapiTypes.EntityItem{{
				Identifier: &vpapiTypes.EntityIdentifier{EntityType: &pType, EntityId: &pID},
				Attributes: attributes,
			}},
		},
	})
	if err != nil {
		return false, err
	}
	return out.Decision == vpapiTypes.DecisionAllow, nil
}

func policyResponse(principalID, effect, methodArn string) events.APIGatewayCustomAuthorizerResponse {
	resource := methodArn
	if resource == "" {
		resource = "*"
	}
	return events.APIGatewayCustomAuthorizerResponse{
		PrincipalID: principalID,
		PolicyDocument: events.APIGatewayCustomAuthorizerPolicy{
			Version: "2012-10-17",
			Statement: []events.IAMPolicyStatement{{
				Action:   []string{"execute-api:Invoke"},
				Effect:   effect,
				Resource: []string{resource},
			}},
		},
		Context: map[string]any{"username": principalID},
	}
}
