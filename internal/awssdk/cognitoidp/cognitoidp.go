// Package cognitoidp wraps the Cognito IdP API surface the portal consumes:
// password authentication, the new-password challenge, and refresh-token
// exchange, plus a local token cache standing in for the provider's
// browser-local session cache.
package cognitoidp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	cipTypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"github.com/mikecbrant/connectiv-portal/internal/utils/logging"
)

// Tokens is one issued token set.
type Tokens struct {
	Username     string    `yaml:"username"`
	IDToken      string    `yaml:"idToken"`
	AccessToken  string    `yaml:"accessToken"`
	RefreshToken string    `yaml:"refreshToken"`
	ExpiresAt    time.Time `yaml:"expiresAt"`
}

// PendingUser is the continuation handle for a NEW_PASSWORD_REQUIRED challenge.
// Attributes excludes any attribute the server already marked verified; those
// must not be echoed back in the challenge response.
type PendingUser struct {
	Username         string
	ChallengeSession string
	Attributes       map[string]string
}

// ResultKind tags the outcome of an authentication attempt.
type ResultKind int

const (
	// AuthSuccess means tokens were issued.
	AuthSuccess ResultKind = iota
	// AuthNewPasswordRequired means the provider demands a password change
	// before issuing tokens.
	AuthNewPasswordRequired
)

// AuthResult is the tagged outcome of Authenticate. Provider rejection is the
// error return; a non-error result is either tokens or a pending challenge.
type AuthResult struct {
	Kind    ResultKind
	Tokens  Tokens
	Pending *PendingUser
}

// API is the subset of the Cognito IdP client used here.
type API interface {
	InitiateAuth(ctx context.Context, in *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	RespondToAuthChallenge(ctx context.Context, in *cip.RespondToAuthChallengeInput, optFns ...func(*cip.Options)) (*cip.RespondToAuthChallengeOutput, error)
}

// Client drives the identity-provider operations for one app client.
type Client struct {
	api      API
	clientID string
	cache    *TokenCache
	logger   logging.Logger
}

// New returns a Client. The cache is optional; when nil, no tokens are
// persisted between processes. A nil logger discards logs.
func New(api API, clientID string, cache *TokenCache, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Client{api: api, clientID: clientID, cache: cache, logger: logger}
}

// Verified flags the server reports alongside a challenge; echoing them back as
// attribute updates is rejected by the provider.
var verifiedFlags = map[string]struct{}{
	"email_verified":        {},
	"phone_number_verified": {},
}

// Authenticate performs USER_PASSWORD_AUTH. A NEW_PASSWORD_REQUIRED challenge
// maps to AuthNewPasswordRequired with the pending user handle; success
// persists the issued tokens to the cache.
func (c *Client) Authenticate(ctx context.Context, username, password string) (AuthResult, error) {
	out, err := c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: cipTypes.AuthFlowTypeUserPasswordAuth,
		ClientId: awsv2.String(c.clientID),
		AuthParameters: map[string]string{
			"USERNAME": username,
			"PASSWORD": password,
		},
	})
	if err != nil {
		return AuthResult{}, fmt.Errorf("initiate auth: %w", err)
	}

	if out.ChallengeName == cipTypes.ChallengeNameTypeNewPasswordRequired {
		pending := &PendingUser{
			Username:         username,
			ChallengeSession: awsv2.ToString(out.Session),
			Attributes:       challengeAttributes(out.ChallengeParameters),
		}
		if u := out.ChallengeParameters["USER_ID_FOR_SRP"]; u != "" {
			pending.Username = u
		}
		c.logger.Debug("cognitoidp.authenticate", logging.Fields{"user": pending.Username, "outcome": "new password required"})
		return AuthResult{Kind: AuthNewPasswordRequired, Pending: pending}, nil
	}

	tokens, err := c.tokensFromResult(username, out.AuthenticationResult, "")
	if err != nil {
		return AuthResult{}, err
	}
	c.persist(tokens)
	c.logger.Debug("cognitoidp.authenticate", logging.Fields{"user": username, "outcome": "success"})
	return AuthResult{Kind: AuthSuccess, Tokens: tokens}, nil
}

// CompleteNewPassword answers a NEW_PASSWORD_REQUIRED challenge. The retained
// (non-verified-flag) attributes are echoed back as userAttributes responses.
func (c *Client) CompleteNewPassword(ctx context.Context, pending PendingUser, newPassword string) (Tokens, error) {
	responses := map[string]string{
		"USERNAME":     pending.Username,
		"NEW_PASSWORD": newPassword,
	}
	for name, value := range pending.Attributes {
		responses["userAttributes."+name] = value
	}
	out, err := c.api.RespondToAuthChallenge(ctx, &cip.RespondToAuthChallengeInput{
		ChallengeName:      cipTypes.ChallengeNameTypeNewPasswordRequired,
		ClientId:           awsv2.String(c.clientID),
		Session:            awsv2.String(pending.ChallengeSession),
		ChallengeResponses: responses,
	})
	if err != nil {
		return Tokens{}, fmt.Errorf("respond to auth challenge: %w", err)
	}
	tokens, err := c.tokensFromResult(pending.Username, out.AuthenticationResult, "")
	if err != nil {
		return Tokens{}, err
	}
	c.persist(tokens)
	c.logger.Debug("cognitoidp.complete_new_password", logging.Fields{"user": pending.Username})
	return tokens, nil
}

// RefreshSession exchanges the refresh token for fresh tokens. Refresh
// responses omit the refresh token, so the prior one is carried forward.
func (c *Client) RefreshSession(ctx context.Context, prior Tokens) (Tokens, error) {
	if prior.RefreshToken == "" {
		return Tokens{}, fmt.Errorf("no refresh token")
	}
	out, err := c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: cipTypes.AuthFlowTypeRefreshTokenAuth,
		ClientId: awsv2.String(c.clientID),
		AuthParameters: map[string]string{
			"REFRESH_TOKEN": prior.RefreshToken,
		},
	})
	if err != nil {
		return Tokens{}, fmt.Errorf("refresh token auth: %w", err)
	}
	tokens, err := c.tokensFromResult(prior.Username, out.AuthenticationResult, prior.RefreshToken)
	if err != nil {
		return Tokens{}, err
	}
	c.persist(tokens)
	c.logger.Debug("cognitoidp.refresh", logging.Fields{"user": prior.Username})
	return tokens, nil
}

// CurrentUser returns the locally cached tokens, if any.
func (c *Client) CurrentUser() (Tokens, bool) {
	if c.cache == nil {
		return Tokens{}, false
	}
	return c.cache.Load()
}

// SignOut invalidates the local session by removing the cached tokens. It never
// fails the caller; a cache-removal problem is only logged.
func (c *Client) SignOut() {
	if c.cache == nil {
		return
	}
	if err := c.cache.Clear(); err != nil {
		c.logger.Warn("cognitoidp.signout", logging.Fields{"error": err.Error()})
	}
}

func (c *Client) persist(tokens Tokens) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Save(tokens); err != nil {
		c.logger.Warn("cognitoidp.cache_save", logging.Fields{"error": err.Error()})
	}
}

func (c *Client) tokensFromResult(username string, result *cipTypes.AuthenticationResultType, priorRefresh string) (Tokens, error) {
	if result == nil {
		return Tokens{}, fmt.Errorf("authentication result missing from provider response")
	}
	tokens := Tokens{
		Username:     username,
		IDToken:      awsv2.ToString(result.IdToken),
		AccessToken:  awsv2.ToString(result.AccessToken),
		RefreshToken: awsv2.ToString(result.RefreshToken),
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = priorRefresh
	}
	if exp, err := tokenExpiry(tokens.IDToken); err == nil {
		tokens.ExpiresAt = exp
	} else if result.ExpiresIn > 0 {
		tokens.ExpiresAt = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	}
	return tokens, nil
}

// challengeAttributes parses the userAttributes challenge parameter and drops
// attributes the server already marked verified.
func challengeAttributes(params map[string]string) map[string]string {
	raw, ok := params["userAttributes"]
	if !ok || raw == "" {
		return nil
	}
	var attrs map[string]string
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return nil
	}
	for name := range verifiedFlags {
		delete(attrs, name)
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// tokenExpiry reads the exp claim from a JWT payload. The signature is not
// verified here; the server-side authorizer owns cryptographic validation.
func tokenExpiry(jwt string) (time.Time, error) {
	parts := strings.Split(jwt, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("not a JWT")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("decoding JWT payload: %w", err)
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parsing JWT claims: %w", err)
	}
	if claims.Exp == 0 {
		return time.Time{}, fmt.Errorf("no exp claim")
	}
	return time.Unix(claims.Exp, 0), nil
}
