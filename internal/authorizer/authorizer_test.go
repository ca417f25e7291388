package authorizer

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	vpapi "github.com/aws/aws-sdk-go-v2/service/verifiedpermissions"
	vpapiTypes "github.com/aws/aws-sdk-go-v2/service/verifiedpermissions/types"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var testConfig = Config{
	Region:        "us-east-1",
	UserPoolID:    "us-east-1_testpool",
	ClientID:      "client-abc",
	PolicyStoreID: "store-123",
}

type signingKey struct {
	private jwk.Key
	public  jwk.Set
}

func newSigningKey(t *testing.T, kid string) signingKey {
	t.Helper()
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	private, err := jwk.FromRaw(raw)
	if err != nil {
		t.Fatalf("wrapping key: %v", err)
	}
	private.Set(jwk.KeyIDKey, kid)
	private.Set(jwk.AlgorithmKey, jwa.RS256)
	public, err := private.PublicKey()
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	set := jwk.NewSet()
	set.AddKey(public)
	return signingKey{private: private, public: set}
}

func signToken(t *testing.T, key signingKey, mutate func(b *jwt.Builder)) string {
	t.Helper()
	b := jwt.NewBuilder().
		Issuer(testConfig.Issuer()).
		Audience([]string{testConfig.ClientID}).
		Expiration(time.Now().Add(time.Hour)).
		IssuedAt(time.Now()).
		Claim("cognito:username", "alice").
		Claim("cognito:groups", []string{"Admin"}).
		Claim("custom:department", "engineering").
		Claim("custom:dataProductAccess", "sales-data")
	if mutate != nil {
		mutate(b)
	}
	tok, err := b.Build()
	if err != nil {
		t.Fatalf("building token: %v", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key.private))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return string(signed)
}

// staticKeySource serves a fixed set; Refresh swaps to the rotated set when
// one is configured.
type staticKeySource struct {
	current  jwk.Set
	rotated  jwk.Set
	refreshN int
}

func (s *staticKeySource) Get(context.Context) (jwk.Set, error) { return s.current, nil }

func (s *staticKeySource) Refresh(context.Context) (jwk.Set, error) {
	s.refreshN++
	if s.rotated != nil {
		s.current = s.rotated
	}
	return s.current, nil
}

type fakeDecider struct {
	in       *vpapi.IsAuthorizedInput
	decision vpapiTypes.Decision
	err      error
	calls    int
}

func (f *fakeDecider) IsAuthorized(_ context.Context, in *vpapi.IsAuthorizedInput, _ ...func(*vpapi.Options)) (*vpapi.IsAuthorizedOutput, error) {
	f.calls++
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &vpapi.IsAuthorizedOutput{Decision: f.decision}, nil
}

func request(token string) events.APIGatewayCustomAuthorizerRequest {
	return events.APIGatewayCustomAuthorizerRequest{
		Type:               "TOKEN",
		AuthorizationToken: "Bearer " + token,
		MethodArn:          "arn:aws:execute-api:us-east-1:123456789012:api-id/prod/GET/hello",
	}
}

func TestAuthorize_Allow(t *testing.T) {
	t.Parallel()
	key := newSigningKey(t, "k1")
	vp := &fakeDecider{decision: vpapiTypes.DecisionAllow}
	a := New(testConfig, &staticKeySource{current: key.public}, vp, nil)

	resp := a.Authorize(context.Background(), request(signToken(t, key, nil)))
	if resp.PrincipalID != "alice" {
		t.Fatalf("PrincipalID = %q", resp.PrincipalID)
	}
	if got := resp.PolicyDocument.Statement[0].Effect; got != "Allow" {
		t.Fatalf("Effect = %q", got)
	}
	if got := resp.Context["username"]; got != "alice" {
		t.Fatalf("context username = %v", got)
	}

	in := vp.in
	if *in.PolicyStoreId != "store-123" {
		t.Fatalf("PolicyStoreId = %q", *in.PolicyStoreId)
	}
	if *in.Principal.EntityType != "ExampleCo::Connectiv::User" || *in.Principal.EntityId != "alice" {
		t.Fatalf("principal = %s::%s", *in.Principal.EntityType, *in.Principal.EntityId)
	}
	if *in.Action.ActionId != "access" || *in.Resource.EntityId != "my-resource" {
		t.Fatalf("action/resource = %s / %s", *in.Action.ActionId, *in.Resource.EntityId)
	}
	entities := in.Entities.(*vpapiTypes.EntitiesDefinitionMemberEntityList).Value
	attrs := entities[0].Attributes
	if got := attrs["group"].(*vpapiTypes.AttributeValueMemberString).Value; got != "Admin" {
		t.Fatalf("group attribute = %q", got)
	}
	if got := attrs["department"].(*vpapiTypes.AttributeValueMemberString).Value; got != "engineering" {
		t.Fatalf("custom prefix must be stripped; department = %q", got)
	}
}

func TestAuthorize_DenyDecision(t *testing.T) {
	t.Parallel()
	key := newSigningKey(t, "k1")
	vp := &fakeDecider{decision: vpapiTypes.DecisionDeny}
	a := New(testConfig, &staticKeySource{current: key.public}, vp, nil)

	resp := a.Authorize(context.Background(), request(signToken(t, key, nil)))
	if got := resp.PolicyDocument.Statement[0].Effect; got != "Deny" {
		t.Fatalf("Effect = %q", got)
	}
	if resp.PrincipalID != "alice" {
		t.Fatalf("PrincipalID = %q; the principal is known even when denied", resp.PrincipalID)
	}
}

func TestAuthorize_BadToken(t *testing.T) {
	t.Parallel()
	key := newSigningKey(t, "k1")
	other := newSigningKey(t, "k2")
	vp := &fakeDecider{decision: vpapiTypes.DecisionAllow}

	cases := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong signer", signToken(t, other, nil)},
		{"wrong audience", signToken(t, key, func(b *jwt.Builder) { b.Audience([]string{"someone-else"}) })},
		{"wrong issuer", signToken(t, key, func(b *jwt.Builder) { b.Issuer("https://evil.example.com") })},
		{"expired", signToken(t, key, func(b *jwt.Builder) { b.Expiration(time.Now().Add(-time.Hour)) })},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := New(testConfig, &staticKeySource{current: key.public}, vp, nil)
			resp := a.Authorize(context.Background(), request(tc.token))
			if got := resp.PolicyDocument.Statement[0].Effect; got != "Deny" {
				t.Fatalf("Effect = %q, want Deny", got)
			}
			if resp.PrincipalID != "unknown" {
				t.Fatalf("PrincipalID = %q, want unknown", resp.PrincipalID)
			}
		})
	}
}

func TestAuthorize_KeyRotationRetry(t *testing.T) {
	t.Parallel()
	old := newSigningKey(t, "k-old")
	rotated := newSigningKey(t, "k-new")
	source := &staticKeySource{current: old.public, rotated: rotated.public}
	vp := &fakeDecider{decision: vpapiTypes.DecisionAllow}
	a := New(testConfig, source, vp, nil)

	resp := a.Authorize(context.Background(), request(signToken(t, rotated, nil)))
	if got := resp.PolicyDocument.Statement[0].Effect; got != "Allow" {
		t.Fatalf("Effect = %q; rotation should recover after one refresh", got)
	}
	if source.refreshN != 1 {
		t.Fatalf("refresh count = %d, want 1", source.refreshN)
	}
}

func TestAuthorize_NoRefetchForDeterministicFailures(t *testing.T) {
	t.Parallel()
	key := newSigningKey(t, "k1")
	vp := &fakeDecider{decision: vpapiTypes.DecisionAllow}

	cases := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"expired", signToken(t, key, func(b *jwt.Builder) { b.Expiration(time.Now().Add(-time.Hour)) })},
		{"wrong audience", signToken(t, key, func(b *jwt.Builder) { b.Audience([]string{"someone-else"}) })},
		{"wrong issuer", signToken(t, key, func(b *jwt.Builder) { b.Issuer("https://evil.example.com") })},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			source := &staticKeySource{current: key.public}
			a := New(testConfig, source, vp, nil)
			resp := a.Authorize(context.Background(), request(tc.token))
			if got := resp.PolicyDocument.Statement[0].Effect; got != "Deny" {
				t.Fatalf("Effect = %q, want Deny", got)
			}
			// Only a key lookup miss may re-fetch the JWKS.
			if source.refreshN != 0 {
				t.Fatalf("refresh count = %d, want 0", source.refreshN)
			}
		})
	}
}

func TestAuthorize_PolicyEngineFailure(t *testing.T) {
	t.Parallel()
	key := newSigningKey(t, "k1")
	vp := &fakeDecider{err: errors.New("ThrottlingException")}
	a := New(testConfig, &staticKeySource{current: key.public}, vp, nil)

	resp := a.Authorize(context.Background(), request(signToken(t, key, nil)))
	if got := resp.PolicyDocument.Statement[0].Effect; got != "Deny" {
		t.Fatalf("Effect = %q; engine failure must deny", got)
	}
}

func TestAuthorize_ClaimFallbacks(t *testing.T) {
	t.Parallel()
	key := newSigningKey(t, "k1")
	vp := &fakeDecider{decision: vpapiTypes.DecisionDeny}
	a := New(testConfig, &staticKeySource{current: key.public}, vp, nil)

	token := signToken(t, key, func(b *jwt.Builder) {
		b.Claim("cognito:username", "").Claim("cognito:groups", []string{})
	})
	resp := a.Authorize(context.Background(), request(token))
	if resp.PrincipalID != "unknown" {
		t.Fatalf("PrincipalID = %q, want unknown fallback", resp.PrincipalID)
	}
	entities := vp.in.Entities.(*vpapiTypes.EntitiesDefinitionMemberEntityList).Value
	if got := entities[0].Attributes["group"].(*vpapiTypes.AttributeValueMemberString).Value; got != "Unknown" {
		t.Fatalf("group = %q, want Unknown fallback", got)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("USER_POOL_ID", "us-east-1_pool")
	t.Setenv("CLIENT_ID", "client")
	t.Setenv("POLICY_STORE_ID", "store")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Issuer() != "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_pool" {
		t.Fatalf("Issuer = %q", cfg.Issuer())
	}
	if cfg.JWKSURL() != cfg.Issuer()+"/.well-known/jwks.json" {
		t.Fatalf("JWKSURL = %q", cfg.JWKSURL())
	}

	t.Setenv("POLICY_STORE_ID", "")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error for missing POLICY_STORE_ID")
	}
}
