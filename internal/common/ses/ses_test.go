package ses

import (
	"strings"
	"testing"
)

func TestValidateSesConfig_EmailIdentityMatch(t *testing.T) {
	t.Parallel()
	acc, ident, region, err := ValidateSesConfig("arn:aws:ses:us-east-1:123456789012:identity/sender@example.com", "sender@example.com", nil, "us-east-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc != "123456789012" || ident != "sender@example.com" || region != "us-east-1" {
		t.Fatalf("unexpected parsed values: %q %q %q", acc, ident, region)
	}
}

func TestValidateSesConfig_DomainIdentity(t *testing.T) {
	t.Parallel()
	reply := "support@example.com"
	if _, _, _, err := ValidateSesConfig("arn:aws:ses:us-east-1:123456789012:identity/example.com", "no-reply@mail.example.com", &reply, "us-east-1"); err != nil {
		t.Fatalf("subdomain address should validate: %v", err)
	}
}

func TestValidateSesConfig_Errors(t *testing.T) {
	t.Parallel()
	badReply := "not-an-email"
	cases := []struct {
		name      string
		sourceArn string
		from      string
		replyTo   *string
		region    string
		wantIn    string
	}{
		{
			name:      "malformed arn",
			sourceArn: "arn:aws:sns:us-east-1:123456789012:topic/x",
			from:      "sender@example.com",
			region:    "us-east-1",
			wantIn:    "must be an SES identity ARN",
		},
		{
			name:      "domain mismatch",
			sourceArn: "arn:aws:ses:us-east-1:123456789012:identity/example.com",
			from:      "nope@other.com",
			region:    "us-east-1",
			wantIn:    "must be an address within domain",
		},
		{
			name:      "email identity mismatch",
			sourceArn: "arn:aws:ses:us-east-1:123456789012:identity/sender@example.com",
			from:      "other@example.com",
			region:    "us-east-1",
			wantIn:    "must equal the SES email identity",
		},
		{
			name:      "bad reply-to",
			sourceArn: "arn:aws:ses:us-east-1:123456789012:identity/example.com",
			from:      "sender@example.com",
			replyTo:   &badReply,
			region:    "us-east-1",
			wantIn:    "replyToEmail must be a valid email address",
		},
		{
			name:      "in-region-only mismatch",
			sourceArn: "arn:aws:ses:us-east-1:123456789012:identity/example.com",
			from:      "sender@example.com",
			region:    "eu-north-1",
			wantIn:    "in-region-only",
		},
		{
			name:      "alternate-region mismatch",
			sourceArn: "arn:aws:ses:us-east-1:123456789012:identity/example.com",
			from:      "sender@example.com",
			region:    "ap-east-1",
			wantIn:    "must be ap-southeast-1",
		},
		{
			name:      "cross-region outside backwards-compatible set",
			sourceArn: "arn:aws:ses:eu-central-1:123456789012:identity/example.com",
			from:      "sender@example.com",
			region:    "us-east-2",
			wantIn:    "cross-region",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, _, _, err := ValidateSesConfig(tc.sourceArn, tc.from, tc.replyTo, tc.region)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantIn) {
				t.Fatalf("error %q does not mention %q", err, tc.wantIn)
			}
		})
	}
}

func TestValidateSesConfig_CrossRegionAllowed(t *testing.T) {
	t.Parallel()
	if _, _, _, err := ValidateSesConfig("arn:aws:ses:us-west-2:123456789012:identity/example.com", "sender@example.com", nil, "us-east-2"); err != nil {
		t.Fatalf("us-west-2 identity should serve us-east-2: %v", err)
	}
}
