// Package awssso implements the idp interfaces on AWS IAM Identity Center (SSO OIDC + SSO portal)
// and STS using aws-sdk-go-v2.
package awssso

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/deepskandpal/LangChef/internal/config"
	"github.com/deepskandpal/LangChef/internal/idp"
)

const (
	deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"
	publicClientType    = "public"
	defaultTimeout      = 15 * time.Second
)

// ErrNotConfigured is returned by New when the SSO start URL, account or role is missing.
var ErrNotConfigured = errors.New("awssso: AWS_SSO_START_URL, AWS_SSO_ACCOUNT_ID and AWS_SSO_ROLE_NAME must be set")

// Observer receives the latency and result of every remote call.
type Observer interface {
	ObserveProviderCall(ctx context.Context, operation string, d time.Duration, err error)
}

// Options tunes the client. Zero values are valid.
type Options struct {
	// BaseEndpoint overrides the endpoint of all three services (local stacks, tests).
	BaseEndpoint string
	Logger       *slog.Logger
	Observer     Observer
}

// Client implements idp.Provider and idp.IdentityLookup. It holds no per-login state.
type Client struct {
	oidc     *ssooidc.Client
	portal   *sso.Client
	sts      *sts.Client
	settings config.SSOSettings
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer
}

// LoadAWSConfig builds the base aws.Config for STS: explicit region, the ambient static
// credentials when configured, and no SDK retries.
func LoadAWSConfig(ctx context.Context, ambient config.AmbientCredentials) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(ambient.Region),
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if ambient.Configured() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ambient.AccessKeyID, ambient.SecretAccessKey, ambient.SessionToken)))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// New returns a Client. base supplies the STS region and ambient credentials; the SSO clients use
// settings.Region and send no SigV4 credentials.
func New(base aws.Config, settings config.SSOSettings, opts Options) (*Client, error) {
	if settings.StartURL == "" || settings.AccountID == "" || settings.RoleName == "" {
		return nil, ErrNotConfigured
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base.Retryer = func() aws.Retryer { return aws.NopRetryer{} }

	var endpoint *string
	if opts.BaseEndpoint != "" {
		endpoint = aws.String(opts.BaseEndpoint)
	}
	ssoRegion := settings.Region
	if ssoRegion == "" {
		ssoRegion = base.Region
	}
	return &Client{
		oidc: ssooidc.NewFromConfig(base, func(o *ssooidc.Options) {
			o.Region = ssoRegion
			o.Credentials = aws.AnonymousCredentials{}
			o.BaseEndpoint = endpoint
		}),
		portal: sso.NewFromConfig(base, func(o *sso.Options) {
			o.Region = ssoRegion
			o.Credentials = aws.AnonymousCredentials{}
			o.BaseEndpoint = endpoint
		}),
		sts: sts.NewFromConfig(base, func(o *sts.Options) {
			o.BaseEndpoint = endpoint
		}),
		settings: settings,
		timeout:  timeout,
		logger:   logger,
		observer: opts.Observer,
	}, nil
}

// RegisterClient registers a public OIDC client with scope openid.
func (c *Client) RegisterClient(ctx context.Context) (*idp.Client, error) {
	var out *ssooidc.RegisterClientOutput
	err := c.call(ctx, "register_client", func(ctx context.Context) (err error) {
		out, err = c.oidc.RegisterClient(ctx, &ssooidc.RegisterClientInput{
			ClientName: aws.String(c.settings.ClientName),
			ClientType: aws.String(publicClientType),
			Scopes:     []string{"openid"},
		})
		return err
	})
	if err != nil {
		return nil, providerErr("register client", err)
	}
	return &idp.Client{
		ID:        aws.ToString(out.ClientId),
		Secret:    aws.ToString(out.ClientSecret),
		ExpiresAt: time.Unix(out.ClientSecretExpiresAt, 0).UTC(),
	}, nil
}

// StartDeviceAuthorization starts a device authorization against the configured start URL.
func (c *Client) StartDeviceAuthorization(ctx context.Context, clientID, clientSecret string) (*idp.DeviceAuthorization, error) {
	var out *ssooidc.StartDeviceAuthorizationOutput
	err := c.call(ctx, "start_device_authorization", func(ctx context.Context) (err error) {
		out, err = c.oidc.StartDeviceAuthorization(ctx, &ssooidc.StartDeviceAuthorizationInput{
			ClientId:     aws.String(clientID),
			ClientSecret: aws.String(clientSecret),
			StartUrl:     aws.String(c.settings.StartURL),
		})
		return err
	})
	if err != nil {
		return nil, providerErr("start device authorization", err)
	}
	return &idp.DeviceAuthorization{
		DeviceCode:              aws.ToString(out.DeviceCode),
		UserCode:                aws.ToString(out.UserCode),
		VerificationURI:         aws.ToString(out.VerificationUri),
		VerificationURIComplete: aws.ToString(out.VerificationUriComplete),
		ExpiresIn:               time.Duration(out.ExpiresIn) * time.Second,
		Interval:                time.Duration(out.Interval) * time.Second,
	}, nil
}

// ExchangeDeviceCode performs one CreateToken attempt. On success it fetches the role credentials
// and resolves the principal with STS using those credentials. The SSO portal has no per-user
// profile, so the identity carries no email.
func (c *Client) ExchangeDeviceCode(ctx context.Context, clientID, clientSecret, deviceCode string) (*idp.Exchange, error) {
	var tok *ssooidc.CreateTokenOutput
	err := c.call(ctx, "create_token", func(ctx context.Context) (err error) {
		tok, err = c.oidc.CreateToken(ctx, &ssooidc.CreateTokenInput{
			ClientId:     aws.String(clientID),
			ClientSecret: aws.String(clientSecret),
			DeviceCode:   aws.String(deviceCode),
			GrantType:    aws.String(deviceCodeGrantType),
		})
		return err
	})
	if err != nil {
		if outcome, ok := classifyCreateTokenErr(err); ok {
			return &idp.Exchange{Outcome: outcome}, nil
		}
		return nil, providerErr("create token", err)
	}
	accessToken := aws.ToString(tok.AccessToken)

	creds, expiresAt, err := c.roleCredentials(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	principal, err := c.callerIdentity(ctx, &creds)
	if err != nil {
		return nil, providerErr("caller identity", err)
	}
	return &idp.Exchange{
		Outcome: idp.OutcomeAuthorized,
		Identity: &idp.DelegatedIdentity{
			Principal:   *principal,
			Credentials: creds,
			ExpiresAt:   expiresAt,
		},
	}, nil
}

// CallerIdentity implements idp.IdentityLookup with STS GetCallerIdentity.
func (c *Client) CallerIdentity(ctx context.Context, creds *idp.Credentials) (*idp.Principal, error) {
	p, err := c.callerIdentity(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", idp.ErrLookupFailed, describe(err))
	}
	return p, nil
}

func (c *Client) roleCredentials(ctx context.Context, accessToken string) (idp.Credentials, time.Time, error) {
	var out *sso.GetRoleCredentialsOutput
	err := c.call(ctx, "get_role_credentials", func(ctx context.Context) (err error) {
		out, err = c.portal.GetRoleCredentials(ctx, &sso.GetRoleCredentialsInput{
			AccessToken: aws.String(accessToken),
			AccountId:   aws.String(c.settings.AccountID),
			RoleName:    aws.String(c.settings.RoleName),
		})
		return err
	})
	if err != nil {
		return idp.Credentials{}, time.Time{}, providerErr("get role credentials", err)
	}
	rc := out.RoleCredentials
	if rc == nil || aws.ToString(rc.AccessKeyId) == "" || aws.ToString(rc.SecretAccessKey) == "" || aws.ToString(rc.SessionToken) == "" {
		return idp.Credentials{}, time.Time{}, fmt.Errorf("%w: get role credentials: incomplete credentials", idp.ErrProviderUnavailable)
	}
	creds := idp.Credentials{
		AccessKeyID:     aws.ToString(rc.AccessKeyId),
		SecretAccessKey: aws.ToString(rc.SecretAccessKey),
		SessionToken:    aws.ToString(rc.SessionToken),
	}
	return creds, time.UnixMilli(rc.Expiration).UTC(), nil
}

func (c *Client) callerIdentity(ctx context.Context, creds *idp.Credentials) (*idp.Principal, error) {
	var optFns []func(*sts.Options)
	if creds != nil {
		static := credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)
		optFns = append(optFns, func(o *sts.Options) { o.Credentials = static })
	}
	var out *sts.GetCallerIdentityOutput
	err := c.call(ctx, "get_caller_identity", func(ctx context.Context) (err error) {
		out, err = c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}, optFns...)
		return err
	})
	if err != nil {
		return nil, err
	}
	if aws.ToString(out.Arn) == "" {
		return nil, errors.New("empty caller identity")
	}
	return &idp.Principal{
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
		Account: aws.ToString(out.Account),
	}, nil
}

// call runs fn under the per-call timeout and reports it to the observer.
func (c *Client) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	if c.observer != nil {
		c.observer.ObserveProviderCall(ctx, operation, time.Since(start), err)
	}
	return err
}

var (
	_ idp.Provider       = (*Client)(nil)
	_ idp.IdentityLookup = (*Client)(nil)
)
