package adapters

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/rs/zerolog/log"
)

const bedrockSigningService = "bedrock"

// BedrockSigner handles AWS SigV4 request signing for Bedrock Runtime calls.
// Static keys from configuration take precedence; otherwise credentials come
// from the standard AWS credential chain (environment, shared credentials
// file, IAM roles).
type BedrockSigner struct {
	credentials aws.CredentialsProvider
	region      string
	signer      *v4.Signer
	configured  bool
}

// NewBedrockSigner creates a signer for the given region. Returns a non-nil
// signer even when no credentials are available (IsConfigured reports false).
func NewBedrockSigner(region, accessKeyID, secretAccessKey string) *BedrockSigner {
	if region == "" {
		region = "us-east-1"
	}

	bs := &BedrockSigner{
		region: region,
		signer: v4.NewSigner(),
	}

	if accessKeyID != "" && secretAccessKey != "" {
		bs.credentials = credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")
		bs.configured = true
		return bs
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load AWS config for Bedrock signer")
		return bs
	}

	creds, err := cfg.Credentials.Retrieve(context.Background())
	if err != nil || creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		log.Debug().Msg("no AWS credentials available for Bedrock signer")
		return bs
	}

	bs.credentials = cfg.Credentials
	bs.configured = true
	return bs
}

// IsConfigured returns true if credentials are available for signing.
func (bs *BedrockSigner) IsConfigured() bool {
	return bs.configured
}

// Region returns the configured AWS region.
func (bs *BedrockSigner) Region() string {
	return bs.region
}

// SignRequest signs a request with AWS SigV4 for the bedrock service. The
// request's URL and Host must already target the Bedrock endpoint; body is
// needed for the payload hash.
func (bs *BedrockSigner) SignRequest(ctx context.Context, req *http.Request, body []byte) error {
	if !bs.configured {
		return fmt.Errorf("bedrock signer not configured: no AWS credentials available")
	}

	creds, err := bs.credentials.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}

	payloadHash := fmt.Sprintf("%x", sha256.Sum256(body))

	err = bs.signer.SignHTTP(ctx, creds, req, payloadHash, bedrockSigningService, bs.region, time.Now())
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	return nil
}
