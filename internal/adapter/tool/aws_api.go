package tool

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"go.opentelemetry.io/otel/trace"

	"lambda-agent/internal/domain"
	"lambda-agent/internal/infra/tracer"
)

// readOnlyPrefixes are the operation name prefixes aws_api accepts.
var readOnlyPrefixes = []string{"Describe", "Get", "List", "Query", "Scan", "Search", "Lookup", "BatchGet"}

var (
	servicePattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)
	operationPattern = regexp.MustCompile(`^[A-Z][A-Za-z0-9]{0,127}$`)
	regionPattern    = regexp.MustCompile(`^[a-z]{2}(-[a-z]+)+-\d{1,2}$`)
)

const maxAWSResponseSize = 1 << 20

// AWSAPITool calls AWS service APIs with SigV4-signed requests using the
// function's credentials. The read-only variant only accepts operations whose
// names start with one of readOnlyPrefixes.
type AWSAPITool struct {
	name     string
	readOnly bool
	cfg      aws.Config
	client   *http.Client
	signer   *v4.Signer
	endpoint func(service, region string) string
	now      func() time.Time
	logger   *slog.Logger
}

// NewAWSAPITool creates the read-only aws_api tool.
func NewAWSAPITool(cfg aws.Config, timeout time.Duration, logger *slog.Logger) *AWSAPITool {
	return newAWSTool("aws_api", true, cfg, timeout, logger)
}

// NewUseAWSTool creates use_aws, which also permits mutating operations.
func NewUseAWSTool(cfg aws.Config, timeout time.Duration, logger *slog.Logger) *AWSAPITool {
	return newAWSTool("use_aws", false, cfg, timeout, logger)
}

func newAWSTool(name string, readOnly bool, cfg aws.Config, timeout time.Duration, logger *slog.Logger) *AWSAPITool {
	return &AWSAPITool{
		name:     name,
		readOnly: readOnly,
		cfg:      cfg,
		client:   &http.Client{Timeout: timeout},
		signer:   v4.NewSigner(),
		endpoint: defaultAWSEndpoint,
		now:      time.Now,
		logger:   logger,
	}
}

func defaultAWSEndpoint(service, region string) string {
	return fmt.Sprintf("https://%s.%s.amazonaws.com/", service, region)
}

func (t *AWSAPITool) Name() string { return t.name }
func (t *AWSAPITool) Description() string {
	desc := "Call an AWS service API with the function's IAM credentials. " +
		"Use protocol 'json' with target_prefix for JSON services (e.g. DynamoDB_20120810 for dynamodb) " +
		"or 'query' with api_version for query services (e.g. 2011-06-15 for sts)."
	if t.readOnly {
		desc += " Only read-only operations (" + strings.Join(readOnlyPrefixes, ", ") + ") are allowed."
	}
	return desc
}

func (t *AWSAPITool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"service": {"type": "string", "description": "Endpoint prefix, e.g. dynamodb, sts, logs"},
				"operation": {"type": "string", "description": "API operation name, e.g. ListTables"},
				"region": {"type": "string", "description": "AWS region (default: the function's region)"},
				"protocol": {"type": "string", "enum": ["json", "query"], "description": "Wire protocol of the service (default: json)"},
				"target_prefix": {"type": "string", "description": "X-Amz-Target prefix for json services"},
				"json_version": {"type": "string", "enum": ["1.0", "1.1"], "description": "JSON protocol version (default: 1.1)"},
				"api_version": {"type": "string", "description": "API version for query services"},
				"signing_name": {"type": "string", "description": "SigV4 signing name when it differs from service"},
				"parameters": {"type": "object", "description": "Operation input parameters"}
			},
			"required": ["service", "operation"]
		}`),
	}
}

type awsAPIParams struct {
	Service      string         `json:"service"`
	Operation    string         `json:"operation"`
	Region       string         `json:"region,omitempty"`
	Protocol     string         `json:"protocol,omitempty"`
	TargetPrefix string         `json:"target_prefix,omitempty"`
	JSONVersion  string         `json:"json_version,omitempty"`
	APIVersion   string         `json:"api_version,omitempty"`
	SigningName  string         `json:"signing_name,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

type awsAPIResult struct {
	Service    string `json:"service"`
	Operation  string `json:"operation"`
	Region     string `json:"region"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`
	Response   any    `json:"response"`
}

func (t *AWSAPITool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool."+t.name, t.logger, params,
		func(ctx context.Context, span trace.Span, p awsAPIParams) (any, error) {
			if p.Protocol == "" {
				p.Protocol = "json"
			}
			if p.Region == "" {
				p.Region = t.cfg.Region
			}
			if err := ValidateAll(
				RequireFields("service", p.Service, "operation", p.Operation, "region", p.Region),
				ValidateEnum("protocol", p.Protocol, "json", "query"),
				ValidateEnum("json_version", p.JSONVersion, "1.0", "1.1"),
			); err != nil {
				return ErrResult("%v", err)
			}
			if !servicePattern.MatchString(p.Service) || (p.SigningName != "" && !servicePattern.MatchString(p.SigningName)) {
				return ErrResult("invalid service name %q", p.Service)
			}
			if !operationPattern.MatchString(p.Operation) {
				return ErrResult("invalid operation name %q", p.Operation)
			}
			if !regionPattern.MatchString(p.Region) {
				return ErrResult("invalid region %q", p.Region)
			}
			if t.readOnly && !isReadOnlyOperation(p.Operation) {
				return nil, domain.NewDomainError(t.name, domain.ErrOperationNotAllowed,
					fmt.Sprintf("%s is not a read-only operation (allowed prefixes: %s)",
						p.Operation, strings.Join(readOnlyPrefixes, ", ")))
			}

			span.SetAttributes(
				tracer.StringAttr("aws.service", p.Service),
				tracer.StringAttr("aws.operation", p.Operation),
				tracer.StringAttr("aws.region", p.Region),
			)

			req, err := t.buildRequest(ctx, p)
			if err != nil {
				return ErrResult("%v", err)
			}
			if err := t.sign(ctx, req, p); err != nil {
				return nil, err
			}

			resp, err := t.client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", p.Service, p.Operation, err)
			}
			defer resp.Body.Close()

			raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAWSResponseSize))
			if err != nil {
				return nil, fmt.Errorf("read response: %w", err)
			}
			span.SetAttributes(tracer.IntAttr("http.status_code", resp.StatusCode))

			if resp.StatusCode >= 400 {
				return nil, fmt.Errorf("%s %s failed with HTTP %d: %s",
					p.Service, p.Operation, resp.StatusCode, strings.TrimSpace(string(raw)))
			}
			t.logger.Debug("aws api call completed",
				"tool", t.name, "service", p.Service, "operation", p.Operation, "status", resp.StatusCode)

			return awsAPIResult{
				Service:    p.Service,
				Operation:  p.Operation,
				Region:     p.Region,
				StatusCode: resp.StatusCode,
				RequestID:  firstHeader(resp.Header, "X-Amzn-Requestid", "X-Amz-Request-Id"),
				Response:   decodeBody(raw),
			}, nil
		},
	)
}

func (t *AWSAPITool) buildRequest(ctx context.Context, p awsAPIParams) (*http.Request, error) {
	var (
		body        []byte
		contentType string
	)
	switch p.Protocol {
	case "json":
		if p.TargetPrefix == "" {
			return nil, fmt.Errorf("'target_prefix' is required for the json protocol")
		}
		payload := p.Parameters
		if payload == nil {
			payload = map[string]any{}
		}
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encode parameters: %v", err)
		}
		version := p.JSONVersion
		if version == "" {
			version = "1.1"
		}
		contentType = "application/x-amz-json-" + version
	case "query":
		if p.APIVersion == "" {
			return nil, fmt.Errorf("'api_version' is required for the query protocol")
		}
		form := url.Values{}
		form.Set("Action", p.Operation)
		form.Set("Version", p.APIVersion)
		flattenQuery(form, "", p.Parameters, p.Service == "ec2")
		body = []byte(form.Encode())
		contentType = "application/x-www-form-urlencoded; charset=utf-8"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint(p.Service, p.Region), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	if p.Protocol == "json" {
		req.Header.Set("X-Amz-Target", p.TargetPrefix+"."+p.Operation)
	}
	return req, nil
}

func (t *AWSAPITool) sign(ctx context.Context, req *http.Request, p awsAPIParams) error {
	if t.cfg.Credentials == nil {
		return domain.NewDomainError(t.name, domain.ErrAuthInvalid, "no AWS credentials configured")
	}
	creds, err := t.cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return domain.NewDomainError(t.name, domain.ErrAuthInvalid, err.Error())
	}

	var payload []byte
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return fmt.Errorf("read request body: %w", err)
		}
		payload, _ = io.ReadAll(rc)
		rc.Close()
	}
	sum := sha256.Sum256(payload)

	signingName := p.SigningName
	if signingName == "" {
		signingName = p.Service
	}
	return t.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), signingName, p.Region, t.now())
}

func isReadOnlyOperation(op string) bool {
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(op, prefix) {
			return true
		}
	}
	return false
}

// flattenQuery serializes nested parameters the way AWS query services expect:
// maps become Key.Sub, lists become Key.member.N (Key.N for EC2).
func flattenQuery(form url.Values, prefix string, v any, ec2 bool) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenQuery(form, join(k), x[k], ec2)
		}
	case []any:
		for i, e := range x {
			idx := strconv.Itoa(i + 1)
			if ec2 {
				flattenQuery(form, join(idx), e, ec2)
			} else {
				flattenQuery(form, join("member."+idx), e, ec2)
			}
		}
	case nil:
	case string:
		form.Set(prefix, x)
	case float64:
		form.Set(prefix, strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		form.Set(prefix, strconv.FormatBool(x))
	default:
		form.Set(prefix, fmt.Sprint(x))
	}
}

func firstHeader(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return ""
}
