package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// cloudwatchAPI and ec2API are the slices of the AWS SDK the adapter uses.
// Interfaces so tests can stub them.
type cloudwatchAPI interface {
	GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
}

type ec2API interface {
	DescribeNatGateways(ctx context.Context, params *ec2.DescribeNatGatewaysInput, optFns ...func(*ec2.Options)) (*ec2.DescribeNatGatewaysOutput, error)
	DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
}

// AWSAdapter exposes CloudWatch metrics and VPC topology as catalog tools.
// Metric queries are cached for MetricCacheTTL: agents probing the same
// alarm in one cycle should not hammer CloudWatch.
type AWSAdapter struct {
	cw     cloudwatchAPI
	ec2    ec2API
	region string
	cache  *MetricCache
	logger *slog.Logger
}

// NewAWSAdapter resolves credentials from the standard AWS chain.
func NewAWSAdapter(ctx context.Context, region string) (*AWSAdapter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &AWSAdapter{
		cw:     cloudwatch.NewFromConfig(cfg),
		ec2:    ec2.NewFromConfig(cfg),
		region: region,
		cache:  NewMetricCache(MetricCacheTTL),
		logger: slog.Default().With("component", "aws-tools", "region", region),
	}, nil
}

// NewAWSAdapterWithClients is the test constructor.
func NewAWSAdapterWithClients(cw cloudwatchAPI, ec2c ec2API, region string) *AWSAdapter {
	return &AWSAdapter{
		cw:     cw,
		ec2:    ec2c,
		region: region,
		cache:  NewMetricCache(MetricCacheTTL),
		logger: slog.Default().With("component", "aws-tools", "region", region),
	}
}

// Register adds the AWS tools to the catalog.
func (a *AWSAdapter) Register(c *Catalog) {
	c.MustRegister(Descriptor{
		Name:         "cw_get_metric",
		Description:  "Fetch CloudWatch metric statistics over a lookback window. Results are cached for five minutes.",
		Category:     CategoryRead,
		TargetSystem: "aws",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"namespace":   {Type: "string", Description: "CloudWatch namespace, e.g. AWS/NATGateway"},
				"metric":      {Type: "string", Description: "Metric name, e.g. ErrorPortAllocation"},
				"dimensions":  {Type: "string", Description: "Comma-separated Name=Value dimension pairs"},
				"statistic":   {Type: "string", Description: "Statistic to fetch", Enum: []string{"Average", "Sum", "Maximum", "Minimum"}},
				"minutes":     {Type: "integer", Description: "Lookback window in minutes (default 60)"},
				"period_secs": {Type: "integer", Description: "Datapoint period in seconds (default 300)"},
			},
			Required: []string{"namespace", "metric"},
		},
	}, a.getMetric)

	c.MustRegister(Descriptor{
		Name:         "ec2_describe_nat",
		Description:  "Describe NAT gateways and their state.",
		Category:     CategoryRead,
		TargetSystem: "aws",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"vpc_id": {Type: "string", Description: "Restrict to one VPC"},
			},
		},
	}, a.describeNatGateways)

	c.MustRegister(Descriptor{
		Name:         "ec2_describe_vpcs",
		Description:  "Describe VPCs with CIDR blocks and state.",
		Category:     CategoryRead,
		TargetSystem: "aws",
		InputSchema:  &Schema{Properties: map[string]Property{}},
	}, a.describeVpcs)

	c.MustRegister(Descriptor{
		Name:         "ec2_describe_subnets",
		Description:  "Describe subnets with available IP counts.",
		Category:     CategoryRead,
		TargetSystem: "aws",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"vpc_id": {Type: "string", Description: "Restrict to one VPC"},
			},
		},
	}, a.describeSubnets)
}

func (a *AWSAdapter) getMetric(ctx context.Context, args map[string]any) (*Result, error) {
	namespace := StringArg(args, "namespace")
	metric := StringArg(args, "metric")
	statistic := StringArg(args, "statistic")
	if statistic == "" {
		statistic = "Average"
	}
	minutes := IntArg(args, "minutes", 60)
	period := IntArg(args, "period_secs", 300)
	dims, err := parseDimensions(StringArg(args, "dimensions"))
	if err != nil {
		return nil, err
	}

	// Window boundaries snap to the period so repeated probes within the
	// TTL share one cache key.
	end := time.Now().Truncate(time.Duration(period) * time.Second)
	start := end.Add(-time.Duration(minutes) * time.Minute)
	key := fmt.Sprintf("cw|%s|%s|%s|%s|%d|%d", namespace, metric, StringArg(args, "dimensions"), statistic, start.Unix(), end.Unix())

	if content, ok := a.cache.Get(key); ok {
		return &Result{Content: content, CacheHit: true}, nil
	}

	out, cwErr := a.cw.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(namespace),
		MetricName: aws.String(metric),
		Dimensions: dims,
		StartTime:  aws.Time(start),
		EndTime:    aws.Time(end),
		Period:     aws.Int32(int32(period)),
		Statistics: []cwtypes.Statistic{cwtypes.Statistic(statistic)},
	})
	if cwErr != nil {
		return nil, classifyAWSError(cwErr)
	}

	points := out.Datapoints
	sort.Slice(points, func(i, j int) bool {
		return aws.ToTime(points[i].Timestamp).Before(aws.ToTime(points[j].Timestamp))
	})

	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s (%s) over last %dm, %d datapoints\n", namespace, metric, statistic, minutes, len(points))
	for _, p := range points {
		fmt.Fprintf(&b, "%s %.4f %s\n",
			aws.ToTime(p.Timestamp).Format(time.RFC3339),
			datapointValue(p, statistic), string(p.Unit))
	}
	content := b.String()
	a.cache.Set(key, content)
	return TextResult(content), nil
}

func (a *AWSAdapter) describeNatGateways(ctx context.Context, args map[string]any) (*Result, error) {
	input := &ec2.DescribeNatGatewaysInput{}
	if vpc := StringArg(args, "vpc_id"); vpc != "" {
		input.Filter = []ec2types.Filter{{Name: aws.String("vpc-id"), Values: []string{vpc}}}
	}
	out, err := a.ec2.DescribeNatGateways(ctx, input)
	if err != nil {
		return nil, classifyAWSError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d NAT gateways in %s\n", len(out.NatGateways), a.region)
	for _, gw := range out.NatGateways {
		fmt.Fprintf(&b, "%s vpc=%s subnet=%s state=%s",
			aws.ToString(gw.NatGatewayId), aws.ToString(gw.VpcId),
			aws.ToString(gw.SubnetId), string(gw.State))
		if gw.FailureMessage != nil {
			fmt.Fprintf(&b, " failure=%q", aws.ToString(gw.FailureMessage))
		}
		b.WriteString("\n")
	}
	return TextResult(b.String()), nil
}

func (a *AWSAdapter) describeVpcs(ctx context.Context, _ map[string]any) (*Result, error) {
	out, err := a.ec2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{})
	if err != nil {
		return nil, classifyAWSError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d VPCs in %s\n", len(out.Vpcs), a.region)
	for _, vpc := range out.Vpcs {
		fmt.Fprintf(&b, "%s cidr=%s state=%s default=%t\n",
			aws.ToString(vpc.VpcId), aws.ToString(vpc.CidrBlock),
			string(vpc.State), aws.ToBool(vpc.IsDefault))
	}
	return TextResult(b.String()), nil
}

func (a *AWSAdapter) describeSubnets(ctx context.Context, args map[string]any) (*Result, error) {
	input := &ec2.DescribeSubnetsInput{}
	if vpc := StringArg(args, "vpc_id"); vpc != "" {
		input.Filters = []ec2types.Filter{{Name: aws.String("vpc-id"), Values: []string{vpc}}}
	}
	out, err := a.ec2.DescribeSubnets(ctx, input)
	if err != nil {
		return nil, classifyAWSError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d subnets in %s\n", len(out.Subnets), a.region)
	for _, sn := range out.Subnets {
		fmt.Fprintf(&b, "%s vpc=%s az=%s cidr=%s available_ips=%d\n",
			aws.ToString(sn.SubnetId), aws.ToString(sn.VpcId),
			aws.ToString(sn.AvailabilityZone), aws.ToString(sn.CidrBlock),
			aws.ToInt32(sn.AvailableIpAddressCount))
	}
	return TextResult(b.String()), nil
}

// NatEgressSummary returns per-gateway outbound byte totals over the
// window, one line per NAT gateway. Typed surface for traffic correlation;
// the tool handlers above serve the LLM.
func (a *AWSAdapter) NatEgressSummary(ctx context.Context, natIDs []string, window time.Duration) (string, error) {
	if len(natIDs) == 0 {
		return "", nil
	}
	end := time.Now().Truncate(5 * time.Minute)
	start := end.Add(-window)

	var b strings.Builder
	for _, id := range natIDs {
		out, err := a.cw.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
			Namespace:  aws.String("AWS/NATGateway"),
			MetricName: aws.String("BytesOutToDestination"),
			Dimensions: []cwtypes.Dimension{{Name: aws.String("NatGatewayId"), Value: aws.String(id)}},
			StartTime:  aws.Time(start),
			EndTime:    aws.Time(end),
			Period:     aws.Int32(int32(window.Seconds())),
			Statistics: []cwtypes.Statistic{cwtypes.StatisticSum},
		})
		if err != nil {
			return "", classifyAWSError(err)
		}
		var total float64
		for _, p := range out.Datapoints {
			total += aws.ToFloat64(p.Sum)
		}
		fmt.Fprintf(&b, "%s egress %.0f bytes over %s\n", id, total, window)
	}
	return b.String(), nil
}

func parseDimensions(raw string) ([]cwtypes.Dimension, *ToolError) {
	if raw == "" {
		return nil, nil
	}
	var dims []cwtypes.Dimension
	for _, pair := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" || value == "" {
			return nil, NewValidationError("bad dimension %q, expected Name=Value", pair)
		}
		dims = append(dims, cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)})
	}
	return dims, nil
}

func datapointValue(p cwtypes.Datapoint, statistic string) float64 {
	switch statistic {
	case "Sum":
		return aws.ToFloat64(p.Sum)
	case "Maximum":
		return aws.ToFloat64(p.Maximum)
	case "Minimum":
		return aws.ToFloat64(p.Minimum)
	default:
		return aws.ToFloat64(p.Average)
	}
}

func classifyAWSError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequestsException":
			return NewThrottledError("%s", apiErr.ErrorMessage())
		case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation", "ExpiredToken":
			return NewUnauthorizedError("%s", apiErr.ErrorMessage())
		case "ResourceNotFound", "ResourceNotFoundException", "NatGatewayNotFound":
			return NewNotFoundError("%s", apiErr.ErrorMessage())
		case "ValidationError", "InvalidParameterValue", "InvalidParameterCombination":
			return NewValidationError("%s", apiErr.ErrorMessage())
		}
	}
	return AsToolError(err)
}
